package containers

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a generic wrapper around golang-lru's ARC cache, adapted
// from the teacher's lib/containers/lrucache.go. It backs the block
// cache's bounded second-level page cache (spec.md §4.6 "BlockCache
// adapter").
type LRUCache[K comparable, V any] struct {
	initOnce sync.Once
	size     int
	inner    *lru.ARCCache
}

// NewLRUCache returns a cache bounded to size entries. size<=0 defaults
// to 128.
func NewLRUCache[K comparable, V any](size int) *LRUCache[K, V] {
	c := &LRUCache[K, V]{size: size}
	return c
}

func (c *LRUCache[K, V]) init() {
	c.initOnce.Do(func() {
		n := c.size
		if n <= 0 {
			n = 128
		}
		c.inner, _ = lru.NewARC(n)
	})
}

func (c *LRUCache[K, V]) Add(key K, value V) {
	c.init()
	c.inner.Add(key, value)
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.init()
	v, ok := c.inner.Get(key)
	if ok {
		value = v.(V)
	}
	return value, ok
}

func (c *LRUCache[K, V]) Peek(key K) (value V, ok bool) {
	c.init()
	v, ok := c.inner.Peek(key)
	if ok {
		value = v.(V)
	}
	return value, ok
}

func (c *LRUCache[K, V]) Contains(key K) bool {
	c.init()
	return c.inner.Contains(key)
}

func (c *LRUCache[K, V]) Remove(key K) {
	c.init()
	c.inner.Remove(key)
}

func (c *LRUCache[K, V]) Len() int {
	c.init()
	return c.inner.Len()
}

func (c *LRUCache[K, V]) Purge() {
	c.init()
	c.inner.Purge()
}

// Keys returns every cached key in no particular order.
func (c *LRUCache[K, V]) Keys() []K {
	c.init()
	untyped := c.inner.Keys()
	typed := make([]K, len(untyped))
	for i := range untyped {
		typed[i] = untyped[i].(K)
	}
	return typed
}
