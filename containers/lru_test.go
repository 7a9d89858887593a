package containers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vnodefs/vnodefs/containers"
)

func TestLRUCacheAddGet(t *testing.T) {
	c := containers.NewLRUCache[int64, string](4)
	c.Add(int64(1), "one")
	c.Add(int64(2), "two")

	v, ok := c.Get(int64(1))
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	_, ok = c.Get(int64(99))
	assert.False(t, ok)
}

func TestLRUCacheContainsAndRemove(t *testing.T) {
	c := containers.NewLRUCache[int64, string](4)
	c.Add(int64(1), "one")
	assert.True(t, c.Contains(int64(1)))
	c.Remove(int64(1))
	assert.False(t, c.Contains(int64(1)))
}

func TestLRUCachePeekDoesNotPromote(t *testing.T) {
	c := containers.NewLRUCache[int64, string](4)
	c.Add(int64(1), "one")
	v, ok := c.Peek(int64(1))
	assert.True(t, ok)
	assert.Equal(t, "one", v)
}

func TestLRUCachePurgeAndLen(t *testing.T) {
	c := containers.NewLRUCache[int64, string](4)
	c.Add(int64(1), "one")
	c.Add(int64(2), "two")
	assert.Equal(t, 2, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRUCacheDefaultsWhenSizeNonPositive(t *testing.T) {
	c := containers.NewLRUCache[int64, string](0)
	c.Add(int64(1), "one")
	v, ok := c.Get(int64(1))
	assert.True(t, ok)
	assert.Equal(t, "one", v)
}

func TestLRUCacheKeys(t *testing.T) {
	c := containers.NewLRUCache[int64, string](4)
	c.Add(int64(1), "one")
	c.Add(int64(2), "two")
	keys := c.Keys()
	assert.ElementsMatch(t, []int64{1, 2}, keys)
}
