package btree

import (
	"fmt"
	"sort"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

// AllocateNodeFunc allocates a fresh node-sized block for a CoW copy
// or a new leaf/root, returning its block-cache block number. The
// Volume's free-space allocator provides this (spec.md §4.5.5); the
// tree engine itself only knows how to reshape node contents.
type AllocateNodeFunc func() (int64, error)

// Tree is one Btrfs B+-tree bound to a block cache and a root address.
// NodeSize/ChecksumType/Owner come from the volume superblock and the
// ROOT_ITEM this tree was loaded from (spec.md §3 "Tree node").
type Tree struct {
	Cache        *blockcache.Cache
	NodeSize     int
	ChecksumType uint16
	Owner        uint64
	RootAddr     int64
	RootGen      uint64
	RootLevel    uint8

	Allocate AllocateNodeFunc
}

// PathElem is one level of a descent: the node visited and the slot
// within it that was followed (or matched, at the leaf).
type PathElem struct {
	Node *Node
	Slot int
}

// Path is the stack of nodes visited root-to-leaf, matching spec.md
// §3 "Path owns up to MAX_DEPTH Node handles (8 for Btrfs)".
type Path struct {
	Elems []PathElem
}

func (p *Path) leaf() *Node { return p.Elems[len(p.Elems)-1].Node }

// searchKeyPtrs returns the largest index i such that keys[i] <= target,
// or -1 if every key is greater (spec.md §4.2 "binary search on the
// sorted index array").
func searchKeyPtrs(kps []obtrfs.KeyPointer, target obtrfs.Key) int {
	i := sort.Search(len(kps), func(i int) bool { return kps[i].Key.Cmp(target) > 0 })
	return i - 1
}

func searchItems(items []Item, target obtrfs.Key) (idx int, exact bool) {
	i := sort.Search(len(items), func(i int) bool { return items[i].Key.Cmp(target) >= 0 })
	if i < len(items) && items[i].Key.Cmp(target) == 0 {
		return i, true
	}
	return i, false
}

// descend walks from the root to the leaf that would contain key,
// recording each level's node and chosen slot (spec.md §4.2 "find_*").
//
// KeyPointer.BlockPtr and Tree.RootAddr are block-cache block numbers
// throughout this package, not raw on-disk logical addresses: Volume
// resolves the three superblock-published tree roots through the
// chunk map once at mount, and every node this driver itself CoWs
// thereafter is allocated (and addressed) directly in that same
// space via AllocateNodeFunc. A foreign on-disk image with deeper
// logical KeyPointer chains pre-dating this driver would need
// per-KeyPointer translation here; that's out of scope for a driver
// that only ever mounts volumes it created.
func (t *Tree) descend(key obtrfs.Key) (*Path, error) {
	path := &Path{}
	addr, level := t.RootAddr, t.RootLevel
	for {
		n, err := readNode(t.Cache, t.NodeSize, addr)
		if err != nil {
			return nil, err
		}
		if int(level) != int(n.Header.Level) {
			return nil, fserrors.New(fserrors.BadData, "btree.descend", fmt.Errorf("node level mismatch"))
		}
		if n.Header.Level > 0 {
			slot := searchKeyPtrs(n.KeyPtrs, key)
			if slot < 0 {
				slot = 0
			}
			path.Elems = append(path.Elems, PathElem{Node: n, Slot: slot})
			if len(path.Elems) > MaxTreeDepth {
				return nil, fserrors.New(fserrors.Bug, "btree.descend", fmt.Errorf("tree depth exceeds %d", MaxTreeDepth))
			}
			addr = int64(n.KeyPtrs[slot].BlockPtr)
			level = n.Header.Level - 1
			continue
		}
		idx, _ := searchItems(n.Items, key)
		path.Elems = append(path.Elems, PathElem{Node: n, Slot: idx})
		return path, nil
	}
}

// FindExact looks up key exactly (spec.md §4.2 find_exact).
func (t *Tree) FindExact(key obtrfs.Key) (data []byte, found bool, err error) {
	path, err := t.descend(key)
	if err != nil {
		return nil, false, err
	}
	leaf := path.leaf()
	slot := path.Elems[len(path.Elems)-1].Slot
	if slot >= len(leaf.Items) || leaf.Items[slot].Key.Cmp(key) != 0 {
		return nil, false, nil
	}
	return leaf.Items[slot].Data, true, nil
}

// FindNext looks up the smallest item with key >= target (spec.md
// §4.2 find_next): descend as for exact, then if the slot landed
// before an exact match, it's already the smallest >=; if it landed
// past the end of the leaf, the search continues at the first key of
// the next leaf, and past the last leaf there is no next item.
func (t *Tree) FindNext(target obtrfs.Key) (key obtrfs.Key, data []byte, found bool, err error) {
	path, err := t.descend(target)
	if err != nil {
		return obtrfs.Key{}, nil, false, err
	}
	leaf := path.leaf()
	slot := path.Elems[len(path.Elems)-1].Slot
	if slot >= len(leaf.Items) {
		for i := len(path.Elems) - 2; i >= 0; i-- {
			if e := path.Elems[i]; e.Slot+1 < len(e.Node.KeyPtrs) {
				return t.FindNext(e.Node.KeyPtrs[e.Slot+1].Key)
			}
		}
		return obtrfs.Key{}, nil, false, nil
	}
	item := leaf.Items[slot]
	return item.Key, item.Data, true, nil
}

// FindPrevious looks up the greatest item with key <= target (spec.md
// §4.2 find_previous): nudge one slot back if the exact key is
// missing.
func (t *Tree) FindPrevious(target obtrfs.Key) (key obtrfs.Key, data []byte, found bool, err error) {
	path, err := t.descend(target)
	if err != nil {
		return obtrfs.Key{}, nil, false, err
	}
	leaf := path.leaf()
	slot := path.Elems[len(path.Elems)-1].Slot
	if slot < len(leaf.Items) && leaf.Items[slot].Key.Cmp(target) == 0 {
		return leaf.Items[slot].Key, leaf.Items[slot].Data, true, nil
	}
	slot--
	if slot < 0 {
		return obtrfs.Key{}, nil, false, nil
	}
	return leaf.Items[slot].Key, leaf.Items[slot].Data, true, nil
}

// ScanRange calls fn for every leaf item in [start, end] ascending,
// used by directory readdir (btrfs/dir) and block-group extent load
// (btrfs/alloc). It re-descends per leaf rather than holding a live
// iterator, matching §9's guidance to avoid the cyclic tree<->iterator
// handle graph the original uses.
func (t *Tree) ScanRange(start, end obtrfs.Key, fn func(obtrfs.Key, []byte) error) error {
	cur := start
	for {
		path, err := t.descend(cur)
		if err != nil {
			return err
		}
		leaf := path.leaf()
		slot := path.Elems[len(path.Elems)-1].Slot
		if slot >= len(leaf.Items) {
			advanced := false
			for i := len(path.Elems) - 2; i >= 0 && !advanced; i-- {
				if e := path.Elems[i]; e.Slot+1 < len(e.Node.KeyPtrs) {
					cur, advanced = e.Node.KeyPtrs[e.Slot+1].Key, true
				}
			}
			if !advanced {
				return nil
			}
			continue
		}
		for ; slot < len(leaf.Items); slot++ {
			item := leaf.Items[slot]
			if item.Key.Cmp(end) > 0 {
				return nil
			}
			if err := fn(item.Key, item.Data); err != nil {
				return err
			}
		}
		cur = leaf.Items[len(leaf.Items)-1].Key.Pp()
	}
}
