package btree

import (
	"fmt"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

// cowPath walks path from root to leaf, ensuring every node on it is
// owned by txn (spec.md §4.2.1 "the entire path from root down to the
// CoWed node consists of blocks owned by the current transaction").
// A node already dirty under txn is modified in place; otherwise a
// fresh block is allocated, the node's contents copied over, and the
// parent's key pointer re-targeted — recursing toward the root first
// (the description's "internal_copy... level > 0 => to root").
func (t *Tree) cowPath(txn blockcache.TxnID, path *Path) error {
	for i := 0; i < len(path.Elems); i++ {
		n := path.Elems[i].Node
		if t.Cache.HasBlockInTransaction(txn, n.Addr) {
			continue
		}
		newAddr, err := t.Allocate()
		if err != nil {
			return err
		}
		buf, err := t.Cache.GetWritable(txn, newAddr)
		if err != nil {
			return err
		}
		n.Header.Addr = binstruct.U64le(newAddr)
		n.Header.Generation = binstruct.U64le(txnGeneration(txn))
		encoded, err := encodeNode(n, t.ChecksumType)
		if err != nil {
			return err
		}
		copy(buf, encoded)
		n.Addr = newAddr
		path.Elems[i].Node = n

		if i == 0 {
			t.RootAddr = newAddr
		} else {
			parent := path.Elems[i-1].Node
			slot := path.Elems[i-1].Slot
			parent.KeyPtrs[slot].BlockPtr = binstruct.U64le(newAddr)
			parent.KeyPtrs[slot].Generation = binstruct.U64le(txnGeneration(txn))
		}
	}
	// Re-persist every ancestor whose key-pointer array changed as a
	// result of a child's re-point, even if the ancestor itself was
	// already CoWed earlier in this same transaction.
	for i := len(path.Elems) - 2; i >= 0; i-- {
		n := path.Elems[i].Node
		buf, err := t.Cache.GetWritable(txn, n.Addr)
		if err != nil {
			return err
		}
		encoded, err := encodeNode(n, t.ChecksumType)
		if err != nil {
			return err
		}
		copy(buf, encoded)
	}
	return nil
}

// txnGeneration derives a monotonic generation number from the txn id;
// real Btrfs generations come from the volume's commit counter, which
// the owning Volume stamps onto the Tree before each mutating call.
func txnGeneration(txn blockcache.TxnID) uint64 { return uint64(txn) }

// MakeEntries opens n empty leaf slots of total byte length `length`
// starting at the position where startKey would sort, after CoWing
// the descent path (spec.md §4.2 make_entries). It returns the leaf
// and the first open slot index.
func (t *Tree) MakeEntries(txn blockcache.TxnID, startKey obtrfs.Key, n int, length int) (*Node, int, error) {
	path, err := t.descend(startKey)
	if err != nil {
		return nil, 0, err
	}
	if err := t.cowPath(txn, path); err != nil {
		return nil, 0, err
	}
	leaf := path.leaf()
	if length >= leaf.spaceLeft() {
		return nil, 0, fserrors.New(fserrors.DeviceFull, "btree.MakeEntries", fmt.Errorf("leaf has no room for %d bytes", length))
	}
	slot, _ := searchItems(leaf.Items, startKey)
	placeholder := make([]Item, n)
	leaf.Items = append(leaf.Items[:slot:slot], append(placeholder, leaf.Items[slot:]...)...)
	return leaf, slot, nil
}

// InsertEntries lays down n entries (keys[i], data[i]) starting at
// startKey, CoWing and opening room via MakeEntries first (spec.md
// §4.2 insert_entries).
func (t *Tree) InsertEntries(txn blockcache.TxnID, keys []obtrfs.Key, datas [][]byte) error {
	if len(keys) != len(datas) || len(keys) == 0 {
		return fserrors.New(fserrors.BadValue, "btree.InsertEntries", fmt.Errorf("mismatched or empty entries"))
	}
	total := 0
	for _, d := range datas {
		total += obtrfs.ItemHeaderSize + len(d)
	}
	leaf, slot, err := t.MakeEntries(txn, keys[0], len(keys), total)
	if err != nil {
		return err
	}
	for i := range keys {
		leaf.Items[slot+i] = Item{Key: keys[i], Data: append([]byte(nil), datas[i]...)}
	}
	return t.persistLeaf(txn, leaf)
}

// RemoveEntries deletes the entries starting at startKey, copying each
// removed payload into sinks[i] if non-nil (spec.md §4.2 remove_entries).
func (t *Tree) RemoveEntries(txn blockcache.TxnID, startKey obtrfs.Key, count int, sinks [][]byte) error {
	path, err := t.descend(startKey)
	if err != nil {
		return err
	}
	leaf := path.leaf()
	slot := path.Elems[len(path.Elems)-1].Slot
	if slot >= len(leaf.Items) || leaf.Items[slot].Key.Cmp(startKey) != 0 {
		return fserrors.New(fserrors.EntryNotFound, "btree.RemoveEntries", fmt.Errorf("key %v not found", startKey))
	}
	if slot+count > len(leaf.Items) {
		return fserrors.New(fserrors.EntryNotFound, "btree.RemoveEntries", fmt.Errorf("range exceeds leaf contents"))
	}
	for i := 0; i < count; i++ {
		if sinks != nil && i < len(sinks) && sinks[i] != nil {
			copy(sinks[i], leaf.Items[slot+i].Data)
		}
	}
	if err := t.cowPath(txn, path); err != nil {
		return err
	}
	leaf = path.leaf()
	leaf.Items = append(leaf.Items[:slot], leaf.Items[slot+count:]...)
	return t.persistLeaf(txn, leaf)
}

func (t *Tree) persistLeaf(txn blockcache.TxnID, leaf *Node) error {
	leaf.Header.NumItems = binstruct.U32le(len(leaf.Items))
	buf, err := t.Cache.GetWritable(txn, leaf.Addr)
	if err != nil {
		return err
	}
	encoded, err := encodeNode(leaf, t.ChecksumType)
	if err != nil {
		return err
	}
	copy(buf, encoded)
	return nil
}
