// Package dir implements the Btrfs directory engine (spec.md §4.4
// "Btrfs directory lookup"): DIR_ITEM lookup by name-CRC with linear
// collision-chain scanning, DIR_INDEX-ordered readdir, and the
// DIR_ITEM/DIR_INDEX half of make_reference (spec.md §4.3).
//
// Grounded on the teacher's lib/btrfs/btrfsitem.DirEntries (the
// variable-length collision-chain decode loop over one leaf item's
// payload) generalized from a read-only decoder into one that also
// encodes and upserts entries, since the teacher's driver never
// writes a Btrfs filesystem.
package dir

import (
	"fmt"

	"github.com/vnodefs/vnodefs/btrfs/btree"
	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/checksum"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

// Engine is the directory engine bound to the FS tree holding a
// subvolume's DIR_ITEM/DIR_INDEX/INODE_REF entries.
type Engine struct {
	Tree *btree.Tree
}

// Entry is one decoded directory member.
type Entry struct {
	Name     string
	Location obtrfs.Key
	Type     obtrfs.DirEntryType
}

type decodedItem struct {
	header obtrfs.DirItem
	name   string
	data   []byte
}

// decodeChain walks a DIR_ITEM/XATTR_ITEM leaf payload, which may hold
// more than one entry back-to-back when multiple names hash to the
// same CRC (spec.md §4.4 "iterate entries of equal hash comparing
// names linearly").
func decodeChain(blob []byte) ([]decodedItem, error) {
	var out []decodedItem
	off := 0
	for off < len(blob) {
		var hdr obtrfs.DirItem
		consumed, err := binstruct.Unmarshal(blob[off:], &hdr)
		if err != nil {
			return nil, fserrors.New(fserrors.BadData, "dir.decodeChain", err)
		}
		off += consumed
		nameEnd := off + int(hdr.NameLen)
		dataEnd := nameEnd + int(hdr.DataLen)
		if dataEnd > len(blob) {
			return nil, fserrors.New(fserrors.BadData, "dir.decodeChain", fmt.Errorf("entry overruns item payload"))
		}
		name := string(blob[off:nameEnd])
		data := append([]byte(nil), blob[nameEnd:dataEnd]...)
		out = append(out, decodedItem{header: hdr, name: name, data: data})
		off = dataEnd
	}
	return out, nil
}

func encodeChain(items []decodedItem) ([]byte, error) {
	var out []byte
	for _, it := range items {
		hdr := it.header
		hdr.NameLen = binstruct.U16le(len(it.name))
		hdr.DataLen = binstruct.U16le(len(it.data))
		hdrBytes, err := binstruct.Marshal(hdr)
		if err != nil {
			return nil, err
		}
		out = append(out, hdrBytes...)
		out = append(out, []byte(it.name)...)
		out = append(out, it.data...)
	}
	return out, nil
}

func dirItemKey(parent uint64, crc uint32) obtrfs.Key {
	return obtrfs.Key{ObjectID: binstruct.U64le(parent), ItemType: binstruct.U8(obtrfs.ItemDirItem), Offset: binstruct.U64le(crc)}
}

func dirIndexKey(parent uint64, index uint64) obtrfs.Key {
	return obtrfs.Key{ObjectID: binstruct.U64le(parent), ItemType: binstruct.U8(obtrfs.ItemDirIndex), Offset: binstruct.U64le(index)}
}

// Lookup resolves name inside parent, hashing to a DIR_ITEM key and
// linearly comparing every entry in its collision chain (spec.md
// §4.4).
func (e *Engine) Lookup(parent uint64, name string) (Entry, bool, error) {
	crc := checksum.BtrfsNameHash([]byte(name))
	data, found, err := e.Tree.FindExact(dirItemKey(parent, crc))
	if err != nil {
		return Entry{}, false, err
	}
	if !found {
		return Entry{}, false, nil
	}
	items, err := decodeChain(data)
	if err != nil {
		return Entry{}, false, err
	}
	for _, it := range items {
		if it.name == name {
			return Entry{Name: it.name, Location: it.header.Location, Type: obtrfs.DirEntryType(it.header.Type)}, true, nil
		}
	}
	return Entry{}, false, nil
}

// NextIndex returns the DIR_INDEX sequence number to use for the next
// entry inserted under parent: one past the greatest existing index,
// or 2 for an empty directory since indices 0 and 1 are reserved for
// the synthesised "." and ".." (spec.md §4.4 "DIR_INDEX sequence
// numbers strictly increasing").
func (e *Engine) NextIndex(parent uint64) (uint64, error) {
	key, _, found, err := e.Tree.FindPrevious(dirIndexKey(parent, obtrfs.MaxOffset))
	if err != nil {
		return 0, err
	}
	if !found || key.ItemType != binstruct.U8(obtrfs.ItemDirIndex) || key.ObjectID != binstruct.U64le(parent) {
		return 2, nil
	}
	return uint64(key.Offset) + 1, nil
}

// AddEntry inserts the DIR_ITEM and DIR_INDEX halves of
// make_reference (spec.md §4.3): a DIR_INDEX keyed by the next
// sequence number, and either a new DIR_ITEM or an appended entry in
// an existing one's collision chain.
func (e *Engine) AddEntry(txn blockcache.TxnID, parent uint64, child obtrfs.Key, name string, fileType obtrfs.DirEntryType) (index uint64, err error) {
	entry := decodedItem{
		header: obtrfs.DirItem{Location: child, Type: binstruct.U8(fileType)},
		name:   name,
	}

	crc := checksum.BtrfsNameHash([]byte(name))
	key := dirItemKey(parent, crc)
	existing, found, err := e.Tree.FindExact(key)
	if err != nil {
		return 0, err
	}
	var chain []decodedItem
	if found {
		chain, err = decodeChain(existing)
		if err != nil {
			return 0, err
		}
		for _, it := range chain {
			if it.name == name {
				return 0, fserrors.New(fserrors.BadValue, "dir.AddEntry", fmt.Errorf("entry %q already exists", name))
			}
		}
	}

	index, err = e.NextIndex(parent)
	if err != nil {
		return 0, err
	}
	indexBlob, err := encodeChain([]decodedItem{entry})
	if err != nil {
		return 0, err
	}
	if err := e.Tree.InsertEntries(txn, []obtrfs.Key{dirIndexKey(parent, index)}, [][]byte{indexBlob}); err != nil {
		return 0, err
	}

	chain = append(chain, entry)
	blob, err := encodeChain(chain)
	if err != nil {
		return 0, err
	}
	if found {
		if err := e.Tree.RemoveEntries(txn, key, 1, nil); err != nil {
			return 0, err
		}
	}
	if err := e.Tree.InsertEntries(txn, []obtrfs.Key{key}, [][]byte{blob}); err != nil {
		return 0, err
	}
	return index, nil
}

// RemoveEntry deletes name from parent's DIR_ITEM collision chain and
// its matching DIR_INDEX entry (spec.md §4.4 "Removal").
func (e *Engine) RemoveEntry(txn blockcache.TxnID, parent uint64, name string) error {
	crc := checksum.BtrfsNameHash([]byte(name))
	key := dirItemKey(parent, crc)
	existing, found, err := e.Tree.FindExact(key)
	if err != nil {
		return err
	}
	if !found {
		return fserrors.New(fserrors.EntryNotFound, "dir.RemoveEntry", fmt.Errorf("entry %q not found", name))
	}
	chain, err := decodeChain(existing)
	if err != nil {
		return err
	}
	remaining := chain[:0]
	var removedIndex uint64
	var foundIndex bool
	for _, it := range chain {
		if it.name == name {
			continue
		}
		remaining = append(remaining, it)
	}
	if len(remaining) == len(chain) {
		return fserrors.New(fserrors.EntryNotFound, "dir.RemoveEntry", fmt.Errorf("entry %q not found", name))
	}
	if err := e.Tree.RemoveEntries(txn, key, 1, nil); err != nil {
		return err
	}
	if len(remaining) > 0 {
		blob, err := encodeChain(remaining)
		if err != nil {
			return err
		}
		if err := e.Tree.InsertEntries(txn, []obtrfs.Key{key}, [][]byte{blob}); err != nil {
			return err
		}
	}

	lowKey := dirIndexKey(parent, 0)
	highKey := dirIndexKey(parent, obtrfs.MaxOffset)
	err = e.Tree.ScanRange(lowKey, highKey, func(k obtrfs.Key, data []byte) error {
		items, derr := decodeChain(data)
		if derr != nil {
			return derr
		}
		if len(items) == 1 && items[0].name == name {
			removedIndex = uint64(k.Offset)
			foundIndex = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if foundIndex {
		if err := e.Tree.RemoveEntries(txn, dirIndexKey(parent, removedIndex), 1, nil); err != nil {
			return err
		}
	}
	return nil
}

// ReadDir iterates entries in DIR_INDEX sequence order, synthesising
// "." and ".." as the first two entries (spec.md §4.4). parentOfParent
// is the object id ".." should resolve to (the FS-tree root's ".." is
// the subvolume's own parent object id, found via INODE_REF by the
// caller — this package only knows FS-tree-local structure).
func (e *Engine) ReadDir(parent, parentOfParent uint64, fn func(Entry, uint64) error) error {
	if err := fn(Entry{Name: ".", Location: obtrfs.Key{ObjectID: binstruct.U64le(parent)}, Type: obtrfs.FtDir}, 0); err != nil {
		return err
	}
	if err := fn(Entry{Name: "..", Location: obtrfs.Key{ObjectID: binstruct.U64le(parentOfParent)}, Type: obtrfs.FtDir}, 1); err != nil {
		return err
	}
	lowKey := dirIndexKey(parent, 2)
	highKey := dirIndexKey(parent, obtrfs.MaxOffset)
	return e.Tree.ScanRange(lowKey, highKey, func(key obtrfs.Key, data []byte) error {
		items, err := decodeChain(data)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := fn(Entry{Name: it.name, Location: it.header.Location, Type: obtrfs.DirEntryType(it.header.Type)}, uint64(key.Offset)); err != nil {
				return err
			}
		}
		return nil
	})
}
