// Package attr implements the read-only Btrfs extended-attribute
// engine (spec.md §4.7): XATTR_ITEM lookup and enumeration keyed
// (inode, 24, CRC(name)) in the FS tree. Read-only on all three
// filesystems per spec.md §4.7 "in the code reviewed" — this package
// has no Set/Remove, matching that observed behavior rather than
// inventing a write path the original never exercised.
//
// Grounded on the teacher's lib/btrfs/btrfsitem decode-loop idiom for
// a leaf item's variable-length payload, the same shape btrfs/dir
// reuses for DIR_ITEM's name-hash collision chains — XATTR_ITEM packs
// entries back-to-back the identical way when two names collide.
package attr

import (
	"fmt"

	"github.com/vnodefs/vnodefs/btrfs/btree"
	"github.com/vnodefs/vnodefs/checksum"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

// Engine is the attribute engine bound to the FS tree holding an
// inode's XATTR_ITEM entries.
type Engine struct {
	Tree *btree.Tree
}

type decodedAttr struct {
	name string
	data []byte
}

func decodeChain(blob []byte) ([]decodedAttr, error) {
	var out []decodedAttr
	off := 0
	for off < len(blob) {
		var hdr obtrfs.DirItem
		consumed, err := binstruct.Unmarshal(blob[off:], &hdr)
		if err != nil {
			return nil, fserrors.New(fserrors.BadData, "attr.decodeChain", err)
		}
		off += consumed
		nameEnd := off + int(hdr.NameLen)
		dataEnd := nameEnd + int(hdr.DataLen)
		if dataEnd > len(blob) {
			return nil, fserrors.New(fserrors.BadData, "attr.decodeChain", fmt.Errorf("attribute entry overruns item payload"))
		}
		out = append(out, decodedAttr{name: string(blob[off:nameEnd]), data: append([]byte(nil), blob[nameEnd:dataEnd]...)})
		off = dataEnd
	}
	return out, nil
}

func xattrKey(inode uint64, crc uint32) obtrfs.Key {
	return obtrfs.Key{ObjectID: binstruct.U64le(inode), ItemType: binstruct.U8(obtrfs.ItemXattrItem), Offset: binstruct.U64le(crc)}
}

// Get resolves name's value on inode, hashing to an XATTR_ITEM key and
// linearly scanning its collision chain (spec.md §4.7 "lookup resolves
// to a header+entries region", §4.4's identical collision-chain
// pattern applied here to XATTR_ITEM).
func (e *Engine) Get(inode uint64, name string) ([]byte, bool, error) {
	crc := checksum.BtrfsNameHash([]byte(name))
	data, found, err := e.Tree.FindExact(xattrKey(inode, crc))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	chain, err := decodeChain(data)
	if err != nil {
		return nil, false, err
	}
	for _, a := range chain {
		if a.name == name {
			return a.data, true, nil
		}
	}
	return nil, false, nil
}

// List enumerates every attribute name on inode (spec.md §4.7
// "enumeration yields one name per call").
func (e *Engine) List(inode uint64) ([]string, error) {
	var names []string
	lowKey := obtrfs.Key{ObjectID: binstruct.U64le(inode), ItemType: binstruct.U8(obtrfs.ItemXattrItem)}
	highKey := obtrfs.Key{ObjectID: binstruct.U64le(inode), ItemType: binstruct.U8(obtrfs.ItemXattrItem), Offset: binstruct.U64le(obtrfs.MaxOffset)}
	err := e.Tree.ScanRange(lowKey, highKey, func(_ obtrfs.Key, data []byte) error {
		chain, derr := decodeChain(data)
		if derr != nil {
			return derr
		}
		for _, a := range chain {
			names = append(names, a.name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
