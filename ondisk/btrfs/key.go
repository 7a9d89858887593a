// Package btrfs holds the on-disk struct definitions for the Btrfs
// driver: the superblock, B-tree node header, the (object-id, type,
// offset) key triple, and the leaf item payloads named in spec.md §6's
// key-type table. Adapted from the teacher's btrfsprim/btrfstree/btrfsitem
// packages, merged into the single ondisk-layout home this module's
// package layout gives every filesystem (ondisk/ext, ondisk/iso9660 are
// its siblings).
package btrfs

import (
	"fmt"
	"math"

	"github.com/vnodefs/vnodefs/internal/binstruct"
)

// ItemType is the second field of a Key; spec.md §6's key-type table.
type ItemType uint8

const (
	ItemInodeItem     ItemType = 1
	ItemInodeRef      ItemType = 12
	ItemXattrItem     ItemType = 24
	ItemDirItem       ItemType = 84
	ItemDirIndex      ItemType = 96
	ItemExtentData    ItemType = 108
	ItemRootItem      ItemType = 132
	ItemExtentItem    ItemType = 168
	ItemMetadataItem  ItemType = 169
	ItemBlockGroup    ItemType = 192
	ItemChunkItem     ItemType = 228
	ItemMax           ItemType = 255
)

func (t ItemType) String() string {
	switch t {
	case ItemInodeItem:
		return "INODE_ITEM"
	case ItemInodeRef:
		return "INODE_REF"
	case ItemXattrItem:
		return "XATTR_ITEM"
	case ItemDirItem:
		return "DIR_ITEM"
	case ItemDirIndex:
		return "DIR_INDEX"
	case ItemExtentData:
		return "EXTENT_DATA"
	case ItemRootItem:
		return "ROOT_ITEM"
	case ItemExtentItem:
		return "EXTENT_ITEM"
	case ItemMetadataItem:
		return "METADATA_ITEM"
	case ItemBlockGroup:
		return "BLOCK_GROUP_ITEM"
	case ItemChunkItem:
		return "CHUNK_ITEM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

const (
	RootTreeObjectID  uint64 = 1
	ExtentTreeObjectID uint64 = 2
	ChunkTreeObjectID  uint64 = 3
	DevTreeObjectID    uint64 = 4
	FSTreeObjectID     uint64 = 5
	FirstFreeObjectID  uint64 = 256
	FirstChunkTreeObjectID uint64 = 256
)

const MaxOffset uint64 = math.MaxUint64

// Key is a Btrfs item key: (object-id, type, offset), compared as three
// unsigned fields in that order (spec.md §4.2.2).
type Key struct {
	ObjectID      binstruct.U64le `bin:"off=0x0, siz=0x8"`
	ItemType      binstruct.U8    `bin:"off=0x8, siz=0x1"`
	Offset        binstruct.U64le `bin:"off=0x9, siz=0x8"`
	binstruct.End `bin:"off=0x11"`
}

// MaxKey sorts after every valid key; used as an open upper bound in
// range scans.
var MaxKey = Key{ObjectID: math.MaxUint64, ItemType: math.MaxUint8, Offset: math.MaxUint64}

// Cmp implements containers.Ordered[Key] with lexicographic comparison
// over the unsigned triple.
func (a Key) Cmp(b Key) int {
	switch {
	case a.ObjectID != b.ObjectID:
		if a.ObjectID < b.ObjectID {
			return -1
		}
		return 1
	case a.ItemType != b.ItemType:
		if a.ItemType < b.ItemType {
			return -1
		}
		return 1
	case a.Offset != b.Offset:
		if a.Offset < b.Offset {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (k Key) String() string {
	return fmt.Sprintf("(%d %v %d)", uint64(k.ObjectID), ItemType(k.ItemType), uint64(k.Offset))
}

// Mm returns the key immediately preceding k in key order (used by
// "previous" tree walks to re-enter a subtree one slot back).
func (k Key) Mm() Key {
	switch {
	case k.Offset > 0:
		k.Offset--
	case k.ItemType > 0:
		k.ItemType--
		k.Offset = binstruct.U64le(MaxOffset)
	case k.ObjectID > 0:
		k.ObjectID--
		k.ItemType = binstruct.U8(ItemMax)
		k.Offset = binstruct.U64le(MaxOffset)
	}
	return k
}

// Pp returns the key immediately following k in key order.
func (k Key) Pp() Key {
	switch {
	case uint64(k.Offset) < MaxOffset:
		k.Offset++
	case uint8(k.ItemType) < uint8(ItemMax):
		k.ItemType++
		k.Offset = 0
	default:
		k.ObjectID++
		k.ItemType = 0
		k.Offset = 0
	}
	return k
}
