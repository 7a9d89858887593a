package btrfs

import (
	"time"

	"github.com/vnodefs/vnodefs/internal/binstruct"
)

// InodeItem is the INODE_ITEM payload: the persistent inode record
// (spec.md §3 "Inode", ~160 bytes for Btrfs).
type InodeItem struct {
	Generation    binstruct.U64le `bin:"off=0x0,  siz=0x8"`
	TransID       binstruct.U64le `bin:"off=0x8,  siz=0x8"`
	Size          binstruct.U64le `bin:"off=0x10, siz=0x8"`
	NumBytes      binstruct.U64le `bin:"off=0x18, siz=0x8"`
	BlockGroup    binstruct.U64le `bin:"off=0x20, siz=0x8"`
	NumLinks      binstruct.U32le `bin:"off=0x28, siz=0x4"`
	UID           binstruct.U32le `bin:"off=0x2c, siz=0x4"`
	GID           binstruct.U32le `bin:"off=0x30, siz=0x4"`
	Mode          binstruct.U32le `bin:"off=0x34, siz=0x4"`
	RDev          binstruct.U64le `bin:"off=0x38, siz=0x8"`
	Flags         binstruct.U64le `bin:"off=0x40, siz=0x8"`
	Sequence      binstruct.U64le `bin:"off=0x48, siz=0x8"`
	Reserved      [32]byte        `bin:"off=0x50, siz=0x20"`
	ATime         TimeSpec        `bin:"off=0x70, siz=0xc"`
	CTime         TimeSpec        `bin:"off=0x7c, siz=0xc"`
	MTime         TimeSpec        `bin:"off=0x88, siz=0xc"`
	OTime         TimeSpec        `bin:"off=0x94, siz=0xc"`
	binstruct.End `bin:"off=0xa0"`
}

// TimeSpec is the (seconds, nanoseconds) pair used by every Btrfs
// timestamp field.
type TimeSpec struct {
	Sec           binstruct.I64le `bin:"off=0x0, siz=0x8"`
	NSec          binstruct.U32le `bin:"off=0x8, siz=0x4"`
	binstruct.End `bin:"off=0xc"`
}

// ToStd converts the on-disk (seconds, nanoseconds) pair to time.Time.
func (t TimeSpec) ToStd() time.Time {
	return time.Unix(int64(t.Sec), int64(t.NSec))
}

// InodeRef is the INODE_REF payload keyed (child-id, INODE_REF,
// parent-id): the back-reference a directory entry installs, carrying
// the child's name inline.
type InodeRef struct {
	Index         binstruct.U64le `bin:"off=0x0, siz=0x8"`
	NameLen       binstruct.U16le `bin:"off=0x8, siz=0x2"`
	binstruct.End `bin:"off=0xa"`
	// Name (NameLen bytes) immediately follows; not modelled as a
	// fixed field since binstruct structs are statically sized.
}

var InodeRefHeaderSize = binstruct.StaticSize(InodeRef{})

// DirEntryType mirrors the VFS file-type byte stored in DIR_ITEM/DIR_INDEX.
type DirEntryType uint8

const (
	FtUnknown DirEntryType = iota
	FtRegFile
	FtDir
	FtChrdev
	FtBlkdev
	FtFifo
	FtSock
	FtSymlink
	FtXattr
)

// DirItem is the fixed-size head of a DIR_ITEM/DIR_INDEX/XATTR_ITEM
// entry; Name and Data (len NameLen/DataLen) immediately follow,
// variable-length, so they aren't part of this binstruct-mapped head.
type DirItem struct {
	Location      Key             `bin:"off=0x0,  siz=0x11"`
	TransID       binstruct.U64le `bin:"off=0x11, siz=0x8"`
	DataLen       binstruct.U16le `bin:"off=0x19, siz=0x2"`
	NameLen       binstruct.U16le `bin:"off=0x1b, siz=0x2"`
	Type          binstruct.U8    `bin:"off=0x1d, siz=0x1"`
	binstruct.End `bin:"off=0x1e"`
}

var DirItemHeaderSize = binstruct.StaticSize(DirItem{})

// FileExtentType distinguishes the three EXTENT_DATA payload shapes.
type FileExtentType uint8

const (
	FileExtentInline FileExtentType = iota
	FileExtentReg
	FileExtentPrealloc
)

// FileExtentCompression names the compression applied to an
// out-of-line extent's stored bytes (spec.md §4.3 "optionally
// zlib-inflating").
type FileExtentCompression uint8

const (
	CompressionNone FileExtentCompression = iota
	CompressionZLIB
	CompressionLZO
	CompressionZSTD
)

// FileExtentItem is the EXTENT_DATA payload. For FileExtentInline the
// fixed fields below are followed by the inline bytes themselves
// (DiskByteNr/… are meaningless in that case); for Reg/Prealloc the
// fields describe the out-of-line extent.
type FileExtentItem struct {
	Generation     binstruct.U64le `bin:"off=0x0,  siz=0x8"`
	RAMBytes       binstruct.U64le `bin:"off=0x8,  siz=0x8"`
	Compression    binstruct.U8    `bin:"off=0x10, siz=0x1"`
	Encryption     binstruct.U8    `bin:"off=0x11, siz=0x1"`
	OtherEncoding  binstruct.U16le `bin:"off=0x12, siz=0x2"`
	Type           binstruct.U8    `bin:"off=0x14, siz=0x1"`
	DiskByteNr     binstruct.U64le `bin:"off=0x15, siz=0x8"`
	DiskNumBytes   binstruct.U64le `bin:"off=0x1d, siz=0x8"`
	Offset         binstruct.U64le `bin:"off=0x25, siz=0x8"`
	NumBytes       binstruct.U64le `bin:"off=0x2d, siz=0x8"`
	binstruct.End  `bin:"off=0x35"`
}

var FileExtentItemHeaderSize = binstruct.StaticSize(FileExtentItem{})

// RootItem is the ROOT_ITEM payload describing a subvolume/tree root
// (FS tree, extent tree, etc): its root-node address, level, and the
// embedded InodeItem for the subvolume's own root directory.
type RootItem struct {
	Inode          InodeItem       `bin:"off=0x0,   siz=0xa0"`
	Generation     binstruct.U64le `bin:"off=0xa0,  siz=0x8"`
	RootDirID      binstruct.U64le `bin:"off=0xa8,  siz=0x8"`
	ByteNr         binstruct.U64le `bin:"off=0xb0,  siz=0x8"`
	ByteLimit      binstruct.U64le `bin:"off=0xb8,  siz=0x8"`
	BytesUsed      binstruct.U64le `bin:"off=0xc0,  siz=0x8"`
	LastSnapshot   binstruct.U64le `bin:"off=0xc8,  siz=0x8"`
	Flags          binstruct.U64le `bin:"off=0xd0,  siz=0x8"`
	Refs           binstruct.U32le `bin:"off=0xd8,  siz=0x4"`
	DropProgress   Key             `bin:"off=0xdc,  siz=0x11"`
	DropLevel      binstruct.U8    `bin:"off=0xed,  siz=0x1"`
	Level          binstruct.U8    `bin:"off=0xee,  siz=0x1"`
	GenerationV2   binstruct.U64le `bin:"off=0xef,  siz=0x8"`
	UUID           [16]byte        `bin:"off=0xf7,  siz=0x10"`
	ParentUUID     [16]byte        `bin:"off=0x107, siz=0x10"`
	ReceivedUUID   [16]byte        `bin:"off=0x117, siz=0x10"`
	CTransID       binstruct.U64le `bin:"off=0x127, siz=0x8"`
	OTransID       binstruct.U64le `bin:"off=0x12f, siz=0x8"`
	STransID       binstruct.U64le `bin:"off=0x137, siz=0x8"`
	RTransID       binstruct.U64le `bin:"off=0x13f, siz=0x8"`
	CTime          TimeSpec        `bin:"off=0x147, siz=0xc"`
	OTime          TimeSpec        `bin:"off=0x153, siz=0xc"`
	STime          TimeSpec        `bin:"off=0x15f, siz=0xc"`
	RTime          TimeSpec        `bin:"off=0x16b, siz=0xc"`
	Reserved       [64]byte        `bin:"off=0x177, siz=0x40"`
	binstruct.End  `bin:"off=0x1b7"`
}

var RootItemSize = binstruct.StaticSize(RootItem{})

// ExtentItemFlags distinguishes data vs. tree-block (metadata)
// extents for the ExtentAllocator (spec.md §4.5.4/4.5.5).
type ExtentItemFlags uint64

const (
	ExtentFlagData     ExtentItemFlags = 1 << 0
	ExtentFlagTreeBlock ExtentItemFlags = 1 << 1
)

// ExtentItem is the EXTENT_ITEM/METADATA_ITEM fixed head; back-ref
// items of varying shape follow it and are not modelled here since
// this driver's allocator only needs refcount/flags to rebuild the
// cached-extent AVL, not full backref accounting (a Non-goal: this
// engine never does `btrfs balance`/backref walking for repair).
type ExtentItem struct {
	Refs          binstruct.U64le `bin:"off=0x0, siz=0x8"`
	Generation    binstruct.U64le `bin:"off=0x8, siz=0x8"`
	Flags         binstruct.U64le `bin:"off=0x10, siz=0x8"`
	binstruct.End `bin:"off=0x18"`
}

var ExtentItemSize = binstruct.StaticSize(ExtentItem{})

// BlockGroupItem is the BLOCK_GROUP_ITEM payload: a span's used-bytes
// count, chunk-tree backref objectid, and flags (data/metadata/system,
// RAID profile bits this driver never writes per the Non-goals list).
type BlockGroupItem struct {
	Used          binstruct.U64le `bin:"off=0x0,  siz=0x8"`
	ChunkObjectID binstruct.U64le `bin:"off=0x8,  siz=0x8"`
	Flags         binstruct.U64le `bin:"off=0x10, siz=0x8"`
	binstruct.End `bin:"off=0x18"`
}

var BlockGroupItemSize = binstruct.StaticSize(BlockGroupItem{})

// ChunkStripe is one physical placement of a chunk's logical range
// (single-device only in this driver; multi-device Btrfs is a
// spec.md §1 Non-goal, so StripeCount is always read back as 1).
type ChunkStripe struct {
	DeviceID      binstruct.U64le `bin:"off=0x0,  siz=0x8"`
	Offset        binstruct.U64le `bin:"off=0x8,  siz=0x8"`
	DeviceUUID    [16]byte        `bin:"off=0x10, siz=0x10"`
	binstruct.End `bin:"off=0x20"`
}

var ChunkStripeSize = binstruct.StaticSize(ChunkStripe{})

// ChunkItem is the CHUNK_ITEM fixed head; one ChunkStripe (StripeCount
// == 1 enforced by this driver) follows.
type ChunkItem struct {
	Size          binstruct.U64le `bin:"off=0x0,  siz=0x8"`
	RootObjectID  binstruct.U64le `bin:"off=0x8,  siz=0x8"`
	StripeLen     binstruct.U64le `bin:"off=0x10, siz=0x8"`
	Type          binstruct.U64le `bin:"off=0x18, siz=0x8"`
	IOAlign       binstruct.U32le `bin:"off=0x20, siz=0x4"`
	IOWidth       binstruct.U32le `bin:"off=0x24, siz=0x4"`
	SectorSize    binstruct.U32le `bin:"off=0x28, siz=0x4"`
	NumStripes    binstruct.U16le `bin:"off=0x2c, siz=0x2"`
	SubStripes    binstruct.U16le `bin:"off=0x2e, siz=0x2"`
	binstruct.End `bin:"off=0x30"`
}

var ChunkItemHeaderSize = binstruct.StaticSize(ChunkItem{})
