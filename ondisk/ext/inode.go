package ext

import "github.com/vnodefs/vnodefs/internal/binstruct"

// InodeNormalSize is the fixed on-disk inode record size for Ext2
// revision-0 filesystems (original_source/ext2/ext2.h
// EXT2_INODE_NORMAL_SIZE); dynamic-revision filesystems use
// Superblock.InodeSize instead, which may be larger to carry the
// extra-inode-size fields below.
const InodeNormalSize = 128

// InodeMaxLinks is the link-count ceiling past which this driver stops
// incrementing Inode.NumLinks and instead relies on the RO_DIR_NLINK
// feature's "link count is unknown, consult the directory's own
// subdirectory count" fallback (original_source EXT2_INODE_MAX_LINKS).
const InodeMaxLinks = 65000

// DirectBlocks is the number of direct block pointers in the legacy
// (non-extent) data stream.
const DirectBlocks = 12

// RootNodeID is the fixed inode number of the filesystem root
// directory (original_source EXT2_ROOT_NODE).
const RootNodeID = 2

// ShortSymlinkLength is the size of DataStream's 60-byte inline area;
// ext.Volume.CreateSymlink stores a target shorter than this inline
// instead of in a data block.
const ShortSymlinkLength = 60

// Inode flag bits (original_source/ext2/ext2.h).
const (
	InodeSecRM        uint32 = 0x00000001
	InodeUnRM         uint32 = 0x00000002
	InodeCompressed   uint32 = 0x00000004
	InodeSync         uint32 = 0x00000008
	InodeImmutable    uint32 = 0x00000010
	InodeAppend       uint32 = 0x00000020
	InodeNoDump       uint32 = 0x00000040
	InodeNoTime       uint32 = 0x00000080
	InodeIndexed      uint32 = 0x00001000
	InodeImagic       uint32 = 0x00002000
	InodeJournaled    uint32 = 0x00004000
	InodeNoTail       uint32 = 0x00008000
	InodeDirSync      uint32 = 0x00010000
	InodeTopDir       uint32 = 0x00020000
	InodeHugeFile     uint32 = 0x00040000
	InodeExtents      uint32 = 0x00080000
	InodeExtAttrs     uint32 = 0x00200000
	InodeEOFBlocks    uint32 = 0x00400000
	InodeInlineData   uint32 = 0x10000000
)

// DataStream is ext2_data_stream, the legacy (non-extent) Ext2/Ext3
// block-mapping body: twelve direct pointers followed by single,
// double, and triple indirect pointers (spec.md §4.2.5).
type DataStream struct {
	Direct          [DirectBlocks]binstruct.U32le `bin:"off=0x0,  siz=0x30"`
	Indirect        binstruct.U32le               `bin:"off=0x30, siz=0x4"`
	DoubleIndirect  binstruct.U32le               `bin:"off=0x34, siz=0x4"`
	TripleIndirect  binstruct.U32le               `bin:"off=0x38, siz=0x4"`
	binstruct.End   `bin:"off=0x3c"`
}

// Inode is ext2_inode's fixed 128-byte base record, unchanged in
// field order/width from original_source/ext2/ext2.h so that an
// InodeRecordSize()-sized read can be truncated to this prefix
// regardless of how much extra-inode-size tail follows.
//
// The trailing 60-byte "stream" union (DataStream ∪ ExtentStream ∪
// inline symlink target ∪ inline xattr/data) is decoded separately by
// the ext/legacy, ext/extent, and ext/attr packages once the caller
// has inspected Flags/Mode to know which interpretation applies —
// mirroring original_source's own union-of-byte-array modeling.
type Inode struct {
	Mode              binstruct.U16le    `bin:"off=0x0,  siz=0x2"`
	UID               binstruct.U16le    `bin:"off=0x2,  siz=0x2"`
	SizeLow           binstruct.U32le    `bin:"off=0x4,  siz=0x4"`
	AccessTime        binstruct.U32le    `bin:"off=0x8,  siz=0x4"`
	ChangeTime        binstruct.U32le    `bin:"off=0xc,  siz=0x4"`
	ModificationTime  binstruct.U32le    `bin:"off=0x10, siz=0x4"`
	DeletionTime      binstruct.U32le    `bin:"off=0x14, siz=0x4"`
	GID               binstruct.U16le    `bin:"off=0x18, siz=0x2"`
	NumLinks          binstruct.U16le    `bin:"off=0x1a, siz=0x2"`
	NumBlocks         binstruct.U32le    `bin:"off=0x1c, siz=0x4"`
	Flags             binstruct.U32le    `bin:"off=0x20, siz=0x4"`
	OSSpecific1       binstruct.U32le    `bin:"off=0x24, siz=0x4"`
	Stream            [60]byte           `bin:"off=0x28, siz=0x3c"`
	Generation        binstruct.U32le    `bin:"off=0x64, siz=0x4"`
	FileACL           binstruct.U32le    `bin:"off=0x68, siz=0x4"`
	SizeHigh          binstruct.U32le    `bin:"off=0x6c, siz=0x4"`
	FragmentAddress   binstruct.U32le    `bin:"off=0x70, siz=0x4"`
	OSSpecific2       [12]byte           `bin:"off=0x74, siz=0xc"`
	binstruct.End     `bin:"off=0x80"`
}

// ExtraInode is the Ext4 extra-inode-size extension that follows the
// 128-byte base record when Superblock.InodeSize > InodeNormalSize
// (original_source's ext2_inode extra fields, RO_EXTRA_ISIZE feature).
type ExtraInode struct {
	ExtraISize       binstruct.U16le `bin:"off=0x0,  siz=0x2"`
	ChecksumHi       binstruct.U16le `bin:"off=0x2,  siz=0x2"`
	ChangeTimeExtra  binstruct.U32le `bin:"off=0x4,  siz=0x4"`
	ModTimeExtra     binstruct.U32le `bin:"off=0x8,  siz=0x4"`
	AccessTimeExtra  binstruct.U32le `bin:"off=0xc,  siz=0x4"`
	CreationTime     binstruct.U32le `bin:"off=0x10, siz=0x4"`
	CreationTimeExtra binstruct.U32le `bin:"off=0x14, siz=0x4"`
	VersionHi        binstruct.U32le `bin:"off=0x18, siz=0x4"`
	ProjectID        binstruct.U32le `bin:"off=0x1c, siz=0x4"`
	binstruct.End    `bin:"off=0x20"`
}

// Size folds SizeHigh into SizeLow; HugeFile-flagged inodes additionally
// interpret the result as a block count rather than a byte count
// (spec.md §4.2's huge-file accounting), which callers check via
// HasFlag(InodeHugeFile) before calling Size.
func (i *Inode) Size() uint64 {
	return uint64(i.SizeLow) | uint64(i.SizeHigh)<<32
}

// SetSize splits a 64-bit size back into SizeLow/SizeHigh.
func (i *Inode) SetSize(size uint64) {
	i.SizeLow = binstruct.U32le(uint32(size))
	i.SizeHigh = binstruct.U32le(uint32(size >> 32))
}

// HasFlag reports whether every bit in flag is set in Flags.
func (i *Inode) HasFlag(flag uint32) bool {
	return uint32(i.Flags)&flag == flag
}

// IsExtentBased reports whether Stream holds an ext2_extent_stream
// rather than a legacy DataStream (spec.md §4.2.4 vs §4.2.5).
func (i *Inode) IsExtentBased() bool { return i.HasFlag(InodeExtents) }

// IsInline reports whether file data lives directly in Stream (and,
// for overflow, in the inode's trailing xattr region) rather than in
// any block-mapped extent (spec.md §4.7's inline-data supplement).
func (i *Inode) IsInline() bool { return i.HasFlag(InodeInlineData) }

// FileType bits for Mode's upper nibble, mirroring the standard POSIX
// S_IFMT values (original_source reuses sys/stat.h's constants here).
const (
	ModeFormatMask uint16 = 0xf000
	ModeFIFO       uint16 = 0x1000
	ModeCharDev    uint16 = 0x2000
	ModeDir        uint16 = 0x4000
	ModeBlockDev   uint16 = 0x6000
	ModeRegular    uint16 = 0x8000
	ModeSymlink    uint16 = 0xa000
	ModeSocket     uint16 = 0xc000
)
