// Package ext models the on-disk structures of Ext2/Ext3/Ext4 (spec.md
// §4.1, §4.2.4, §4.2.5, §4.4, §4.5.1-.2, §4.6, §4.7): the primary
// superblock, the group descriptor table, the legacy/extent-tree inode
// bodies, directory entries, and journal records.
//
// Grounded on original_source/ext2/ext2.h's field layout (same struct
// order, same bit-flag values), re-expressed with the `binstruct`
// offset/size tags the way ondisk/btrfs's structures are, since this
// driver reads every on-disk record through the same `internal/binstruct`
// codec regardless of which filesystem owns it.
package ext

import "github.com/vnodefs/vnodefs/internal/binstruct"

// SuperblockOffset is the fixed byte offset of the primary superblock
// (original_source/ext2/ext2.h EXT2_SUPER_BLOCK_OFFSET).
const SuperblockOffset = 1024

// SuperblockMagic is the two-byte magic at Superblock.Magic.
const SuperblockMagic uint16 = 0xef53

// Superblock is ext2_super_block, unchanged in field order/width from
// original_source/ext2/ext2.h so offsets line up without any
// reinterpretation.
type Superblock struct {
	NumInodes           binstruct.U32le `bin:"off=0x0,   siz=0x4"`
	NumBlocks           binstruct.U32le `bin:"off=0x4,   siz=0x4"`
	ReservedBlocks      binstruct.U32le `bin:"off=0x8,   siz=0x4"`
	FreeBlocks          binstruct.U32le `bin:"off=0xc,   siz=0x4"`
	FreeInodes          binstruct.U32le `bin:"off=0x10,  siz=0x4"`
	FirstDataBlock      binstruct.U32le `bin:"off=0x14,  siz=0x4"`
	BlockShift          binstruct.U32le `bin:"off=0x18,  siz=0x4"`
	FragmentShift       binstruct.U32le `bin:"off=0x1c,  siz=0x4"`
	BlocksPerGroup      binstruct.U32le `bin:"off=0x20,  siz=0x4"`
	FragmentsPerGroup   binstruct.U32le `bin:"off=0x24,  siz=0x4"`
	InodesPerGroup      binstruct.U32le `bin:"off=0x28,  siz=0x4"`
	MountTime           binstruct.U32le `bin:"off=0x2c,  siz=0x4"`
	WriteTime           binstruct.U32le `bin:"off=0x30,  siz=0x4"`
	MountCount          binstruct.U16le `bin:"off=0x34,  siz=0x2"`
	MaxMountCount       binstruct.U16le `bin:"off=0x36,  siz=0x2"`
	Magic               binstruct.U16le `bin:"off=0x38,  siz=0x2"`
	State               binstruct.U16le `bin:"off=0x3a,  siz=0x2"`
	ErrorHandling       binstruct.U16le `bin:"off=0x3c,  siz=0x2"`
	MinorRevisionLevel  binstruct.U16le `bin:"off=0x3e,  siz=0x2"`
	LastCheckTime       binstruct.U32le `bin:"off=0x40,  siz=0x4"`
	CheckInterval       binstruct.U32le `bin:"off=0x44,  siz=0x4"`
	CreatorOS           binstruct.U32le `bin:"off=0x48,  siz=0x4"`
	RevisionLevel       binstruct.U32le `bin:"off=0x4c,  siz=0x4"`
	ReservedBlocksUID   binstruct.U16le `bin:"off=0x50,  siz=0x2"`
	ReservedBlocksGID   binstruct.U16le `bin:"off=0x52,  siz=0x2"`
	FirstInode          binstruct.U32le `bin:"off=0x54,  siz=0x4"`
	InodeSize           binstruct.U16le `bin:"off=0x58,  siz=0x2"`
	BlockGroup          binstruct.U16le `bin:"off=0x5a,  siz=0x2"`
	CompatibleFeatures  binstruct.U32le `bin:"off=0x5c,  siz=0x4"`
	IncompatibleFeatures binstruct.U32le `bin:"off=0x60, siz=0x4"`
	ReadOnlyFeatures    binstruct.U32le `bin:"off=0x64,  siz=0x4"`
	UUID                [16]byte        `bin:"off=0x68,  siz=0x10"`
	Name                [16]byte        `bin:"off=0x78,  siz=0x10"`
	LastMountPoint      [64]byte        `bin:"off=0x88,  siz=0x40"`
	AlgorithmUsageBitmap binstruct.U32le `bin:"off=0xc8, siz=0x4"`
	PreallocatedBlocks  binstruct.U8    `bin:"off=0xcc,  siz=0x1"`
	PreallocatedDirBlocks binstruct.U8  `bin:"off=0xcd,  siz=0x1"`
	ReservedGDTBlocks   binstruct.U16le `bin:"off=0xce,  siz=0x2"`
	JournalUUID         [16]byte        `bin:"off=0xd0,  siz=0x10"`
	JournalInode        binstruct.U32le `bin:"off=0xe0,  siz=0x4"`
	JournalDevice       binstruct.U32le `bin:"off=0xe4,  siz=0x4"`
	LastOrphan          binstruct.U32le `bin:"off=0xe8,  siz=0x4"`
	HashSeed            [4]binstruct.U32le `bin:"off=0xec, siz=0x10"`
	DefaultHashVersion  binstruct.U8    `bin:"off=0xfc,  siz=0x1"`
	Reserved1           binstruct.U8    `bin:"off=0xfd,  siz=0x1"`
	GroupDescriptorSize binstruct.U16le `bin:"off=0xfe,  siz=0x2"`
	DefaultMountOptions binstruct.U32le `bin:"off=0x100, siz=0x4"`
	FirstMetaBlockGroup binstruct.U32le `bin:"off=0x104, siz=0x4"`
	FSCreationTime      binstruct.U32le `bin:"off=0x108, siz=0x4"`
	JournalInodeBackup  [17]binstruct.U32le `bin:"off=0x10c, siz=0x44"`
	NumBlocksHigh       binstruct.U32le `bin:"off=0x150, siz=0x4"`
	ReservedBlocksHigh  binstruct.U32le `bin:"off=0x154, siz=0x4"`
	FreeBlocksHigh      binstruct.U32le `bin:"off=0x158, siz=0x4"`
	MinInodeSize        binstruct.U16le `bin:"off=0x15c, siz=0x2"`
	WantInodeSize       binstruct.U16le `bin:"off=0x15e, siz=0x2"`
	Flags               binstruct.U32le `bin:"off=0x160, siz=0x4"`
	binstruct.End       `bin:"off=0x164"`
}

// SizeOf(Superblock{}) is smaller than the 1024-byte reserved region
// this driver reads (original_source carries ~650 more bytes of
// reserved/RAID/MMP fields this driver never inspects); Mount reads a
// full 1024-byte block and only unmarshals the prefix this struct
// covers.
var SuperblockReservedSize = 1024

// Revision levels (original_source/ext2/ext2.h).
const (
	RevisionOld     = 0
	RevisionDynamic = 1
)

// Filesystem state bits.
const (
	StateValid  uint16 = 1
	StateError  uint16 = 2
	StateOrphan uint16 = 3
)

// Compatible feature bits.
const (
	FeatureCompatDirPrealloc  uint32 = 0x0001
	FeatureCompatImagicInodes uint32 = 0x0002
	FeatureCompatHasJournal   uint32 = 0x0004
	FeatureCompatExtAttr      uint32 = 0x0008
	FeatureCompatResizeInode  uint32 = 0x0010
	FeatureCompatDirIndex     uint32 = 0x0020
)

// Read-only-compatible feature bits.
const (
	FeatureROSparseSuper   uint32 = 0x0001
	FeatureROLargeFile     uint32 = 0x0002
	FeatureROBTreeDir      uint32 = 0x0004
	FeatureROHugeFile      uint32 = 0x0008
	FeatureROGDTChecksum   uint32 = 0x0010
	FeatureRODirNLink      uint32 = 0x0020
	FeatureROExtraISize    uint32 = 0x0040
)

// Incompatible feature bits.
const (
	FeatureIncompatCompression uint32 = 0x0001
	FeatureIncompatFileType    uint32 = 0x0002
	FeatureIncompatRecover     uint32 = 0x0004
	FeatureIncompatJournalDev  uint32 = 0x0008
	FeatureIncompatMetaGroup   uint32 = 0x0010
	FeatureIncompatExtents     uint32 = 0x0040
	FeatureIncompat64Bit       uint32 = 0x0080
	FeatureIncompatMMP         uint32 = 0x0100
	FeatureIncompatFlexGroup   uint32 = 0x0200
)

// knownIncompat mirrors spec.md §4.1 "Feature gating is absolute":
// every incompat bit this driver actually implements must be listed
// here, or Volume.Mount rejects the filesystem outright.
const knownIncompat = FeatureIncompatFileType | FeatureIncompatRecover |
	FeatureIncompatMetaGroup | FeatureIncompatExtents | FeatureIncompat64Bit |
	FeatureIncompatFlexGroup

// UnknownIncompat returns the subset of flags this driver doesn't
// understand, for Mount's absolute feature gate.
func UnknownIncompat(flags uint32) uint32 { return flags &^ knownIncompat }

// knownROCompat mirrors the same gate for a read-write mount.
const knownROCompat = FeatureROSparseSuper | FeatureROLargeFile | FeatureROHugeFile |
	FeatureROGDTChecksum | FeatureRODirNLink | FeatureROExtraISize

// UnknownROCompat returns the subset of read-only-incompat flags this
// driver doesn't understand; present only to reject a read-write
// mount (read-only mounts may proceed regardless, per spec.md §4.1).
func UnknownROCompat(flags uint32) uint32 { return flags &^ knownROCompat }

// BlockSize returns the filesystem's block size in bytes: 1024 << BlockShift.
func (s *Superblock) BlockSize() uint32 { return 1024 << uint32(s.BlockShift) }

// Has64Bit reports whether group descriptors carry the 64-bit
// high-word extension fields.
func (s *Superblock) Has64Bit() bool {
	return uint32(s.IncompatibleFeatures)&FeatureIncompat64Bit != 0
}

// GroupDescSize returns the on-disk group-descriptor record size:
// 64 bytes under the 64BIT feature, 32 otherwise.
func (s *Superblock) GroupDescSize() uint16 {
	if s.Has64Bit() && uint16(s.GroupDescriptorSize) != 0 {
		return uint16(s.GroupDescriptorSize)
	}
	return 32
}

// NumGroups returns the number of block groups covering the blocks
// from FirstDataBlock through NumBlocks.
func (s *Superblock) NumGroups() uint32 {
	blocks := s.TotalBlocks() - uint64(s.FirstDataBlock)
	perGroup := uint64(s.BlocksPerGroup)
	if perGroup == 0 {
		return 0
	}
	return uint32((blocks + perGroup - 1) / perGroup)
}

// TotalBlocks folds the 64-bit high word into NumBlocks when present.
func (s *Superblock) TotalBlocks() uint64 {
	n := uint64(s.NumBlocks)
	if s.Has64Bit() {
		n |= uint64(s.NumBlocksHigh) << 32
	}
	return n
}

// HasJournal reports whether the HAS_JOURNAL compat bit is set.
func (s *Superblock) HasJournal() bool {
	return uint32(s.CompatibleFeatures)&FeatureCompatHasJournal != 0
}

// HasExtents reports the EXTENTS incompat bit (Ext4 extent-tree inodes).
func (s *Superblock) HasExtents() bool {
	return uint32(s.IncompatibleFeatures)&FeatureIncompatExtents != 0
}

// HasDirIndex reports the DIR_INDEX compat bit (HTree directories).
func (s *Superblock) HasDirIndex() bool {
	return uint32(s.CompatibleFeatures)&FeatureCompatDirIndex != 0
}

// HasMetaGroupChecksum reports the GDT_CSUM/metadata_csum bit this
// driver treats as "group descriptors carry a CRC tail" (spec.md
// §4.4's "tail checksum if the meta-group-checksum feature is on").
func (s *Superblock) HasMetaGroupChecksum() bool {
	return uint32(s.ReadOnlyFeatures)&FeatureROGDTChecksum != 0
}

// InodeRecordSize returns the on-disk inode record size: the dynamic
// InodeSize field if the revision is dynamic, else the fixed
// 128-byte Ext2 size.
func (s *Superblock) InodeRecordSize() uint16 {
	if uint32(s.RevisionLevel) == RevisionOld {
		return InodeNormalSize
	}
	return uint16(s.InodeSize)
}
