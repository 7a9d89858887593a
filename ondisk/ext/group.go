package ext

import "github.com/vnodefs/vnodefs/internal/binstruct"

// GroupDesc is ext2_block_group, the 32-byte group descriptor record;
// under the 64BIT incompat feature it is followed immediately by a
// 32-byte high-word extension forming a 64-byte record (GroupDesc64).
type GroupDesc struct {
	BlockBitmapLow    binstruct.U32le `bin:"off=0x0,  siz=0x4"`
	InodeBitmapLow    binstruct.U32le `bin:"off=0x4,  siz=0x4"`
	InodeTableLow     binstruct.U32le `bin:"off=0x8,  siz=0x4"`
	FreeBlocksLow     binstruct.U16le `bin:"off=0xc,  siz=0x2"`
	FreeInodesLow     binstruct.U16le `bin:"off=0xe,  siz=0x2"`
	UsedDirsLow       binstruct.U16le `bin:"off=0x10, siz=0x2"`
	Flags             binstruct.U16le `bin:"off=0x12, siz=0x2"`
	ExcludeBitmapLow  binstruct.U32le `bin:"off=0x14, siz=0x4"`
	BlockBitmapCsumLo binstruct.U16le `bin:"off=0x18, siz=0x2"`
	InodeBitmapCsumLo binstruct.U16le `bin:"off=0x1a, siz=0x2"`
	UnusedInodesLow   binstruct.U16le `bin:"off=0x1c, siz=0x2"`
	Checksum          binstruct.U16le `bin:"off=0x1e, siz=0x2"`
	binstruct.End     `bin:"off=0x20"`
}

// GroupDesc64Tail is the second half of a 64-byte group descriptor
// (Superblock.Has64Bit()), appended immediately after GroupDesc.
type GroupDesc64Tail struct {
	BlockBitmapHigh    binstruct.U32le `bin:"off=0x0,  siz=0x4"`
	InodeBitmapHigh    binstruct.U32le `bin:"off=0x4,  siz=0x4"`
	InodeTableHigh     binstruct.U32le `bin:"off=0x8,  siz=0x4"`
	FreeBlocksHigh     binstruct.U16le `bin:"off=0xc,  siz=0x2"`
	FreeInodesHigh     binstruct.U16le `bin:"off=0xe,  siz=0x2"`
	UsedDirsHigh       binstruct.U16le `bin:"off=0x10, siz=0x2"`
	UnusedInodesHigh   binstruct.U16le `bin:"off=0x12, siz=0x2"`
	ExcludeBitmapHigh  binstruct.U32le `bin:"off=0x14, siz=0x4"`
	BlockBitmapCsumHi  binstruct.U16le `bin:"off=0x18, siz=0x2"`
	InodeBitmapCsumHi  binstruct.U16le `bin:"off=0x1a, siz=0x2"`
	Reserved           binstruct.U32le `bin:"off=0x1c, siz=0x4"`
	binstruct.End      `bin:"off=0x20"`
}

// GroupFlag bits (BG_* in original_source/ext2/ext2.h).
const (
	GroupFlagInodeUninit uint16 = 0x1
	GroupFlagBlockUninit uint16 = 0x2
	GroupFlagInodeZeroed uint16 = 0x4
)

// BlockBitmap returns the 48-bit physical block of the block bitmap.
func (g *GroupDesc) BlockBitmap(tail *GroupDesc64Tail) uint64 {
	v := uint64(g.BlockBitmapLow)
	if tail != nil {
		v |= uint64(tail.BlockBitmapHigh) << 32
	}
	return v
}

// InodeBitmap returns the 48-bit physical block of the inode bitmap.
func (g *GroupDesc) InodeBitmap(tail *GroupDesc64Tail) uint64 {
	v := uint64(g.InodeBitmapLow)
	if tail != nil {
		v |= uint64(tail.InodeBitmapHigh) << 32
	}
	return v
}

// InodeTable returns the 48-bit physical start block of the inode table.
func (g *GroupDesc) InodeTable(tail *GroupDesc64Tail) uint64 {
	v := uint64(g.InodeTableLow)
	if tail != nil {
		v |= uint64(tail.InodeTableHigh) << 32
	}
	return v
}

// FreeBlocks returns the group's free block count.
func (g *GroupDesc) FreeBlocks(tail *GroupDesc64Tail) uint32 {
	v := uint32(g.FreeBlocksLow)
	if tail != nil {
		v |= uint32(tail.FreeBlocksHigh) << 16
	}
	return v
}

// FreeInodes returns the group's free inode count.
func (g *GroupDesc) FreeInodes(tail *GroupDesc64Tail) uint32 {
	v := uint32(g.FreeInodesLow)
	if tail != nil {
		v |= uint32(tail.FreeInodesHigh) << 16
	}
	return v
}

// UsedDirs returns the group's directory count.
func (g *GroupDesc) UsedDirs(tail *GroupDesc64Tail) uint32 {
	v := uint32(g.UsedDirsLow)
	if tail != nil {
		v |= uint32(tail.UsedDirsHigh) << 16
	}
	return v
}
