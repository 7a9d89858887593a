package ext

import "github.com/vnodefs/vnodefs/internal/binstruct"

// ExtentMagic is the two-byte magic at the head of every extent-tree
// node, leaf or internal (original_source EXT2_EXTENT_MAGIC).
const ExtentMagic uint16 = 0xf30a

// ExtentMaxLength is the largest block run a single leaf entry can
// describe; lengths at or above this value instead encode an
// "uninitialized" (allocated-but-unwritten) extent of length
// Length-ExtentMaxLength (original_source EXT2_EXTENT_MAX_LENGTH and
// its uninitialized-extent convention).
const ExtentMaxLength = 0x8000

// ExtentHeader is ext2_extent_header: the common node header shared by
// every level of the extent tree, embedded at the start of the
// inode's Stream for extent-based inodes and at the start of each
// extent index block.
type ExtentHeader struct {
	Magic         binstruct.U16le `bin:"off=0x0, siz=0x2"`
	NumEntries    binstruct.U16le `bin:"off=0x2, siz=0x2"`
	MaxEntries    binstruct.U16le `bin:"off=0x4, siz=0x2"`
	Depth         binstruct.U16le `bin:"off=0x6, siz=0x2"`
	Generation    binstruct.U32le `bin:"off=0x8, siz=0x4"`
	binstruct.End `bin:"off=0xc"`
}

// ExtentIndex is ext2_extent_index, an internal node entry pointing at
// a child extent-tree block covering logical blocks >= Block.
type ExtentIndex struct {
	Block         binstruct.U32le `bin:"off=0x0, siz=0x4"`
	LeafLow       binstruct.U32le `bin:"off=0x4, siz=0x4"`
	LeafHigh      binstruct.U16le `bin:"off=0x8, siz=0x2"`
	Unused        binstruct.U16le `bin:"off=0xa, siz=0x2"`
	binstruct.End `bin:"off=0xc"`
}

// Leaf returns the 48-bit physical block number of the child node.
func (i ExtentIndex) Leaf() uint64 {
	return uint64(i.LeafLow) | uint64(i.LeafHigh)<<32
}

// ExtentEntry is ext2_extent_entry, a leaf node entry mapping
// [Block, Block+Length) logical blocks to a physical run starting at
// StartBlock (48-bit, split low/high like ExtentIndex.Leaf).
type ExtentEntry struct {
	Block          binstruct.U32le `bin:"off=0x0, siz=0x4"`
	Length         binstruct.U16le `bin:"off=0x4, siz=0x2"`
	StartBlockHigh binstruct.U16le `bin:"off=0x6, siz=0x2"`
	StartBlockLow  binstruct.U32le `bin:"off=0x8, siz=0x4"`
	binstruct.End  `bin:"off=0xc"`
}

// StartBlock returns the 48-bit physical start block of the run.
func (e ExtentEntry) StartBlock() uint64 {
	return uint64(e.StartBlockLow) | uint64(e.StartBlockHigh)<<32
}

// Uninitialized reports whether this extent is allocated but not yet
// written (Length's top bit set per the ExtentMaxLength convention).
func (e ExtentEntry) Uninitialized() bool {
	return uint16(e.Length) >= ExtentMaxLength
}

// NumBlocks returns the actual run length, stripping the
// uninitialized-extent high bit.
func (e ExtentEntry) NumBlocks() uint16 {
	if e.Uninitialized() {
		return uint16(e.Length) - ExtentMaxLength
	}
	return uint16(e.Length)
}

// ExtentStreamSize is the fixed byte size of the 60-byte inode Stream
// field when interpreted as an extent-tree root: one ExtentHeader
// (12 bytes) followed by up to four ExtentEntry/ExtentIndex records
// (12 bytes each), matching original_source's in-inode extent root.
const ExtentStreamSize = 60

// ExtentRootMaxEntries is how many leaf/index records fit inline in
// the inode's Stream alongside the header.
const ExtentRootMaxEntries = (ExtentStreamSize - 12) / 12
