package btrfs

import "github.com/vnodefs/vnodefs/internal/binstruct"

// NodeHeader is the fixed header common to every tree node (leaf or
// interior), spec.md §3 "Tree node". Checksum covers the rest of the
// node starting at CsumEnd (spec.md §6 checksum kit, verified by the
// volume before trusting a node's contents).
type NodeHeader struct {
	Checksum      [32]byte        `bin:"off=0x0,  siz=0x20"`
	FSUUID        [16]byte        `bin:"off=0x20, siz=0x10"`
	Addr          binstruct.U64le `bin:"off=0x30, siz=0x8"`
	Flags         [7]byte         `bin:"off=0x38, siz=0x7"`
	BackrefRev    binstruct.U8    `bin:"off=0x3f, siz=0x1"`
	ChunkTreeUUID [16]byte        `bin:"off=0x40, siz=0x10"`
	Generation    binstruct.U64le `bin:"off=0x50, siz=0x8"`
	Owner         binstruct.U64le `bin:"off=0x58, siz=0x8"`
	NumItems      binstruct.U32le `bin:"off=0x60, siz=0x4"`
	Level         binstruct.U8    `bin:"off=0x64, siz=0x1"`
	binstruct.End `bin:"off=0x65"`
}

// CsumStart is where the checksummed range begins inside a node block
// (everything after the 32-byte checksum field itself).
const CsumStart = 0x20

var NodeHeaderSize = binstruct.StaticSize(NodeHeader{})

// KeyPointer is one entry of an interior node's index array: a child
// key plus the child's logical block address and generation.
type KeyPointer struct {
	Key           Key             `bin:"off=0x0,  siz=0x11"`
	BlockPtr      binstruct.U64le `bin:"off=0x11, siz=0x8"`
	Generation    binstruct.U64le `bin:"off=0x19, siz=0x8"`
	binstruct.End `bin:"off=0x21"`
}

var KeyPointerSize = binstruct.StaticSize(KeyPointer{})

// ItemHeader is the fixed-size leaf-node entry descriptor; items grow
// from the top of the leaf downward while their payload data grows
// from the bottom upward (spec.md §3 "Tree node").
type ItemHeader struct {
	Key           Key             `bin:"off=0x0,  siz=0x11"`
	DataOffset    binstruct.U32le `bin:"off=0x11, siz=0x4"`
	DataSize      binstruct.U32le `bin:"off=0x15, siz=0x4"`
	binstruct.End `bin:"off=0x19"`
}

var ItemHeaderSize = binstruct.StaticSize(ItemHeader{})

const (
	NodeFlagWritten uint64 = 1 << 0
	NodeFlagReloc   uint64 = 1 << 1
)
