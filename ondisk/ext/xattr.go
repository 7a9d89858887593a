package ext

import "github.com/vnodefs/vnodefs/internal/binstruct"

// XAttrMagic is the four-byte magic at the head of an external
// (block-resident) extended-attribute block (original_source
// EXT2_XATTR_MAGIC); inline (inode-resident) attribute space omits
// this header and starts directly with the entry array.
const XAttrMagic uint32 = 0xea020000

// XAttrRound attribute values are padded to a 4-byte boundary
// (original_source EXT2_XATTR_ROUND).
const XAttrRound = 3

// XAttrNameLength is the largest attribute name this driver stores.
const XAttrNameLength = 255

// Known attribute-name-index prefixes (original_source
// EXT2_XATTR_INDEX_*), letting a stored name omit its common
// namespace prefix ("user.", "system.posix_acl_access", ...).
const (
	XAttrIndexUser             uint8 = 1
	XAttrIndexPosixACLAccess   uint8 = 2
	XAttrIndexPosixACLDefault  uint8 = 3
	XAttrIndexTrusted          uint8 = 4
	XAttrIndexSecurity         uint8 = 6
	XAttrIndexSystem           uint8 = 7
	XAttrIndexSystemRichACL    uint8 = 8
	XAttrIndexSystemEncryption uint8 = 9
)

// XAttrHeader is ext2_xattr_header, present only at the start of a
// block-resident attribute block (spec.md §4.7's "external block"
// case); inode-resident attribute space has no such header.
type XAttrHeader struct {
	Magic         binstruct.U32le `bin:"off=0x0,  siz=0x4"`
	RefCount      binstruct.U32le `bin:"off=0x4,  siz=0x4"`
	Blocks        binstruct.U32le `bin:"off=0x8,  siz=0x4"`
	Hash          binstruct.U32le `bin:"off=0xc,  siz=0x4"`
	Checksum      binstruct.U32le `bin:"off=0x10, siz=0x4"`
	Reserved      [3]binstruct.U32le `bin:"off=0x14, siz=0xc"`
	binstruct.End `bin:"off=0x20"`
}

// XAttrHeaderSize is XAttrHeader's fixed size, the offset an external
// attribute block's entry array starts at.
const XAttrHeaderSize = 0x20

// XAttrEntry is ext2_xattr_entry: a fixed header followed immediately
// by NameLength bytes of attribute name (no null terminator); the
// value itself lives elsewhere in the block/inode space at ValueOffset,
// sized ValueSize and rounded up per XAttrRound.
type XAttrEntry struct {
	NameLength    binstruct.U8    `bin:"off=0x0, siz=0x1"`
	NameIndex     binstruct.U8    `bin:"off=0x1, siz=0x1"`
	ValueOffset   binstruct.U16le `bin:"off=0x2, siz=0x2"`
	ValueBlock    binstruct.U32le `bin:"off=0x4, siz=0x4"`
	ValueSize     binstruct.U32le `bin:"off=0x8, siz=0x4"`
	Hash          binstruct.U32le `bin:"off=0xc, siz=0x4"`
	binstruct.End `bin:"off=0x10"`
}

// EntryHeaderSize is XAttrEntry's fixed size; the variable-length name
// follows at this offset.
const XAttrEntryHeaderSize = 16

// IsLast reports the all-zero sentinel entry terminating the entry
// array (original_source scans until NameLength==0 && NameIndex==0).
func (e *XAttrEntry) IsLast() bool {
	return uint8(e.NameLength) == 0 && uint8(e.NameIndex) == 0
}

// PaddedValueSize rounds ValueSize up to the XAttrRound boundary, the
// stride between successive values packed into the block/inode
// attribute space.
func (e *XAttrEntry) PaddedValueSize() uint32 {
	return (uint32(e.ValueSize) + XAttrRound) &^ XAttrRound
}
