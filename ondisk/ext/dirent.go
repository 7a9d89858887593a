package ext

import "github.com/vnodefs/vnodefs/internal/binstruct"

// NameLength is the largest name a single directory entry can carry
// (original_source EXT2_NAME_LENGTH).
const NameLength = 255

// DirEntry file-type tags (original_source EXT2_TYPE_*), stored
// directly in DirEntry.FileType when the FILETYPE incompat feature is
// set; otherwise the type must be read from the target inode's Mode.
const (
	FileTypeUnknown  uint8 = 0
	FileTypeFile     uint8 = 1
	FileTypeDir      uint8 = 2
	FileTypeCharDev  uint8 = 3
	FileTypeBlockDev uint8 = 4
	FileTypeFIFO     uint8 = 5
	FileTypeSocket   uint8 = 6
	FileTypeSymlink  uint8 = 7
)

// DirEntry is ext2_dir_entry's fixed header; Name follows immediately
// as NameLength raw bytes and is not itself part of this struct since
// its length varies per record (spec.md §4.4's linear/HTree directory
// format).
type DirEntry struct {
	InodeID       binstruct.U32le `bin:"off=0x0, siz=0x4"`
	Length        binstruct.U16le `bin:"off=0x4, siz=0x2"`
	NameLength    binstruct.U8    `bin:"off=0x6, siz=0x1"`
	FileType      binstruct.U8    `bin:"off=0x7, siz=0x1"`
	binstruct.End `bin:"off=0x8"`
}

// DirEntryHeaderSize is DirEntry's fixed on-disk size; the variable-length
// name follows at this offset within the record.
const DirEntryHeaderSize = 8

// IsDeleted reports an entry record reused as a free-space gap: a
// zero InodeID is read as "skip to the next record via Length",
// mirroring original_source's linear-scan convention.
func (d *DirEntry) IsDeleted() bool { return uint32(d.InodeID) == 0 }

// HTreeRoot is the HTree root info block that overlays the first
// 8-byte-aligned slot of a directory's first block once DIR_INDEX is
// set and the directory has been hashed (original_source's
// ext2_htree_root / ext2_htree_fake_dirent framing): the real root
// directory entry's Length field spans the whole block so a
// non-HTree-aware reader's linear scan safely skips it, and the
// fields below begin immediately after a second, empty DirEntry at
// offset DirEntryHeaderSize*2.
type HTreeRoot struct {
	DotDot        DirEntry        `bin:"off=0x0,  siz=0x8"`
	Reserved      binstruct.U32le `bin:"off=0x8,  siz=0x4"`
	HashVersion   binstruct.U8    `bin:"off=0xc,  siz=0x1"`
	InfoLength    binstruct.U8    `bin:"off=0xd,  siz=0x1"`
	IndirectLevels binstruct.U8   `bin:"off=0xe,  siz=0x1"`
	UnusedFlags   binstruct.U8    `bin:"off=0xf,  siz=0x1"`
	binstruct.End `bin:"off=0x10"`
}

// HTreeEntry is a single (hash, block) pair in an HTree index block,
// used both at the root (after HTreeRoot) and in interior nodes.
type HTreeEntry struct {
	Hash          binstruct.U32le `bin:"off=0x0, siz=0x4"`
	Block         binstruct.U32le `bin:"off=0x4, siz=0x4"`
	binstruct.End `bin:"off=0x8"`
}

// HTreeCountLimit is the (count, limit) header at the start of every
// HTree index block's entry array, counting HTreeEntry slots.
type HTreeCountLimit struct {
	Limit         binstruct.U16le `bin:"off=0x0, siz=0x2"`
	Count         binstruct.U16le `bin:"off=0x2, siz=0x2"`
	binstruct.End `bin:"off=0x4"`
}

// HashVersion tags (original_source's DX_HASH_*), selecting which of
// the legacy, half-MD4, or TEA algorithms checksum.BtrfsNameHash's
// Ext counterparts in the ext/dir package must use for a given
// directory.
const (
	HashVersionLegacy        uint8 = 0
	HashVersionHalfMD4       uint8 = 1
	HashVersionTea           uint8 = 2
	HashVersionLegacyUnsigned  uint8 = 3
	HashVersionHalfMD4Unsigned uint8 = 4
	HashVersionTeaUnsigned     uint8 = 5
)
