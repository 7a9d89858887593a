package iso9660

import "github.com/vnodefs/vnodefs/internal/binstruct"

// Rock Ridge (IEEE P1282) and its SUSP (System Use Sharing Protocol)
// container extend a directory record's System Use Area with a chain
// of tagged entries. Grounded on r5/iso.h's `RRAttr` struct (which
// tracks just the parsed NM/PX/SL results a mounted volume needs: name,
// stat bits, symlink target) generalized here into the raw on-disk
// entry header every SUSP entry shares, since iso9660/dir must walk
// the raw entry chain itself rather than receiving it pre-parsed.

// SystemUseEntryHeader is the 4-byte header common to every SUSP/Rock
// Ridge entry: a 2-byte signature ("NM", "PX", "SL", "CE", "TF", ...),
// the entry's total length including this header, and the SUSP
// version of that entry type (RRAttr's nmVer/pxVer/slVer fields record
// exactly this per entry-type).
type SystemUseEntryHeader struct {
	Signature     [2]byte      `bin:"off=0x0, siz=0x2"`
	Length        binstruct.U8 `bin:"off=0x2, siz=0x1"`
	Version       binstruct.U8 `bin:"off=0x3, siz=0x1"`
	binstruct.End `bin:"off=0x4"`
}

// SystemUseEntryHeaderSize is SystemUseEntryHeader's fixed size; an
// entry's payload begins at this offset within the entry and runs for
// Length-SystemUseEntryHeaderSize bytes.
const SystemUseEntryHeaderSize = 4

// Rock Ridge / SUSP signatures this driver understands.
const (
	SignatureContinuation  = "CE" // SUSP: System Use Area continues in another sector
	SignaturePaddingField  = "PD" // SUSP: padding, ignore
	SignatureSharingProto  = "SP" // SUSP: indicator entry, must be first in the root's "." record
	SignatureTerminator    = "ST" // SUSP: no more System Use entries follow
	SignatureExtensionRef  = "ER" // SUSP: identifies which extension (e.g. "RRIP_1991A") is in use
	SignaturePosixAttrs    = "PX" // RRIP: POSIX file mode/links/uid/gid/serial
	SignaturePosixDevice   = "PN" // RRIP: POSIX device major/minor (character/block special files)
	SignatureSymlink       = "SL" // RRIP: symbolic link target, in path-component records
	SignatureAltName       = "NM" // RRIP: alternate (long, case-sensitive) file name
	SignatureChildLink     = "CL" // RRIP: relocated-directory child link
	SignatureParentLink    = "PL" // RRIP: relocated-directory parent link
	SignatureRelocated     = "RE" // RRIP: marks the placeholder left behind by a relocation
	SignatureTimestamps    = "TF" // RRIP: creation/modify/access/attribute-change timestamps
)

// PosixAttributes is the payload of a "PX" entry (RRIP §4.1.2):
// POSIX mode and link count, followed by owning uid/gid and, in RRIP
// 1.12, a file serial number. Mode's format bits (S_IFLNK, S_IFDIR,
// ...) are what spec.md §9's design note means by "assumes S_ISLNK
// bits appear in Rock Ridge PX entries" — a record with none of the
// S_IFMT bits recognized falls back on the directory record's own
// RecordFlagDirectory bit plus any SL entry to decide directory vs.
// symlink vs. regular file.
type PosixAttributes struct {
	Mode          binstruct.BothEndian32 `bin:"off=0x0,  siz=0x8"`
	NumLinks      binstruct.BothEndian32 `bin:"off=0x8,  siz=0x8"`
	UID           binstruct.BothEndian32 `bin:"off=0x10, siz=0x8"`
	GID           binstruct.BothEndian32 `bin:"off=0x18, siz=0x8"`
	binstruct.End `bin:"off=0x20"`
}

// POSIX S_IFMT-style format bits PosixAttributes.Mode may carry
// (RRIP §4.1.2's note "the format of the st_mode field is the same as
// the contents of the st_mode field in struct stat").
const (
	ModeFormatMask uint32 = 0xf000
	ModeSymlink    uint32 = 0xa000
	ModeDirectory  uint32 = 0x4000
	ModeRegular    uint32 = 0x8000
)

// AltNameFlags are the bits in an "NM" entry's one-byte flags field
// (RRIP §4.1.4): bit0 marks a continuation record (more NM entries
// follow with the rest of the name), bit1/bit2 are the "current
// directory"/"parent directory" shorthand markers used instead of
// repeating "." or "..".
const (
	AltNameFlagContinue uint8 = 0x01
	AltNameFlagCurrent  uint8 = 0x02
	AltNameFlagParent   uint8 = 0x04
)

// AltNameHeader is an "NM" entry's one-byte flags field, immediately
// following SystemUseEntryHeader; the name text itself runs for
// Length-SystemUseEntryHeaderSize-1 bytes after it.
type AltNameHeader struct {
	Flags         binstruct.U8 `bin:"off=0x0, siz=0x1"`
	binstruct.End `bin:"off=0x1"`
}

// SymlinkComponentFlags are the bits in each component record inside
// an "SL" entry's payload (RRIP §4.1.3.1): bit1/bit2 are the same
// current-directory/parent-directory shorthand NM uses, bit3 marks the
// filesystem root, bit4 is a volume-root reference, bit0 marks a
// continuation into the next component record, and a length-zero
// component combined with the continue bit spans the symlink target
// across multiple SL entries the way IsMultiExtent chains directory
// records.
const (
	SymlinkFlagContinue uint8 = 0x01
	SymlinkFlagCurrent  uint8 = 0x02
	SymlinkFlagParent   uint8 = 0x04
	SymlinkFlagRoot     uint8 = 0x08
)

// SymlinkComponentHeader is the 2-byte header preceding each path
// component's text inside an "SL" entry's payload.
type SymlinkComponentHeader struct {
	Flags         binstruct.U8 `bin:"off=0x0, siz=0x1"`
	Length        binstruct.U8 `bin:"off=0x1, siz=0x1"`
	binstruct.End `bin:"off=0x2"`
}
