package iso9660

import "github.com/vnodefs/vnodefs/internal/binstruct"

// RecordDate is ECMA-119's 7-byte directory-record timestamp
// (r5/iso.h's ISORecDate): year is an offset from 1900, month/date are
// 1-based, gmtOffset is in 15-minute intervals from GMT, all fields
// packed (no padding) unlike the 17-byte ISOVolDate the volume
// descriptors use for their own creation/modification timestamps.
type RecordDate struct {
	YearsSince1900 binstruct.U8  `bin:"off=0x0, siz=0x1"`
	Month          binstruct.U8  `bin:"off=0x1, siz=0x1"`
	Day            binstruct.U8  `bin:"off=0x2, siz=0x1"`
	Hour           binstruct.U8  `bin:"off=0x3, siz=0x1"`
	Minute         binstruct.U8  `bin:"off=0x4, siz=0x1"`
	Second         binstruct.U8  `bin:"off=0x5, siz=0x1"`
	GMTOffset      binstruct.I8  `bin:"off=0x6, siz=0x1"`
	binstruct.End  `bin:"off=0x7"`
}

// Directory-record flag bits (r5/iso.h's ISO_IS* enum).
const (
	RecordFlagHidden          uint8 = 0x01
	RecordFlagDirectory       uint8 = 0x02
	RecordFlagAssociatedFile  uint8 = 0x04
	RecordFlagExtAttrRecord   uint8 = 0x08
	RecordFlagExtAttrPerms    uint8 = 0x10
	RecordFlagMultiExtent     uint8 = 0x80
)

// DirectoryRecordFixedSize is the length of DirectoryRecord up to but
// not including the variable-length FileIdentifier; the identifier
// starts at this offset within the record and its length is
// FileIdentifierLength, with one pad byte appended when that length is
// even (ECMA-119 §9.1.12).
const DirectoryRecordFixedSize = 33

// DirectoryRecord is ECMA-119's directory record (`iso9660_directory_record`
// in identify.cpp, extended with the fields identify.cpp skips but
// r5/iso.h's fuller `vnode` struct carries: RecordDate, the full Flags
// byte, FileUnitSize/InterleaveGapSize, and VolumeSequenceNumber).
// FileIdentifier and, when present, the Rock Ridge System Use Area
// follow immediately after this fixed header and are decoded
// separately by iso9660/dir since their lengths vary per record.
type DirectoryRecord struct {
	Length                binstruct.U8           `bin:"off=0x0,  siz=0x1"`
	ExtAttrRecordLength   binstruct.U8           `bin:"off=0x1,  siz=0x1"`
	ExtentLocation        binstruct.BothEndian32 `bin:"off=0x2,  siz=0x8"`
	DataLength            binstruct.BothEndian32 `bin:"off=0xa,  siz=0x8"`
	RecordedDate          RecordDate             `bin:"off=0x12, siz=0x7"`
	Flags                 binstruct.U8           `bin:"off=0x19, siz=0x1"`
	FileUnitSize          binstruct.U8           `bin:"off=0x1a, siz=0x1"`
	InterleaveGapSize     binstruct.U8           `bin:"off=0x1b, siz=0x1"`
	VolumeSequenceNumber  binstruct.BothEndian16 `bin:"off=0x1c, siz=0x4"`
	FileIdentifierLength  binstruct.U8           `bin:"off=0x20, siz=0x1"`
	binstruct.End         `bin:"off=0x21"`
}

// IsDirectory reports the directory-record-is-a-directory flag bit.
func (r *DirectoryRecord) IsDirectory() bool { return uint8(r.Flags)&RecordFlagDirectory != 0 }

// IsMultiExtent reports whether this record is one extent of a
// directory (or file) whose contents continue in the next directory
// record sharing the same name (spec.md's supplemented "multi-extent
// directory records" feature; r5/iso.h's ISO_MOREDIRS bit).
func (r *DirectoryRecord) IsMultiExtent() bool { return uint8(r.Flags)&RecordFlagMultiExtent != 0 }

// IsAssociatedFile reports the "associated file" bit (a resource-fork-
// like companion record; ECMA-119 §6.5.2), which a directory listing
// hides from plain readdir the way ISO_ISASSOCFILE historically did.
func (r *DirectoryRecord) IsAssociatedFile() bool {
	return uint8(r.Flags)&RecordFlagAssociatedFile != 0
}

// PaddedIdentifierLength rounds FileIdentifierLength up to the next
// even number: ECMA-119 §9.1.12 requires a single pad byte after an
// odd-length identifier so that the System Use Area (Rock Ridge
// entries) that may follow stays on an even boundary.
func (r *DirectoryRecord) PaddedIdentifierLength() int {
	n := int(r.FileIdentifierLength)
	if n%2 == 1 {
		n++
	}
	return n
}

// SystemUseOffset is the byte offset, from the start of the record,
// where the Rock Ridge System Use Area begins (immediately after the
// padded file identifier).
func (r *DirectoryRecord) SystemUseOffset() int {
	return DirectoryRecordFixedSize + r.PaddedIdentifierLength()
}

// Special file-identifier byte values for the two synthetic entries
// every directory's extent starts with (ECMA-119 §6.8.2.1/.2): a
// single 0x00 byte names "." (self), a single 0x01 byte names ".."
// (parent). Neither is length-prefixed beyond the single byte already
// counted by FileIdentifierLength==1.
const (
	FileIdentifierSelf   = 0x00
	FileIdentifierParent = 0x01
)
