// Package iso9660 models the on-disk structures of an ECMA-119
// ("ISO9660") filesystem (spec.md §4.1, §6 "ISO9660"): the common/
// primary/supplementary volume descriptors, the Joliet escape-sequence
// markers, and the (Rock-Ridge-extended) directory record.
//
// Grounded on original_source's
// add-ons/kernel/file_systems/iso9660/iso9660_identify.cpp (the current
// Haiku descriptor layout: iso9660_common_volume_descriptor/
// iso9660_primary_volume_descriptor/iso9660_supplementary_volume_descriptor/
// iso9660_directory_record) and iso9660.cpp's `unicode_to_utf8` Joliet
// conversion, supplemented by the fuller per-entry layout in
// tests/.../iso9660/r5/iso.h's `vnode` struct (record date, full flag
// byte, file-unit/interleave-gap fields, Rock Ridge `RRAttr`) for the
// fields identify.cpp doesn't bother parsing but a read-write^Wread-only
// driver needs. Re-expressed with the same `internal/binstruct`
// offset/size tags ondisk/ext and ondisk/btrfs use, plus the
// `BothEndian16/32` helper types this driver introduced specifically
// for ISO9660's doubled little/big-endian integers (ECMA-119 §7.2/7.3).
package iso9660

import "github.com/vnodefs/vnodefs/internal/binstruct"

// PrimaryVolumeDescriptorOffset is the fixed byte offset of the first
// volume descriptor (spec.md §6 "ISO9660 PVD offset: 0x8000, length
// 0x800"; original_source iso9660_fs_identify's `offset = 0x8000`).
const PrimaryVolumeDescriptorOffset = 0x8000

// VolumeDescriptorSize is the fixed length of every volume descriptor
// (original_source's kVolumeDescriptorLength).
const VolumeDescriptorSize = 2048

// StandardIdentifier is the 5-byte "CD001" signature every volume
// descriptor must carry (spec.md §6 `ISO9660 identifier: "CD001"`;
// original_source's kISO9660Signature).
const StandardIdentifier = "CD001"

// Descriptor types (original_source's iso9660_volume_descriptor_type).
const (
	DescriptorTypeBoot          uint8 = 0
	DescriptorTypePrimary       uint8 = 1
	DescriptorTypeSupplementary uint8 = 2
	DescriptorTypePartition     uint8 = 3
	DescriptorTypeTerminator    uint8 = 255
)

// CommonDescriptor is the header shared by every volume descriptor
// type (iso9660_common_volume_descriptor).
type CommonDescriptor struct {
	Type          binstruct.U8 `bin:"off=0x0, siz=0x1"`
	Identifier    [5]byte      `bin:"off=0x1, siz=0x5"`
	Version       binstruct.U8 `bin:"off=0x6, siz=0x1"`
	binstruct.End `bin:"off=0x7"`
}

// HasStandardIdentifier reports whether Identifier matches "CD001"
// (original_source's check_common_volume_descriptor).
func (c *CommonDescriptor) HasStandardIdentifier() bool {
	return string(c.Identifier[:]) == StandardIdentifier
}

// VolumeIdentifierLength is the fixed width of a volume-name field in
// either descriptor type (ISO9660_VOLUME_IDENTIFIER_LENGTH).
const VolumeIdentifierLength = 32

// EscapeSequenceLength is the width of the supplementary descriptor's
// escape-sequences field (ISO9660_ESCAPE_SEQUENCE_LENGTH).
const EscapeSequenceLength = 32

// Joliet escape sequences (spec.md §6 "ISO9660 Joliet escape
// sequences"; original_source iso9660.cpp's comment block): their
// presence anywhere in a supplementary descriptor's EscapeSequences
// field marks that descriptor as a Joliet (UCS-2) volume descriptor
// rather than a plain ISO9660-Level-2 one.
const (
	JolietEscapeLevel1 = "%/@"
	JolietEscapeLevel2 = "%/C"
	JolietEscapeLevel3 = "%/E"
)

// PrimaryVolumeDescriptor is ECMA-119's type-1 descriptor
// (iso9660_primary_volume_descriptor), used verbatim as the layout of
// a SupplementaryVolumeDescriptor minus the EscapeSequences field
// (original_source's iso9660.cpp literally reinterpret_casts a
// supplementary descriptor as a primary one to reuse the dump/parse
// code; this driver keeps the two Go types distinct for clarity but
// mirrors their shared prefix byte-for-byte).
type PrimaryVolumeDescriptor struct {
	Common               CommonDescriptor        `bin:"off=0x0,   siz=0x7"`
	Unused00             binstruct.U8            `bin:"off=0x7,   siz=0x1"` // volume flags (primary: unused)
	SystemIdentifier     [32]byte                `bin:"off=0x8,   siz=0x20"`
	VolumeIdentifier     [32]byte                `bin:"off=0x28,  siz=0x20"`
	Unused01             [8]byte                 `bin:"off=0x48,  siz=0x8"`
	VolumeSpaceSize      binstruct.BothEndian32  `bin:"off=0x50,  siz=0x8"`
	Unused02             [32]byte                `bin:"off=0x58,  siz=0x20"` // primary: unused (supplementary: escape sequences)
	VolumeSetSize        binstruct.BothEndian16  `bin:"off=0x78,  siz=0x4"`
	VolumeSequenceNumber binstruct.BothEndian16  `bin:"off=0x7c,  siz=0x4"`
	LogicalBlockSize     binstruct.BothEndian16  `bin:"off=0x80,  siz=0x4"`
	PathTableSize        binstruct.BothEndian32  `bin:"off=0x84,  siz=0x8"`
	TypeLPathTableLoc    binstruct.U32le         `bin:"off=0x8c,  siz=0x4"`
	OptTypeLPathTableLoc binstruct.U32le         `bin:"off=0x90,  siz=0x4"`
	TypeMPathTableLoc    binstruct.U32be         `bin:"off=0x94,  siz=0x4"`
	OptTypeMPathTableLoc binstruct.U32be         `bin:"off=0x98,  siz=0x4"`
	RootDirectoryRecord  [34]byte                `bin:"off=0x9c,  siz=0x22"`
	VolumeSetIdentifier  [128]byte               `bin:"off=0xbe,  siz=0x80"`
	PublisherIdentifier  [128]byte               `bin:"off=0x13e, siz=0x80"`
	DataPreparerIdentifier [128]byte             `bin:"off=0x1be, siz=0x80"`
	ApplicationIdentifier [128]byte              `bin:"off=0x23e, siz=0x80"`
	binstruct.End        `bin:"off=0x2be"`
}

// SupplementaryVolumeDescriptor is ECMA-119's type-2 descriptor
// (iso9660_supplementary_volume_descriptor): the same layout as
// PrimaryVolumeDescriptor with EscapeSequences occupying the block of
// bytes the primary descriptor leaves unused, used to detect and,
// when present, decode a Joliet name (spec.md §9 testable property
// #5).
type SupplementaryVolumeDescriptor struct {
	Common               CommonDescriptor       `bin:"off=0x0,   siz=0x7"`
	VolumeFlags          binstruct.U8           `bin:"off=0x7,   siz=0x1"`
	SystemIdentifier     [32]byte               `bin:"off=0x8,   siz=0x20"`
	VolumeIdentifier     [32]byte               `bin:"off=0x28,  siz=0x20"`
	Unused00             [8]byte                `bin:"off=0x48,  siz=0x8"`
	VolumeSpaceSize      binstruct.BothEndian32 `bin:"off=0x50,  siz=0x8"`
	EscapeSequences      [32]byte               `bin:"off=0x58,  siz=0x20"`
	VolumeSetSize        binstruct.BothEndian16 `bin:"off=0x78,  siz=0x4"`
	VolumeSequenceNumber binstruct.BothEndian16 `bin:"off=0x7c,  siz=0x4"`
	LogicalBlockSize     binstruct.BothEndian16 `bin:"off=0x80,  siz=0x4"`
	PathTableSize        binstruct.BothEndian32 `bin:"off=0x84,  siz=0x8"`
	TypeLPathTableLoc    binstruct.U32le        `bin:"off=0x8c,  siz=0x4"`
	OptTypeLPathTableLoc binstruct.U32le        `bin:"off=0x90,  siz=0x4"`
	TypeMPathTableLoc    binstruct.U32be        `bin:"off=0x94,  siz=0x4"`
	OptTypeMPathTableLoc binstruct.U32be        `bin:"off=0x98,  siz=0x4"`
	RootDirectoryRecord  [34]byte               `bin:"off=0x9c,  siz=0x22"`
	VolumeSetIdentifier  [128]byte              `bin:"off=0xbe,  siz=0x80"`
	binstruct.End        `bin:"off=0x13e"`
}

// IsJoliet reports whether EscapeSequences carries one of the three
// Joliet UCS-2 level markers (original_source's
// `strstr(escapes, "%/@") || ... "%/C" ... "%/E"`).
func (s *SupplementaryVolumeDescriptor) IsJoliet() bool {
	seq := string(s.EscapeSequences[:])
	return containsAny(seq, JolietEscapeLevel1, JolietEscapeLevel2, JolietEscapeLevel3)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	if len(sub) == 0 || len(sub) > len(s) {
		return -1
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
