// Package attr implements the Ext2/3/4 extended-attribute engine
// (spec.md §4.7): read-only lookup and enumeration over the two places
// an inode's attributes can live — a run of entries tucked into the
// unused tail of the inode record itself, and/or a dedicated external
// block referenced by the inode's file_access_control field.
//
// Grounded on original_source/ext2's Attribute.cpp (_FindAttributeBody/
// _FindAttributeBlock/_FindAttribute) for the region layout and probe
// order, and AttributeIterator.cpp for the enumeration walk.
package attr

import (
	"fmt"

	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// rawEntry is one decoded attribute entry together with its name. The
// entry's ValueOffset gives where its value starts, in bytes from the
// start of the region the entry array belongs to (the Attribute.cpp convention: value
// offsets are always relative to "start", not to the containing
// inode/block).
type rawEntry struct {
	entry ext.XAttrEntry
	name  string
}

// decodeInlineRegion walks the inode-tail attribute region: a 4-byte
// magic (ext.XAttrMagic) followed directly by the entry array, no
// ext.XAttrHeader (original_source's _FindAttributeBody: "start +
// sizeof(uint32)").
func decodeInlineRegion(buf []byte) ([]rawEntry, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, nil
	}
	var m binstruct.U32le
	if _, err := binstruct.Unmarshal(buf[:4], &m); err != nil {
		return nil, nil, err
	}
	if uint32(m) != ext.XAttrMagic {
		return nil, nil, nil
	}
	entries, err := decodeEntryArray(buf[4:])
	return entries, buf[4:], err
}

// decodeExternalRegion walks a dedicated attribute block: a full
// ext.XAttrHeader followed by the entry array (original_source's
// _FindAttributeBlock).
func decodeExternalRegion(buf []byte) ([]rawEntry, []byte, error) {
	if len(buf) < int(ext.XAttrHeaderSize) {
		return nil, nil, nil
	}
	var hdr ext.XAttrHeader
	if _, err := binstruct.Unmarshal(buf[:ext.XAttrHeaderSize], &hdr); err != nil {
		return nil, nil, err
	}
	if uint32(hdr.Magic) != ext.XAttrMagic || uint32(hdr.Blocks) != 1 || uint32(hdr.RefCount) > 1024 {
		return nil, nil, nil
	}
	body := buf[ext.XAttrHeaderSize:]
	entries, err := decodeEntryArray(body)
	return entries, body, err
}

// decodeEntryArray walks entries starting at buf[0] until the
// zero-length sentinel (original_source's ext2_xattr_entry::IsValid:
// "NameLength() > 0"), each entry's on-disk stride rounded up to
// ext.XAttrRound as original_source's Length() computes.
func decodeEntryArray(buf []byte) ([]rawEntry, error) {
	var out []rawEntry
	off := 0
	for off+ext.XAttrEntryHeaderSize <= len(buf) {
		var e ext.XAttrEntry
		if _, err := binstruct.Unmarshal(buf[off:off+ext.XAttrEntryHeaderSize], &e); err != nil {
			return nil, err
		}
		nameLen := int(e.NameLength)
		if nameLen == 0 {
			break
		}
		nameStart := off + ext.XAttrEntryHeaderSize
		nameEnd := nameStart + nameLen
		if nameEnd > len(buf) {
			return nil, fserrors.New(fserrors.BadData, "attr.decodeEntryArray",
				fmt.Errorf("entry name of length %d overruns region", nameLen))
		}
		out = append(out, rawEntry{entry: e, name: string(buf[nameStart:nameEnd])})
		off += (ext.XAttrEntryHeaderSize + nameLen + ext.XAttrRound) &^ ext.XAttrRound
	}
	return out, nil
}

// value extracts an entry's value bytes from region, the same buffer
// decodeEntryArray was called against (ValueOffset/ValueSize are both
// relative to that region's start).
func value(region []byte, e ext.XAttrEntry) ([]byte, error) {
	start := int(e.ValueOffset)
	size := int(e.ValueSize)
	if start < 0 || size < 0 || start+size > len(region) {
		return nil, fserrors.New(fserrors.BadData, "attr.value",
			fmt.Errorf("value [%d,%d) outside region of length %d", start, start+size, len(region)))
	}
	out := make([]byte, size)
	copy(out, region[start:start+size])
	return out, nil
}
