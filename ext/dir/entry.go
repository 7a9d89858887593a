package dir

import (
	"encoding/binary"
	"fmt"

	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// minEntrySize is the smallest legal record: an 8-byte header plus the
// 4-byte rounding pad, per spec.md §4.4's "length > min_size".
const minEntrySize = ext.DirEntryHeaderSize + 4

// padAlign rounds n up to the next multiple of 4 (spec.md §4.4's
// "length is 4-aligned unless terminal").
func padAlign(n int) int { return (n + 3) &^ 3 }

// entry is a decoded directory record: the fixed header plus its name
// and the record length it occupies on disk (which may exceed
// header+name to reach the next 4-aligned boundary or to pad out to
// block end).
type entry struct {
	InodeID  uint64
	FileType uint8
	Name     string
	Offset   int
	RecLen   int
}

// decodeEntryAt reads one on-disk record starting at offset within
// block, returning its RecLen so the caller can advance regardless of
// whether the entry is live or a tombstone.
func decodeEntryAt(block []byte, offset int) (entry, error) {
	if offset+ext.DirEntryHeaderSize > len(block) {
		return entry{}, fserrors.New(fserrors.BadData, "dir.decodeEntryAt",
			fmt.Errorf("record header at %d exceeds block size %d", offset, len(block)))
	}
	var raw ext.DirEntry
	if _, err := binstruct.Unmarshal(block[offset:offset+ext.DirEntryHeaderSize], &raw); err != nil {
		return entry{}, err
	}
	recLen := int(raw.Length)
	if recLen < minEntrySize {
		return entry{}, fserrors.New(fserrors.BadData, "dir.decodeEntryAt",
			fmt.Errorf("record length %d below minimum %d", recLen, minEntrySize))
	}
	if offset+recLen > len(block) {
		return entry{}, fserrors.New(fserrors.BadData, "dir.decodeEntryAt",
			fmt.Errorf("record at %d length %d exceeds block size %d", offset, recLen, len(block)))
	}
	nameLen := int(raw.NameLength)
	nameStart := offset + ext.DirEntryHeaderSize
	if nameStart+nameLen > len(block) {
		return entry{}, fserrors.New(fserrors.BadData, "dir.decodeEntryAt",
			fmt.Errorf("name at %d length %d exceeds block size %d", nameStart, nameLen, len(block)))
	}
	name := string(block[nameStart : nameStart+nameLen])
	return entry{
		InodeID:  uint64(raw.InodeID),
		FileType: uint8(raw.FileType),
		Name:     name,
		Offset:   offset,
		RecLen:   recLen,
	}, nil
}

// encodeEntryInto writes name/inodeID/fileType as a live record of
// exactly recLen bytes at offset within block; recLen must already
// accommodate the header and name (padAlign(header+len(name))) and any
// trailing slack the caller wants the record to absorb.
func encodeEntryInto(block []byte, offset, recLen int, inodeID uint64, fileType uint8, name string) {
	binary.LittleEndian.PutUint32(block[offset:], uint32(inodeID))
	binary.LittleEndian.PutUint16(block[offset+4:], uint16(recLen))
	block[offset+6] = byte(len(name))
	block[offset+7] = fileType
	copy(block[offset+ext.DirEntryHeaderSize:], name)
	// Zero any slack between the name and the record's end so a stale
	// tail from a previous, longer record never leaks through.
	tailStart := offset + ext.DirEntryHeaderSize + len(name)
	for i := tailStart; i < offset+recLen; i++ {
		block[i] = 0
	}
}

// requiredRecLen is the 4-aligned record length a live entry for name
// needs, not counting any extra slack absorbed from a larger gap.
func requiredRecLen(name string) int {
	return padAlign(ext.DirEntryHeaderSize + len(name))
}
