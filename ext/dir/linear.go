// Linear scanning, in-place insertion, and tombstone-merge removal
// over a single directory block, grounded on spec.md §4.4's "Linear
// iterator" and "Removal" paragraphs and on original_source's
// ext2 directory-block walk (skip zero-inode records by their
// recorded length, coalesce a freed record into its predecessor).
package dir

import (
	"fmt"

	"github.com/vnodefs/vnodefs/fserrors"
)

// scanBlock walks every record in block from offset 0, calling visit
// for each one (live or tombstoned). visit returns false to stop the
// scan early.
func scanBlock(block []byte, visit func(e entry) bool) error {
	offset := 0
	for offset < len(block) {
		e, err := decodeEntryAt(block, offset)
		if err != nil {
			return err
		}
		if !visit(e) {
			return nil
		}
		offset += e.RecLen
	}
	return nil
}

// lookupInBlock linearly scans block for name, per spec.md §4.4's
// linear iterator: tombstoned (zero-inode) records are skipped.
func lookupInBlock(block []byte, name string) (entry, bool, error) {
	var found entry
	ok := false
	err := scanBlock(block, func(e entry) bool {
		if !e.IsTombstoneEntry() && e.Name == name {
			found = e
			ok = true
			return false
		}
		return true
	})
	return found, ok, err
}

// IsTombstoneEntry reports a freed record (spec.md §4.4: "Tomb-stoned
// entries (inode_id == 0) are skipped").
func (e entry) IsTombstoneEntry() bool { return e.InodeID == 0 }

// insertIntoBlock finds a record whose live payload leaves enough
// trailing slack to carve out a new record of the required size for
// name, and writes it there, splitting the host record's length
// between the surviving live entry (or tombstone) and the new one.
// Returns false if no record in block has enough room.
func insertIntoBlock(block []byte, name string, inodeID uint64, fileType uint8) (bool, error) {
	need := requiredRecLen(name)
	inserted := false
	err := scanBlock(block, func(e entry) bool {
		used := 0
		if !e.IsTombstoneEntry() {
			used = requiredRecLen(e.Name)
		}
		slack := e.RecLen - used
		if slack < need {
			return true
		}
		if used > 0 {
			// Shrink the live host record to its own minimum size and
			// carve the new entry out of the freed tail.
			encodeEntryInto(block, e.Offset, used, e.InodeID, e.FileType, e.Name)
			encodeEntryInto(block, e.Offset+used, e.RecLen-used, inodeID, fileType, name)
		} else {
			// The whole record is a tombstone; reuse it in place.
			encodeEntryInto(block, e.Offset, e.RecLen, inodeID, fileType, name)
		}
		inserted = true
		return false
	})
	return inserted, err
}

// removeFromBlock tombstones the record named name by zeroing its
// inode id. Per spec.md §4.4's "Removal", the freed space is then
// merged into the preceding entry's length rather than left as its own
// zero-inode record, except when the removed entry is the first
// record in the block (no predecessor to absorb it into).
func removeFromBlock(block []byte, name string) (bool, error) {
	prevOffset := -1
	removedOffset := -1
	removedLen := 0
	err := scanBlock(block, func(e entry) bool {
		if !e.IsTombstoneEntry() && e.Name == name {
			removedOffset = e.Offset
			removedLen = e.RecLen
			return false
		}
		prevOffset = e.Offset
		return true
	})
	if err != nil {
		return false, err
	}
	if removedOffset < 0 {
		return false, nil
	}
	if prevOffset < 0 {
		// First record in the block: tombstone without merging.
		block[removedOffset] = 0
		block[removedOffset+1] = 0
		block[removedOffset+2] = 0
		block[removedOffset+3] = 0
		return true, nil
	}
	prev, err := decodeEntryAt(block, prevOffset)
	if err != nil {
		return false, err
	}
	newLen := prev.RecLen + removedLen
	if newLen > 0xffff {
		return false, fserrors.New(fserrors.Bug, "dir.removeFromBlock",
			fmt.Errorf("merged record length %d overflows uint16", newLen))
	}
	encodeEntryInto(block, prev.Offset, newLen, prev.InodeID, prev.FileType, prev.Name)
	return true, nil
}
