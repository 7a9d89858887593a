// HTree root parsing and single-level descent (spec.md §4.4's "HTree
// (Ext4 indexed)" paragraph), grounded on ondisk/ext's HTreeRoot /
// HTreeEntry / HTreeCountLimit framing.
package dir

import (
	"fmt"
	"sort"

	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// htreeRootBlock describes block 0 of an HTree-indexed directory
// after its fake "." record: the root info header followed by a
// (limit, count) array of (hash, block) entries.
type htreeRootBlock struct {
	dotDotOffset   int // offset of the fake ".." record that hosts the root info
	info           ext.HTreeRoot
	countLimitAt   int
	entries        []ext.HTreeEntry
}

// parseHTreeRoot locates the fake "." record (always first, minimum
// size), then the fake ".." record immediately after it — whose
// Length field spans to block end — which hosts the HTreeRoot info
// struct starting at its own offset, with the (limit,count)+entries
// array immediately following.
func parseHTreeRoot(block []byte) (htreeRootBlock, error) {
	dot, err := decodeEntryAt(block, 0)
	if err != nil {
		return htreeRootBlock{}, err
	}
	dotDotOffset := dot.Offset + dot.RecLen
	if dotDotOffset+ext.DirEntryHeaderSize > len(block) {
		return htreeRootBlock{}, fserrors.New(fserrors.BadData, "dir.parseHTreeRoot",
			fmt.Errorf("no room for htree root after fake '.' entry"))
	}
	var info ext.HTreeRoot
	if _, err := binstruct.Unmarshal(block[dotDotOffset:dotDotOffset+0x10], &info); err != nil {
		return htreeRootBlock{}, err
	}
	countLimitAt := dotDotOffset + 0x10
	var cl ext.HTreeCountLimit
	if _, err := binstruct.Unmarshal(block[countLimitAt:countLimitAt+4], &cl); err != nil {
		return htreeRootBlock{}, err
	}
	entries := make([]ext.HTreeEntry, 0, int(cl.Count))
	for i := 0; i < int(cl.Count); i++ {
		off := countLimitAt + 4 + i*8
		if off+8 > len(block) {
			return htreeRootBlock{}, fserrors.New(fserrors.BadData, "dir.parseHTreeRoot",
				fmt.Errorf("htree entry %d exceeds block size", i))
		}
		var he ext.HTreeEntry
		if _, err := binstruct.Unmarshal(block[off:off+8], &he); err != nil {
			return htreeRootBlock{}, err
		}
		entries = append(entries, he)
	}
	return htreeRootBlock{
		dotDotOffset: dotDotOffset,
		info:         info,
		countLimitAt: countLimitAt,
		entries:      entries,
	}, nil
}

// writeHTreeRoot serialises root back into block at the positions
// parseHTreeRoot previously located it (the (limit,count) header plus
// however many entries root.entries now holds; limit itself is left
// untouched since it only ever shrinks the usable array, never grows
// the block).
func writeHTreeRoot(block []byte, root htreeRootBlock) error {
	// Preserve the on-disk Limit; it only ever shrinks the usable
	// array, never grows the block, so it is never recomputed here.
	var onDisk ext.HTreeCountLimit
	if _, err := binstruct.Unmarshal(block[root.countLimitAt:root.countLimitAt+4], &onDisk); err != nil {
		return err
	}
	cl := ext.HTreeCountLimit{
		Limit: onDisk.Limit,
		Count: binstruct.U16le(uint16(len(root.entries))),
	}
	buf, err := binstruct.Marshal(&cl)
	if err != nil {
		return err
	}
	copy(block[root.countLimitAt:], buf)
	for i, he := range root.entries {
		buf, err := binstruct.Marshal(&he)
		if err != nil {
			return err
		}
		copy(block[root.countLimitAt+4+i*8:], buf)
	}
	return nil
}

// findRootEntry binary-searches entries (already in ascending hash
// order, entry[0].Hash always 0) for the greatest entry whose Hash <=
// target, per spec.md §4.4's "binary-search root entries for the
// greatest hash ≤ target".
func findRootEntry(entries []ext.HTreeEntry, target uint32) ext.HTreeEntry {
	idx := sort.Search(len(entries), func(i int) bool {
		return uint32(entries[i].Hash) > target
	})
	if idx == 0 {
		return entries[0]
	}
	return entries[idx-1]
}

// rootCapacity is how many HTreeEntry slots fit in block 0 after the
// fake "." and ".." records and the root info header.
func rootCapacity(blockSize, dotDotOffset int) int {
	return (blockSize - dotDotOffset - 0x10 - 4) / 8
}

// readIndexBlock reads the (limit, count) header and entry array of an
// interior HTree index block, which unlike the root has no preceding
// fake "."/".." records — its (limit, count) pair sits at offset 0.
func readIndexBlock(block []byte) (ext.HTreeCountLimit, []ext.HTreeEntry, error) {
	var cl ext.HTreeCountLimit
	if _, err := binstruct.Unmarshal(block[0:4], &cl); err != nil {
		return cl, nil, err
	}
	entries := make([]ext.HTreeEntry, 0, int(cl.Count))
	for i := 0; i < int(cl.Count); i++ {
		off := 4 + i*8
		if off+8 > len(block) {
			return cl, nil, fserrors.New(fserrors.BadData, "dir.readIndexBlock",
				fmt.Errorf("htree entry %d exceeds block size", i))
		}
		var he ext.HTreeEntry
		if _, err := binstruct.Unmarshal(block[off:off+8], &he); err != nil {
			return cl, nil, err
		}
		entries = append(entries, he)
	}
	return cl, entries, nil
}
