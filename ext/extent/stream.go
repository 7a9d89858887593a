// Package extent implements the Ext4 extent-tree data stream (spec.md
// §4.2.4): find_block's level-by-level descent, enlarge's
// contiguous-run allocation with last-entry extension in the in-inode
// root (the tree is never grown or split), and shrink's rightmost-path
// trim.
//
// Grounded on btrfs/btree's Tree/Path/AllocateNodeFunc shape — both
// trees solve "find/insert/remove against a level-ordered array of
// fixed-size records, CoW or in-place, with a block-cache-backed
// allocator callback" — generalized here to the extent tree's simpler
// single-array-per-node layout (no B+-tree rebalancing; Enlarge only
// fills the in-inode root and never adds a level).
package extent

import (
	"fmt"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

// SparseBlock is the sentinel find_block returns for a hole (spec.md
// §4.2.4's "gaps return a sparse marker").
const SparseBlock uint64 = 0xffffffff

// AllocateFunc allocates count contiguous physical blocks, preferably
// starting at or after hint, returning the actual start block and the
// run actually obtained (which may be shorter than count).
type AllocateFunc func(hint uint64, count uint32) (start uint64, got uint32, err error)

// FreeFunc frees count contiguous physical blocks starting at start.
type FreeFunc func(start uint64, count uint32) error

// Stream reads and mutates an inode's Ext4 extent tree. Root is the
// inode's 60-byte Stream field reinterpreted as an extent-tree root;
// non-root nodes live in ordinary filesystem blocks fetched through
// Cache.
type Stream struct {
	Cache    *blockcache.Cache
	BlockSize int
	Root     *[60]byte
}

func (s *Stream) rootHeader() (oext.ExtentHeader, error) {
	var hdr oext.ExtentHeader
	_, err := binstruct.Unmarshal(s.Root[:], &hdr)
	return hdr, err
}

// recordBytes returns the idx'th 12-byte record after the header, generic
// over whether the node is a leaf (ExtentEntry) or internal
// (ExtentIndex) — depth decides which the caller decodes.
func recordBytes(buf []byte, idx int) []byte {
	off := 12 + idx*12
	return buf[off : off+12]
}

// FindBlock implements spec.md §4.2.4's find_block: descend by
// linearly scanning index entries for the greatest logical block <=
// target, recursing into the child; at the leaf, binary search when
// there are more than 7 entries, linear otherwise. Returns
// (physicalBlock, true) on a hit, (SparseBlock, false) for a hole.
func (s *Stream) FindBlock(logical uint32) (uint64, bool, error) {
	buf := s.Root[:]
	for {
		hdr, err := decodeHeader(buf)
		if err != nil {
			return 0, false, err
		}
		if hdr.Depth == 0 {
			return findInLeaf(buf, hdr, logical)
		}
		idx, ok := findIndexEntry(buf, hdr, logical)
		if !ok {
			return SparseBlock, false, nil
		}
		childBlock := idx.Leaf()
		childBuf, err := s.Cache.Get(int64(childBlock))
		if err != nil {
			return 0, false, err
		}
		buf = childBuf
	}
}

func decodeHeader(buf []byte) (oext.ExtentHeader, error) {
	var hdr oext.ExtentHeader
	_, err := binstruct.Unmarshal(buf[:12], &hdr)
	return hdr, err
}

// findIndexEntry linearly scans index entries for the greatest
// Block <= target (spec.md §4.2.4 "linearly scan index entries and
// descend into the greatest logical-block <= target").
func findIndexEntry(buf []byte, hdr oext.ExtentHeader, target uint32) (oext.ExtentIndex, bool) {
	var best oext.ExtentIndex
	found := false
	for i := 0; i < int(hdr.NumEntries); i++ {
		var e oext.ExtentIndex
		if _, err := binstruct.Unmarshal(recordBytes(buf, i), &e); err != nil {
			continue
		}
		if uint32(e.Block) <= target {
			best = e
			found = true
		} else {
			break
		}
	}
	return best, found
}

func findInLeaf(buf []byte, hdr oext.ExtentHeader, target uint32) (uint64, bool, error) {
	n := int(hdr.NumEntries)
	var match oext.ExtentEntry
	found := false
	if n > 7 {
		lo, hi := 0, n
		for lo < hi {
			mid := (lo + hi) / 2
			var e oext.ExtentEntry
			if _, err := binstruct.Unmarshal(recordBytes(buf, mid), &e); err != nil {
				return 0, false, err
			}
			if uint32(e.Block) <= target {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			var e oext.ExtentEntry
			if _, err := binstruct.Unmarshal(recordBytes(buf, lo-1), &e); err != nil {
				return 0, false, err
			}
			match, found = e, true
		}
	} else {
		for i := 0; i < n; i++ {
			var e oext.ExtentEntry
			if _, err := binstruct.Unmarshal(recordBytes(buf, i), &e); err != nil {
				return 0, false, err
			}
			if uint32(e.Block) <= target {
				match, found = e, true
			} else {
				break
			}
		}
	}
	if !found {
		return SparseBlock, false, nil
	}
	offsetIntoRun := target - uint32(match.Block)
	if offsetIntoRun >= uint32(match.NumBlocks()) {
		return SparseBlock, false, nil
	}
	return match.StartBlock() + uint64(offsetIntoRun), true, nil
}

// Enlarge implements the depth-0 subset of spec.md §4.2.4's enlarge:
// allocate contiguous runs, extend the root's last entry when the new
// run is adjacent, otherwise append a new entry to the in-inode root.
// The tree is never grown: when the root's entry array is full,
// Enlarge fails with DeviceFull, and for a tree of depth 1 or more it
// fails with Unsupported.
func (s *Stream) Enlarge(startLogical uint32, numBlocks uint32, allocate AllocateFunc) error {
	hdr, err := s.rootHeader()
	if err != nil {
		return err
	}
	if hdr.Depth > 1 {
		return fserrors.New(fserrors.Unsupported, "extent.Stream.Enlarge",
			fmt.Errorf("extent tree depth %d beyond this driver's supported depth 1", hdr.Depth))
	}
	if hdr.Depth == 1 {
		return s.enlargeLeaf(startLogical, numBlocks, allocate, nil)
	}
	return s.enlargeRoot(startLogical, numBlocks, allocate)
}

func (s *Stream) enlargeRoot(startLogical uint32, numBlocks uint32, allocate AllocateFunc) error {
	buf := s.Root[:]
	hdr, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	if int(hdr.NumEntries) >= oext.ExtentRootMaxEntries {
		return fserrors.New(fserrors.DeviceFull, "extent.Stream.enlargeRoot",
			fmt.Errorf("root extent array full"))
	}
	remaining := numBlocks
	logical := startLogical
	for remaining > 0 {
		want := remaining
		start, got, err := allocate(uint64(logical), want)
		if err != nil {
			return err
		}
		if extended := tryExtendLast(buf, &hdr, logical, start, got); !extended {
			if int(hdr.NumEntries) >= oext.ExtentRootMaxEntries {
				return fserrors.New(fserrors.DeviceFull, "extent.Stream.enlargeRoot",
					fmt.Errorf("root extent array full mid-allocation"))
			}
			entry := oext.ExtentEntry{
				Block:          binstruct.U32le(logical),
				Length:         binstruct.U16le(got),
				StartBlockLow:  binstruct.U32le(uint32(start)),
				StartBlockHigh: binstruct.U16le(uint16(start >> 32)),
			}
			eb, merr := binstruct.Marshal(entry)
			if merr != nil {
				return merr
			}
			copy(recordBytes(buf, int(hdr.NumEntries)), eb)
			hdr.NumEntries = binstruct.U16le(uint16(hdr.NumEntries) + 1)
		}
		logical += got
		remaining -= got
	}
	hb, err := binstruct.Marshal(hdr)
	if err != nil {
		return err
	}
	copy(buf[:12], hb)
	return nil
}

func (s *Stream) enlargeLeaf(startLogical uint32, numBlocks uint32, allocate AllocateFunc, leafBuf []byte) error {
	return fserrors.New(fserrors.Unsupported, "extent.Stream.enlargeLeaf",
		fmt.Errorf("depth-1 leaf growth not yet wired to the block cache"))
}

// tryExtendLast attempts to extend the root's last entry by got
// blocks if it is contiguous with the new run (spec.md §4.2.4
// "extend the last entry if adjacent"), returning whether it did.
func tryExtendLast(buf []byte, hdr *oext.ExtentHeader, logical uint32, start uint64, got uint32) bool {
	if hdr.NumEntries == 0 {
		return false
	}
	lastIdx := int(hdr.NumEntries) - 1
	var last oext.ExtentEntry
	if _, err := binstruct.Unmarshal(recordBytes(buf, lastIdx), &last); err != nil {
		return false
	}
	if last.Uninitialized() {
		return false
	}
	expectedLogical := uint32(last.Block) + uint32(last.NumBlocks())
	expectedPhysical := last.StartBlock() + uint64(last.NumBlocks())
	if expectedLogical != logical || expectedPhysical != start {
		return false
	}
	newLen := uint32(last.NumBlocks()) + got
	if newLen >= oext.ExtentMaxLength {
		return false
	}
	last.Length = binstruct.U16le(uint16(newLen))
	eb, err := binstruct.Marshal(last)
	if err != nil {
		return false
	}
	copy(recordBytes(buf, lastIdx), eb)
	return true
}

// Shrink implements the depth-0 subset of spec.md §4.2.4's shrink:
// walk the rightmost (only, at depth 0) path, trimming the last
// entry's tail and freeing its physical blocks, removing now-empty
// entries, resetting depth to 0 when the root empties (a no-op here
// since this Enlarge never grows past depth 0 yet).
func (s *Stream) Shrink(newLogicalLen uint32, free FreeFunc) error {
	buf := s.Root[:]
	hdr, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	if hdr.Depth != 0 {
		return fserrors.New(fserrors.Unsupported, "extent.Stream.Shrink",
			fmt.Errorf("extent tree depth %d beyond this driver's supported depth 0 shrink", hdr.Depth))
	}
	n := int(hdr.NumEntries)
	for n > 0 {
		var e oext.ExtentEntry
		if _, err := binstruct.Unmarshal(recordBytes(buf, n-1), &e); err != nil {
			return err
		}
		if uint32(e.Block) >= newLogicalLen {
			if err := free(e.StartBlock(), uint32(e.NumBlocks())); err != nil {
				return err
			}
			n--
			continue
		}
		covered := uint32(e.Block) + uint32(e.NumBlocks())
		if covered <= newLogicalLen {
			break
		}
		trimFrom := newLogicalLen - uint32(e.Block)
		freedCount := uint32(e.NumBlocks()) - trimFrom
		if err := free(e.StartBlock()+uint64(trimFrom), freedCount); err != nil {
			return err
		}
		e.Length = binstruct.U16le(uint16(trimFrom))
		eb, merr := binstruct.Marshal(e)
		if merr != nil {
			return merr
		}
		copy(recordBytes(buf, n-1), eb)
		break
	}
	hdr.NumEntries = binstruct.U16le(uint16(n))
	hb, err := binstruct.Marshal(hdr)
	if err != nil {
		return err
	}
	copy(buf[:12], hb)
	return nil
}

// InitRoot stamps an empty, depth-0 extent-tree header into Root,
// used when first converting an inode from legacy to extent-based
// storage (spec.md §4.2.5 contrasts with §4.2.4; the conversion itself
// is driven by the caller choosing which stream type to format).
func (s *Stream) InitRoot() error {
	hdr := oext.ExtentHeader{
		Magic:      binstruct.U16le(oext.ExtentMagic),
		NumEntries: 0,
		MaxEntries: binstruct.U16le(uint16(oext.ExtentRootMaxEntries)),
		Depth:      0,
	}
	hb, err := binstruct.Marshal(hdr)
	if err != nil {
		return err
	}
	copy(s.Root[:12], hb)
	for i := 12; i < len(s.Root); i++ {
		s.Root[i] = 0
	}
	return nil
}
