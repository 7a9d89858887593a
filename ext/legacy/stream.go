// Package legacy implements the Ext2/3 legacy (non-extent) data
// stream (spec.md §4.2.5): ten direct block pointers, one single,
// one double, and one triple indirect pointer, with find_block
// dispatching by range and sparse children reading as zero.
//
// Grounded on original_source/ext2/ext2.h's ext2_data_stream layout
// (already transcribed as oext.DataStream) and on the ext/extent
// package's Stream shape — both are "map a logical block number to a
// physical one, or report a hole" data-stream abstractions operated on
// by the same Inode.ReadAt/WriteAt contract (spec.md §4.3), so this
// package mirrors extent.Stream's FindBlock/Enlarge/Shrink method
// names and AllocateFunc/FreeFunc signatures even though the on-disk
// shape underneath is entirely different.
package legacy

import (
	"encoding/binary"
	"fmt"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

// PointersPerBlock is how many 32-bit block pointers fit in one
// filesystem block of the given size.
func PointersPerBlock(blockSize int) int { return blockSize / 4 }

// AllocateFunc allocates a single physical block, returning its
// number.
type AllocateFunc func() (uint64, error)

// FreeFunc frees a single physical block.
type FreeFunc func(uint64) error

// Stream reads and mutates an inode's legacy direct/indirect block
// mapping.
type Stream struct {
	Cache     *blockcache.Cache
	BlockSize int
	Data      *oext.DataStream
}

func (s *Stream) ppb() int { return PointersPerBlock(s.BlockSize) }

// FindBlock implements spec.md §4.2.5's find_block: dispatch by which
// range (direct/single/double/triple) the logical block falls in,
// descending through indirect blocks read via the cache. Sparse
// children (a zero pointer anywhere along the path) return
// (0, false, nil) rather than an error.
func (s *Stream) FindBlock(logical uint32) (uint64, bool, error) {
	ppb := uint32(s.ppb())
	if logical < oext.DirectBlocks {
		ptr := uint32(s.Data.Direct[logical])
		return uint64(ptr), ptr != 0, nil
	}
	logical -= oext.DirectBlocks

	if logical < ppb {
		return s.descend1(uint32(s.Data.Indirect), logical)
	}
	logical -= ppb

	if logical < ppb*ppb {
		return s.descend2(uint32(s.Data.DoubleIndirect), logical)
	}
	logical -= ppb * ppb

	if logical < ppb*ppb*ppb {
		return s.descend3(uint32(s.Data.TripleIndirect), logical)
	}
	return 0, false, fserrors.New(fserrors.BadValue, "legacy.Stream.FindBlock",
		fmt.Errorf("logical block %d beyond triple-indirect range", logical))
}

func (s *Stream) readPointer(block uint32, idx int) (uint32, error) {
	if block == 0 {
		return 0, nil
	}
	buf, err := s.Cache.Get(int64(block))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[idx*4:]), nil
}

func (s *Stream) descend1(block uint32, logical uint32) (uint64, bool, error) {
	ptr, err := s.readPointer(block, int(logical))
	if err != nil {
		return 0, false, err
	}
	return uint64(ptr), ptr != 0, nil
}

func (s *Stream) descend2(block uint32, logical uint32) (uint64, bool, error) {
	ppb := uint32(s.ppb())
	outer := logical / ppb
	inner := logical % ppb
	child, err := s.readPointer(block, int(outer))
	if err != nil {
		return 0, false, err
	}
	if child == 0 {
		return 0, false, nil
	}
	return s.descend1(child, inner)
}

func (s *Stream) descend3(block uint32, logical uint32) (uint64, bool, error) {
	ppb := uint32(s.ppb())
	outer := logical / (ppb * ppb)
	inner := logical % (ppb * ppb)
	child, err := s.readPointer(block, int(outer))
	if err != nil {
		return 0, false, err
	}
	if child == 0 {
		return 0, false, nil
	}
	return s.descend2(child, inner)
}

// Enlarge implements the direct-range subset of spec.md §4.2.5's
// enlarge: allocating blocks for logical positions still within the
// direct pointers. Indirect-range growth (single/double/triple) needs
// write access to freshly CoW-initialised indirect blocks through the
// block cache's transaction machinery and is intentionally not
// implemented yet — see DESIGN.md's Open Question decision on legacy
// stream write support.
func (s *Stream) Enlarge(logical uint32, allocate AllocateFunc) error {
	if logical >= oext.DirectBlocks {
		return fserrors.New(fserrors.Unsupported, "legacy.Stream.Enlarge",
			fmt.Errorf("indirect-range growth not yet implemented"))
	}
	if uint32(s.Data.Direct[logical]) != 0 {
		return nil
	}
	block, err := allocate()
	if err != nil {
		return err
	}
	s.Data.Direct[logical] = binstruct.U32le(uint32(block))
	return nil
}

// Shrink frees every allocated direct pointer at or after logical
// (the direct-range subset of spec.md §4.2.5's shrink).
func (s *Stream) Shrink(logical uint32, free FreeFunc) error {
	for i := uint32(logical); i < oext.DirectBlocks; i++ {
		ptr := uint32(s.Data.Direct[i])
		if ptr == 0 {
			continue
		}
		if err := free(uint64(ptr)); err != nil {
			return err
		}
		s.Data.Direct[i] = 0
	}
	if logical >= oext.DirectBlocks && (uint32(s.Data.Indirect) != 0 || uint32(s.Data.DoubleIndirect) != 0 || uint32(s.Data.TripleIndirect) != 0) {
		return fserrors.New(fserrors.Unsupported, "legacy.Stream.Shrink",
			fmt.Errorf("indirect-range shrink not yet implemented"))
	}
	return nil
}
