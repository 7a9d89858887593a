package alloc

import (
	"fmt"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
)

// GroupSource provides a BlockAllocator/InodeAllocator with access to
// a loaded AllocationBlockGroup by group number, lazily loading and
// initialising it (including the INODE_UNINIT/BLOCK_UNINIT lazy-init
// path) on first touch. Implemented by the ext Volume, kept as an
// interface here the way btrfs/alloc.TreeScanner decouples the
// allocator packages from the tree engine.
type GroupSource interface {
	Group(groupNum uint32) (*AllocationBlockGroup, error)
	NumGroups() uint32
}

// BlockAllocator implements spec.md §4.5.3: preferred-group-then-wrap
// first-fit-largest-run allocation over the groups yielded by a
// GroupSource.
type BlockAllocator struct {
	Groups GroupSource
}

// NewBlockAllocator constructs a BlockAllocator over the given group source.
func NewBlockAllocator(groups GroupSource) *BlockAllocator {
	return &BlockAllocator{Groups: groups}
}

// PreferredGroup returns (inodeID-1) / inodesPerGroup (inode numbers
// start at 1), the file-locality
// policy spec.md §4.5.3 mandates: new blocks for a file land near its
// inode's own group.
func PreferredGroup(inodeID uint64, inodesPerGroup uint32) uint32 {
	if inodesPerGroup == 0 {
		return 0
	}
	return uint32((inodeID - 1) / uint64(inodesPerGroup))
}

// Allocate scans starting at preferredGroup, then wraps through every
// remaining group, picking the first group with a free run >= min.
// The run is clipped to max. Fails with DeviceFull when no group
// qualifies.
func (a *BlockAllocator) Allocate(cache *blockcache.Cache, txn blockcache.TxnID, preferredGroup uint32, min, max int) (uint32, int, int, error) {
	numGroups := a.Groups.NumGroups()
	if numGroups == 0 {
		return 0, 0, 0, fserrors.New(fserrors.DeviceFull, "alloc.BlockAllocator.Allocate", nil)
	}
	for i := uint32(0); i < numGroups; i++ {
		groupNum := (preferredGroup + i) % numGroups
		group, err := a.Groups.Group(groupNum)
		if err != nil {
			return 0, 0, 0, err
		}
		if group.LargestRun < min {
			continue
		}
		start, length := group.Bitmap.FindLargestUnmarkedRange()
		if length < min {
			continue
		}
		if length > max {
			length = max
		}
		if err := group.Allocate(cache, txn, start, length); err != nil {
			return 0, 0, 0, err
		}
		return groupNum, start, length, nil
	}
	return 0, 0, 0, fserrors.New(fserrors.DeviceFull, "alloc.BlockAllocator.Allocate",
		fmt.Errorf("no group has a free run >= %d bits", min))
}
