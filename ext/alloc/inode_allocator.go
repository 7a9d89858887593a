package alloc

import (
	"fmt"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
)

// InodeGroupSource mirrors GroupSource for inode bitmaps, plus the
// bookkeeping InodeAllocator must update on the caller's group
// descriptor after a successful allocation (free-inode count and, for
// directories, used-directory count) — spec.md §4.5.6.
type InodeGroupSource interface {
	GroupSource
	// LazyInit is called by Allocate for every group it scans, before
	// the group's bitmap is read. It does nothing unless the group
	// descriptor's INODE_UNINIT flag is set; in that case the
	// implementation marks the bitmap as if freshly zeroed
	// (spec.md §4.5.6's "lazily initialises a group's inode bitmap"),
	// clears INODE_UNINIT, and records the unused-inode suffix length
	// for the descriptor's checksum.
	LazyInit(groupNum uint32) error
	// OnInodeAllocated updates the group descriptor's free-inode
	// count and, when isDir is true, its used-directories count.
	OnInodeAllocated(groupNum uint32, isDir bool) error
	// OnInodeFreed is the inverse of OnInodeAllocated.
	OnInodeFreed(groupNum uint32, isDir bool) error
}

// InodeAllocator implements spec.md §4.5.6, parallel to BlockAllocator
// but scanning for a single clear bit rather than a run, and updating
// the group descriptor's free-inode/used-directory counters.
type InodeAllocator struct {
	Groups InodeGroupSource
}

// NewInodeAllocator constructs an InodeAllocator over the given group source.
func NewInodeAllocator(groups InodeGroupSource) *InodeAllocator {
	return &InodeAllocator{Groups: groups}
}

// Allocate scans starting at preferredGroup, then wraps, for the first
// group with a free inode bit, lazily initialising an INODE_UNINIT
// group's bitmap on first touch. Returns the absolute inode number
// (1-based, matching Ext's on-disk inode numbering).
func (a *InodeAllocator) Allocate(cache *blockcache.Cache, txn blockcache.TxnID, preferredGroup uint32, inodesPerGroup uint32, isDir bool) (uint64, error) {
	numGroups := a.Groups.NumGroups()
	if numGroups == 0 {
		return 0, fserrors.New(fserrors.DeviceFull, "alloc.InodeAllocator.Allocate", nil)
	}
	for i := uint32(0); i < numGroups; i++ {
		groupNum := (preferredGroup + i) % numGroups
		if err := a.Groups.LazyInit(groupNum); err != nil {
			return 0, err
		}
		group, err := a.Groups.Group(groupNum)
		if err != nil {
			return 0, err
		}
		if group.FreeBits == 0 {
			continue
		}
		bitIdx, ok := group.Bitmap.FindNextUnmarked(0)
		if !ok {
			continue
		}
		if err := group.Allocate(cache, txn, bitIdx, 1); err != nil {
			return 0, err
		}
		if err := a.Groups.OnInodeAllocated(groupNum, isDir); err != nil {
			return 0, err
		}
		return uint64(groupNum)*uint64(inodesPerGroup) + uint64(bitIdx) + 1, nil
	}
	return 0, fserrors.New(fserrors.DeviceFull, "alloc.InodeAllocator.Allocate",
		fmt.Errorf("no group has a free inode"))
}

// Free clears the bit for inodeID and updates the owning group's
// counters.
func (a *InodeAllocator) Free(cache *blockcache.Cache, txn blockcache.TxnID, inodeID uint64, inodesPerGroup uint32, isDir bool) error {
	if inodesPerGroup == 0 {
		return fserrors.New(fserrors.BadValue, "alloc.InodeAllocator.Free", nil)
	}
	zeroBased := inodeID - 1
	groupNum := uint32(zeroBased / uint64(inodesPerGroup))
	bitIdx := int(zeroBased % uint64(inodesPerGroup))
	group, err := a.Groups.Group(groupNum)
	if err != nil {
		return err
	}
	if err := group.Free(cache, txn, bitIdx, 1); err != nil {
		return err
	}
	return a.Groups.OnInodeFreed(groupNum, isDir)
}
