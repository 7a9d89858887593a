package alloc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
)

// fakeGroupSource is an in-memory GroupSource/InodeGroupSource stub
// for exercising BlockAllocator/InodeAllocator's group-selection
// policy without a real on-disk Volume.
type fakeGroupSource struct {
	groups      []*AllocationBlockGroup
	uninit      []bool
	freeInodes  []uint32
	usedDirs    []uint32
}

func newFakeGroupSource(numGroups int, bitsPerGroup int) *fakeGroupSource {
	fs := &fakeGroupSource{
		groups:     make([]*AllocationBlockGroup, numGroups),
		uninit:     make([]bool, numGroups),
		freeInodes: make([]uint32, numGroups),
		usedDirs:   make([]uint32, numGroups),
	}
	for i := range fs.groups {
		bm := NewBitmapBlock(make([]byte, bitsPerGroup/8))
		g := &AllocationBlockGroup{Bitmap: bm}
		_ = g.Init(bm.NumBits())
		fs.groups[i] = g
		fs.freeInodes[i] = uint32(bm.NumBits())
	}
	return fs
}

func (fs *fakeGroupSource) Group(groupNum uint32) (*AllocationBlockGroup, error) {
	if int(groupNum) >= len(fs.groups) {
		return nil, fserrors.New(fserrors.BadValue, "fakeGroupSource.Group", nil)
	}
	return fs.groups[groupNum], nil
}

func (fs *fakeGroupSource) NumGroups() uint32 { return uint32(len(fs.groups)) }

func (fs *fakeGroupSource) LazyInit(groupNum uint32) error {
	fs.uninit[groupNum] = false
	return nil
}

func (fs *fakeGroupSource) OnInodeAllocated(groupNum uint32, isDir bool) error {
	fs.freeInodes[groupNum]--
	if isDir {
		fs.usedDirs[groupNum]++
	}
	return nil
}

func (fs *fakeGroupSource) OnInodeFreed(groupNum uint32, isDir bool) error {
	fs.freeInodes[groupNum]++
	if isDir {
		fs.usedDirs[groupNum]--
	}
	return nil
}

func TestBlockAllocatorPicksPreferredGroup(t *testing.T) {
	cache := newTestCache(t)
	fs := newFakeGroupSource(4, 256)
	a := NewBlockAllocator(fs)

	txn := cache.StartTransaction()
	groupNum, start, length, err := a.Allocate(cache, txn, 2, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), groupNum)
	assert.Equal(t, 0, start)
	assert.Equal(t, 50, length)
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))
}

func TestBlockAllocatorWrapsWhenPreferredFull(t *testing.T) {
	cache := newTestCache(t)
	fs := newFakeGroupSource(3, 64)
	group0, _ := fs.Group(0)
	group0.Bitmap.Mark(0, 64, false)
	group0.FreeBits = 0
	group0.LargestRun = 0

	a := NewBlockAllocator(fs)
	txn := cache.StartTransaction()
	groupNum, _, _, err := a.Allocate(cache, txn, 0, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), groupNum)
}

func TestBlockAllocatorDeviceFull(t *testing.T) {
	cache := newTestCache(t)
	fs := newFakeGroupSource(2, 32)
	for _, g := range fs.groups {
		g.Bitmap.Mark(0, 32, false)
		g.FreeBits = 0
		g.LargestRun = 0
	}
	a := NewBlockAllocator(fs)
	txn := cache.StartTransaction()
	_, _, _, err := a.Allocate(cache, txn, 0, 1, 10)
	assert.ErrorIs(t, err, fserrors.ErrDeviceFull)
}

func TestPreferredGroup(t *testing.T) {
	assert.Equal(t, uint32(0), PreferredGroup(1, 100))
	assert.Equal(t, uint32(1), PreferredGroup(101, 100))
	assert.Equal(t, uint32(2), PreferredGroup(250, 100))
}
