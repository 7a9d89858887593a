package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/btrfs/alloc"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

func newLoadedGroup(t *testing.T, start, length uint64) *alloc.BlockGroup {
	t.Helper()
	g := alloc.NewBlockGroup(start, length, obtrfs.ExtentFlagData)
	require.NoError(t, g.Extents.FillFreeExtents(start, start+length))
	return g
}

func TestExtentAllocatorAllocateFromPreferredGroup(t *testing.T) {
	a := alloc.NewExtentAllocator()
	a.AddGroup(newLoadedGroup(t, 0x0, 0x10000))
	a.AddGroup(newLoadedGroup(t, 0x10000, 0x10000))

	start, length, err := a.AllocateBlocks(0x1000, 0x1000, 0x10000, obtrfs.ExtentFlagData)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), start)
	assert.Equal(t, uint64(0x1000), length)
}

func TestExtentAllocatorWrapsWhenPreferredGroupFull(t *testing.T) {
	a := alloc.NewExtentAllocator()
	full := alloc.NewBlockGroup(0x10000, 0x1000, obtrfs.ExtentFlagData)
	a.AddGroup(full)
	a.AddGroup(newLoadedGroup(t, 0x0, 0x10000))

	start, _, err := a.AllocateBlocks(0x1000, 0x1000, 0x10000, obtrfs.ExtentFlagData)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0), start)
}

func TestExtentAllocatorFreeBlocksUnknownOffsetErrors(t *testing.T) {
	a := alloc.NewExtentAllocator()
	a.AddGroup(newLoadedGroup(t, 0x0, 0x1000))
	err := a.FreeBlocks(0x5000, 0x100)
	assert.Error(t, err)
}

func TestExtentAllocatorNoGroupsErrors(t *testing.T) {
	a := alloc.NewExtentAllocator()
	_, _, err := a.AllocateBlocks(0x1000, 0x1000, 0, obtrfs.ExtentFlagData)
	assert.Error(t, err)
}
