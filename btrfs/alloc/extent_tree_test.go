package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/btrfs/alloc"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

func TestCachedExtentTreeInsertAndFindNext(t *testing.T) {
	tr := alloc.NewCachedExtentTree()
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x1000, Length: 0x1000, Free: false, Flags: obtrfs.ExtentFlagData}))
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x3000, Length: 0x2000, Free: true}))

	e, ok := tr.FindNext(0x0, 0x1000, false, obtrfs.ExtentFlagData)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), e.Offset)

	free, ok := tr.FindNext(0x0, 0x1000, true, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x3000), free.Offset)
}

func TestCachedExtentTreeAddExtentMergesOverlappingFree(t *testing.T) {
	tr := alloc.NewCachedExtentTree()
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x0, Length: 0x1500, Free: true}))
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x1000, Length: 0x1000, Free: true}))
	assert.Equal(t, 1, tr.Len())

	e, ok := tr.FindNext(0x0, 0x2000, true, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x0), e.Offset)
	assert.Equal(t, uint64(0x2000), e.Length)
}

func TestCachedExtentTreeAddExtentCarvesAllocatedOutOfFree(t *testing.T) {
	tr := alloc.NewCachedExtentTree()
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x0, Length: 0x10000, Free: true}))
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x1000, Length: 0x1000, Free: false, Flags: obtrfs.ExtentFlagData}))

	alloced, ok := tr.FindNext(0x0, 1, false, obtrfs.ExtentFlagData)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), alloced.Offset)

	before, ok := tr.FindNext(0x0, 1, true, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x0), before.Offset)
	assert.Equal(t, uint64(0x1000), before.Length)

	after, ok := tr.FindNext(0x2000, 1, true, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), after.Offset)
	assert.Equal(t, uint64(0xe000), after.Length)
}

func TestCachedExtentTreeAddExtentRejectsFlagConflict(t *testing.T) {
	tr := alloc.NewCachedExtentTree()
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x0, Length: 0x1000, Free: false, Flags: obtrfs.ExtentFlagData}))
	err := tr.AddExtent(alloc.Extent{Offset: 0x0, Length: 0x1000, Free: false, Flags: obtrfs.ExtentFlagTreeBlock})
	assert.Error(t, err)
}

func TestCachedExtentTreeFillFreeExtents(t *testing.T) {
	tr := alloc.NewCachedExtentTree()
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x1000, Length: 0x1000, Free: false, Flags: obtrfs.ExtentFlagData}))
	require.NoError(t, tr.AddExtent(alloc.Extent{Offset: 0x4000, Length: 0x1000, Free: false, Flags: obtrfs.ExtentFlagData}))

	require.NoError(t, tr.FillFreeExtents(0x0, 0x5000))

	e, ok := tr.FindNext(0x0, 1, true, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x0), e.Offset)
	assert.Equal(t, uint64(0x1000), e.Length)

	e2, ok := tr.FindNext(0x2000, 1, true, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), e2.Offset)
	assert.Equal(t, uint64(0x2000), e2.Length)
}
