package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/btrfs/alloc"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

func TestBlockGroupAllocateAndFree(t *testing.T) {
	g := alloc.NewBlockGroup(0x10000, 0x10000, obtrfs.ExtentFlagData)
	require.NoError(t, g.Extents.FillFreeExtents(0x10000, 0x20000))

	start, length, err := g.Allocate(0x10000, 0x1000, 0x4000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), start)
	assert.Equal(t, uint64(0x4000), length)

	require.NoError(t, g.Free(start, length))
	start2, length2, err := g.Allocate(0x10000, 0x1000, 0x4000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), start2)
	assert.Equal(t, uint64(0x4000), length2)
}

func TestBlockGroupAllocateFailsWhenFull(t *testing.T) {
	g := alloc.NewBlockGroup(0x0, 0x1000, obtrfs.ExtentFlagData)
	require.NoError(t, g.Extents.FillFreeExtents(0x0, 0x1000))

	_, _, err := g.Allocate(0x0, 0x1000, 0x1000, 1)
	require.NoError(t, err)

	_, _, err = g.Allocate(0x0, 0x1000, 0x1000, 1)
	assert.Error(t, err)
}

func TestBlockGroupAllocateClipsToMax(t *testing.T) {
	g := alloc.NewBlockGroup(0x0, 0x10000, obtrfs.ExtentFlagData)
	require.NoError(t, g.Extents.FillFreeExtents(0x0, 0x10000))

	start, length, err := g.Allocate(0x0, 0x100, 0x1000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0), start)
	assert.Equal(t, uint64(0x1000), length)
}
