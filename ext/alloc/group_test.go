package alloc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/device/devicetest"
)

const testBlockSize = 1024

func newTestCache(t *testing.T) *blockcache.Cache {
	t.Helper()
	dev := devicetest.NewMem(16 * testBlockSize)
	return blockcache.Create(dev, 16, testBlockSize, false)
}

func TestAllocationBlockGroupInit(t *testing.T) {
	data := make([]byte, testBlockSize) // 8192 bits
	bm := NewBitmapBlock(data)
	bm.Mark(0, 100, false)

	g := &AllocationBlockGroup{Bitmap: bm}
	require.NoError(t, g.Init(bm.NumBits()-100))
	assert.Equal(t, bm.NumBits()-100, g.FreeBits)
	assert.Equal(t, 100, g.FirstFree)
}

func TestAllocationBlockGroupInitMismatchErrors(t *testing.T) {
	data := make([]byte, testBlockSize)
	bm := NewBitmapBlock(data)
	bm.Mark(0, 100, false)

	g := &AllocationBlockGroup{Bitmap: bm}
	assert.Error(t, g.Init(999999))
}

func TestAllocationBlockGroupAllocateFreeRoundtrip(t *testing.T) {
	cache := newTestCache(t)
	data := make([]byte, testBlockSize)
	bm := NewBitmapBlock(data)
	g := &AllocationBlockGroup{Bitmap: bm}
	require.NoError(t, g.Init(bm.NumBits()))

	txn := cache.StartTransaction()
	require.NoError(t, g.Allocate(cache, txn, 5, 10))
	assert.True(t, bm.CheckMarked(5, 10))
	assert.Equal(t, bm.NumBits()-10, g.FreeBits)
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))

	txn2 := cache.StartTransaction()
	require.NoError(t, g.Free(cache, txn2, 5, 10))
	assert.True(t, bm.CheckUnmarked(5, 10))
	assert.Equal(t, bm.NumBits(), g.FreeBits)
	require.NoError(t, cache.EndTransaction(context.Background(), txn2, nil))
}

func TestAllocationBlockGroupAbortRestoresCounters(t *testing.T) {
	cache := newTestCache(t)
	data := make([]byte, testBlockSize)
	bm := NewBitmapBlock(data)
	g := &AllocationBlockGroup{Bitmap: bm}
	require.NoError(t, g.Init(bm.NumBits()))

	txn := cache.StartTransaction()
	require.NoError(t, g.Allocate(cache, txn, 5, 10))
	assert.Equal(t, bm.NumBits()-10, g.FreeBits)

	cache.AbortTransaction(context.Background(), txn)
	assert.Equal(t, bm.NumBits(), g.FreeBits)
}

func TestAllocationBlockGroupAllocateOverlapIsBug(t *testing.T) {
	cache := newTestCache(t)
	data := make([]byte, testBlockSize)
	bm := NewBitmapBlock(data)
	g := &AllocationBlockGroup{Bitmap: bm}
	require.NoError(t, g.Init(bm.NumBits()))

	txn := cache.StartTransaction()
	require.NoError(t, g.Allocate(cache, txn, 0, 10))
	assert.Error(t, g.Allocate(cache, txn, 5, 10))
}
