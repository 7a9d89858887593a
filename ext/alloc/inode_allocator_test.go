package alloc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/fserrors"
)

func TestInodeAllocatorAllocateAndFree(t *testing.T) {
	cache := newTestCache(t)
	fs := newFakeGroupSource(2, 64)
	a := NewInodeAllocator(fs)

	txn := cache.StartTransaction()
	id, err := a.Allocate(cache, txn, 0, 64, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id) // group 0, bit 0, 1-based
	assert.Equal(t, uint32(63), fs.freeInodes[0])
	assert.Equal(t, uint32(1), fs.usedDirs[0])
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))

	txn2 := cache.StartTransaction()
	require.NoError(t, a.Free(cache, txn2, id, 64, true))
	assert.Equal(t, uint32(64), fs.freeInodes[0])
	assert.Equal(t, uint32(0), fs.usedDirs[0])
	require.NoError(t, cache.EndTransaction(context.Background(), txn2, nil))
}

func TestInodeAllocatorWrapsToNextGroup(t *testing.T) {
	cache := newTestCache(t)
	fs := newFakeGroupSource(2, 32)
	group0, _ := fs.Group(0)
	group0.Bitmap.Mark(0, 32, false)
	group0.FreeBits = 0

	a := NewInodeAllocator(fs)
	txn := cache.StartTransaction()
	id, err := a.Allocate(cache, txn, 0, 32, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(32+1), id) // group 1, bit 0 -> 1*32 + 0 + 1
}

func TestInodeAllocatorDeviceFull(t *testing.T) {
	cache := newTestCache(t)
	fs := newFakeGroupSource(1, 32)
	group0, _ := fs.Group(0)
	group0.Bitmap.Mark(0, 32, false)
	group0.FreeBits = 0

	a := NewInodeAllocator(fs)
	txn := cache.StartTransaction()
	_, err := a.Allocate(cache, txn, 0, 32, false)
	assert.ErrorIs(t, err, fserrors.ErrDeviceFull)
}
