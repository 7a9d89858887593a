package legacy

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/device/devicetest"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

const testBlockSize = 1024

func newTestStream(t *testing.T) (*Stream, *blockcache.Cache) {
	t.Helper()
	dev := devicetest.NewMem(64 * testBlockSize)
	cache := blockcache.Create(dev, 64, testBlockSize, false)
	data := &oext.DataStream{}
	return &Stream{Cache: cache, BlockSize: testBlockSize, Data: data}, cache
}

func TestStreamFindBlockDirect(t *testing.T) {
	s, _ := newTestStream(t)
	s.Data.Direct[0] = binstruct.U32le(50)
	s.Data.Direct[5] = binstruct.U32le(55)

	phys, ok, err := s.FindBlock(0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 50, phys)

	phys, ok, err = s.FindBlock(5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 55, phys)

	_, ok, err = s.FindBlock(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamFindBlockSingleIndirect(t *testing.T) {
	s, cache := newTestStream(t)
	txn := cache.StartTransaction()
	indirectBlock, err := cache.GetEmpty(txn, 20)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(indirectBlock[3*4:], 777)
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))

	s.Data.Indirect = binstruct.U32le(20)
	phys, ok, err := s.FindBlock(oext.DirectBlocks + 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 777, phys)
}

func TestStreamFindBlockSparseIndirectIsHole(t *testing.T) {
	s, _ := newTestStream(t)
	phys, ok, err := s.FindBlock(oext.DirectBlocks + 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 0, phys)
}

func TestStreamEnlargeDirect(t *testing.T) {
	s, _ := newTestStream(t)
	next := uint64(900)
	err := s.Enlarge(2, func() (uint64, error) {
		next++
		return next, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 901, s.Data.Direct[2])
}

func TestStreamShrinkDirect(t *testing.T) {
	s, _ := newTestStream(t)
	s.Data.Direct[3] = binstruct.U32le(30)
	s.Data.Direct[4] = binstruct.U32le(40)

	var freed []uint64
	err := s.Shrink(3, func(block uint64) error {
		freed = append(freed, block)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{30, 40}, freed)
	assert.EqualValues(t, 0, s.Data.Direct[3])
	assert.EqualValues(t, 0, s.Data.Direct[4])
}
