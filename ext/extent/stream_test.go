package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/device/devicetest"
)

const testBlockSize = 1024

func newTestStream(t *testing.T) *Stream {
	t.Helper()
	dev := devicetest.NewMem(64 * testBlockSize)
	cache := blockcache.Create(dev, 64, testBlockSize, false)
	var root [60]byte
	s := &Stream{Cache: cache, BlockSize: testBlockSize, Root: &root}
	require.NoError(t, s.InitRoot())
	return s
}

type fakeAllocator struct {
	next uint64
}

func (a *fakeAllocator) Allocate(hint uint64, count uint32) (uint64, uint32, error) {
	start := a.next
	a.next += uint64(count)
	return start, count, nil
}

func TestStreamEnlargeAndFindBlock(t *testing.T) {
	s := newTestStream(t)
	alloc := &fakeAllocator{next: 100}

	require.NoError(t, s.Enlarge(0, 10, alloc.Allocate))

	for i := uint32(0); i < 10; i++ {
		phys, ok, err := s.FindBlock(i)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(100)+uint64(i), phys)
	}

	_, ok, err := s.FindBlock(10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamEnlargeExtendsAdjacentRun(t *testing.T) {
	s := newTestStream(t)
	alloc := &fakeAllocator{next: 200}

	require.NoError(t, s.Enlarge(0, 5, alloc.Allocate))
	require.NoError(t, s.Enlarge(5, 5, alloc.Allocate))

	hdr, err := s.rootHeader()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), uint16(hdr.NumEntries)) // merged into a single extent

	for i := uint32(0); i < 10; i++ {
		phys, ok, err := s.FindBlock(i)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(200)+uint64(i), phys)
	}
}

func TestStreamSparseHoleReturnsFalse(t *testing.T) {
	s := newTestStream(t)
	_, ok, err := s.FindBlock(0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamShrinkFreesTrailingBlocks(t *testing.T) {
	s := newTestStream(t)
	alloc := &fakeAllocator{next: 300}
	require.NoError(t, s.Enlarge(0, 10, alloc.Allocate))

	var freed []uint32
	err := s.Shrink(4, func(start uint64, count uint32) error {
		freed = append(freed, count)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{6}, freed)

	_, ok, err := s.FindBlock(3)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.FindBlock(4)
	require.NoError(t, err)
	assert.False(t, ok)
}
