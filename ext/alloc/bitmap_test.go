package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapBlockMarkUnmark(t *testing.T) {
	data := make([]byte, 16) // 128 bits
	b := NewBitmapBlock(data)

	assert.True(t, b.CheckUnmarked(0, 128))
	b.Mark(10, 20, false)
	assert.True(t, b.CheckMarked(10, 20))
	assert.False(t, b.CheckUnmarked(10, 20))
	assert.True(t, b.CheckUnmarked(0, 10))
	assert.True(t, b.CheckUnmarked(30, 98))

	b.Unmark(15, 5, false)
	assert.True(t, b.CheckUnmarked(15, 5))
	assert.True(t, b.CheckMarked(10, 5))
	assert.True(t, b.CheckMarked(20, 10))
}

func TestBitmapBlockCrossWordRange(t *testing.T) {
	data := make([]byte, 16) // 4 words of 32 bits
	b := NewBitmapBlock(data)
	b.Mark(28, 8, false) // spans word 0 [28,32) and word 1 [32,36)
	assert.True(t, b.CheckMarked(28, 8))
	assert.True(t, b.CheckUnmarked(0, 28))
	assert.True(t, b.CheckUnmarked(36, 92))
}

func TestBitmapBlockFindNext(t *testing.T) {
	data := make([]byte, 8) // 64 bits
	b := NewBitmapBlock(data)
	b.Mark(0, 10, false)

	idx, ok := b.FindNextUnmarked(0)
	require.True(t, ok)
	assert.Equal(t, 10, idx)

	idx, ok = b.FindNextMarked(0)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	b.Mark(0, 64, false)
	_, ok = b.FindNextUnmarked(0)
	assert.False(t, ok)
}

func TestBitmapBlockFindLargestUnmarkedRange(t *testing.T) {
	data := make([]byte, 16) // 128 bits
	b := NewBitmapBlock(data)
	b.Mark(0, 10, false)
	b.Mark(50, 78, false) // marks [50,128)

	start, length := b.FindLargestUnmarkedRange()
	assert.Equal(t, 10, start)
	assert.Equal(t, 40, length)
}

func TestBitmapBlockCountMarked(t *testing.T) {
	data := make([]byte, 8) // 64 bits
	b := NewBitmapBlock(data)
	b.Mark(3, 17, false)
	assert.Equal(t, 17, b.CountMarked())
}
