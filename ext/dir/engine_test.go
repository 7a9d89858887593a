package dir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/ondisk/ext"
)

const testBlockSize = 256

type memBlocks struct {
	blocks [][]byte
}

func newMemBlocks(numBlocks int) *memBlocks {
	m := &memBlocks{}
	for i := 0; i < numBlocks; i++ {
		m.blocks = append(m.blocks, make([]byte, testBlockSize))
	}
	return m
}

func (m *memBlocks) BlockSize() int      { return testBlockSize }
func (m *memBlocks) NumBlocks() uint32   { return uint32(len(m.blocks)) }
func (m *memBlocks) ReadBlock(logical uint32) ([]byte, error) {
	cp := make([]byte, testBlockSize)
	copy(cp, m.blocks[logical])
	return cp, nil
}
func (m *memBlocks) WriteBlock(logical uint32, data []byte) error {
	copy(m.blocks[logical], data)
	return nil
}
func (m *memBlocks) AppendBlock() (uint32, error) {
	m.blocks = append(m.blocks, make([]byte, testBlockSize))
	return uint32(len(m.blocks) - 1), nil
}

// newUnindexedDir builds a single-block directory containing fake "."
// and ".." entries filling the whole block.
func newUnindexedDir(t *testing.T) *Engine {
	t.Helper()
	blocks := newMemBlocks(1)
	block := make([]byte, testBlockSize)
	encodeEntryInto(block, 0, 12, 2, ext.FileTypeDir, ".")
	encodeEntryInto(block, 12, testBlockSize-12, 2, ext.FileTypeDir, "..")
	require.NoError(t, blocks.WriteBlock(0, block))
	return &Engine{Blocks: blocks}
}

func TestEngineInsertAndLookupUnindexed(t *testing.T) {
	e := newUnindexedDir(t)
	require.NoError(t, e.Insert("foo.txt", 100, ext.FileTypeFile))
	require.NoError(t, e.Insert("bar.txt", 101, ext.FileTypeFile))

	res, ok, err := e.Lookup("foo.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 100, res.InodeID)
	assert.Equal(t, ext.FileTypeFile, res.FileType)

	res, ok, err = e.Lookup("bar.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 101, res.InodeID)

	_, ok, err = e.Lookup("missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineReadDirIncludesDotEntries(t *testing.T) {
	e := newUnindexedDir(t)
	require.NoError(t, e.Insert("a", 10, ext.FileTypeFile))
	require.NoError(t, e.Insert("b", 11, ext.FileTypeFile))

	var names []string
	require.NoError(t, e.ReadDir(func(name string, inodeID uint64, fileType uint8) bool {
		names = append(names, name)
		return true
	}))
	assert.ElementsMatch(t, []string{".", "..", "a", "b"}, names)
}

func TestEngineRemoveMergesIntoPredecessor(t *testing.T) {
	e := newUnindexedDir(t)
	require.NoError(t, e.Insert("a", 10, ext.FileTypeFile))
	require.NoError(t, e.Insert("b", 11, ext.FileTypeFile))

	ok, err := e.Remove("a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = e.Lookup("a")
	require.NoError(t, err)
	assert.False(t, ok)

	res, ok, err := e.Lookup("b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 11, res.InodeID)

	// Inserting a new entry still works after the merge ("c" fits in
	// the space "a" freed, now part of ".."); only its lookup is checked.
	require.NoError(t, e.Insert("c", 12, ext.FileTypeFile))
	res, ok, err = e.Lookup("c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 12, res.InodeID)
}

func TestEngineInsertGrowsBlockWhenFull(t *testing.T) {
	e := newUnindexedDir(t)
	// Fill the single block with entries until it forces a new block.
	inserted := 0
	for i := 0; i < 50; i++ {
		name := string(rune('a' + i%26))
		if i >= 26 {
			name = name + name
		}
		if err := e.Insert(name, uint64(100+i), ext.FileTypeFile); err != nil {
			break
		}
		inserted++
	}
	assert.Greater(t, inserted, 0)
	assert.Greater(t, e.Blocks.NumBlocks(), uint32(1))
}

func TestEngineConvertToIndexedPreservesEntries(t *testing.T) {
	e := newUnindexedDir(t)
	require.NoError(t, e.Insert("alpha", 20, ext.FileTypeFile))
	require.NoError(t, e.Insert("beta", 21, ext.FileTypeFile))

	require.NoError(t, e.ConvertToIndexed(ext.HashVersionHalfMD4))
	e.Indexed = true

	res, ok, err := e.Lookup("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 20, res.InodeID)

	res, ok, err = e.Lookup("beta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 21, res.InodeID)

	_, ok, err = e.Lookup("gamma")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineIndexedInsertSplitsFullLeaf(t *testing.T) {
	e := newUnindexedDir(t)
	require.NoError(t, e.ConvertToIndexed(ext.HashVersionHalfMD4))
	e.Indexed = true

	inserted := 0
	var names []string
	for i := 0; i < 60; i++ {
		name := randomishName(i)
		if err := e.Insert(name, uint64(1000+i), ext.FileTypeFile); err != nil {
			break
		}
		names = append(names, name)
		inserted++
	}
	require.Greater(t, inserted, 10)
	assert.Greater(t, e.Blocks.NumBlocks(), uint32(1), "leaf split should have grown the directory")

	for i, name := range names {
		res, ok, err := e.Lookup(name)
		require.NoError(t, err)
		require.True(t, ok, "lookup of %q failed after split", name)
		assert.EqualValues(t, 1000+i, res.InodeID)
	}
}

func randomishName(i int) string {
	return fmt.Sprintf("n%03d", i)
}
