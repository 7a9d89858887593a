package btrfsvol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/btrfsvol"
)

func TestResolveWithinChunk(t *testing.T) {
	m := btrfsvol.NewMap()
	m.Insert(btrfsvol.ChunkMapping{Logical: 0x1000000, Size: 0x100000, Physical: 0x5000000})

	phys, err := m.Resolve(0x1000000 + 0x100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5000000+0x100), phys)
}

func TestResolveMultipleChunksPicksFloor(t *testing.T) {
	m := btrfsvol.NewMap()
	m.Insert(btrfsvol.ChunkMapping{Logical: 0x0, Size: 0x100000, Physical: 0x1000000})
	m.Insert(btrfsvol.ChunkMapping{Logical: 0x100000, Size: 0x100000, Physical: 0x2000000})

	phys, err := m.Resolve(0x150000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2000000+0x50000), phys)
}

func TestResolveOutsideAnyChunkErrors(t *testing.T) {
	m := btrfsvol.NewMap()
	m.Insert(btrfsvol.ChunkMapping{Logical: 0x100000, Size: 0x100000, Physical: 0x2000000})

	_, err := m.Resolve(0x50000)
	assert.Error(t, err)

	_, err = m.Resolve(0x300000)
	assert.Error(t, err)
}
