package containers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vnodefs/vnodefs/containers"
)

func TestRevokeManagerShouldReplayWithNoRevoke(t *testing.T) {
	rm := containers.NewRevokeManager()
	assert.True(t, rm.ShouldReplay(10, 5))
}

func TestRevokeManagerSuppressesOlderOrEqualCommit(t *testing.T) {
	rm := containers.NewRevokeManager()
	rm.Insert(10, 7)

	assert.False(t, rm.ShouldReplay(10, 7))
	assert.False(t, rm.ShouldReplay(10, 3))
	assert.True(t, rm.ShouldReplay(10, 8))
}

func TestRevokeManagerKeepsHighestCommitID(t *testing.T) {
	rm := containers.NewRevokeManager()
	rm.Insert(10, 3)
	rm.Insert(10, 9)
	rm.Insert(10, 5)

	assert.False(t, rm.ShouldReplay(10, 9))
	assert.True(t, rm.ShouldReplay(10, 10))
	assert.Equal(t, 1, rm.Len())
}

func TestRevokeManagerLen(t *testing.T) {
	rm := containers.NewRevokeManager()
	rm.Insert(1, 1)
	rm.Insert(2, 1)
	rm.Insert(3, 1)
	assert.Equal(t, 3, rm.Len())
}
