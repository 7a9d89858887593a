package containers_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/containers"
)

type intVal struct {
	key int
}

func newIntTree() *containers.Tree[containers.Native[int], intVal] {
	return &containers.Tree[containers.Native[int], intVal]{
		KeyFn: func(v intVal) containers.Native[int] { return containers.Native[int]{Val: v.key} },
	}
}

func TestTreeInsertLookup(t *testing.T) {
	tr := newIntTree()
	for _, k := range []int{5, 3, 8, 1, 4, 7, 9} {
		tr.Insert(intVal{key: k})
	}
	assert.Equal(t, 7, tr.Len())

	node := tr.Lookup(containers.Native[int]{Val: 7})
	require.NotNil(t, node)
	assert.Equal(t, 7, node.Value.key)

	assert.Nil(t, tr.Lookup(containers.Native[int]{Val: 100}))
}

func TestTreeInsertReplacesEqualKey(t *testing.T) {
	tr := newIntTree()
	tr.Insert(intVal{key: 1})
	tr.Insert(intVal{key: 1})
	assert.Equal(t, 1, tr.Len())
}

func TestTreeWalkIsSorted(t *testing.T) {
	tr := newIntTree()
	keys := []int{42, 17, 99, 3, 56, 8, 23, 71}
	for _, k := range keys {
		tr.Insert(intVal{key: k})
	}
	var got []int
	err := tr.Walk(func(n *containers.Node[intVal]) error {
		got = append(got, n.Value.key)
		return nil
	})
	require.NoError(t, err)

	want := append([]int(nil), keys...)
	sort.Ints(want)
	assert.Equal(t, want, got)
}

func TestTreeFloorCeiling(t *testing.T) {
	tr := newIntTree()
	for _, k := range []int{10, 20, 30, 40} {
		tr.Insert(intVal{key: k})
	}

	floor := tr.Floor(containers.Native[int]{Val: 25})
	require.NotNil(t, floor)
	assert.Equal(t, 20, floor.Value.key)

	ceil := tr.Ceiling(containers.Native[int]{Val: 25})
	require.NotNil(t, ceil)
	assert.Equal(t, 30, ceil.Value.key)

	exact := tr.Floor(containers.Native[int]{Val: 30})
	require.NotNil(t, exact)
	assert.Equal(t, 30, exact.Value.key)

	assert.Nil(t, tr.Floor(containers.Native[int]{Val: 5}))
	assert.Nil(t, tr.Ceiling(containers.Native[int]{Val: 45}))
}

func TestTreeMinMaxNextPrev(t *testing.T) {
	tr := newIntTree()
	for _, k := range []int{10, 20, 30, 40} {
		tr.Insert(intVal{key: k})
	}
	assert.Equal(t, 10, tr.Min().Value.key)
	assert.Equal(t, 40, tr.Max().Value.key)

	n := tr.Lookup(containers.Native[int]{Val: 20})
	assert.Equal(t, 30, tr.Next(n).Value.key)
	assert.Equal(t, 10, tr.Prev(n).Value.key)
	assert.Nil(t, tr.Next(tr.Max()))
	assert.Nil(t, tr.Prev(tr.Min()))
}

func TestTreeDeleteMaintainsOrderAndBalance(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	tr := newIntTree()
	keys := r.Perm(200)
	for _, k := range keys {
		tr.Insert(intVal{key: k})
	}

	toDelete := keys[:100]
	for _, k := range toDelete {
		tr.Delete(containers.Native[int]{Val: k})
	}
	assert.Equal(t, 100, tr.Len())

	var got []int
	require.NoError(t, tr.Walk(func(n *containers.Node[intVal]) error {
		got = append(got, n.Value.key)
		return nil
	}))

	want := append([]int(nil), keys[100:]...)
	sort.Ints(want)
	assert.Equal(t, want, got)

	for _, k := range toDelete {
		assert.Nil(t, tr.Lookup(containers.Native[int]{Val: k}))
	}
}

func TestTreeDeleteMissingKeyIsNoop(t *testing.T) {
	tr := newIntTree()
	tr.Insert(intVal{key: 1})
	tr.Delete(containers.Native[int]{Val: 99})
	assert.Equal(t, 1, tr.Len())
}
