package dir_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/btrfs/btree"
	"github.com/vnodefs/vnodefs/btrfs/dir"
	"github.com/vnodefs/vnodefs/device/devicetest"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

const testNodeSize = 4096

// newTestTree returns a fresh single-leaf FS tree backed by an
// in-memory device, along with the txn the caller should use for its
// first mutation and the cache to end it with.
func newTestTree(t *testing.T) (*btree.Tree, *blockcache.Cache, blockcache.TxnID) {
	t.Helper()
	dev := devicetest.NewMem(64 * testNodeSize)
	cache := blockcache.Create(dev, 64, testNodeSize, false)

	next := int64(1)
	allocate := func() (int64, error) {
		b := next
		next++
		return b, nil
	}

	txn := cache.StartTransaction()
	buf, err := cache.GetEmpty(txn, 0)
	require.NoError(t, err)
	_ = buf // leaf starts zeroed: header.NumItems=0, header.Level=0

	tr := &btree.Tree{
		Cache:        cache,
		NodeSize:     testNodeSize,
		ChecksumType: obtrfs.CSumTypeCRC32,
		Owner:        obtrfs.FSTreeObjectID,
		RootAddr:     0,
		RootLevel:    0,
		Allocate:     allocate,
	}
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))
	return tr, cache, cache.StartTransaction()
}

func TestEngineAddLookupRemove(t *testing.T) {
	tr, cache, txn := newTestTree(t)
	e := &dir.Engine{Tree: tr}

	childKey := obtrfs.Key{ObjectID: 257, ItemType: obtrfs.ItemInodeItem}
	_, err := e.AddEntry(txn, 256, childKey, "file.txt", obtrfs.FtRegFile)
	require.NoError(t, err)
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))

	entry, found, err := e.Lookup(256, "file.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "file.txt", entry.Name)
	assert.Equal(t, uint64(257), uint64(entry.Location.ObjectID))

	_, found, err = e.Lookup(256, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	txn2 := cache.StartTransaction()
	require.NoError(t, e.RemoveEntry(txn2, 256, "file.txt"))
	require.NoError(t, cache.EndTransaction(context.Background(), txn2, nil))

	_, found, err = e.Lookup(256, "file.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngineReadDirSynthesizesDotEntries(t *testing.T) {
	tr, cache, txn := newTestTree(t)
	e := &dir.Engine{Tree: tr}

	childKey := obtrfs.Key{ObjectID: 257, ItemType: obtrfs.ItemInodeItem}
	_, err := e.AddEntry(txn, 256, childKey, "a", obtrfs.FtRegFile)
	require.NoError(t, err)
	_, err = e.AddEntry(txn, 256, childKey, "b", obtrfs.FtRegFile)
	require.NoError(t, err)
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))

	var names []string
	err = e.ReadDir(256, 5, func(entry dir.Entry, seq uint64) error {
		names = append(names, entry.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "a", "b"}, names)
}

func TestEngineAddEntryRejectsDuplicateName(t *testing.T) {
	tr, cache, txn := newTestTree(t)
	e := &dir.Engine{Tree: tr}

	childKey := obtrfs.Key{ObjectID: 257, ItemType: obtrfs.ItemInodeItem}
	_, err := e.AddEntry(txn, 256, childKey, "dup", obtrfs.FtRegFile)
	require.NoError(t, err)
	_, err = e.AddEntry(txn, 256, childKey, "dup", obtrfs.FtRegFile)
	assert.Error(t, err)
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))
}
