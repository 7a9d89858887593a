package btrfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/btrfs/alloc"
	"github.com/vnodefs/vnodefs/btrfs/attr"
	"github.com/vnodefs/vnodefs/btrfs/btree"
	"github.com/vnodefs/vnodefs/btrfs/dir"
	"github.com/vnodefs/vnodefs/btrfsvol"
	"github.com/vnodefs/vnodefs/device/devicetest"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

const testNodeSize = 4096
const unixDirMode = 0o40755

// newTestVolume builds a Volume directly (bypassing Mount's superblock
// parsing) the way attr/engine_test.go builds a bare *btree.Tree: an
// identity-mapped chunk map plus a single FS tree rooted at block 0,
// enough to exercise Inode/Volume without hand-rolling an on-disk
// chunk/root/extent tree layout.
func newTestVolume(t *testing.T) (*Volume, blockcache.TxnID) {
	t.Helper()
	dev := devicetest.NewMem(256 * testNodeSize)
	cache := blockcache.Create(dev, 256, testNodeSize, false)

	next := int64(1)
	allocate := func() (int64, error) {
		b := next
		next++
		return b, nil
	}

	txn := cache.StartTransaction()
	_, err := cache.GetEmpty(txn, 0)
	require.NoError(t, err)

	fsTree := &btree.Tree{
		Cache: cache, NodeSize: testNodeSize, ChecksumType: obtrfs.CSumTypeCRC32,
		Owner: obtrfs.FSTreeObjectID, RootAddr: 0, RootLevel: 0, Allocate: allocate,
	}

	chunks := btrfsvol.NewMap()
	chunks.Insert(btrfsvol.ChunkMapping{Logical: 0, Size: uint64(dev.Size()), Physical: 0})

	allocator := alloc.NewExtentAllocator()
	group := alloc.NewBlockGroup(128*testNodeSize, 128*testNodeSize, obtrfs.ExtentFlagData)
	require.NoError(t, group.Extents.FillFreeExtents(group.Start, group.End))
	allocator.AddGroup(group)

	vol := &Volume{
		Device: dev,
		Cache:  cache,
		Chunks: chunks,
		FSTree: fsTree,
		Alloc:  allocator,
		Dir:    &dir.Engine{Tree: fsTree},
		Attr:   &attr.Engine{Tree: fsTree},
	}
	vol.Super.RootDirObjectID = binstruct.U64le(obtrfs.FirstFreeObjectID)

	rootItem := obtrfs.InodeItem{
		Size: binstruct.U64le(0),
		Mode: binstruct.U32le(unixDirMode),
	}
	blob, err := binstruct.Marshal(rootItem)
	require.NoError(t, err)
	key := obtrfs.Key{ObjectID: binstruct.U64le(obtrfs.FirstFreeObjectID), ItemType: binstruct.U8(obtrfs.ItemInodeItem)}
	require.NoError(t, fsTree.InsertEntries(txn, []obtrfs.Key{key}, [][]byte{blob}))
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))

	vol.nextObjectID = uint64(obtrfs.FirstFreeObjectID) + 1

	return vol, cache.StartTransaction()
}

func TestVolumeGetRootInode(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(obtrfs.FirstFreeObjectID), root.ObjectID)
	assert.Equal(t, uint32(unixDirMode), root.Mode())
}

func TestVolumeGetInodeNotFound(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	_, err := vol.GetInode(999999)
	assert.Error(t, err)
}

func TestVolumeAllocateInode(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	id1, err := vol.AllocateInode()
	require.NoError(t, err)
	id2, err := vol.AllocateInode()
	require.NoError(t, err)
	assert.Greater(t, id2, id1)
}

func TestVolumeAllocateAndFreeBlocks(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	start, length, err := vol.AllocateBlocks(testNodeSize, testNodeSize, 0, obtrfs.ExtentFlagData)
	require.NoError(t, err)
	assert.EqualValues(t, testNodeSize, length)

	require.NoError(t, vol.FreeBlocks(start, length))
}

func TestVolumeReadOnlyRejectsMutation(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()
	vol.ReadOnly = true

	_, _, err := vol.AllocateBlocks(testNodeSize, testNodeSize, 0, obtrfs.ExtentFlagData)
	assert.Error(t, err)

	_, err = vol.AllocateInode()
	assert.Error(t, err)
}

func TestVolumeCreateInode(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	ino, err := vol.CreateInode(txn, unixDirMode, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(unixDirMode), ino.Mode())
	assert.True(t, ino.IsDir())

	reloaded, err := vol.GetInode(ino.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, uint32(unixDirMode), reloaded.Mode())
	atime, mtime, ctime, crtime := reloaded.ModTime()
	assert.False(t, atime.IsZero())
	assert.Equal(t, atime, mtime)
	assert.Equal(t, atime, ctime)
	assert.Equal(t, atime, crtime)
}

func TestVolumeRenameMovesEntry(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	child, err := vol.CreateInode(txn, 0o100644, 0, 0)
	require.NoError(t, err)
	_, err = child.MakeReference(txn, root.ObjectID, "old.txt")
	require.NoError(t, err)

	subdir, err := vol.CreateInode(txn, unixDirMode, 0, 0)
	require.NoError(t, err)
	_, err = subdir.MakeReference(txn, root.ObjectID, "subdir")
	require.NoError(t, err)

	require.NoError(t, vol.Rename(txn, root.ObjectID, "old.txt", subdir.ObjectID, "new.txt"))

	_, found, err := vol.Dir.Lookup(root.ObjectID, "old.txt")
	require.NoError(t, err)
	assert.False(t, found)

	entry, found, err := vol.Dir.Lookup(subdir.ObjectID, "new.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, child.ObjectID, entry.Location.ObjectID)
}

func TestVolumeRenameClobbersExistingDestination(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	src, err := vol.CreateInode(txn, 0o100644, 0, 0)
	require.NoError(t, err)
	_, err = src.MakeReference(txn, root.ObjectID, "src.txt")
	require.NoError(t, err)

	dst, err := vol.CreateInode(txn, 0o100644, 0, 0)
	require.NoError(t, err)
	_, err = dst.MakeReference(txn, root.ObjectID, "dst.txt")
	require.NoError(t, err)

	require.NoError(t, vol.Rename(txn, root.ObjectID, "src.txt", root.ObjectID, "dst.txt"))

	entry, found, err := vol.Dir.Lookup(root.ObjectID, "dst.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, src.ObjectID, entry.Location.ObjectID)

	_, err = vol.GetInode(dst.ObjectID)
	assert.Error(t, err)
}

func TestVolumeCreateFileAndSymlinkAndUnlink(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	file, err := vol.CreateFile(txn, root.ObjectID, "hello.txt", 0o644, 1000, 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, file.NumLinks())

	entry, found, err := vol.Dir.Lookup(root.ObjectID, "hello.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, file.ObjectID, entry.Location.ObjectID)

	link, err := vol.CreateSymlink(txn, root.ObjectID, "link", "hello.txt", 1000, 1000)
	require.NoError(t, err)
	target, err := link.ReadLink()
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", target)

	require.NoError(t, vol.Unlink(txn, root.ObjectID, "hello.txt"))
	_, found, err = vol.Dir.Lookup(root.ObjectID, "hello.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVolumeUnlinkRejectsDirectory(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	_, err = vol.Mkdir(txn, root.ObjectID, "subdir", unixDirMode, 0, 0)
	require.NoError(t, err)

	err = vol.Unlink(txn, root.ObjectID, "subdir")
	require.Error(t, err)
}

func TestVolumeMkdirNeverBumpsParentLinks(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)
	rootLinksBefore := root.NumLinks()

	sub, err := vol.Mkdir(txn, root.ObjectID, "subdir", unixDirMode, 0, 0)
	require.NoError(t, err)
	assert.True(t, sub.IsDir())

	reloadedRoot, err := vol.GetInode(root.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, rootLinksBefore, reloadedRoot.NumLinks())
}

func TestVolumeRmdirRejectsNonEmptyThenSucceedsWhenEmpty(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	sub, err := vol.Mkdir(txn, root.ObjectID, "subdir", unixDirMode, 0, 0)
	require.NoError(t, err)

	_, err = vol.CreateFile(txn, sub.ObjectID, "inside.txt", 0o644, 0, 0)
	require.NoError(t, err)

	require.Error(t, vol.Rmdir(txn, root.ObjectID, "subdir"))

	require.NoError(t, vol.Unlink(txn, sub.ObjectID, "inside.txt"))
	require.NoError(t, vol.Rmdir(txn, root.ObjectID, "subdir"))

	_, found, err := vol.Dir.Lookup(root.ObjectID, "subdir")
	require.NoError(t, err)
	assert.False(t, found)
}
