package ext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/device/devicetest"
	"github.com/vnodefs/vnodefs/ext/alloc"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

const testBlockSize = 1024
const testNumBlocks = 17 // 0: boot, 1: superblock, 2: group desc, 3: block bitmap, 4: inode bitmap, 5: inode table, 6-16: data
const testBlocksPerGroup = 16
const testInodesPerGroup = 8

// newTestVolume builds a Volume directly (bypassing Mount's on-disk
// parsing) the way btrfs/volume_test.go's newTestVolume does: a single
// block group with hand-written bitmaps and one inode (the root
// directory, inode 2) already recorded in the inode table, enough to
// exercise Volume/Inode without hand-rolling a full mkfs image.
//
// Layout (FirstDataBlock=1, matching real Ext2's 1024-byte-block-size
// convention that the superblock itself occupies the first post-boot
// block): block 2 is the one group descriptor, block 3 the block
// bitmap, block 4 the inode bitmap, block 5 the (single-block) inode
// table, blocks 6-16 free data.
func newTestVolume(t *testing.T) (*Volume, blockcache.TxnID) {
	t.Helper()
	dev := devicetest.NewMem(testNumBlocks * testBlockSize)
	cache := blockcache.Create(dev, testNumBlocks, testBlockSize, false)

	setup := cache.StartTransaction()

	descBuf, err := cache.GetEmpty(setup, 2)
	require.NoError(t, err)
	desc := oext.GroupDesc{
		BlockBitmapLow: binstruct.U32le(3),
		InodeBitmapLow: binstruct.U32le(4),
		InodeTableLow:  binstruct.U32le(5),
		FreeBlocksLow:  binstruct.U16le(11),
		FreeInodesLow:  binstruct.U16le(6),
		UsedDirsLow:    binstruct.U16le(1),
	}
	db, err := binstruct.Marshal(&desc)
	require.NoError(t, err)
	copy(descBuf, db)

	blockBitmapBuf, err := cache.GetEmpty(setup, 3)
	require.NoError(t, err)
	blockBitmap := alloc.NewBitmapBlock(blockBitmapBuf)
	blockBitmap.Mark(0, 5, true) // relative blocks 0-4 = physical 1-5 (superblock, group desc, bitmaps, inode table)
	blockBitmap.Mark(testBlocksPerGroup, blockBitmap.NumBits()-testBlocksPerGroup, true) // padding past the group

	inodeBitmapBuf, err := cache.GetEmpty(setup, 4)
	require.NoError(t, err)
	inodeBitmap := alloc.NewBitmapBlock(inodeBitmapBuf)
	inodeBitmap.Mark(0, 2, true) // inode 1 (reserved) and inode 2 (root) are used
	inodeBitmap.Mark(testInodesPerGroup, inodeBitmap.NumBits()-testInodesPerGroup, true)

	inodeTableBuf, err := cache.GetEmpty(setup, 5)
	require.NoError(t, err)
	root := oext.Inode{
		Mode:     binstruct.U16le(oext.ModeDir | 0o755),
		NumLinks: binstruct.U16le(2),
	}
	rb, err := binstruct.Marshal(&root)
	require.NoError(t, err)
	copy(inodeTableBuf[oext.InodeNormalSize:], rb) // inode 2 is the second 128-byte slot

	require.NoError(t, cache.EndTransaction(context.Background(), setup, nil))

	vol := &Volume{
		Device:      dev,
		Cache:       cache,
		ReadOnly:    false,
		blockGroups: make(map[uint32]*alloc.AllocationBlockGroup),
		inodeGroups: make(map[uint32]*alloc.AllocationBlockGroup),
	}
	vol.Super = oext.Superblock{
		NumInodes:      binstruct.U32le(testInodesPerGroup),
		NumBlocks:      binstruct.U32le(testNumBlocks),
		FreeBlocks:     binstruct.U32le(11),
		FreeInodes:     binstruct.U32le(6),
		FirstDataBlock: binstruct.U32le(1),
		BlocksPerGroup: binstruct.U32le(testBlocksPerGroup),
		InodesPerGroup: binstruct.U32le(testInodesPerGroup),
		InodeSize:      binstruct.U16le(oext.InodeNormalSize),
		RevisionLevel:  binstruct.U32le(oext.RevisionDynamic),
	}
	vol.descs = []oext.GroupDesc{desc}
	vol.BlockAlloc = alloc.NewBlockAllocator(volumeBlockGroups{vol})
	vol.InodeAlloc = alloc.NewInodeAllocator(volumeInodeGroups{vol})

	return vol, cache.StartTransaction()
}

func TestVolumeGetRootInode(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(oext.RootNodeID), root.ID)
	assert.True(t, root.IsDir())
	assert.EqualValues(t, 2, root.NumLinks())
}

func TestVolumeGetInodeZeroIsInvalid(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	_, err := vol.GetInode(0)
	assert.Error(t, err)
}

func TestVolumeAllocateAndFreeInode(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	id, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, id) // next free bit after 1,2 is inode 3

	require.NoError(t, vol.FreeInode(txn, id, false))

	id2, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, id2) // freed bit is reused
}

func TestVolumeAllocateAndFreeBlocks(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	phys, length, err := vol.AllocateBlocks(txn, 0, 1, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 6, phys) // first free physical block after the fixed metadata
	assert.Equal(t, 4, length)

	require.NoError(t, vol.FreeBlocks(txn, phys, length))

	phys2, _, err := vol.AllocateBlocks(txn, 0, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 6, phys2) // freed range is reused
}

func TestVolumeAllocateBlocksDeviceFull(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	_, _, err := vol.AllocateBlocks(txn, 0, 100, 100)
	assert.Error(t, err)
}

func TestVolumeReadOnlyRejectsMutation(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()
	vol.ReadOnly = true

	_, _, err := vol.AllocateBlocks(txn, 0, 1, 1)
	assert.Error(t, err)

	_, err = vol.AllocateInode(txn, 0, false)
	assert.Error(t, err)
}

func TestVolumeCreateInode(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	ino, err := vol.CreateInode(txn, 0, oext.ModeRegular|0o644, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(oext.ModeRegular)|0o644, ino.Mode())
	assert.False(t, ino.IsDir())
	assert.EqualValues(t, 0, ino.NumLinks())

	reloaded, err := vol.GetInode(ino.ID)
	require.NoError(t, err)
	assert.Equal(t, ino.Mode(), reloaded.Mode())
	atime, mtime, ctime, crtime := reloaded.ModTime()
	assert.False(t, atime.IsZero())
	assert.Equal(t, atime, mtime)
	assert.Equal(t, atime, ctime)
	assert.Equal(t, atime, crtime) // no ExtraInode in this fixture (InodeSize == InodeNormalSize)
}

func TestVolumeRenameMovesEntry(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	child, err := vol.CreateInode(txn, 0, oext.ModeRegular|0o644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, child.MakeReference(txn, root, "old.txt"))

	subdir, err := vol.CreateInode(txn, 0, oext.ModeDir|0o755, 0, 0)
	require.NoError(t, err)
	require.NoError(t, subdir.MakeReference(txn, root, "subdir"))

	require.NoError(t, vol.Rename(txn, root, "old.txt", subdir, "new.txt"))

	_, found, err := root.Lookup("old.txt")
	require.NoError(t, err)
	assert.False(t, found)

	res, found, err := subdir.Lookup("new.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, child.ID, res.InodeID)
}

func TestVolumeRenameClobbersExistingDestination(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	src, err := vol.CreateInode(txn, 0, oext.ModeRegular|0o644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, src.MakeReference(txn, root, "src.txt"))

	dst, err := vol.CreateInode(txn, 0, oext.ModeRegular|0o644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dst.MakeReference(txn, root, "dst.txt"))

	require.NoError(t, vol.Rename(txn, root, "src.txt", root, "dst.txt"))

	res, found, err := root.Lookup("dst.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, src.ID, res.InodeID)

	reloadedDst, err := vol.GetInode(dst.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, reloadedDst.NumLinks())
}

func TestVolumeCreateFileAndSymlinkAndUnlink(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	file, err := vol.CreateFile(txn, root, "hello.txt", 0o644, 1000, 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, file.NumLinks())
	assert.EqualValues(t, 1000, file.UID())

	res, found, err := root.Lookup("hello.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, file.ID, res.InodeID)

	link, err := vol.CreateSymlink(txn, root, "link", "hello.txt", 1000, 1000)
	require.NoError(t, err)
	target, err := link.ReadLink()
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", target)

	require.NoError(t, vol.Unlink(txn, root, "hello.txt"))
	_, found, err = root.Lookup("hello.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVolumeUnlinkRejectsDirectory(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	_, err = vol.Mkdir(txn, root, "subdir", 0o755, 0, 0)
	require.NoError(t, err)

	err = vol.Unlink(txn, root, "subdir")
	require.Error(t, err)
}

func TestVolumeMkdirSeedsDotAndDotDot(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)
	rootLinksBefore := root.NumLinks()

	sub, err := vol.Mkdir(txn, root, "subdir", 0o755, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sub.NumLinks())

	names := map[string]uint64{}
	require.NoError(t, sub.ReadDir(func(name string, inodeID uint64, _ uint8) bool {
		names[name] = inodeID
		return true
	}))
	assert.Equal(t, sub.ID, names["."])
	assert.Equal(t, root.ID, names[".."])

	reloadedRoot, err := vol.GetInode(root.ID)
	require.NoError(t, err)
	assert.Equal(t, rootLinksBefore+1, reloadedRoot.NumLinks())
}

func TestVolumeRmdirRejectsNonEmptyThenSucceedsWhenEmpty(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	sub, err := vol.Mkdir(txn, root, "subdir", 0o755, 0, 0)
	require.NoError(t, err)

	_, err = vol.CreateFile(txn, sub, "inside.txt", 0o644, 0, 0)
	require.NoError(t, err)

	require.Error(t, vol.Rmdir(txn, root, "subdir"))

	require.NoError(t, vol.Unlink(txn, sub, "inside.txt"))
	require.NoError(t, vol.Rmdir(txn, root, "subdir"))

	_, found, err := root.Lookup("subdir")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVolumeSaveAndRemoveOrphan(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	require.NoError(t, vol.SaveOrphan(txn, root))
	assert.EqualValues(t, root.ID, vol.Super.LastOrphan)

	require.NoError(t, vol.RemoveOrphan(txn, root, nil))
	assert.EqualValues(t, 0, vol.Super.LastOrphan)
}
