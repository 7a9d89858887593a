package btrfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/internal/binstruct"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

func insertExtentData(t *testing.T, vol *Volume, inodeID, offset uint64, hdr obtrfs.FileExtentItem, trailing []byte) {
	t.Helper()
	hdrBytes, err := binstruct.Marshal(hdr)
	require.NoError(t, err)
	blob := append(append([]byte(nil), hdrBytes...), trailing...)
	key := obtrfs.Key{ObjectID: binstruct.U64le(inodeID), ItemType: binstruct.U8(obtrfs.ItemExtentData), Offset: binstruct.U64le(offset)}
	txn := vol.Cache.StartTransaction()
	require.NoError(t, vol.FSTree.InsertEntries(txn, []obtrfs.Key{key}, [][]byte{blob}))
	require.NoError(t, vol.Cache.EndTransaction(context.Background(), txn, nil))
}

func TestInodeReadAtInlinePlain(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	content := []byte("hello, world")
	hdr := obtrfs.FileExtentItem{
		Type:     binstruct.U8(obtrfs.FileExtentInline),
		RAMBytes: binstruct.U64le(len(content)),
	}
	insertExtentData(t, vol, 300, 0, hdr, content)

	ino := &Inode{vol: vol, ObjectID: 300, Item: obtrfs.InodeItem{Size: binstruct.U64le(len(content))}}
	buf := make([]byte, len(content))
	n, err := ino.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, len(content), n)
	assert.Equal(t, content, buf)
}

func TestInodeReadAtInlineZlib(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	plain := []byte("the quick brown fox jumps over the lazy dog, repeated for compression")
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	hdr := obtrfs.FileExtentItem{
		Type:        binstruct.U8(obtrfs.FileExtentInline),
		Compression: binstruct.U8(obtrfs.CompressionZLIB),
		RAMBytes:    binstruct.U64le(len(plain)),
	}
	insertExtentData(t, vol, 301, 0, hdr, compressed.Bytes())

	ino := &Inode{vol: vol, ObjectID: 301, Item: obtrfs.InodeItem{Size: binstruct.U64le(len(plain))}}
	buf := make([]byte, len(plain))
	n, err := ino.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, len(plain), n)
	assert.Equal(t, plain, buf)
}

func TestInodeReadAtRegularExtent(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	payload := bytes.Repeat([]byte{0xAB}, 512)
	physOff := int64(10 * testNodeSize)
	_, err := vol.Device.WriteAt(payload, physOff)
	require.NoError(t, err)

	hdr := obtrfs.FileExtentItem{
		Type:         binstruct.U8(obtrfs.FileExtentReg),
		DiskByteNr:   binstruct.U64le(physOff),
		DiskNumBytes: binstruct.U64le(len(payload)),
		Offset:       binstruct.U64le(0),
		NumBytes:     binstruct.U64le(len(payload)),
	}
	insertExtentData(t, vol, 302, 0, hdr, nil)

	ino := &Inode{vol: vol, ObjectID: 302, Item: obtrfs.InodeItem{Size: binstruct.U64le(len(payload))}}
	buf := make([]byte, len(payload))
	n, err := ino.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
}

func TestInodeReadAtHoleIsZero(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	ino := &Inode{vol: vol, ObjectID: 303, Item: obtrfs.InodeItem{Size: binstruct.U64le(64)}}
	buf := bytes.Repeat([]byte{0xFF}, 64)
	n, err := ino.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.Equal(t, make([]byte, 64), buf)
}

func TestInodeWriteAtIsReadOnly(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	ino := &Inode{vol: vol, ObjectID: 300}
	wtxn := vol.Cache.StartTransaction()
	_, err := ino.WriteAt(wtxn, 0, []byte("x"))
	assert.Error(t, err)
	err = ino.Resize(wtxn, 10)
	assert.Error(t, err)
}

func TestInodeMakeReference(t *testing.T) {
	vol, txn0 := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn0))

	parent, err := vol.Root()
	require.NoError(t, err)

	childID, err := vol.AllocateInode()
	require.NoError(t, err)
	child := &Inode{vol: vol, ObjectID: childID, Item: obtrfs.InodeItem{
		Mode:     binstruct.U32le(0o100644),
		NumLinks: binstruct.U32le(1),
	}}
	blob, err := binstruct.Marshal(child.Item)
	require.NoError(t, err)
	txn := vol.Cache.StartTransaction()
	key := obtrfs.Key{ObjectID: binstruct.U64le(childID), ItemType: binstruct.U8(obtrfs.ItemInodeItem)}
	require.NoError(t, vol.FSTree.InsertEntries(txn, []obtrfs.Key{key}, [][]byte{blob}))

	index, err := child.MakeReference(txn, parent.ObjectID, "newfile.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	entry, found, err := vol.Dir.Lookup(parent.ObjectID, "newfile.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(childID), uint64(entry.Location.ObjectID))
}

func TestInodeUnlinkRemovesInodeAndFreesExtents(t *testing.T) {
	vol, txn0 := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn0))

	payload := bytes.Repeat([]byte{0x11}, int(testNodeSize))
	physOff := int64(129 * testNodeSize)
	_, err := vol.Device.WriteAt(payload, physOff)
	require.NoError(t, err)

	hdr := obtrfs.FileExtentItem{
		Type:         binstruct.U8(obtrfs.FileExtentReg),
		DiskByteNr:   binstruct.U64le(physOff),
		DiskNumBytes: binstruct.U64le(len(payload)),
		NumBytes:     binstruct.U64le(len(payload)),
	}
	insertExtentData(t, vol, 400, 0, hdr, nil)

	item := obtrfs.InodeItem{Size: binstruct.U64le(len(payload)), NumLinks: binstruct.U32le(1)}
	blob, err := binstruct.Marshal(item)
	require.NoError(t, err)
	txn := vol.Cache.StartTransaction()
	key := obtrfs.Key{ObjectID: binstruct.U64le(400), ItemType: binstruct.U8(obtrfs.ItemInodeItem)}
	require.NoError(t, vol.FSTree.InsertEntries(txn, []obtrfs.Key{key}, [][]byte{blob}))
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	ino := &Inode{vol: vol, ObjectID: 400, Item: item}
	txn2 := vol.Cache.StartTransaction()
	require.NoError(t, ino.Unlink(txn2))
	require.NoError(t, vol.EndTransaction(context.Background(), txn2))

	_, err = vol.GetInode(400)
	assert.Error(t, err)

	start, length, err := vol.AllocateBlocks(testNodeSize, testNodeSize, uint64(physOff), obtrfs.ExtentFlagData)
	require.NoError(t, err)
	assert.EqualValues(t, physOff, start)
	assert.EqualValues(t, testNodeSize, length)
}

func TestInodeCheckPermissions(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	ino := &Inode{vol: vol, ObjectID: 500, Item: obtrfs.InodeItem{
		Mode: binstruct.U32le(0o100640),
		UID:  binstruct.U32le(1000),
		GID:  binstruct.U32le(2000),
	}}

	require.NoError(t, ino.CheckPermissions(1000, 2000, 4 /* R_OK, owner */))
	assert.Error(t, ino.CheckPermissions(9999, 9999, 4|2 /* R_OK|W_OK, other: mode grants neither */))
	assert.Error(t, ino.CheckPermissions(9999, 2000, 2 /* W_OK, group-only: mode grants group read, not write */))
}

func TestInodeCheckPermissionsReadOnlyVolume(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))
	vol.ReadOnly = true

	ino := &Inode{vol: vol, ObjectID: 500, Item: obtrfs.InodeItem{
		Mode: binstruct.U32le(0o100644),
		UID:  binstruct.U32le(1000),
	}}
	assert.Error(t, ino.CheckPermissions(1000, 1000, 2 /* W_OK */))
}

func TestInodeLookupAndReadDir(t *testing.T) {
	vol, txn0 := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn0))

	root, err := vol.Root()
	require.NoError(t, err)
	assert.True(t, root.IsDir())

	txn := vol.Cache.StartTransaction()
	child, err := vol.CreateInode(txn, 0o100644, 0, 0)
	require.NoError(t, err)
	_, err = child.MakeReference(txn, root.ObjectID, "file.txt")
	require.NoError(t, err)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	found, ok, err := root.Lookup("file.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, child.ObjectID, found.ObjectID)
	assert.False(t, found.IsDir())

	_, ok, err = root.Lookup("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)

	var names []string
	require.NoError(t, root.ReadDir(func(name string, inodeID uint64, fileType uint8) bool {
		names = append(names, name)
		return true
	}))
	assert.Equal(t, []string{".", "..", "file.txt"}, names)
}

func TestInodeReadDirRootDotDotIsSelf(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	root, err := vol.Root()
	require.NoError(t, err)

	dotdot, ok, err := root.Lookup("..")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root.ObjectID, dotdot.ObjectID)
}

func TestInodeLookupOnNonDirectoryFails(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	ino := &Inode{vol: vol, ObjectID: 600, Item: obtrfs.InodeItem{Mode: binstruct.U32le(0o100644)}}
	_, _, err := ino.Lookup("anything")
	assert.Error(t, err)
	assert.Error(t, ino.ReadDir(func(string, uint64, uint8) bool { return true }))
}

func TestInodeReadLink(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	target := "../other/path"
	hdr := obtrfs.FileExtentItem{
		Type:     binstruct.U8(obtrfs.FileExtentInline),
		NumBytes: binstruct.U64le(len(target)),
	}
	insertExtentData(t, vol, 700, 0, hdr, []byte(target))

	ino := &Inode{vol: vol, ObjectID: 700, Item: obtrfs.InodeItem{
		Mode: binstruct.U32le(0o120777),
		Size: binstruct.U64le(len(target)),
	}}
	got, err := ino.ReadLink()
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestInodeReadLinkRejectsNonSymlink(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	ino := &Inode{vol: vol, ObjectID: 701, Item: obtrfs.InodeItem{Mode: binstruct.U32le(0o100644)}}
	_, err := ino.ReadLink()
	assert.Error(t, err)
}

func TestInodeModTime(t *testing.T) {
	vol, txn := newTestVolume(t)
	require.NoError(t, vol.EndTransaction(context.Background(), txn))

	ts := obtrfs.TimeSpec{Sec: binstruct.I64le(1700000000), NSec: binstruct.U32le(123)}
	ino := &Inode{vol: vol, ObjectID: 702, Item: obtrfs.InodeItem{
		ATime: ts, MTime: ts, CTime: ts, OTime: ts,
	}}
	atime, mtime, ctime, crtime := ino.ModTime()
	assert.EqualValues(t, 1700000000, atime.Unix())
	assert.Equal(t, atime, mtime)
	assert.Equal(t, atime, ctime)
	assert.Equal(t, atime, crtime)
}
