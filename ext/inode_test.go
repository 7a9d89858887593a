package ext

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/vnodefs/vnodefs/internal/binstruct"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

func TestInodeMakeReferenceAndLookup(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	id, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	child, err := vol.GetInode(id)
	require.NoError(t, err)
	child.Record.Mode = binstruct.U16le(oext.ModeRegular | 0o644)

	require.NoError(t, child.MakeReference(txn, root, "greeting.txt"))
	assert.EqualValues(t, 1, child.NumLinks())

	res, found, err := root.Lookup("greeting.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, child.ID, res.InodeID)
	assert.Equal(t, oext.FileTypeFile, res.FileType)

	_, found, err = root.Lookup("missing.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInodeWriteAtReadAtRoundTrip(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	id, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	child, err := vol.GetInode(id)
	require.NoError(t, err)
	child.Record.Mode = binstruct.U16le(oext.ModeRegular | 0o644)

	n, err := child.WriteAt(txn, 0, []byte("hi\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, child.Size())

	refetched, err := vol.GetInode(id)
	require.NoError(t, err)
	buf := make([]byte, 3)
	n, err = refetched.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "hi\n", string(buf))

	// Reading past the end of the file reports EOF.
	_, err = refetched.ReadAt(int64(refetched.Size()), make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestInodeRemoveEntryAndUnlink(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	root, err := vol.Root()
	require.NoError(t, err)

	id, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	child, err := vol.GetInode(id)
	require.NoError(t, err)
	child.Record.Mode = binstruct.U16le(oext.ModeRegular | 0o644)
	require.NoError(t, child.MakeReference(txn, root, "scratch.txt"))
	_, err = child.WriteAt(txn, 0, []byte("data"))
	require.NoError(t, err)

	removed, err := root.RemoveEntry(txn, "scratch.txt")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := root.Lookup("scratch.txt")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, child.Unlink(txn))
	assert.EqualValues(t, 0, child.NumLinks())

	// The inode's bit is free again: the next allocation reuses it.
	id2, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestInodeCheckPermissions(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	id, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	child, err := vol.GetInode(id)
	require.NoError(t, err)
	child.Record.Mode = binstruct.U16le(oext.ModeRegular | 0o640)
	child.Record.UID = binstruct.U16le(100)
	child.Record.GID = binstruct.U16le(200)

	assert.NoError(t, child.CheckPermissions(100, 0, unix.R_OK|unix.W_OK))
	assert.NoError(t, child.CheckPermissions(0, 200, unix.R_OK))
	assert.Error(t, child.CheckPermissions(0, 200, unix.W_OK))
	assert.Error(t, child.CheckPermissions(999, 999, unix.R_OK))

	vol.ReadOnly = true
	assert.Error(t, child.CheckPermissions(100, 0, unix.W_OK))
}

func TestInodeReadLinkFastSymlink(t *testing.T) {
	vol, txn := newTestVolume(t)
	defer func() { _ = vol.EndTransaction(context.Background(), txn) }()

	id, err := vol.AllocateInode(txn, 0, false)
	require.NoError(t, err)
	link, err := vol.GetInode(id)
	require.NoError(t, err)
	link.Record.Mode = binstruct.U16le(oext.ModeSymlink | 0o777)
	target := "../elsewhere/target"
	copy(link.Record.Stream[:], target)
	link.Record.SetSize(uint64(len(target)))
	require.NoError(t, link.persist(txn))

	got, err := link.ReadLink()
	require.NoError(t, err)
	assert.Equal(t, target, got)
}
