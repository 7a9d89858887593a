package vfs

import (
	"syscall"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/fserrors"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

func TestErrnoTranslatesKnownKinds(t *testing.T) {
	assert.Equal(t, syscall.ENOENT, errno(fserrors.New(fserrors.EntryNotFound, "op", assert.AnError)))
	assert.Equal(t, syscall.EEXIST, errno(fserrors.New(fserrors.FileExists, "op", assert.AnError)))
	assert.Equal(t, syscall.EISDIR, errno(fserrors.New(fserrors.IsADirectory, "op", assert.AnError)))
	assert.Equal(t, syscall.ENOTDIR, errno(fserrors.New(fserrors.NotADirectory, "op", assert.AnError)))
	assert.Equal(t, syscall.ENOTEMPTY, errno(fserrors.New(fserrors.DirectoryNotEmpty, "op", assert.AnError)))
	assert.Equal(t, syscall.EROFS, errno(fserrors.New(fserrors.ReadOnlyDevice, "op", assert.AnError)))
	assert.Nil(t, errno(nil))
}

func TestErrnoPassesThroughUnknownErrors(t *testing.T) {
	plain := assert.AnError
	assert.Same(t, plain, errno(plain))
}

func TestDirentTypeMapping(t *testing.T) {
	assert.Equal(t, fuseutil.DT_File, direntType(oext.FileTypeFile))
	assert.Equal(t, fuseutil.DT_Directory, direntType(oext.FileTypeDir))
	assert.Equal(t, fuseutil.DT_Link, direntType(oext.FileTypeSymlink))
	assert.Equal(t, fuseutil.DT_Unknown, direntType(0xff))
}

// fakeNode is a minimal node implementation for exercising
// writeDirListing's paging logic without a real backend.
type fakeNode struct {
	entries []fakeDirent
}

type fakeDirent struct {
	name     string
	inodeID  uint64
	fileType uint8
}

func (n *fakeNode) ReadDir(visit func(name string, inodeID uint64, fileType uint8) bool) error {
	for _, e := range n.entries {
		if !visit(e.name, e.inodeID, e.fileType) {
			break
		}
	}
	return nil
}

func (n *fakeNode) ID() uint64       { return 1 }
func (n *fakeNode) IsDir() bool      { return true }
func (n *fakeNode) Size() uint64     { return 0 }
func (n *fakeNode) Mode() uint32     { return 0o40755 }
func (n *fakeNode) NumLinks() uint32 { return 2 }
func (n *fakeNode) UID() uint32      { return 0 }
func (n *fakeNode) GID() uint32      { return 0 }
func (n *fakeNode) ModTime() (atime, mtime, ctime, crtime time.Time) {
	return
}
func (n *fakeNode) ReadAt(pos int64, buf []byte) (int, error)        { return 0, nil }
func (n *fakeNode) ReadLink() (string, error)                        { return "", nil }
func (n *fakeNode) CheckPermissions(uid, gid uint32, want int) error { return nil }

func TestWriteDirListingSkipsAlreadyReturnedEntries(t *testing.T) {
	n := &fakeNode{entries: []fakeDirent{
		{name: ".", inodeID: 1, fileType: oext.FileTypeDir},
		{name: "..", inodeID: 1, fileType: oext.FileTypeDir},
		{name: "a.txt", inodeID: 2, fileType: oext.FileTypeFile},
		{name: "b.txt", inodeID: 3, fileType: oext.FileTypeFile},
	}}

	buf := make([]byte, 4096)
	n1, err := writeDirListing(buf, 0, n)
	require.NoError(t, err)
	assert.Positive(t, n1)

	n2, err := writeDirListing(buf, fuseops.DirOffset(len(n.entries)), n)
	require.NoError(t, err)
	assert.Zero(t, n2)
}
