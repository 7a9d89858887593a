package vfs

import (
	"context"
	"errors"
	"io"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/vnodefs/vnodefs/ext"
)

// ExtFS is spec.md §6's vnode contract over a mounted ext.Volume,
// spec.md §1's "read/write Ext2/3/4 driver". ext.Inode.Lookup returns
// (dir.Result, bool, error) rather than the child *Inode directly
// (unlike btrfs.Inode.Lookup/iso9660.Inode.Lookup), so LookUpInode here
// needs a follow-up Vol.GetInode call the other two backends' shims don't.
type ExtFS struct {
	fuseutil.NotImplementedFileSystem
	handles

	Vol    *ext.Volume
	RootID uint64
}

func NewExtFS(vol *ext.Volume) (*ExtFS, error) {
	root, err := vol.Root()
	if err != nil {
		return nil, err
	}
	return &ExtFS{Vol: vol, RootID: root.ID}, nil
}

func (fs *ExtFS) resolve(id fuseops.InodeID) uint64 {
	if id == fuseops.RootInodeID {
		return fs.RootID
	}
	return uint64(id)
}

func (fs *ExtFS) StatFS(_ context.Context, op *fuseops.StatFSOp) error {
	op.IoSize = 4096
	op.BlockSize = uint32(fs.Vol.Cache.BlockSize())
	op.Blocks = uint64(fs.Vol.Cache.NumBlocks())
	op.Inodes = 0
	op.InodesFree = 0
	return nil
}

func (fs *ExtFS) LookUpInode(_ context.Context, op *fuseops.LookUpInodeOp) error {
	parent, err := fs.Vol.GetInode(fs.resolve(op.Parent))
	if err != nil {
		return errno(err)
	}
	res, ok, err := parent.Lookup(op.Name)
	if err != nil {
		return errno(err)
	}
	if !ok {
		return syscall.ENOENT
	}
	child, err := fs.Vol.GetInode(res.InodeID)
	if err != nil {
		return errno(err)
	}
	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(child.ID),
		Attributes: attrsFromNode(extNode{child}),
	}
	return nil
}

func (fs *ExtFS) GetInodeAttributes(_ context.Context, op *fuseops.GetInodeAttributesOp) error {
	ino, err := fs.Vol.GetInode(fs.resolve(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrsFromNode(extNode{ino})
	return nil
}

func (fs *ExtFS) SetInodeAttributes(_ context.Context, op *fuseops.SetInodeAttributesOp) error {
	ino, err := fs.Vol.GetInode(fs.resolve(op.Inode))
	if err != nil {
		return errno(err)
	}
	if op.Size != nil {
		txn := fs.Vol.Cache.StartTransaction()
		if err := ino.Resize(txn, *op.Size); err != nil {
			_ = fs.Vol.EndTransaction(context.Background(), txn)
			return errno(err)
		}
		if err := fs.Vol.EndTransaction(context.Background(), txn); err != nil {
			return errno(err)
		}
		ino, err = fs.Vol.GetInode(ino.ID)
		if err != nil {
			return errno(err)
		}
	}
	op.Attributes = attrsFromNode(extNode{ino})
	return nil
}

func (fs *ExtFS) MkDir(_ context.Context, op *fuseops.MkDirOp) error {
	parent, err := fs.Vol.GetInode(fs.resolve(op.Parent))
	if err != nil {
		return errno(err)
	}
	txn := fs.Vol.Cache.StartTransaction()
	ino, err := fs.Vol.Mkdir(txn, parent, op.Name, uint16(op.Mode), op.OpContext.Uid, op.OpContext.Gid)
	if err != nil {
		_ = fs.Vol.EndTransaction(context.Background(), txn)
		return errno(err)
	}
	if err := fs.Vol.EndTransaction(context.Background(), txn); err != nil {
		return errno(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(ino.ID), Attributes: attrsFromNode(extNode{ino})}
	return nil
}

func (fs *ExtFS) CreateFile(_ context.Context, op *fuseops.CreateFileOp) error {
	parent, err := fs.Vol.GetInode(fs.resolve(op.Parent))
	if err != nil {
		return errno(err)
	}
	txn := fs.Vol.Cache.StartTransaction()
	ino, err := fs.Vol.CreateFile(txn, parent, op.Name, uint16(op.Mode), op.OpContext.Uid, op.OpContext.Gid)
	if err != nil {
		_ = fs.Vol.EndTransaction(context.Background(), txn)
		return errno(err)
	}
	if err := fs.Vol.EndTransaction(context.Background(), txn); err != nil {
		return errno(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(ino.ID), Attributes: attrsFromNode(extNode{ino})}
	return nil
}

func (fs *ExtFS) CreateSymlink(_ context.Context, op *fuseops.CreateSymlinkOp) error {
	parent, err := fs.Vol.GetInode(fs.resolve(op.Parent))
	if err != nil {
		return errno(err)
	}
	txn := fs.Vol.Cache.StartTransaction()
	ino, err := fs.Vol.CreateSymlink(txn, parent, op.Name, op.Target, op.OpContext.Uid, op.OpContext.Gid)
	if err != nil {
		_ = fs.Vol.EndTransaction(context.Background(), txn)
		return errno(err)
	}
	if err := fs.Vol.EndTransaction(context.Background(), txn); err != nil {
		return errno(err)
	}
	op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(ino.ID), Attributes: attrsFromNode(extNode{ino})}
	return nil
}

func (fs *ExtFS) RmDir(_ context.Context, op *fuseops.RmDirOp) error {
	parent, err := fs.Vol.GetInode(fs.resolve(op.Parent))
	if err != nil {
		return errno(err)
	}
	txn := fs.Vol.Cache.StartTransaction()
	if err := fs.Vol.Rmdir(txn, parent, op.Name); err != nil {
		_ = fs.Vol.EndTransaction(context.Background(), txn)
		return errno(err)
	}
	return errno(fs.Vol.EndTransaction(context.Background(), txn))
}

func (fs *ExtFS) Unlink(_ context.Context, op *fuseops.UnlinkOp) error {
	parent, err := fs.Vol.GetInode(fs.resolve(op.Parent))
	if err != nil {
		return errno(err)
	}
	txn := fs.Vol.Cache.StartTransaction()
	if err := fs.Vol.Unlink(txn, parent, op.Name); err != nil {
		_ = fs.Vol.EndTransaction(context.Background(), txn)
		return errno(err)
	}
	return errno(fs.Vol.EndTransaction(context.Background(), txn))
}

func (fs *ExtFS) Rename(_ context.Context, op *fuseops.RenameOp) error {
	oldParent, err := fs.Vol.GetInode(fs.resolve(op.OldParent))
	if err != nil {
		return errno(err)
	}
	newParent, err := fs.Vol.GetInode(fs.resolve(op.NewParent))
	if err != nil {
		return errno(err)
	}
	txn := fs.Vol.Cache.StartTransaction()
	if err := fs.Vol.Rename(txn, oldParent, op.OldName, newParent, op.NewName); err != nil {
		_ = fs.Vol.EndTransaction(context.Background(), txn)
		return errno(err)
	}
	return errno(fs.Vol.EndTransaction(context.Background(), txn))
}

func (fs *ExtFS) OpenDir(_ context.Context, op *fuseops.OpenDirOp) error {
	ino, err := fs.Vol.GetInode(fs.resolve(op.Inode))
	if err != nil {
		return errno(err)
	}
	handle := fs.newHandle()
	fs.dirHandles.Store(handle, &dirState{Dir: extNode{ino}})
	op.Handle = handle
	return nil
}

func (fs *ExtFS) ReadDir(_ context.Context, op *fuseops.ReadDirOp) error {
	state, ok := fs.dirHandles.Load(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	n, err := writeDirListing(op.Dst, op.Offset, state.Dir)
	op.BytesRead = n
	return errno(err)
}

func (fs *ExtFS) ReleaseDirHandle(_ context.Context, op *fuseops.ReleaseDirHandleOp) error {
	if _, ok := fs.dirHandles.LoadAndDelete(op.Handle); !ok {
		return syscall.EBADF
	}
	return nil
}

func (fs *ExtFS) OpenFile(_ context.Context, op *fuseops.OpenFileOp) error {
	ino, err := fs.Vol.GetInode(fs.resolve(op.Inode))
	if err != nil {
		return errno(err)
	}
	handle := fs.newHandle()
	fs.fileHandles.Store(handle, &fileState{File: extNode{ino}})
	op.Handle = handle
	op.KeepPageCache = true
	return nil
}

func (fs *ExtFS) ReadFile(_ context.Context, op *fuseops.ReadFileOp) error {
	state, ok := fs.fileHandles.Load(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	var dst []byte
	if op.Dst != nil {
		size := int64(len(op.Dst))
		if op.Size < size {
			size = op.Size
		}
		dst = op.Dst[:size]
	} else {
		dst = make([]byte, op.Size)
		op.Data = [][]byte{dst}
	}
	var err error
	op.BytesRead, err = state.File.ReadAt(op.Offset, dst)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return errno(err)
}

func (fs *ExtFS) WriteFile(_ context.Context, op *fuseops.WriteFileOp) error {
	ino, err := fs.Vol.GetInode(fs.resolve(op.Inode))
	if err != nil {
		return errno(err)
	}
	txn := fs.Vol.Cache.StartTransaction()
	if _, err := ino.WriteAt(txn, op.Offset, op.Data); err != nil {
		_ = fs.Vol.EndTransaction(context.Background(), txn)
		return errno(err)
	}
	return errno(fs.Vol.EndTransaction(context.Background(), txn))
}

func (fs *ExtFS) ReleaseFileHandle(_ context.Context, op *fuseops.ReleaseFileHandleOp) error {
	if _, ok := fs.fileHandles.LoadAndDelete(op.Handle); !ok {
		return syscall.EBADF
	}
	return nil
}

func (fs *ExtFS) ReadSymlink(_ context.Context, op *fuseops.ReadSymlinkOp) error {
	ino, err := fs.Vol.GetInode(fs.resolve(op.Inode))
	if err != nil {
		return errno(err)
	}
	target, err := ino.ReadLink()
	if err != nil {
		return errno(err)
	}
	op.Target = target
	return nil
}

func (fs *ExtFS) GetXattr(_ context.Context, op *fuseops.GetXattrOp) error { return syscall.ENOSYS }
func (fs *ExtFS) ListXattr(_ context.Context, op *fuseops.ListXattrOp) error {
	return syscall.ENOSYS
}

func (fs *ExtFS) Destroy() {}
