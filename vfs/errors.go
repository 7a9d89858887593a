package vfs

import (
	"syscall"

	"github.com/vnodefs/vnodefs/fserrors"
)

// errno translates this module's fserrors.Kind taxonomy into the
// syscall.Errno values jacobsa/fuse recognizes when a FileSystem
// method returns a plain error (the same convention the teacher's
// Subvolume uses directly for syscall.ENOENT/syscall.EBADF/
// syscall.ENOSYS in cmd/btrfs-mount/subvol_fuse.go). Errors this
// module never returns as an *fserrors.Error (e.g. a plain io.EOF,
// which callers are expected to have already turned into a short
// read) pass through unchanged.
func errno(err error) error {
	if err == nil {
		return nil
	}
	kind, ok := fserrors.Of(err)
	if !ok {
		return err
	}
	switch kind {
	case fserrors.ReadOnlyDevice:
		return syscall.EROFS
	case fserrors.BadValue:
		return syscall.EINVAL
	case fserrors.BadData:
		return syscall.EIO
	case fserrors.NoMemory:
		return syscall.ENOMEM
	case fserrors.IOError:
		return syscall.EIO
	case fserrors.EntryNotFound:
		return syscall.ENOENT
	case fserrors.FileExists:
		return syscall.EEXIST
	case fserrors.NotAllowed:
		return syscall.EACCES
	case fserrors.IsADirectory:
		return syscall.EISDIR
	case fserrors.NotADirectory:
		return syscall.ENOTDIR
	case fserrors.DirectoryNotEmpty:
		return syscall.ENOTEMPTY
	case fserrors.DeviceFull:
		return syscall.ENOSPC
	case fserrors.Unsupported:
		return syscall.ENOSYS
	case fserrors.BufferOverflow:
		return syscall.ERANGE
	case fserrors.Interrupted:
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}
