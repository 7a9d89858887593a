// Package vfs wires btrfs.Volume, ext.Volume, and iso9660.Volume into
// spec.md §6's POSIX vnode contract, exposed to the kernel over FUSE.
// Grounded on the teacher's cmd/btrfs-mount (Subvolume, a
// fuseutil.FileSystem wrapping one mounted btrfs.Subvolume): each
// backend gets its own FileSystem implementation here (BtrfsFS, ExtFS,
// Iso9660FS) sharing the handle-table/attribute-conversion/readdir
// plumbing below instead of duplicating it per backend, since that
// plumbing only needs a small common read-only surface every backend's
// Inode already happens to expose under the same method names.
package vfs

import "time"

// node is the minimum surface every backend's Inode wrapper exposes to
// the shared attribute/readdir/read helpers in attrs.go, independent
// of which on-disk format produced it. Mutating operations (create,
// mkdir, unlink, rename, write) are not part of this interface: their
// parameter/return shapes differ enough across backends (see
// DESIGN.md's Open Question on ext.Inode.Lookup's dir.Result vs. the
// other two backends' direct *Inode) that each FileSystem
// implementation below calls its own concrete Volume/Inode methods
// directly instead of going through an abstraction for them.
type node interface {
	ID() uint64
	IsDir() bool
	Size() uint64
	Mode() uint32
	NumLinks() uint32
	UID() uint32
	GID() uint32
	ModTime() (atime, mtime, ctime, crtime time.Time)
	ReadDir(visit func(name string, inodeID uint64, fileType uint8) bool) error
	ReadAt(pos int64, buf []byte) (int, error)
	ReadLink() (string, error)
	CheckPermissions(uid, gid uint32, want int) error
}
