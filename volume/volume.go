// Package volume defines the Volume contract shared by the three
// on-disk drivers (spec.md §4.1): mount/unmount, block/inode
// allocation, logical-to-physical translation, and the Ext-only
// orphan list. No package in this module implements or imports these
// interfaces: btrfs.Volume, ext.Volume and iso9660.Volume (and their
// Inode types) have their own method sets, and the vfs package works
// with those concrete types directly.
package volume

import (
	"context"

	"github.com/vnodefs/vnodefs/blockcache"
)

// InodeID identifies an inode/vnode within a mounted volume. Btrfs
// calls this an object-id; Ext calls it an inode number; ISO9660
// synthesises one from a directory-record's extent location.
type InodeID uint64

// Stat is the subset of inode metadata the VFS shim's read_stat/
// write_stat calls operate on (spec.md §6).
type Stat struct {
	Size  uint64
	Mode  uint32
	UID   uint32
	GID   uint32
	Nlink uint32

	ATimeSec, ATimeNSec int64
	MTimeSec, MTimeNSec int64
	CTimeSec, CTimeNSec int64
	CrTimeSec, CrTimeNSec int64
}

// StatMask selects which Stat fields a write_stat call applies
// (spec.md §6 "Mask selects which of {size, mode, uid, gid, atime,
// mtime, ctime, crtime} is applied").
type StatMask uint32

const (
	StatSize StatMask = 1 << iota
	StatMode
	StatUID
	StatGID
	StatATime
	StatMTime
	StatCTime
	StatCrTime
)

// Volume is the mount-level contract; none of the drivers' Volume types
// implements it.
type Volume interface {
	// Mount has already happened by the time a Volume value exists;
	// constructors are driver-specific (btrfs.Mount, ext.Mount,
	// iso9660.Mount) since their flags/args differ (spec.md §6
	// "Environment / args").
	Unmount(ctx context.Context) error

	BlockSize() int
	ReadOnly() bool
	RootInode() InodeID

	// FindBlock resolves a driver-defined logical address to a
	// physical block number (spec.md §4.1 `find_block`).
	FindBlock(ctx context.Context, logical uint64) (physical uint64, err error)

	AllocateBlocks(ctx context.Context, txn blockcache.TxnID, min, max int64, preferredGroup int64) (start, length int64, err error)
	FreeBlocks(ctx context.Context, txn blockcache.TxnID, start, length int64) error

	AllocateInode(ctx context.Context, txn blockcache.TxnID, parent InodeID, mode uint32) (InodeID, error)
	FreeInode(ctx context.Context, txn blockcache.TxnID, id InodeID, isDir bool) error
}

// OrphanTracker is the Ext-only orphan-list contract (spec.md §4.1
// "Ext only"); ext.Volume's SaveOrphan/RemoveOrphan take *ext.Inode
// arguments and no context, so it does not implement this interface.
// Btrfs removes FS-tree entries directly and ISO9660 is read-only, so
// neither has an orphan list.
type OrphanTracker interface {
	SaveOrphan(ctx context.Context, txn blockcache.TxnID, newID InodeID) (previousHead InodeID, err error)
	RemoveOrphan(ctx context.Context, txn blockcache.TxnID, id InodeID) error
}

// Inode is the shared per-object contract (spec.md §4.3); the drivers'
// Inode types do not implement it (their ID, ReadAt, WriteAt and
// CheckPermissions methods have different signatures).
type Inode interface {
	ID() InodeID
	Stat(ctx context.Context) (Stat, error)
	WriteStat(ctx context.Context, txn blockcache.TxnID, mask StatMask, stat Stat) error

	ReadAt(ctx context.Context, pos int64, buf []byte) (int, error)
	WriteAt(ctx context.Context, txn blockcache.TxnID, pos int64, buf []byte) (int, error)
	Resize(ctx context.Context, txn blockcache.TxnID, newSize int64) error

	Unlink(ctx context.Context, txn blockcache.TxnID) error
	CheckPermissions(mode uint32, uid, gid uint32) error
}

// DirEntry is one name resolved by a directory lookup or yielded by
// readdir (spec.md §4.4).
type DirEntry struct {
	Name   string
	Inode  InodeID
	Type   uint8
	Cookie uint64 // opaque readdir resume position
}

// Directory is the shared directory-engine contract (spec.md §4.4);
// Lookup/ReadDir/Create/Remove/Rename are implemented per-driver since
// the index structures (HTree vs. DIR_ITEM/DIR_INDEX) differ; the VFS
// shims call each driver's own directory methods, not this interface.
type Directory interface {
	Lookup(ctx context.Context, name string) (InodeID, error)
	ReadDir(ctx context.Context, cookie uint64, fn func(DirEntry) error) (nextCookie uint64, err error)
	Create(ctx context.Context, txn blockcache.TxnID, name string, child InodeID, fileType uint8) error
	Remove(ctx context.Context, txn blockcache.TxnID, name string) error
}
