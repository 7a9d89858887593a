package iso9660

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/iso9660/dir"
)

// Inode is the ISO9660 side of spec.md §4.3's contract: a non-owning
// reference to its Volume plus the resolved directory entry (extent
// list, type, and whichever Rock Ridge attributes were decoded) that
// produced it. There is no persisted inode record to re-read or
// write back — every field an Inode exposes was already captured when
// its parent directory's Lookup/ReadDir decoded the entry, or (for the
// root) when Mount decoded the active volume descriptor's root
// directory record.
type Inode struct {
	vol   *Volume
	id    uint64
	entry dir.Entry
}

// ID returns this inode's vnode id (spec.md §6's RootInodeID for the
// root directory, the entry's own extent LBA otherwise).
func (n *Inode) ID() uint64 { return n.id }

// Size returns the file's total byte length, the sum of every extent
// a multi-extent entry's directory records described.
func (n *Inode) Size() uint64 { return n.entry.DataLength }

// IsDir reports whether this inode is a directory.
func (n *Inode) IsDir() bool { return n.entry.FileType == dir.FileTypeDir }

// IsSymlink reports whether this inode is a Rock Ridge symbolic link.
// Per spec.md §9's design note, symlink detection otherwise trusts the
// Rock Ridge PX entry's S_ISLNK mode bits; absent those, an inode is
// only ever classified a symlink when it carries an "SL" entry in the
// first place (see iso9660/dir's rockRidgeInfo.hasSymlink).
func (n *Inode) IsSymlink() bool { return n.entry.FileType == dir.FileTypeSymlink }

// Mode returns the POSIX mode bits spec.md §4.3 `read_stat` reports.
// When the entry carried a Rock Ridge "PX" entry its mode bits are
// returned verbatim; otherwise this driver synthesizes a read-only
// default (0555 for directories, 0444 for everything else) since a
// plain ISO9660/Joliet directory record has no permission bits of its
// own.
func (n *Inode) Mode() uint32 {
	if n.entry.HasPosix {
		return n.entry.Mode
	}
	switch n.entry.FileType {
	case dir.FileTypeDir:
		return unix.S_IFDIR | 0o555
	case dir.FileTypeSymlink:
		return unix.S_IFLNK | 0o444
	default:
		return unix.S_IFREG | 0o444
	}
}

// UID/GID return the Rock Ridge PX owner, or 0 when absent.
func (n *Inode) UID() uint32 { return n.entry.UID }
func (n *Inode) GID() uint32 { return n.entry.GID }

// NumLinks returns a synthetic hard-link count, matching btrfs.Inode
// and ext.Inode's NumLinks() so callers (the vfs shim's shared
// attribute plumbing) can treat all three backends uniformly. ISO9660
// carries no link count of its own: every real implementation (mkisofs,
// the Linux kernel's isofs) reports 1 for a plain file and 2 for a
// directory (no ".." back-references are counted, since nothing can
// ever link a second name to the same ISO9660 entry).
func (n *Inode) NumLinks() uint32 {
	if n.IsDir() {
		return 2
	}
	return 1
}

// ModTime returns the directory record's recorded timestamp (ECMA-119
// §9.1.5); ISO9660 records one timestamp per entry, so atime/mtime/
// ctime/crtime all read back the same value.
func (n *Inode) ModTime() (atime, mtime, ctime, crtime time.Time) {
	t := n.entry.ModTime
	return t, t, t, t
}

func (n *Inode) dirEngine() *dir.Engine {
	return &dir.Engine{
		Cache:     n.vol.Cache,
		Extents:   n.entry.Extents,
		Joliet:    n.vol.Joliet,
		RockRidge: n.vol.RockRidge,
	}
}

// Lookup resolves name within this directory inode (spec.md §4.4).
func (n *Inode) Lookup(name string) (*Inode, bool, error) {
	if !n.IsDir() {
		return nil, false, fserrors.New(fserrors.NotADirectory, "iso9660.Inode.Lookup", nil)
	}
	entry, ok, err := n.dirEngine().Lookup(name)
	if err != nil || !ok {
		return nil, false, err
	}
	return n.vol.inodeFromEntry(entry), true, nil
}

// ReadDir enumerates this directory inode's entries (spec.md §4.4).
func (n *Inode) ReadDir(visit func(name string, inodeID uint64, fileType uint8) bool) error {
	if !n.IsDir() {
		return fserrors.New(fserrors.NotADirectory, "iso9660.Inode.ReadDir", nil)
	}
	return n.dirEngine().ReadDir(func(e dir.Entry) bool {
		return visit(e.Name, n.vol.toVnodeID(e.InodeID), e.FileType)
	})
}

// ReadAt satisfies spec.md §4.3 `read_at`, reading across whatever
// number of (possibly non-contiguous) extents a multi-extent entry's
// directory records described.
func (n *Inode) ReadAt(pos int64, buf []byte) (int, error) {
	if pos < 0 {
		return 0, fserrors.New(fserrors.BadValue, "iso9660.Inode.ReadAt", fmt.Errorf("negative offset"))
	}
	size := int64(n.entry.DataLength)
	if pos >= size {
		return 0, io.EOF
	}
	want := int64(len(buf))
	if pos+want > size {
		want = size - pos
	}

	blockSize := int64(n.vol.Cache.BlockSize())
	var base int64
	for _, ext := range n.entry.Extents {
		extLen := int64(ext.DataLength)
		extStart, extEnd := base, base+extLen
		lo, hi := overlapRange(pos, pos+want, extStart, extEnd)
		if hi > lo {
			withinExt := lo - extStart
			startBlock := int64(ext.StartBlock) + withinExt/blockSize
			blockOff := withinExt % blockSize
			remaining := hi - lo
			dst := buf[lo-pos : hi-pos]
			for remaining > 0 {
				diskBuf, err := n.vol.Cache.Get(startBlock)
				if err != nil {
					return 0, fserrors.New(fserrors.IOError, "iso9660.Inode.ReadAt", err)
				}
				chunk := int64(len(diskBuf)) - blockOff
				if chunk > remaining {
					chunk = remaining
				}
				copy(dst[:chunk], diskBuf[blockOff:blockOff+chunk])
				dst = dst[chunk:]
				remaining -= chunk
				startBlock++
				blockOff = 0
			}
		}
		base = extEnd
	}
	return int(want), nil
}

func overlapRange(aStart, aEnd, bStart, bEnd int64) (lo, hi int64) {
	lo, hi = aStart, aEnd
	if bStart > lo {
		lo = bStart
	}
	if bEnd < hi {
		hi = bEnd
	}
	return lo, hi
}

// ReadLink returns a Rock Ridge symlink's target, assembled across
// however many "SL" entries (and continuation "CE" entries) the
// directory record's System Use Area chained together.
func (n *Inode) ReadLink() (string, error) {
	if !n.IsSymlink() {
		return "", fserrors.New(fserrors.BadValue, "iso9660.Inode.ReadLink", fmt.Errorf("not a symlink"))
	}
	return n.entry.SymlinkTarget, nil
}

// CheckPermissions satisfies spec.md §4.3 `check_permissions`: ISO9660
// is mounted read-only throughout (spec.md §1), so any write intent
// fails ReadOnlyDevice regardless of mode bits; read/execute otherwise
// follow the standard POSIX uid/gid/mode check against Mode().
func (n *Inode) CheckPermissions(uid, gid uint32, want int) error {
	if want&unix.W_OK != 0 {
		return fserrors.New(fserrors.ReadOnlyDevice, "iso9660.Inode.CheckPermissions", nil)
	}
	mode := n.Mode()
	var shift uint
	switch {
	case n.entry.HasPosix && uid == n.entry.UID:
		shift = 6
	case n.entry.HasPosix && gid == n.entry.GID:
		shift = 3
	default:
		shift = 0
	}
	perm := (mode >> shift) & 0o7
	need := uint32(0)
	if want&unix.R_OK != 0 {
		need |= 0o4
	}
	if want&unix.X_OK != 0 {
		need |= 0o1
	}
	if perm&need != need {
		return fserrors.New(fserrors.NotAllowed, "iso9660.Inode.CheckPermissions", nil)
	}
	return nil
}
