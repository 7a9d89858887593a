package vfs

import (
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

// attrsFromNode mirrors the teacher's inodeItemToFUSE
// (cmd/btrfs-mount/subvol_fuse.go), generalized from one Btrfs
// INODE_ITEM to any backend's node: jacobsa/fuse's InodeAttributes has
// no Rdev or Crtime field, so those two never had anywhere to go even
// on the teacher's Btrfs-only version.
func attrsFromNode(n node) fuseops.InodeAttributes {
	atime, mtime, ctime, _ := n.ModTime()
	return fuseops.InodeAttributes{
		Size:  n.Size(),
		Nlink: n.NumLinks(),
		Mode:  n.Mode(),
		Atime: atime,
		Mtime: mtime,
		Ctime: ctime,
		Uid:   n.UID(),
		Gid:   n.GID(),
	}
}

// direntType translates the ext2-style on-disk file-type byte every
// backend's ReadDir visitor reports (spec.md §4.4; FileTypeDir==2,
// FileTypeSymlink==7, etc. — the same numbering ondisk/ext, ondisk/btrfs's
// FtXxx constants, and iso9660/dir's FileTypeXxx constants all share)
// into jacobsa/fuse's DirentType, the same table
// cmd/btrfs-mount/subvol_fuse.go builds inline for Btrfs's own FtXxx type.
func direntType(fileType uint8) fuseutil.DirentType {
	switch fileType {
	case oext.FileTypeFile:
		return fuseutil.DT_File
	case oext.FileTypeDir:
		return fuseutil.DT_Directory
	case oext.FileTypeCharDev:
		return fuseutil.DT_Char
	case oext.FileTypeBlockDev:
		return fuseutil.DT_Block
	case oext.FileTypeFIFO:
		return fuseutil.DT_FIFO
	case oext.FileTypeSocket:
		return fuseutil.DT_Socket
	case oext.FileTypeSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_Unknown
	}
}

// writeDirListing satisfies spec.md §4.4 `readdir` in FUSE's paged
// form: op.Offset names how many entries a prior call already
// returned (jacobsa/fuse re-issues ReadDir with an increasing offset
// until a call returns zero bytes), so this re-walks the directory
// from the start every call, skipping that many entries, and stops
// writing as soon as a fuseutil.WriteDirent call reports the
// destination buffer is full. None of the three backends' per-Inode
// ReadDir preserves a stable per-entry cookie across calls (Btrfs's
// own DIR_INDEX offset gets discarded by btrfs.Inode.ReadDir's
// wrapper), so a running count is the only offset scheme available —
// correct as long as the directory isn't concurrently mutated between
// paged calls, the same assumption simple FUSE directory readers make.
func writeDirListing(dst []byte, offset fuseops.DirOffset, dir node) (int, error) {
	var bytesRead int
	var index fuseops.DirOffset
	err := dir.ReadDir(func(name string, inodeID uint64, fileType uint8) bool {
		index++
		if index <= offset {
			return true
		}
		n := fuseutil.WriteDirent(dst[bytesRead:], fuseutil.Dirent{
			Offset: index,
			Inode:  fuseops.InodeID(inodeID),
			Name:   name,
			Type:   direntType(fileType),
		})
		if n == 0 {
			return false
		}
		bytesRead += n
		return true
	})
	if err != nil {
		return bytesRead, err
	}
	return bytesRead, nil
}
