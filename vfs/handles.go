package vfs

import (
	"sync/atomic"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/vnodefs/vnodefs/containers"
)

// dirState and fileState are the per-open-handle state every backend's
// OpenDir/OpenFile stashes and ReadDir/ReadFile/Release* later look
// back up by handle, mirroring the teacher's own dirState/fileState
// (cmd/btrfs-mount/subvol_fuse.go) generalized from *btrfs.Dir/*btrfs.File
// to the shared node interface.
type dirState struct {
	Dir node
}

type fileState struct {
	File node
}

// handles is the handle-table half of a FileSystem implementation,
// embedded by BtrfsFS/ExtFS/Iso9660FS instead of duplicated three
// times: an atomic handle counter plus the two lock-free maps the
// teacher's Subvolume keeps (containers.SyncMap, this module's own
// package, adapted from the teacher's pkg/util.SyncMap).
type handles struct {
	lastHandle  uint64
	dirHandles  containers.SyncMap[fuseops.HandleID, *dirState]
	fileHandles containers.SyncMap[fuseops.HandleID, *fileState]
}

func (h *handles) newHandle() fuseops.HandleID {
	return fuseops.HandleID(atomic.AddUint64(&h.lastHandle, 1))
}
