package vfs

import "github.com/vnodefs/vnodefs/btrfs"

// btrfsNode adapts *btrfs.Inode to the node interface: every other
// method node names is already exported under the same signature, but
// ObjectID is a plain field (not a method), so Lookup/ReadDir results
// get wrapped here before being handed to the shared attribute/readdir
// plumbing in attrs.go.
type btrfsNode struct{ *btrfs.Inode }

func (n btrfsNode) ID() uint64 { return n.ObjectID }
