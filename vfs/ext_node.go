package vfs

import "github.com/vnodefs/vnodefs/ext"

// extNode adapts *ext.Inode to the node interface; see btrfsNode's
// comment — ext.Inode.ID is a plain field here too.
type extNode struct{ *ext.Inode }

func (n extNode) ID() uint64 { return n.Inode.ID }
