// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/vnodefs/vnodefs/btrfs"
	"github.com/vnodefs/vnodefs/device"
	"github.com/vnodefs/vnodefs/lib/textui"
	obtrfs "github.com/vnodefs/vnodefs/ondisk/btrfs"
)

// scanStats is the textui.Stats payload the "tree" subcommand reports
// through periodically while a scan is in flight, the same
// count-and-render-to-a-string shape cmd/btrfs-rec's own inspectors
// fed to textui.NewProgress.
type scanStats struct{ n int }

func (s scanStats) String() string { return fmt.Sprintf("scanned %d items", s.n) }

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobraCommand("tree NAME IMAGE", "Walk one of a Btrfs volume's trees (chunk, root, extent, fs) and print every key", cobra.ExactArgs(2)),
		RunE:    runTree,
	})
}

func runTree(dev device.BlockDevice, fsType string, cmd *cobra.Command, args []string) error {
	if fsType != "btrfs" {
		return fmt.Errorf("tree is only meaningful with -fs=btrfs")
	}
	name := args[0]

	vol, err := btrfs.Mount(dev, true)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	var tree interface {
		ScanRange(start, end obtrfs.Key, fn func(obtrfs.Key, []byte) error) error
	}
	switch name {
	case "chunk":
		tree = vol.ChunkTree
	case "root":
		tree = vol.RootTree
	case "extent":
		tree = vol.ExtentTree
	case "fs":
		tree = vol.FSTree
	default:
		return fmt.Errorf("unknown tree %q: must be chunk, root, extent, or fs", name)
	}

	progress := textui.NewProgress[scanStats](cmd.Context(), dlog.LogLevelInfo, 500*time.Millisecond)
	defer progress.Done()
	var n int
	return tree.ScanRange(obtrfs.Key{}, obtrfs.MaxKey, func(key obtrfs.Key, data []byte) error {
		n++
		progress.Set(scanStats{n: n})
		fmt.Printf("%20d %3d %20d  (%d bytes)\n", uint64(key.ObjectID), uint8(key.ItemType), uint64(key.Offset), len(data))
		return nil
	})
}
