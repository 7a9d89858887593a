// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vnodefs/vnodefs/btrfs"
	"github.com/vnodefs/vnodefs/device"
	"github.com/vnodefs/vnodefs/ext"
	"github.com/vnodefs/vnodefs/iso9660"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobraCommand("ls PATH IMAGE", "List a directory's entries", cobra.ExactArgs(2)),
		RunE:    runLs,
	})
}

func runLs(dev device.BlockDevice, fsType string, cmd *cobra.Command, args []string) error {
	path := args[0]
	components := splitPath(path)

	switch fsType {
	case "btrfs":
		vol, err := btrfs.Mount(dev, true)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		dirIno, err := vol.Root()
		if err != nil {
			return fmt.Errorf("root: %w", err)
		}
		for _, name := range components {
			child, ok, err := dirIno.Lookup(name)
			if err != nil {
				return fmt.Errorf("lookup %q: %w", name, err)
			}
			if !ok {
				return fmt.Errorf("no such entry: %q", name)
			}
			dirIno = child
		}
		return dirIno.ReadDir(func(name string, inodeID uint64, fileType uint8) bool {
			fmt.Printf("%10d %3d %s\n", inodeID, fileType, name)
			return true
		})

	case "ext":
		vol, err := ext.Mount(dev, true)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		dirIno, err := vol.Root()
		if err != nil {
			return fmt.Errorf("root: %w", err)
		}
		for _, name := range components {
			res, ok, err := dirIno.Lookup(name)
			if err != nil {
				return fmt.Errorf("lookup %q: %w", name, err)
			}
			if !ok {
				return fmt.Errorf("no such entry: %q", name)
			}
			dirIno, err = vol.GetInode(res.InodeID)
			if err != nil {
				return fmt.Errorf("get inode %d: %w", res.InodeID, err)
			}
		}
		return dirIno.ReadDir(func(name string, inodeID uint64, fileType uint8) bool {
			fmt.Printf("%10d %3d %s\n", inodeID, fileType, name)
			return true
		})

	case "iso9660":
		vol, err := iso9660.Mount(dev, false)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		dirIno := vol.Root()
		for _, name := range components {
			child, ok, err := dirIno.Lookup(name)
			if err != nil {
				return fmt.Errorf("lookup %q: %w", name, err)
			}
			if !ok {
				return fmt.Errorf("no such entry: %q", name)
			}
			dirIno = child
		}
		return dirIno.ReadDir(func(name string, inodeID uint64, fileType uint8) bool {
			fmt.Printf("%10d %3d %s\n", inodeID, fileType, name)
			return true
		})

	default:
		return fmt.Errorf("unknown -fs %q: must be btrfs, ext, or iso9660", fsType)
	}
}

// splitPath splits a "/"-separated path into non-empty components, the
// way an ls tool walking Lookup one component at a time needs it.
func splitPath(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
