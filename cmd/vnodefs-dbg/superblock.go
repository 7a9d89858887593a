// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/vnodefs/vnodefs/btrfs"
	"github.com/vnodefs/vnodefs/device"
	"github.com/vnodefs/vnodefs/ext"
	"github.com/vnodefs/vnodefs/iso9660"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobraCommand("superblock IMAGE", "Dump the volume superblock/descriptor as JSON", cobra.ExactArgs(1)),
		RunE:    runSuperblock,
	})
}

// cobraCommand is the small helper every subcommand file here uses to
// build the positional-args shape cmd/btrfs-rec/main.go's own
// subcommand registrations use (Use/Short/Args wrapped in
// cliutil.WrapPositionalArgs).
func cobraCommand(use, short string, args cobra.PositionalArgs) cobra.Command {
	return cobra.Command{
		Use:   use,
		Short: short,
		Args:  cliutil.WrapPositionalArgs(args),
	}
}

func runSuperblock(dev device.BlockDevice, fsType string, cmd *cobra.Command, args []string) (err error) {
	out := bufio.NewWriter(os.Stdout)
	defer func() {
		if ferr := out.Flush(); err == nil {
			err = ferr
		}
	}()

	var obj any
	switch fsType {
	case "btrfs":
		vol, err := btrfs.Mount(dev, true)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		obj = vol.Super
	case "ext":
		vol, err := ext.Mount(dev, true)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		obj = vol.Super
	case "iso9660":
		vol, err := iso9660.Mount(dev, false)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		obj = struct {
			Primary   any
			Joliet    bool
			SVD       any
			RockRidge bool
		}{vol.Primary, vol.Joliet, vol.SVD, vol.RockRidge}
	default:
		return fmt.Errorf("unknown -fs %q: must be btrfs, ext, or iso9660", fsType)
	}

	return lowmemjson.Encode(&lowmemjson.ReEncoder{
		Out:                   out,
		Indent:                "\t",
		ForceTrailingNewlines: true,
	}, obj)
}
