// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command vnodefs-dbg is a read-only inspection tool, adapted from the
// teacher's cmd/btrfs-dump-tree / cmd/btrfs-ls-files subcommand-registry
// idiom (cmd/btrfs-rec/main.go's `subcommand` type and `inspectors`
// slice) to dispatch across spec.md §1's three backends.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vnodefs/vnodefs/device"
	"github.com/vnodefs/vnodefs/lib/profile"
)

// subcommand pairs a cobra.Command with a RunE that already has an
// opened device handle, the way cmd/btrfs-rec/main.go's subcommand
// type already has an open *btrfs.FS by the time RunE runs.
type subcommand struct {
	cobra.Command
	RunE func(dev device.BlockDevice, fsType string, cmd *cobra.Command, args []string) error
}

var subcommands []subcommand

func main() {
	var fsType string

	argparser := &cobra.Command{
		Use:   "vnodefs-dbg {[flags]|SUBCOMMAND} IMAGE",
		Short: "Inspect a Btrfs, Ext2/3/4, or ISO9660 image (read-only)",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{ //nolint:exhaustivestruct
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().StringVar(&fsType, "fs", "", "filesystem driver to use: btrfs, ext, or iso9660 (required)")
	if err := argparser.MarkPersistentFlagRequired("fs"); err != nil {
		panic(err)
	}
	stopProfiling := profile.AddProfileFlags(argparser.PersistentFlags(), "profile-")
	defer stopProfiling() //nolint:errcheck

	for _, child := range subcommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			imgfile := args[len(args)-1]
			dev, err := device.DefaultOpener{}.Open(imgfile, true)
			if err != nil {
				return err
			}
			defer dev.Close()
			return runE(dev, fsType, cmd, args[:len(args)-1])
		}
		argparser.AddCommand(&cmd)
	}

	ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logrus.New()))
	if err := argparser.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
