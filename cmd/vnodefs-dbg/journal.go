// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/spf13/cobra"

	"github.com/vnodefs/vnodefs/device"
	"github.com/vnodefs/vnodefs/ext"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobraCommand("journal IMAGE", "Summarize an Ext3/4 journal's pending log without replaying it", cobra.ExactArgs(1)),
		RunE:    runJournal,
	})
}

// journalSummary is a dry-run report built from Volume.OpenJournalReadOnly,
// which opens the journal's superblock and in-memory state without
// calling Recover (spec.md §4.6), so running this subcommand against a
// read-only-opened device never replays or mutates anything.
type journalSummary struct {
	BlockSize          uint32
	NumLogBlocks       uint32
	LogStart           uint32
	LogEnd             uint32
	FreeBlocks         uint32
	CurrentCommitID    uint32
	MaxTransactionSize uint32
	HasRevoke          bool
}

func runJournal(dev device.BlockDevice, fsType string, cmd *cobra.Command, args []string) (err error) {
	if fsType != "ext" {
		return fmt.Errorf("journal is only meaningful with -fs=ext")
	}

	vol, err := ext.Mount(dev, true)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	journal, err := vol.OpenJournalReadOnly()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	out := bufio.NewWriter(os.Stdout)
	defer func() {
		if ferr := out.Flush(); err == nil {
			err = ferr
		}
	}()

	summary := journalSummary{
		BlockSize:          journal.BlockSize,
		NumLogBlocks:       journal.NumLogBlocks,
		LogStart:           journal.LogStart,
		LogEnd:             journal.LogEnd,
		FreeBlocks:         journal.FreeBlocks,
		CurrentCommitID:    journal.CurrentCommitID,
		MaxTransactionSize: journal.MaxTransactionSize,
		HasRevoke:          journal.HasRevoke,
	}
	return lowmemjson.Encode(&lowmemjson.ReEncoder{
		Out:                   out,
		Indent:                "\t",
		ForceTrailingNewlines: true,
	}, summary)
}
