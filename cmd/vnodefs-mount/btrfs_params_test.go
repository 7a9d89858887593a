// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBtrfsInitParamsAllKeys(t *testing.T) {
	params, err := parseBtrfsInitParams("name myvol; verbose true; sector_size 4096; block_size 16384")
	require.NoError(t, err)
	assert.Equal(t, "myvol", params.Name)
	assert.True(t, params.Verbose)
	assert.Equal(t, 4096, params.SectorSize)
	assert.Equal(t, 16384, params.BlockSize)
}

func TestParseBtrfsInitParamsEmptyStringIsValid(t *testing.T) {
	params, err := parseBtrfsInitParams("")
	require.NoError(t, err)
	assert.Equal(t, btrfsInitParams{}, params)
}

func TestParseBtrfsInitParamsRejectsUnknownKey(t *testing.T) {
	_, err := parseBtrfsInitParams("bogus 1")
	assert.Error(t, err)
}

func TestParseBtrfsInitParamsRejectsOutOfRangeSectorSize(t *testing.T) {
	_, err := parseBtrfsInitParams("sector_size 256")
	assert.Error(t, err)

	_, err = parseBtrfsInitParams("sector_size 16384")
	assert.Error(t, err)
}

func TestParseBtrfsInitParamsRejectsNonEnumBlockSize(t *testing.T) {
	_, err := parseBtrfsInitParams("block_size 3000")
	assert.Error(t, err)
}

func TestParseBtrfsInitParamsRejectsSlashInName(t *testing.T) {
	_, err := parseBtrfsInitParams(`name foo/bar`)
	assert.Error(t, err)
}

func TestParseBtrfsInitParamsRejectsMalformedClause(t *testing.T) {
	_, err := parseBtrfsInitParams("verbose")
	assert.Error(t, err)
}
