// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"strconv"
	"strings"
)

// btrfsInitParams is spec.md §6's "Environment / args" contract for
// Btrfs: a "key value; key value; ..." string recognizing
// {name, verbose, sector_size, block_size}.
type btrfsInitParams struct {
	Name       string
	Verbose    bool
	SectorSize int
	BlockSize  int
}

var validBlockSizes = map[int]bool{1024: true, 2048: true, 4096: true, 8192: true, 16384: true}

// parseBtrfsInitParams parses spec.md §6's four-key grammar by splitting
// s on ';' into clauses and each clause at its first space or tab into
// key and value, rejecting unknown keys and out-of-range values.
func parseBtrfsInitParams(s string) (btrfsInitParams, error) {
	var params btrfsInitParams
	for _, clause := range splitClauses(s) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		key, value, ok := splitKeyValue(clause)
		if !ok {
			return params, fmt.Errorf("malformed clause %q: want \"key value\"", clause)
		}
		switch key {
		case "name":
			if len(value) > 255 || strings.ContainsAny(value, `/\`) {
				return params, fmt.Errorf("name %q must be <=255 bytes and contain no / or \\", value)
			}
			params.Name = value
		case "verbose":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return params, fmt.Errorf("verbose: %w", err)
			}
			params.Verbose = b
		case "sector_size":
			n, err := strconv.Atoi(value)
			if err != nil {
				return params, fmt.Errorf("sector_size: %w", err)
			}
			if n < 512 || n > 8192 {
				return params, fmt.Errorf("sector_size %d out of range [512, 8192]", n)
			}
			params.SectorSize = n
		case "block_size":
			n, err := strconv.Atoi(value)
			if err != nil {
				return params, fmt.Errorf("block_size: %w", err)
			}
			if !validBlockSizes[n] {
				return params, fmt.Errorf("block_size %d must be one of 1024, 2048, 4096, 8192, 16384", n)
			}
			params.BlockSize = n
		default:
			return params, fmt.Errorf("unknown key %q", key)
		}
	}
	return params, nil
}

// splitClauses splits on top-level ';' separators.
func splitClauses(s string) []string {
	return strings.Split(s, ";")
}

// splitKeyValue splits "key value" on the first run of whitespace.
func splitKeyValue(clause string) (key, value string, ok bool) {
	i := strings.IndexAny(clause, " \t")
	if i < 0 {
		return "", "", false
	}
	return clause[:i], strings.TrimSpace(clause[i+1:]), true
}
