// Package journal implements the Ext3/4 write-ahead log (spec.md
// §4.6): the descriptor/commit write protocol, revoke tracking, and
// the three-pass crash-recovery scan.
//
// Grounded on ondisk/ext's journal.go (already transcribed from
// original_source/ext2/Journal.h) for the on-disk record shapes, and
// on btrfs/alloc's CachedExtentTree file for the general idea of a
// small in-memory index keyed by block number — here a flat map
// rather than an AVL, since revoke lookups only ever need "is this
// block revoked as of commit ID X", not range queries.
package journal

// RevokeManager tracks, for each block number revoked by some
// transaction, the highest commit ID at which it was revoked (spec.md
// §4.6's "Revoke blocks" / recovery pass 2: "inserting each listed
// block → commit-id into a hash-based revoke manager").
type RevokeManager struct {
	latest map[uint64]uint32
}

// NewRevokeManager returns an empty manager.
func NewRevokeManager() *RevokeManager {
	return &RevokeManager{latest: make(map[uint64]uint32)}
}

// Add records that block was revoked as of commitID, keeping the
// highest commit ID seen for that block (a later revoke record
// shadows all earlier transactions' copies of the block, not just the
// transaction that issued it).
func (r *RevokeManager) Add(block uint64, commitID uint32) {
	if cur, ok := r.latest[block]; !ok || commitID > cur {
		r.latest[block] = commitID
	}
}

// IsRevoked reports whether block's copy written under commitID
// should be suppressed during replay: true when some revoke record
// for this block carries a commit ID >= commitID (spec.md §4.6 replay
// pass: "unless the revoke manager says this commit-id's copy is
// shadowed by a later one").
func (r *RevokeManager) IsRevoked(block uint64, commitID uint32) bool {
	latest, ok := r.latest[block]
	if !ok {
		return false
	}
	return latest >= commitID
}
