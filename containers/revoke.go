package containers

// RevokeManager tracks, for the Ext3/4 journal replay (spec.md §4.6
// "Recovery" pass 2/3), which filesystem block numbers must have their
// earlier-transaction journal copies suppressed because a REVOKE record
// shadows them. Grounded on the Haiku original's HashRevokeManager
// (original_source/.../ext2/HashRevokeManager.cpp): a hash map from
// block number to the highest commit-id that revoked it, so replay can
// compare "is this tagged block's commit-id <= the revoke commit-id?"
// and skip the write if so.
type RevokeManager struct {
	revoked map[int64]int64
}

// NewRevokeManager returns an empty revoke manager.
func NewRevokeManager() *RevokeManager {
	return &RevokeManager{revoked: make(map[int64]int64)}
}

// Insert records that block was revoked as of commitID, keeping the
// highest commit-id seen for that block (a block may be revoked by more
// than one transaction over the life of the log).
func (m *RevokeManager) Insert(block int64, commitID int64) {
	if cur, ok := m.revoked[block]; !ok || commitID > cur {
		m.revoked[block] = commitID
	}
}

// ShouldReplay reports whether a tagged block write from transaction
// commitID should still be replayed, i.e. it is not shadowed by a
// revoke recorded for a later-or-equal commit-id than the one that
// produced the copy being replayed. Spec.md §8 scenario 4: a write at
// commit-id C+1 is not shadowed by a revoke at commit-id C.
func (m *RevokeManager) ShouldReplay(block int64, commitID int64) bool {
	revokedAt, ok := m.revoked[block]
	if !ok {
		return true
	}
	return commitID > revokedAt
}

func (m *RevokeManager) Len() int { return len(m.revoked) }
