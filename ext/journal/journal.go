package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// BlockMapper translates a logical journal block number (0 is always
// the journal superblock) to the physical filesystem block backing
// it, abstracting over whether the journal lives in a reserved inode's
// data stream or on an external device.
type BlockMapper interface {
	LogToPhysical(logBlock uint32) (int64, error)
}

// LogEntry describes one committed-but-not-yet-checkpointed
// transaction sitting in the log (spec.md §4.6's in-memory FIFO).
type LogEntry struct {
	Start    uint32
	CommitID uint32
}

// Journal is the in-memory state of an open Ext3/4 write-ahead log
// (spec.md §4.6's "In-memory state").
type Journal struct {
	Cache  *blockcache.Cache
	Mapper BlockMapper

	BlockSize          uint32
	NumLogBlocks       uint32
	LogStart           uint32
	LogEnd             uint32
	FreeBlocks         uint32
	CurrentCommitID    uint32
	MaxTransactionSize uint32
	HasRevoke          bool

	mu      sync.Mutex
	pending []LogEntry

	lockMu  sync.Mutex
	owner   any
	depth   int
	txn     blockcache.TxnID
	subTxn  blockcache.TxnID
	hasSub  bool
}

// Open reads the journal superblock via mapper and returns an
// initialised Journal ready to Lock/Commit/Recover against cache.
func Open(cache *blockcache.Cache, mapper BlockMapper) (*Journal, error) {
	phys, err := mapper.LogToPhysical(0)
	if err != nil {
		return nil, err
	}
	buf, err := cache.Get(phys)
	if err != nil {
		return nil, err
	}
	if len(buf) < ext.LogBlockSize {
		return nil, fserrors.New(fserrors.BadData, "journal.Open",
			fmt.Errorf("block size %d smaller than journal superblock size %d", len(buf), ext.LogBlockSize))
	}
	var sb ext.JournalSuperBlock
	if _, err := binstruct.Unmarshal(buf[:ext.LogBlockSize], &sb); err != nil {
		return nil, err
	}
	if !sb.Header.CheckMagic() {
		return nil, fserrors.New(fserrors.BadData, "journal.Open", fmt.Errorf("bad journal superblock magic"))
	}
	if unknown := ext.UnknownJournalIncompat(uint32(sb.IncompatibleFeatures)); unknown != 0 {
		return nil, fserrors.New(fserrors.Unsupported, "journal.Open",
			fmt.Errorf("unknown incompatible journal feature bits 0x%x", unknown))
	}
	j := &Journal{
		Cache:              cache,
		Mapper:             mapper,
		BlockSize:          uint32(sb.BlockSize),
		NumLogBlocks:       uint32(sb.NumBlocks),
		LogStart:           uint32(sb.LogStart),
		FreeBlocks:         uint32(sb.NumBlocks),
		CurrentCommitID:    uint32(sb.FirstCommitID),
		MaxTransactionSize: uint32(sb.MaxTransactionBlocks),
		HasRevoke:          uint32(sb.IncompatibleFeatures)&ext.JournalFeatureIncompatRevoke != 0,
	}
	if j.LogStart == 0 {
		j.LogStart = 1 // block 0 is always the superblock itself
	}
	j.LogEnd = j.LogStart
	return j, nil
}

// Lock implements spec.md §4.6's "Journal::lock(owner,
// separate_sub_transactions)": recursive under a per-journal mutex.
// The first call starts a block-cache transaction; re-entry either
// reuses it or starts a sub-transaction.
func (j *Journal) Lock(owner any, separateSubTransactions bool) blockcache.TxnID {
	j.lockMu.Lock()
	defer j.lockMu.Unlock()
	if j.depth == 0 {
		j.owner = owner
		j.txn = j.Cache.StartTransaction()
		j.depth = 1
		return j.txn
	}
	j.depth++
	if separateSubTransactions && !j.hasSub {
		sub, err := j.Cache.StartSubTransaction(j.txn)
		if err == nil {
			j.subTxn = sub
			j.hasSub = true
		}
	}
	if j.hasSub {
		return j.subTxn
	}
	return j.txn
}

// Unlock implements spec.md §4.6's "Journal::unlock(owner, success)":
// commits, aborts, or defers the current transaction depending on
// recursion depth and success.
func (j *Journal) Unlock(ctx context.Context, owner any, success bool) error {
	j.lockMu.Lock()
	defer j.lockMu.Unlock()
	if j.depth == 0 {
		return fserrors.New(fserrors.Bug, "journal.Journal.Unlock", fmt.Errorf("unlock without matching lock"))
	}
	j.depth--
	if j.depth > 0 {
		return nil
	}
	txn := j.txn
	hasSub := j.hasSub
	subTxn := j.subTxn
	j.txn = 0
	j.subTxn = 0
	j.hasSub = false
	j.owner = nil

	if !success {
		if hasSub {
			j.Cache.AbortTransaction(ctx, subTxn)
		}
		j.Cache.AbortTransaction(ctx, txn)
		return nil
	}
	if hasSub {
		if err := j.Commit(ctx, subTxn); err != nil {
			return err
		}
	}
	return j.Commit(ctx, txn)
}

// FlushIfFull implements spec.md §4.6's "Idle flush": the block cache
// fires an idle callback after a quiescent interval, and the journal
// responds by flushing the current transaction if its size reached
// max_transaction_size.
func (j *Journal) FlushIfFull(ctx context.Context) error {
	j.lockMu.Lock()
	if j.depth == 0 {
		j.lockMu.Unlock()
		return nil
	}
	txn := j.txn
	size := uint32(len(j.Cache.BlocksInMainTransaction(txn)))
	j.lockMu.Unlock()
	if j.MaxTransactionSize != 0 && size >= j.MaxTransactionSize {
		return j.Unlock(ctx, j.owner, true)
	}
	return nil
}

// checkpointHead pops the FIFO head once its transaction's blocks are
// durably written, advancing LogStart/CurrentCommitID forward — the
// end-of-transaction callback spec.md §4.6 step 6 describes.
func (j *Journal) checkpointHead(entry LogEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 || j.pending[0] != entry {
		return
	}
	j.pending = j.pending[1:]
	j.LogStart = entry.Start
	j.CurrentCommitID = entry.CommitID
}
