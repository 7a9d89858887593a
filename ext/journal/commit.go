// The write protocol (spec.md §4.6 "Write protocol"): descriptor
// blocks tagging each payload block, escaping payload blocks that
// collide with the journal magic, a trailing commit block, and a FIFO
// entry tracking the transaction until it is checkpointed.
package journal

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// tagSize is a JournalBlockTag (8 bytes) plus the 16-byte UUID that
// would follow it absent JournalFlagSameUUID; this driver always tags
// with SameUUID set, so every tag is the bare 8 bytes.
const tagSize = 8

// Commit implements spec.md §4.6 steps 1-6 for one transaction already
// ended at the caller's discretion: write descriptor+payload+commit
// blocks to the log, then checkpoint the transaction's real blocks to
// their final location via the underlying cache.
func (j *Journal) Commit(ctx context.Context, txn blockcache.TxnID) error {
	blocks := j.Cache.BlocksInMainTransaction(txn)
	if len(blocks) == 0 {
		return j.Cache.EndTransaction(ctx, txn, nil)
	}

	tagsPerDescriptor := (int(j.BlockSize) - 12) / tagSize
	if tagsPerDescriptor < 1 {
		tagsPerDescriptor = 1
	}
	neededLogBlocks := len(blocks) + (len(blocks)+tagsPerDescriptor-1)/tagsPerDescriptor + 1 // +1 commit block
	if uint32(neededLogBlocks) > j.FreeBlocks {
		return fserrors.New(fserrors.DeviceFull, "journal.Journal.Commit",
			fmt.Errorf("commit needs %d log blocks, only %d free", neededLogBlocks, j.FreeBlocks))
	}

	commitID := j.CurrentCommitID + uint32(len(j.pending)) + 1
	logTxn := j.Cache.StartTransaction()
	startLog := j.LogEnd
	cur := startLog

	for i := 0; i < len(blocks); i += tagsPerDescriptor {
		batch := blocks[i:min(i+tagsPerDescriptor, len(blocks))]
		descBuf, payloads, err := j.buildDescriptor(txn, commitID, batch)
		if err != nil {
			j.Cache.AbortTransaction(ctx, logTxn)
			return err
		}
		if err := j.writeLogBlock(logTxn, cur, descBuf); err != nil {
			j.Cache.AbortTransaction(ctx, logTxn)
			return err
		}
		cur = j.advance(cur)
		for _, p := range payloads {
			if err := j.writeLogBlock(logTxn, cur, p); err != nil {
				j.Cache.AbortTransaction(ctx, logTxn)
				return err
			}
			cur = j.advance(cur)
		}
	}

	commitBuf := make([]byte, j.BlockSize)
	hdr := ext.JournalHeader{
		Magic:     binstruct.U32be(ext.JournalMagic),
		BlockType: binstruct.U32be(ext.JournalBlockTypeCommit),
		Sequence:  binstruct.U32be(commitID),
	}
	hb, err := binstruct.Marshal(&hdr)
	if err != nil {
		j.Cache.AbortTransaction(ctx, logTxn)
		return err
	}
	copy(commitBuf, hb)
	if err := j.writeLogBlock(logTxn, cur, commitBuf); err != nil {
		j.Cache.AbortTransaction(ctx, logTxn)
		return err
	}
	cur = j.advance(cur)

	if err := j.Cache.EndTransaction(ctx, logTxn, nil); err != nil {
		return err
	}

	entry := LogEntry{Start: startLog, CommitID: commitID}
	j.mu.Lock()
	j.LogEnd = cur
	j.FreeBlocks -= uint32(neededLogBlocks)
	j.pending = append(j.pending, entry)
	j.mu.Unlock()

	j.Cache.AddTransactionListener(txn, blockcache.EventWritten, func(ctx context.Context, ev blockcache.Event, arg any) {
		j.checkpointHead(entry)
	}, nil)

	return j.Cache.EndTransaction(ctx, txn, nil)
}

// buildDescriptor writes one descriptor block's header and tags for
// batch, returning the descriptor bytes and the (possibly escaped)
// payload copies in the same order.
func (j *Journal) buildDescriptor(txn blockcache.TxnID, commitID uint32, batch []int64) ([]byte, [][]byte, error) {
	desc := make([]byte, j.BlockSize)
	hdr := ext.JournalHeader{
		Magic:     binstruct.U32be(ext.JournalMagic),
		BlockType: binstruct.U32be(ext.JournalBlockTypeDescriptor),
		Sequence:  binstruct.U32be(commitID),
	}
	hb, err := binstruct.Marshal(&hdr)
	if err != nil {
		return nil, nil, err
	}
	copy(desc, hb)

	payloads := make([][]byte, 0, len(batch))
	off := 12
	for i, block := range batch {
		live, err := j.Cache.GetWritable(txn, block)
		if err != nil {
			return nil, nil, err
		}
		payload := make([]byte, len(live))
		copy(payload, live)
		flags := uint32(ext.JournalFlagSameUUID)
		if len(payload) >= 4 && binary.BigEndian.Uint32(payload) == ext.JournalMagic {
			binary.BigEndian.PutUint32(payload, 0)
			flags |= ext.JournalFlagEscaped
		}
		if i == len(batch)-1 {
			flags |= ext.JournalFlagLastTag
		}
		tag := ext.JournalBlockTag{
			BlockNumber: binstruct.U32be(uint32(block)),
			Flags:       binstruct.U32be(flags),
		}
		tb, err := binstruct.Marshal(&tag)
		if err != nil {
			return nil, nil, err
		}
		copy(desc[off:], tb)
		off += tagSize
		payloads = append(payloads, payload)
	}
	return desc, payloads, nil
}

func (j *Journal) advance(logIndex uint32) uint32 {
	next := logIndex + 1
	if next >= j.NumLogBlocks {
		next = 1 // wrap past the superblock slot
	}
	return next
}

func (j *Journal) writeLogBlock(txn blockcache.TxnID, logIndex uint32, data []byte) error {
	phys, err := j.Mapper.LogToPhysical(logIndex)
	if err != nil {
		return err
	}
	buf, err := j.Cache.GetEmpty(txn, phys)
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
