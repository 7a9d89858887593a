package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/device/devicetest"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

const testBlockSize = 1024
const testLogBlocks = 16
const testFSBlocks = 64

// identityMapper maps logical journal blocks directly to a contiguous
// physical range starting at Base, simulating an external journal
// device or a fully block-mapped reserved inode.
type identityMapper struct{ Base int64 }

func (m identityMapper) LogToPhysical(logBlock uint32) (int64, error) {
	return m.Base + int64(logBlock), nil
}

func newTestJournal(t *testing.T) (*Journal, *blockcache.Cache, identityMapper) {
	t.Helper()
	dev := devicetest.NewMem((testLogBlocks + testFSBlocks) * testBlockSize)
	cache := blockcache.Create(dev, testLogBlocks+testFSBlocks, testBlockSize, false)
	mapper := identityMapper{Base: 0}

	txn := cache.StartTransaction()
	buf, err := cache.GetEmpty(txn, 0)
	require.NoError(t, err)
	sb := ext.JournalSuperBlock{
		Header: ext.JournalHeader{
			Magic:     binstruct.U32be(ext.JournalMagic),
			BlockType: binstruct.U32be(ext.JournalBlockTypeSuperblockV2),
			Sequence:  binstruct.U32be(1),
		},
		BlockSize:            binstruct.U32be(testBlockSize),
		NumBlocks:            binstruct.U32be(testLogBlocks),
		FirstLogBlock:        binstruct.U32be(1),
		FirstCommitID:        binstruct.U32be(1),
		LogStart:             binstruct.U32be(1),
		IncompatibleFeatures: binstruct.U32be(ext.JournalFeatureIncompatRevoke),
		MaxTransactionBlocks: binstruct.U32be(8),
	}
	raw, err := binstruct.Marshal(&sb)
	require.NoError(t, err)
	copy(buf, raw)
	require.NoError(t, cache.EndTransaction(context.Background(), txn, nil))

	j, err := Open(cache, mapper)
	require.NoError(t, err)
	return j, cache, mapper
}

func TestOpenParsesSuperblock(t *testing.T) {
	j, _, _ := newTestJournal(t)
	assert.EqualValues(t, testBlockSize, j.BlockSize)
	assert.EqualValues(t, testLogBlocks, j.NumLogBlocks)
	assert.EqualValues(t, 1, j.LogStart)
	assert.True(t, j.HasRevoke)
}

func TestCommitWritesThroughToTargetBlock(t *testing.T) {
	j, cache, _ := newTestJournal(t)
	ctx := context.Background()

	txn := j.Lock(t, false)
	target := int64(testLogBlocks + 5)
	buf, err := cache.GetWritable(txn, target)
	require.NoError(t, err)
	copy(buf, []byte("hello from a committed transaction"))
	require.NoError(t, j.Unlock(ctx, t, true))

	readBack, err := cache.Get(target)
	require.NoError(t, err)
	assert.Contains(t, string(readBack), "hello from a committed transaction")

	// The FIFO should have drained since this driver checkpoints
	// synchronously within Commit.
	assert.Empty(t, j.pending)
}

func TestRecoverReplaysUncommittedCheckpoint(t *testing.T) {
	j, cache, _ := newTestJournal(t)
	ctx := context.Background()

	// Simulate a crash: write a transaction's log records (descriptor +
	// payload + commit) without ever checkpointing the target block,
	// mimicking power loss between "fsync the log" and "write back the
	// real location".
	target := int64(testLogBlocks + 7)
	payload := make([]byte, testBlockSize)
	copy(payload, []byte("data that only exists in the log"))

	logTxn := cache.StartTransaction()
	descBuf := make([]byte, testBlockSize)
	descHdr := ext.JournalHeader{
		Magic:     binstruct.U32be(ext.JournalMagic),
		BlockType: binstruct.U32be(ext.JournalBlockTypeDescriptor),
		Sequence:  binstruct.U32be(2),
	}
	hb, err := binstruct.Marshal(&descHdr)
	require.NoError(t, err)
	copy(descBuf, hb)
	tag := ext.JournalBlockTag{
		BlockNumber: binstruct.U32be(uint32(target)),
		Flags:       binstruct.U32be(ext.JournalFlagSameUUID | ext.JournalFlagLastTag),
	}
	tb, err := binstruct.Marshal(&tag)
	require.NoError(t, err)
	copy(descBuf[12:], tb)
	require.NoError(t, j.writeLogBlock(logTxn, 1, descBuf))
	require.NoError(t, j.writeLogBlock(logTxn, 2, payload))

	commitBuf := make([]byte, testBlockSize)
	commitHdr := ext.JournalHeader{
		Magic:     binstruct.U32be(ext.JournalMagic),
		BlockType: binstruct.U32be(ext.JournalBlockTypeCommit),
		Sequence:  binstruct.U32be(2),
	}
	chb, err := binstruct.Marshal(&commitHdr)
	require.NoError(t, err)
	copy(commitBuf, chb)
	require.NoError(t, j.writeLogBlock(logTxn, 3, commitBuf))
	require.NoError(t, cache.EndTransaction(ctx, logTxn, nil))

	// Before recovery, the target block is untouched.
	before, err := cache.Get(target)
	require.NoError(t, err)
	assert.NotContains(t, string(before), "data that only exists in the log")

	require.NoError(t, j.Recover(ctx))

	after, err := cache.Get(target)
	require.NoError(t, err)
	assert.Contains(t, string(after), "data that only exists in the log")
	assert.EqualValues(t, 2, j.CurrentCommitID)
}

func TestRevokeManagerShadowsEarlierCommit(t *testing.T) {
	rm := NewRevokeManager()
	rm.Add(42, 5)
	assert.True(t, rm.IsRevoked(42, 3))
	assert.True(t, rm.IsRevoked(42, 5))
	assert.False(t, rm.IsRevoked(42, 6))
	assert.False(t, rm.IsRevoked(99, 1))
}
