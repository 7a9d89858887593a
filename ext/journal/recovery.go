// Crash recovery (spec.md §4.6 "Recovery"): three passes over the log
// starting at log_start — scan, revoke, replay.
package journal

import (
	"context"
	"encoding/binary"

	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// scanResult is what pass 1 discovers: the highest commit id observed
// before the magic/sequence chain breaks, and where it broke.
type scanResult struct {
	lastCommitID uint32
	endLog       uint32
}

func (j *Journal) readLogBlock(logIndex uint32) ([]byte, error) {
	phys, err := j.Mapper.LogToPhysical(logIndex)
	if err != nil {
		return nil, err
	}
	return j.Cache.Get(phys)
}

// scanLog implements pass 1: walk forward from log_start counting
// descriptor/commit tags until the magic or expected sequence breaks.
func (j *Journal) scanLog() (scanResult, error) {
	cur := j.LogStart
	expectedSeq := j.CurrentCommitID + 1
	lastCommit := j.CurrentCommitID
	for {
		buf, err := j.readLogBlock(cur)
		if err != nil {
			return scanResult{lastCommitID: lastCommit, endLog: cur}, err
		}
		var hdr ext.JournalHeader
		if _, err := binstruct.Unmarshal(buf[:12], &hdr); err != nil {
			return scanResult{lastCommitID: lastCommit, endLog: cur}, nil
		}
		if !hdr.CheckMagic() || uint32(hdr.Sequence) != expectedSeq {
			return scanResult{lastCommitID: lastCommit, endLog: cur}, nil
		}
		switch uint32(hdr.BlockType) {
		case ext.JournalBlockTypeCommit:
			lastCommit = expectedSeq
			expectedSeq++
			cur = j.advance(cur)
		case ext.JournalBlockTypeDescriptor:
			n, _, err := countDescriptorTags(buf)
			if err != nil {
				return scanResult{lastCommitID: lastCommit, endLog: cur}, nil
			}
			cur = j.advance(cur)
			for i := 0; i < n; i++ {
				cur = j.advance(cur)
			}
		case ext.JournalBlockTypeRevoke:
			cur = j.advance(cur)
		default:
			return scanResult{lastCommitID: lastCommit, endLog: cur}, nil
		}
		if cur == j.LogStart {
			// Wrapped all the way around without breaking: the whole
			// log is one chain (shouldn't normally happen, guards
			// against an infinite loop on corrupt data).
			return scanResult{lastCommitID: lastCommit, endLog: cur}, nil
		}
	}
}

// countDescriptorTags reads a descriptor block's tag array, returning
// how many payload blocks follow it and whether the last tag read
// carried JournalFlagLastTag (used as a sanity check).
func countDescriptorTags(buf []byte) (int, bool, error) {
	off := 12
	n := 0
	for off+8 <= len(buf) {
		var tag ext.JournalBlockTag
		if _, err := binstruct.Unmarshal(buf[off:off+8], &tag); err != nil {
			return n, false, err
		}
		n++
		last := uint32(tag.Flags)&ext.JournalFlagLastTag != 0
		off += tagSize
		if uint32(tag.Flags)&ext.JournalFlagSameUUID == 0 {
			off += 16
		}
		if last {
			return n, true, nil
		}
	}
	return n, false, nil
}

// revokePass implements pass 2: re-walk from log_start up to
// scan.endLog, parsing every REVOKE block into a RevokeManager.
func (j *Journal) revokePass(scan scanResult) (*RevokeManager, error) {
	rm := NewRevokeManager()
	cur := j.LogStart
	seq := j.CurrentCommitID + 1
	for cur != scan.endLog {
		buf, err := j.readLogBlock(cur)
		if err != nil {
			return nil, err
		}
		var hdr ext.JournalHeader
		if _, err := binstruct.Unmarshal(buf[:12], &hdr); err != nil {
			return nil, err
		}
		switch uint32(hdr.BlockType) {
		case ext.JournalBlockTypeRevoke:
			var rh ext.JournalRevokeHeader
			if _, err := binstruct.Unmarshal(buf[:16], &rh); err != nil {
				return nil, err
			}
			n := (int(rh.NumBytes) - 16) / 4
			for i := 0; i < n; i++ {
				block := binary.BigEndian.Uint32(buf[16+i*4:])
				rm.Add(uint64(block), seq)
			}
			cur = j.advance(cur)
		case ext.JournalBlockTypeDescriptor:
			n, _, err := countDescriptorTags(buf)
			if err != nil {
				return nil, err
			}
			cur = j.advance(cur)
			for i := 0; i < n; i++ {
				cur = j.advance(cur)
			}
		case ext.JournalBlockTypeCommit:
			seq++
			cur = j.advance(cur)
		default:
			cur = j.advance(cur)
		}
	}
	return rm, nil
}

// Recover implements spec.md §4.6's three-pass recovery, replaying
// every tagged block not shadowed by a later revoke into its target
// filesystem block, then advancing LogStart/CurrentCommitID past the
// recovered range.
func (j *Journal) Recover(ctx context.Context) error {
	scan, err := j.scanLog()
	if err != nil {
		return err
	}
	rm, err := j.revokePass(scan)
	if err != nil {
		return err
	}

	txn := j.Cache.StartTransaction()
	cur := j.LogStart
	seq := j.CurrentCommitID + 1
	for cur != scan.endLog {
		buf, err := j.readLogBlock(cur)
		if err != nil {
			j.Cache.AbortTransaction(ctx, txn)
			return err
		}
		var hdr ext.JournalHeader
		if _, err := binstruct.Unmarshal(buf[:12], &hdr); err != nil {
			j.Cache.AbortTransaction(ctx, txn)
			return err
		}
		switch uint32(hdr.BlockType) {
		case ext.JournalBlockTypeDescriptor:
			tags, err := readDescriptorTags(buf)
			if err != nil {
				j.Cache.AbortTransaction(ctx, txn)
				return err
			}
			cur = j.advance(cur)
			for _, tag := range tags {
				payloadBuf, err := j.readLogBlock(cur)
				if err != nil {
					j.Cache.AbortTransaction(ctx, txn)
					return err
				}
				cur = j.advance(cur)
				if rm.IsRevoked(uint64(tag.block), seq) {
					continue
				}
				dst, err := j.Cache.GetWritable(txn, int64(tag.block))
				if err != nil {
					j.Cache.AbortTransaction(ctx, txn)
					return err
				}
				copy(dst, payloadBuf)
				if tag.escaped {
					binary.BigEndian.PutUint32(dst, ext.JournalMagic)
				}
			}
		case ext.JournalBlockTypeCommit:
			seq++
			cur = j.advance(cur)
		default:
			cur = j.advance(cur)
		}
	}
	if err := j.Cache.EndTransaction(ctx, txn, nil); err != nil {
		return err
	}

	j.LogStart = scan.endLog
	j.LogEnd = scan.endLog
	j.CurrentCommitID = scan.lastCommitID
	j.FreeBlocks = j.NumLogBlocks - 1
	return nil
}

type recoveryTag struct {
	block   uint32
	escaped bool
}

func readDescriptorTags(buf []byte) ([]recoveryTag, error) {
	off := 12
	var tags []recoveryTag
	for off+8 <= len(buf) {
		var tag ext.JournalBlockTag
		if _, err := binstruct.Unmarshal(buf[off:off+8], &tag); err != nil {
			return nil, err
		}
		flags := uint32(tag.Flags)
		tags = append(tags, recoveryTag{
			block:   uint32(tag.BlockNumber),
			escaped: flags&ext.JournalFlagEscaped != 0,
		})
		last := flags&ext.JournalFlagLastTag != 0
		off += tagSize
		if flags&ext.JournalFlagSameUUID == 0 {
			off += 16
		}
		if last {
			break
		}
	}
	return tags, nil
}
