package alloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/checksum"
	"github.com/vnodefs/vnodefs/fserrors"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

// AllocationBlockGroup is one block group's in-memory bitmap view
// plus transactional counters (spec.md §4.5.2). It wraps a pinned
// bitmap block (fetched from the block cache by the caller, since
// pinning/CoW semantics belong to the cache, not this package) and the
// group descriptor's free-count/first-free/largest-run summary.
type AllocationBlockGroup struct {
	Bitmap *BitmapBlock

	FreeBits   int
	FirstFree  int
	LargestRun int

	mu          sync.Mutex
	txnOwner    blockcache.TxnID
	savedFree   int
	savedFirst  int
	savedLargest int
}

// Init scans the bitmap once to compute FreeBits/FirstFree/LargestRun,
// and verifies the scanned free count matches the on-disk descriptor's
// own count (spec.md §4.5.2 "verifies the scanned count matches").
func (g *AllocationBlockGroup) Init(descriptorFreeBits int) error {
	numBits := g.Bitmap.NumBits()
	marked := g.Bitmap.CountMarked()
	g.FreeBits = numBits - marked
	if g.FreeBits != descriptorFreeBits {
		return fserrors.New(fserrors.BadData, "alloc.AllocationBlockGroup.Init",
			fmt.Errorf("scanned free count %d != descriptor %d", g.FreeBits, descriptorFreeBits))
	}
	first, ok := g.Bitmap.FindNextUnmarked(0)
	if !ok {
		first = numBits
	}
	g.FirstFree = first
	_, g.LargestRun = g.Bitmap.FindLargestUnmarkedRange()
	return nil
}

// beginTxn takes the transaction-scoped lock and snapshots counters
// the first time this group is touched under txn, registering a
// listener so a commit confirms the new counters and an abort
// restores the pre-transaction ones (spec.md §4.5.2).
func (g *AllocationBlockGroup) beginTxn(cache *blockcache.Cache, txn blockcache.TxnID) {
	g.mu.Lock()
	if g.txnOwner == txn {
		g.mu.Unlock()
		return
	}
	g.txnOwner = txn
	g.savedFree, g.savedFirst, g.savedLargest = g.FreeBits, g.FirstFree, g.LargestRun
	g.mu.Unlock()

	cache.AddTransactionListener(txn, blockcache.EventWritten, func(ctx context.Context, event blockcache.Event, arg any) {
		g.mu.Lock()
		g.txnOwner = 0
		g.mu.Unlock()
	}, nil)
	cache.AddTransactionListener(txn, blockcache.EventAborted, func(ctx context.Context, event blockcache.Event, arg any) {
		g.mu.Lock()
		g.FreeBits, g.FirstFree, g.LargestRun = g.savedFree, g.savedFirst, g.savedLargest
		g.txnOwner = 0
		g.mu.Unlock()
	}, nil)
}

// Allocate marks [start, start+length) used, refreshing the group's
// summary counters. Callers must have already located the run (via
// BlockAllocator) and pinned the bitmap writable under txn.
func (g *AllocationBlockGroup) Allocate(cache *blockcache.Cache, txn blockcache.TxnID, start, length int) error {
	g.beginTxn(cache, txn)
	if !g.Bitmap.CheckUnmarked(start, length) {
		return fserrors.New(fserrors.Bug, "alloc.AllocationBlockGroup.Allocate",
			fmt.Errorf("range [%d,%d) not entirely free", start, start+length))
	}
	g.Bitmap.Mark(start, length, false)
	g.refreshCounters()
	return nil
}

// Free marks [start, start+length) unused.
func (g *AllocationBlockGroup) Free(cache *blockcache.Cache, txn blockcache.TxnID, start, length int) error {
	g.beginTxn(cache, txn)
	if !g.Bitmap.CheckMarked(start, length) {
		return fserrors.New(fserrors.Bug, "alloc.AllocationBlockGroup.Free",
			fmt.Errorf("range [%d,%d) not entirely allocated", start, start+length))
	}
	g.Bitmap.Unmark(start, length, false)
	g.refreshCounters()
	return nil
}

// FreeAll clears every bit, used when discarding a group entirely
// (spec.md §4.5.2's "free_all").
func (g *AllocationBlockGroup) FreeAll(cache *blockcache.Cache, txn blockcache.TxnID) {
	g.beginTxn(cache, txn)
	g.Bitmap.Unmark(0, g.Bitmap.NumBits(), true)
	g.refreshCounters()
}

func (g *AllocationBlockGroup) refreshCounters() {
	numBits := g.Bitmap.NumBits()
	g.FreeBits = numBits - g.Bitmap.CountMarked()
	first, ok := g.Bitmap.FindNextUnmarked(0)
	if !ok {
		first = numBits
	}
	g.FirstFree = first
	_, g.LargestRun = g.Bitmap.FindLargestUnmarkedRange()
}

// Checksum recomputes the descriptor's split bitmap checksum: CRC-16
// for a standard group descriptor, CRC-32C when the meta-group-csum
// (metadata_csum) feature is on, matching spec.md §4.5.2's "split
// across the two halves of the descriptor" (BlockBitmapCsumLo/Hi).
func Checksum(sb *oext.Superblock, uuid [16]byte, groupNum uint32, bitmap []byte) uint32 {
	if sb.HasMetaGroupChecksum() {
		seed := checksum.CRC32C(uuid[:])
		var groupBytes [4]byte
		groupBytes[0] = byte(groupNum)
		groupBytes[1] = byte(groupNum >> 8)
		groupBytes[2] = byte(groupNum >> 16)
		groupBytes[3] = byte(groupNum >> 24)
		seed = checksum.CRC32CWithSeed(seed, groupBytes[:])
		return checksum.CRC32CWithSeed(seed, bitmap)
	}
	return uint32(checksum.CRC16(0xffff, bitmap))
}
