package ext

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/ext/alloc"
	"github.com/vnodefs/vnodefs/ext/attr"
	"github.com/vnodefs/vnodefs/ext/dir"
	"github.com/vnodefs/vnodefs/ext/extent"
	"github.com/vnodefs/vnodefs/ext/legacy"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oext "github.com/vnodefs/vnodefs/ondisk/ext"
)

// Inode is the Ext2/3/4 side of spec.md §4.3's contract: a non-owning
// reference to its Volume plus the decoded inode record (and, for
// dynamic-revision filesystems with room for it, the extra-inode-size
// tail).
type Inode struct {
	vol    *Volume
	ID     uint64
	Record oext.Inode
	Extra  *oext.ExtraInode
	// raw is the full InodeRecordSize()-byte record as last read from
	// disk, kept so persist() can patch in Record/Extra's re-encoded
	// bytes without disturbing any trailing bytes (inline xattr data,
	// reserved fields) this driver doesn't model as a Go struct.
	raw []byte
}

// Size returns the persisted file size.
func (n *Inode) Size() uint64 { return n.Record.Size() }

// Mode returns the POSIX mode bits (type + permission).
func (n *Inode) Mode() uint32 { return uint32(n.Record.Mode) }

// NumLinks returns the current link count.
func (n *Inode) NumLinks() uint32 { return uint32(n.Record.NumLinks) }

// UID/GID return the inode's owning user/group ids.
func (n *Inode) UID() uint32 { return uint32(n.Record.UID) }
func (n *Inode) GID() uint32 { return uint32(n.Record.GID) }

// IsDir reports whether the inode's mode bits mark it a directory.
func (n *Inode) IsDir() bool { return n.Mode()&uint32(oext.ModeFormatMask) == uint32(oext.ModeDir) }

// ModTime returns the inode's access/modification/status-change/creation
// timestamps. The classic 32-bit on-disk fields carry only whole
// seconds; creation time is only available at all on a dynamic-revision
// filesystem with room for ExtraInode, and falls back to the
// modification time otherwise (original_source's Inode never exposes a
// creation time for a plain Ext2 inode either).
func (n *Inode) ModTime() (atime, mtime, ctime, crtime time.Time) {
	atime = time.Unix(int64(uint32(n.Record.AccessTime)), 0)
	mtime = time.Unix(int64(uint32(n.Record.ModificationTime)), 0)
	ctime = time.Unix(int64(uint32(n.Record.ChangeTime)), 0)
	crtime = mtime
	if n.hasExtraAttributes() {
		crtime = time.Unix(int64(uint32(n.Extra.CreationTime)), 0)
	}
	return atime, mtime, ctime, crtime
}

// hasExtraAttributes implements the HasExtraAttributes threshold: the
// inode record must actually extend past the 128-byte base and
// ExtraISize must account for the whole extension, matching
// original_source's Inode::_HasExtraAttributes (a larger InodeSize
// alone isn't enough if this particular record never stamped
// ExtraISize, e.g. an inode written before a InodeSize bump).
func (n *Inode) hasExtraAttributes() bool {
	recSize := len(n.raw)
	return n.Extra != nil && recSize > oext.InodeNormalSize &&
		int(n.Extra.ExtraISize)+oext.InodeNormalSize == recSize
}

// persist re-marshals Record (and Extra, when present) back into raw
// and writes the inode's table slot, spanning a block boundary the
// same way GetInode's read does.
func (n *Inode) persist(txn blockcache.TxnID) error {
	rb, err := binstruct.Marshal(&n.Record)
	if err != nil {
		return err
	}
	copy(n.raw[:oext.InodeNormalSize], rb)
	if n.Extra != nil {
		eb, err := binstruct.Marshal(n.Extra)
		if err != nil {
			return err
		}
		copy(n.raw[oext.InodeNormalSize:], eb)
	}

	_, block, offset, err := n.vol.inodeLocation(n.ID)
	if err != nil {
		return err
	}
	recSize := len(n.raw)
	buf, err := n.vol.Cache.GetWritable(txn, block)
	if err != nil {
		return err
	}
	if offset+recSize <= len(buf) {
		copy(buf[offset:offset+recSize], n.raw)
		return nil
	}
	firstLen := len(buf) - offset
	copy(buf[offset:], n.raw[:firstLen])
	nextBuf, err := n.vol.Cache.GetWritable(txn, block+1)
	if err != nil {
		return err
	}
	copy(nextBuf, n.raw[firstLen:])
	return nil
}

// blockSize returns the volume cache's block size, which both the
// extent and legacy streams need.
func (n *Inode) blockSize() int { return n.vol.Cache.BlockSize() }

// extentStream builds an extent.Stream over Record.Stream, valid only
// when IsExtentBased().
func (n *Inode) extentStream() *extent.Stream {
	return &extent.Stream{Cache: n.vol.Cache, BlockSize: n.blockSize(), Root: &n.Record.Stream}
}

// decodeDataStream decodes Record.Stream as a legacy.Stream's backing
// oext.DataStream. legacy.Stream.Data is a freshly decoded struct (not
// an alias into Record.Stream's bytes), so any caller that mutates it
// via Enlarge/Shrink must call encodeDataStream afterwards to copy the
// changes back before persist.
func (n *Inode) decodeDataStream() (*oext.DataStream, error) {
	var ds oext.DataStream
	if _, err := binstruct.Unmarshal(n.Record.Stream[:], &ds); err != nil {
		return nil, fserrors.New(fserrors.BadData, "ext.Inode.decodeDataStream", err)
	}
	return &ds, nil
}

func (n *Inode) encodeDataStream(ds *oext.DataStream) error {
	b, err := binstruct.Marshal(ds)
	if err != nil {
		return err
	}
	copy(n.Record.Stream[:], b)
	return nil
}

// findBlock dispatches spec.md §4.2's find_block to the extent or
// legacy backend depending on IsExtentBased, normalizing both
// packages' differing hole sentinels (extent.SparseBlock vs. legacy's
// plain 0) down to a single (_, false) result.
func (n *Inode) findBlock(logical uint32) (uint64, bool, error) {
	if n.Record.IsExtentBased() {
		phys, ok, err := n.extentStream().FindBlock(logical)
		if err != nil || !ok {
			return 0, false, err
		}
		return phys, true, nil
	}
	ds, err := n.decodeDataStream()
	if err != nil {
		return 0, false, err
	}
	return (&legacy.Stream{Cache: n.vol.Cache, BlockSize: n.blockSize(), Data: ds}).FindBlock(logical)
}

// blockAllocFunc returns the closure through which both stream
// backends' Enlarge call Volume.AllocateBlocks.
func (n *Inode) blockAllocFunc(txn blockcache.TxnID) func(hint uint64, count uint32) (uint64, uint32, error) {
	return func(hint uint64, count uint32) (uint64, uint32, error) {
		preferred := alloc.PreferredGroup(n.ID, uint32(n.vol.Super.InodesPerGroup))
		phys, got, err := n.vol.AllocateBlocks(txn, preferred, 1, int(count))
		if err != nil {
			return 0, 0, err
		}
		return phys, uint32(got), nil
	}
}

func (n *Inode) blockFreeFunc(txn blockcache.TxnID) func(start uint64, count uint32) error {
	return func(start uint64, count uint32) error {
		return n.vol.FreeBlocks(txn, start, int(count))
	}
}

// enlarge grows the data stream to cover at least [0, newLogicalLen)
// blocks, dispatching to the appropriate backend's Enlarge.
func (n *Inode) enlarge(txn blockcache.TxnID, oldLogicalLen, newLogicalLen uint32) error {
	if n.Record.IsExtentBased() {
		return n.extentStream().Enlarge(oldLogicalLen, newLogicalLen-oldLogicalLen, extent.AllocateFunc(n.blockAllocFunc(txn)))
	}
	ds, err := n.decodeDataStream()
	if err != nil {
		return err
	}
	stream := &legacy.Stream{Cache: n.vol.Cache, BlockSize: n.blockSize(), Data: ds}
	single := func() (uint64, error) {
		phys, _, err := n.blockAllocFunc(txn)(0, 1)
		return phys, err
	}
	for logical := oldLogicalLen; logical < newLogicalLen; logical++ {
		if err := stream.Enlarge(logical, single); err != nil {
			return err
		}
	}
	return n.encodeDataStream(ds)
}

// truncateAllBlocks frees every block currently mapped, logical 0
// upward, used by Unlink.
func (n *Inode) truncateAllBlocks(txn blockcache.TxnID) error {
	blockSize := uint64(n.blockSize())
	numLogical := uint32((n.Size() + blockSize - 1) / blockSize)
	if n.Record.IsExtentBased() {
		return n.extentStream().Shrink(0, n.blockFreeFunc(txn))
	}
	ds, err := n.decodeDataStream()
	if err != nil {
		return err
	}
	stream := &legacy.Stream{Cache: n.vol.Cache, BlockSize: n.blockSize(), Data: ds}
	free := n.blockFreeFunc(txn)
	for logical := numLogical; logical > 0; logical-- {
		if err := stream.Shrink(logical-1, func(b uint64) error { return free(b, 1) }); err != nil {
			return err
		}
	}
	return n.encodeDataStream(ds)
}

// inodeBlocks adapts an Inode's data stream to ext/dir.Blocks, used to
// build a dir.Engine over a directory inode. It carries txn internally
// (dir.Engine's methods take none) and is constructed fresh for the
// lifetime of a single Lookup/Insert/Remove/ReadDir call.
type inodeBlocks struct {
	ino *Inode
	txn blockcache.TxnID // zero for a read-only call
}

func (b *inodeBlocks) BlockSize() int { return b.ino.blockSize() }

func (b *inodeBlocks) NumBlocks() uint32 {
	blockSize := uint64(b.ino.blockSize())
	return uint32((b.ino.Size() + blockSize - 1) / blockSize)
}

func (b *inodeBlocks) ReadBlock(logical uint32) ([]byte, error) {
	phys, ok, err := b.ino.findBlock(logical)
	if err != nil {
		return nil, err
	}
	if !ok {
		return make([]byte, b.BlockSize()), nil
	}
	buf, err := b.ino.vol.Cache.Get(int64(phys))
	if err != nil {
		return nil, fserrors.New(fserrors.IOError, "ext.inodeBlocks.ReadBlock", err)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (b *inodeBlocks) WriteBlock(logical uint32, data []byte) error {
	if b.txn == 0 {
		return fserrors.New(fserrors.ReadOnlyDevice, "ext.inodeBlocks.WriteBlock", nil)
	}
	phys, ok, err := b.ino.findBlock(logical)
	if err != nil {
		return err
	}
	if !ok {
		if err := b.ino.enlarge(b.txn, logical, logical+1); err != nil {
			return err
		}
		phys, ok, err = b.ino.findBlock(logical)
		if err != nil {
			return err
		}
		if !ok {
			return fserrors.New(fserrors.Bug, "ext.inodeBlocks.WriteBlock",
				fmt.Errorf("block %d still unmapped after enlarge", logical))
		}
	}
	buf, err := b.ino.vol.Cache.GetWritable(b.txn, int64(phys))
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

func (b *inodeBlocks) AppendBlock() (uint32, error) {
	if b.txn == 0 {
		return 0, fserrors.New(fserrors.ReadOnlyDevice, "ext.inodeBlocks.AppendBlock", nil)
	}
	logical := b.NumBlocks()
	if err := b.ino.enlarge(b.txn, logical, logical+1); err != nil {
		return 0, err
	}
	blockSize := uint64(b.BlockSize())
	b.ino.Record.SetSize((uint64(logical) + 1) * blockSize)
	if err := b.ino.persist(b.txn); err != nil {
		return 0, err
	}
	return logical, nil
}

// dirEngine builds a dir.Engine over this inode's data stream. txn is
// zero for a read-only Lookup/ReadDir.
func (n *Inode) dirEngine(txn blockcache.TxnID) *dir.Engine {
	seed := [4]uint32{
		uint32(n.vol.Super.HashSeed[0]), uint32(n.vol.Super.HashSeed[1]),
		uint32(n.vol.Super.HashSeed[2]), uint32(n.vol.Super.HashSeed[3]),
	}
	return &dir.Engine{
		Blocks:   &inodeBlocks{ino: n, txn: txn},
		Indexed:  n.vol.Super.HasDirIndex() && n.Record.HasFlag(oext.InodeIndexed),
		HashSeed: seed,
	}
}

// Lookup resolves name within this directory inode (spec.md §4.4).
func (n *Inode) Lookup(name string) (dir.Result, bool, error) {
	return n.dirEngine(0).Lookup(name)
}

// ReadDir enumerates this directory inode's entries (spec.md §4.4).
func (n *Inode) ReadDir(visit func(name string, inodeID uint64, fileType uint8) bool) error {
	return n.dirEngine(0).ReadDir(visit)
}

// attrSource builds the inline/external byte regions attr.Engine reads
// attributes from (spec.md §4.7).
func (n *Inode) attrSource() (attr.Source, error) {
	var src attr.Source
	if n.hasExtraAttributes() {
		tailStart := oext.InodeNormalSize + int(n.Extra.ExtraISize)
		if tailStart < len(n.raw) {
			src.Inline = n.raw[tailStart:]
		}
	}
	if uint32(n.Record.FileACL) != 0 {
		buf, err := n.vol.Cache.Get(int64(uint32(n.Record.FileACL)))
		if err != nil {
			return attr.Source{}, fserrors.New(fserrors.IOError, "ext.Inode.attrSource", err)
		}
		src.External = buf
	}
	return src, nil
}

// AttrEngine builds a read-only attribute lookup/enumeration engine
// over this inode, or (nil, false) when it carries no attribute
// region at all.
func (n *Inode) AttrEngine() (*attr.Engine, bool, error) {
	src, err := n.attrSource()
	if err != nil {
		return nil, false, err
	}
	if len(src.Inline) == 0 && len(src.External) == 0 {
		return nil, false, nil
	}
	return &attr.Engine{Source: src}, true, nil
}

// ReadAt satisfies spec.md §4.3 `read_at`: maps each logical block the
// read window touches through findBlock, zero-filling holes, and
// additionally serves entirely out of Record.Stream for an
// inline-data inode (spec.md §4.7's inline-data supplement; overflow
// into the attribute region's data is a documented Non-goal, see
// DESIGN.md).
func (n *Inode) ReadAt(pos int64, buf []byte) (int, error) {
	if pos < 0 {
		return 0, fserrors.New(fserrors.BadValue, "ext.Inode.ReadAt", fmt.Errorf("negative offset"))
	}
	size := int64(n.Size())
	if pos >= size {
		return 0, io.EOF
	}
	want := int64(len(buf))
	if pos+want > size {
		want = size - pos
	}
	for i := range buf {
		buf[i] = 0
	}

	if n.Record.IsInline() {
		avail := int64(len(n.Record.Stream))
		lo, hi := overlap(pos, pos+want, 0, avail)
		if hi > lo {
			copy(buf[lo-pos:hi-pos], n.Record.Stream[lo:hi])
		}
		return int(want), nil
	}

	blockSize := int64(n.blockSize())
	startBlock := uint32(pos / blockSize)
	endBlock := uint32((pos + want - 1) / blockSize)
	for logical := startBlock; logical <= endBlock; logical++ {
		blockStart := int64(logical) * blockSize
		blockEnd := blockStart + blockSize
		lo, hi := overlap(pos, pos+want, blockStart, blockEnd)
		if hi <= lo {
			continue
		}
		phys, ok, err := n.findBlock(logical)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		diskBuf, err := n.vol.Cache.Get(int64(phys))
		if err != nil {
			return 0, fserrors.New(fserrors.IOError, "ext.Inode.ReadAt", err)
		}
		copy(buf[lo-pos:hi-pos], diskBuf[lo-blockStart:hi-blockStart])
	}
	return int(want), nil
}

func overlap(aStart, aEnd, bStart, bEnd int64) (lo, hi int64) {
	lo, hi = aStart, aEnd
	if bStart > lo {
		lo = bStart
	}
	if bEnd < hi {
		hi = bEnd
	}
	return lo, hi
}

// WriteAt satisfies spec.md §4.3 `write_at`: writes through findBlock,
// growing the stream (enlarge) to cover any logical block past the
// current end. Inline-data inodes are out of scope for writing past
// their fixed 60-byte capacity (a documented Non-goal: converting an
// inline inode to block-mapped mid-write is never exercised by this
// driver).
func (n *Inode) WriteAt(txn blockcache.TxnID, pos int64, buf []byte) (int, error) {
	if n.vol.ReadOnly {
		return 0, fserrors.New(fserrors.ReadOnlyDevice, "ext.Inode.WriteAt", nil)
	}
	if pos < 0 {
		return 0, fserrors.New(fserrors.BadValue, "ext.Inode.WriteAt", fmt.Errorf("negative offset"))
	}
	if n.Record.IsInline() {
		if pos+int64(len(buf)) > int64(len(n.Record.Stream)) {
			return 0, fserrors.New(fserrors.Unsupported, "ext.Inode.WriteAt",
				fmt.Errorf("write would overflow inline data capacity"))
		}
		copy(n.Record.Stream[pos:], buf)
		if uint64(pos)+uint64(len(buf)) > n.Size() {
			n.Record.SetSize(uint64(pos) + uint64(len(buf)))
		}
		return len(buf), n.persist(txn)
	}

	blockSize := int64(n.blockSize())
	endPos := pos + int64(len(buf))
	endBlock := uint32((endPos - 1) / blockSize)
	curLogical := uint32((int64(n.Size()) + blockSize - 1) / blockSize)
	if endBlock >= curLogical {
		if err := n.enlarge(txn, curLogical, endBlock+1); err != nil {
			return 0, err
		}
	}

	written := int64(0)
	startBlock := uint32(pos / blockSize)
	for logical := startBlock; logical <= endBlock; logical++ {
		blockStart := int64(logical) * blockSize
		blockEnd := blockStart + blockSize
		lo, hi := overlap(pos, endPos, blockStart, blockEnd)
		if hi <= lo {
			continue
		}
		phys, ok, err := n.findBlock(logical)
		if err != nil {
			return int(written), err
		}
		if !ok {
			return int(written), fserrors.New(fserrors.Bug, "ext.Inode.WriteAt",
				fmt.Errorf("logical block %d unmapped after enlarge", logical))
		}
		diskBuf, err := n.vol.Cache.GetWritable(txn, int64(phys))
		if err != nil {
			return int(written), err
		}
		copy(diskBuf[lo-blockStart:hi-blockStart], buf[lo-pos:hi-pos])
		written += hi - lo
	}

	if uint64(endPos) > n.Size() {
		n.Record.SetSize(uint64(endPos))
	}
	if err := n.persist(txn); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// Resize satisfies spec.md §4.3 `resize`: grows (zero-extending, no
// block work needed since findBlock already reads holes as zero) or
// shrinks (freeing every block past the new length) the stream.
func (n *Inode) Resize(txn blockcache.TxnID, newSize uint64) error {
	if n.vol.ReadOnly {
		return fserrors.New(fserrors.ReadOnlyDevice, "ext.Inode.Resize", nil)
	}
	if n.Record.IsInline() {
		if newSize > uint64(len(n.Record.Stream)) {
			return fserrors.New(fserrors.Unsupported, "ext.Inode.Resize",
				fmt.Errorf("resize would overflow inline data capacity"))
		}
		if newSize < n.Size() {
			for i := newSize; i < uint64(len(n.Record.Stream)); i++ {
				n.Record.Stream[i] = 0
			}
		}
		n.Record.SetSize(newSize)
		return n.persist(txn)
	}

	blockSize := uint64(n.blockSize())
	oldSize := n.Size()
	if newSize < oldSize {
		oldLogical := uint32((oldSize + blockSize - 1) / blockSize)
		newLogical := uint32((newSize + blockSize - 1) / blockSize)
		free := n.blockFreeFunc(txn)
		if n.Record.IsExtentBased() {
			if err := n.extentStream().Shrink(newLogical, free); err != nil {
				return err
			}
		} else {
			ds, err := n.decodeDataStream()
			if err != nil {
				return err
			}
			stream := &legacy.Stream{Cache: n.vol.Cache, BlockSize: n.blockSize(), Data: ds}
			for logical := oldLogical; logical > newLogical; logical-- {
				if err := stream.Shrink(logical-1, func(b uint64) error { return free(b, 1) }); err != nil {
					return err
				}
			}
			if err := n.encodeDataStream(ds); err != nil {
				return err
			}
		}
	}
	n.Record.SetSize(newSize)
	return n.persist(txn)
}

// FillGapWithZeros is a no-op: findBlock already reads an unmapped
// logical block as zero, so there is never a gap to backfill
// explicitly (spec.md §4.3's sparse-stream case).
func (n *Inode) FillGapWithZeros(start, end uint64) error { return nil }

// ReadLink returns a symlink inode's target, reading it from
// Record.Stream directly for a "fast" symlink (NumBlocks==0, the
// target stored inline) or through the normal block-mapped ReadAt path
// otherwise (spec.md §4.2's symlink-target cases).
func (n *Inode) ReadLink() (string, error) {
	if uint32(n.Record.NumBlocks) == 0 {
		size := n.Size()
		if size > uint64(len(n.Record.Stream)) {
			size = uint64(len(n.Record.Stream))
		}
		return string(n.Record.Stream[:size]), nil
	}
	buf := make([]byte, n.Size())
	if _, err := n.ReadAt(0, buf); err != nil && err != io.EOF {
		return "", err
	}
	return string(buf), nil
}

// Unlink satisfies spec.md §4.3 `unlink`: decrements NumLinks, and
// once it drops to zero (or one, for a directory, whose own "."
// entry counts toward its link count) frees every block the stream
// references and releases the inode itself.
func (n *Inode) Unlink(txn blockcache.TxnID) error {
	threshold := uint32(0)
	if n.IsDir() {
		threshold = 1
	}
	if uint32(n.Record.NumLinks) > 0 {
		n.Record.NumLinks = binstruct.U16le(uint16(uint32(n.Record.NumLinks) - 1))
	}
	if uint32(n.Record.NumLinks) > threshold {
		return n.persist(txn)
	}

	if !n.Record.IsInline() {
		if err := n.truncateAllBlocks(txn); err != nil {
			return err
		}
	}
	if uint32(n.Record.FileACL) != 0 {
		if err := n.vol.FreeBlocks(txn, uint64(uint32(n.Record.FileACL)), 1); err != nil {
			return err
		}
		n.Record.FileACL = 0
	}
	if err := n.vol.FreeInode(txn, n.ID, n.IsDir()); err != nil {
		return err
	}
	n.Record.NumLinks = 0
	return n.persist(txn)
}

// MakeReference satisfies spec.md §4.3 `make_reference`: inserts a
// directory entry for this inode under parent and bumps NumLinks.
func (n *Inode) MakeReference(txn blockcache.TxnID, parent *Inode, name string) error {
	ft := modeToFileType(n.Mode())
	if err := parent.dirEngine(txn).Insert(name, n.ID, ft); err != nil {
		return err
	}
	n.Record.NumLinks = binstruct.U16le(uint16(n.Record.NumLinks) + 1)
	return n.persist(txn)
}

// RemoveEntry satisfies the directory half of spec.md §4.3 `unlink`:
// removes name from this (directory) inode, reporting whether it was
// found.
func (n *Inode) RemoveEntry(txn blockcache.TxnID, name string) (bool, error) {
	return n.dirEngine(txn).Remove(name)
}

// InitDir writes the "." and ".." entries a brand new directory needs
// (spec.md §4.4: unlike Btrfs, Ext never synthesizes these at ReadDir
// time — they are ordinary entries occupying the directory's first
// block) and accounts for "."'s self-reference in NumLinks. Must be
// called exactly once, right after CreateInode and before any other
// MakeReference names this directory, so mkdir's caller still needs a
// separate MakeReference call afterward to install the name itself
// (bringing an empty directory's NumLinks to the conventional 2).
func (n *Inode) InitDir(txn blockcache.TxnID, parentID uint64) error {
	eng := n.dirEngine(txn)
	if err := eng.Insert(".", n.ID, oext.FileTypeDir); err != nil {
		return err
	}
	if err := eng.Insert("..", parentID, oext.FileTypeDir); err != nil {
		return err
	}
	n.Record.NumLinks = binstruct.U16le(uint16(n.Record.NumLinks) + 1)
	return n.persist(txn)
}

// CheckPermissions satisfies spec.md §4.3 `check_permissions`: a
// standard POSIX uid/gid/mode check, with W_OK always failing
// ReadOnlyDevice on a read-only volume regardless of mode bits.
func (n *Inode) CheckPermissions(uid, gid uint32, want int) error {
	if want&unix.W_OK != 0 && n.vol.ReadOnly {
		return fserrors.New(fserrors.ReadOnlyDevice, "ext.Inode.CheckPermissions", nil)
	}
	mode := n.Mode()
	var shift uint
	switch {
	case uid == uint32(n.Record.UID):
		shift = 6
	case gid == uint32(n.Record.GID):
		shift = 3
	default:
		shift = 0
	}
	perm := (mode >> shift) & 0o7
	need := uint32(0)
	if want&unix.R_OK != 0 {
		need |= 0o4
	}
	if want&unix.W_OK != 0 {
		need |= 0o2
	}
	if want&unix.X_OK != 0 {
		need |= 0o1
	}
	if perm&need != need {
		return fserrors.New(fserrors.NotAllowed, "ext.Inode.CheckPermissions", nil)
	}
	return nil
}

func modeToFileType(mode uint32) uint8 {
	switch mode & uint32(oext.ModeFormatMask) {
	case uint32(oext.ModeDir):
		return oext.FileTypeDir
	case uint32(oext.ModeSymlink):
		return oext.FileTypeSymlink
	case uint32(oext.ModeCharDev):
		return oext.FileTypeCharDev
	case uint32(oext.ModeBlockDev):
		return oext.FileTypeBlockDev
	case uint32(oext.ModeFIFO):
		return oext.FileTypeFIFO
	case uint32(oext.ModeSocket):
		return oext.FileTypeSocket
	default:
		return oext.FileTypeFile
	}
}

