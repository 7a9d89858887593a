// Engine is the directory engine proper (spec.md §4.4): it picks
// between the linear and HTree lookup paths, and implements
// insertion-with-split and tombstone-merge removal across the whole
// directory file rather than a single block.
//
// Grounded on the overall shape of btrfs/dir's Engine (a thin
// coordinator over a Blocks-like storage abstraction that does the
// hashing/searching itself), generalised here to Ext's block-addressed
// directory file instead of Btrfs's B+-tree-keyed items.
package dir

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// Blocks abstracts the directory inode's data stream down to the
// logical-block granularity the directory engine operates on,
// independent of whether the inode backing it uses ext/extent or
// ext/legacy underneath.
type Blocks interface {
	BlockSize() int
	NumBlocks() uint32
	ReadBlock(logical uint32) ([]byte, error)
	WriteBlock(logical uint32, data []byte) error
	// AppendBlock grows the directory by one block, returning its new
	// logical index.
	AppendBlock() (uint32, error)
}

// Engine is a directory file's lookup/insert/remove/readdir surface.
type Engine struct {
	Blocks    Blocks
	Indexed   bool // inode has INDEXED and volume has DIR_INDEX
	HashSeed  [4]uint32
}

// Result is one resolved directory entry.
type Result struct {
	InodeID  uint64
	FileType uint8
}

// Lookup implements spec.md §4.4's combined linear/HTree lookup.
func (e *Engine) Lookup(name string) (Result, bool, error) {
	if name == "." || name == ".." {
		return e.lookupLinearAllBlocks(name)
	}
	if !e.Indexed {
		return e.lookupLinearAllBlocks(name)
	}
	return e.lookupHTree(name)
}

func (e *Engine) lookupLinearAllBlocks(name string) (Result, bool, error) {
	n := e.Blocks.NumBlocks()
	for b := uint32(0); b < n; b++ {
		block, err := e.Blocks.ReadBlock(b)
		if err != nil {
			return Result{}, false, err
		}
		found, ok, err := lookupInBlock(block, name)
		if err != nil {
			return Result{}, false, err
		}
		if ok {
			return Result{InodeID: found.InodeID, FileType: found.FileType}, true, nil
		}
	}
	return Result{}, false, nil
}

// lookupHTree resolves name's leaf block via the root index (and one
// further descent if indirection_levels > 0), then linear-scans that
// leaf, per spec.md §4.4.
func (e *Engine) lookupHTree(name string) (Result, bool, error) {
	block0, err := e.Blocks.ReadBlock(0)
	if err != nil {
		return Result{}, false, err
	}
	root, err := parseHTreeRoot(block0)
	if err != nil {
		return Result{}, false, err
	}
	target := HashName(uint8(root.info.HashVersion), name, e.HashSeed)
	re := findRootEntry(root.entries, target)
	leafBlock := uint32(re.Block)

	if uint8(root.info.IndirectLevels) > 0 {
		idxBlock, err := e.Blocks.ReadBlock(leafBlock)
		if err != nil {
			return Result{}, false, err
		}
		_, entries, err := readIndexBlock(idxBlock)
		if err != nil {
			return Result{}, false, err
		}
		inner := findRootEntry(entries, target)
		leafBlock = uint32(inner.Block)
	}

	leaf, err := e.Blocks.ReadBlock(leafBlock)
	if err != nil {
		return Result{}, false, err
	}
	found, ok, err := lookupInBlock(leaf, name)
	if err != nil {
		return Result{}, false, err
	}
	if !ok {
		return Result{}, false, nil
	}
	return Result{InodeID: found.InodeID, FileType: found.FileType}, true, nil
}

// ReadDir scans the whole directory linearly, in block then on-disk
// order, synthesising nothing — "." and ".." are ordinary entries on
// Ext (spec.md §4.4's synthesis rule is Btrfs-only).
func (e *Engine) ReadDir(visit func(name string, inodeID uint64, fileType uint8) bool) error {
	n := e.Blocks.NumBlocks()
	for b := uint32(0); b < n; b++ {
		block, err := e.Blocks.ReadBlock(b)
		if err != nil {
			return err
		}
		stop := false
		err = scanBlock(block, func(ent entry) bool {
			if ent.IsTombstoneEntry() {
				return true
			}
			if !visit(ent.Name, ent.InodeID, ent.FileType) {
				stop = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// Insert implements spec.md §4.4's "Insertion with split". Unindexed:
// try every existing block, and append a new block if none has room.
// Indexed: try the leaf the name's hash routes to, and split it if it
// has no room.
func (e *Engine) Insert(name string, inodeID uint64, fileType uint8) error {
	if !e.Indexed {
		return e.insertUnindexed(name, inodeID, fileType)
	}
	return e.insertIndexed(name, inodeID, fileType)
}

func (e *Engine) insertUnindexed(name string, inodeID uint64, fileType uint8) error {
	n := e.Blocks.NumBlocks()
	for b := uint32(0); b < n; b++ {
		block, err := e.Blocks.ReadBlock(b)
		if err != nil {
			return err
		}
		ok, err := insertIntoBlock(block, name, inodeID, fileType)
		if err != nil {
			return err
		}
		if ok {
			return e.Blocks.WriteBlock(b, block)
		}
	}
	// No room anywhere: grow by one block and format it as one big
	// tombstone record before inserting.
	newBlock, err := e.Blocks.AppendBlock()
	if err != nil {
		return err
	}
	block := make([]byte, e.Blocks.BlockSize())
	encodeEntryInto(block, 0, len(block), 0, ext.FileTypeUnknown, "")
	ok, err := insertIntoBlock(block, name, inodeID, fileType)
	if err != nil {
		return err
	}
	if !ok {
		return fserrors.New(fserrors.Bug, "dir.Engine.Insert",
			fmt.Errorf("freshly formatted block cannot fit entry %q", name))
	}
	return e.Blocks.WriteBlock(newBlock, block)
}

func (e *Engine) insertIndexed(name string, inodeID uint64, fileType uint8) error {
	block0, err := e.Blocks.ReadBlock(0)
	if err != nil {
		return err
	}
	root, err := parseHTreeRoot(block0)
	if err != nil {
		return err
	}
	if uint8(root.info.IndirectLevels) > 0 {
		return fserrors.New(fserrors.Unsupported, "dir.Engine.insertIndexed",
			fmt.Errorf("two-level htree insertion not supported"))
	}
	target := HashName(uint8(root.info.HashVersion), name, e.HashSeed)
	re := findRootEntry(root.entries, target)
	leafBlockNum := uint32(re.Block)

	leaf, err := e.Blocks.ReadBlock(leafBlockNum)
	if err != nil {
		return err
	}
	ok, err := insertIntoBlock(leaf, name, inodeID, fileType)
	if err != nil {
		return err
	}
	if ok {
		return e.Blocks.WriteBlock(leafBlockNum, leaf)
	}

	return e.splitLeafAndInsert(root, leafBlockNum, leaf, name, inodeID, fileType)
}

// splitLeafAndInsert implements spec.md §4.4 step 2: hash and sort
// every existing entry of the full leaf plus the new one, split at the
// median, and insert a new root entry pointing at the freshly
// allocated upper-half leaf.
func (e *Engine) splitLeafAndInsert(root htreeRootBlock, leafBlockNum uint32, leaf []byte, name string, inodeID uint64, fileType uint8) error {
	if len(root.entries) >= rootCapacity(e.Blocks.BlockSize(), root.dotDotOffset) {
		return fserrors.New(fserrors.Unsupported, "dir.Engine.splitLeafAndInsert",
			fmt.Errorf("htree root is full; recursive root split not supported"))
	}

	var items []hashedEntry
	if err := scanBlock(leaf, func(ent entry) bool {
		if ent.IsTombstoneEntry() {
			return true
		}
		items = append(items, hashedEntry{
			hash:     HashName(uint8(root.info.HashVersion), ent.Name, e.HashSeed),
			name:     ent.Name,
			inodeID:  ent.InodeID,
			fileType: ent.FileType,
		})
		return true
	}); err != nil {
		return err
	}
	items = append(items, hashedEntry{
		hash:     HashName(uint8(root.info.HashVersion), name, e.HashSeed),
		name:     name,
		inodeID:  inodeID,
		fileType: fileType,
	})
	sort.Slice(items, func(i, j int) bool { return items[i].hash < items[j].hash })

	medianIdx := len(items) / 2
	median := items[medianIdx].hash
	// Entries equal to the median all move to the upper leaf together,
	// which the new root entry (hash = median) routes to (spec.md
	// §4.4: "preserve collision locality").
	splitAt := medianIdx
	for splitAt > 0 && items[splitAt-1].hash == median {
		splitAt--
	}

	newBlockNum, err := e.Blocks.AppendBlock()
	if err != nil {
		return err
	}
	lowerBlock := make([]byte, e.Blocks.BlockSize())
	upperBlock := make([]byte, e.Blocks.BlockSize())
	encodeEntryInto(lowerBlock, 0, len(lowerBlock), 0, ext.FileTypeUnknown, "")
	encodeEntryInto(upperBlock, 0, len(upperBlock), 0, ext.FileTypeUnknown, "")

	for i, it := range items {
		dst := lowerBlock
		if i >= splitAt {
			dst = upperBlock
		}
		if ok, err := insertIntoBlock(dst, it.name, it.inodeID, it.fileType); err != nil {
			return err
		} else if !ok {
			return fserrors.New(fserrors.Bug, "dir.Engine.splitLeafAndInsert",
				fmt.Errorf("split leaf cannot fit entry %q", it.name))
		}
	}

	if err := e.Blocks.WriteBlock(leafBlockNum, lowerBlock); err != nil {
		return err
	}
	if err := e.Blocks.WriteBlock(newBlockNum, upperBlock); err != nil {
		return err
	}

	newEntries := make([]ext.HTreeEntry, 0, len(root.entries)+1)
	inserted := false
	for _, re := range root.entries {
		newEntries = append(newEntries, re)
		if !inserted && uint32(re.Block) == leafBlockNum {
			newEntries = append(newEntries, ext.HTreeEntry{
				Hash:  binstruct.U32le(items[splitAt].hash),
				Block: binstruct.U32le(uint32(newBlockNum)),
			})
			inserted = true
		}
	}
	if !inserted {
		newEntries = append(newEntries, ext.HTreeEntry{
			Hash:  binstruct.U32le(items[splitAt].hash),
			Block: binstruct.U32le(uint32(newBlockNum)),
		})
	}
	root.entries = newEntries

	block0Copy, err := e.Blocks.ReadBlock(0)
	if err != nil {
		return err
	}
	if err := writeHTreeRoot(block0Copy, root); err != nil {
		return err
	}
	return e.Blocks.WriteBlock(0, block0Copy)
}

// hashedEntry is a directory entry carrying its precomputed name hash,
// used while collecting a full leaf's contents for a median split.
type hashedEntry struct {
	hash     uint32
	name     string
	inodeID  uint64
	fileType uint8
}

// ConvertToIndexed implements spec.md §4.4 step 1: move the directory's
// single existing block's contents to a freshly allocated leaf, then
// rewrite block 0 as an HTree root with one root entry (hash 0,
// pointing at that leaf). The caller is responsible for setting the
// inode's INDEXED flag and e.Indexed afterwards.
func (e *Engine) ConvertToIndexed(hashVersion uint8) error {
	if e.Blocks.NumBlocks() != 1 {
		return fserrors.New(fserrors.Bug, "dir.Engine.ConvertToIndexed",
			fmt.Errorf("convert-to-indexed only applies to a single-block directory, got %d blocks", e.Blocks.NumBlocks()))
	}
	oldBlock, err := e.Blocks.ReadBlock(0)
	if err != nil {
		return err
	}

	dot, err := decodeEntryAt(oldBlock, 0)
	if err != nil {
		return err
	}
	dotDot, err := decodeEntryAt(oldBlock, dot.RecLen)
	if err != nil {
		return err
	}

	leafBlockNum, err := e.Blocks.AppendBlock()
	if err != nil {
		return err
	}
	leaf := make([]byte, e.Blocks.BlockSize())
	copy(leaf, oldBlock)
	if err := e.Blocks.WriteBlock(leafBlockNum, leaf); err != nil {
		return err
	}

	blockSize := e.Blocks.BlockSize()
	newBlock0 := make([]byte, blockSize)
	// Fake "." spans its own minimal record; fake ".." spans the rest
	// of the block and hosts the root info immediately after it.
	encodeEntryInto(newBlock0, 0, dot.RecLen, dot.InodeID, dot.FileType, dot.Name)
	dotDotOffset := dot.RecLen
	encodeEntryInto(newBlock0, dotDotOffset, blockSize-dotDotOffset, dotDot.InodeID, dotDot.FileType, dotDot.Name)

	info := ext.HTreeRoot{
		HashVersion:    binstruct.U8(hashVersion),
		InfoLength:     8,
		IndirectLevels: 0,
	}
	infoBuf, err := binstruct.Marshal(&info)
	if err != nil {
		return err
	}
	// infoBuf's first 8 bytes are HTreeRoot.DotDot, zero-valued here;
	// the real ".." record at dotDotOffset was already written above,
	// so only the trailing info fields (offsets 0x8..0x10) get copied.
	copy(newBlock0[dotDotOffset+ext.DirEntryHeaderSize:], infoBuf[ext.DirEntryHeaderSize:])

	countLimitAt := dotDotOffset + 0x10
	root := htreeRootBlock{
		dotDotOffset: dotDotOffset,
		info:         info,
		countLimitAt: countLimitAt,
		entries: []ext.HTreeEntry{
			{Hash: 0, Block: binstruct.U32le(uint32(leafBlockNum))},
		},
	}
	// writeHTreeRoot preserves the on-disk Limit field, so stamp it
	// once here before the first write.
	limit := uint16(rootCapacity(blockSize, dotDotOffset))
	binary.LittleEndian.PutUint16(newBlock0[countLimitAt:], limit)

	if err := writeHTreeRoot(newBlock0, root); err != nil {
		return err
	}
	return e.Blocks.WriteBlock(0, newBlock0)
}

// Remove implements spec.md §4.4's "Removal": linearly find name in
// the appropriate block (root leaf under HTree, or scan all blocks
// when unindexed) and merge its freed space into its predecessor.
func (e *Engine) Remove(name string) (bool, error) {
	if !e.Indexed {
		n := e.Blocks.NumBlocks()
		for b := uint32(0); b < n; b++ {
			block, err := e.Blocks.ReadBlock(b)
			if err != nil {
				return false, err
			}
			ok, err := removeFromBlock(block, name)
			if err != nil {
				return false, err
			}
			if ok {
				return true, e.Blocks.WriteBlock(b, block)
			}
		}
		return false, nil
	}

	block0, err := e.Blocks.ReadBlock(0)
	if err != nil {
		return false, err
	}
	root, err := parseHTreeRoot(block0)
	if err != nil {
		return false, err
	}
	target := HashName(uint8(root.info.HashVersion), name, e.HashSeed)
	re := findRootEntry(root.entries, target)
	leafBlockNum := uint32(re.Block)
	leaf, err := e.Blocks.ReadBlock(leafBlockNum)
	if err != nil {
		return false, err
	}
	ok, err := removeFromBlock(leaf, name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, e.Blocks.WriteBlock(leafBlockNum, leaf)
}
