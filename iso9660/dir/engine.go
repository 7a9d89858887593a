// Package dir is the ISO9660 directory engine (spec.md §4.4,
// §2 "Directory indexing" for Btrfs/Ext's equivalents): it walks a
// directory's run of directory records, decoding each entry's name
// under whichever of plain-ISO, Joliet, or Rock Ridge naming applies,
// with no index structure to maintain since ISO9660 is read-only and
// every lookup is a linear scan over at most a few dozen records per
// directory block.
//
// Grounded on ext/dir.Engine's shape (a thin coordinator walking
// logical directory blocks) generalized to ISO9660's layout: entries
// are ondisk/iso9660.DirectoryRecord values back to back inside a
// block, never spanning a block boundary (ECMA-119 §9.1.13). A single
// file or directory whose data would otherwise need a non-contiguous
// run of extents gets more than one directory record in its parent
// with the same name, every record but the last carrying the
// "multi-extent" flag (spec.md's supplemented "Directory::InitCheck
// multi-extent directory records" feature, r5/iso.h's ISO_MOREDIRS
// bit); ReadDir merges such a run of same-name records into one Entry
// before handing it to the caller.
package dir

import (
	"time"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oiso "github.com/vnodefs/vnodefs/ondisk/iso9660"
)

// Directory-entry file-type tags a caller (iso9660.Inode, the vfs
// shim) dispatches on, mirroring ext's FileType* values so both
// drivers hand the same small vocabulary up to the vnode layer.
const (
	FileTypeUnknown uint8 = 0
	FileTypeFile    uint8 = 1
	FileTypeDir     uint8 = 2
	FileTypeSymlink uint8 = 7
)

// Extent is one contiguous run of blocks holding part of an entry's
// data (a directory's entries, or a plain file's bytes). DataLength is
// this extent's own byte count (the directory record's DataLength
// field), which for all but the last extent of a multi-extent entry
// exactly fills NumBlocks*blockSize, and for the last may end partway
// through its final block.
type Extent struct {
	StartBlock uint32
	NumBlocks  uint32
	DataLength uint64
}

// Entry is one resolved, name-decoded directory entry, with every
// multi-extent directory record sharing its name already merged into
// one Extents list.
type Entry struct {
	Name          string
	InodeID       uint64
	FileType      uint8
	Extents       []Extent
	DataLength    uint64 // sum of every extent's DataLength, i.e. the file's true byte size
	SymlinkTarget string // only set when FileType == FileTypeSymlink
	ModTime       time.Time

	// HasPosix reports whether a Rock Ridge "PX" entry supplied
	// Mode/UID/GID; when false the caller (iso9660.Inode.Mode)
	// synthesizes the read-only defaults spec.md §9's design note
	// describes falling back to when Rock Ridge attributes are absent.
	HasPosix bool
	Mode     uint32
	UID      uint32
	GID      uint32
}

// Engine reads a directory's entries out of the block cache.
type Engine struct {
	Cache     *blockcache.Cache
	BlockSize int
	Extents   []Extent
	Joliet    bool
	RockRidge bool
}

// rawRecord is one on-disk directory record after name/type decoding,
// before multi-extent merging.
type rawRecord struct {
	name          string
	fileType      uint8
	extent        Extent
	dataLength    uint64
	multiExtent   bool
	symlinkTarget string
	modTime       time.Time
	hasPosix      bool
	mode          uint32
	uid           uint32
	gid           uint32
}

// ReadDir visits every (multi-extent-merged) entry across every extent
// in on-disk order, stopping early if visit returns false.
func (e *Engine) ReadDir(visit func(Entry) bool) error {
	var pending *Entry
	stop := false

	emit := func(r rawRecord) bool {
		if pending != nil && pending.Name == r.name {
			pending.Extents = append(pending.Extents, r.extent)
			pending.DataLength += r.dataLength
		} else {
			if pending != nil {
				if !visit(*pending) {
					stop = true
					return false
				}
			}
			pending = &Entry{
				Name:          r.name,
				FileType:      r.fileType,
				Extents:       []Extent{r.extent},
				DataLength:    r.dataLength,
				SymlinkTarget: r.symlinkTarget,
				ModTime:       r.modTime,
				HasPosix:      r.hasPosix,
				Mode:          r.mode,
				UID:           r.uid,
				GID:           r.gid,
			}
			if len(pending.Extents) > 0 {
				pending.InodeID = uint64(pending.Extents[0].StartBlock)
			}
		}
		if !r.multiExtent {
			if !visit(*pending) {
				stop = true
				pending = nil
				return false
			}
			pending = nil
		}
		return true
	}

	for _, ext := range e.Extents {
		if err := e.readExtent(ext, emit); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	if pending != nil {
		visit(*pending)
	}
	return nil
}

func (e *Engine) readExtent(ext Extent, emit func(rawRecord) bool) error {
	for i := uint32(0); i < ext.NumBlocks; i++ {
		block := int64(ext.StartBlock) + int64(i)
		buf, err := e.Cache.Get(block)
		if err != nil {
			return fserrors.New(fserrors.IOError, "iso9660/dir.ReadDir", err)
		}
		cont, err := e.readBlock(buf, emit)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (e *Engine) readBlock(buf []byte, emit func(rawRecord) bool) (bool, error) {
	pos := 0
	for pos < len(buf) {
		if int(buf[pos]) == 0 {
			// Zero-padding to the block boundary (ECMA-119 §9.1.13):
			// nothing more to read in this block.
			return true, nil
		}
		rec, recLen, err := e.parseRecord(buf, pos)
		if err != nil {
			return false, err
		}
		if !emit(rec) {
			return false, nil
		}
		pos += recLen
	}
	return true, nil
}

func (e *Engine) parseRecord(buf []byte, pos int) (rawRecord, int, error) {
	if pos+oiso.DirectoryRecordFixedSize > len(buf) {
		return rawRecord{}, 0, fserrors.New(fserrors.BadData, "iso9660/dir.parseRecord", fserrors.ErrBadData)
	}
	var rec oiso.DirectoryRecord
	if _, err := binstruct.Unmarshal(buf[pos:pos+oiso.DirectoryRecordFixedSize], &rec); err != nil {
		return rawRecord{}, 0, fserrors.New(fserrors.BadData, "iso9660/dir.parseRecord", err)
	}
	recLen := int(rec.Length)
	if recLen < oiso.DirectoryRecordFixedSize || pos+recLen > len(buf) {
		return rawRecord{}, 0, fserrors.New(fserrors.BadData, "iso9660/dir.parseRecord", fserrors.ErrBadData)
	}

	idLen := int(rec.FileIdentifierLength)
	idStart := pos + oiso.DirectoryRecordFixedSize
	if idStart+idLen > pos+recLen {
		return rawRecord{}, 0, fserrors.New(fserrors.BadData, "iso9660/dir.parseRecord", fserrors.ErrBadData)
	}
	rawID := buf[idStart : idStart+idLen]

	location := uint32(rec.ExtentLocation.Val)
	length := uint64(rec.DataLength.Val)
	blockSize := uint32(e.blockSize())
	numBlocks := uint32((length + uint64(blockSize) - 1) / uint64(blockSize))

	out := rawRecord{
		fileType:    FileTypeFile,
		extent:      Extent{StartBlock: location, NumBlocks: numBlocks, DataLength: length},
		dataLength:  length,
		multiExtent: rec.IsMultiExtent(),
		modTime:     recordDateToTime(rec.RecordedDate),
	}
	if rec.IsDirectory() {
		out.fileType = FileTypeDir
	}

	suStart := pos + rec.SystemUseOffset()
	var rr rockRidgeInfo
	if e.RockRidge && suStart < pos+recLen {
		area := buf[suStart : pos+recLen]
		get := func(b int64) ([]byte, error) { return e.Cache.Get(b) }
		rr = parseSystemUseArea(area, get)
	}

	switch {
	case idLen == 1 && rawID[0] == oiso.FileIdentifierSelf:
		out.name = "."
	case idLen == 1 && rawID[0] == oiso.FileIdentifierParent:
		out.name = ".."
	case rr.hasName:
		out.name = rr.name
	case e.Joliet:
		out.name = decodeJolietName(rawID)
	default:
		out.name = decodePlainName(rawID)
	}

	if rr.hasPosix {
		mode := uint32(rr.posix.Mode.Val)
		switch mode & oiso.ModeFormatMask {
		case oiso.ModeSymlink:
			out.fileType = FileTypeSymlink
		case oiso.ModeDirectory:
			out.fileType = FileTypeDir
		case oiso.ModeRegular:
			out.fileType = FileTypeFile
		}
		out.hasPosix = true
		out.mode = mode
		out.uid = uint32(rr.posix.UID.Val)
		out.gid = uint32(rr.posix.GID.Val)
	}
	if rr.hasSymlink {
		out.fileType = FileTypeSymlink
		out.symlinkTarget = rr.symlink
	}

	return out, recLen, nil
}

func (e *Engine) blockSize() int {
	if e.BlockSize != 0 {
		return e.BlockSize
	}
	return e.Cache.BlockSize()
}

// Lookup is a linear scan for name across every extent; ISO9660 has
// no directory index to consult (spec.md §4.4's indexing discussion
// applies only to Btrfs/Ext), so every lookup costs the size of the
// directory.
func (e *Engine) Lookup(name string) (Entry, bool, error) {
	var found Entry
	var ok bool
	err := e.ReadDir(func(entry Entry) bool {
		if entry.Name == name {
			found, ok = entry, true
			return false
		}
		return true
	})
	return found, ok, err
}

// recordDateToTime converts a RecordDate (ECMA-119 §9.1.5's 7-byte
// directory-record timestamp, offset from 1900 with a signed
// 15-minute-interval GMT offset) to UTC.
func recordDateToTime(d oiso.RecordDate) time.Time {
	loc := time.FixedZone("", int(int8(d.GMTOffset))*15*60)
	t := time.Date(
		1900+int(uint8(d.YearsSince1900)),
		time.Month(uint8(d.Month)),
		int(uint8(d.Day)),
		int(uint8(d.Hour)),
		int(uint8(d.Minute)),
		int(uint8(d.Second)),
		0, loc,
	)
	return t.UTC()
}
