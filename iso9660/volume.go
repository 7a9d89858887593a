// Package iso9660 wires ondisk/iso9660 and iso9660/dir into the two
// top-level objects spec.md §4.1/§4.3 name: Volume and Inode. Grounded
// on ext.Volume/ext.Mount's shape (device handle + block cache +
// decoded superblock, then a thin per-call Inode wrapper), narrowed
// further since ISO9660 is read-only throughout (spec.md §1's
// "read-only ISO9660 driver"): there is no allocator, no journal, and
// Mount never takes a readOnly argument because there is only one mode.
package iso9660

import (
	"fmt"

	"github.com/vnodefs/vnodefs/blockcache"
	"github.com/vnodefs/vnodefs/device"
	"github.com/vnodefs/vnodefs/fserrors"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/iso9660/dir"
	oiso "github.com/vnodefs/vnodefs/ondisk/iso9660"
)

// RootInodeID is the vnode id spec.md §6 mandates the root directory
// present to callers, independent of the root directory's actual
// extent location (which is what every other directory's entries use
// as their synthetic inode id; see Volume.toVnodeID).
const RootInodeID uint64 = 1

// Volume is the process-wide per-mounted-image state: device handle,
// block cache, whichever of the primary or (Joliet) supplementary
// volume descriptor supplies the active directory hierarchy, and
// whether Rock Ridge extensions were detected on the root directory.
//
// Open Question decision (recorded in DESIGN.md): there is no
// GetInode(id)-by-number entry point. ISO9660 carries no inode table,
// so unlike Btrfs/Ext an inode number alone can't be resolved back to
// its directory record without re-walking a directory; every Inode
// handle this package hands out is instead obtained from Volume.Root
// or from a parent directory's Lookup/ReadDir, both of which already
// carry the full record (extent, length, type) an Inode needs.
type Volume struct {
	Device device.BlockDevice
	Cache  *blockcache.Cache

	Primary oiso.PrimaryVolumeDescriptor
	Joliet  bool
	SVD     oiso.SupplementaryVolumeDescriptor

	RockRidge bool

	rootExtents  []dir.Extent
	rootExtentID uint32 // the root directory's own extent LBA, remapped to RootInodeID
}

// Mount opens dev as an ISO9660 image (spec.md §4.1 `mount`, narrowed
// to this driver's read-only contract): locates the primary volume
// descriptor at the fixed byte offset ECMA-119 §8.4 mandates, scans
// the rest of the volume descriptor set for a Joliet supplementary
// descriptor (skipped entirely when nojoliet is set, spec.md §6's
// mount switch), and probes the root directory's "." record for Rock
// Ridge / SUSP indicators.
func Mount(dev device.BlockDevice, nojoliet bool) (*Volume, error) {
	var primary oiso.PrimaryVolumeDescriptor
	var svd oiso.SupplementaryVolumeDescriptor
	haveSVD := false

	buf := make([]byte, oiso.VolumeDescriptorSize)
	for off := int64(oiso.PrimaryVolumeDescriptorOffset); ; off += oiso.VolumeDescriptorSize {
		if _, err := dev.ReadAt(buf, off); err != nil {
			return nil, fserrors.New(fserrors.IOError, "iso9660.Mount", err)
		}
		var common oiso.CommonDescriptor
		if _, err := binstruct.Unmarshal(buf, &common); err != nil {
			return nil, fserrors.New(fserrors.BadData, "iso9660.Mount", err)
		}
		if !common.HasStandardIdentifier() {
			return nil, fserrors.New(fserrors.BadData, "iso9660.Mount", fmt.Errorf("missing %q standard identifier", oiso.StandardIdentifier))
		}

		switch uint8(common.Type) {
		case oiso.DescriptorTypeTerminator:
			goto done
		case oiso.DescriptorTypePrimary:
			if _, err := binstruct.Unmarshal(buf, &primary); err != nil {
				return nil, fserrors.New(fserrors.BadData, "iso9660.Mount", err)
			}
		case oiso.DescriptorTypeSupplementary:
			if !nojoliet {
				var cand oiso.SupplementaryVolumeDescriptor
				if _, err := binstruct.Unmarshal(buf, &cand); err != nil {
					return nil, fserrors.New(fserrors.BadData, "iso9660.Mount", err)
				}
				if cand.IsJoliet() {
					// Last Joliet SVD wins, matching the reference
					// reader's "duplicate volume name" precedence note.
					svd, haveSVD = cand, true
				}
			}
		}
	}
done:

	if uint8(primary.Common.Type) != oiso.DescriptorTypePrimary {
		return nil, fserrors.New(fserrors.BadData, "iso9660.Mount", fmt.Errorf("no primary volume descriptor found"))
	}

	blockSize := int(primary.LogicalBlockSize.Val)
	numBlocks := int64(primary.VolumeSpaceSize.Val)
	cache := blockcache.Create(dev, numBlocks, blockSize, true)

	v := &Volume{
		Device:  dev,
		Cache:   cache,
		Primary: primary,
		Joliet:  haveSVD,
	}
	if haveSVD {
		v.SVD = svd
	}

	rootRec := primary.RootDirectoryRecord[:]
	if v.Joliet {
		rootRec = svd.RootDirectoryRecord[:]
	}
	var root oiso.DirectoryRecord
	if _, err := binstruct.Unmarshal(rootRec[:oiso.DirectoryRecordFixedSize], &root); err != nil {
		return nil, fserrors.New(fserrors.BadData, "iso9660.Mount", err)
	}
	location := uint32(root.ExtentLocation.Val)
	length := uint64(root.DataLength.Val)
	numDirBlocks := uint32((length + uint64(blockSize) - 1) / uint64(blockSize))
	v.rootExtents = []dir.Extent{{StartBlock: location, NumBlocks: numDirBlocks, DataLength: length}}
	v.rootExtentID = location

	rockRidge, err := v.probeRockRidge()
	if err != nil {
		return nil, err
	}
	v.RockRidge = rockRidge

	return v, nil
}

// probeRockRidge reads the root directory's first block and checks
// the "." record's System Use Area for an "SP" indicator entry or an
// "ER" extension-identifier entry (SUSP §5.3/§5.5): either is enough
// to turn Rock Ridge decoding on for every subsequent directory read.
func (v *Volume) probeRockRidge() (bool, error) {
	buf, err := v.Cache.Get(int64(v.rootExtentID))
	if err != nil {
		return false, fserrors.New(fserrors.IOError, "iso9660.Volume.probeRockRidge", err)
	}
	if len(buf) < oiso.DirectoryRecordFixedSize {
		return false, nil
	}
	var rec oiso.DirectoryRecord
	if _, err := binstruct.Unmarshal(buf[:oiso.DirectoryRecordFixedSize], &rec); err != nil {
		return false, nil
	}
	suStart := rec.SystemUseOffset()
	recLen := int(rec.Length)
	if suStart >= recLen || recLen > len(buf) {
		return false, nil
	}
	area := buf[suStart:recLen]
	return dir.HasRockRidgeIndicator(area), nil
}

// toVnodeID remaps the root directory's own extent-based id to the
// fixed RootInodeID spec.md §6 requires, leaving every other entry's
// extent-based id untouched.
func (v *Volume) toVnodeID(extentID uint64) uint64 {
	if uint32(extentID) == v.rootExtentID {
		return RootInodeID
	}
	return extentID
}

// Root returns the volume's root directory inode.
func (v *Volume) Root() *Inode {
	return &Inode{
		vol: v,
		id:  RootInodeID,
		entry: dir.Entry{
			Name:     "",
			InodeID:  uint64(v.rootExtentID),
			FileType: dir.FileTypeDir,
			Extents:  v.rootExtents,
		},
	}
}

// inodeFromEntry builds the Inode a parent directory's Lookup/ReadDir
// hands a caller for one resolved dir.Entry.
func (v *Volume) inodeFromEntry(entry dir.Entry) *Inode {
	return &Inode{vol: v, id: v.toVnodeID(entry.InodeID), entry: entry}
}
