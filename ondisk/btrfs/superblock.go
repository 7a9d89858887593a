package btrfs

import "github.com/vnodefs/vnodefs/internal/binstruct"

// SuperblockOffset is the fixed byte offset of the primary superblock
// copy (spec.md §6 "Btrfs superblock magic ... at offset 0x10000").
const SuperblockOffset = 0x10000

// SuperblockMagic and SuperblockMagicFresh are the two magic values a
// mount may see: the steady-state value and the one a freshly-created
// (never-written) volume carries before its first commit.
var (
	SuperblockMagic      = [8]byte{'_', 'B', 'H', 'R', 'f', 'S', '_', 'M'}
	SuperblockMagicFresh = [8]byte{'!', 'B', 'H', 'R', 'f', 'S', '_', 'M'}
)

const CSumTypeCRC32 uint16 = 0

// IncompatFlags / ROCompatFlags gate mount per spec.md §4.1 "Feature
// gating is absolute".
type IncompatFlags uint64

const (
	FeatureIncompatMixedBackref IncompatFlags = 1 << 0
	FeatureIncompatDefaultSubvol IncompatFlags = 1 << 1
	FeatureIncompatMixedGroups  IncompatFlags = 1 << 2
	FeatureIncompatCompressLZO  IncompatFlags = 1 << 3
	FeatureIncompatCompressZSTD IncompatFlags = 1 << 4
	FeatureIncompatBigMetadata  IncompatFlags = 1 << 5
	FeatureIncompatExtendedIref IncompatFlags = 1 << 6
	FeatureIncompatRAID56       IncompatFlags = 1 << 7
	FeatureIncompatSkinnyMetadata IncompatFlags = 1 << 8
	FeatureIncompatNoHoles      IncompatFlags = 1 << 9
	FeatureIncompatMetadataUUID IncompatFlags = 1 << 10
)

// knownIncompat is the complete set this driver understands; anything
// outside it fails mount per spec.md §4.1.
const knownIncompat = FeatureIncompatMixedBackref | FeatureIncompatDefaultSubvol |
	FeatureIncompatMixedGroups | FeatureIncompatCompressLZO | FeatureIncompatCompressZSTD |
	FeatureIncompatBigMetadata | FeatureIncompatExtendedIref | FeatureIncompatSkinnyMetadata |
	FeatureIncompatNoHoles | FeatureIncompatMetadataUUID

func (f IncompatFlags) Unknown() IncompatFlags { return f &^ knownIncompat }
func (f IncompatFlags) Has(req IncompatFlags) bool { return f&req == req }

// DevItem is the embedded device descriptor for the device this
// superblock copy lives on.
type DevItem struct {
	DeviceID       binstruct.U64le `bin:"off=0x0,  siz=0x8"`
	NumBytes       binstruct.U64le `bin:"off=0x8,  siz=0x8"`
	NumBytesUsed   binstruct.U64le `bin:"off=0x10, siz=0x8"`
	IOAlign        binstruct.U32le `bin:"off=0x18, siz=0x4"`
	IOWidth        binstruct.U32le `bin:"off=0x1c, siz=0x4"`
	SectorSize     binstruct.U32le `bin:"off=0x20, siz=0x4"`
	Type           binstruct.U64le `bin:"off=0x24, siz=0x8"`
	Generation     binstruct.U64le `bin:"off=0x2c, siz=0x8"`
	StartOffset    binstruct.U64le `bin:"off=0x34, siz=0x8"`
	DevGroup       binstruct.U32le `bin:"off=0x3c, siz=0x4"`
	SeekSpeed      binstruct.U8    `bin:"off=0x40, siz=0x1"`
	Bandwidth      binstruct.U8    `bin:"off=0x41, siz=0x1"`
	DevUUID        [16]byte        `bin:"off=0x42, siz=0x10"`
	FSUUID         [16]byte        `bin:"off=0x52, siz=0x10"`
	binstruct.End  `bin:"off=0x62"`
}

// RootBackup is one of the four backup-root slots the superblock
// carries, used to re-find the extent/chunk/FS tree roots when the
// primary tree roots named at the top of the superblock are
// unreadable (supplemented from original_source/..., SPEC_FULL.md §3).
type RootBackup struct {
	TreeRoot       binstruct.U64le `bin:"off=0x0,  siz=0x8"`
	TreeRootGen    binstruct.U64le `bin:"off=0x8,  siz=0x8"`
	ChunkRoot      binstruct.U64le `bin:"off=0x10, siz=0x8"`
	ChunkRootGen   binstruct.U64le `bin:"off=0x18, siz=0x8"`
	ExtentRoot     binstruct.U64le `bin:"off=0x20, siz=0x8"`
	ExtentRootGen  binstruct.U64le `bin:"off=0x28, siz=0x8"`
	FSRoot         binstruct.U64le `bin:"off=0x30, siz=0x8"`
	FSRootGen      binstruct.U64le `bin:"off=0x38, siz=0x8"`
	DevRoot        binstruct.U64le `bin:"off=0x40, siz=0x8"`
	DevRootGen     binstruct.U64le `bin:"off=0x48, siz=0x8"`
	CsumRoot       binstruct.U64le `bin:"off=0x50, siz=0x8"`
	CsumRootGen    binstruct.U64le `bin:"off=0x58, siz=0x8"`
	TotalBytes     binstruct.U64le `bin:"off=0x60, siz=0x8"`
	BytesUsed      binstruct.U64le `bin:"off=0x68, siz=0x8"`
	NumDevices     binstruct.U64le `bin:"off=0x70, siz=0x8"`
	Reserved       [32]byte        `bin:"off=0x78, siz=0x20"`
	TreeRootLevel   binstruct.U8   `bin:"off=0x98, siz=0x1"`
	ChunkRootLevel  binstruct.U8   `bin:"off=0x99, siz=0x1"`
	ExtentRootLevel binstruct.U8   `bin:"off=0x9a, siz=0x1"`
	FSRootLevel     binstruct.U8   `bin:"off=0x9b, siz=0x1"`
	DevRootLevel    binstruct.U8   `bin:"off=0x9c, siz=0x1"`
	CsumRootLevel   binstruct.U8   `bin:"off=0x9d, siz=0x1"`
	Padding2        [10]byte       `bin:"off=0x9e, siz=0xa"`
	binstruct.End   `bin:"off=0xa8"`
}

// Superblock is the Btrfs primary descriptor (spec.md §3 "Volume",
// §4.1, §6 constants table). Grounded on the teacher's
// btrfs.Superblock, trimmed of ExtentTreeV2-only fields that no
// component in SPEC_FULL.md exercises, and extended with the four
// RootBackup slots per SPEC_FULL.md §3's ExtentAllocator supplement.
type Superblock struct {
	Checksum    [32]byte        `bin:"off=0x0,  siz=0x20"`
	FSUUID      [16]byte        `bin:"off=0x20, siz=0x10"`
	Self        binstruct.U64le `bin:"off=0x30, siz=0x8"`
	Flags       binstruct.U64le `bin:"off=0x38, siz=0x8"`
	Magic       [8]byte         `bin:"off=0x40, siz=0x8"`
	Generation  binstruct.U64le `bin:"off=0x48, siz=0x8"`

	RootTree  binstruct.U64le `bin:"off=0x50, siz=0x8"`
	ChunkTree binstruct.U64le `bin:"off=0x58, siz=0x8"`
	LogTree   binstruct.U64le `bin:"off=0x60, siz=0x8"`

	LogRootTransID  binstruct.U64le `bin:"off=0x68, siz=0x8"`
	TotalBytes      binstruct.U64le `bin:"off=0x70, siz=0x8"`
	BytesUsed       binstruct.U64le `bin:"off=0x78, siz=0x8"`
	RootDirObjectID binstruct.U64le `bin:"off=0x80, siz=0x8"`
	NumDevices      binstruct.U64le `bin:"off=0x88, siz=0x8"`

	SectorSize        binstruct.U32le `bin:"off=0x90, siz=0x4"`
	NodeSize          binstruct.U32le `bin:"off=0x94, siz=0x4"`
	LeafSize          binstruct.U32le `bin:"off=0x98, siz=0x4"`
	StripeSize        binstruct.U32le `bin:"off=0x9c, siz=0x4"`
	SysChunkArraySize binstruct.U32le `bin:"off=0xa0, siz=0x4"`

	ChunkRootGeneration binstruct.U64le `bin:"off=0xa4, siz=0x8"`
	CompatFlags         binstruct.U64le `bin:"off=0xac, siz=0x8"`
	CompatROFlags       binstruct.U64le `bin:"off=0xb4, siz=0x8"`
	IncompatFlags       IncompatFlags   `bin:"off=0xbc, siz=0x8"`
	ChecksumType        binstruct.U16le `bin:"off=0xc4, siz=0x2"`

	RootLevel  binstruct.U8 `bin:"off=0xc6, siz=0x1"`
	ChunkLevel binstruct.U8 `bin:"off=0xc7, siz=0x1"`
	LogLevel   binstruct.U8 `bin:"off=0xc8, siz=0x1"`

	DevItem         DevItem     `bin:"off=0xc9,  siz=0x62"`
	Label           [0x100]byte `bin:"off=0x12b, siz=0x100"`
	CacheGeneration binstruct.U64le `bin:"off=0x22b, siz=0x8"`
	UUIDTreeGeneration binstruct.U64le `bin:"off=0x233, siz=0x8"`

	MetadataUUID [16]byte `bin:"off=0x23b, siz=0x10"`

	Reserved [224]byte `bin:"off=0x24b, siz=0xe0"`

	SysChunkArray [0x800]byte  `bin:"off=0x32b, siz=0x800"`
	SuperRoots    [4]RootBackup `bin:"off=0xb2b, siz=0x2a0"`

	Padding       [565]byte `bin:"off=0xdcb, siz=0x235"`
	binstruct.End `bin:"off=0x1000"`
}

var SuperblockSize = binstruct.StaticSize(Superblock{})
