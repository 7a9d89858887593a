package ext

import "github.com/vnodefs/vnodefs/internal/binstruct"

// JournalMagic is the four-byte magic at the head of every journal
// block (original_source/ext2/Journal.h JOURNAL_MAGIC). Unlike the
// rest of this package's little-endian on-disk structures, the
// journal is big-endian throughout, mirroring jbd2/ext2's own choice
// to keep the log format endian-independent of the host filesystem.
const JournalMagic uint32 = 0xc03b3998

// Journal block types (JournalHeader.BlockType).
const (
	JournalBlockTypeDescriptor  uint32 = 1
	JournalBlockTypeCommit      uint32 = 2
	JournalBlockTypeSuperblockV1 uint32 = 3
	JournalBlockTypeSuperblockV2 uint32 = 4
	JournalBlockTypeRevoke       uint32 = 5
)

// Descriptor-block tag flags (JournalBlockTag.Flags).
const (
	JournalFlagEscaped  uint32 = 1
	JournalFlagSameUUID uint32 = 2
	JournalFlagDeleted  uint32 = 4
	JournalFlagLastTag  uint32 = 8
)

// JournalFeatureIncompatRevoke is the only incompatible journal
// feature this driver (and original_source) understands.
const JournalFeatureIncompatRevoke uint32 = 1

const knownJournalIncompat = JournalFeatureIncompatRevoke

// UnknownJournalIncompat mirrors spec.md §4.1's absolute feature gate,
// scoped to the journal superblock's own incompatible-feature field.
func UnknownJournalIncompat(flags uint32) uint32 { return flags &^ knownJournalIncompat }

// JournalHeader is the 12-byte header common to every journal block:
// descriptor, commit, revoke, and both superblock revisions all start
// with one of these.
type JournalHeader struct {
	Magic         binstruct.U32be `bin:"off=0x0, siz=0x4"`
	BlockType     binstruct.U32be `bin:"off=0x4, siz=0x4"`
	Sequence      binstruct.U32be `bin:"off=0x8, siz=0x4"`
	binstruct.End `bin:"off=0xc"`
}

// CheckMagic reports whether Magic matches JournalMagic.
func (h *JournalHeader) CheckMagic() bool { return uint32(h.Magic) == JournalMagic }

// JournalBlockTag is one entry in a descriptor block's tag array,
// immediately followed by the 16-byte source UUID unless
// JournalFlagSameUUID is set (original_source's packing).
type JournalBlockTag struct {
	BlockNumber   binstruct.U32be `bin:"off=0x0, siz=0x4"`
	Flags         binstruct.U32be `bin:"off=0x4, siz=0x4"`
	binstruct.End `bin:"off=0x8"`
}

// JournalRevokeHeader prefixes a revoke block: the common header, a
// byte count covering the header plus the revoked-block-number array,
// then NumBytes-0x10 bytes of big-endian uint32 block numbers
// (decoded separately since the array's length is data-dependent).
type JournalRevokeHeader struct {
	Header        JournalHeader   `bin:"off=0x0, siz=0xc"`
	NumBytes      binstruct.U32be `bin:"off=0xc, siz=0x4"`
	binstruct.End `bin:"off=0x10"`
}

// JournalSuperBlock is the 1024-byte on-disk journal superblock
// (JournalSuperBlockV1 fields only; V2 adds nothing this driver reads
// beyond the incompatible/read-only-compatible feature words already
// present here, matching original_source's single shared struct for
// both versions).
type JournalSuperBlock struct {
	Header                     JournalHeader      `bin:"off=0x0,   siz=0xc"`
	BlockSize                  binstruct.U32be    `bin:"off=0xc,   siz=0x4"`
	NumBlocks                  binstruct.U32be    `bin:"off=0x10,  siz=0x4"`
	FirstLogBlock              binstruct.U32be    `bin:"off=0x14,  siz=0x4"`
	FirstCommitID              binstruct.U32be    `bin:"off=0x18,  siz=0x4"`
	LogStart                   binstruct.U32be    `bin:"off=0x1c,  siz=0x4"`
	Error                      binstruct.U32be    `bin:"off=0x20,  siz=0x4"`
	CompatibleFeatures         binstruct.U32be    `bin:"off=0x24,  siz=0x4"`
	IncompatibleFeatures       binstruct.U32be    `bin:"off=0x28,  siz=0x4"`
	ReadOnlyCompatibleFeatures binstruct.U32be    `bin:"off=0x2c,  siz=0x4"`
	UUID                       [16]byte           `bin:"off=0x30,  siz=0x10"`
	NumUsers                   binstruct.U32be    `bin:"off=0x40,  siz=0x4"`
	DynamicSuperblock          binstruct.U32be    `bin:"off=0x44,  siz=0x4"`
	MaxTransactionBlocks       binstruct.U32be    `bin:"off=0x48,  siz=0x4"`
	MaxTransactionData         binstruct.U32be    `bin:"off=0x4c,  siz=0x4"`
	Padding                    [44]binstruct.U32be `bin:"off=0x50, siz=0xb0"`
	UserIDs                    [16 * 48]byte      `bin:"off=0x100, siz=0x300"`
	binstruct.End              `bin:"off=0x400"`
}

// LogBlockSize is the fixed journal block size this driver assumes
// when BlockSize hasn't yet been read (matches the filesystem's own
// block size in every observed Ext2/3/4 image).
const LogBlockSize = 1024
