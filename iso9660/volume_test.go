package iso9660

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/device/devicetest"
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oiso "github.com/vnodefs/vnodefs/ondisk/iso9660"
)

const testBlockSize = 2048

// buildTestImage lays out a minimal single-descriptor ISO9660 image:
// a primary volume descriptor at the standard 0x8000 offset whose root
// directory record points at rootBlock, a volume descriptor set
// terminator immediately after, and a root directory occupying
// rootBlock with "." ".." and one regular file "HELLO.TXT;1" whose
// data lives at fileBlock.
func buildTestImage(t *testing.T, numBlocks int64, rootBlock, fileBlock uint32) *devicetest.Mem {
	t.Helper()
	mem := devicetest.NewMem(numBlocks * testBlockSize)

	var root oiso.DirectoryRecord
	root.Length = binstruct.U8(oiso.DirectoryRecordFixedSize + 2)
	root.ExtentLocation.Val = rootBlock
	root.DataLength.Val = testBlockSize
	root.Flags = binstruct.U8(oiso.RecordFlagDirectory)
	root.FileIdentifierLength = binstruct.U8(1)
	rootBytes, err := binstruct.Marshal(&root)
	require.NoError(t, err)

	var pvd oiso.PrimaryVolumeDescriptor
	pvd.Common.Type = binstruct.U8(oiso.DescriptorTypePrimary)
	copy(pvd.Common.Identifier[:], oiso.StandardIdentifier)
	pvd.Common.Version = binstruct.U8(1)
	copy(pvd.VolumeIdentifier[:], "VNODEFSTEST")
	pvd.LogicalBlockSize.Val = testBlockSize
	pvd.VolumeSpaceSize.Val = uint32(numBlocks)
	copy(pvd.RootDirectoryRecord[:], rootBytes)

	pvdBuf, err := binstruct.Marshal(&pvd)
	require.NoError(t, err)
	_, err = mem.WriteAt(pvdBuf, oiso.PrimaryVolumeDescriptorOffset)
	require.NoError(t, err)

	var term oiso.CommonDescriptor
	term.Type = binstruct.U8(oiso.DescriptorTypeTerminator)
	copy(term.Identifier[:], oiso.StandardIdentifier)
	termBuf, err := binstruct.Marshal(&term)
	require.NoError(t, err)
	_, err = mem.WriteAt(termBuf, oiso.PrimaryVolumeDescriptorOffset+oiso.VolumeDescriptorSize)
	require.NoError(t, err)

	dirBlock := make([]byte, testBlockSize)
	pos := 0
	pos += encodeTestRecord(t, dirBlock, pos, rootBlock, testBlockSize, oiso.RecordFlagDirectory, "\x00")
	pos += encodeTestRecord(t, dirBlock, pos, rootBlock, testBlockSize, oiso.RecordFlagDirectory, "\x01")
	encodeTestRecord(t, dirBlock, pos, fileBlock, 11, 0, "HELLO.TXT;1")
	_, err = mem.WriteAt(dirBlock, int64(rootBlock)*testBlockSize)
	require.NoError(t, err)

	fileBuf := make([]byte, testBlockSize)
	copy(fileBuf, "HELLO WORLD")
	_, err = mem.WriteAt(fileBuf, int64(fileBlock)*testBlockSize)
	require.NoError(t, err)

	return mem
}

func encodeTestRecord(t *testing.T, dst []byte, off int, extent, length uint32, flags uint8, name string) int {
	t.Helper()
	idLen := len(name)
	padded := idLen
	if padded%2 == 1 {
		padded++
	}
	recLen := oiso.DirectoryRecordFixedSize + padded

	var rec oiso.DirectoryRecord
	rec.Length = binstruct.U8(recLen)
	rec.ExtentLocation.Val = extent
	rec.DataLength.Val = length
	rec.Flags = binstruct.U8(flags)
	rec.FileIdentifierLength = binstruct.U8(idLen)

	buf, err := binstruct.Marshal(&rec)
	require.NoError(t, err)
	copy(dst[off:], buf)
	copy(dst[off+oiso.DirectoryRecordFixedSize:], name)
	return recLen
}

func TestMountAndReadRoot(t *testing.T) {
	mem := buildTestImage(t, 32, 20, 21)
	vol, err := Mount(mem, true)
	require.NoError(t, err)

	root := vol.Root()
	assert.EqualValues(t, RootInodeID, root.ID())
	assert.True(t, root.IsDir())

	var names []string
	require.NoError(t, root.ReadDir(func(name string, inodeID uint64, fileType uint8) bool {
		names = append(names, name)
		return true
	}))
	assert.Equal(t, []string{".", "..", "HELLO.TXT"}, names)
}

func TestLookupAndReadFile(t *testing.T) {
	mem := buildTestImage(t, 32, 20, 21)
	vol, err := Mount(mem, true)
	require.NoError(t, err)

	root := vol.Root()
	file, ok, err := root.Lookup("HELLO.TXT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, file.IsDir())
	assert.EqualValues(t, 11, file.Size())

	buf := make([]byte, 11)
	n, err := file.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "HELLO WORLD", string(buf))
}

func TestRootDotDotResolvesToRootInodeID(t *testing.T) {
	mem := buildTestImage(t, 32, 20, 21)
	vol, err := Mount(mem, true)
	require.NoError(t, err)

	root := vol.Root()
	dotdot, ok, err := root.Lookup("..")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, RootInodeID, dotdot.ID())
}

func TestCheckPermissionsDeniesWrite(t *testing.T) {
	mem := buildTestImage(t, 32, 20, 21)
	vol, err := Mount(mem, true)
	require.NoError(t, err)

	root := vol.Root()
	err = root.CheckPermissions(0, 0, 0x2) // unix.W_OK
	assert.Error(t, err)
}
