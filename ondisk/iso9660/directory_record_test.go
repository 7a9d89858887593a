package iso9660

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/internal/binstruct"
)

func TestDirectoryRecordFlags(t *testing.T) {
	var rec DirectoryRecord
	rec.Flags = binstruct.U8(RecordFlagDirectory | RecordFlagMultiExtent)
	assert.True(t, rec.IsDirectory())
	assert.True(t, rec.IsMultiExtent())
	assert.False(t, rec.IsAssociatedFile())
}

func TestDirectoryRecordPaddedIdentifierLength(t *testing.T) {
	var rec DirectoryRecord
	rec.FileIdentifierLength = binstruct.U8(7)
	assert.Equal(t, 8, rec.PaddedIdentifierLength())
	assert.Equal(t, DirectoryRecordFixedSize+8, rec.SystemUseOffset())

	rec.FileIdentifierLength = binstruct.U8(8)
	assert.Equal(t, 8, rec.PaddedIdentifierLength())
}

func TestDirectoryRecordRoundTrip(t *testing.T) {
	var rec DirectoryRecord
	rec.Length = binstruct.U8(DirectoryRecordFixedSize)
	rec.ExtentLocation.Val = 42
	rec.DataLength.Val = 2048
	rec.Flags = binstruct.U8(RecordFlagDirectory)
	rec.FileIdentifierLength = binstruct.U8(1)

	buf, err := binstruct.Marshal(&rec)
	require.NoError(t, err)
	require.Len(t, buf, DirectoryRecordFixedSize)

	var got DirectoryRecord
	n, err := binstruct.Unmarshal(buf, &got)
	require.NoError(t, err)
	assert.Equal(t, DirectoryRecordFixedSize, n)
	assert.EqualValues(t, 42, got.ExtentLocation.Val)
	assert.EqualValues(t, 2048, got.DataLength.Val)
	assert.True(t, got.IsDirectory())
}
