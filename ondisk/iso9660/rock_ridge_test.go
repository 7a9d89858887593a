package iso9660

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/internal/binstruct"
)

func TestSystemUseEntryHeaderRoundTrip(t *testing.T) {
	var hdr SystemUseEntryHeader
	copy(hdr.Signature[:], SignaturePosixAttrs)
	hdr.Length = binstruct.U8(SystemUseEntryHeaderSize + 20)
	hdr.Version = binstruct.U8(1)

	buf, err := binstruct.Marshal(&hdr)
	require.NoError(t, err)
	require.Len(t, buf, SystemUseEntryHeaderSize)

	var got SystemUseEntryHeader
	_, err = binstruct.Unmarshal(buf, &got)
	require.NoError(t, err)
	assert.Equal(t, SignaturePosixAttrs, string(got.Signature[:]))
	assert.EqualValues(t, SystemUseEntryHeaderSize+20, got.Length)
}

func TestPosixAttributesRoundTrip(t *testing.T) {
	var px PosixAttributes
	px.Mode.Val = ModeDirectory | 0o755
	px.NumLinks.Val = 2
	px.UID.Val = 0
	px.GID.Val = 0

	buf, err := binstruct.Marshal(&px)
	require.NoError(t, err)
	require.Len(t, buf, binstruct.StaticSize(PosixAttributes{}))

	var got PosixAttributes
	_, err = binstruct.Unmarshal(buf, &got)
	require.NoError(t, err)
	assert.EqualValues(t, ModeDirectory|0o755, got.Mode.Val)
	assert.EqualValues(t, 2, got.NumLinks.Val)
}
