package dir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/internal/binstruct"
	oiso "github.com/vnodefs/vnodefs/ondisk/iso9660"
)

func encodeSUEntry(t *testing.T, sig string, payload []byte) []byte {
	t.Helper()
	var hdr oiso.SystemUseEntryHeader
	copy(hdr.Signature[:], sig)
	hdr.Length = binstruct.U8(oiso.SystemUseEntryHeaderSize + len(payload))
	hdr.Version = binstruct.U8(1)
	buf, err := binstruct.Marshal(&hdr)
	require.NoError(t, err)
	return append(buf, payload...)
}

func TestParseSystemUseAreaNameAndPosix(t *testing.T) {
	var area []byte
	area = append(area, encodeSUEntry(t, oiso.SignatureAltName, append([]byte{0}, "longname.txt"...))...)

	var px oiso.PosixAttributes
	px.Mode.Val = oiso.ModeRegular | 0o644
	px.UID.Val = 1000
	px.GID.Val = 1000
	pxBytes, err := binstruct.Marshal(&px)
	require.NoError(t, err)
	area = append(area, encodeSUEntry(t, oiso.SignaturePosixAttrs, pxBytes)...)
	area = append(area, encodeSUEntry(t, oiso.SignatureTerminator, nil)...)

	info := parseSystemUseArea(area, nil)
	assert.True(t, info.hasName)
	assert.Equal(t, "longname.txt", info.name)
	assert.True(t, info.hasPosix)
	assert.EqualValues(t, oiso.ModeRegular|0o644, info.posix.Mode.Val)
	assert.EqualValues(t, 1000, info.posix.UID.Val)
}

func TestParseSystemUseAreaSymlink(t *testing.T) {
	var payload []byte
	payload = append(payload, 0) // overall SL flags: no continue
	payload = append(payload, byte(oiso.SymlinkFlagRoot), 0)
	payload = append(payload, byte(0), byte(len("usr")))
	payload = append(payload, "usr"...)
	payload = append(payload, byte(0), byte(len("bin")))
	payload = append(payload, "bin"...)

	area := encodeSUEntry(t, oiso.SignatureSymlink, payload)
	info := parseSystemUseArea(area, nil)
	assert.True(t, info.hasSymlink)
	assert.Equal(t, "/usr/bin", info.symlink)
}

func TestParseSystemUseAreaContinuation(t *testing.T) {
	ceBlock := int64(9)
	cePayload := make([]byte, 24)
	// both-endian block=9, offset=0, length= header+payload of the NM entry below
	nmEntry := encodeSUEntry(t, oiso.SignatureAltName, append([]byte{0}, "continued.txt"...))
	putBothEndian32(cePayload[0:8], uint32(ceBlock))
	putBothEndian32(cePayload[8:16], 0)
	putBothEndian32(cePayload[16:24], uint32(len(nmEntry)))

	var area []byte
	area = append(area, encodeSUEntry(t, oiso.SignatureContinuation, cePayload)...)

	get := func(block int64) ([]byte, error) {
		if block != ceBlock {
			t.Fatalf("unexpected block %d", block)
		}
		buf := make([]byte, 2048)
		copy(buf, nmEntry)
		return buf, nil
	}

	info := parseSystemUseArea(area, get)
	assert.True(t, info.hasName)
	assert.Equal(t, "continued.txt", info.name)
}

func putBothEndian32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
	dst[4] = byte(v >> 24)
	dst[5] = byte(v >> 16)
	dst[6] = byte(v >> 8)
	dst[7] = byte(v)
}

func TestHasRockRidgeIndicator(t *testing.T) {
	area := encodeSUEntry(t, oiso.SignatureSharingProto, []byte{0xbe, 0xef, 1})
	assert.True(t, HasRockRidgeIndicator(area))

	assert.False(t, HasRockRidgeIndicator(encodeSUEntry(t, oiso.SignatureTimestamps, nil)))
}
