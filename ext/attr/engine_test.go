package attr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/internal/binstruct"
	"github.com/vnodefs/vnodefs/ondisk/ext"
)

// buildEntryArray packs entries (name, nameIndex, value) back-to-back,
// each padded to ext.XAttrRound, with every value placed immediately
// after the padded entry array ends — a layout choice this test makes
// for simplicity, not something the on-disk format requires.
func buildEntryArray(t *testing.T, entries []struct {
	name      string
	nameIndex uint8
	value     []byte
}) []byte {
	t.Helper()
	entryBytes := make([]byte, 0, 256)
	for _, e := range entries {
		hdr := ext.XAttrEntry{
			NameLength: binstruct.U8(len(e.name)),
			NameIndex:  binstruct.U8(e.nameIndex),
		}
		hb, err := binstruct.Marshal(&hdr)
		require.NoError(t, err)
		entryBytes = append(entryBytes, hb...)
		entryBytes = append(entryBytes, []byte(e.name)...)
		stride := (ext.XAttrEntryHeaderSize + len(e.name) + ext.XAttrRound) &^ ext.XAttrRound
		pad := stride - (ext.XAttrEntryHeaderSize + len(e.name))
		for i := 0; i < pad; i++ {
			entryBytes = append(entryBytes, 0)
		}
	}
	// terminator entry (all zero) big enough to be read as a header
	entryBytes = append(entryBytes, make([]byte, ext.XAttrEntryHeaderSize)...)

	valueBase := len(entryBytes)
	valueBytes := make([]byte, 0, 64)
	offsets := make([]int, len(entries))
	for i, e := range entries {
		offsets[i] = valueBase + len(valueBytes)
		valueBytes = append(valueBytes, e.value...)
	}

	region := append(entryBytes, valueBytes...)

	// patch each entry's ValueOffset/ValueSize now that offsets are known
	off := 0
	for i, e := range entries {
		var hdr ext.XAttrEntry
		_, err := binstruct.Unmarshal(region[off:off+ext.XAttrEntryHeaderSize], &hdr)
		require.NoError(t, err)
		hdr.ValueOffset = binstruct.U16le(offsets[i])
		hdr.ValueSize = binstruct.U32le(len(e.value))
		hb, err := binstruct.Marshal(&hdr)
		require.NoError(t, err)
		copy(region[off:off+ext.XAttrEntryHeaderSize], hb)
		stride := (ext.XAttrEntryHeaderSize + len(e.name) + ext.XAttrRound) &^ ext.XAttrRound
		off += stride
	}
	return region
}

func buildInlineRegion(t *testing.T, entries []struct {
	name      string
	nameIndex uint8
	value     []byte
}) []byte {
	t.Helper()
	magic := make([]byte, 4)
	binary.LittleEndian.PutUint32(magic, ext.XAttrMagic)
	return append(magic, buildEntryArray(t, entries)...)
}

func buildExternalRegion(t *testing.T, entries []struct {
	name      string
	nameIndex uint8
	value     []byte
}) []byte {
	t.Helper()
	hdr := ext.XAttrHeader{
		Magic:    binstruct.U32le(ext.XAttrMagic),
		RefCount: binstruct.U32le(1),
		Blocks:   binstruct.U32le(1),
	}
	hb, err := binstruct.Marshal(&hdr)
	require.NoError(t, err)
	return append(hb, buildEntryArray(t, entries)...)
}

func TestEngineGetFromInlineRegion(t *testing.T) {
	region := buildInlineRegion(t, []struct {
		name      string
		nameIndex uint8
		value     []byte
	}{
		{name: "comment", nameIndex: ext.XAttrIndexUser, value: []byte("hello world")},
	})
	e := &Engine{Source: Source{Inline: region}}

	v, found, err := e.Get("linux.user.comment")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello world", string(v))

	_, found, err = e.Get("linux.user.missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngineGetFromExternalBlock(t *testing.T) {
	region := buildExternalRegion(t, []struct {
		name      string
		nameIndex uint8
		value     []byte
	}{
		{name: "capability", nameIndex: ext.XAttrIndexSecurity, value: []byte{1, 2, 3, 4}},
	})
	e := &Engine{Source: Source{External: region}}

	v, found, err := e.Get("linux.6.capability")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte{1, 2, 3, 4}, v)
}

func TestEngineGetPrefersInlineOverExternal(t *testing.T) {
	inline := buildInlineRegion(t, []struct {
		name      string
		nameIndex uint8
		value     []byte
	}{
		{name: "x", nameIndex: ext.XAttrIndexUser, value: []byte("inline")},
	})
	external := buildExternalRegion(t, []struct {
		name      string
		nameIndex uint8
		value     []byte
	}{
		{name: "x", nameIndex: ext.XAttrIndexUser, value: []byte("external")},
	})
	e := &Engine{Source: Source{Inline: inline, External: external}}

	v, found, err := e.Get("linux.user.x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "inline", string(v))
}

func TestEngineListAcrossBothRegions(t *testing.T) {
	inline := buildInlineRegion(t, []struct {
		name      string
		nameIndex uint8
		value     []byte
	}{
		{name: "a", nameIndex: ext.XAttrIndexUser, value: []byte("1")},
	})
	external := buildExternalRegion(t, []struct {
		name      string
		nameIndex uint8
		value     []byte
	}{
		{name: "b", nameIndex: ext.XAttrIndexTrusted, value: []byte("2")},
	})
	e := &Engine{Source: Source{Inline: inline, External: external}}

	names, err := e.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"linux.user.a", "linux.4.b"}, names)
}

func TestSplitNameRoundTripsNamespacedName(t *testing.T) {
	idx, raw, ok := splitName("linux.user.foo")
	require.True(t, ok)
	assert.Equal(t, ext.XAttrIndexUser, idx)
	assert.Equal(t, "foo", raw)

	idx, raw, ok = splitName("linux.7.bar")
	require.True(t, ok)
	assert.EqualValues(t, 7, idx)
	assert.Equal(t, "bar", raw)

	_, _, ok = splitName("not-namespaced")
	assert.False(t, ok)
}
