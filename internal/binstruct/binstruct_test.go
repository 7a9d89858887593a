package binstruct_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnodefs/vnodefs/internal/binstruct"
)

type simpleHeader struct {
	Magic   binstruct.U32le `bin:"off=0,siz=4"`
	Flags   binstruct.U16be `bin:"off=4,siz=2"`
	Reserved [2]byte        `bin:"off=6,siz=2"`
	End     binstruct.End   `bin:"off=8,siz=0"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := simpleHeader{Magic: 0xDEADBEEF, Flags: 0x1234}
	dat, err := binstruct.Marshal(in)
	require.NoError(t, err)
	require.Len(t, dat, 8)

	var out simpleHeader
	n, err := binstruct.Unmarshal(dat, &out)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, in.Magic, out.Magic)
	assert.Equal(t, in.Flags, out.Flags)
}

func TestLittleEndianByteOrder(t *testing.T) {
	var v binstruct.U32le = 0x01020304
	dat, err := binstruct.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, dat)
}

func TestBigEndianByteOrder(t *testing.T) {
	var v binstruct.U32be = 0x01020304
	dat, err := binstruct.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, dat)
}

func TestBothEndian32RoundTrip(t *testing.T) {
	v := binstruct.BothEndian32{Val: 0x11223344}
	dat, err := binstruct.Marshal(v)
	require.NoError(t, err)
	require.Len(t, dat, 8)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, dat[0:4])
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, dat[4:8])

	var out binstruct.BothEndian32
	n, err := binstruct.Unmarshal(dat, &out)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, v.Val, out.Val)
}

func TestBothEndian16RoundTrip(t *testing.T) {
	v := binstruct.BothEndian16{Val: 0xABCD}
	dat, err := binstruct.Marshal(v)
	require.NoError(t, err)
	require.Len(t, dat, 4)

	var out binstruct.BothEndian16
	_, err = binstruct.Unmarshal(dat, &out)
	require.NoError(t, err)
	assert.Equal(t, v.Val, out.Val)
}

func TestStaticSizeOfStruct(t *testing.T) {
	assert.Equal(t, 8, binstruct.StaticSize(simpleHeader{}))
}

func TestUnmarshalShortBufferErrors(t *testing.T) {
	var out simpleHeader
	_, err := binstruct.Unmarshal([]byte{1, 2, 3}, &out)
	assert.Error(t, err)
}

func TestArrayMarshalUnmarshal(t *testing.T) {
	in := [3]binstruct.U16le{1, 2, 3}
	dat, err := binstruct.Marshal(in)
	require.NoError(t, err)
	require.Len(t, dat, 6)

	var out [3]binstruct.U16le
	n, err := binstruct.Unmarshal(dat, &out)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, in, out)
}

func TestMalformedStructTagPanics(t *testing.T) {
	type badOffset struct {
		A binstruct.U32le `bin:"off=1,siz=4"`
		E binstruct.End   `bin:"off=4,siz=0"`
	}
	assert.Panics(t, func() {
		binstruct.StaticSize(badOffset{})
	})
}
