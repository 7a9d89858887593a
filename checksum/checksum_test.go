package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32CKnownVector(t *testing.T) {
	// "123456789" is the standard CRC-32C/Castagnoli check vector.
	got := CRC32C([]byte("123456789"))
	assert.Equal(t, uint32(0xE3069283), got)
}

func TestCRC16Deterministic(t *testing.T) {
	a := CRC16(0, []byte("block-group-descriptor"))
	b := CRC16(0, []byte("block-group-descriptor"))
	assert.Equal(t, a, b)
	c := CRC16(0, []byte("different"))
	assert.NotEqual(t, a, c)
}

func TestHashBottomBitAlwaysClear(t *testing.T) {
	var seed [4]uint32
	for _, v := range []HashVersion{HashLegacy, HashHalfMD4, HashTEA} {
		h := Hash(v, seed, []byte("some-directory-entry"))
		assert.Zero(t, h&1, "version %v must clear the collision bit", v)
	}
}

func TestHashDeterministicAndSeedSensitive(t *testing.T) {
	nameA := []byte("alpha.txt")
	seed1 := [4]uint32{1, 2, 3, 4}
	seed2 := [4]uint32{5, 6, 7, 8}
	h1 := Hash(HashHalfMD4, seed1, nameA)
	h2 := Hash(HashHalfMD4, seed1, nameA)
	assert.Equal(t, h1, h2)
	h3 := Hash(HashHalfMD4, seed2, nameA)
	assert.NotEqual(t, h1, h3)

	t1 := Hash(HashTEA, seed1, nameA)
	t2 := Hash(HashTEA, seed2, nameA)
	assert.NotEqual(t, t1, t2)
}

func TestBtrfsNameHashDeterministic(t *testing.T) {
	a := BtrfsNameHash([]byte("file.txt"))
	b := BtrfsNameHash([]byte("file.txt"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, BtrfsNameHash([]byte("other.txt")))
}
