package dir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vnodefs/vnodefs/ondisk/ext"
)

func TestHashNameClearsBottomBit(t *testing.T) {
	seed := [4]uint32{1, 2, 3, 4}
	for _, version := range []uint8{
		ext.HashVersionLegacy,
		ext.HashVersionHalfMD4,
		ext.HashVersionTea,
	} {
		h := HashName(version, "some-file-name.txt", seed)
		assert.Zero(t, h&1, "version %d produced an odd hash", version)
	}
}

func TestHashNameIsDeterministic(t *testing.T) {
	seed := [4]uint32{0xdead, 0xbeef, 0xcafe, 0xf00d}
	a := HashName(ext.HashVersionHalfMD4, "readme.md", seed)
	b := HashName(ext.HashVersionHalfMD4, "readme.md", seed)
	assert.Equal(t, a, b)
}

func TestHashNameDiffersByAlgorithm(t *testing.T) {
	seed := [4]uint32{1, 2, 3, 4}
	legacy := HashName(ext.HashVersionLegacy, "file.txt", seed)
	halfMD4 := HashName(ext.HashVersionHalfMD4, "file.txt", seed)
	tea := HashName(ext.HashVersionTea, "file.txt", seed)
	assert.NotEqual(t, legacy, halfMD4)
	assert.NotEqual(t, halfMD4, tea)
	assert.NotEqual(t, legacy, tea)
}

func TestHashNameSensitiveToSeed(t *testing.T) {
	a := HashName(ext.HashVersionHalfMD4, "same-name", [4]uint32{1, 1, 1, 1})
	b := HashName(ext.HashVersionHalfMD4, "same-name", [4]uint32{2, 2, 2, 2})
	assert.NotEqual(t, a, b)
}

func TestHashNameEmptyAndLongNames(t *testing.T) {
	seed := [4]uint32{1, 2, 3, 4}
	assert.NotPanics(t, func() {
		HashName(ext.HashVersionLegacy, "", seed)
		HashName(ext.HashVersionHalfMD4, "", seed)
		HashName(ext.HashVersionTea, "", seed)
	})
	long := make([]byte, 255)
	for i := range long {
		long[i] = 'a'
	}
	assert.NotPanics(t, func() {
		HashName(ext.HashVersionHalfMD4, string(long), seed)
		HashName(ext.HashVersionTea, string(long), seed)
	})
}
