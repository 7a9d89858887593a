// Package dir implements the Ext2/3/4 directory engine (spec.md
// §4.4): the linear block-by-block iterator, the Ext4 HTree indexed
// lookup, insertion-with-split, removal, and the three supported hash
// algorithms.
//
// Grounded on original_source/ext2/HTree.cpp/.h for the hash
// algorithms' exact bit manipulation (legacy linear-congruential,
// half-MD4, TEA) and on btrfs/dir's Engine shape (name hash -> key
// lookup -> linear collision-chain scan) for the overall package
// layout, since both directory engines solve "hash a name, find the
// bucket, linearly disambiguate collisions" even though Ext's bucket
// is a block-indexed HTree node and Btrfs's is a B+-tree key range.
package dir

import "github.com/vnodefs/vnodefs/ondisk/ext"

// HashName dispatches to the algorithm named by version, clearing the
// bottom bit in every case (spec.md §4.4: "the bottom bit is cleared —
// it encodes collision carries into next block").
func HashName(version uint8, name string, seed [4]uint32) uint32 {
	var h uint32
	switch version {
	case ext.HashVersionLegacy, ext.HashVersionLegacyUnsigned:
		h = hashLegacy(name)
	case ext.HashVersionHalfMD4, ext.HashVersionHalfMD4Unsigned:
		h = hashHalfMD4(name, seed)
	case ext.HashVersionTea, ext.HashVersionTeaUnsigned:
		h = hashTea(name, seed)
	default:
		h = hashLegacy(name)
	}
	return h &^ 1
}

// hashLegacy is dx_hack_hash: a linear-congruential hash over the raw
// name bytes, carrying two running words and folding out the sign bit
// each step (spec.md §4.4 "LEGACY: a linear-congruential hash over the
// bytes"), grounded on original_source's dx_hack_hash.
func hashLegacy(name string) uint32 {
	hash0 := uint32(0x12a3fe2d)
	hash1 := uint32(0x37abe8f9)
	for _, c := range []byte(name) {
		h := hash1 + (hash0 ^ (uint32(c) * 7152373))
		if h&0x80000000 != 0 {
			h -= 0x7fffffff
		}
		hash1 = hash0
		hash0 = h
	}
	return hash0 << 1
}

// padTo32 returns name's bytes padded with repeats of the name's own
// length byte up to the next 32-byte boundary (spec.md §4.4's
// "32-byte chunks of the name padded with the name length").
func padTo32(name string) []byte {
	raw := []byte(name)
	n := len(raw)
	padded := n
	if padded%32 != 0 || padded == 0 {
		padded = ((padded / 32) + 1) * 32
	}
	buf := make([]byte, padded)
	copy(buf, raw)
	for i := n; i < padded; i++ {
		buf[i] = byte(n)
	}
	return buf
}

func bytesToWords(buf []byte) []uint32 {
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
	}
	return words
}

// hashHalfMD4 runs the MD4 compression round functions over 32-byte
// (8-word) chunks, returning the second of the two output words
// (spec.md §4.4 "HALF_MD4 ... returns the second output word").
func hashHalfMD4(name string, seed [4]uint32) uint32 {
	buf := padTo32(name)
	state := seed
	for chunk := 0; chunk < len(buf); chunk += 32 {
		words := bytesToWords(buf[chunk : chunk+32])
		state = halfMD4Transform(state, words)
	}
	return state[1]
}

func md4F(x, y, z uint32) uint32 { return z ^ (x & (y ^ z)) }
func md4G(x, y, z uint32) uint32 { return (x & y) + ((x ^ y) & z) }
func md4H(x, y, z uint32) uint32 { return x ^ y ^ z }

func rol32(x uint32, n uint) uint32 { return (x << n) | (x >> (32 - n)) }

const (
	halfMD4K2 uint32 = 0o13240474631
	halfMD4K3 uint32 = 0o15666365641
)

// halfMD4Transform runs one MD4 compression round over an 8-word (32
// byte) block against the running 4-word state, following the exact
// input-word and rotation schedule of the Ext4 directory hash's
// reduced MD4 variant (3 rounds of 8 steps each, the fourth MD4 round
// dropped — hence "half").
func halfMD4Transform(buf [4]uint32, in []uint32) [4]uint32 {
	a, b, c, d := buf[0], buf[1], buf[2], buf[3]

	round := func(f func(x, y, z uint32) uint32, a, b, c, d, x uint32, s uint, k uint32) uint32 {
		return rol32(a+f(b, c, d)+x+k, s)
	}

	// Round 1 (F), no additive constant.
	a = round(md4F, a, b, c, d, in[0], 3, 0)
	d = round(md4F, d, a, b, c, in[1], 7, 0)
	c = round(md4F, c, d, a, b, in[2], 11, 0)
	b = round(md4F, b, c, d, a, in[3], 19, 0)
	a = round(md4F, a, b, c, d, in[4], 3, 0)
	d = round(md4F, d, a, b, c, in[5], 7, 0)
	c = round(md4F, c, d, a, b, in[6], 11, 0)
	b = round(md4F, b, c, d, a, in[7], 19, 0)

	// Round 2 (G).
	a = round(md4G, a, b, c, d, in[1], 3, halfMD4K2)
	d = round(md4G, d, a, b, c, in[3], 5, halfMD4K2)
	c = round(md4G, c, d, a, b, in[5], 9, halfMD4K2)
	b = round(md4G, b, c, d, a, in[7], 13, halfMD4K2)
	a = round(md4G, a, b, c, d, in[0], 3, halfMD4K2)
	d = round(md4G, d, a, b, c, in[2], 5, halfMD4K2)
	c = round(md4G, c, d, a, b, in[4], 9, halfMD4K2)
	b = round(md4G, b, c, d, a, in[6], 13, halfMD4K2)

	// Round 3 (H).
	a = round(md4H, a, b, c, d, in[3], 3, halfMD4K3)
	d = round(md4H, d, a, b, c, in[7], 9, halfMD4K3)
	c = round(md4H, c, d, a, b, in[2], 11, halfMD4K3)
	b = round(md4H, b, c, d, a, in[6], 15, halfMD4K3)
	a = round(md4H, a, b, c, d, in[1], 3, halfMD4K3)
	d = round(md4H, d, a, b, c, in[5], 9, halfMD4K3)
	c = round(md4H, c, d, a, b, in[0], 11, halfMD4K3)
	b = round(md4H, b, c, d, a, in[4], 15, halfMD4K3)

	return [4]uint32{buf[0] + a, buf[1] + b, buf[2] + c, buf[3] + d}
}

// teaDelta is the classic TEA round delta.
const teaDelta uint32 = 0x9e3779b9

// hashTea runs 16 rounds of classic TEA over 16-byte (4-word) chunks,
// returning the first output word (spec.md §4.4 "TEA: 16 rounds ...
// returns the first output word").
func hashTea(name string, seed [4]uint32) uint32 {
	buf := padTo16(name)
	a, b := seed[0], seed[1]
	for chunk := 0; chunk < len(buf); chunk += 16 {
		words := bytesToWords(buf[chunk : chunk+16])
		a, b = teaRound(a, b, words)
	}
	return a
}

func padTo16(name string) []byte {
	raw := []byte(name)
	n := len(raw)
	padded := n
	if padded%16 != 0 || padded == 0 {
		padded = ((padded / 16) + 1) * 16
	}
	buf := make([]byte, padded)
	copy(buf, raw)
	for i := n; i < padded; i++ {
		buf[i] = byte(n)
	}
	return buf
}

func teaRound(a, b uint32, key []uint32) (uint32, uint32) {
	var sum uint32
	for i := 0; i < 16; i++ {
		sum += teaDelta
		a += ((b << 4) + key[0]) ^ (b + sum) ^ ((b >> 5) + key[1])
		b += ((a << 4) + key[2]) ^ (a + sum) ^ ((a >> 5) + key[3])
	}
	return a, b
}
