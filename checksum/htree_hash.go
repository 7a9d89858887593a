package checksum

import "encoding/binary"

// HashVersion selects one of the three Ext4 HTree directory-hash
// functions (spec.md §4.4 "Hashing", §6 "Ext3 hash versions").
type HashVersion uint8

const (
	HashLegacy  HashVersion = 0
	HashHalfMD4 HashVersion = 1
	HashTEA     HashVersion = 2
)

// Hash computes the directory-entry hash for name under the given
// version and with the given 4-word secret (the superblock's
// s_hash_seed; all-zero is valid and used by volumes that never set a
// seed). The bottom bit of the result is always cleared: it is reserved
// to mark "this hash collides into the next directory block" (spec.md
// §4.4).
func Hash(version HashVersion, seed [4]uint32, name []byte) uint32 {
	var h uint32
	switch version {
	case HashLegacy:
		h = legacyHash(name)
	case HashHalfMD4:
		h = halfMD4Hash(seed, name)
	case HashTEA:
		h = teaHash(seed, name)
	default:
		h = legacyHash(name)
	}
	return h &^ 1
}

// legacyHash is the original Ext2 linear-congruential directory hash.
func legacyHash(name []byte) uint32 {
	var hash, hash0 uint32 = 0x12a3fe2d, 0x37abe8f9
	for _, c := range name {
		hash1 := hash0 + (hash^uint32(int8(c)))*7152373
		if hash1&0x80000000 != 0 {
			hash1 -= 0x7fffffff
		}
		hash0 = hash
		hash = hash1
	}
	return hash << 1
}

// padName pads name to a multiple of 4 bytes and appends the name's
// length to the last chunk's first slot, matching the padding scheme
// the original Ext4 TEA/half-MD4 hashes use so two names of different
// length never collapse to the same byte stream.
func padName(name []byte) []uint32 {
	padded := make([]byte, ((len(name)+3)/4)*4)
	if len(padded) == 0 {
		padded = make([]byte, 4)
	}
	copy(padded, name)
	words := make([]uint32, len(padded)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(padded[i*4:])
	}
	return words
}

// --- half-MD4 -------------------------------------------------------------

// halfMD4Hash runs the MD4 compression round functions over 8-word (32
// byte) chunks of the padded name, returning the second output word
// (spec.md §4.4: "returns the second output word").
func halfMD4Hash(seed [4]uint32, name []byte) uint32 {
	buf := [4]uint32{seed[0], seed[1], seed[2], seed[3]}
	words := padName(name)
	for len(words) > 0 {
		var in [8]uint32
		n := copy(in[:], words)
		for i := n; i < 8; i++ {
			in[i] = 0
		}
		halfMD4Transform(&buf, in)
		if len(words) <= 8 {
			break
		}
		words = words[8:]
	}
	return buf[1]
}

func md4F(x, y, z uint32) uint32 { return z ^ (x & (y ^ z)) }
func md4G(x, y, z uint32) uint32 { return (x & y) | (x & z) | (y & z) }
func md4H(x, y, z uint32) uint32 { return x ^ y ^ z }

func rol32(x uint32, n uint) uint32 { return (x << n) | (x >> (32 - n)) }

// halfMD4Transform applies the three MD4 rounds (F, G, H) to buf using
// the 8 input words in, the scheme Ext4's half_md4_transform uses for
// directory hashing (a truncated MD4 that only ever processes one
// 32-byte block per call, with no final-length padding).
func halfMD4Transform(buf *[4]uint32, in [8]uint32) {
	a, b, c, d := buf[0], buf[1], buf[2], buf[3]

	round1 := func(a, b, c, d, k uint32, s uint) uint32 {
		return rol32(a+md4F(b, c, d)+in[k], s)
	}
	a = round1(a, b, c, d, 0, 3)
	d = round1(d, a, b, c, 1, 7)
	c = round1(c, d, a, b, 2, 11)
	b = round1(b, c, d, a, 3, 19)
	a = round1(a, b, c, d, 4, 3)
	d = round1(d, a, b, c, 5, 7)
	c = round1(c, d, a, b, 6, 11)
	b = round1(b, c, d, a, 7, 19)

	const sqrt2 = 0x5a827999
	round2 := func(a, b, c, d, k uint32, s uint) uint32 {
		return rol32(a+md4G(b, c, d)+in[k]+sqrt2, s)
	}
	a = round2(a, b, c, d, 0, 3)
	d = round2(d, a, b, c, 4, 5)
	c = round2(c, d, a, b, 1, 9)
	b = round2(b, c, d, a, 5, 13)
	a = round2(a, b, c, d, 2, 3)
	d = round2(d, a, b, c, 6, 5)
	c = round2(c, d, a, b, 3, 9)
	b = round2(b, c, d, a, 7, 13)

	const sqrt3 = 0x6ed9eba1
	round3 := func(a, b, c, d, k uint32, s uint) uint32 {
		return rol32(a+md4H(b, c, d)+in[k]+sqrt3, s)
	}
	a = round3(a, b, c, d, 0, 3)
	d = round3(d, a, b, c, 2, 9)
	c = round3(c, d, a, b, 1, 11)
	b = round3(b, c, d, a, 3, 15)
	a = round3(a, b, c, d, 4, 3)
	d = round3(d, a, b, c, 6, 9)
	c = round3(c, d, a, b, 5, 11)
	b = round3(b, c, d, a, 7, 15)

	buf[0] += a
	buf[1] += b
	buf[2] += c
	buf[3] += d
}

// --- TEA --------------------------------------------------------------

const teaDelta = 0x9E3779B9

// teaHash runs 16 rounds of classic TEA over 16-byte (4-word) chunks of
// the padded name, returning the first output word (spec.md §4.4).
func teaHash(seed [4]uint32, name []byte) uint32 {
	buf := [2]uint32{seed[0], seed[1]}
	words := padName(name)
	for len(words) > 0 {
		var in [4]uint32
		n := copy(in[:], words)
		for i := n; i < 4; i++ {
			in[i] = 0
		}
		teaTransform(&buf, in)
		if len(words) <= 4 {
			break
		}
		words = words[4:]
	}
	return buf[0]
}

func teaTransform(buf *[2]uint32, in [4]uint32) {
	a, b := in[0], in[1]
	c, d := in[2], in[3]
	sum0, sum1 := buf[0], buf[1]

	var sum uint32
	for i := 0; i < 16; i++ {
		sum += teaDelta
		sum0 += ((sum1 << 4) + a) ^ (sum1 + sum) ^ ((sum1 >> 5) + b)
		sum1 += ((sum0 << 4) + c) ^ (sum0 + sum) ^ ((sum0 >> 5) + d)
	}

	buf[0] = sum0
	buf[1] = sum1
}
