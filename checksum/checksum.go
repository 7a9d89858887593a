// Package checksum implements the small family of checksums and hashes
// the on-disk formats need: CRC-16 for Ext2/3/4 block-group descriptors,
// CRC-32C for Btrfs/Ext4 metadata and journal blocks, and the two Ext4
// directory-hash functions (half-MD4, TEA) used by HTree (spec.md §4.4,
// §4.6, §6). Modelled on the teacher's btrfssum.CSum (a fixed checksum
// value type with hex String/Format), generalized to the non-CRC32C
// algorithms the Ext side needs.
package checksum

import (
	"hash/crc32"
)

// crc32cTable is the Castagnoli polynomial table, same polynomial Btrfs
// and Ext4 metadata checksums both use.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the Castagnoli CRC-32 of data, matching both Btrfs node
// checksums (spec.md §3 "Tree node") and Ext4's metadata_csum feature.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// CRC32CWithSeed extends a running CRC-32C, used when a checksum covers a
// UUID or other seed material ahead of the payload (spec.md §3
// "Supplemented features": group-descriptor checksum seeded with the
// volume UUID).
func CRC32CWithSeed(seed uint32, data []byte) uint32 {
	return crc32.Update(seed, crc32cTable, data)
}

// crc16Table is the CRC-16/ARC polynomial (0xA001 reflected), the
// variant Ext2's block-group descriptor checksum (bg_checksum, the
// "standard" non-metadata_csum path of spec.md §4.5.2) uses.
var crc16Table = makeCRC16Table(0xA001)

func makeCRC16Table(poly uint16) [256]uint16 {
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 computes the CRC-16 used by Ext2's per-group descriptor checksum.
func CRC16(seed uint16, data []byte) uint16 {
	crc := seed
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[byte(crc)^b]
	}
	return crc
}

// BtrfsNameHash computes the CRC-32C of a directory entry's name with the
// fixed seed ~1 that Btrfs uses to key DIR_ITEM/DIR_INDEX/XATTR_ITEM
// entries (spec.md §4.4 "Btrfs directory lookup", §8 scenario 6).
// Btrfs runs the raw CRC from seed ~1 with no inversion on either end;
// crc32.Update inverts both its input and its result, so that raw CRC
// is ^crc32.Update(1, ...).
func BtrfsNameHash(name []byte) uint32 {
	return ^crc32.Update(1, crc32cTable, name)
}
