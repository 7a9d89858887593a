package dir

import (
	"github.com/vnodefs/vnodefs/internal/binstruct"
	oiso "github.com/vnodefs/vnodefs/ondisk/iso9660"
)

// rockRidgeInfo is what parseSystemUseArea extracts from a directory
// record's System Use Area: the assembled alternate name (from one or
// more chained "NM" entries), the POSIX mode/links/uid/gid from a "PX"
// entry, and the symlink target assembled from a "SL" entry's
// component chain. Grounded on r5/iso.h's RRAttr struct, which tracks
// the same three pieces of parsed state (nmVer/slName, pxVer/stat,
// slVer) per directory entry.
type rockRidgeInfo struct {
	hasName bool
	name    string

	hasPosix bool
	posix    oiso.PosixAttributes

	hasSymlink      bool
	symlink         string
	symlinkContinue bool
}

// maxContinuationHops bounds how many "CE" continuation entries
// parseSystemUseArea will chase before giving up, guarding against a
// corrupt or cyclic continuation chain.
const maxContinuationHops = 8

// parseSystemUseArea walks the Rock Ridge / SUSP entry chain starting
// at area (the bytes immediately following a directory record's padded
// file identifier), following "CE" continuation entries into the block
// cache via get when the chain spills into another sector.
func parseSystemUseArea(area []byte, get func(block int64) ([]byte, error)) rockRidgeInfo {
	var info rockRidgeInfo
	var nameContinuing bool

	for hops := 0; ; hops++ {
		next := scanOneArea(area, &info, &nameContinuing)
		if next == nil {
			return info
		}
		if hops >= maxContinuationHops || get == nil {
			return info
		}
		buf, err := get(next.block)
		if err != nil || int(next.offset)+int(next.length) > len(buf) {
			return info
		}
		area = buf[next.offset : next.offset+next.length]
	}
}

type continuation struct {
	block, offset, length int64
}

// HasRockRidgeIndicator scans a single System Use Area (expected to be
// the root directory's "." record, which SUSP requires carry the
// extension-indicator entries if any extension is in use) for an "SP"
// sharing-protocol indicator or an "ER" extension-identifier entry,
// either being enough to turn Rock Ridge decoding on for the volume.
func HasRockRidgeIndicator(area []byte) bool {
	pos := 0
	for pos+oiso.SystemUseEntryHeaderSize <= len(area) {
		var hdr oiso.SystemUseEntryHeader
		if _, err := binstruct.Unmarshal(area[pos:pos+oiso.SystemUseEntryHeaderSize], &hdr); err != nil {
			return false
		}
		length := int(hdr.Length)
		if length < oiso.SystemUseEntryHeaderSize || pos+length > len(area) {
			return false
		}
		switch string(hdr.Signature[:]) {
		case oiso.SignatureSharingProto, oiso.SignatureExtensionRef:
			return true
		case oiso.SignatureTerminator:
			return false
		}
		pos += length
	}
	return false
}

// scanOneArea scans one contiguous System Use Area (either the tail of
// a directory record, or the payload a "CE" entry points at), updating
// info as it goes and returning a non-nil *continuation when a "CE"
// entry redirects the scan elsewhere.
func scanOneArea(area []byte, info *rockRidgeInfo, nameContinuing *bool) *continuation {
	pos := 0
	for pos+oiso.SystemUseEntryHeaderSize <= len(area) {
		var hdr oiso.SystemUseEntryHeader
		if _, err := binstruct.Unmarshal(area[pos:pos+oiso.SystemUseEntryHeaderSize], &hdr); err != nil {
			return nil
		}
		length := int(hdr.Length)
		if length < oiso.SystemUseEntryHeaderSize || pos+length > len(area) {
			return nil
		}
		payload := area[pos+oiso.SystemUseEntryHeaderSize : pos+length]
		sig := string(hdr.Signature[:])

		switch sig {
		case oiso.SignatureTerminator:
			return nil

		case oiso.SignatureAltName:
			if len(payload) >= 1 {
				flags := payload[0]
				text := string(payload[1:])
				switch {
				case flags&oiso.AltNameFlagCurrent != 0:
					info.name, info.hasName = ".", true
					*nameContinuing = false
				case flags&oiso.AltNameFlagParent != 0:
					info.name, info.hasName = "..", true
					*nameContinuing = false
				default:
					if *nameContinuing {
						info.name += text
					} else {
						info.name = text
					}
					info.hasName = true
					*nameContinuing = flags&oiso.AltNameFlagContinue != 0
				}
			}

		case oiso.SignaturePosixAttrs:
			pxSize := binstruct.StaticSize(oiso.PosixAttributes{})
			if len(payload) >= pxSize {
				var px oiso.PosixAttributes
				if _, err := binstruct.Unmarshal(payload[:pxSize], &px); err == nil {
					info.posix, info.hasPosix = px, true
				}
			}

		case oiso.SignatureSymlink:
			target, continues := decodeSymlinkPayload(payload)
			if info.symlinkContinue {
				info.symlink += target
			} else {
				info.symlink = target
			}
			info.hasSymlink = true
			info.symlinkContinue = continues

		case oiso.SignatureContinuation:
			if len(payload) >= 24 {
				return &continuation{
					block:  readBothEndianLow32(payload[0:8]),
					offset: readBothEndianLow32(payload[8:16]),
					length: readBothEndianLow32(payload[16:24]),
				}
			}
		}
		pos += length
	}
	return nil
}

// decodeSymlinkPayload turns an "SL" entry's payload (a 1-byte overall
// flags byte followed by a chain of (flags, length, text) component
// records) into the slash-joined path fragment this entry contributes,
// plus whether the overall entry's continue bit asks the next "SL"
// entry to be appended without a separating slash.
func decodeSymlinkPayload(payload []byte) (string, bool) {
	if len(payload) < 1 {
		return "", false
	}
	entryFlags := payload[0]
	pos := 1
	var parts []string
	for pos+2 <= len(payload) {
		flags := payload[pos]
		clen := int(payload[pos+1])
		pos += 2
		switch {
		case flags&oiso.SymlinkFlagRoot != 0:
			parts = append(parts, "")
		case flags&oiso.SymlinkFlagCurrent != 0:
			parts = append(parts, ".")
		case flags&oiso.SymlinkFlagParent != 0:
			parts = append(parts, "..")
		default:
			if pos+clen > len(payload) {
				clen = len(payload) - pos
			}
			parts = append(parts, string(payload[pos:pos+clen]))
			pos += clen
		}
	}
	return joinSlash(parts), entryFlags&oiso.SymlinkFlagContinue != 0
}

func joinSlash(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

// readBothEndianLow32 reads the little-endian half of an ECMA-119
// both-endian 32-bit field (ECMA-119 §7.3): the same convention
// binstruct.BothEndian32 decodes, reimplemented here since a "CE"
// entry's three both-endian fields aren't a fixed Go struct (they sit
// inside a variable-length SUSP payload rather than a binstruct tag).
func readBothEndianLow32(dat []byte) int64 {
	return int64(dat[0]) | int64(dat[1])<<8 | int64(dat[2])<<16 | int64(dat[3])<<24
}
