package dir

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// jolietDecoder is the bulk UCS-2BE-to-UTF-8 path (SPEC_FULL.md DOMAIN
// STACK: golang.org/x/text for the common case), reused across calls.
var jolietDecoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()

// decodeJolietName converts a Joliet directory identifier (UCS-2,
// big-endian, no terminating NUL) to UTF-8. It tries the x/text
// decoder first; if that ever rejects input x/text considers
// malformed (an unpaired surrogate, say), it falls back to the
// original_source iso9660.cpp `unicode_to_utf8` byte-length-case
// encoder directly, which only sees the raw 16-bit code unit and so
// never rejects anything, keeping this driver bit-compatible with the
// reference implementation's own Joliet reading (spec.md §9 "follow
// the explicit four-case encoding in the reviewed code").
func decodeJolietName(raw []byte) string {
	if out, err := jolietDecoder.Bytes(raw); err == nil {
		return string(out)
	}
	return unicodeToUTF8Fallback(raw)
}

// unicodeToUTF8Fallback re-expresses original_source iso9660.cpp's
// `unicode_to_utf8`: each UCS-2 big-endian code unit is independently
// re-encoded by byte-length case (1/2/3/4-byte UTF-8 sequences), with
// no surrogate-pair assembly, since the reference implementation never
// assembles surrogate pairs either — Joliet names are plain UCS-2, not
// UTF-16, so a code unit in 0xD800-0xDFFF is encoded as an ordinary
// (if technically unpaired-surrogate) 3-byte UTF-8 sequence exactly as
// the reference code does.
func unicodeToUTF8Fallback(raw []byte) string {
	var b strings.Builder
	for i := 0; i+1 < len(raw); i += 2 {
		c := uint32(raw[i])<<8 | uint32(raw[i+1])
		if c == 0 {
			break
		}
		switch {
		case c < 0x80:
			b.WriteByte(byte(c))
		case c < 0x800:
			b.WriteByte(byte(0xc0 | (c >> 6)))
			b.WriteByte(byte(0x80 | (c & 0x3f)))
		case c < 0x10000:
			b.WriteByte(byte(0xe0 | (c >> 12)))
			b.WriteByte(byte(0x80 | ((c >> 6) & 0x3f)))
			b.WriteByte(byte(0x80 | (c & 0x3f)))
		default:
			b.WriteByte(byte(0xf0 | (c >> 18)))
			b.WriteByte(byte(0x80 | ((c >> 12) & 0x3f)))
			b.WriteByte(byte(0x80 | ((c >> 6) & 0x3f)))
			b.WriteByte(byte(0x80 | (c & 0x3f)))
		}
	}
	return b.String()
}

// decodePlainName cleans up a plain (non-Joliet, non-Rock-Ridge) ISO
// d-character identifier: strips the ";<version>" suffix ECMA-119
// §7.5.1 requires on every file identifier, then the bare trailing dot
// a file with no extension is recorded with (e.g. "README." becomes
// "README" the way mkisofs-produced images are conventionally read).
func decodePlainName(raw []byte) string {
	name := string(raw)
	if i := strings.LastIndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	if strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}
