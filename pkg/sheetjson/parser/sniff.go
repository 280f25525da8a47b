package parser

import "bytes"

// Signatures checked by SniffExtension, in priority order.
var signatures = []struct {
	magic []byte
	ext   string
}{
	{[]byte("%PDF"), ".pdf"},
	{[]byte{0xFF, 0xD8, 0xFF}, ".jpg"},
	{[]byte{0x89, 0x50, 0x4E, 0x47}, ".png"},
	{[]byte("GIF8"), ".gif"},
	{[]byte{0xD0, 0xCF, 0x11, 0xE0}, ".doc"},
	// Any Office Open XML container starts with PK; .docx is the default.
	{[]byte("PK"), ".docx"},
}

// textProbeLen is how many leading bytes decide between .txt and .bin.
const textProbeLen = 100

// SniffExtension guesses a file extension from the payload's leading bytes.
func SniffExtension(data []byte) string {
	if len(data) < 4 {
		return ".bin"
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.ext
		}
	}
	if isText(data) {
		return ".txt"
	}
	return ".bin"
}

// isText accepts printable ASCII and the whitespace controls; any byte with
// the high bit set marks the payload as binary.
func isText(data []byte) bool {
	n := len(data)
	if n > textProbeLen {
		n = textProbeLen
	}
	for _, b := range data[:n] {
		if b < 0x09 || b >= 0x80 || (b > 0x0D && b < 0x20 && b != 0x1B) {
			return false
		}
	}
	return true
}
