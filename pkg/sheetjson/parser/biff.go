package parser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// BIFF8 record identifiers.
const (
	recFormula       = 0x0006
	recEOF           = 0x000A
	recDateMode      = 0x0022
	recFilePass      = 0x002F
	recContinue      = 0x003C
	recObj           = 0x005D
	recBoundSheet    = 0x0085
	recMulRK         = 0x00BD
	recMulBlank      = 0x00BE
	recXF            = 0x00E0
	recMergedCells   = 0x00E5
	recDrawingGroup  = 0x00EB
	recDrawing       = 0x00EC
	recSST           = 0x00FC
	recLabelSST      = 0x00FD
	recBlank         = 0x0201
	recNumber        = 0x0203
	recLabel         = 0x0204
	recBoolErr       = 0x0205
	recString        = 0x0207
	recRK            = 0x027E
	recFormat        = 0x041E
	recBOF           = 0x0809
	biff8Version     = 0x0600
	bofWorkbookGlobs = 0x0005
)

var errShortRecord = errors.New("record too short")

// biffRecord is one record with the payloads of the CONTINUE records that
// follow it.
type biffRecord struct {
	code  uint16
	data  []byte
	conts [][]byte
}

// joined returns the record payload with its continuations appended.
func (r biffRecord) joined() []byte {
	if len(r.conts) == 0 {
		return r.data
	}
	n := len(r.data)
	for _, c := range r.conts {
		n += len(c)
	}
	out := make([]byte, 0, n)
	out = append(out, r.data...)
	for _, c := range r.conts {
		out = append(out, c...)
	}
	return out
}

type biffReader struct {
	buf []byte
	pos int
}

func newBIFFReader(buf []byte, offset int) *biffReader {
	return &biffReader{buf: buf, pos: offset}
}

func (r *biffReader) header() (uint16, []byte, bool) {
	if r.pos+4 > len(r.buf) {
		return 0, nil, false
	}
	code := binary.LittleEndian.Uint16(r.buf[r.pos:])
	size := int(binary.LittleEndian.Uint16(r.buf[r.pos+2:]))
	if r.pos+4+size > len(r.buf) {
		return 0, nil, false
	}
	return code, r.buf[r.pos+4 : r.pos+4+size], true
}

// next returns the next record, or false at the end of the stream.
func (r *biffReader) next() (biffRecord, bool) {
	code, data, ok := r.header()
	if !ok {
		return biffRecord{}, false
	}
	r.pos += 4 + len(data)
	rec := biffRecord{code: code, data: data}
	for {
		code, data, ok := r.header()
		if !ok || code != recContinue {
			break
		}
		r.pos += 4 + len(data)
		rec.conts = append(rec.conts, data)
	}
	return rec, true
}

// segmentReader reads across a record and its CONTINUE segments. Character
// data that crosses a segment boundary restarts with a fresh option byte.
type segmentReader struct {
	segs [][]byte
	seg  int
	pos  int
}

func newSegmentReader(rec biffRecord) *segmentReader {
	segs := make([][]byte, 0, 1+len(rec.conts))
	segs = append(segs, rec.data)
	segs = append(segs, rec.conts...)
	return &segmentReader{segs: segs}
}

func (r *segmentReader) advance() bool {
	for r.seg < len(r.segs) && r.pos >= len(r.segs[r.seg]) {
		r.seg++
		r.pos = 0
	}
	return r.seg < len(r.segs)
}

func (r *segmentReader) bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if !r.advance() {
			return nil, errShortRecord
		}
		seg := r.segs[r.seg]
		k := min(n-len(out), len(seg)-r.pos)
		out = append(out, seg[r.pos:r.pos+k]...)
		r.pos += k
	}
	return out, nil
}

func (r *segmentReader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func (r *segmentReader) u8() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *segmentReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *segmentReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// chars decodes n characters that start in the current segment.
func (r *segmentReader) chars(n int, wide bool) (string, error) {
	var sb strings.Builder
	for n > 0 {
		if r.pos >= len(r.segs[r.seg]) {
			r.seg++
			r.pos = 0
			if r.seg >= len(r.segs) || len(r.segs[r.seg]) == 0 {
				return "", errShortRecord
			}
			wide = r.segs[r.seg][0]&0x01 != 0
			r.pos = 1
		}
		seg := r.segs[r.seg]
		width := 1
		if wide {
			width = 2
		}
		k := min(n, (len(seg)-r.pos)/width)
		if k == 0 {
			return "", errShortRecord
		}
		raw := seg[r.pos : r.pos+k*width]
		r.pos += k * width
		n -= k
		if wide {
			sb.WriteString(decodeUTF16(raw))
		} else {
			sb.WriteString(decodeLatin1(raw))
		}
	}
	return sb.String(), nil
}

// unicodeString reads an XLUnicodeRichExtendedString with a length prefix
// of lenSize bytes, skipping rich text runs and phonetic data.
func (r *segmentReader) unicodeString(lenSize int) (string, error) {
	var n int
	if lenSize == 1 {
		b, err := r.u8()
		if err != nil {
			return "", err
		}
		n = int(b)
	} else {
		v, err := r.u16()
		if err != nil {
			return "", err
		}
		n = int(v)
	}
	opts, err := r.u8()
	if err != nil {
		return "", err
	}
	var runs, phonetic int
	if opts&0x08 != 0 {
		v, err := r.u16()
		if err != nil {
			return "", err
		}
		runs = int(v)
	}
	if opts&0x04 != 0 {
		v, err := r.u32()
		if err != nil {
			return "", err
		}
		phonetic = int(v)
	}
	s := ""
	if n > 0 {
		// chars switches segments itself when the character data starts in
		// the next CONTINUE, which then leads with its own option byte.
		if s, err = r.chars(n, opts&0x01 != 0); err != nil {
			return "", err
		}
	}
	if err := r.skip(runs*4 + phonetic); err != nil {
		return "", err
	}
	return s, nil
}

func decodeUTF16(b []byte) string {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(words))
}

func decodeLatin1(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// readSST decodes the shared string table.
func readSST(rec biffRecord) ([]string, error) {
	r := newSegmentReader(rec)
	if err := r.skip(4); err != nil {
		return nil, err
	}
	unique, err := r.u32()
	if err != nil {
		return nil, err
	}
	// Bound the preallocation; the count comes from the file.
	strs := make([]string, 0, min(int(unique), 1<<16))
	for i := 0; i < int(unique); i++ {
		s, err := r.unicodeString(2)
		if err != nil {
			return strs, fmt.Errorf("shared string %d: %w", i, err)
		}
		strs = append(strs, s)
	}
	return strs, nil
}

// decodeRK decodes an RK number: an int30 or the high 30 bits of a double,
// optionally scaled by 1/100.
func decodeRK(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

// cellHeader reads the row, column and XF index that start every cell
// record.
func cellHeader(data []byte) (row, col, xf int, err error) {
	if len(data) < 6 {
		return 0, 0, 0, errShortRecord
	}
	return int(binary.LittleEndian.Uint16(data)),
		int(binary.LittleEndian.Uint16(data[2:])),
		int(binary.LittleEndian.Uint16(data[4:])), nil
}
