package parser

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func le16(v int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func leFloat(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// record frames a BIFF record.
func record(code int, data []byte) []byte {
	return cat(le16(code), le16(len(data)), data)
}

// shortString is a compressed XLUnicodeString with an 8-bit length.
func shortString(s string) []byte {
	return cat([]byte{byte(len(s)), 0}, []byte(s))
}

// longString is a compressed XLUnicodeString with a 16-bit length.
func longString(s string) []byte {
	return cat(le16(len(s)), []byte{0}, []byte(s))
}

func TestBIFFReaderJoinsContinue(t *testing.T) {
	stream := cat(
		record(recSST, []byte{1, 2}),
		record(recContinue, []byte{3}),
		record(recContinue, []byte{4, 5}),
		record(recEOF, nil),
	)
	r := newBIFFReader(stream, 0)

	rec, ok := r.next()
	if !ok || rec.code != recSST {
		t.Fatalf("first record = %#x, %v", rec.code, ok)
	}
	if got := rec.joined(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("joined() = %v", got)
	}
	if len(rec.conts) != 2 {
		t.Errorf("conts = %d, expected 2", len(rec.conts))
	}
	rec, ok = r.next()
	if !ok || rec.code != recEOF {
		t.Fatalf("second record = %#x, %v", rec.code, ok)
	}
	if _, ok := r.next(); ok {
		t.Errorf("expected end of stream")
	}
}

func TestBIFFReaderTruncated(t *testing.T) {
	stream := cat(le16(recNumber), le16(14), []byte{1, 2, 3})
	if _, ok := newBIFFReader(stream, 0).next(); ok {
		t.Errorf("truncated record should not be returned")
	}
}

func TestReadSST(t *testing.T) {
	tests := []struct {
		name     string
		rec      biffRecord
		expected []string
	}{
		{
			name: "compressed strings",
			rec: biffRecord{data: cat(le32(2), le32(2),
				longString("Name"), longString("Total"))},
			expected: []string{"Name", "Total"},
		},
		{
			name: "wide string",
			rec: biffRecord{data: cat(le32(1), le32(1),
				le16(2), []byte{0x01}, le16(0x4E2D), le16(0x6587))},
			expected: []string{"中文"},
		},
		{
			name: "latin1",
			rec: biffRecord{data: cat(le32(1), le32(1),
				le16(4), []byte{0}, []byte{'c', 'a', 'f', 0xE9})},
			expected: []string{"café"},
		},
		{
			name: "characters continue wide",
			rec: biffRecord{
				data:  cat(le32(1), le32(1), le16(4), []byte{0}, []byte("de")),
				conts: [][]byte{cat([]byte{0x01}, le16('f'), le16('g'))},
			},
			expected: []string{"defg"},
		},
		{
			name: "characters start in continue",
			rec: biffRecord{
				data:  cat(le32(2), le32(2), longString("a"), le16(2), []byte{0}),
				conts: [][]byte{cat([]byte{0x01}, le16('h'), le16('i'))},
			},
			expected: []string{"a", "hi"},
		},
		{
			name: "rich text and phonetic data skipped",
			rec: biffRecord{data: cat(le32(2), le32(2),
				le16(2), []byte{0x0C}, le16(1), le32(3), []byte("ab"), make([]byte, 4), []byte{9, 9, 9},
				longString("c"))},
			expected: []string{"ab", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readSST(tt.rec)
			if err != nil {
				t.Fatalf("readSST() error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("readSST() = %q, expected %q", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("string %d = %q, expected %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestReadSSTTruncated(t *testing.T) {
	rec := biffRecord{data: cat(le32(2), le32(2), longString("ok"), le16(5), []byte{0}, []byte("ab"))}
	got, err := readSST(rec)
	if err == nil {
		t.Fatal("expected error for truncated string")
	}
	if len(got) != 1 || got[0] != "ok" {
		t.Errorf("strings before the failure = %q", got)
	}
}

func TestDecodeRK(t *testing.T) {
	neg := int32(-5)
	tests := []struct {
		rk       uint32
		expected float64
	}{
		{0x3FF00000, 1.0},
		{0x3FF00001, 0.01},
		{150<<2 | 0x02, 150},
		{12345<<2 | 0x03, 123.45},
		{uint32(neg<<2) | 0x02, -5},
		{45000<<2 | 0x02, 45000},
	}

	for _, tt := range tests {
		result := decodeRK(tt.rk)
		if math.Abs(result-tt.expected) > 1e-9 {
			t.Errorf("decodeRK(%#x) = %v, expected %v", tt.rk, result, tt.expected)
		}
	}
}

func TestCellHeader(t *testing.T) {
	row, col, xf, err := cellHeader(cat(le16(3), le16(7), le16(21)))
	if err != nil {
		t.Fatalf("cellHeader() error: %v", err)
	}
	if row != 3 || col != 7 || xf != 21 {
		t.Errorf("cellHeader() = (%d, %d, %d), expected (3, 7, 21)", row, col, xf)
	}
	if _, _, _, err := cellHeader([]byte{1, 2, 3}); err == nil {
		t.Errorf("expected error for short header")
	}
}
