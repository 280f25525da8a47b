package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnName converts a zero-based column index to spreadsheet letters using
// bijective base-26: 0 is "A", 25 is "Z", 26 is "AA", 701 is "ZZ".
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var buf [16]byte
	i := len(buf)
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		i--
		buf[i] = byte('A' + (n-1)%26)
	}
	return string(buf[i:])
}

// ColumnIndex is the inverse of ColumnName. Lower-case letters are accepted.
func ColumnIndex(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("empty column name")
	}
	n := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			n = n*26 + int(c-'A') + 1
		case c >= 'a' && c <= 'z':
			n = n*26 + int(c-'a') + 1
		default:
			return 0, fmt.Errorf("invalid column name %q", name)
		}
		if n > 1<<40 {
			return 0, fmt.Errorf("column name %q out of range", name)
		}
	}
	return n - 1, nil
}

// CellName returns the A1-style name of a zero-based (row, col).
func CellName(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// ParseCellName splits an A1-style reference into zero-based (row, col).
// Absolute markers ("$B$3") are ignored.
func ParseCellName(ref string) (row, col int, err error) {
	ref = strings.ReplaceAll(ref, "$", "")
	i := 0
	for i < len(ref) && (ref[i] < '0' || ref[i] > '9') {
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	col, err = ColumnIndex(ref[:i])
	if err != nil {
		return 0, 0, err
	}
	r, err := strconv.Atoi(ref[i:])
	if err != nil || r < 1 {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	return r - 1, col, nil
}
