package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedFormat is returned by Open for documents that are neither
// .xlsx nor .xls.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// Format identifies the container format of a document.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// DetectFormat picks the reader for a file name by its extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// CellType is the stored type of a cell.
type CellType int

const (
	CellBlank CellType = iota
	CellString
	CellNumeric
	CellBoolean
	CellFormula
	CellError
)

func (t CellType) String() string {
	switch t {
	case CellBlank:
		return "blank"
	case CellString:
		return "string"
	case CellNumeric:
		return "numeric"
	case CellBoolean:
		return "boolean"
	case CellFormula:
		return "formula"
	case CellError:
		return "error"
	}
	return fmt.Sprintf("CellType(%d)", int(t))
}

// NumberFormat is a cell's number format: the built-in id and the format
// code. Built-in ids without a stored code carry the standard code.
type NumberFormat struct {
	ID   int
	Code string
}

// Cell is one stored cell of a sheet.
type Cell struct {
	Row, Col int
	Type     CellType
	// Result is the cached result type of a formula cell. The value itself
	// lives in Text, Number or Bool like for a plain cell.
	Result  CellType
	Text    string
	Number  float64
	Bool    bool
	Format  NumberFormat
	Display string
}

// Row is one present row with its present cells ordered by column.
type Row struct {
	Index int
	Cells []*Cell
}

// Cell returns the cell at col, or nil.
func (r *Row) Cell(col int) *Cell {
	if r == nil {
		return nil
	}
	i := sort.Search(len(r.Cells), func(i int) bool { return r.Cells[i].Col >= col })
	if i < len(r.Cells) && r.Cells[i].Col == col {
		return r.Cells[i]
	}
	return nil
}

// LastCol returns the highest present column index, or -1.
func (r *Row) LastCol() int {
	if r == nil || len(r.Cells) == 0 {
		return -1
	}
	return r.Cells[len(r.Cells)-1].Col
}

// Sheet is one worksheet with sparse rows ordered by index.
type Sheet struct {
	Name   string
	Rows   []*Row
	Merged MergedRegions
}

// Row returns the row at idx, or nil when absent.
func (s *Sheet) Row(idx int) *Row {
	i := sort.Search(len(s.Rows), func(i int) bool { return s.Rows[i].Index >= idx })
	if i < len(s.Rows) && s.Rows[i].Index == idx {
		return s.Rows[i]
	}
	return nil
}

// Cell returns the cell at (row, col), or nil.
func (s *Sheet) Cell(row, col int) *Cell {
	return s.Row(row).Cell(col)
}

// LastRow returns the highest present row index, or -1 for an empty sheet.
func (s *Sheet) LastRow() int {
	if len(s.Rows) == 0 {
		return -1
	}
	return s.Rows[len(s.Rows)-1].Index
}

// Workbook is the format-neutral model both readers produce.
type Workbook struct {
	Sheets   []*Sheet
	Date1904 bool
}

// maxMergeFill bounds how many blank placeholder cells a single merged
// region may add to a sheet.
const maxMergeFill = 16384

type sheetBuilder struct {
	name   string
	cells  map[int]map[int]*Cell
	merged MergedRegions
}

func newSheetBuilder(name string) *sheetBuilder {
	return &sheetBuilder{name: name, cells: make(map[int]map[int]*Cell)}
}

func (b *sheetBuilder) put(c *Cell) {
	row, ok := b.cells[c.Row]
	if !ok {
		row = make(map[int]*Cell)
		b.cells[c.Row] = row
	}
	row[c.Col] = c
}

func (b *sheetBuilder) ensure(rowIdx, col int) {
	if row, ok := b.cells[rowIdx]; ok {
		if _, ok := row[col]; ok {
			return
		}
	}
	b.put(&Cell{Row: rowIdx, Col: col, Type: CellBlank})
}

// fillMerged makes every cell covered by a merged region present, so that
// merged blocks show up as rows and columns even when the file stores no
// record for the covered cells.
func (b *sheetBuilder) fillMerged() {
	for _, m := range b.merged {
		if m.RowSpan()*m.ColSpan() > maxMergeFill {
			continue
		}
		for r := m.FirstRow; r <= m.LastRow; r++ {
			for c := m.FirstCol; c <= m.LastCol; c++ {
				b.ensure(r, c)
			}
		}
	}
}

func (b *sheetBuilder) build() *Sheet {
	b.fillMerged()
	s := &Sheet{Name: b.name, Merged: b.merged}
	for idx, cells := range b.cells {
		row := &Row{Index: idx, Cells: make([]*Cell, 0, len(cells))}
		for _, c := range cells {
			row.Cells = append(row.Cells, c)
		}
		sort.Slice(row.Cells, func(i, j int) bool { return row.Cells[i].Col < row.Cells[j].Col })
		s.Rows = append(s.Rows, row)
	}
	sort.Slice(s.Rows, func(i, j int) bool { return s.Rows[i].Index < s.Rows[j].Index })
	return s
}
