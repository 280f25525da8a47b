package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

// xlsxPackage keeps the opened workbook and its raw zip parts for object
// extraction. excelize calls are serialized through mu because extraction
// workers share the file.
type xlsxPackage struct {
	mu     sync.Mutex
	file   *excelize.File
	zip    *zip.Reader
	sheets []string
}

func openXLSX(data []byte) (*Workbook, *xlsxPackage, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	wb := &Workbook{}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		wb.Date1904 = *props.Date1904
	}

	// Without the part map only cells holding a value are read.
	parts, _ := worksheetParts(zr)

	formats := make(map[int]NumberFormat)
	sheetList := f.GetSheetList()
	for _, name := range sheetList {
		var stored [][2]int
		if part, ok := parts[name]; ok {
			if data, err := readZipFile(zr, part); err == nil {
				stored = storedCells(data)
			}
		}
		sheet, err := readXLSXSheet(f, name, stored, formats)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, &xlsxPackage{file: f, zip: zr, sheets: sheetList}, nil
}

func (p *xlsxPackage) Close() error {
	return p.file.Close()
}

// readXLSXSheet loads the present cells of one sheet: every stored <c>
// element, including style-only cells and formulas with an empty result,
// plus the covers of merged regions.
func readXLSXSheet(f *excelize.File, name string, stored [][2]int, formats map[int]NumberFormat) (*Sheet, error) {
	b := newSheetBuilder(name)

	merges, err := f.GetMergeCells(name)
	if err != nil {
		return nil, err
	}
	for _, mc := range merges {
		region, err := ParseRange(mc.GetStartAxis() + ":" + mc.GetEndAxis())
		if err != nil {
			continue
		}
		b.merged = append(b.merged, region)
	}

	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	present := make(map[[2]int]struct{}, len(stored))
	for _, pos := range stored {
		present[pos] = struct{}{}
	}
	for r, row := range rows {
		for c, raw := range row {
			if raw != "" {
				present[[2]int{r, c}] = struct{}{}
			}
		}
	}
	for pos := range present {
		r, c := pos[0], pos[1]
		var raw string
		if r < len(rows) && c < len(rows[r]) {
			raw = rows[r][c]
		}
		cell, err := readXLSXCell(f, name, CellName(r, c), raw, formats)
		if err != nil {
			return nil, err
		}
		cell.Row, cell.Col = r, c
		b.put(cell)
	}
	return b.build(), nil
}

// storedCells lists the position of every <c> element in a worksheet part.
// Cells without an r attribute follow the previous cell of their row.
func storedCells(data []byte) [][2]int {
	var out [][2]int
	decoder := xml.NewDecoder(bytes.NewReader(data))
	row, col := -1, -1
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "row":
			if n, err := strconv.Atoi(attrValue(se, "r")); err == nil && n > 0 {
				row = n - 1
			} else {
				row++
			}
			col = -1
		case "c":
			col++
			if ref := attrValue(se, "r"); ref != "" {
				if r, c, err := ParseCellName(ref); err == nil {
					row, col = r, c
				}
			}
			if row >= 0 {
				out = append(out, [2]int{row, col})
			}
		}
	}
	return out
}

func readXLSXCell(f *excelize.File, sheet, ref, raw string, formats map[int]NumberFormat) (*Cell, error) {
	formula, err := f.GetCellFormula(sheet, ref)
	if err != nil {
		return nil, err
	}
	typ, err := f.GetCellType(sheet, ref)
	if err != nil {
		return nil, err
	}

	c := &Cell{}
	stored := storedType(typ, raw)
	switch stored {
	case CellBoolean:
		c.Bool = raw == "1" || strings.EqualFold(raw, "true")
	case CellNumeric:
		c.Number, _ = parseNumber(raw)
	default:
		c.Text = raw
	}
	switch {
	case formula != "":
		c.Type = CellFormula
		c.Result = stored
	case raw == "":
		c.Type = CellBlank
	default:
		c.Type = stored
	}

	styleID, err := f.GetCellStyle(sheet, ref)
	if err == nil {
		c.Format = xlsxNumberFormat(f, styleID, formats)
	}

	switch stored {
	case CellNumeric:
		if display, err := f.GetCellValue(sheet, ref); err == nil {
			c.Display = display
		}
	case CellString:
		c.Display = c.Text
	}
	return c, nil
}

// storedType maps excelize's stored cell type and raw text to a CellType.
func storedType(typ excelize.CellType, raw string) CellType {
	switch typ {
	case excelize.CellTypeBool:
		return CellBoolean
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula, excelize.CellTypeDate:
		return CellString
	case excelize.CellTypeError:
		return CellError
	}
	if _, ok := parseNumber(raw); ok {
		return CellNumeric
	}
	return CellString
}

func xlsxNumberFormat(f *excelize.File, styleID int, cache map[int]NumberFormat) NumberFormat {
	if nf, ok := cache[styleID]; ok {
		return nf
	}
	var nf NumberFormat
	if style, err := f.GetStyle(styleID); err == nil && style != nil {
		nf.ID = style.NumFmt
		if style.CustomNumFmt != nil {
			nf.Code = *style.CustomNumFmt
		} else {
			nf.Code = BuiltinFormatCode(style.NumFmt)
		}
	}
	cache[styleID] = nf
	return nf
}
