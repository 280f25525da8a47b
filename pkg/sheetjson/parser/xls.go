package parser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// ErrEncrypted is returned for password protected .xls workbooks.
var ErrEncrypted = errors.New("workbook is encrypted")

// xlsBook holds what object extraction needs from an .xls file. The whole
// file is decoded up front, so discovery only hands out the candidates.
type xlsBook struct {
	candidates []*candidate
	// unpaired names sheets whose drawing shapes and OBJ records disagree.
	unpaired []string
}

func (b *xlsBook) discover(logger *slog.Logger) []*candidate {
	for _, sheet := range b.unpaired {
		logger.Warn("Drawing shapes and object records do not pair up.", "sheet", sheet)
	}
	return b.candidates
}

func (b *xlsBook) Close() error { return nil }

type boundSheet struct {
	name   string
	offset int
}

// xlsGlobals is the workbook globals substream.
type xlsGlobals struct {
	sheets       []boundSheet
	sst          []string
	formats      map[int]string
	xfs          []int
	date1904     bool
	drawingGroup []byte
}

func (g *xlsGlobals) numberFormat(xf int) NumberFormat {
	if xf < 0 || xf >= len(g.xfs) {
		return NumberFormat{Code: "General"}
	}
	id := g.xfs[xf]
	if code, ok := g.formats[id]; ok {
		return NumberFormat{ID: id, Code: code}
	}
	return NumberFormat{ID: id, Code: BuiltinFormatCode(id)}
}

// xlsSheet is one decoded worksheet substream.
type xlsSheet struct {
	sheet  *Sheet
	shapes []drawingShape
	objs   []objRecord
}

func openXLS(data []byte) (*Workbook, *xlsBook, error) {
	cf, err := readCompound(data)
	if err != nil {
		return nil, nil, err
	}
	stream, ok := cf.root["Workbook"]
	if !ok {
		if _, ok := cf.root["Book"]; ok {
			return nil, nil, errors.New("BIFF5 workbooks are not supported")
		}
		return nil, nil, errors.New("no Workbook stream")
	}

	g, err := readGlobals(stream)
	if err != nil {
		return nil, nil, err
	}
	wb := &Workbook{Date1904: g.date1904}
	book := &xlsBook{}
	blips := readBlipStore(g.drawingGroup)
	for i, bs := range g.sheets {
		sh, err := readXLSSheet(stream, bs, g)
		if err != nil {
			return nil, nil, fmt.Errorf("sheet %q: %w", bs.name, err)
		}
		wb.Sheets = append(wb.Sheets, sh.sheet)
		book.collect(i, bs.name, sh, blips, cf.storages)
	}
	return wb, book, nil
}

func readGlobals(stream []byte) (*xlsGlobals, error) {
	r := newBIFFReader(stream, 0)
	bof, ok := r.next()
	if !ok || bof.code != recBOF || len(bof.data) < 4 {
		return nil, errors.New("missing BOF record")
	}
	if v := binary.LittleEndian.Uint16(bof.data); v != biff8Version {
		return nil, fmt.Errorf("BIFF version %#04x is not supported", v)
	}
	if dt := binary.LittleEndian.Uint16(bof.data[2:]); dt != bofWorkbookGlobs {
		return nil, fmt.Errorf("unexpected substream type %#04x", dt)
	}

	g := &xlsGlobals{formats: make(map[int]string)}
	for {
		rec, ok := r.next()
		if !ok || rec.code == recEOF {
			break
		}
		switch rec.code {
		case recFilePass:
			return nil, ErrEncrypted
		case recDateMode:
			if len(rec.data) >= 2 {
				g.date1904 = binary.LittleEndian.Uint16(rec.data) == 1
			}
		case recBoundSheet:
			if len(rec.data) < 8 {
				return nil, errShortRecord
			}
			// Chart, macro and VB module sheets carry no cells.
			if rec.data[5] != 0 {
				continue
			}
			name, err := newSegmentReader(biffRecord{data: rec.data[6:]}).unicodeString(1)
			if err != nil {
				return nil, fmt.Errorf("sheet name: %w", err)
			}
			g.sheets = append(g.sheets, boundSheet{name: name, offset: int(binary.LittleEndian.Uint32(rec.data))})
		case recFormat:
			if len(rec.data) < 4 {
				continue
			}
			code, err := newSegmentReader(biffRecord{data: rec.data[2:]}).unicodeString(2)
			if err != nil {
				return nil, fmt.Errorf("number format: %w", err)
			}
			g.formats[int(binary.LittleEndian.Uint16(rec.data))] = code
		case recXF:
			if len(rec.data) < 4 {
				return nil, errShortRecord
			}
			g.xfs = append(g.xfs, int(binary.LittleEndian.Uint16(rec.data[2:])))
		case recSST:
			sst, err := readSST(rec)
			if err != nil {
				return nil, err
			}
			g.sst = sst
		case recDrawingGroup:
			g.drawingGroup = append(g.drawingGroup, rec.joined()...)
		}
	}
	return g, nil
}

func readXLSSheet(stream []byte, bs boundSheet, g *xlsGlobals) (*xlsSheet, error) {
	if bs.offset < 0 || bs.offset >= len(stream) {
		return nil, fmt.Errorf("substream offset %d out of range", bs.offset)
	}
	r := newBIFFReader(stream, bs.offset)
	if bof, ok := r.next(); !ok || bof.code != recBOF {
		return nil, errors.New("missing BOF record")
	}

	b := newSheetBuilder(bs.name)
	out := &xlsSheet{}
	var drawing []byte
	// A string formula result follows its FORMULA record in a STRING record.
	var pending *Cell

	for {
		rec, ok := r.next()
		if !ok || rec.code == recEOF {
			break
		}
		switch rec.code {
		case recNumber:
			row, col, xf, err := cellHeader(rec.data)
			if err != nil || len(rec.data) < 14 {
				return nil, errShortRecord
			}
			v := math.Float64frombits(binary.LittleEndian.Uint64(rec.data[6:]))
			b.put(numericCell(row, col, v, g.numberFormat(xf)))
		case recRK:
			row, col, xf, err := cellHeader(rec.data)
			if err != nil || len(rec.data) < 10 {
				return nil, errShortRecord
			}
			v := decodeRK(binary.LittleEndian.Uint32(rec.data[6:]))
			b.put(numericCell(row, col, v, g.numberFormat(xf)))
		case recMulRK:
			if len(rec.data) < 6 {
				return nil, errShortRecord
			}
			row := int(binary.LittleEndian.Uint16(rec.data))
			col := int(binary.LittleEndian.Uint16(rec.data[2:]))
			for p := 4; p+6 <= len(rec.data)-2; p += 6 {
				xf := int(binary.LittleEndian.Uint16(rec.data[p:]))
				v := decodeRK(binary.LittleEndian.Uint32(rec.data[p+2:]))
				b.put(numericCell(row, col, v, g.numberFormat(xf)))
				col++
			}
		case recBlank:
			row, col, xf, err := cellHeader(rec.data)
			if err != nil {
				return nil, err
			}
			b.put(&Cell{Row: row, Col: col, Type: CellBlank, Format: g.numberFormat(xf)})
		case recMulBlank:
			if len(rec.data) < 6 {
				return nil, errShortRecord
			}
			row := int(binary.LittleEndian.Uint16(rec.data))
			col := int(binary.LittleEndian.Uint16(rec.data[2:]))
			for p := 4; p+2 <= len(rec.data)-2; p += 2 {
				xf := int(binary.LittleEndian.Uint16(rec.data[p:]))
				b.put(&Cell{Row: row, Col: col, Type: CellBlank, Format: g.numberFormat(xf)})
				col++
			}
		case recLabelSST:
			row, col, xf, err := cellHeader(rec.data)
			if err != nil || len(rec.data) < 10 {
				return nil, errShortRecord
			}
			idx := int(binary.LittleEndian.Uint32(rec.data[6:]))
			if idx >= len(g.sst) {
				return nil, fmt.Errorf("shared string %d out of range", idx)
			}
			b.put(textCell(row, col, g.sst[idx], g.numberFormat(xf)))
		case recLabel:
			row, col, xf, err := cellHeader(rec.data)
			if err != nil {
				return nil, err
			}
			s, err := newSegmentReader(biffRecord{data: rec.data[6:], conts: rec.conts}).unicodeString(2)
			if err != nil {
				return nil, fmt.Errorf("label %s: %w", CellName(row, col), err)
			}
			b.put(textCell(row, col, s, g.numberFormat(xf)))
		case recBoolErr:
			row, col, xf, err := cellHeader(rec.data)
			if err != nil || len(rec.data) < 8 {
				return nil, errShortRecord
			}
			c := &Cell{Row: row, Col: col, Type: CellBoolean, Bool: rec.data[6] != 0, Format: g.numberFormat(xf)}
			if rec.data[7] != 0 {
				c.Type, c.Bool = CellError, false
			}
			b.put(c)
		case recFormula:
			row, col, xf, err := cellHeader(rec.data)
			if err != nil || len(rec.data) < 14 {
				return nil, errShortRecord
			}
			c := formulaCell(row, col, rec.data[6:14], g.numberFormat(xf))
			pending = nil
			if c.Result == CellString && rec.data[6] == 0 {
				pending = c
			}
			b.put(c)
		case recString:
			if pending == nil {
				continue
			}
			s, err := newSegmentReader(rec).unicodeString(2)
			if err != nil {
				return nil, fmt.Errorf("formula result %s: %w", CellName(pending.Row, pending.Col), err)
			}
			pending.Text, pending.Display = s, s
			pending = nil
		case recMergedCells:
			b.merged = append(b.merged, readMergedCells(rec.data)...)
		case recDrawing:
			drawing = append(drawing, rec.joined()...)
		case recObj:
			out.objs = append(out.objs, parseObj(rec.data))
		}
	}

	out.sheet = b.build()
	out.shapes = readDrawingShapes(drawing)
	return out, nil
}

func numericCell(row, col int, v float64, nf NumberFormat) *Cell {
	c := &Cell{Row: row, Col: col, Type: CellNumeric, Number: v, Format: nf}
	if !IsDateFormat(nf) {
		c.Display = FormatNumber(v, nf.Code)
	}
	return c
}

func textCell(row, col int, s string, nf NumberFormat) *Cell {
	return &Cell{Row: row, Col: col, Type: CellString, Text: s, Display: s, Format: nf}
}

// formulaCell decodes the cached result of a FORMULA record. Non-numeric
// results are flagged by 0xFFFF in the top two bytes.
func formulaCell(row, col int, res []byte, nf NumberFormat) *Cell {
	c := &Cell{Row: row, Col: col, Type: CellFormula, Format: nf}
	if res[6] != 0xFF || res[7] != 0xFF {
		c.Result = CellNumeric
		c.Number = math.Float64frombits(binary.LittleEndian.Uint64(res))
		c.Display = FormatNumber(c.Number, nf.Code)
		return c
	}
	switch res[0] {
	case 0, 3:
		c.Result = CellString
	case 1:
		c.Result = CellBoolean
		c.Bool = res[2] != 0
	case 2:
		c.Result = CellError
	}
	return c
}

func readMergedCells(data []byte) MergedRegions {
	if len(data) < 2 {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(data))
	var out MergedRegions
	for i := 0; i < n && 2+8*i+8 <= len(data); i++ {
		p := data[2+8*i:]
		m := MergedRegion{
			FirstRow: int(binary.LittleEndian.Uint16(p)),
			LastRow:  int(binary.LittleEndian.Uint16(p[2:])),
			FirstCol: int(binary.LittleEndian.Uint16(p[4:])),
			LastCol:  int(binary.LittleEndian.Uint16(p[6:])),
		}
		if m.LastRow < m.FirstRow || m.LastCol < m.FirstCol {
			continue
		}
		out = append(out, m)
	}
	return out
}

// collect pairs the sheet's drawing shapes with its OBJ records and turns
// pictures and embedded OLE objects into extraction candidates.
func (b *xlsBook) collect(sheetIndex int, name string, sh *xlsSheet, blips []*blip, storages map[string]storageStreams) {
	var shapes []drawingShape
	for _, s := range sh.shapes {
		if !s.patriarch {
			shapes = append(shapes, s)
		}
	}
	if len(shapes) != len(sh.objs) {
		b.unpaired = append(b.unpaired, name)
	}
	for i := 0; i < len(shapes) && i < len(sh.objs); i++ {
		shape, obj := shapes[i], sh.objs[i]
		if !shape.anchored || shape.group || obj.typ != otPicture {
			continue
		}
		c := &candidate{sheetIndex: sheetIndex, sheet: name, row: shape.row, col: shape.col}
		if st, ok := storages[obj.storage]; ok && obj.storage != "" {
			c.kind = kindOLE
			c.strategies = []payloadStrategy{
				&oleNativeStrategy{storage: st},
				&oleStreamStrategy{storage: st, stream: streamPackage},
				&oleStreamStrategy{storage: st, stream: streamContents},
			}
		} else if shape.blipIndex > 0 && shape.blipIndex <= len(blips) {
			c.kind = kindPicture
			c.strategies = []payloadStrategy{&blipStrategy{blip: blips[shape.blipIndex-1]}}
		} else {
			continue
		}
		b.candidates = append(b.candidates, c)
	}
}
