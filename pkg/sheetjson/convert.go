package sheetjson

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/models"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
)

// Converter turns opened documents into conversion results.
type Converter struct {
	extractor *parser.Extractor
	logger    *slog.Logger
}

// NewConverter returns a Converter. A nil extractor converts without
// extracting embedded objects.
func NewConverter(extractor *parser.Extractor, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{extractor: extractor, logger: logger}
}

// Convert extracts the document's embedded objects and builds the result in
// the requested mode. Extraction failures only cost the affected cells their
// file reference.
func (c *Converter) Convert(ctx context.Context, doc *parser.Document, mode Mode) (*models.Result, error) {
	if doc == nil || doc.Workbook == nil {
		return nil, fmt.Errorf("convert: no workbook")
	}
	refs := c.extractor.Extract(ctx, doc)

	var res *models.Result
	switch mode {
	case ModeBasic:
		res = convertBasic(doc.Workbook, refs)
	case ModeRowObject:
		res = convertRowObject(doc.Workbook, refs)
	default:
		return nil, fmt.Errorf("convert: unknown mode %q", mode)
	}
	res.Filename = doc.Name
	c.logger.Debug("Document converted.", "document", doc.Name, "mode", mode, "sheets", len(doc.Workbook.Sheets), "objects", refs.Len())
	return res, nil
}

// cellValue returns the file reference extracted at (row, col) of the sheet,
// or the normalized cell.
func cellValue(wb *parser.Workbook, refs *parser.ObjectRefs, sheetIndex, row, col int) models.CellValue {
	if ref, ok := refs.Lookup(sheetIndex, parser.CellName(row, col)); ok {
		return models.File(ref)
	}
	return parser.NormalizeCell(wb.Sheets[sheetIndex].Cell(row, col), wb.Date1904)
}

func convertBasic(wb *parser.Workbook, refs *parser.ObjectRefs) *models.Result {
	res := &models.Result{Mode: string(ModeBasic), Sheets: make([]models.SheetData, 0, len(wb.Sheets))}
	for i, sheet := range wb.Sheets {
		data := models.SheetData{Sheet: sheet.Name, Rows: make([]models.Row, 0, len(sheet.Rows))}
		merges := sheet.Merged.Index()
		for _, row := range sheet.Rows {
			out := models.Row{RowIndex: row.Index + 1, Columns: make([]models.Column, 0, len(row.Cells))}
			for _, c := range row.Cells {
				v := cellValue(wb, refs, i, row.Index, c.Col)
				col := models.Column{ColIndex: parser.ColumnName(c.Col), Type: v.Type, Value: v.Value}
				if m, ok := merges.Find(row.Index, c.Col); ok && m.IsOrigin(row.Index, c.Col) {
					if m.RowSpan() > 1 {
						col.Rowspan = m.RowSpan()
					}
					if m.ColSpan() > 1 {
						col.Colspan = m.ColSpan()
					}
				}
				out.Columns = append(out.Columns, col)
			}
			data.Rows = append(data.Rows, out)
		}
		res.Sheets = append(res.Sheets, data)
	}
	return res
}

func convertRowObject(wb *parser.Workbook, refs *parser.ObjectRefs) *models.Result {
	res := &models.Result{Mode: string(ModeRowObject), Header: models.Header{}, Records: []models.RowObject{}}
	if len(wb.Sheets) == 0 {
		return res
	}
	sheet := wb.Sheets[0]
	merges := sheet.Merged.Index()

	headerRow := sheet.Row(0)
	lastCol := headerRow.LastCol()
	keys := make([]string, lastCol+1)
	for col := 0; col <= lastCol; col++ {
		keys[col] = parser.ColumnName(col) + "1"
		res.Header = append(res.Header, models.HeaderField{
			Key:  keys[col],
			Text: parser.DisplayText(headerRow.Cell(col), wb.Date1904),
		})
	}

	for r := 1; r <= sheet.LastRow(); r++ {
		rec := models.RowObject{Index: r}
		if sheet.Row(r) != nil {
			rec.Cells = make([]models.Field, 0, len(keys))
			for col, key := range keys {
				sr, sc := merges.Origin(r, col)
				rec.Cells = append(rec.Cells, models.Field{Key: key, Value: cellValue(wb, refs, 0, sr, sc)})
			}
		}
		res.Records = append(res.Records, rec)
	}
	return res
}
