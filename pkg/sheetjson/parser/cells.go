package parser

import (
	"strconv"
	"strings"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/models"
	"github.com/xuri/excelize/v2"
)

// NormalizeCell maps a cell to its typed JSON value. The order of the checks
// is part of the output contract: text, date, currency, number, boolean,
// then the cached result of formulas. A nil cell is an empty text value.
func NormalizeCell(c *Cell, date1904 bool) models.CellValue {
	if c == nil {
		return models.Empty()
	}
	switch c.Type {
	case CellString:
		return models.Text(c.Text)
	case CellNumeric:
		if IsDateFormat(c.Format) {
			return models.CellValue{Type: models.TypeDate, Value: formatDate(c.Number, date1904)}
		}
		if IsCurrencyFormat(c.Format) {
			return models.CellValue{Type: models.TypeCurrency, Value: c.Display}
		}
		return models.CellValue{Type: models.TypeNumber, Value: c.Number}
	case CellBoolean:
		return models.CellValue{Type: models.TypeBoolean, Value: c.Bool}
	case CellFormula:
		// Formula results are never reported as dates or currency.
		switch c.Result {
		case CellString:
			return models.Text(c.Text)
		case CellNumeric:
			return models.CellValue{Type: models.TypeNumber, Value: c.Number}
		case CellBoolean:
			return models.CellValue{Type: models.TypeBoolean, Value: c.Bool}
		}
		return models.Empty()
	}
	return models.Empty()
}

// formatDate renders a date serial as YYYY-MM-DD, or "" if the serial does
// not name a valid date.
func formatDate(serial float64, date1904 bool) string {
	if serial < 0 {
		return ""
	}
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// DisplayText returns the text a cell shows, used for header labels.
func DisplayText(c *Cell, date1904 bool) string {
	if c == nil {
		return ""
	}
	if c.Display != "" {
		return c.Display
	}
	kind := c.Type
	if kind == CellFormula {
		kind = c.Result
	}
	switch kind {
	case CellString:
		return c.Text
	case CellNumeric:
		if c.Type != CellFormula && IsDateFormat(c.Format) {
			return formatDate(c.Number, date1904)
		}
		return FormatNumber(c.Number, c.Format.Code)
	case CellBoolean:
		if c.Bool {
			return "TRUE"
		}
		return "FALSE"
	}
	return ""
}

// parseNumber parses a raw stored numeric value.
func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
