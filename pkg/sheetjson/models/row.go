package models

// SheetData holds the basic-mode rows of a single sheet.
type SheetData struct {
	// Sheet is the sheet name.
	Sheet string `json:"sheet"`
	// Rows contains the sheet's present rows in order.
	Rows []Row `json:"rows"`
}

// Row is one present row in basic mode.
type Row struct {
	// Sheet names the owning sheet. Only set on rows handed out by a session,
	// where rows of all sheets are flattened into one sequence.
	Sheet string `json:"sheet,omitempty"`
	// RowIndex is the 1-based row number.
	RowIndex int `json:"rowIndex"`
	// Columns contains the row's present cells in column order.
	Columns []Column `json:"columns"`
}

// Column is one present cell of a basic-mode row.
type Column struct {
	// ColIndex is the column letters, e.g. "A" or "AB".
	ColIndex string `json:"colIndex"`
	// Type is the normalized value type.
	Type string `json:"type"`
	// Value is the normalized value.
	Value interface{} `json:"value"`
	// Rowspan is set on the origin of a merged region spanning more than one row.
	Rowspan int `json:"rowspan,omitempty"`
	// Colspan is set on the origin of a merged region spanning more than one column.
	Colspan int `json:"colspan,omitempty"`
}
