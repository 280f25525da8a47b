package models

import (
	"encoding/json"
	"fmt"
)

const (
	shapeBasic     = "basic"
	shapeRowObject = "row-object"
)

// Result is a complete conversion result in either the basic or the
// row-object shape, plus document metadata.
type Result struct {
	// Mode is "basic" or "row-object" and selects which of the fields below are used.
	Mode string
	// Sheets holds every sheet's rows (basic).
	Sheets []SheetData
	// Header maps column keys of the first sheet's first row to their text (row-object).
	Header Header
	// Records holds the first sheet's data rows (row-object).
	Records []RowObject
	// Filename is the source document's display name.
	Filename string
	// ContentHash is the hex sha256 of the source document bytes.
	ContentHash string
}

// IsRowObject reports whether r uses the row-object shape.
func (r *Result) IsRowObject() bool {
	return r.Mode == shapeRowObject
}

// Empty reports whether the result carries no rows at all.
func (r *Result) Empty() bool {
	if r.IsRowObject() {
		return len(r.Records) == 0 && len(r.Header) == 0
	}
	for _, s := range r.Sheets {
		if len(s.Rows) > 0 {
			return false
		}
	}
	return true
}

type resultJSON struct {
	Mode        string      `json:"mode"`
	Header      interface{} `json:"header,omitempty"`
	Data        interface{} `json:"data"`
	Filename    string      `json:"filename"`
	ContentHash string      `json:"contentHash"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Mode:        r.Mode,
		Filename:    r.Filename,
		ContentHash: r.ContentHash,
	}
	if r.Mode == shapeRowObject {
		out.Header = r.Header
		records := r.Records
		if records == nil {
			records = []RowObject{}
		}
		out.Data = records
	} else {
		sheets := r.Sheets
		if sheets == nil {
			sheets = []SheetData{}
		}
		out.Data = sheets
	}
	return json.Marshal(out)
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var in struct {
		Mode        string          `json:"mode"`
		Header      json.RawMessage `json:"header"`
		Data        json.RawMessage `json:"data"`
		Filename    string          `json:"filename"`
		ContentHash string          `json:"contentHash"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := Result{
		Mode:        in.Mode,
		Filename:    in.Filename,
		ContentHash: in.ContentHash,
	}
	switch in.Mode {
	case shapeRowObject:
		if len(in.Header) > 0 {
			if err := json.Unmarshal(in.Header, &out.Header); err != nil {
				return err
			}
		}
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &out.Records); err != nil {
				return err
			}
		}
	case shapeBasic, "":
		out.Mode = shapeBasic
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &out.Sheets); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown result mode %q", in.Mode)
	}
	*r = out
	return nil
}
