// Package models defines the JSON shapes produced by spreadsheet conversion.
package models

// Value type tags reported for every converted cell.
const (
	TypeText     = "text"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeCurrency = "currency"
	TypeFile     = "file"
)

// CellValue is a normalized cell: a type tag and its value.
type CellValue struct {
	// Type is one of the Type* tags.
	Type string `json:"type"`
	// Value is a string, float64 or bool depending on Type.
	Value interface{} `json:"value"`
}

// Text returns a text CellValue.
func Text(s string) CellValue {
	return CellValue{Type: TypeText, Value: s}
}

// Empty is the value reported for absent or unrecognized cells.
func Empty() CellValue {
	return Text("")
}

// File returns a CellValue referencing an externalized embedded object.
func File(ref string) CellValue {
	return CellValue{Type: TypeFile, Value: ref}
}
