package sheetjson

import (
	"errors"
	"fmt"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/session"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/source"
)

// ErrUnsupportedFormat indicates a document that is neither .xlsx nor .xls.
var ErrUnsupportedFormat = parser.ErrUnsupportedFormat

// ErrFetchFailed indicates the document could not be retrieved.
var ErrFetchFailed = source.ErrFetchFailed

// ErrSessionNotFound indicates an unknown or expired session id.
var ErrSessionNotFound = session.ErrNotFound

// ErrEmptyResult is returned by Open when a conversion yields no result at
// all. A workbook without rows still opens a session.
var ErrEmptyResult = errors.New("failed to parse Excel file or file is empty")

// ParseError reports a document the format reader could not open.
type ParseError struct {
	Format parser.Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s document: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ExtractionError reports an embedded object that could not be extracted.
// Extraction errors are logged and never fail a conversion.
type ExtractionError = parser.ExtractionError
