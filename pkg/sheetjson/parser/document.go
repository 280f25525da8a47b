package parser

import (
	"log/slog"
)

// objectSource discovers the embedded objects of an opened document.
type objectSource interface {
	discover(logger *slog.Logger) []*candidate
	Close() error
}

// Document is an opened spreadsheet: its workbook model plus the
// format-specific state needed to extract embedded objects.
type Document struct {
	// Name is the display file name, used for attachment keys.
	Name     string
	Format   Format
	Workbook *Workbook

	objects objectSource
}

// Open parses a spreadsheet held in memory. The reader is chosen by the
// extension of name; other extensions fail with ErrUnsupportedFormat.
func Open(name string, data []byte) (*Document, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}

	doc := &Document{Name: name, Format: format}
	switch format {
	case FormatXLSX:
		wb, pkg, err := openXLSX(data)
		if err != nil {
			return nil, err
		}
		doc.Workbook, doc.objects = wb, pkg
	case FormatXLS:
		wb, book, err := openXLS(data)
		if err != nil {
			return nil, err
		}
		doc.Workbook, doc.objects = wb, book
	}
	return doc, nil
}

// Close releases the reader state held by the document.
func (d *Document) Close() error {
	if d == nil || d.objects == nil {
		return nil
	}
	return d.objects.Close()
}
