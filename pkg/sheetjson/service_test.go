package sheetjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/cache"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/models"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/session"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/source"
)

// fakeResolver serves documents from memory.
type fakeResolver map[string]*source.Document

func (r fakeResolver) Resolve(_ context.Context, ref string) (*source.Document, error) {
	doc, ok := r[ref]
	if !ok {
		return nil, fmt.Errorf("%w: file not found: %s", source.ErrFetchFailed, ref)
	}
	return doc, nil
}

func emptyWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T, store cache.Store) *Service {
	t.Helper()
	resolver := fakeResolver{
		"groups.xlsx": {Name: "groups.xlsx", Data: mergedWorkbook(t)},
		"empty.xlsx":  {Name: "empty.xlsx", Data: emptyWorkbook(t)},
		"broken.xlsx": {Name: "broken.xlsx", Data: []byte("not a zip")},
		"data.csv":    {Name: "data.csv", Data: []byte("a,b")},
	}
	s := NewService(resolver, nil, store, Options{}, nil)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServiceRowObjectSession(t *testing.T) {
	s := newTestService(t, nil)

	id, err := s.Open(context.Background(), "groups.xlsx", "row-object", 3)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	expected := []string{
		`{"header":{"A1":"Id","B1":"Group","C1":"Note"},"row":{"index":4}}`,
		`{"header":{"A1":"Id","B1":"Group","C1":"Note"},"row":{"index":5,` +
			`"A1":{"type":"number","value":5},"B1":{"type":"text","value":""},"C1":{"type":"text","value":""}}}`,
		`{}`,
		`{}`,
	}
	for i, want := range expected {
		p, err := s.Read(id)
		if err != nil {
			t.Fatalf("Read() #%d error: %v", i, err)
		}
		got, _ := json.Marshal(p)
		if string(got) != want {
			t.Errorf("Read() #%d = %s, expected %s", i, got, want)
		}
	}

	msg, err := s.Reset(id)
	if err != nil || msg != ResetMessage {
		t.Fatalf("Reset() = %q, %v", msg, err)
	}
	p, _ := s.Read(id)
	if rec, ok := p.Row.(models.RowObject); !ok || rec.Index != 1 {
		t.Errorf("Read() after Reset = %+v, expected record 1", p.Row)
	}
}

func TestServiceBasicSessionFlattensSheets(t *testing.T) {
	s := newTestService(t, nil)

	id, err := s.Open(context.Background(), "groups.xlsx", "", 0)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	var sheets []string
	for {
		p, err := s.Read(id)
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		if p.EOF {
			break
		}
		if p.Header != nil {
			t.Errorf("basic pages carry no header, got %v", p.Header)
		}
		row := p.Row.(models.Row)
		sheets = append(sheets, fmt.Sprintf("%s:%d", row.Sheet, row.RowIndex))
	}
	got := strings.Join(sheets, ",")
	if got != "Sheet1:1,Sheet1:2,Sheet1:3,Sheet1:4,Sheet1:6,Notes:1" {
		t.Errorf("rows = %s", got)
	}
}

func TestServiceEmptyWorkbookSession(t *testing.T) {
	s := newTestService(t, nil)

	for _, mode := range []string{"basic", "row-object"} {
		t.Run(mode, func(t *testing.T) {
			id, err := s.Open(context.Background(), "empty.xlsx", mode, 0)
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			if id == "" {
				t.Fatal("Open() returned an empty session id")
			}
			for i := 0; i < 2; i++ {
				p, err := s.Read(id)
				if err != nil {
					t.Fatalf("Read() error: %v", err)
				}
				if !p.EOF {
					t.Errorf("read %d = %+v, expected EOF", i, p)
				}
				data, _ := json.Marshal(p)
				if string(data) != "{}" {
					t.Errorf("read %d marshals to %s, expected {}", i, data)
				}
			}
		})
	}

	if ErrorMessage(ErrEmptyResult) != "Failed to parse Excel file or file is empty." {
		t.Errorf("ErrorMessage(ErrEmptyResult) = %q", ErrorMessage(ErrEmptyResult))
	}
}

func TestServiceErrors(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		ref     string
		mode    string
		wantErr error
		message string
	}{
		{"missing document", "nope.xlsx", "", ErrFetchFailed, "fetch failed: file not found: nope.xlsx"},
		{"unsupported format", "data.csv", "", ErrUnsupportedFormat, `unsupported spreadsheet format: ".csv"`},
		{"unknown mode", "groups.xlsx", "columns", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Open(ctx, tt.ref, tt.mode, 0)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, expected %v", err, tt.wantErr)
			}
			if tt.message != "" && ErrorMessage(err) != tt.message {
				t.Errorf("ErrorMessage() = %q, expected %q", ErrorMessage(err), tt.message)
			}
		})
	}

	_, err := s.Convert(ctx, "broken.xlsx", "basic")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Format != "xlsx" {
		t.Fatalf("Convert(broken) error = %v, expected a ParseError", err)
	}
	if !strings.HasPrefix(ErrorMessage(err), "Failed to parse xlsx file: ") {
		t.Errorf("ErrorMessage() = %q", ErrorMessage(err))
	}

	if _, err := s.Read("gone"); ErrorMessage(err) != "Session expired or invalid" {
		t.Errorf("Read(gone) message = %q", ErrorMessage(err))
	}
	if _, err := s.Reset("gone"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Reset(gone) error = %v", err)
	}
}

func TestServiceCachesByContentAndMode(t *testing.T) {
	store, err := cache.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := newTestService(t, store)
	ctx := context.Background()

	first, err := s.Convert(ctx, "groups.xlsx", "basic")
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}
	second, err := s.Convert(ctx, "groups.xlsx", "basic")
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("repeated conversion differs:\n%s\n%s", a, b)
	}
	if len(first.ContentHash) != 64 {
		t.Errorf("ContentHash = %q", first.ContentHash)
	}

	if _, err := store.Get(ctx, cache.Key(first.ContentHash, "basic")); err != nil {
		t.Errorf("basic entry missing: %v", err)
	}
	if _, err := store.Get(ctx, cache.Key(first.ContentHash, "row-object")); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("row-object entry should not exist yet: %v", err)
	}
}
