package sheetjson

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/models"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
)

// mergedWorkbook builds a sheet with a header row, a B2:B4 merge and an
// empty fifth row.
func mergedWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	values := map[string]interface{}{
		"A1": "Id", "B1": "Group", "C1": "Note",
		"A2": 1, "B2": "north", "C2": "first",
		"A3": 2,
		"A4": 3, "C4": "last",
		"A6": 5,
	}
	for cell, v := range values {
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatalf("SetCellValue(%s): %v", cell, err)
		}
	}
	if err := f.MergeCell("Sheet1", "B2", "B4"); err != nil {
		t.Fatalf("MergeCell: %v", err)
	}
	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	f.SetCellValue("Notes", "A1", "hello")

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func openDocument(t *testing.T, name string, data []byte) *parser.Document {
	t.Helper()
	doc, err := parser.Open(name, data)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc
}

func TestConvertBasic(t *testing.T) {
	doc := openDocument(t, "groups.xlsx", mergedWorkbook(t))
	res, err := NewConverter(nil, nil).Convert(context.Background(), doc, ModeBasic)
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}

	if res.Mode != "basic" || res.Filename != "groups.xlsx" || len(res.Sheets) != 2 {
		t.Fatalf("Convert() = mode %q, filename %q, %d sheets", res.Mode, res.Filename, len(res.Sheets))
	}
	sheet := res.Sheets[0]
	if sheet.Sheet != "Sheet1" {
		t.Errorf("first sheet = %q", sheet.Sheet)
	}

	var indexes []int
	for _, r := range sheet.Rows {
		indexes = append(indexes, r.RowIndex)
	}
	if len(indexes) != 5 || indexes[3] != 4 || indexes[4] != 6 {
		t.Errorf("row indexes = %v, expected [1 2 3 4 6]", indexes)
	}

	tests := []struct {
		name    string
		row     int
		col     string
		typ     string
		value   interface{}
		rowspan int
	}{
		{"merge origin", 1, "B", models.TypeText, "north", 3},
		{"merge cover", 2, "B", models.TypeText, "", 0},
		{"number", 2, "A", models.TypeNumber, 2.0, 0},
		{"text", 3, "C", models.TypeText, "last", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var found *models.Column
			for i, c := range sheet.Rows[tt.row].Columns {
				if c.ColIndex == tt.col {
					found = &sheet.Rows[tt.row].Columns[i]
				}
			}
			if found == nil {
				t.Fatalf("row %d has no column %s", sheet.Rows[tt.row].RowIndex, tt.col)
			}
			if found.Type != tt.typ || found.Value != tt.value || found.Rowspan != tt.rowspan || found.Colspan != 0 {
				t.Errorf("column = %+v", *found)
			}
		})
	}
}

func TestConvertRowObject(t *testing.T) {
	doc := openDocument(t, "groups.xlsx", mergedWorkbook(t))
	res, err := NewConverter(nil, nil).Convert(context.Background(), doc, ModeRowObject)
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}

	header, err := json.Marshal(res.Header)
	if err != nil {
		t.Fatal(err)
	}
	if string(header) != `{"A1":"Id","B1":"Group","C1":"Note"}` {
		t.Errorf("header = %s", header)
	}
	if len(res.Records) != 5 {
		t.Fatalf("records = %d, expected 5", len(res.Records))
	}

	// Merged cover cells repeat the origin's value.
	for i := 0; i < 3; i++ {
		v, ok := res.Records[i].Get("B1")
		if !ok || v != models.Text("north") {
			t.Errorf("record %d B1 = %#v, expected north", res.Records[i].Index, v)
		}
	}
	if v, _ := res.Records[1].Get("C1"); v != models.Text("") {
		t.Errorf("record 2 C1 = %#v, expected empty text", v)
	}

	absent, err := json.Marshal(res.Records[3])
	if err != nil {
		t.Fatal(err)
	}
	if string(absent) != `{"index":4}` {
		t.Errorf("absent row = %s, expected {\"index\":4}", absent)
	}
	if res.Records[4].Index != 5 {
		t.Errorf("last record index = %d, expected 5", res.Records[4].Index)
	}
}

func TestConvertRejectsUnknownMode(t *testing.T) {
	doc := openDocument(t, "groups.xlsx", mergedWorkbook(t))
	if _, err := NewConverter(nil, nil).Convert(context.Background(), doc, Mode("columnar")); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := NewConverter(nil, nil).Convert(context.Background(), nil, ModeBasic); err == nil {
		t.Error("expected error for nil document")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input    string
		expected Mode
		wantErr  bool
	}{
		{"", ModeBasic, false},
		{"basic", ModeBasic, false},
		{" Row-Object ", ModeRowObject, false},
		{"rows", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.input)
		if (err != nil) != tt.wantErr || got != tt.expected {
			t.Errorf("ParseMode(%q) = %q, %v; expected %q", tt.input, got, err, tt.expected)
		}
	}
}

// recordingSink keeps stored payloads in memory and hands out mem:// refs.
type recordingSink struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *recordingSink) Store(_ context.Context, key string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return "mem://" + key, nil
}

// attachmentWorkbook builds a sheet with a picture on the merged block
// B2:B3 and an OLE object at C2 whose embedding is a truncated compound
// file.
func attachmentWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	check := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("building fixture: %v", err)
		}
	}

	values := map[string]interface{}{
		"A1": "Item", "B1": "Photo", "C1": "Manual",
		"A2": "cat", "B2": "photo", "C2": "manual.pdf",
		"A3": "dog",
	}
	for cell, v := range values {
		check(f.SetCellValue("Sheet1", cell, v))
	}
	check(f.MergeCell("Sheet1", "B2", "B3"))

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var pic bytes.Buffer
	check(png.Encode(&pic, img))
	check(f.AddPictureFromBytes("Sheet1", "B2", &excelize.Picture{
		Extension: ".png",
		File:      pic.Bytes(),
		Format:    &excelize.GraphicOptions{},
	}))
	buf, err := f.WriteToBuffer()
	check(err)

	const ole = `<oleObjects><oleObject progId="Package" shapeId="1025" r:id="rIdOle1">` +
		`<objectPr><anchor><from><col>2</col><colOff>0</colOff><row>1</row><rowOff>0</rowOff></from></anchor></objectPr>` +
		`</oleObject></oleObjects></worksheet>`
	const rel = `<Relationship Id="rIdOle1" ` +
		`Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/oleObject" ` +
		`Target="../embeddings/oleObject1.bin"/></Relationships>`
	truncated := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 40)...)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	check(err)
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, zf := range zr.File {
		rc, err := zf.Open()
		check(err)
		content, err := io.ReadAll(rc)
		rc.Close()
		check(err)
		switch zf.Name {
		case "xl/worksheets/sheet1.xml":
			content = []byte(strings.Replace(string(content), "</worksheet>", ole, 1))
		case "xl/worksheets/_rels/sheet1.xml.rels":
			content = []byte(strings.Replace(string(content), "</Relationships>", rel, 1))
		}
		w, err := zw.Create(zf.Name)
		check(err)
		_, err = w.Write(content)
		check(err)
	}
	w, err := zw.Create("xl/embeddings/oleObject1.bin")
	check(err)
	_, err = w.Write(truncated)
	check(err)
	check(zw.Close())
	return out.Bytes()
}

func TestConvertSubstitutesExtractedObjects(t *testing.T) {
	sink := &recordingSink{}
	extractor := parser.NewExtractor(sink, nil)
	converter := NewConverter(extractor, nil)
	ctx := context.Background()

	isPictureRef := func(v models.CellValue) bool {
		ref, _ := v.Value.(string)
		return v.Type == models.TypeFile && strings.HasPrefix(ref, "mem://attachment/") && strings.HasSuffix(ref, "_pets_1-B2.png")
	}

	t.Run("basic", func(t *testing.T) {
		res, err := converter.Convert(ctx, openDocument(t, "pets.xlsx", attachmentWorkbook(t)), ModeBasic)
		if err != nil {
			t.Fatalf("Convert() error: %v", err)
		}
		cells := make(map[string]models.CellValue)
		for _, row := range res.Sheets[0].Rows {
			for _, col := range row.Columns {
				cells[fmt.Sprintf("%s%d", col.ColIndex, row.RowIndex)] = models.CellValue{Type: col.Type, Value: col.Value}
			}
		}
		if !isPictureRef(cells["B2"]) {
			t.Errorf("B2 = %#v, expected the picture reference", cells["B2"])
		}
		if cells["C2"] != models.Text("manual.pdf") {
			t.Errorf("C2 = %#v, expected its own text", cells["C2"])
		}
		if cells["B3"] != models.Text("") {
			t.Errorf("B3 = %#v, expected an empty cover", cells["B3"])
		}
	})

	t.Run("row-object", func(t *testing.T) {
		res, err := converter.Convert(ctx, openDocument(t, "pets.xlsx", attachmentWorkbook(t)), ModeRowObject)
		if err != nil {
			t.Fatalf("Convert() error: %v", err)
		}
		if len(res.Records) != 2 {
			t.Fatalf("records = %d, expected 2", len(res.Records))
		}
		for _, rec := range res.Records {
			fields := make(map[string]models.CellValue)
			for _, f := range rec.Cells {
				fields[f.Key] = f.Value
			}
			if !isPictureRef(fields["B1"]) {
				t.Errorf("record %d B1 = %#v, expected the origin's picture reference", rec.Index, fields["B1"])
			}
		}
		if got := res.Records[0].Cells[2].Value; got != models.Text("manual.pdf") {
			t.Errorf("record 1 C1 = %#v, expected its own text", got)
		}
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.objects) == 0 {
		t.Fatal("nothing was stored")
	}
	for key := range sink.objects {
		if !strings.HasSuffix(key, "_pets_1-B2.png") {
			t.Errorf("stored %s, expected only the picture", key)
		}
	}
}
