package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strconv"
	"strings"
)

// Relationship type suffixes used to find a sheet's object parts.
const (
	relDrawing    = "/drawing"
	relVMLDrawing = "/vmlDrawing"
)

type relationship struct {
	Type   string
	Target string
}

type relationships map[string]relationship

// firstOfType returns the target of the first relationship whose type ends
// with suffix.
func (rels relationships) firstOfType(suffix string) string {
	for _, rel := range rels {
		if strings.HasSuffix(rel.Type, suffix) {
			return rel.Target
		}
	}
	return ""
}

type workbookSheet struct {
	Name  string
	RelID string
}

// drawingAnchor is one anchored object of a drawing part.
type drawingAnchor struct {
	Row, Col int
	HasCell  bool
	ShapeID  string
	Picture  bool
	Embed    string
}

// oleObjectRef is one <oleObject> entry of a worksheet.
type oleObjectRef struct {
	ShapeID   string
	RelID     string
	ProgID    string
	Row, Col  int
	HasAnchor bool
}

// discover walks every worksheet's drawing, VML and OLE parts and returns
// the embedded objects anchored to cells.
func (p *xlsxPackage) discover(logger *slog.Logger) []*candidate {
	parts, err := worksheetParts(p.zip)
	if err != nil {
		logger.Warn("Workbook part unreadable, skipping embedded objects.", "error", err)
		return nil
	}

	var out []*candidate
	for sheetIndex, name := range p.sheets {
		part, ok := parts[name]
		if !ok {
			continue
		}
		found := p.discoverSheet(sheetIndex, name, part, logger.With("sheet", name))
		out = append(out, found...)
	}
	return out
}

// worksheetParts maps sheet names to their worksheet part paths.
func worksheetParts(r *zip.Reader) (map[string]string, error) {
	workbookXML, err := readZipFile(r, "xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	wbRels := readRelationships(r, "xl/workbook.xml")

	parts := make(map[string]string)
	for _, ws := range parseWorkbookSheets(workbookXML) {
		rel, ok := wbRels[ws.RelID]
		if !ok || !strings.Contains(strings.ToLower(rel.Type), "worksheet") {
			continue
		}
		parts[ws.Name] = rel.Target
	}
	return parts, nil
}

func (p *xlsxPackage) discoverSheet(sheetIndex int, sheetName, sheetPath string, logger *slog.Logger) []*candidate {
	rels := readRelationships(p.zip, sheetPath)
	seen := make(map[[2]int]bool)
	var out []*candidate

	var anchors []drawingAnchor
	var drawingRels relationships
	if drawingPath := rels.firstOfType(relDrawing); drawingPath != "" {
		data, err := readZipFile(p.zip, drawingPath)
		if err != nil {
			logger.Warn("Drawing part unreadable.", "part", drawingPath, "error", err)
		} else {
			anchors = parseDrawingAnchors(data)
			drawingRels = readRelationships(p.zip, drawingPath)
		}
	}

	for _, a := range anchors {
		if !a.Picture || !a.HasCell {
			continue
		}
		cell := CellName(a.Row, a.Col)
		c := &candidate{sheetIndex: sheetIndex, sheet: sheetName, row: a.Row, col: a.Col, kind: kindPicture}
		c.strategies = append(c.strategies, &cellPictureStrategy{pkg: p, sheet: sheetName, cell: cell})
		if rel, ok := drawingRels[a.Embed]; ok {
			c.strategies = append(c.strategies, &packagePartStrategy{zip: p.zip, part: rel.Target})
		}
		seen[[2]int{a.Row, a.Col}] = true
		out = append(out, c)
	}

	// Pictures placed in cells do not appear in the drawing part.
	p.mu.Lock()
	cells, err := p.file.GetPictureCells(sheetName)
	p.mu.Unlock()
	if err != nil {
		logger.Debug("Cell pictures unavailable.", "error", err)
	}
	for _, ref := range cells {
		row, col, err := ParseCellName(ref)
		if err != nil || seen[[2]int{row, col}] {
			continue
		}
		seen[[2]int{row, col}] = true
		out = append(out, &candidate{
			sheetIndex: sheetIndex, sheet: sheetName, row: row, col: col, kind: kindPicture,
			strategies: []payloadStrategy{&cellPictureStrategy{pkg: p, sheet: sheetName, cell: ref}},
		})
	}

	sheetXML, err := readZipFile(p.zip, sheetPath)
	if err != nil {
		logger.Warn("Worksheet part unreadable.", "part", sheetPath, "error", err)
		return out
	}
	objects := parseOLEObjects(sheetXML)
	if len(objects) == 0 {
		return out
	}
	var vml map[string][2]int
	if vmlPath := rels.firstOfType(relVMLDrawing); vmlPath != "" {
		if data, err := readZipFile(p.zip, vmlPath); err == nil {
			vml = parseVMLAnchors(data)
		}
	}
	for _, obj := range objects {
		row, col, ok := resolveOLEAnchor(obj, vml, anchors)
		if !ok {
			logger.Warn("OLE object has no cell anchor, skipping.", "shapeId", obj.ShapeID, "progId", obj.ProgID)
			continue
		}
		rel, ok := rels[obj.RelID]
		if !ok {
			logger.Warn("OLE object relationship missing, skipping.", "shapeId", obj.ShapeID, "relId", obj.RelID)
			continue
		}
		storage := &compoundPart{zip: p.zip, part: rel.Target}
		c := &candidate{sheetIndex: sheetIndex, sheet: sheetName, row: row, col: col, kind: kindOLE}
		c.strategies = []payloadStrategy{
			&oleNativeStrategy{storage: storage},
			&oleStreamStrategy{storage: storage, stream: streamPackage},
			&oleStreamStrategy{storage: storage, stream: streamContents},
			&packagePartStrategy{zip: p.zip, part: rel.Target, compound: storage},
		}
		out = append(out, c)
	}
	return out
}

// resolveOLEAnchor finds the top-left cell of an OLE object from, in order,
// its objectPr anchor, the legacy VML shape anchor and a drawing anchor with
// the same shape id.
func resolveOLEAnchor(obj oleObjectRef, vml map[string][2]int, anchors []drawingAnchor) (int, int, bool) {
	if obj.HasAnchor {
		return obj.Row, obj.Col, true
	}
	if pos, ok := vml[obj.ShapeID]; ok {
		return pos[0], pos[1], true
	}
	for _, a := range anchors {
		if a.HasCell && a.ShapeID != "" && a.ShapeID == obj.ShapeID {
			return a.Row, a.Col, true
		}
	}
	return 0, 0, false
}

// parseDrawingAnchors lists the anchors of a DrawingML part.
func parseDrawingAnchors(data []byte) []drawingAnchor {
	var results []drawingAnchor

	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		if se, ok := token.(xml.StartElement); ok {
			switch se.Name.Local {
			case "twoCellAnchor", "oneCellAnchor", "absoluteAnchor":
				results = append(results, parseObjectAnchor(decoder))
			}
		}
	}

	return results
}

// parseObjectAnchor reads one anchor element after its start token.
func parseObjectAnchor(decoder *xml.Decoder) drawingAnchor {
	var a drawingAnchor
	var hasRow, hasCol bool
	inFrom := false
	depth := 1

	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "from":
				inFrom = true
			case "col", "row":
				if !inFrom {
					continue
				}
				text, err := readElementText(decoder)
				depth--
				if err != nil {
					continue
				}
				n, err := strconv.Atoi(strings.TrimSpace(text))
				if err != nil {
					continue
				}
				if t.Name.Local == "col" {
					a.Col, hasCol = n, true
				} else {
					a.Row, hasRow = n, true
				}
			case "pic":
				a.Picture = true
			case "cNvPr":
				if a.ShapeID == "" {
					a.ShapeID = attrValue(t, "id")
				}
			case "blip":
				if a.Picture && a.Embed == "" {
					a.Embed = attrValue(t, "embed")
				}
			}
		case xml.EndElement:
			depth--
			if t.Name.Local == "from" {
				inFrom = false
			}
		}
	}

	a.HasCell = hasRow && hasCol
	return a
}

// parseOLEObjects lists the <oleObject> entries of a worksheet. Entries that
// appear twice (mc:Choice and mc:Fallback) are merged by shape id.
func parseOLEObjects(data []byte) []oleObjectRef {
	var results []oleObjectRef
	byShape := make(map[string]int)

	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := token.(xml.StartElement)
		if !ok || se.Name.Local != "oleObject" {
			continue
		}
		obj := oleObjectRef{
			ShapeID: attrValue(se, "shapeId"),
			RelID:   attrValue(se, "id"),
			ProgID:  attrValue(se, "progId"),
		}
		obj.Row, obj.Col, obj.HasAnchor = parseObjectPr(decoder)

		if i, ok := byShape[obj.ShapeID]; ok && obj.ShapeID != "" {
			if !results[i].HasAnchor && obj.HasAnchor {
				results[i].Row, results[i].Col, results[i].HasAnchor = obj.Row, obj.Col, true
			}
			if results[i].RelID == "" {
				results[i].RelID = obj.RelID
			}
			continue
		}
		byShape[obj.ShapeID] = len(results)
		results = append(results, obj)
	}

	return results
}

// parseObjectPr reads the rest of an <oleObject> element and returns the
// cell of its objectPr/anchor/from marker.
func parseObjectPr(decoder *xml.Decoder) (row, col int, ok bool) {
	var hasRow, hasCol bool
	inFrom := false
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "from":
				inFrom = true
			case "col", "row":
				if !inFrom {
					continue
				}
				text, err := readElementText(decoder)
				depth--
				if err != nil {
					continue
				}
				n, err := strconv.Atoi(strings.TrimSpace(text))
				if err != nil {
					continue
				}
				if t.Name.Local == "col" {
					col, hasCol = n, true
				} else {
					row, hasRow = n, true
				}
			}
		case xml.EndElement:
			depth--
			if t.Name.Local == "from" {
				inFrom = false
			}
		}
	}
	return row, col, hasRow && hasCol
}

// parseVMLAnchors maps numeric shape ids of a legacy VML drawing to the
// (row, col) of their x:Anchor. VML is loosely formed, so the decoder runs
// in non-strict mode.
func parseVMLAnchors(data []byte) map[string][2]int {
	result := make(map[string][2]int)

	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	var shapeID string
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "shape":
			shapeID = vmlShapeNumber(attrValue(se, "spid"))
			if shapeID == "" {
				shapeID = vmlShapeNumber(attrValue(se, "id"))
			}
		case "Anchor":
			text, err := readElementText(decoder)
			if err != nil || shapeID == "" {
				continue
			}
			// LeftColumn, LeftOffset, TopRow, TopOffset, RightColumn, ...
			fields := strings.Split(text, ",")
			if len(fields) < 4 {
				continue
			}
			col, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
			row, err2 := strconv.Atoi(strings.TrimSpace(fields[2]))
			if err1 != nil || err2 != nil {
				continue
			}
			result[shapeID] = [2]int{row, col}
		}
	}

	return result
}

// vmlShapeNumber turns "_x0000_s1025" into "1025".
func vmlShapeNumber(id string) string {
	i := strings.LastIndexByte(id, 's')
	if i < 0 {
		return ""
	}
	if _, err := strconv.Atoi(id[i+1:]); err != nil {
		return ""
	}
	return id[i+1:]
}

// Helper functions

func attrValue(se xml.StartElement, local string) string {
	for _, attr := range se.Attr {
		if attr.Name.Local == local {
			return attr.Value
		}
	}
	return ""
}

func readZipFile(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("part %s: %w", name, fs.ErrNotExist)
}

func readElementText(decoder *xml.Decoder) (string, error) {
	var text strings.Builder
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return text.String(), err
		}
		switch t := token.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return text.String(), nil
}

// resolvePartPath resolves a relationship target against the part that
// owns the relationship.
func resolvePartPath(source, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Join(path.Dir(source), target)
}

// relsPath returns the relationships part of a package part.
func relsPath(part string) string {
	return path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
}

// readRelationships loads the relationships of part with resolved targets.
// A missing relationships part yields an empty set.
func readRelationships(r *zip.Reader, part string) relationships {
	data, err := readZipFile(r, relsPath(part))
	if err != nil {
		return relationships{}
	}
	return parseRelationships(data, part)
}

func parseRelationships(data []byte, source string) relationships {
	result := make(relationships)
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		if se, ok := token.(xml.StartElement); ok && se.Name.Local == "Relationship" {
			id := attrValue(se, "Id")
			target := attrValue(se, "Target")
			if id == "" || target == "" || attrValue(se, "TargetMode") == "External" {
				continue
			}
			result[id] = relationship{
				Type:   attrValue(se, "Type"),
				Target: resolvePartPath(source, target),
			}
		}
	}

	return result
}

func parseWorkbookSheets(data []byte) []workbookSheet {
	var result []workbookSheet
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		if se, ok := token.(xml.StartElement); ok && se.Name.Local == "sheet" {
			var name, rID string
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "name":
					name = attr.Value
				case "id":
					rID = attr.Value
				}
			}
			if name != "" && rID != "" {
				result = append(result, workbookSheet{Name: name, RelID: rID})
			}
		}
	}

	return result
}
