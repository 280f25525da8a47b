package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// HeaderField maps one header column key (e.g. "B1") to its display text.
type HeaderField struct {
	Key  string
	Text string
}

// Header is the row-object header. It marshals to a JSON object whose keys
// keep column order.
type Header []HeaderField

// Field is one column entry of a RowObject.
type Field struct {
	Key   string
	Value CellValue
}

// RowObject is one data row in row-object mode. It marshals to
// {"index":n,"A1":{...},"B1":{...}} with keys in column order.
type RowObject struct {
	// Index is the row's position below the header (the first data row is 1).
	Index int
	// Cells holds the row's values keyed by header column key.
	Cells []Field
}

// Get returns the value stored under key.
func (r RowObject) Get(key string) (CellValue, bool) {
	for _, f := range r.Cells {
		if f.Key == key {
			return f.Value, true
		}
	}
	return CellValue{}, false
}

// Get returns the header text stored under key.
func (h Header) Get(key string) (string, bool) {
	for _, f := range h {
		if f.Key == key {
			return f.Text, true
		}
	}
	return "", false
}

func (h Header) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, f.Key, f.Text); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var out Header
	err := decodeObject(data, func(key string, raw json.RawMessage) error {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return fmt.Errorf("header %s: %w", key, err)
		}
		out = append(out, HeaderField{Key: key, Text: text})
		return nil
	})
	if err != nil {
		return err
	}
	*h = out
	return nil
}

func (r RowObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, "index", r.Index); err != nil {
		return nil, err
	}
	for _, f := range r.Cells {
		buf.WriteByte(',')
		if err := writeMember(&buf, f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *RowObject) UnmarshalJSON(data []byte) error {
	var out RowObject
	err := decodeObject(data, func(key string, raw json.RawMessage) error {
		if key == "index" {
			return json.Unmarshal(raw, &out.Index)
		}
		var v CellValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("cell %s: %w", key, err)
		}
		out.Cells = append(out.Cells, Field{Key: key, Value: v})
		return nil
	})
	if err != nil {
		return err
	}
	*r = out
	return nil
}

func writeMember(buf *bytes.Buffer, key string, value interface{}) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// decodeObject walks the members of a JSON object in document order.
func decodeObject(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
