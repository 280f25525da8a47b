package parser

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Office drawing record types.
const (
	escherDggContainer    = 0xF000
	escherBStoreContainer = 0xF001
	escherDgContainer     = 0xF002
	escherSpgrContainer   = 0xF003
	escherSpContainer     = 0xF004
	escherBSE             = 0xF007
	escherSp              = 0xF00A
	escherOPT             = 0xF00B
	escherClientAnchor    = 0xF010
	escherBlipEMF         = 0xF01A
	escherBlipWMF         = 0xF01B
	escherBlipPICT        = 0xF01C
	escherBlipFirst       = 0xF018
	escherBlipLast        = 0xF117

	spFlagGroup     = 0x0001
	spFlagPatriarch = 0x0004

	propBlipIndex = 0x0104
)

// OBJ sub-record types and the picture object type.
const (
	ftEnd      = 0x00
	ftPictFmla = 0x09
	ftLbsData  = 0x13
	ftCmo      = 0x15
	otPicture  = 0x08
)

type escherRecord struct {
	ver  uint16
	inst uint16
	typ  uint16
	data []byte
}

// escherRecords splits buf into sibling records. A truncated trailing
// record is clipped to the bytes present.
func escherRecords(buf []byte) []escherRecord {
	var out []escherRecord
	for len(buf) >= 8 {
		verInst := binary.LittleEndian.Uint16(buf)
		typ := binary.LittleEndian.Uint16(buf[2:])
		size := int(binary.LittleEndian.Uint32(buf[4:]))
		end := 8 + size
		if end > len(buf) {
			end = len(buf)
		}
		out = append(out, escherRecord{
			ver:  verInst & 0x0F,
			inst: verInst >> 4,
			typ:  typ,
			data: buf[8:end],
		})
		buf = buf[end:]
	}
	return out
}

// blip is a picture held in the workbook's blip store.
type blip struct {
	typ        uint16
	data       []byte
	compressed bool
}

// readBlipStore returns the blips of the drawing group in store order;
// the shape property that references them is 1-based. Entries whose
// picture lives outside the record are nil.
func readBlipStore(group []byte) []*blip {
	var store []*blip
	for _, dgg := range escherRecords(group) {
		if dgg.typ != escherDggContainer {
			continue
		}
		for _, child := range escherRecords(dgg.data) {
			if child.typ != escherBStoreContainer {
				continue
			}
			for _, bse := range escherRecords(child.data) {
				if bse.typ != escherBSE {
					store = append(store, nil)
					continue
				}
				store = append(store, parseBSE(bse.data))
			}
		}
	}
	return store
}

func parseBSE(data []byte) *blip {
	const headerLen = 36
	if len(data) < headerLen {
		return nil
	}
	nameLen := int(data[33])
	if headerLen+nameLen >= len(data) {
		return nil
	}
	recs := escherRecords(data[headerLen+nameLen:])
	if len(recs) == 0 {
		return nil
	}
	return parseBlip(recs[0])
}

func parseBlip(rec escherRecord) *blip {
	if rec.typ < escherBlipFirst || rec.typ > escherBlipLast {
		return nil
	}
	uids := 16
	if rec.inst&0x01 != 0 {
		uids = 32
	}
	switch rec.typ {
	case escherBlipEMF, escherBlipWMF, escherBlipPICT:
		// Metafile header: sizes, bounds, saved size, compression, filter.
		const metaHeader = 34
		if uids+metaHeader > len(rec.data) {
			return nil
		}
		compression := rec.data[uids+32]
		return &blip{typ: rec.typ, data: rec.data[uids+metaHeader:], compressed: compression == 0}
	default:
		// Bitmaps carry a one byte tag after the ids.
		if uids+1 > len(rec.data) {
			return nil
		}
		return &blip{typ: rec.typ, data: rec.data[uids+1:]}
	}
}

// blipStrategy reads a picture out of the blip store.
type blipStrategy struct {
	blip *blip
}

func (s *blipStrategy) Name() string { return "blip-store" }

func (s *blipStrategy) Payload() ([]byte, error) {
	if s.blip == nil {
		return nil, errEmptyPayload
	}
	if !s.blip.compressed {
		return s.blip.data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(s.blip.data))
	if err != nil {
		return nil, fmt.Errorf("metafile blip: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// drawingShape is a shape of a sheet drawing.
type drawingShape struct {
	patriarch bool
	group     bool
	blipIndex int
	row, col  int
	anchored  bool
}

// readDrawingShapes returns the shapes of a sheet drawing in stream order,
// which is the order of the sheet's OBJ records.
func readDrawingShapes(drawing []byte) []drawingShape {
	var shapes []drawingShape
	var walk func([]byte)
	walk = func(buf []byte) {
		for _, rec := range escherRecords(buf) {
			switch rec.typ {
			case escherDgContainer, escherSpgrContainer:
				walk(rec.data)
			case escherSpContainer:
				shapes = append(shapes, parseShape(rec.data))
			}
		}
	}
	walk(drawing)
	return shapes
}

func parseShape(buf []byte) drawingShape {
	var sh drawingShape
	for _, rec := range escherRecords(buf) {
		switch rec.typ {
		case escherSp:
			if len(rec.data) >= 8 {
				flags := binary.LittleEndian.Uint32(rec.data[4:])
				sh.patriarch = flags&spFlagPatriarch != 0
				sh.group = flags&spFlagGroup != 0
			}
		case escherOPT:
			for i := 0; i < int(rec.inst) && 6*i+6 <= len(rec.data); i++ {
				id := binary.LittleEndian.Uint16(rec.data[6*i:]) & 0x3FFF
				if id == propBlipIndex {
					sh.blipIndex = int(binary.LittleEndian.Uint32(rec.data[6*i+2:]))
				}
			}
		case escherClientAnchor:
			if len(rec.data) >= 8 {
				sh.col = int(binary.LittleEndian.Uint16(rec.data[2:]))
				sh.row = int(binary.LittleEndian.Uint16(rec.data[6:]))
				sh.anchored = true
			}
		}
	}
	return sh
}

// objRecord is the part of an OBJ record needed to find an embedded
// object: its type and, for OLE objects, the storage holding it.
type objRecord struct {
	id      int
	typ     int
	storage string
}

func parseObj(data []byte) objRecord {
	var obj objRecord
	for len(data) >= 4 {
		ft := binary.LittleEndian.Uint16(data)
		cb := int(binary.LittleEndian.Uint16(data[2:]))
		if ft == ftEnd || ft == ftLbsData || 4+cb > len(data) {
			break
		}
		sub := data[4 : 4+cb]
		switch ft {
		case ftCmo:
			if len(sub) >= 4 {
				obj.typ = int(binary.LittleEndian.Uint16(sub))
				obj.id = int(binary.LittleEndian.Uint16(sub[2:]))
			}
		case ftPictFmla:
			if len(sub) >= 2 {
				fmlaLen := int(binary.LittleEndian.Uint16(sub))
				if fmlaLen > 0 && 2+fmlaLen+4 <= len(sub) {
					pos := binary.LittleEndian.Uint32(sub[2+fmlaLen:])
					obj.storage = fmt.Sprintf("MBD%08X", pos)
				}
			}
		}
		data = data[4+cb:]
	}
	return obj
}
