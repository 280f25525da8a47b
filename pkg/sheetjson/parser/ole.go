package parser

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/richardlehane/mscfb"
)

// Stream names inside an embedded OLE storage.
const (
	streamOle10Native = "\x01Ole10Native"
	streamPackage     = "Package"
	streamContents    = "CONTENTS"
)

var errNoStream = errors.New("stream not present")

// compoundSignature opens every compound file.
var compoundSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// oleStorage gives access to the streams of one OLE storage.
type oleStorage interface {
	Stream(name string) ([]byte, error)
}

// compoundPart is an xlsx package part holding a compound file, such as
// xl/embeddings/oleObject1.bin. It is parsed once on first use.
type compoundPart struct {
	zip  *zip.Reader
	part string

	once    sync.Once
	streams storageStreams
	err     error
}

func (p *compoundPart) Stream(name string) ([]byte, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	return p.streams.Stream(name)
}

func (p *compoundPart) load() error {
	p.once.Do(func() {
		var data []byte
		data, p.err = readZipFile(p.zip, p.part)
		if p.err != nil {
			return
		}
		var cf *compoundFile
		if cf, p.err = readCompound(data); p.err == nil {
			p.streams = cf.root
		}
	})
	return p.err
}

// storageStreams is an already loaded storage, used for the MBD storages of
// an .xls file.
type storageStreams map[string][]byte

func (s storageStreams) Stream(name string) ([]byte, error) {
	b, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, errNoStream)
	}
	return b, nil
}

// oleNativeStrategy unwraps the file carried by an OLE Packager object.
type oleNativeStrategy struct {
	storage oleStorage
}

func (s *oleNativeStrategy) Name() string { return "ole10native" }

func (s *oleNativeStrategy) Payload() ([]byte, error) {
	raw, err := s.storage.Stream(streamOle10Native)
	if err != nil {
		return nil, err
	}
	return parseOle10Native(raw)
}

// oleStreamStrategy returns a named stream verbatim, e.g. the Package stream
// of an embedded Office document or the CONTENTS stream of an embedded PDF.
type oleStreamStrategy struct {
	storage oleStorage
	stream  string
}

func (s *oleStreamStrategy) Name() string { return "ole-stream:" + s.stream }

func (s *oleStreamStrategy) Payload() ([]byte, error) {
	return s.storage.Stream(s.stream)
}

// compoundFile is a parsed compound file: the streams of the root storage
// and of each first-level storage.
type compoundFile struct {
	root     storageStreams
	storages map[string]storageStreams
}

// readCompound loads every stream of a compound file that sits in the root
// storage or in a storage directly below it. Deeper streams are ignored.
func readCompound(data []byte) (*compoundFile, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	cf := &compoundFile{root: make(storageStreams), storages: make(map[string]storageStreams)}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Size == 0 {
			continue
		}
		path := storagePath(entry.Path)
		if len(path) > 1 {
			continue
		}
		b, err := io.ReadAll(entry)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", entry.Name, err)
		}
		if len(path) == 0 {
			cf.root[entry.Name] = b
			continue
		}
		s, ok := cf.storages[path[0]]
		if !ok {
			s = make(storageStreams)
			cf.storages[path[0]] = s
		}
		s[entry.Name] = b
	}
	return cf, nil
}

// storagePath drops the root entry that mscfb may report as the first
// element of a path.
func storagePath(path []string) []string {
	if len(path) > 0 && path[0] == "Root Entry" {
		return path[1:]
	}
	return path
}

// parseOle10Native extracts the embedded file from an Ole10Native stream:
// total size, type, label, source path, two reserved words, temp path,
// data size, data. Streams that only carry a size prefix are accepted too.
func parseOle10Native(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, errors.New("ole10native: stream too short")
	}
	if data, ok := parsePackagerNative(b); ok {
		return data, nil
	}
	if size := int(binary.LittleEndian.Uint32(b)); size > 0 && size <= len(b)-4 {
		return b[4 : 4+size], nil
	}
	return nil, errors.New("ole10native: unrecognized layout")
}

func parsePackagerNative(b []byte) ([]byte, bool) {
	p := 6
	skipString := func() bool {
		if p > len(b) {
			return false
		}
		i := bytes.IndexByte(b[p:], 0)
		if i < 0 {
			return false
		}
		p += i + 1
		return true
	}
	if !skipString() || !skipString() {
		return nil, false
	}
	p += 8
	if !skipString() {
		return nil, false
	}
	if p+4 > len(b) {
		return nil, false
	}
	size := int(binary.LittleEndian.Uint32(b[p:]))
	p += 4
	if size <= 0 || size > len(b)-p {
		return nil, false
	}
	return b[p : p+size], true
}
