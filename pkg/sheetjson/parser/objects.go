package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/models"
	"golang.org/x/sync/errgroup"
)

const (
	kindPicture = "picture"
	kindOLE     = "ole"
)

// DefaultKeyPrefix is the namespace of attachment keys.
const DefaultKeyPrefix = "attachment"

// DefaultWorkers bounds concurrent extractions per document.
const DefaultWorkers = 8

var errEmptyPayload = errors.New("empty payload")

// Sink persists extracted payloads and returns a reference to them,
// usually a URL.
type Sink interface {
	Store(ctx context.Context, key string, r io.Reader, size int64) (string, error)
}

// ExtractionError reports why an embedded object could not be extracted.
type ExtractionError struct {
	SheetName string
	Cell      string
	Strategy  string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error in sheet %q at %s (%s): %v", e.SheetName, e.Cell, e.Strategy, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// payloadStrategy is one way of reading an embedded object's bytes.
type payloadStrategy interface {
	Name() string
	Payload() ([]byte, error)
}

// candidate is an embedded object found on a sheet, with its payload
// strategies in priority order.
type candidate struct {
	sheetIndex int
	sheet      string
	row, col   int
	kind       string
	strategies []payloadStrategy
}

func (c *candidate) cell() string {
	return CellName(c.row, c.col)
}

// packagePartStrategy reads a part of the xlsx package as is. When the part
// is an OLE embedding, a part carrying the compound file signature must also
// parse as one; a truncated or damaged container yields no payload.
type packagePartStrategy struct {
	zip      *zip.Reader
	part     string
	compound *compoundPart
}

func (s *packagePartStrategy) Name() string { return "package-part" }

func (s *packagePartStrategy) Payload() ([]byte, error) {
	data, err := readZipFile(s.zip, s.part)
	if err != nil {
		return nil, err
	}
	if s.compound != nil && bytes.HasPrefix(data, compoundSignature) {
		if err := s.compound.load(); err != nil {
			return nil, fmt.Errorf("corrupt compound file: %w", err)
		}
	}
	return data, nil
}

// cellPictureStrategy asks excelize for the picture anchored at a cell,
// which also covers pictures placed inside cells.
type cellPictureStrategy struct {
	pkg   *xlsxPackage
	sheet string
	cell  string
}

func (s *cellPictureStrategy) Name() string { return "cell-picture" }

func (s *cellPictureStrategy) Payload() ([]byte, error) {
	s.pkg.mu.Lock()
	pics, err := s.pkg.file.GetPictures(s.sheet, s.cell)
	s.pkg.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, pic := range pics {
		if len(pic.File) > 0 {
			return pic.File, nil
		}
	}
	return nil, errEmptyPayload
}

// ObjectRefs maps extracted objects to their sink references by sheet and
// cell.
type ObjectRefs struct {
	refs map[int]map[string]string
	// Objects lists every extracted object ordered by sheet, row and column.
	Objects []models.EmbeddedObject
}

func newObjectRefs() *ObjectRefs {
	return &ObjectRefs{refs: make(map[int]map[string]string)}
}

// Lookup returns the reference of the object anchored at cell.
func (o *ObjectRefs) Lookup(sheetIndex int, cell string) (string, bool) {
	if o == nil {
		return "", false
	}
	ref, ok := o.refs[sheetIndex][cell]
	return ref, ok
}

// Len returns the number of extracted objects.
func (o *ObjectRefs) Len() int {
	if o == nil {
		return 0
	}
	return len(o.Objects)
}

func (o *ObjectRefs) add(obj models.EmbeddedObject) {
	m, ok := o.refs[obj.SheetIndex]
	if !ok {
		m = make(map[string]string)
		o.refs[obj.SheetIndex] = m
	}
	m[obj.Cell] = obj.Reference
	o.Objects = append(o.Objects, obj)
}

// Extractor pulls embedded objects out of documents and hands them to a
// Sink on a bounded worker pool.
type Extractor struct {
	sink    Sink
	workers int
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

// ExtractorOption customizes an Extractor.
type ExtractorOption func(*Extractor)

// WithWorkers sets the number of concurrent extractions.
func WithWorkers(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithKeyPrefix sets the namespace of generated keys.
func WithKeyPrefix(prefix string) ExtractorOption {
	return func(e *Extractor) {
		if prefix = strings.Trim(prefix, "/"); prefix != "" {
			e.prefix = prefix
		}
	}
}

// WithClock replaces the time source used for key timestamps.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExtractor returns an Extractor writing to sink. A nil sink disables
// extraction.
func NewExtractor(sink Sink, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		sink:    sink,
		workers: DefaultWorkers,
		prefix:  DefaultKeyPrefix,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract discovers the document's embedded objects, stores each through
// the sink and returns where they went. Failures are logged per object and
// never abort the others; Extract returns after every dispatched object has
// been stored or has failed.
func (e *Extractor) Extract(ctx context.Context, doc *Document) *ObjectRefs {
	refs := newObjectRefs()
	if e == nil || e.sink == nil || doc == nil || doc.objects == nil {
		return refs
	}

	logCtx := e.logger.With("document", doc.Name)
	candidates := doc.objects.discover(logCtx)
	if len(candidates) == 0 {
		return refs
	}
	logCtx.Info("Extracting embedded objects.", "count", len(candidates), "workers", e.workers)

	base := strings.TrimSuffix(filepath.Base(doc.Name), filepath.Ext(doc.Name))
	var mu sync.Mutex

	// Tasks log their own failures and always return nil.
	var eg errgroup.Group
	eg.SetLimit(e.workers)
	for _, c := range candidates {
		eg.Go(func() error {
			obj, err := e.extractOne(ctx, c, base)
			if err != nil {
				logCtx.Warn("Embedded object skipped.", "sheet", c.sheet, "cell", c.cell(), "kind", c.kind, "error", err)
				return nil
			}
			mu.Lock()
			refs.add(obj)
			mu.Unlock()
			return nil
		})
	}
	eg.Wait()

	sort.Slice(refs.Objects, func(i, j int) bool {
		a, b := refs.Objects[i], refs.Objects[j]
		if a.SheetIndex != b.SheetIndex {
			return a.SheetIndex < b.SheetIndex
		}
		ra, ca, _ := ParseCellName(a.Cell)
		rb, cb, _ := ParseCellName(b.Cell)
		if ra != rb {
			return ra < rb
		}
		return ca < cb
	})
	logCtx.Info("Embedded objects stored.", "stored", refs.Len(), "found", len(candidates))
	return refs
}

// extractOne runs the candidate's strategies in order and stores the first
// payload one of them produces.
func (e *Extractor) extractOne(ctx context.Context, c *candidate, base string) (models.EmbeddedObject, error) {
	var errs []error
	for _, s := range c.strategies {
		data, err := s.Payload()
		if err == nil && len(data) == 0 {
			err = errEmptyPayload
		}
		if err != nil {
			errs = append(errs, &ExtractionError{SheetName: c.sheet, Cell: c.cell(), Strategy: s.Name(), Err: err})
			continue
		}

		ext := SniffExtension(data)
		key := e.objectKey(base, c, ext)
		ref, err := e.sink.Store(ctx, key, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return models.EmbeddedObject{}, &ExtractionError{SheetName: c.sheet, Cell: c.cell(), Strategy: "sink", Err: err}
		}
		return models.EmbeddedObject{
			SheetIndex: c.sheetIndex,
			Sheet:      c.sheet,
			Cell:       c.cell(),
			Kind:       c.kind,
			Strategy:   s.Name(),
			Extension:  ext,
			Size:       int64(len(data)),
			Key:        key,
			Reference:  ref,
		}, nil
	}
	if len(errs) == 0 {
		return models.EmbeddedObject{}, &ExtractionError{SheetName: c.sheet, Cell: c.cell(), Strategy: "none", Err: errEmptyPayload}
	}
	return models.EmbeddedObject{}, errors.Join(errs...)
}

// objectKey builds <prefix>/<yyyyMMddHHmmssSSS>_<base>_<sheet>-<cell><ext>.
func (e *Extractor) objectKey(base string, c *candidate, ext string) string {
	now := e.now()
	stamp := fmt.Sprintf("%s%03d", now.Format("20060102150405"), now.Nanosecond()/int(time.Millisecond))
	return fmt.Sprintf("%s/%s_%s_%d-%s%s", e.prefix, stamp, base, c.sheetIndex+1, c.cell(), ext)
}
