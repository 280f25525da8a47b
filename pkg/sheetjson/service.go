package sheetjson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/cache"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/models"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/session"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/source"
)

// ResetMessage is what a successful Reset reports.
const ResetMessage = "Success: Session reset to 0"

// Resolver retrieves the document a reference names.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*source.Document, error)
}

// Service is the conversion and session API.
type Service struct {
	resolver  Resolver
	converter *Converter
	cache     *cache.Cache
	sessions  *session.Store
	logger    *slog.Logger
}

// NewService wires a Service. sink receives extracted embedded objects and
// may be nil to skip extraction; store may be nil to disable caching. The
// session sweeper runs until Close.
func NewService(resolver Resolver, sink parser.Sink, store cache.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	var extractor *parser.Extractor
	if sink != nil {
		extractor = parser.NewExtractor(sink, logger.With("component", "extractor"),
			parser.WithWorkers(opts.Workers),
			parser.WithKeyPrefix(opts.KeyPrefix),
		)
	}
	s := &Service{
		resolver:  resolver,
		converter: NewConverter(extractor, logger.With("component", "converter")),
		sessions:  session.New(opts.Session, logger),
		logger:    logger,
	}
	if store != nil {
		s.cache = cache.New(store, logger)
	}
	s.sessions.Start()
	return s
}

// Close stops the session sweeper.
func (s *Service) Close() error {
	return s.sessions.Close()
}

// Convert resolves ref and converts it in the given mode ("" for basic).
func (s *Service) Convert(ctx context.Context, ref, mode string) (*models.Result, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	doc, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.ConvertDocument(ctx, doc, m)
}

// ConvertDocument converts an already retrieved document.
func (s *Service) ConvertDocument(ctx context.Context, doc *source.Document, mode Mode) (*models.Result, error) {
	if _, err := parser.DetectFormat(doc.Name); err != nil {
		return nil, err
	}
	logCtx := s.logger.With("document", doc.Name, "mode", mode)

	compute := func(hash string) (*models.Result, error) {
		pd, err := parser.Open(doc.Name, doc.Data)
		if err != nil {
			format, _ := parser.DetectFormat(doc.Name)
			return nil, &ParseError{Format: format, Err: err}
		}
		defer pd.Close()
		res, err := s.converter.Convert(ctx, pd, mode)
		if err != nil {
			return nil, err
		}
		res.ContentHash = hash
		return res, nil
	}

	if s.cache == nil {
		return compute(cache.Hash(doc.Data))
	}
	res, hit, err := s.cache.GetOrCompute(ctx, doc.Data, string(mode), compute)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Conversion finished.", "cacheHit", hit)
	return res, nil
}

// Open converts ref and opens a session over its rows with the cursor at
// offset. Basic mode flattens the rows of all sheets, tagging each row with
// its sheet; row-object sessions also return the header on every read.
func (s *Service) Open(ctx context.Context, ref, mode string, offset int) (string, error) {
	res, err := s.Convert(ctx, ref, mode)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", ErrEmptyResult
	}
	if res.Empty() {
		s.logger.Info("Opening session over a document without rows.", "document", ref, "mode", res.Mode)
	}

	var rows []any
	var header any
	if res.IsRowObject() {
		rows = make([]any, 0, len(res.Records))
		for _, rec := range res.Records {
			rows = append(rows, rec)
		}
		header = res.Header
	} else {
		for _, sheet := range res.Sheets {
			for _, row := range sheet.Rows {
				row.Sheet = sheet.Sheet
				rows = append(rows, row)
			}
		}
	}
	return s.sessions.Open(rows, header, offset), nil
}

// Read returns the session's next row, or an EOF page once every row has
// been read.
func (s *Service) Read(id string) (session.Page, error) {
	return s.sessions.Read(id)
}

// Reset rewinds the session to its first row.
func (s *Service) Reset(id string) (string, error) {
	if err := s.sessions.Reset(id); err != nil {
		return "", err
	}
	return ResetMessage, nil
}

// ErrorMessage renders err for tool callers.
func ErrorMessage(err error) string {
	var pe *ParseError
	switch {
	case errors.Is(err, ErrEmptyResult):
		return "Failed to parse Excel file or file is empty."
	case errors.Is(err, ErrSessionNotFound):
		return "Session expired or invalid"
	case errors.As(err, &pe):
		return fmt.Sprintf("Failed to parse %s file: %v", pe.Format, pe.Err)
	}
	return err.Error()
}
