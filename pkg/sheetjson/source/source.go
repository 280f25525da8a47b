// Package source resolves document references (HTTP(S) URLs, gs:// object
// URLs and local paths) to document bytes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// ErrFetchFailed is wrapped by every error that keeps a document from being
// retrieved.
var ErrFetchFailed = errors.New("fetch failed")

// Document is a retrieved document.
type Document struct {
	// Name is the display file name; its extension selects the reader.
	Name string
	// Path is the local copy, when there is one.
	Path string
	Data []byte
}

// Resolver retrieves documents.
type Resolver struct {
	stagingDir string
	client     *http.Client
	storage    *storage.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithStorageClient enables gs:// references.
func WithStorageClient(c *storage.Client) Option {
	return func(r *Resolver) { r.storage = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver returns a Resolver that stages downloads in stagingDir.
func NewResolver(stagingDir string, opts ...Option) *Resolver {
	r := &Resolver{
		stagingDir: stagingDir,
		client:     &http.Client{Timeout: 5 * time.Minute},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve retrieves the document ref names.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Document, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("%w: empty document reference", ErrFetchFailed)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return r.download(ctx, ref)
	case strings.HasPrefix(ref, "gs://"):
		return r.readObject(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		return readLocal(filepath.FromSlash(u.Path))
	}
	return readLocal(ref)
}

func readLocal(p string) (*Document, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file not found: %s", ErrFetchFailed, p)
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return &Document{Name: filepath.Base(p), Path: p, Data: data}, nil
}

// download fetches an HTTP(S) document into the staging directory as
// <unix millis><4 random chars>.<ext>.
func (r *Resolver) download(ctx context.Context, ref string) (*Document, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}
	logCtx := r.logger.With("url", u.Redacted())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetchFailed, u.Redacted(), resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s returned no content", ErrFetchFailed, u.Redacted())
	}

	doc := &Document{Name: name, Data: data}
	if r.stagingDir != "" {
		staged, err := r.stage(name, data)
		if err != nil {
			logCtx.Warn("Failed to stage download.", "error", err)
		} else {
			doc.Path = staged
		}
	}
	logCtx.Info("Document downloaded.", "bytes", len(data), "path", doc.Path)
	return doc, nil
}

func (r *Resolver) stage(name string, data []byte) (string, error) {
	if err := os.MkdirAll(r.stagingDir, 0o755); err != nil {
		return "", err
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	dest := filepath.Join(r.stagingDir, fmt.Sprintf("%d%s.%s", r.now().UnixMilli(), random, ext))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// readObject reads a gs://bucket/object reference.
func (r *Resolver) readObject(ctx context.Context, ref string) (*Document, error) {
	if r.storage == nil {
		return nil, fmt.Errorf("%w: gs:// references need a storage client", ErrFetchFailed)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(ref, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return nil, fmt.Errorf("%w: malformed object reference %q", ErrFetchFailed, ref)
	}
	rd, err := r.storage.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrFetchFailed, ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrFetchFailed, ref)
	}
	return &Document{Name: path.Base(object), Data: data}, nil
}
