// Package sink persists extracted embedded objects and reports where they
// can be fetched.
package sink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DirSink writes objects below a local directory. References are file URLs,
// or BaseURL joined with the key when BaseURL is set.
type DirSink struct {
	Root    string
	BaseURL string
}

// NewDirSink returns a DirSink rooted at root.
func NewDirSink(root, baseURL string) *DirSink {
	return &DirSink{Root: root, BaseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *DirSink) Store(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	dest := filepath.Join(s.Root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("wrote %d of %d bytes", n, size)
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("store %s: %w", key, err)
	}

	if s.BaseURL != "" {
		return s.BaseURL + "/" + clean, nil
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
