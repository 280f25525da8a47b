package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	gcsMaxRetries   = 4
	gcsWriteTimeout = 50 * time.Second
)

// GCSSink uploads objects to a Cloud Storage bucket.
type GCSSink struct {
	bucket  *storage.BucketHandle
	name    string
	baseURL string
	logger  *slog.Logger
	backoff time.Duration
}

// NewGCSSink returns a sink for the named bucket. References are
// baseURL/key, defaulting to the public storage.googleapis.com URL.
func NewGCSSink(client *storage.Client, bucket, baseURL string, logger *slog.Logger) *GCSSink {
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSSink{
		bucket:  client.Bucket(bucket),
		name:    bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "sink", "bucket", bucket),
		backoff: time.Second,
	}
}

// Store uploads the object, retrying with exponential backoff. The payload
// is buffered so that every attempt can resend it.
func (s *GCSSink) Store(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("payload is %d bytes, want %d", len(data), size)
	}

	backoff := s.backoff
	var lastErr error
	for i := 0; i < gcsMaxRetries; i++ {
		err := s.upload(ctx, key, data)
		if err == nil {
			return s.baseURL + "/" + key, nil
		}
		lastErr = err
		s.logger.Warn("Upload failed, will retry.",
			"object", key,
			"attempt", i+1,
			"maxRetries", gcsMaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("upload of %s failed after all retries: %w", key, lastErr)
}

func (s *GCSSink) upload(ctx context.Context, key string, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	w := s.bucket.Object(key).NewWriter(writeCtx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to gs://%s/%s: %w", s.name, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", s.name, key, err)
	}
	return nil
}
