// Package cache stores conversion results keyed by the content hash of the
// source document and the conversion mode.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/models"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by a Store for keys it does not hold.
var ErrNotFound = errors.New("cache entry not found")

// Store is a durable key to JSON mapping. Entries are never rewritten with
// different content: a key always names the same result.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// ComputeFunc converts the document whose content hash is hash.
type ComputeFunc func(hash string) (*models.Result, error)

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key combines a content hash and a mode into a cache key.
func Key(hash, mode string) string {
	return hash + "_" + mode
}

// Cache short-circuits repeated conversions of identical documents.
type Cache struct {
	store  Store
	logger *slog.Logger
	group  singleflight.Group
}

// New returns a Cache over store.
func New(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger.With("component", "cache")}
}

// GetOrCompute returns the stored result for data and mode, or computes,
// stores and returns it. The boolean reports a cache hit. Concurrent misses
// for the same key in this process share one computation.
func (c *Cache) GetOrCompute(ctx context.Context, data []byte, mode string, compute ComputeFunc) (*models.Result, bool, error) {
	hash := Hash(data)
	key := Key(hash, mode)
	logCtx := c.logger.With("key", key)

	if res, ok := c.lookup(ctx, logCtx, key); ok {
		return res, true, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		res, err := compute(hash)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		if err := c.store.Put(ctx, key, payload); err != nil {
			logCtx.Warn("Failed to store conversion result.", "error", err)
		} else {
			logCtx.Info("Conversion result cached.", "bytes", len(payload))
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		logCtx.Debug("Joined an in-flight conversion.")
	}
	return v.(*models.Result), false, nil
}

func (c *Cache) lookup(ctx context.Context, logCtx *slog.Logger, key string) (*models.Result, bool) {
	payload, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logCtx.Warn("Cache lookup failed, converting instead.", "error", err)
		}
		return nil, false
	}
	var res models.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		logCtx.Warn("Discarding unreadable cache entry.", "error", err)
		return nil, false
	}
	logCtx.Info("Cache hit.")
	return &res, true
}
