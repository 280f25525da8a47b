// Package app builds a conversion service and its cloud clients from a
// config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/lgwanai/mysheet-mcp/internal/config"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/cache"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/sink"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/source"
)

// App owns the service and the clients behind it.
type App struct {
	Service *sheetjson.Service

	storage   *storage.Client
	firestore *firestore.Client
}

// New validates cfg and builds the service it describes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	if cfg.NeedsStorage() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		a.storage = client
	}

	resolverOpts := []source.Option{source.WithLogger(logger.With("component", "source"))}
	if cfg.GCSSources {
		resolverOpts = append(resolverOpts, source.WithStorageClient(a.storage))
	}
	resolver := source.NewResolver(cfg.StagingDir, resolverOpts...)

	var objectSink parser.Sink
	switch cfg.SinkBackend {
	case config.SinkDir:
		objectSink = sink.NewDirSink(cfg.SinkDir, cfg.SinkBaseURL)
	case config.SinkGCS:
		objectSink = sink.NewGCSSink(a.storage, cfg.SinkBucket, cfg.SinkBaseURL, logger.With("component", "sink"))
	}

	var store cache.Store
	switch cfg.CacheBackend {
	case config.CacheDir:
		ds, err := cache.NewDirStore(cfg.CacheDir)
		if err != nil {
			a.Close()
			return nil, err
		}
		store = ds
	case config.CacheGCS:
		store = cache.NewGCSStore(a.storage.Bucket(cfg.CacheBucket), cfg.CachePrefix)
	case config.CacheFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create Firestore client: %w", err)
		}
		a.firestore = client
		store = cache.NewFirestoreStore(client, cfg.FirestoreCollection)
	}

	a.Service = sheetjson.NewService(resolver, objectSink, store, cfg.ServiceOptions(), logger)
	logger.Info("Service ready.",
		"cache", cfg.CacheBackend,
		"sink", cfg.SinkBackend,
		"gcsSources", cfg.GCSSources,
	)
	return a, nil
}

// Close stops the service and closes the clients.
func (a *App) Close() error {
	var errs []error
	if a.Service != nil {
		errs = append(errs, a.Service.Close())
	}
	if a.firestore != nil {
		errs = append(errs, a.firestore.Close())
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	return errors.Join(errs...)
}
