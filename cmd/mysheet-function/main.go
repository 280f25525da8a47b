// Package main runs the conversion tools as a Cloud Function: an HTTP tool
// endpoint and a storage trigger that warms the result cache.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/lgwanai/mysheet-mcp/internal/app"
	"github.com/lgwanai/mysheet-mcp/internal/config"
	"github.com/lgwanai/mysheet-mcp/internal/server"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
)

// Version is set by ldflags during build.
var Version = "dev"

var (
	instance *app.App
	srv      *server.Server
	once     sync.Once
	initErr  error
)

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("SheetTools", sheetTools)
	functions.CloudEvent("WarmCache", warmCache)
}

func main() {
	port := config.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("Function framework stopped.", "error", err)
		os.Exit(1)
	}
}

// setup builds the service once per instance.
func setup() error {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		cfg.GCSSources = true
		logger := cfg.NewLogger()
		instance, initErr = app.New(context.Background(), cfg, logger)
		if initErr == nil {
			srv = server.New(instance.Service, Version, logger)
		}
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return initErr
}

func sheetTools(w http.ResponseWriter, r *http.Request) {
	if err := setup(); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	srv.HTTPHandler().ServeHTTP(w, r)
}

// warmCache converts a newly stored spreadsheet in every mode so later
// tool calls are served from the cache.
func warmCache(ctx context.Context, e cloudevents.Event) error {
	if err := setup(); err != nil {
		return err
	}

	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logger := slog.With("bucket", gcsEvent.Bucket, "object", gcsEvent.Name, "eventID", e.ID())

	if _, err := parser.DetectFormat(gcsEvent.Name); err != nil {
		logger.Info("Skipping object that is not a spreadsheet.")
		return nil
	}

	ref := fmt.Sprintf("gs://%s/%s", gcsEvent.Bucket, gcsEvent.Name)
	for _, m := range []sheetjson.Mode{sheetjson.ModeBasic, sheetjson.ModeRowObject} {
		if _, err := instance.Service.Convert(ctx, ref, string(m)); err != nil {
			var pe *sheetjson.ParseError
			if errors.As(err, &pe) {
				// Retrying cannot fix a corrupt document.
				logger.Warn("Skipping unreadable spreadsheet.", "error", err)
				return nil
			}
			logger.Error("Cache warm-up failed.", "mode", m, "error", err)
			return fmt.Errorf("warm %s (%s): %w", ref, m, err)
		}
	}
	logger.Info("Cache warmed.")
	return nil
}
