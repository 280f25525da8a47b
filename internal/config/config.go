// Package config loads runtime settings from MYSHEET_* environment variables
// and lets command-line flags override them.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/session"
)

// Cache backends.
const (
	CacheNone      = "none"
	CacheDir       = "dir"
	CacheGCS       = "gcs"
	CacheFirestore = "firestore"
)

// Sink backends.
const (
	SinkNone = "none"
	SinkDir  = "dir"
	SinkGCS  = "gcs"
)

// Config holds every setting the commands and the function need.
type Config struct {
	LogLevel  string
	LogFormat string

	ProjectID  string
	StagingDir string
	// GCSSources enables gs:// document references.
	GCSSources bool

	CacheBackend        string
	CacheDir            string
	CacheBucket         string
	CachePrefix         string
	FirestoreCollection string

	SinkBackend string
	SinkDir     string
	SinkBucket  string
	SinkBaseURL string

	Workers   int
	KeyPrefix string

	SessionTTL      time.Duration
	SweepInterval   time.Duration
	SessionCapacity int
}

// GetEnv reads an environment variable or returns fallback.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	base := filepath.Join(os.TempDir(), "mysheet")
	cfg := &Config{
		LogLevel:            GetEnv("MYSHEET_LOG_LEVEL", "info"),
		LogFormat:           GetEnv("MYSHEET_LOG_FORMAT", "json"),
		ProjectID:           GetEnv("MYSHEET_PROJECT_ID", GetEnv("PROJECT_ID", "")),
		StagingDir:          GetEnv("MYSHEET_STAGING_DIR", filepath.Join(base, "staging")),
		CacheBackend:        GetEnv("MYSHEET_CACHE", CacheDir),
		CacheDir:            GetEnv("MYSHEET_CACHE_DIR", filepath.Join(base, "cache")),
		CacheBucket:         GetEnv("MYSHEET_CACHE_BUCKET", ""),
		CachePrefix:         GetEnv("MYSHEET_CACHE_PREFIX", "cache"),
		FirestoreCollection: GetEnv("MYSHEET_FIRESTORE_COLLECTION", "conversions"),
		SinkBackend:         GetEnv("MYSHEET_SINK", SinkDir),
		SinkDir:             GetEnv("MYSHEET_SINK_DIR", filepath.Join(base, "attachments")),
		SinkBucket:          GetEnv("MYSHEET_SINK_BUCKET", ""),
		SinkBaseURL:         GetEnv("MYSHEET_SINK_BASE_URL", ""),
		KeyPrefix:           GetEnv("MYSHEET_KEY_PREFIX", parser.DefaultKeyPrefix),
	}

	var err error
	if cfg.GCSSources, err = envBool("MYSHEET_GCS_SOURCES", false); err != nil {
		return nil, err
	}
	if cfg.Workers, err = envInt("MYSHEET_WORKERS", parser.DefaultWorkers); err != nil {
		return nil, err
	}
	if cfg.SessionCapacity, err = envInt("MYSHEET_SESSION_CAPACITY", session.DefaultCapacity); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("MYSHEET_SESSION_TTL", session.DefaultTTL); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("MYSHEET_SWEEP_INTERVAL", session.DefaultSweepInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// BindFlags registers flags on fs whose defaults are the loaded values, so
// a flag given on the command line overrides the environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: json or text")
	fs.StringVar(&c.ProjectID, "project", c.ProjectID, "Google Cloud project for Firestore")
	fs.StringVar(&c.StagingDir, "staging-dir", c.StagingDir, "Directory for downloaded documents")
	fs.BoolVar(&c.GCSSources, "gcs-sources", c.GCSSources, "Accept gs:// document references")
	fs.StringVar(&c.CacheBackend, "cache", c.CacheBackend, "Result cache: none, dir, gcs, firestore")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "Directory of the dir cache")
	fs.StringVar(&c.CacheBucket, "cache-bucket", c.CacheBucket, "Bucket of the gcs cache")
	fs.StringVar(&c.CachePrefix, "cache-prefix", c.CachePrefix, "Object prefix of the gcs cache")
	fs.StringVar(&c.FirestoreCollection, "firestore-collection", c.FirestoreCollection, "Collection of the firestore cache")
	fs.StringVar(&c.SinkBackend, "sink", c.SinkBackend, "Attachment sink: none, dir, gcs")
	fs.StringVar(&c.SinkDir, "sink-dir", c.SinkDir, "Directory of the dir sink")
	fs.StringVar(&c.SinkBucket, "sink-bucket", c.SinkBucket, "Bucket of the gcs sink")
	fs.StringVar(&c.SinkBaseURL, "sink-base-url", c.SinkBaseURL, "Public URL prefix of stored attachments")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Concurrent attachment uploads per document")
	fs.StringVar(&c.KeyPrefix, "key-prefix", c.KeyPrefix, "Namespace of attachment keys")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "Session lifetime since last use")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Interval between expired-session sweeps")
	fs.IntVar(&c.SessionCapacity, "session-capacity", c.SessionCapacity, "Maximum live sessions")
}

// Validate checks the backend selections and their required settings.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case CacheNone, CacheDir:
	case CacheGCS:
		if c.CacheBucket == "" {
			return fmt.Errorf("cache %q requires a cache bucket", c.CacheBackend)
		}
	case CacheFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("cache %q requires a project id", c.CacheBackend)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	switch c.SinkBackend {
	case SinkNone, SinkDir:
	case SinkGCS:
		if c.SinkBucket == "" {
			return fmt.Errorf("sink %q requires a sink bucket", c.SinkBackend)
		}
	default:
		return fmt.Errorf("unknown sink backend %q", c.SinkBackend)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NeedsStorage reports whether any component talks to Cloud Storage.
func (c *Config) NeedsStorage() bool {
	return c.GCSSources || c.CacheBackend == CacheGCS || c.SinkBackend == SinkGCS
}

// ServiceOptions converts the settings to service options.
func (c *Config) ServiceOptions() sheetjson.Options {
	return sheetjson.Options{
		Workers:   c.Workers,
		KeyPrefix: c.KeyPrefix,
		Session: session.Config{
			TTL:           c.SessionTTL,
			SweepInterval: c.SweepInterval,
			Capacity:      c.SessionCapacity,
		},
	}
}

// NewLogger builds the process logger. Output goes to stderr because stdout
// carries protocol frames.
func (c *Config) NewLogger() *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
