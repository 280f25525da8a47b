// Package sheetjson converts spreadsheet documents to JSON and serves the
// converted rows through cursor sessions.
package sheetjson

import (
	"fmt"
	"strings"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/parser"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson/session"
)

// Mode selects the output shape of a conversion.
type Mode string

const (
	// ModeBasic lists every sheet's present rows and cells with merge spans.
	ModeBasic Mode = "basic"
	// ModeRowObject maps the first sheet's data rows onto its header row.
	ModeRowObject Mode = "row-object"
)

// ParseMode parses a mode name. The empty string selects ModeBasic and
// matching ignores case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeBasic):
		return ModeBasic, nil
	case string(ModeRowObject):
		return ModeRowObject, nil
	}
	return "", fmt.Errorf("unknown mode %q: want %q or %q", s, ModeBasic, ModeRowObject)
}

// Options configures a Service.
type Options struct {
	// Workers bounds concurrent embedded-object uploads per document.
	Workers int
	// KeyPrefix namespaces the keys of extracted objects.
	KeyPrefix string
	// Session configures the session store.
	Session session.Config
}

// DefaultOptions returns the default service options.
func DefaultOptions() Options {
	return Options{
		Workers:   parser.DefaultWorkers,
		KeyPrefix: parser.DefaultKeyPrefix,
		Session: session.Config{
			TTL:           session.DefaultTTL,
			SweepInterval: session.DefaultSweepInterval,
			Capacity:      session.DefaultCapacity,
		},
	}
}

// withDefaults fills zero fields of o from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = d.KeyPrefix
	}
	if o.Session.TTL <= 0 {
		o.Session.TTL = d.Session.TTL
	}
	if o.Session.SweepInterval <= 0 {
		o.Session.SweepInterval = d.Session.SweepInterval
	}
	if o.Session.Capacity <= 0 {
		o.Session.Capacity = d.Session.Capacity
	}
	return o
}
