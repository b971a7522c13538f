// Package store persists generated trace records so seeded datasets can be
// queried back for reports and assertions. Two backends share one schema: an
// embedded SQLite file for local runs and Postgres for shared environments.
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/langobservatory/telegen/internal/record"
)

var (
	// ErrNotFound is returned when a trace id does not exist in the store.
	ErrNotFound = errors.New("trace store record not found")
	// ErrInvalidCursor is returned when a pagination cursor cannot be decoded.
	ErrInvalidCursor = errors.New("trace cursor is invalid")
)

// Store is the persistence interface for generated trace records.
type Store interface {
	InsertTrace(ctx context.Context, tr *record.Trace) error
	InsertBatch(ctx context.Context, traces []*record.Trace) error
	GetTrace(ctx context.Context, id string) (*record.Trace, error)
	ListTraces(ctx context.Context, filter Filter) (*Page, error)
	Summary(ctx context.Context, filter Filter) (*Summary, error)
	ModelStats(ctx context.Context, filter Filter) ([]ModelStat, error)
	Close() error
}

// Filter narrows store queries. Zero fields are ignored. Limit and Cursor
// apply to ListTraces only; Summary and ModelStats aggregate everything the
// remaining fields match.
type Filter struct {
	Model    string
	Provider string
	Status   record.Status
	From     time.Time
	To       time.Time
	Limit    int
	Cursor   string
}

// Page is one page of trace results ordered newest first. NextCursor is empty
// on the last page.
type Page struct {
	Items      []*record.Trace
	NextCursor string
}

// Summary aggregates every trace a filter matches.
type Summary struct {
	TraceCount        int64   `json:"trace_count"`
	ErrorCount        int64   `json:"error_count"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalTokens       int64   `json:"total_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
}

// ModelStat aggregates traces per model.
type ModelStat struct {
	Model        string  `json:"model"`
	RequestCount int64   `json:"request_count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Cursors order on (timestamp DESC, id DESC) so pages stay stable while new
// traces arrive at the head.
func encodeCursor(ts time.Time, id string) string {
	if ts.IsZero() || id == "" {
		return ""
	}
	raw := ts.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: decode base64 cursor", ErrInvalidCursor)
	}
	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return time.Time{}, "", fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: parse timestamp", ErrInvalidCursor)
	}
	return ts.UTC(), strings.TrimSpace(parts[1]), nil
}
