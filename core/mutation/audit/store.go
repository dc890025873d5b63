// Package audit persists one record per mutation attempt.
package audit

import (
	"context"
	"fmt"
	"time"
)

// Record captures one mutation attempt and its outcome.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	Operation   string    `json:"operation"`
	TargetID    string    `json:"target_id,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Invalidated []string  `json:"invalidated,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
}

// Query filters records. Zero fields match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	Operation string
	TargetID  string
	Outcome   string
}

// Match reports whether r passes every filter of q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Operation != "" && r.Operation != q.Operation {
		return false
	}
	if q.TargetID != "" && r.TargetID != q.TargetID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects and configures a Store.
type Config struct {
	// Backend is "jsonl", "sqlite" or "none".
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// MaxSizeMB enables rotation of the jsonl file when positive.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "mutations.log"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("audit: path is required")
		}
	case "none":
	default:
		return fmt.Errorf("audit: unknown backend %s", c.Backend)
	}
	return nil
}

// Open creates the store described by c, or a nil Store for "none".
func Open(c Config) (Store, error) {
	switch c.Backend {
	case "none":
		return nil, nil
	case "sqlite":
		return NewSQLiteStore(c.Path)
	case "jsonl":
		if c.MaxSizeMB > 0 {
			return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
		}
		return NewJSONLStore(c.Path)
	default:
		return nil, fmt.Errorf("audit: unknown backend %s", c.Backend)
	}
}
