package storage

import (
	"errors"
	"time"

	"logtools/internal/parser"
)

// ── Data Types ───────────────────────────────────────────────────

var ErrNotFound = errors.New("not found")

// Record is a parsed line as kept by the store.
type Record struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	IngestedAt time.Time `json:"ingested_at"`
	parser.LogLine
}

// Time is the line timestamp, or the ingest time for lines parsed
// without dates.
func (r *Record) Time() time.Time {
	if r.Timestamp != nil {
		return *r.Timestamp
	}
	return r.IngestedAt
}

// AggregatedStats holds computed statistics.
type AggregatedStats struct {
	TotalLines int            `json:"total_lines"`
	ByLevel    map[string]int `json:"by_level"`
	BySource   map[string]int `json:"by_source"`
	Oldest     *time.Time     `json:"oldest,omitempty"`
	Newest     *time.Time     `json:"newest,omitempty"`
}

// ListOpts defines pagination and filtering for list queries.
type ListOpts struct {
	Page     int    // 1-indexed
	PageSize int    // default 50
	Source   string // exact source name (empty = all)
	MinLevel *parser.LogLevel
	Topic    string // one entry of the topics attribute (empty = all)
	Contains string // message substring, case-insensitive
	Since    time.Time
	Until    time.Time
}

// ListResult wraps a paginated result set.
type ListResult[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// ── Store Interface ──────────────────────────────────────────────

// Store is the persistence interface for parsed log lines.
// Implementations must be goroutine-safe.
type Store interface {
	SaveLine(rec *Record) error
	GetLine(id string) (*Record, error)
	ListLines(opts ListOpts) (*ListResult[Record], error)
	// WalkLines visits every matching line from one consistent snapshot.
	WalkLines(opts ListOpts, fn func(rec *Record) error) error
	DeleteOldLines(olderThan time.Duration) (int, error)

	GetStats() (*AggregatedStats, error)

	Close() error
}
