package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketLines    = []byte("lines")
	bucketAppState = []byte("app_state")
)

// Fixed width so that keys sort chronologically.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// BoltStore implements the Store interface using bbolt.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.SugaredLogger
}

// NewBoltStore opens (or creates) a bbolt database at the given path.
func NewBoltStore(path string, logger *zap.SugaredLogger) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLines, bucketAppState} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	logger.Infof("BoltStore: opened %s", path)
	store := &BoltStore{db: db, logger: logger}

	if err := store.checkAndMarkRunning(); err != nil {
		logger.Warnf("BoltStore: failed to process app state: %v", err)
	}

	return store, nil
}

// ── App State ────────────────────────────────────────────────────

// checkAndMarkRunning reports whether the previous run stopped without
// closing the store, in which case followed sources may have gaps.
func (s *BoltStore) checkAndMarkRunning() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAppState)
		if state := b.Get([]byte("status")); string(state) == "running" {
			s.logger.Warnf("BoltStore: previous run did not shut down cleanly, stored lines may be incomplete")
		}
		return b.Put([]byte("status"), []byte("running"))
	})
}

func (s *BoltStore) markStopped() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAppState).Put([]byte("status"), []byte("stopped"))
	})
}

// ── Lines ────────────────────────────────────────────────────────

func (s *BoltStore) SaveLine(rec *Record) error {
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = rec.Time().UTC().Format(keyTimeLayout) + "|" + uuid.NewString()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode line: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLines).Put([]byte(rec.ID), data)
	})
}

func (s *BoltStore) GetLine(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLines).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("line %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) ListLines(opts ListOpts) (*ListResult[Record], error) {
	opts = normalizeOpts(opts)

	var all []Record
	err := s.WalkLines(opts, func(rec *Record) error {
		all = append(all, *rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paginate(all, opts), nil
}

// WalkLines calls fn for every line matching opts, newest first, inside a
// single read transaction. Page and PageSize are ignored. An error from fn
// stops the walk and is returned.
func (s *BoltStore) WalkLines(opts ListOpts, fn func(rec *Record) error) error {
	contains := strings.ToLower(opts.Contains)

	return s.db.View(func(tx *bolt.Tx) error {
		// Keys are time ordered; walk backwards for newest first.
		c := tx.Bucket(bucketLines).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // skip corrupt entries
			}
			if !matches(&rec, opts, contains) {
				continue
			}
			if err := fn(&rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func matches(rec *Record, opts ListOpts, contains string) bool {
	if opts.Source != "" && rec.Source != opts.Source {
		return false
	}
	if opts.MinLevel != nil && rec.Level < *opts.MinLevel {
		return false
	}
	if opts.Topic != "" && !rec.HasTopic(opts.Topic) {
		return false
	}
	if contains != "" && !strings.Contains(strings.ToLower(rec.Message), contains) {
		return false
	}
	t := rec.Time()
	if !opts.Since.IsZero() && t.Before(opts.Since) {
		return false
	}
	if !opts.Until.IsZero() && t.After(opts.Until) {
		return false
	}
	return true
}

func (s *BoltStore) DeleteOldLines(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLines)
		var toDelete [][]byte
		bucket.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if !rec.IngestedAt.IsZero() && rec.IngestedAt.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		})
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Infof("BoltStore: pruned %d lines older than %s", deleted, olderThan)
	}
	return deleted, nil
}

// ── Stats ────────────────────────────────────────────────────────

func (s *BoltStore) GetStats() (*AggregatedStats, error) {
	stats := &AggregatedStats{
		ByLevel:  map[string]int{},
		BySource: map[string]int{},
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLines).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			stats.TotalLines++
			stats.ByLevel[rec.Level.String()]++
			stats.BySource[rec.Source]++

			t := rec.Time()
			if stats.Oldest == nil || t.Before(*stats.Oldest) {
				stats.Oldest = &t
			}
			if stats.Newest == nil || t.After(*stats.Newest) {
				stats.Newest = &t
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ── Lifecycle ────────────────────────────────────────────────────

func (s *BoltStore) Close() error {
	s.logger.Infof("BoltStore: closing database")
	if err := s.markStopped(); err != nil {
		s.logger.Warnf("BoltStore: failed to mark stopped: %v", err)
	}
	return s.db.Close()
}

// ── Helpers ──────────────────────────────────────────────────────

func normalizeOpts(opts ListOpts) ListOpts {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 || opts.PageSize > 500 {
		opts.PageSize = 50
	}
	return opts
}

func paginate[T any](all []T, opts ListOpts) *ListResult[T] {
	total := len(all)
	totalPages := (total + opts.PageSize - 1) / opts.PageSize
	if totalPages < 1 {
		totalPages = 1
	}

	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		return &ListResult[T]{Items: []T{}, Total: total, Page: opts.Page, PageSize: opts.PageSize, TotalPages: totalPages}
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}

	return &ListResult[T]{
		Items:      all[start:end],
		Total:      total,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalPages: totalPages,
	}
}
