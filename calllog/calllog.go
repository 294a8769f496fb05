// Package calllog persists provider call records to SQLite. Records
// flow through a buffered channel drained by a single goroutine; a
// full buffer drops the record rather than blocking the caller.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mstanton/relay"
)

// DefaultBufferSize is the record channel capacity.
const DefaultBufferSize = 256

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	caller_id TEXT NOT NULL,
	session_key TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	category TEXT NOT NULL,
	call_site TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cache_read_tokens INTEGER NOT NULL,
	cache_write_tokens INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	fallback INTEGER NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_provider ON calls(provider);
`

// Store writes call records to a SQLite database.
type Store struct {
	db      *sql.DB
	ch      chan relay.CallRecord
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

var _ relay.CallLogger = (*Store)(nil)

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	bufferSize int
}

// WithBufferSize sets the record channel capacity.
func WithBufferSize(n int) Option {
	return func(c *storeConfig) {
		c.bufferSize = n
	}
}

// New opens (creating if needed) the database at path and starts the
// drain goroutine.
func New(path string, opts ...Option) (*Store, error) {
	cfg := storeConfig{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("calllog: create directories: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("calllog: open database: %w", err)
	}
	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("calllog: set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("calllog: init schema: %w", err)
	}

	s := &Store{
		db:   db,
		ch:   make(chan relay.CallRecord, cfg.bufferSize),
		done: make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Record enqueues rec for persistence. It never blocks: when the
// buffer is full or the store is closed, the record is dropped.
func (s *Store) Record(rec relay.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of records discarded because the buffer
// was full or the store was closed.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting records, waits for buffered records to be
// written, and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("calllog: close database: %w", err)
	}
	return nil
}

// drain writes queued records until the channel closes. Insert
// failures are swallowed: the call log must never disturb serving.
func (s *Store) drain() {
	defer close(s.done)
	for rec := range s.ch {
		s.insert(rec)
	}
}

func (s *Store) insert(rec relay.CallRecord) {
	fallback := 0
	if rec.Fallback {
		fallback = 1
	}
	_, _ = s.db.Exec(`
		INSERT INTO calls (
			caller_id, session_key, provider, model, category, call_site,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			latency_ms, fallback, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallerID, rec.SessionKey, rec.Provider, rec.Model, string(rec.Category), rec.CallSite,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.CacheReadTokens, rec.Usage.CacheWriteTokens,
		rec.LatencyMS, fallback, rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
}

// ProviderTotal aggregates the call log for one provider.
type ProviderTotal struct {
	Provider        string
	Calls           int
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
	Fallbacks       int
}

// ProviderTotals returns per-provider aggregates ordered by call count
// descending.
func (s *Store) ProviderTotals(ctx context.Context) ([]ProviderTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COUNT(*), SUM(input_tokens), SUM(output_tokens),
			SUM(cache_read_tokens), SUM(fallback)
		FROM calls
		GROUP BY provider
		ORDER BY COUNT(*) DESC, provider`)
	if err != nil {
		return nil, fmt.Errorf("calllog: query totals: %w", err)
	}
	defer rows.Close()

	var totals []ProviderTotal
	for rows.Next() {
		var t ProviderTotal
		if err := rows.Scan(&t.Provider, &t.Calls, &t.InputTokens, &t.OutputTokens, &t.CacheReadTokens, &t.Fallbacks); err != nil {
			return nil, fmt.Errorf("calllog: scan totals: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: iterate totals: %w", err)
	}
	return totals, nil
}
