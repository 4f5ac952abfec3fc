// Package store provides the durable local store backing offline operation.
//
// The store is an embedded SQLite database (WAL mode, via ncruces/go-sqlite3)
// holding four collections: the state snapshot singleton, the ordered
// mutation queue, the entity cache, and the resource cache used by the
// cache proxy.
//
// Every operation is total: nothing here returns an error to its caller.
// Failures are logged and collapse to false, zero, or an empty result, so
// the layers above can degrade gracefully instead of branching on storage
// errors. When the database cannot be opened at all, Available() reports
// false and every operation becomes a cheap no-op.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeFormat is the column format for all timestamps. Fixed-width
// nanoseconds (unlike RFC3339Nano, which trims trailing zeros) keep
// lexicographic order equal to chronological order for queue reads.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite connection with total-semantics operations.
type Store struct {
	conn      *sql.DB
	path      string
	logger    *log.Logger
	available bool
}

// Open opens (creating if needed) the database at path and initializes the
// schema. It never fails: if the database cannot be opened the returned
// Store is marked unavailable and all operations degrade to no-ops.
//
// If logger is nil, a default logger writing to stderr is used.
//
// The caller should Close() the store when done.
func Open(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	s := &Store{path: path, logger: logger}

	if err := s.open(); err != nil {
		s.logger.Printf("WARNING: store unavailable, running pass-through: %v", err)
		s.available = false
		return s
	}

	s.available = true
	return s
}

func (s *Store) open() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s.conn = conn

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = conn.Close()
			s.conn = nil
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		s.conn = nil
		return err
	}

	return nil
}

// initSchema creates the tables and indexes if absent. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		captured_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS action_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		enqueued_at TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		last_attempt_at TEXT
	);

	CREATE TABLE IF NOT EXISTS entity_cache (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		cached_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resource_cache (
		url TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		cache_version TEXT NOT NULL,
		fetched_at TEXT NOT NULL
	);

	-- Replay order and diagnostics
	CREATE INDEX IF NOT EXISTS idx_queue_status_enqueued
	    ON action_queue(status, enqueued_at);
	CREATE INDEX IF NOT EXISTS idx_queue_action_type
	    ON action_queue(action_type);

	CREATE INDEX IF NOT EXISTS idx_entity_status ON entity_cache(status);

	-- Deployment purge scans by version tag
	CREATE INDEX IF NOT EXISTS idx_resource_version
	    ON resource_cache(cache_version);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Available reports whether the backing database opened successfully.
// When false the subsystem runs pass-through: mutations go straight to the
// network with no offline fallback.
func (s *Store) Available() bool {
	return s.available
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
	}

	err := s.conn.Close()
	s.conn = nil
	s.available = false
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ClearAll wipes every collection. Used by tests and by the CLI's
// queue-clear command.
func (s *Store) ClearAll() bool {
	if !s.available {
		return false
	}
	for _, table := range []string{"snapshot", "action_queue", "entity_cache", "resource_cache"} {
		if _, err := s.conn.Exec("DELETE FROM " + table); err != nil {
			s.logger.Printf("WARNING: failed to clear %s: %v", table, err)
			return false
		}
	}
	return true
}
