package store

import (
	"encoding/json"
	"time"
)

// snapshotKey is the fixed key of the state snapshot singleton.
const snapshotKey = "current"

// Snapshot is the persisted full-state blob annotated for offline readers.
type Snapshot struct {
	Payload    json.RawMessage
	CapturedAt time.Time

	// Cached marks the payload as coming from local storage rather than a
	// live push; CacheAge is how stale it is.
	Cached   bool
	CacheAge time.Duration
}

// SaveSnapshot overwrites the state snapshot singleton atomically.
func (s *Store) SaveSnapshot(payload json.RawMessage) bool {
	if !s.available {
		return false
	}
	if !json.Valid(payload) {
		s.logger.Printf("WARNING: refusing to save non-JSON snapshot (%d bytes)", len(payload))
		return false
	}

	query := `
	INSERT INTO snapshot (key, payload, captured_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		payload = excluded.payload,
		captured_at = excluded.captured_at
	`
	now := time.Now().UTC()
	if _, err := s.conn.Exec(query, snapshotKey, []byte(payload), now.Format(timeFormat)); err != nil {
		s.logger.Printf("WARNING: failed to save snapshot: %v", err)
		return false
	}
	return true
}

// GetSnapshot returns the stored snapshot annotated with its age, or false
// when none exists (or storage is unavailable).
func (s *Store) GetSnapshot() (Snapshot, bool) {
	if !s.available {
		return Snapshot{}, false
	}

	var (
		payload    []byte
		capturedAt string
	)
	row := s.conn.QueryRow(`SELECT payload, captured_at FROM snapshot WHERE key = ?`, snapshotKey)
	if err := row.Scan(&payload, &capturedAt); err != nil {
		// Includes sql.ErrNoRows: an empty store is not worth a log line.
		return Snapshot{}, false
	}

	ts, err := time.Parse(timeFormat, capturedAt)
	if err != nil {
		s.logger.Printf("WARNING: corrupt snapshot timestamp %q: %v", capturedAt, err)
		return Snapshot{}, false
	}

	return Snapshot{
		Payload:    json.RawMessage(payload),
		CapturedAt: ts,
		Cached:     true,
		CacheAge:   time.Since(ts),
	}, true
}
