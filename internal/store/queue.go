package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rackline/scoresync/internal/action"
)

// Queue item statuses.
const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// MaxAttempts is the delivery ceiling: once an item has failed this many
// times it moves to StatusFailed and leaves the active queue. Failed rows
// are kept for audit and never purged automatically.
const MaxAttempts = 3

// QueueItem is one recorded mutation intent awaiting (or having exhausted)
// delivery.
type QueueItem struct {
	ID             int64
	Type           action.Type
	Payload        json.RawMessage
	IdempotencyKey string
	EnqueuedAt     time.Time
	AttemptCount   int
	Status         string
	LastError      string
	LastAttemptAt  *time.Time
}

// Enqueue appends an intent to the mutation queue and returns its assigned
// id, or 0 on failure.
func (s *Store) Enqueue(in action.Intent) int64 {
	if !s.available {
		return 0
	}
	if err := in.Validate(); err != nil {
		s.logger.Printf("WARNING: refusing to enqueue invalid intent: %v", err)
		return 0
	}

	query := `
	INSERT INTO action_queue (action_type, payload, idempotency_key, enqueued_at)
	VALUES (?, ?, ?, ?)
	`
	res, err := s.conn.Exec(query,
		string(in.Type),
		[]byte(in.Payload),
		in.IdempotencyKey,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		s.logger.Printf("WARNING: failed to enqueue %s: %v", in.Type, err)
		return 0
	}

	id, err := res.LastInsertId()
	if err != nil {
		s.logger.Printf("WARNING: enqueue of %s lost its row id: %v", in.Type, err)
		return 0
	}
	return id
}

// ListPending returns every pending item in enqueue order. The id is the
// tiebreaker for items enqueued within the same instant.
func (s *Store) ListPending() []QueueItem {
	return s.listByStatus(StatusPending)
}

// ListFailed returns the audit trail of items that exhausted their attempts.
func (s *Store) ListFailed() []QueueItem {
	return s.listByStatus(StatusFailed)
}

func (s *Store) listByStatus(status string) []QueueItem {
	if !s.available {
		return nil
	}

	query := `
	SELECT id, action_type, payload, idempotency_key, enqueued_at,
	       attempt_count, status, last_error, last_attempt_at
	FROM action_queue
	WHERE status = ?
	ORDER BY enqueued_at ASC, id ASC
	`
	rows, err := s.conn.Query(query, status)
	if err != nil {
		s.logger.Printf("WARNING: failed to list %s items: %v", status, err)
		return nil
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			s.logger.Printf("WARNING: skipping unreadable queue row: %v", err)
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		s.logger.Printf("WARNING: queue scan aborted: %v", err)
	}
	return items
}

func scanQueueItem(rows *sql.Rows) (QueueItem, error) {
	var (
		item          QueueItem
		typ           string
		payload       []byte
		enqueuedAt    string
		lastError     sql.NullString
		lastAttemptAt sql.NullString
	)
	if err := rows.Scan(&item.ID, &typ, &payload, &item.IdempotencyKey,
		&enqueuedAt, &item.AttemptCount, &item.Status, &lastError, &lastAttemptAt); err != nil {
		return QueueItem{}, err
	}

	item.Type = action.Type(typ)
	item.Payload = json.RawMessage(payload)

	ts, err := time.Parse(timeFormat, enqueuedAt)
	if err != nil {
		return QueueItem{}, err
	}
	item.EnqueuedAt = ts

	if lastError.Valid {
		item.LastError = lastError.String
	}
	if lastAttemptAt.Valid {
		if t, err := time.Parse(timeFormat, lastAttemptAt.String); err == nil {
			item.LastAttemptAt = &t
		}
	}
	return item, nil
}

// Remove deletes a queue item after confirmed delivery.
func (s *Store) Remove(id int64) bool {
	if !s.available {
		return false
	}
	if _, err := s.conn.Exec(`DELETE FROM action_queue WHERE id = ?`, id); err != nil {
		s.logger.Printf("WARNING: failed to remove queue item %d: %v", id, err)
		return false
	}
	return true
}

// MarkFailed records one failed delivery attempt for the item: bumps
// attempt_count, stores the error text and attempt time, and flips status
// to failed once the attempt ceiling is reached. The read-modify-write runs
// in a single transaction so close-together triggers cannot lose an update.
//
// A failed item never returns to pending.
func (s *Store) MarkFailed(id int64, errText string) bool {
	if !s.available {
		return false
	}

	tx, err := s.conn.Begin()
	if err != nil {
		s.logger.Printf("WARNING: failed to start markFailed tx for item %d: %v", id, err)
		return false
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	row := tx.QueryRow(`SELECT attempt_count FROM action_queue WHERE id = ?`, id)
	if err := row.Scan(&attempts); err != nil {
		s.logger.Printf("WARNING: markFailed on missing queue item %d: %v", id, err)
		return false
	}

	attempts++
	status := StatusPending
	if attempts >= MaxAttempts {
		status = StatusFailed
	}

	_, err = tx.Exec(`
		UPDATE action_queue
		SET attempt_count = ?, status = ?, last_error = ?, last_attempt_at = ?
		WHERE id = ?`,
		attempts, status, errText, time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		s.logger.Printf("WARNING: failed to update queue item %d: %v", id, err)
		return false
	}

	if err := tx.Commit(); err != nil {
		s.logger.Printf("WARNING: failed to commit markFailed for item %d: %v", id, err)
		return false
	}
	return true
}

// PendingCount returns the number of pending items, or 0 when storage is
// unavailable.
func (s *Store) PendingCount() int {
	return s.countByStatus(StatusPending)
}

// FailedCount returns the size of the failed-item audit trail.
func (s *Store) FailedCount() int {
	return s.countByStatus(StatusFailed)
}

func (s *Store) countByStatus(status string) int {
	if !s.available {
		return 0
	}
	var n int
	row := s.conn.QueryRow(`SELECT COUNT(*) FROM action_queue WHERE status = ?`, status)
	if err := row.Scan(&n); err != nil {
		s.logger.Printf("WARNING: failed to count %s items: %v", status, err)
		return 0
	}
	return n
}

// CountByType breaks the pending queue down by action type, for
// diagnostics. Served by the action_type index.
func (s *Store) CountByType() map[action.Type]int {
	if !s.available {
		return nil
	}

	rows, err := s.conn.Query(`
		SELECT action_type, COUNT(*)
		FROM action_queue
		WHERE status = ?
		GROUP BY action_type`, StatusPending)
	if err != nil {
		s.logger.Printf("WARNING: failed to count by type: %v", err)
		return nil
	}
	defer rows.Close()

	counts := make(map[action.Type]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			continue
		}
		counts[action.Type(typ)] = n
	}
	return counts
}
