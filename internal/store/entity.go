package store

import (
	"encoding/json"
	"time"
)

// Entity is a cached copy of one domain object (a match, a table, a player).
type Entity struct {
	ID       string
	Payload  json.RawMessage
	Status   string
	CachedAt time.Time
}

// UpsertEntity stores fresh entity data observed in a push or fetch.
// Status is a secondary attribute used for filtered reads (e.g. "live",
// "complete"); pass "" when the entity has none.
func (s *Store) UpsertEntity(id string, payload json.RawMessage, status string) bool {
	if !s.available {
		return false
	}
	if id == "" || !json.Valid(payload) {
		s.logger.Printf("WARNING: refusing to cache entity %q with invalid payload", id)
		return false
	}

	query := `
	INSERT INTO entity_cache (id, payload, status, cached_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload = excluded.payload,
		status = excluded.status,
		cached_at = excluded.cached_at
	`
	_, err := s.conn.Exec(query, id, []byte(payload), status, time.Now().UTC().Format(timeFormat))
	if err != nil {
		s.logger.Printf("WARNING: failed to cache entity %q: %v", id, err)
		return false
	}
	return true
}

// GetEntity returns the cached entity, or false when absent.
func (s *Store) GetEntity(id string) (Entity, bool) {
	if !s.available {
		return Entity{}, false
	}

	var (
		e        Entity
		payload  []byte
		cachedAt string
	)
	row := s.conn.QueryRow(`SELECT id, payload, status, cached_at FROM entity_cache WHERE id = ?`, id)
	if err := row.Scan(&e.ID, &payload, &e.Status, &cachedAt); err != nil {
		return Entity{}, false
	}

	e.Payload = json.RawMessage(payload)
	if ts, err := time.Parse(timeFormat, cachedAt); err == nil {
		e.CachedAt = ts
	}
	return e, true
}

// ListEntitiesByStatus returns every cached entity with the given status,
// newest first. Served by the status index.
func (s *Store) ListEntitiesByStatus(status string) []Entity {
	if !s.available {
		return nil
	}

	rows, err := s.conn.Query(`
		SELECT id, payload, status, cached_at
		FROM entity_cache
		WHERE status = ?
		ORDER BY cached_at DESC`, status)
	if err != nil {
		s.logger.Printf("WARNING: failed to list entities by status %q: %v", status, err)
		return nil
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var (
			e        Entity
			payload  []byte
			cachedAt string
		)
		if err := rows.Scan(&e.ID, &payload, &e.Status, &cachedAt); err != nil {
			continue
		}
		e.Payload = json.RawMessage(payload)
		if ts, err := time.Parse(timeFormat, cachedAt); err == nil {
			e.CachedAt = ts
		}
		out = append(out, e)
	}
	return out
}
