package store

import (
	"time"
)

// Resource is a cached copy of one fetched HTTP resource, tagged with the
// build version that stored it.
type Resource struct {
	URL          string
	Body         []byte
	ContentType  string
	CacheVersion string
	FetchedAt    time.Time
}

// PutResource stores (or overwrites) a fetched resource under the given
// cache version tag.
func (s *Store) PutResource(url string, body []byte, contentType, version string) bool {
	if !s.available {
		return false
	}
	if url == "" || version == "" {
		s.logger.Printf("WARNING: refusing to cache resource with empty url or version")
		return false
	}

	query := `
	INSERT INTO resource_cache (url, body, content_type, cache_version, fetched_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		body = excluded.body,
		content_type = excluded.content_type,
		cache_version = excluded.cache_version,
		fetched_at = excluded.fetched_at
	`
	_, err := s.conn.Exec(query, url, body, contentType, version, time.Now().UTC().Format(timeFormat))
	if err != nil {
		s.logger.Printf("WARNING: failed to cache resource %q: %v", url, err)
		return false
	}
	return true
}

// GetResource returns the cached resource for url, or false when absent.
func (s *Store) GetResource(url string) (Resource, bool) {
	if !s.available {
		return Resource{}, false
	}

	var (
		r         Resource
		fetchedAt string
	)
	row := s.conn.QueryRow(`
		SELECT url, body, content_type, cache_version, fetched_at
		FROM resource_cache WHERE url = ?`, url)
	if err := row.Scan(&r.URL, &r.Body, &r.ContentType, &r.CacheVersion, &fetchedAt); err != nil {
		return Resource{}, false
	}

	if ts, err := time.Parse(timeFormat, fetchedAt); err == nil {
		r.FetchedAt = ts
	}
	return r, true
}

// PurgeResourcesExcept deletes every cached resource whose version tag does
// not match the given one, returning how many were removed. Called on proxy
// activation so no stale-schema cache survives a deployment.
func (s *Store) PurgeResourcesExcept(version string) int {
	if !s.available {
		return 0
	}

	res, err := s.conn.Exec(`DELETE FROM resource_cache WHERE cache_version != ?`, version)
	if err != nil {
		s.logger.Printf("WARNING: failed to purge stale resource caches: %v", err)
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// ClearResources wipes the resource cache entirely.
func (s *Store) ClearResources() bool {
	if !s.available {
		return false
	}
	if _, err := s.conn.Exec(`DELETE FROM resource_cache`); err != nil {
		s.logger.Printf("WARNING: failed to clear resource cache: %v", err)
		return false
	}
	return true
}
