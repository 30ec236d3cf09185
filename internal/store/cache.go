package store

import (
	"database/sql"
	"time"
)

// Touch records a successful refresh of the reference data behind key; the
// entry counts as fresh for ttl from now. Used for coarse caches like
// category lists — messages and conversations have their own sync markers.
func (db *DB) Touch(key string, ttl time.Duration) error {
	_, err := db.Exec(`
		INSERT INTO cache_metadata (cache_key, cached_at, ttl_seconds)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			cached_at = excluded.cached_at,
			ttl_seconds = excluded.ttl_seconds`,
		key, nowMillis(), int64(ttl/time.Second))
	return classify(err)
}

// IsFresh reports whether key was refreshed within ttl. A non-positive ttl
// falls back to the window stored by the last Touch. Unknown keys are stale.
func (db *DB) IsFresh(key string, ttl time.Duration) (bool, error) {
	var cachedAt, ttlSeconds int64
	err := db.QueryRow(`
		SELECT cached_at, ttl_seconds FROM cache_metadata WHERE cache_key = ?`, key).
		Scan(&cachedAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	window := ttl
	if window <= 0 {
		window = time.Duration(ttlSeconds) * time.Second
	}
	return time.Since(time.UnixMilli(cachedAt)) < window, nil
}

// InvalidateCache forces the next IsFresh for key to report stale.
func (db *DB) InvalidateCache(key string) error {
	_, err := db.Exec(`DELETE FROM cache_metadata WHERE cache_key = ?`, key)
	return classify(err)
}
