// Package cache is a time-boxed key-value store for remote lookup results
// (market prices, weather averages). Entries expire per-key and are evicted
// lazily on read; total size is bounded by evicting oldest entries on write.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// Store is a SQLite-backed TTL cache. Safe for concurrent use; same-key
// races are last-write-wins.
type Store struct {
	db         *sqlx.DB
	maxEntries int
	now        func() time.Time
}

// Open opens (or creates) the cache database. maxEntries bounds the table;
// zero means unbounded, which the source app did, but production deployments
// should set a bound.
func Open(path string, maxEntries int) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	return &Store{db: db, maxEntries: maxEntries, now: time.Now}, nil
}

// Set stores value under key with the given ttl, replacing any previous
// entry. When the bound is exceeded, oldest-created entries are evicted.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	created := s.now()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO results (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		key, value, created.UnixNano(), created.Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if s.maxEntries > 0 {
		_, err = s.db.Exec(
			`DELETE FROM results WHERE key NOT IN
				(SELECT key FROM results ORDER BY created_at DESC, key LIMIT ?)`,
			s.maxEntries,
		)
		if err != nil {
			return fmt.Errorf("failed to trim cache: %w", err)
		}
	}
	return nil
}

// Get returns the value for key, or ok=false on a miss. Reading an expired
// entry deletes it and reports a miss.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var row struct {
		Value     []byte `db:"value"`
		ExpiresAt int64  `db:"expires_at"`
	}
	err := s.db.Get(&row, `SELECT value, expires_at FROM results WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if s.now().UnixNano() >= row.ExpiresAt {
		if _, err := s.db.Exec(`DELETE FROM results WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("failed to evict expired entry: %w", err)
		}
		return nil, false, nil
	}
	return row.Value, true, nil
}

// Keys enumerates all stored keys, including not-yet-read expired ones.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	if err := s.db.Select(&keys, `SELECT key FROM results ORDER BY key`); err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// Len counts stored entries.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM results`); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
