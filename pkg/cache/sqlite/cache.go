package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

// Store is a cache store backed by SQLite.
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	response TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// New opens the database at dbPath and creates the cache table.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Load retrieves an entry regardless of age.
func (s *Store) Load(ctx context.Context, fingerprint string) (models.CacheEntry, bool, error) {
	var response string
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT response, created_at FROM cache_entries WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&response, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("cache load: %w", err)
	}

	return models.CacheEntry{
		Fingerprint: fingerprint,
		Response:    response,
		CreatedAt:   time.Unix(0, createdAt).UTC(),
	}, true, nil
}

// Save stores an entry, replacing any previous one.
func (s *Store) Save(ctx context.Context, entry models.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (fingerprint, response, created_at) VALUES (?, ?, ?)`,
		entry.Fingerprint, entry.Response, entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	return nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return count, nil
}

// Clear deletes entries created before the given time, or every entry when it is zero.
func (s *Store) Clear(ctx context.Context, before time.Time) (int64, error) {
	var res sql.Result
	var err error
	if before.IsZero() {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE created_at < ?`, before.UnixNano())
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
