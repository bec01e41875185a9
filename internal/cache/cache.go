// Package cache persists lookup results in SQLite so repeated queries are
// answered without touching the upstream at all.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is a single cached lookup result.
type Entry struct {
	Value     string
	CreatedAt time.Time
}

// Store is a file-backed key/value cache with lazy TTL expiry: stale rows
// are deleted when read, plus in bulk via PurgeExpired.
type Store struct {
	ttl time.Duration

	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open opens the cache database at path, creating it and applying pending
// migrations as needed. A ttl of zero or below disables expiry.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{ttl: ttl, db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

// Get returns the entry stored under key. An entry older than the TTL is
// deleted and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		value   string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT v, created_at FROM cache WHERE k = ?`, key,
	).Scan(&value, &created)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	createdAt := time.Unix(created, 0)
	if s.ttl > 0 && s.now().Sub(createdAt) > s.ttl {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE k = ?`, key); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}

	return Entry{Value: value, CreatedAt: createdAt}, true, nil
}

// Set stores value under key, replacing any previous entry and resetting
// its age.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache (k, v, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v, created_at = excluded.created_at`,
		key, value, s.now().Unix())
	return err
}

// PurgeExpired deletes every entry older than the TTL and reports how many
// rows were removed. With expiry disabled it removes nothing.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Len reports the number of stored entries, stale rows included.
func (s *Store) Len(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&n)
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
