// Package sqlite provides a SQLite-backed idempotency store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/qbo-mcp/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists idempotency records in SQLite.
type Store struct {
	sqlDB *sql.DB
	ttl   time.Duration
	now   idempotency.Clock
}

var (
	_ idempotency.Store   = (*Store)(nil)
	_ idempotency.Sweeper = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock, for tests.
func WithClock(now idempotency.Clock) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite idempotency store and applies embedded migrations.
func Open(ctx context.Context, path string, ttl time.Duration, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &Store{sqlDB: sqlDB, ttl: ttl, now: time.Now}
	if store.ttl <= 0 {
		store.ttl = idempotency.DefaultTTL
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Check implements idempotency.Store.
func (s *Store) Check(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	if s == nil || s.sqlDB == nil {
		return "", false, fmt.Errorf("storage is not configured")
	}

	var entityID string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT entity_id FROM idempotency_records WHERE key = ? AND expires_at > ?`,
		key,
		toMillis(s.now()),
	).Scan(&entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check idempotency key: %w", err)
	}
	return entityID, true, nil
}

// Store implements idempotency.Store.
func (s *Store) Store(ctx context.Context, key, entityID, entityType string) error {
	if key == "" {
		return nil
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	now := s.now()
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO idempotency_records (key, entity_id, entity_type, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   entity_id = excluded.entity_id,
		   entity_type = excluded.entity_type,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		key,
		entityID,
		entityType,
		toMillis(now),
		toMillis(now.Add(s.ttl)),
	)
	if err != nil {
		return fmt.Errorf("store idempotency key: %w", err)
	}
	return nil
}

// Remove implements idempotency.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove idempotency key: %w", err)
	}
	return nil
}

// Sweep implements idempotency.Sweeper.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= ?`,
		toMillis(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency records: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency records: %w", err)
	}
	return int(removed), nil
}
