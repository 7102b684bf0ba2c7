// Package badger provides an embedded BadgerDB idempotency store. Keys are
// written under idempotency.KeyPrefix with a native entry TTL.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency"
)

const gcDiscardRatio = 0.5

// Config configures Open.
type Config struct {
	// Path is the data directory. Empty opens an in-memory database.
	Path string
	// TTL is how long records live. Zero uses idempotency.DefaultTTL.
	TTL time.Duration
	// GCInterval runs value log GC periodically when positive and on disk.
	GCInterval time.Duration
	Logger     *slog.Logger
	// Now replaces the wall clock, for tests.
	Now idempotency.Clock
}

// Store persists idempotency records in BadgerDB.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	now    idempotency.Clock
	logger *slog.Logger

	stopGC chan struct{}
	gcDone sync.WaitGroup
	once   sync.Once
}

var (
	_ idempotency.Store   = (*Store)(nil)
	_ idempotency.Sweeper = (*Store)(nil)
)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if strings.TrimSpace(cfg.Path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	store := &Store{
		db:     db,
		ttl:    cfg.TTL,
		now:    cfg.Now,
		logger: cfg.Logger,
		stopGC: make(chan struct{}),
	}
	if store.ttl <= 0 {
		store.ttl = idempotency.DefaultTTL
	}
	if store.now == nil {
		store.now = time.Now
	}
	if store.logger == nil {
		store.logger = slog.Default()
	}
	if cfg.GCInterval > 0 && !opts.InMemory {
		store.gcDone.Add(1)
		go store.runGC(cfg.GCInterval)
	}
	return store, nil
}

func (s *Store) runGC(interval time.Duration) {
	defer s.gcDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.once.Do(func() { close(s.stopGC) })
	s.gcDone.Wait()
	return s.db.Close()
}

func recordKey(key string) []byte {
	return []byte(idempotency.KeyPrefix + key)
}

// Check implements idempotency.Store.
func (s *Store) Check(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var record idempotency.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check idempotency key: %w", err)
	}
	if record.Expired(s.now()) {
		return "", false, nil
	}
	return record.EntityID, true, nil
}

// Store implements idempotency.Store.
func (s *Store) Store(ctx context.Context, key, entityID, entityType string) error {
	if key == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	payload, err := json.Marshal(idempotency.Record{
		Key:        key,
		EntityID:   entityID,
		EntityType: entityType,
		CreatedAt:  now.UTC(),
		ExpiresAt:  now.Add(s.ttl).UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(recordKey(key), payload).WithTTL(s.ttl))
	})
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
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(key))
	})
	if err != nil {
		return fmt.Errorf("remove idempotency key: %w", err)
	}
	return nil
}

// Sweep deletes records whose stored expiry has passed. Badger drops
// TTL-expired entries on its own; this catches records that are expired by
// the store clock but not yet by Badger's.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	prefix := []byte(idempotency.KeyPrefix)

	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var record idempotency.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			if record.Expired(now) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan idempotency records: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency records: %w", err)
	}
	return len(expired), nil
}
