// Package idempotency records which idempotency keys already produced an
// upstream entity so a retried create returns the first result instead of
// creating a duplicate.
//
// Deduplication is best-effort: two concurrent requests carrying the same
// key can both miss Check and both create. The store protects the common
// sequential retry, not truly concurrent duplicate submission.
package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// KeyPrefix namespaces idempotency keys in shared key spaces.
const KeyPrefix = "qbo:idempotency:"

// Default lifetimes.
const (
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Record is one "operation already performed" marker.
type Record struct {
	Key        string    `json:"key"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is the idempotency contract. An empty key is a no-op everywhere.
//
// Storing a key twice with different entity ids is a caller error; the
// second write wins.
type Store interface {
	// Check returns the entity id recorded for a live key.
	Check(ctx context.Context, key string) (entityID string, found bool, err error)
	// Store records key -> entityID with a fresh expiry.
	Store(ctx context.Context, key, entityID, entityType string) error
	// Remove deletes key.
	Remove(ctx context.Context, key string) error
}

// Sweeper removes expired records and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RunSweeper calls Sweep every interval until ctx ends.
func RunSweeper(ctx context.Context, sweeper Sweeper, interval time.Duration, logger *slog.Logger) {
	if sweeper == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sweeper.Sweep(ctx)
			if err != nil {
				logger.Warn("idempotency sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency sweep", "removed", removed)
			}
		}
	}
}

// Clock returns the current time.
type Clock func() time.Time

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
