// Package idempotencytest holds the behavior every idempotency.Store must share.
package idempotencytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency"
)

// TTL is the record lifetime factories must configure.
const TTL = time.Hour

// FakeClock is a settable clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a clock at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds an empty store with lifetime TTL reading time from clock.
type Factory func(t *testing.T, clock idempotency.Clock) idempotency.Store

// Run exercises store behavior shared by every backend.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("store then check", func(t *testing.T) {
		clock := NewFakeClock()
		store := newStore(t, clock.Now)
		ctx := context.Background()

		if err := store.Store(ctx, "bill-1", "42", "Bill"); err != nil {
			t.Fatalf("store: %v", err)
		}
		id, found, err := store.Check(ctx, "bill-1")
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !found || id != "42" {
			t.Fatalf("check = (%q, %v), want (42, true)", id, found)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		store := newStore(t, NewFakeClock().Now)
		_, found, err := store.Check(context.Background(), "missing")
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if found {
			t.Fatal("expected missing key to be absent")
		}
	})

	t.Run("empty key is a no-op", func(t *testing.T) {
		store := newStore(t, NewFakeClock().Now)
		ctx := context.Background()
		if err := store.Store(ctx, "", "1", "Bill"); err != nil {
			t.Fatalf("store: %v", err)
		}
		if _, found, err := store.Check(ctx, ""); err != nil || found {
			t.Fatalf("check empty = (%v, %v), want (false, nil)", found, err)
		}
		if err := store.Remove(ctx, ""); err != nil {
			t.Fatalf("remove: %v", err)
		}
	})

	t.Run("expired record is absent", func(t *testing.T) {
		clock := NewFakeClock()
		store := newStore(t, clock.Now)
		ctx := context.Background()

		if err := store.Store(ctx, "bill-2", "7", "Bill"); err != nil {
			t.Fatalf("store: %v", err)
		}
		clock.Advance(TTL - time.Second)
		if _, found, _ := store.Check(ctx, "bill-2"); !found {
			t.Fatal("expected record to be live before expiry")
		}
		clock.Advance(time.Second)
		if _, found, _ := store.Check(ctx, "bill-2"); found {
			t.Fatal("expected record to expire at ttl")
		}
	})

	t.Run("remove", func(t *testing.T) {
		store := newStore(t, NewFakeClock().Now)
		ctx := context.Background()
		if err := store.Store(ctx, "bill-3", "9", "Bill"); err != nil {
			t.Fatalf("store: %v", err)
		}
		if err := store.Remove(ctx, "bill-3"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if _, found, _ := store.Check(ctx, "bill-3"); found {
			t.Fatal("expected removed key to be absent")
		}
		if err := store.Remove(ctx, "never-stored"); err != nil {
			t.Fatalf("remove unknown: %v", err)
		}
	})

	t.Run("second store overwrites", func(t *testing.T) {
		store := newStore(t, NewFakeClock().Now)
		ctx := context.Background()
		_ = store.Store(ctx, "k", "1", "Bill")
		_ = store.Store(ctx, "k", "2", "Bill")
		id, found, err := store.Check(ctx, "k")
		if err != nil || !found || id != "2" {
			t.Fatalf("check = (%q, %v, %v), want (2, true, nil)", id, found, err)
		}
	})

	t.Run("sweep removes only expired", func(t *testing.T) {
		clock := NewFakeClock()
		store := newStore(t, clock.Now)
		sweeper, ok := store.(idempotency.Sweeper)
		if !ok {
			t.Skip("store does not sweep")
		}
		ctx := context.Background()

		_ = store.Store(ctx, "old", "1", "Bill")
		clock.Advance(TTL / 2)
		_ = store.Store(ctx, "new", "2", "Bill")
		clock.Advance(TTL / 2)

		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if removed != 1 {
			t.Fatalf("removed = %d, want 1", removed)
		}
		if _, found, _ := store.Check(ctx, "new"); !found {
			t.Fatal("expected live record to survive sweep")
		}
	})
}
