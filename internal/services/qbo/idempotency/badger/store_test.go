package badger

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/idempotency/idempotencytest"
)

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreInMemory(t *testing.T) {
	idempotencytest.Run(t, func(t *testing.T, clock idempotency.Clock) idempotency.Store {
		return openTestStore(t, Config{TTL: idempotencytest.TTL, Now: clock})
	})
}

func TestStoreOnDisk(t *testing.T) {
	idempotencytest.Run(t, func(t *testing.T, clock idempotency.Clock) idempotency.Store {
		return openTestStore(t, Config{
			Path:       t.TempDir(),
			TTL:        idempotencytest.TTL,
			GCInterval: time.Hour,
			Now:        clock,
		})
	})
}

func TestRecordKeyUsesPrefix(t *testing.T) {
	if got := string(recordKey("abc")); got != "qbo:idempotency:abc" {
		t.Fatalf("recordKey = %q", got)
	}
}

func TestCheckHonorsCanceledContext(t *testing.T) {
	store := openTestStore(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := store.Check(ctx, "k"); err == nil {
		t.Fatal("expected canceled context error")
	}
}

func TestCloseStopsGC(t *testing.T) {
	store, err := Open(Config{Path: t.TempDir(), GCInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
