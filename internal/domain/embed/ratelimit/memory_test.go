package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T, limit int, window time.Duration) (*memoryStore, *time.Time) {
	t.Helper()

	store := NewMemory(Config{
		Limit:  limit,
		Window: window,
		Memory: &MemoryConfig{GCInterval: time.Hour},
	}).(*memoryStore)
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	now := time.Date(2026, 2, 27, 20, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestMemoryStore_FixedWindow(t *testing.T) {
	ctx := context.Background()
	store, now := newTestStore(t, 10, time.Minute)

	for i := 0; i < 10; i++ {
		decision, err := store.Allow(ctx, "x.com")
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
		if decision.Remaining != 10-(i+1) {
			t.Fatalf("call %d: expected remaining %d, got %d", i+1, 10-(i+1), decision.Remaining)
		}
	}

	decision, err := store.Allow(ctx, "x.com")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("11th call should be denied")
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > time.Minute {
		t.Fatalf("unexpected RetryAfter: %s", decision.RetryAfter)
	}

	// Advancing past the window resets the counter entirely.
	*now = now.Add(time.Minute + time.Second)
	decision, err = store.Allow(ctx, "x.com")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if !decision.Allowed || decision.Remaining != 9 {
		t.Fatalf("expected fresh window, got %+v", decision)
	}
}

func TestMemoryStore_RejectedCallsDoNotConsumeBudget(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 2, time.Minute)

	for i := 0; i < 2; i++ {
		if d, _ := store.Allow(ctx, "x.com"); !d.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
	}
	for i := 0; i < 5; i++ {
		if d, _ := store.Allow(ctx, "x.com"); d.Allowed {
			t.Fatalf("reject %d unexpectedly allowed", i+1)
		}
	}

	store.mutex.Lock()
	count := store.entries["x.com"].count
	store.mutex.Unlock()
	if count != 2 {
		t.Fatalf("rejected calls must not increment the counter, got %d", count)
	}
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 1, time.Minute)

	if d, _ := store.Allow(ctx, "a.com"); !d.Allowed {
		t.Fatal("first a.com call denied")
	}
	if d, _ := store.Allow(ctx, "a.com"); d.Allowed {
		t.Fatal("second a.com call should be denied")
	}
	if d, _ := store.Allow(ctx, "b.com"); !d.Allowed {
		t.Fatal("b.com should have its own window")
	}
}

func TestMemoryStore_Eviction(t *testing.T) {
	ctx := context.Background()
	store, now := newTestStore(t, 5, time.Minute)

	if _, err := store.Allow(ctx, "old.com"); err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}

	*now = now.Add(2 * time.Minute)
	store.evictExpired()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats["total"].(int) != 0 {
		t.Fatalf("expected entry evicted, got total=%v", stats["total"])
	}
}

func TestMemoryStore_Reset(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 1, time.Minute)

	if d, _ := store.Allow(ctx, "x.com"); !d.Allowed {
		t.Fatal("first call denied")
	}
	if err := store.Reset(ctx, "x.com"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if d, _ := store.Allow(ctx, "x.com"); !d.Allowed {
		t.Fatal("call after reset denied")
	}
}
