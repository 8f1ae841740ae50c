package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisStore_FixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	store, err := NewRedis(Config{
		Limit:  3,
		Window: time.Minute,
		Redis: &RedisConfig{
			Addr: mr.Addr(),
		},
	})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	for i := 0; i < 3; i++ {
		decision, err := store.Allow(ctx, "x.com")
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
	}

	decision, err := store.Allow(ctx, "x.com")
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("4th call should be denied")
	}

	// Rejected calls hand their increment back: counter stays at the limit.
	if got, err := mr.Get("ratelimit:x.com"); err != nil || got != "3" {
		t.Fatalf("expected counter to stay at 3, got %q (err %v)", got, err)
	}

	mr.FastForward(time.Minute + time.Second)

	decision, err = store.Allow(ctx, "x.com")
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("window expiry should reset the counter")
	}
}

func TestRedisStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	store, err := NewRedis(Config{
		Limit:  1,
		Window: time.Minute,
		Redis:  &RedisConfig{Addr: mr.Addr()},
	})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

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
