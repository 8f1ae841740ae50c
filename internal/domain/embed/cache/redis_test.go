package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisCache_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	store, err := NewRedis(Config{
		TTL:   30 * time.Second,
		Redis: &RedisConfig{Addr: mr.Addr()},
	})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	const url = "https://pooembed.eu/embed/game"
	const html = "<html><body>player</body></html>"

	if _, ok, _ := store.Get(ctx, url); ok {
		t.Fatal("expected miss before set")
	}
	if err := store.Set(ctx, url, html); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, ok, err := store.Get(ctx, url)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !ok || got != html {
		t.Fatalf("expected hit, got ok=%v", ok)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Keys != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.VSize != int64(len(html)) {
		t.Fatalf("unexpected vsize: %+v", stats)
	}

	mr.FastForward(31 * time.Second)
	if _, ok, _ := store.Get(ctx, url); ok {
		t.Fatal("entry should have expired")
	}

	_ = store.Set(ctx, url, html)
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, url); ok {
		t.Fatal("expected miss after clear")
	}
}
