package cache

import (
	"context"
	"time"
)

// Stats mirrors the operational counters exposed on the cache stats endpoint.
type Stats struct {
	Keys   int64 `json:"keys"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	KSize  int64 `json:"ksize"`
	VSize  int64 `json:"vsize"`
}

// Store holds sanitized embed HTML keyed by exact target URL. Storing raw
// fetched HTML here is forbidden; callers must sanitize before Set.
type Store interface {
	Get(ctx context.Context, url string) (string, bool, error)
	Set(ctx context.Context, url, html string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Prefix string
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}
