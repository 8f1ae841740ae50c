package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	window time.Duration
	limit  int
	prefix string
}

// NewRedis constructs a redis-backed fixed-window rate limiter. Counters live
// in redis with the window as their TTL, so expiry doubles as window reset.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	opts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &redisStore{
		client: client,
		window: window,
		limit:  limit,
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(k string) string {
	return s.prefix + k
}

func (s *redisStore) Allow(ctx context.Context, key string) (Decision, error) {
	k := s.key(key)

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, k, s.window).Err(); err != nil {
			return Decision{}, err
		}
	}

	if int(count) > s.limit {
		// Give the budget back so rejected calls are uncounted.
		_ = s.client.Decr(ctx, k).Err()
		ttl, err := s.client.TTL(ctx, k).Result()
		if err != nil || ttl < 0 {
			ttl = s.window
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}

	return Decision{Allowed: true, Remaining: s.limit - int(count)}, nil
}

func (s *redisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	size, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":           "redis",
		"total":          size,
		"limit":          s.limit,
		"window_seconds": int(s.window.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
