package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedis constructs a redis-backed cache; redis handles TTL expiry itself.
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

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "embed:cache:"
	}
	return &redisStore{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(url string) string {
	return s.prefix + url
}

func (s *redisStore) Get(ctx context.Context, url string) (string, bool, error) {
	raw, err := s.client.Get(ctx, s.key(url)).Result()
	if err != nil {
		if err == redis.Nil {
			s.misses.Add(1)
			return "", false, nil
		}
		return "", false, err
	}
	s.hits.Add(1)
	return raw, true, nil
}

func (s *redisStore) Set(ctx context.Context, url, html string) error {
	return s.client.Set(ctx, s.key(url), html, s.ttl).Err()
}

func (s *redisStore) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *redisStore) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
	for _, key := range keys {
		size, err := s.client.StrLen(ctx, key).Result()
		if err != nil {
			continue
		}
		stats.Keys++
		stats.KSize += int64(len(strings.TrimPrefix(key, s.prefix)))
		stats.VSize += size
	}
	return stats, nil
}

func (s *redisStore) scanKeys(ctx context.Context) ([]string, error) {
	var cursor uint64
	keys := make([]string, 0)
	pattern := s.prefix + "*"
	for {
		res, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, res...)
		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}
	return keys, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
