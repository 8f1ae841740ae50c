package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count   int
	resetAt time.Time
}

type memoryStore struct {
	entries     map[string]*windowEntry
	mutex       sync.Mutex
	window      time.Duration
	limit       int
	cleanupFreq time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory fixed-window rate limiter.
func NewMemory(cfg Config) Store {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		entries:     make(map[string]*windowEntry),
		window:      window,
		limit:       limit,
		cleanupFreq: cleanup,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

// evictExpired bounds memory; correctness comes from the reset-on-expiry
// check inside Allow, not from this sweep.
func (s *memoryStore) evictExpired() {
	now := s.now()
	s.mutex.Lock()
	for key, entry := range s.entries {
		if now.After(entry.resetAt) {
			delete(s.entries, key)
		}
	}
	s.mutex.Unlock()
}

func (s *memoryStore) Allow(_ context.Context, key string) (Decision, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.resetAt) {
		// First request, or the window expired: reset atomically.
		s.entries[key] = &windowEntry{count: 1, resetAt: now.Add(s.window)}
		return Decision{Allowed: true, Remaining: s.limit - 1}, nil
	}

	if entry.count < s.limit {
		entry.count++
		return Decision{Allowed: true, Remaining: s.limit - entry.count}, nil
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: entry.resetAt.Sub(now),
	}, nil
}

func (s *memoryStore) Reset(_ context.Context, key string) error {
	s.mutex.Lock()
	delete(s.entries, key)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	now := s.now()
	s.mutex.Lock()
	defer s.mutex.Unlock()

	total := len(s.entries)
	active := 0
	for _, entry := range s.entries {
		if !now.After(entry.resetAt) {
			active++
		}
	}
	return map[string]any{
		"type":           "memory",
		"total":          total,
		"active":         active,
		"limit":          s.limit,
		"window_seconds": int(s.window.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
