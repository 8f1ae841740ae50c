package cache

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	html      string
	expiresAt time.Time
}

type memoryStore struct {
	entries     map[string]cacheEntry
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	hits        int64
	misses      int64
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory TTL cache. Expiry is checked lazily on Get;
// the GC sweep only bounds memory.
func NewMemory(cfg Config) Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cleanup := time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		entries:     make(map[string]cacheEntry),
		ttl:         ttl,
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

func (s *memoryStore) evictExpired() {
	now := s.now()
	s.mutex.Lock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.mutex.Unlock()
}

func (s *memoryStore) Get(_ context.Context, url string) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.entries[url]
	if !ok || s.now().After(entry.expiresAt) {
		if ok {
			delete(s.entries, url)
		}
		s.misses++
		return "", false, nil
	}
	s.hits++
	return entry.html, true, nil
}

func (s *memoryStore) Set(_ context.Context, url, html string) error {
	s.mutex.Lock()
	s.entries[url] = cacheEntry{
		html:      html,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mutex.Lock()
	s.entries = make(map[string]cacheEntry)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (Stats, error) {
	now := s.now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := Stats{
		Hits:   s.hits,
		Misses: s.misses,
	}
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			continue
		}
		stats.Keys++
		stats.KSize += int64(len(key))
		stats.VSize += int64(len(entry.html))
	}
	return stats, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
