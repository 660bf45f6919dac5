package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend is a process-local backend on go-cache.
type MemoryBackend struct {
	cache *gocache.Cache
}

func NewMemoryBackend(defaultTTL, cleanupInterval time.Duration) *MemoryBackend {
	return &MemoryBackend{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	if x, found := m.cache.Get(key); found {
		return x.([]byte), true, nil
	}
	return nil, false, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.cache.Set(key, value, ttl)
	return nil
}

// Len counts stored entries including expired ones not yet cleaned up.
func (m *MemoryBackend) Len() int {
	return m.cache.ItemCount()
}
