package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/shashiranjanraj/appshell/config"
)

const defaultMemoryTTL = 10 * time.Minute

// Memory is an in-process Store backed by go-cache.
type Memory struct {
	backend *gocache.Cache
}

// NewMemory returns a memory store whose entries expire after ttl.
// Expired entries are swept at the same interval.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &Memory{backend: gocache.New(ttl, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	raw, ok := m.backend.Get(key)
	if !ok {
		return nil, false
	}
	v, ok := raw.([]byte)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.backend.Set(key, buf, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.backend.Delete(key)
	return nil
}

func (m *Memory) Flush(context.Context) error {
	m.backend.Flush()
	return nil
}

func (m *Memory) Driver() string { return config.CacheMemory }

// Len reports the number of stored entries, including expired ones not yet
// swept.
func (m *Memory) Len() int { return m.backend.ItemCount() }
