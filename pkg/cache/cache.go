// Package cache stores compiled asset output (LESS → CSS) between requests.
//
// Three drivers implement Store: an in-process memory cache, Redis for
// deployments that run several appshell processes behind one balancer,
// and a no-op store for when caching is switched off.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/shashiranjanraj/appshell/config"
	"github.com/shashiranjanraj/appshell/pkg/metrics"
)

// Store is a byte-oriented cache keyed by string.
type Store interface {
	// Get returns the cached value and true on a hit.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value for ttl. A zero ttl uses the driver default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Flush drops every entry this store owns.
	Flush(ctx context.Context) error
	// Driver names the backend, e.g. "memory".
	Driver() string
}

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Driver {
	case config.CacheMemory, "":
		return NewMemory(cfg.TTL), nil
	case config.CacheRedis:
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.TTL,
		})
	case config.CacheNone:
		return Nop(), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

// Remember returns the cached value for key or calls build, stores its
// result and returns it. Errors from build are returned unchanged and
// nothing is cached; a failing Set is ignored.
func Remember(ctx context.Context, s Store, key string, ttl time.Duration, build func() ([]byte, error)) ([]byte, error) {
	if v, ok := s.Get(ctx, key); ok {
		metrics.CacheHits.WithLabelValues(s.Driver()).Inc()
		return v, nil
	}
	metrics.CacheMisses.WithLabelValues(s.Driver()).Inc()

	v, err := build()
	if err != nil {
		return nil, err
	}
	_ = s.Set(ctx, key, v, ttl)
	return v, nil
}

type nop struct{}

// Nop returns a Store that never holds anything.
func Nop() Store { return nop{} }

func (nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (nop) Delete(context.Context, string) error { return nil }
func (nop) Flush(context.Context) error { return nil }
func (nop) Driver() string { return config.CacheNone }
