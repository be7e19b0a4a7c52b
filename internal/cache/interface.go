// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package cache is the tagged, TTL-based result cache that sits in front of
// multi-source aggregation.
//
// Every backend satisfies Store. Entries carry tags such as "type:contacts"
// or "source:notion"; invalidating a tag drops every entry that carries it
// without enumerating keys:
//
//	store.Set(ctx, key, payload, cache.SetOptions{TTL: 15 * time.Minute, Tags: tags, Compress: true})
//	store.InvalidateByTags(ctx, cache.SourceTag("notion"))
//
// Backends: MemoryStore (in-process, LRU bounded), RedisStore (shared,
// guarded by a circuit breaker), BadgerStore (durable, survives restarts)
// and TieredStore (memory in front of Redis, kept coherent over pub/sub).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("cache store is closed")

// Store is the cache contract the integration service depends on. Values
// are opaque bytes; callers serialize.
type Store interface {
	// Get returns the value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL and tags.
	Set(ctx context.Context, key string, value []byte, opts SetOptions) error

	// InvalidateByTags removes every entry carrying any of the tags and
	// returns how many entries were removed.
	InvalidateByTags(ctx context.Context, tags ...string) (int, error)

	// InvalidatePattern removes entries whose key matches a glob pattern
	// (path.Match syntax, e.g. "contacts:*").
	InvalidatePattern(ctx context.Context, pattern string) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// IsHealthy reports whether the backend is reachable.
	IsHealthy(ctx context.Context) bool

	// Stats returns counters since startup.
	Stats() Stats

	Close() error
}

// SetOptions controls a single Set.
type SetOptions struct {
	TTL  time.Duration
	Tags []string
	// Compress asks the backend to zstd-compress the payload when it is
	// larger than the configured threshold.
	Compress bool
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Backend       string    `json:"backend"`
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Evictions     int64     `json:"evictions"`
	Invalidations int64     `json:"invalidations"`
	Entries       int64     `json:"entries"`
	LastCleanup   time.Time `json:"lastCleanup"`
}

// HitRate returns hits as a percentage of lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendTiered = "tiered"
)

// Config selects and configures a backend.
type Config struct {
	Backend           string        `koanf:"backend"`
	DefaultTTL        time.Duration `koanf:"default_ttl"`
	CompressThreshold int           `koanf:"compress_threshold"`
	MaxEntries        int           `koanf:"max_entries"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval"`
	Redis             RedisConfig   `koanf:"redis"`
	Badger            BadgerConfig  `koanf:"badger"`
}

// New builds the configured backend. The caller owns the returned store
// and must Close it.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(MemoryConfig{
			MaxEntries:        cfg.MaxEntries,
			DefaultTTL:        cfg.DefaultTTL,
			CleanupInterval:   cfg.CleanupInterval,
			CompressThreshold: cfg.CompressThreshold,
		}), nil
	case BackendRedis:
		cfg.Redis.CompressThreshold = cfg.CompressThreshold
		return NewRedisStore(cfg.Redis)
	case BackendBadger:
		cfg.Badger.CompressThreshold = cfg.CompressThreshold
		if cfg.Badger.DefaultTTL <= 0 {
			cfg.Badger.DefaultTTL = cfg.DefaultTTL
		}
		return NewBadgerStore(cfg.Badger)
	case BackendTiered:
		cfg.Redis.CompressThreshold = cfg.CompressThreshold
		remote, err := NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		local := NewMemoryStore(MemoryConfig{
			MaxEntries:        cfg.MaxEntries,
			DefaultTTL:        cfg.DefaultTTL,
			CleanupInterval:   cfg.CleanupInterval,
			CompressThreshold: cfg.CompressThreshold,
		})
		return NewTieredStore(local, remote), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
