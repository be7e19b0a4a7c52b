// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/metrics"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`

	// KeyPrefix namespaces every key this store writes. Default "placemat:".
	KeyPrefix string `koanf:"key_prefix"`

	// TagTTL is how long tag index sets live after their last write. It must
	// exceed the longest entry TTL. Default 24h.
	TagTTL time.Duration `koanf:"tag_ttl"`

	// Channel carries invalidation messages between instances.
	Channel string `koanf:"channel"`

	DialTimeout time.Duration `koanf:"dial_timeout"`

	CompressThreshold int `koanf:"-"`
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "placemat:"
	}
	if c.TagTTL <= 0 {
		c.TagTTL = 24 * time.Hour
	}
	if c.Channel == "" {
		c.Channel = c.KeyPrefix + "invalidations"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// RedisStore is a Store shared by every instance. Tags are Redis sets of
// keys. Calls pass through a circuit breaker so a dead Redis fails fast
// instead of adding its dial timeout to every request.
type RedisStore struct {
	client     *redis.Client
	ownsClient bool
	cfg        RedisConfig
	cb         *gobreaker.CircuitBreaker[any]

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStoreWithClient(client, cfg)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	cfg = cfg.withDefaults()
	s := &RedisStore{client: client, cfg: cfg}
	s.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "cache-redis",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] Redis cache state transition")
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return s
}

func (s *RedisStore) entryKey(key string) string { return s.cfg.KeyPrefix + "e:" + key }
func (s *RedisStore) tagKey(tag string) string   { return s.cfg.KeyPrefix + "t:" + tag }
func (s *RedisStore) metaKey(key string) string  { return s.cfg.KeyPrefix + "m:" + key }

// guard runs op through the breaker.
func (s *RedisStore) guard(op func() (any, error)) (any, error) {
	return s.cb.Execute(op)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := s.guard(func() (any, error) {
		return s.client.Get(ctx, s.entryKey(key)).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		metrics.CacheMisses.WithLabelValues(BackendRedis).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	value, err := decodePayload(res.([]byte))
	if err != nil {
		return nil, false, err
	}
	s.hits.Add(1)
	metrics.CacheHits.WithLabelValues(BackendRedis).Inc()
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	data := encodePayload(value, opts.Compress, s.cfg.CompressThreshold)

	_, err := s.guard(func() (any, error) {
		return s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.entryKey(key), data, ttl)
			pipe.Del(ctx, s.metaKey(key))
			if len(opts.Tags) == 0 {
				return nil
			}
			members := make([]any, len(opts.Tags))
			for i, tag := range opts.Tags {
				members[i] = tag
				pipe.SAdd(ctx, s.tagKey(tag), key)
				pipe.Expire(ctx, s.tagKey(tag), s.cfg.TagTTL)
			}
			pipe.SAdd(ctx, s.metaKey(key), members...)
			pipe.Expire(ctx, s.metaKey(key), ttl)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// TagsFor returns the tags recorded for key by its last Set.
func (s *RedisStore) TagsFor(ctx context.Context, key string) ([]string, error) {
	res, err := s.guard(func() (any, error) {
		return s.client.SMembers(ctx, s.metaKey(key)).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("redis tags: %w", err)
	}
	return res.([]string), nil
}

func (s *RedisStore) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, tag := range tags {
		res, err := s.guard(func() (any, error) {
			keys, err := s.client.SMembers(ctx, s.tagKey(tag)).Result()
			if err != nil {
				return 0, err
			}
			entries := make([]string, 0, len(keys))
			index := make([]string, 0, len(keys)+1)
			for _, k := range keys {
				entries = append(entries, s.entryKey(k))
				index = append(index, s.metaKey(k))
			}
			index = append(index, s.tagKey(tag))

			n := int64(0)
			if len(entries) > 0 {
				if n, err = s.client.Del(ctx, entries...).Result(); err != nil {
					return 0, err
				}
			}
			return int(n), s.client.Del(ctx, index...).Err()
		})
		if err != nil {
			return removed, fmt.Errorf("redis invalidate tag %s: %w", tag, err)
		}
		removed += res.(int)
	}
	s.recordInvalidation("tags", removed)
	return removed, nil
}

func (s *RedisStore) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}
	n, err := s.deleteMatching(ctx, s.entryKey(pattern), true)
	if err != nil {
		return n, fmt.Errorf("redis invalidate pattern %s: %w", pattern, err)
	}
	s.recordInvalidation("pattern", n)
	return n, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	n, err := s.deleteMatching(ctx, s.cfg.KeyPrefix+"*", false)
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	s.recordInvalidation("all", n)
	return nil
}

// deleteMatching SCANs for match and deletes in batches. When withMeta is
// set the tag metadata of each entry is dropped as well.
func (s *RedisStore) deleteMatching(ctx context.Context, match string, withMeta bool) (int, error) {
	res, err := s.guard(func() (any, error) {
		removed := 0
		batch := make([]string, 0, 256)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := s.client.Del(ctx, batch...).Result()
			removed += int(n)
			batch = batch[:0]
			return err
		}

		iter := s.client.Scan(ctx, 0, match, 256).Iterator()
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) >= 256 {
				if err := flush(); err != nil {
					return removed, err
				}
			}
		}
		if err := iter.Err(); err != nil {
			return removed, err
		}
		if err := flush(); err != nil {
			return removed, err
		}
		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	removed := res.(int)
	if withMeta {
		// Tag sets may still name deleted keys; Set and InvalidateByTags tolerate that.
		if _, err := s.deleteMatching(ctx, strings.Replace(match, s.cfg.KeyPrefix+"e:", s.cfg.KeyPrefix+"m:", 1), false); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *RedisStore) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Stats reports local hit/miss counters. Entries is not tracked for Redis
// because the keyspace is shared between instances.
func (s *RedisStore) Stats() Stats {
	return Stats{
		Backend:       BackendRedis,
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Invalidations: s.invalidations.Load(),
	}
}

func (s *RedisStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) recordInvalidation(method string, n int) {
	s.invalidations.Add(int64(n))
	metrics.CacheInvalidations.WithLabelValues(BackendRedis, method).Add(float64(n))
}

// Invalidation is broadcast on the invalidation channel so other instances
// can drop their local copies.
type Invalidation struct {
	Origin  string   `json:"origin"`
	Keys    []string `json:"keys,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	All     bool     `json:"all,omitempty"`
}

// Publish broadcasts msg.
func (s *RedisStore) Publish(ctx context.Context, msg Invalidation) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := s.client.Publish(ctx, s.cfg.Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Subscribe delivers invalidations to fn until ctx is cancelled.
func (s *RedisStore) Subscribe(ctx context.Context, fn func(Invalidation)) error {
	pubsub := s.client.Subscribe(ctx, s.cfg.Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.cfg.Channel, err)
	}
	logging.Info().Str("channel", s.cfg.Channel).Msg("Subscribed to cache invalidation channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return errors.New("invalidation channel closed")
			}
			var msg Invalidation
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logging.Warn().Err(err).Msg("Discarding malformed cache invalidation")
				continue
			}
			fn(msg)
		}
	}
}
