// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/placemat/internal/logging"
)

// remoteStore is the part of RedisStore the tiered store needs.
type remoteStore interface {
	Store
	TagsFor(ctx context.Context, key string) ([]string, error)
	Publish(ctx context.Context, msg Invalidation) error
	Subscribe(ctx context.Context, fn func(Invalidation)) error
}

// TieredStore keeps a small in-process copy in front of the shared Redis
// cache. Every write and invalidation is published so other instances drop
// their local copies. Subscription runs as a supervised service (Serve).
type TieredStore struct {
	local    *MemoryStore
	remote   remoteStore
	origin   string
	localTTL time.Duration
}

// NewTieredStore layers local over remote.
func NewTieredStore(local *MemoryStore, remote remoteStore) *TieredStore {
	return &TieredStore{
		local:    local,
		remote:   remote,
		origin:   uuid.New().String(),
		localTTL: time.Minute,
	}
}

func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.local.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}

	v, ok, err := t.remote.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	tags, err := t.remote.TagsFor(ctx, key)
	if err != nil {
		// Untagged local copies would miss tag invalidations; skip the fill.
		return v, true, nil
	}
	_ = t.local.Set(ctx, key, v, SetOptions{TTL: t.localTTL, Tags: tags})
	return v, true, nil
}

func (t *TieredStore) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	if err := t.remote.Set(ctx, key, value, opts); err != nil {
		return err
	}
	local := opts
	if local.TTL <= 0 || local.TTL > t.localTTL {
		local.TTL = t.localTTL
	}
	_ = t.local.Set(ctx, key, value, local)
	t.publish(ctx, Invalidation{Keys: []string{key}})
	return nil
}

func (t *TieredStore) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	_, _ = t.local.InvalidateByTags(ctx, tags...)
	n, err := t.remote.InvalidateByTags(ctx, tags...)
	t.publish(ctx, Invalidation{Tags: tags})
	return n, err
}

func (t *TieredStore) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if _, err := t.local.InvalidatePattern(ctx, pattern); err != nil {
		return 0, err
	}
	n, err := t.remote.InvalidatePattern(ctx, pattern)
	t.publish(ctx, Invalidation{Pattern: pattern})
	return n, err
}

func (t *TieredStore) Clear(ctx context.Context) error {
	_ = t.local.Clear(ctx)
	err := t.remote.Clear(ctx)
	t.publish(ctx, Invalidation{All: true})
	return err
}

// IsHealthy tracks the shared tier; the local tier cannot fail.
func (t *TieredStore) IsHealthy(ctx context.Context) bool {
	return t.remote.IsHealthy(ctx)
}

// Stats merges counters: hits from either tier, misses from the remote tier.
func (t *TieredStore) Stats() Stats {
	l, r := t.local.Stats(), t.remote.Stats()
	return Stats{
		Backend:       BackendTiered,
		Hits:          l.Hits + r.Hits,
		Misses:        r.Misses,
		Evictions:     l.Evictions,
		Invalidations: r.Invalidations,
		Entries:       l.Entries,
		LastCleanup:   l.LastCleanup,
	}
}

func (t *TieredStore) Close() error {
	_ = t.local.Close()
	return t.remote.Close()
}

// Serve applies invalidations published by other instances until ctx is
// cancelled. It implements suture.Service.
func (t *TieredStore) Serve(ctx context.Context) error {
	return t.remote.Subscribe(ctx, t.apply)
}

func (t *TieredStore) String() string { return "cache-invalidation-subscriber" }

func (t *TieredStore) apply(msg Invalidation) {
	if msg.Origin == t.origin {
		return
	}
	ctx := context.Background()
	switch {
	case msg.All:
		_ = t.local.Clear(ctx)
	case msg.Pattern != "":
		_, _ = t.local.InvalidatePattern(ctx, msg.Pattern)
	case len(msg.Tags) > 0:
		_, _ = t.local.InvalidateByTags(ctx, msg.Tags...)
	case len(msg.Keys) > 0:
		t.local.removeKeys(msg.Keys...)
	}
}

func (t *TieredStore) publish(ctx context.Context, msg Invalidation) {
	msg.Origin = t.origin
	if err := t.remote.Publish(ctx, msg); err != nil {
		logging.Warn().Err(err).Msg("Failed to publish cache invalidation")
	}
}
