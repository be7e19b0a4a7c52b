// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/tomtom215/placemat/internal/metrics"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// MaxEntries bounds the store; the least recently used entry is evicted
	// first. Zero means 10000.
	MaxEntries int

	// DefaultTTL applies when SetOptions.TTL is zero.
	DefaultTTL time.Duration

	// CleanupInterval is how often expired entries are swept. Zero means 5 minutes.
	CleanupInterval time.Duration

	CompressThreshold int

	// Label is the cache_type metric label. Defaults to "memory".
	Label string
}

// memEntry is a node in the LRU list.
type memEntry struct {
	key       string
	data      []byte
	tags      []string
	expiresAt time.Time
	prev      *memEntry
	next      *memEntry
}

// MemoryStore is an in-process Store with TTL expiry, LRU eviction and a
// tag index.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	tags    map[string]map[string]struct{}
	head    *memEntry // sentinel: head.next is most recently used
	tail    *memEntry // sentinel: tail.prev is least recently used

	capacity  int
	ttl       time.Duration
	threshold int
	label     string
	now       func() time.Time

	stats  Stats
	stop   chan struct{}
	closed bool
}

// NewMemoryStore creates a store and starts its cleanup loop.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.Label == "" {
		cfg.Label = BackendMemory
	}

	m := &MemoryStore{
		entries:   make(map[string]*memEntry),
		tags:      make(map[string]map[string]struct{}),
		head:      &memEntry{},
		tail:      &memEntry{},
		capacity:  cfg.MaxEntries,
		ttl:       cfg.DefaultTTL,
		threshold: cfg.CompressThreshold,
		label:     cfg.Label,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	m.head.next = m.tail
	m.tail.prev = m.head
	m.stats = Stats{Backend: cfg.Label, LastCleanup: m.now()}

	go m.cleanupLoop(cfg.CleanupInterval)
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && m.now().After(e.expiresAt) {
		m.removeLocked(e)
		m.stats.Evictions++
		metrics.CacheEvictions.WithLabelValues(m.label).Inc()
		ok = false
	}
	if !ok {
		m.stats.Misses++
		m.mu.Unlock()
		metrics.CacheMisses.WithLabelValues(m.label).Inc()
		return nil, false, nil
	}
	m.moveToFrontLocked(e)
	m.stats.Hits++
	data := e.data
	m.mu.Unlock()

	metrics.CacheHits.WithLabelValues(m.label).Inc()
	value, err := decodePayload(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}
	data := encodePayload(value, opts.Compress, m.threshold)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if old, ok := m.entries[key]; ok {
		m.removeLocked(old)
	}
	e := &memEntry{
		key:       key,
		data:      data,
		tags:      append([]string(nil), opts.Tags...),
		expiresAt: m.now().Add(ttl),
	}
	m.entries[key] = e
	m.addToFrontLocked(e)
	for _, tag := range e.tags {
		set, ok := m.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			m.tags[tag] = set
		}
		set[key] = struct{}{}
	}

	for len(m.entries) > m.capacity {
		m.removeLocked(m.tail.prev)
		m.stats.Evictions++
		metrics.CacheEvictions.WithLabelValues(m.label).Inc()
	}
	metrics.CacheSize.WithLabelValues(m.label).Set(float64(len(m.entries)))
	return nil
}

func (m *MemoryStore) InvalidateByTags(_ context.Context, tags ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		for key := range m.tags[tag] {
			if e, ok := m.entries[key]; ok {
				m.removeLocked(e)
				removed++
			}
		}
		delete(m.tags, tag)
	}
	m.recordInvalidationLocked("tags", removed)
	return removed, nil
}

func (m *MemoryStore) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			m.removeLocked(e)
			removed++
		}
	}
	m.recordInvalidationLocked("pattern", removed)
	return removed, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.entries)
	m.entries = make(map[string]*memEntry)
	m.tags = make(map[string]map[string]struct{})
	m.head.next = m.tail
	m.tail.prev = m.head
	m.recordInvalidationLocked("all", removed)
	return nil
}

func (m *MemoryStore) IsHealthy(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *MemoryStore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Entries = int64(len(m.entries))
	return s
}

// Close stops the cleanup loop. The store rejects writes afterwards.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	return nil
}

// removeKeys drops the given keys without touching counters. The tiered
// store uses it to apply invalidations published by other instances.
func (m *MemoryStore) removeKeys(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		if e, ok := m.entries[key]; ok {
			m.removeLocked(e)
		}
	}
	metrics.CacheSize.WithLabelValues(m.label).Set(float64(len(m.entries)))
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for _, e := range m.entries {
		if now.After(e.expiresAt) {
			m.removeLocked(e)
			evicted++
		}
	}
	m.stats.Evictions += int64(evicted)
	m.stats.LastCleanup = now
	metrics.CacheEvictions.WithLabelValues(m.label).Add(float64(evicted))
	metrics.CacheSize.WithLabelValues(m.label).Set(float64(len(m.entries)))
}

func (m *MemoryStore) recordInvalidationLocked(method string, removed int) {
	m.stats.Invalidations += int64(removed)
	metrics.CacheInvalidations.WithLabelValues(m.label, method).Add(float64(removed))
	metrics.CacheSize.WithLabelValues(m.label).Set(float64(len(m.entries)))
}

// removeLocked unlinks e from the list, the entry map and the tag index.
func (m *MemoryStore) removeLocked(e *memEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	delete(m.entries, e.key)
	for _, tag := range e.tags {
		if set, ok := m.tags[tag]; ok {
			delete(set, e.key)
			if len(set) == 0 {
				delete(m.tags, tag)
			}
		}
	}
}

func (m *MemoryStore) addToFrontLocked(e *memEntry) {
	e.prev = m.head
	e.next = m.head.next
	m.head.next.prev = e
	m.head.next = e
}

func (m *MemoryStore) moveToFrontLocked(e *memEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	m.addToFrontLocked(e)
}
