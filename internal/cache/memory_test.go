// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestMemoryStore(t *testing.T, cfg MemoryConfig) *MemoryStore {
	t.Helper()
	m := NewMemoryStore(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryStoreBasicOperations(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{})

	if err := m.Set(ctx, "contacts:abc", []byte(`{"data":[]}`), SetOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := m.Get(ctx, "contacts:abc")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != `{"data":[]}` {
		t.Errorf("unexpected value %q", got)
	}

	if _, ok, _ := m.Get(ctx, "contacts:missing"); ok {
		t.Error("expected miss for unknown key")
	}

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.HitRate() != 50 {
		t.Errorf("expected 50%% hit rate, got %v", stats.HitRate())
	}
}

func TestMemoryStoreExpiration(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{})
	now := time.Now()
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "finance:1", []byte("x"), SetOptions{TTL: 2 * time.Minute})
	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "finance:1"); !ok {
		t.Fatal("entry expired too early")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "finance:1"); ok {
		t.Fatal("expected entry to expire")
	}
	if m.Stats().Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", m.Stats().Evictions)
	}
}

func TestMemoryStoreInvalidateByTags(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{})

	_ = m.Set(ctx, "contacts:a", []byte("a"), SetOptions{Tags: []string{"type:contacts", "source:x"}})
	_ = m.Set(ctx, "contacts:b", []byte("b"), SetOptions{Tags: []string{"type:contacts", "source:y"}})
	_ = m.Set(ctx, "projects:c", []byte("c"), SetOptions{Tags: []string{"type:projects", "source:x"}})

	n, err := m.InvalidateByTags(ctx, "source:x")
	if err != nil {
		t.Fatalf("InvalidateByTags failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 entries removed, got %d", n)
	}
	if _, ok, _ := m.Get(ctx, "contacts:a"); ok {
		t.Error("contacts:a should be invalidated")
	}
	if _, ok, _ := m.Get(ctx, "projects:c"); ok {
		t.Error("projects:c should be invalidated")
	}
	if _, ok, _ := m.Get(ctx, "contacts:b"); !ok {
		t.Error("contacts:b should survive")
	}

	// The surviving entry's other tags still work.
	if n, _ := m.InvalidateByTags(ctx, "type:contacts"); n != 1 {
		t.Errorf("expected 1 entry removed by type tag, got %d", n)
	}
}

func TestMemoryStoreInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{})
	_ = m.Set(ctx, "contacts:1", []byte("1"), SetOptions{})
	_ = m.Set(ctx, "contacts:2", []byte("2"), SetOptions{})
	_ = m.Set(ctx, "projects:1", []byte("3"), SetOptions{})

	n, err := m.InvalidatePattern(ctx, "contacts:*")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", n, err)
	}
	if m.Stats().Entries != 1 {
		t.Errorf("expected 1 remaining entry, got %d", m.Stats().Entries)
	}

	if _, err := m.InvalidatePattern(ctx, "[unterminated"); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{})
	for i := 0; i < 5; i++ {
		_ = m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), SetOptions{Tags: []string{"type:contacts"}})
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if m.Stats().Entries != 0 {
		t.Errorf("expected empty store, got %d entries", m.Stats().Entries)
	}
	if n, _ := m.InvalidateByTags(ctx, "type:contacts"); n != 0 {
		t.Errorf("tag index should be empty after clear, removed %d", n)
	}

	_ = m.Set(ctx, "after", []byte("v"), SetOptions{})
	if _, ok, _ := m.Get(ctx, "after"); !ok {
		t.Error("store should be usable after clear")
	}
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{MaxEntries: 2})

	_ = m.Set(ctx, "a", []byte("a"), SetOptions{})
	_ = m.Set(ctx, "b", []byte("b"), SetOptions{})
	_, _, _ = m.Get(ctx, "a") // a is now most recently used
	_ = m.Set(ctx, "c", []byte("c"), SetOptions{})

	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Error("a should survive")
	}
	if _, ok, _ := m.Get(ctx, "c"); !ok {
		t.Error("c should survive")
	}
}

func TestMemoryStoreCompression(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{CompressThreshold: 64})
	payload := bytes.Repeat([]byte(`{"name":"Jo Smith","company":"Acme"},`), 200)

	if err := m.Set(ctx, "big", payload, SetOptions{Compress: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	m.mu.Lock()
	stored := m.entries["big"].data
	m.mu.Unlock()
	if stored[0] != encodingZstd || len(stored) >= len(payload) {
		t.Errorf("expected compressed payload, header=%d size=%d", stored[0], len(stored))
	}

	got, ok, err := m.Get(ctx, "big")
	if err != nil || !ok || !bytes.Equal(got, payload) {
		t.Fatalf("round trip failed: ok=%v err=%v equal=%v", ok, err, bytes.Equal(got, payload))
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, MemoryConfig{MaxEntries: 50})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*j)%80)
				_ = m.Set(ctx, key, []byte("v"), SetOptions{Tags: []string{fmt.Sprintf("tag%d", j%5)}})
				_, _, _ = m.Get(ctx, key)
				if j%25 == 0 {
					_, _ = m.InvalidateByTags(ctx, "tag0")
				}
			}
		}(i)
	}
	wg.Wait()

	if got := m.Stats().Entries; got > 50 {
		t.Errorf("capacity exceeded: %d entries", got)
	}
}

func TestMemoryStoreClosedRejectsWrites(t *testing.T) {
	m := NewMemoryStore(MemoryConfig{})
	_ = m.Close()
	if err := m.Set(context.Background(), "k", []byte("v"), SetOptions{}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if m.IsHealthy(context.Background()) {
		t.Error("closed store should report unhealthy")
	}
}
