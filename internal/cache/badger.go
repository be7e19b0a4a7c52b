// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/metrics"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Path string `koanf:"path"`

	// InMemory runs Badger without touching disk (tests, ephemeral nodes).
	InMemory bool `koanf:"in_memory"`

	// DefaultTTL applies when SetOptions.TTL is zero. Default 24h.
	DefaultTTL time.Duration `koanf:"default_ttl"`

	// GCInterval is how often the value log is garbage collected. Default 10m.
	GCInterval time.Duration `koanf:"gc_interval"`

	CompressThreshold int `koanf:"-"`
}

// Key layout:
//
//	e\x00<key>          payload
//	t\x00<tag>\x00<key> tag index marker (same TTL as the entry)
var (
	prefixEntry = []byte("e\x00")
	prefixTag   = []byte("t\x00")
)

// BadgerStore is a durable Store backed by an embedded Badger database.
// Entry and tag-index TTLs are enforced by Badger itself, so cached results
// survive a restart until they expire.
type BadgerStore struct {
	db        *badger.DB
	ttl       time.Duration
	threshold int

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64

	mu          sync.Mutex
	lastCleanup time.Time
	stop        chan struct{}
	closed      bool
}

// NewBadgerStore opens (or creates) the database at cfg.Path.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger cache requires a path or in_memory")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Payloads are already zstd-compressed when large.
	opts.Compression = options.None
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	s := &BadgerStore{
		db:          db,
		ttl:         cfg.DefaultTTL,
		threshold:   cfg.CompressThreshold,
		lastCleanup: time.Now(),
		stop:        make(chan struct{}),
	}
	if !cfg.InMemory {
		go s.gcLoop(cfg.GCInterval)
	}

	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Badger cache opened")
	return s, nil
}

func entryKey(key string) []byte {
	return append(append([]byte{}, prefixEntry...), key...)
}

func tagIndexPrefix(tag string) []byte {
	b := append(append([]byte{}, prefixTag...), tag...)
	return append(b, 0)
}

func keysOnly() badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	return opts
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.misses.Add(1)
		metrics.CacheMisses.WithLabelValues(BackendBadger).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}

	value, err := decodePayload(data)
	if err != nil {
		return nil, false, err
	}
	s.hits.Add(1)
	metrics.CacheHits.WithLabelValues(BackendBadger).Inc()
	return value, true, nil
}

func (s *BadgerStore) Set(_ context.Context, key string, value []byte, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	data := encodePayload(value, opts.Compress, s.threshold)

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(entryKey(key), data).WithTTL(ttl)); err != nil {
			return err
		}
		for _, tag := range opts.Tags {
			marker := append(tagIndexPrefix(tag), key...)
			if err := txn.SetEntry(badger.NewEntry(marker, nil).WithTTL(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (s *BadgerStore) InvalidateByTags(_ context.Context, tags ...string) (int, error) {
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, tag := range tags {
			prefix := tagIndexPrefix(tag)
			var markers, keys [][]byte

			it := txn.NewIterator(keysOnly())
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				marker := it.Item().KeyCopy(nil)
				markers = append(markers, marker)
				keys = append(keys, entryKey(string(bytes.TrimPrefix(marker, prefix))))
			}
			it.Close()

			for _, k := range keys {
				if _, err := txn.Get(k); err == nil {
					removed++
				}
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			for _, m := range markers {
				if err := txn.Delete(m); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger invalidate tags: %w", err)
	}
	s.recordInvalidation("tags", removed)
	return removed, nil
}

func (s *BadgerStore) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		var doomed [][]byte
		it := txn.NewIterator(keysOnly())
		for it.Seek(prefixEntry); it.ValidForPrefix(prefixEntry); it.Next() {
			k := it.Item().KeyCopy(nil)
			if ok, _ := path.Match(pattern, string(k[len(prefixEntry):])); ok {
				doomed = append(doomed, k)
			}
		}
		it.Close()

		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		removed = len(doomed)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger invalidate pattern: %w", err)
	}
	s.recordInvalidation("pattern", removed)
	return removed, nil
}

func (s *BadgerStore) Clear(context.Context) error {
	n := s.countEntries()
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("badger clear: %w", err)
	}
	s.recordInvalidation("all", n)
	return nil
}

func (s *BadgerStore) IsHealthy(context.Context) bool {
	return !s.db.IsClosed()
}

func (s *BadgerStore) Stats() Stats {
	s.mu.Lock()
	last := s.lastCleanup
	s.mu.Unlock()
	return Stats{
		Backend:       BackendBadger,
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Invalidations: s.invalidations.Load(),
		Entries:       int64(s.countEntries()),
		LastCleanup:   last,
	}
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()
	return s.db.Close()
}

func (s *BadgerStore) countEntries() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(keysOnly())
		defer it.Close()
		for it.Seek(prefixEntry); it.ValidForPrefix(prefixEntry); it.Next() {
			n++
		}
		return nil
	})
	return n
}

func (s *BadgerStore) recordInvalidation(method string, n int) {
	s.invalidations.Add(int64(n))
	metrics.CacheInvalidations.WithLabelValues(BackendBadger, method).Add(float64(n))
}

func (s *BadgerStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing to collect.
			for s.db.RunValueLogGC(0.5) == nil {
			}
			s.mu.Lock()
			s.lastCleanup = time.Now()
			s.mu.Unlock()
			metrics.CacheSize.WithLabelValues(BackendBadger).Set(float64(s.countEntries()))
		}
	}
}
