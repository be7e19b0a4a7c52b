// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package breaker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tomtom215/placemat/internal/logging"
)

// ErrUnknownBreaker is returned by registry lookups for unregistered names.
var ErrUnknownBreaker = errors.New("unknown circuit breaker")

// Registry owns one breaker per source. It is built once at startup and
// handed to the integration service; there is no package-level registry.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Add registers b, replacing any breaker with the same name.
func (r *Registry) Add(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
}

// Get returns the named breaker.
func (r *Registry) Get(name string) (*Breaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}
	return b, nil
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats snapshots every breaker, sorted by name.
func (r *Registry) Stats() []Stats {
	names := r.Names()
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if b, err := r.Get(name); err == nil {
			out = append(out, b.Stats())
		}
	}
	return out
}

func (r *Registry) all() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	return out
}

// Monitor periodically probes open breakers so a recovered source gets a
// trial call even when no traffic arrives. It implements suture.Service.
type Monitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

// NewMonitor probes every interval; each probe is bounded by timeout.
func NewMonitor(registry *Registry, interval, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{registry: registry, interval: interval, timeout: timeout}
}

// Serve runs until ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context) error {
	if m.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every open breaker once and returns how many moved to half-open.
func (m *Monitor) ProbeAll(ctx context.Context) int {
	moved := 0
	for _, b := range m.registry.all() {
		if b.State() != StateOpen {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		if b.Probe(probeCtx) {
			moved++
			logging.Info().Str("breaker", b.Name()).Msg("[CIRCUIT BREAKER] Source recovered, admitting trial calls")
		}
		cancel()
	}
	return moved
}

func (m *Monitor) String() string { return "circuit-breaker-monitor" }
