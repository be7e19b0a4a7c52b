// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package integration

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/metrics"
)

// Overall health classifications.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// SourceHealth is one adapter's probe result.
type SourceHealth struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Healthy    bool   `json:"healthy"`
	LatencyMs  int64  `json:"latencyMs"`
	Breaker    string `json:"breaker,omitempty"`
}

// CacheHealth reports the cache backend.
type CacheHealth struct {
	Enabled bool         `json:"enabled"`
	Healthy bool         `json:"healthy"`
	Stats   *cache.Stats `json:"stats,omitempty"`
}

// HealthStatus is the result of GetHealthStatus.
type HealthStatus struct {
	Status     string          `json:"status"`
	Configured int             `json:"configured"`
	Healthy    int             `json:"healthy"`
	Sources    []SourceHealth  `json:"sources"`
	Cache      CacheHealth     `json:"cache"`
	Breakers   []breaker.Stats `json:"breakers"`
	CheckedAt  time.Time       `json:"checkedAt"`
}

// classify maps healthy/configured counts onto an overall status.
// Unconfigured sources do not count; with none configured nothing can
// serve traffic, which is unhealthy.
func classify(healthy, configured int) string {
	switch {
	case configured == 0:
		return StatusUnhealthy
	case healthy == configured:
		return StatusHealthy
	case healthy*2 > configured:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// GetHealthStatus probes every configured source concurrently, each
// bounded by its own timeout.
func (s *Service) GetHealthStatus(ctx context.Context) HealthStatus {
	all := s.sources.All()
	results := make([]SourceHealth, len(all))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, src := range all {
		results[i] = SourceHealth{Name: src.Name(), Configured: src.Configured()}
		if b, err := s.breakers.Get(src.Name()); err == nil {
			results[i].Breaker = b.State().String()
		}
		if !src.Configured() {
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, src.Timeout())
			defer cancel()
			start := time.Now()
			healthy := src.IsHealthy(probeCtx)
			results[i].Healthy = healthy
			results[i].LatencyMs = time.Since(start).Milliseconds()
			metrics.RecordSourceHealth(src.Name(), healthy)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Sources:   results,
		Breakers:  s.breakers.Stats(),
		CheckedAt: s.now().UTC(),
	}
	for _, r := range results {
		if r.Configured {
			status.Configured++
			if r.Healthy {
				status.Healthy++
			}
		}
	}
	status.Status = classify(status.Healthy, status.Configured)

	if s.cache != nil {
		stats := s.cache.Stats()
		status.Cache = CacheHealth{Enabled: true, Healthy: s.cache.IsHealthy(ctx), Stats: &stats}
	}

	if status.Status != StatusHealthy {
		logging.Ctx(ctx).Warn().
			Str("status", status.Status).
			Int("healthy", status.Healthy).
			Int("configured", status.Configured).
			Msg("Integration health degraded")
	}
	return status
}
