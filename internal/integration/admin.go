// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/models"
)

// ErrCacheDisabled is returned by cache administration without a cache.
var ErrCacheDisabled = errors.New("cache disabled")

// InvalidateCacheByType drops every cached query for kind, by tag and by
// key pattern so entries written without tags are covered too.
func (s *Service) InvalidateCacheByType(ctx context.Context, kind models.Kind) (int, error) {
	if s.cache == nil {
		return 0, ErrCacheDisabled
	}
	byTag, err := s.cache.InvalidateByTags(ctx, cache.TypeTag(kind))
	if err != nil {
		return 0, fmt.Errorf("invalidate %s by tag: %w", kind, err)
	}
	byPattern, err := s.cache.InvalidatePattern(ctx, cache.KindPattern(kind))
	if err != nil {
		return byTag, fmt.Errorf("invalidate %s by pattern: %w", kind, err)
	}
	logging.Ctx(ctx).Info().Str("kind", kind.String()).Int("removed", byTag+byPattern).Msg("Cache invalidated by type")
	return byTag + byPattern, nil
}

// InvalidateCacheBySource drops every cached query that included source.
func (s *Service) InvalidateCacheBySource(ctx context.Context, source string) (int, error) {
	if s.cache == nil {
		return 0, ErrCacheDisabled
	}
	n, err := s.cache.InvalidateByTags(ctx, cache.SourceTag(source))
	if err != nil {
		return 0, fmt.Errorf("invalidate source %s: %w", source, err)
	}
	logging.Ctx(ctx).Info().Str("source", source).Int("removed", n).Msg("Cache invalidated by source")
	return n, nil
}

// InvalidateAllCache clears the cache.
func (s *Service) InvalidateAllCache(ctx context.Context) error {
	if s.cache == nil {
		return ErrCacheDisabled
	}
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	logging.Ctx(ctx).Info().Msg("Cache cleared")
	return nil
}

// WarmQuery is one query issued by WarmCache.
type WarmQuery struct {
	Kind   models.Kind   `json:"kind"`
	Filter models.Filter `json:"filter"`
}

// WarmResult reports one warm-up query.
type WarmResult struct {
	WarmQuery
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// DefaultWarmQueries are the first pages most dashboards open with.
func DefaultWarmQueries() []WarmQuery {
	return []WarmQuery{
		{Kind: models.KindContacts},
		{Kind: models.KindContacts, Filter: models.Filter{Tier: models.Tier1}},
		{Kind: models.KindContacts, Filter: models.Filter{SortBy: "lastInteraction", SortOrder: models.SortDesc}},
		{Kind: models.KindProjects},
		{Kind: models.KindProjects, Filter: models.Filter{Status: "active"}},
		{Kind: models.KindFinance},
	}
}

// WarmCache issues the default queries so they are cached ahead of
// traffic. Kinds without a configured source are skipped; failures are
// reported, not returned.
func (s *Service) WarmCache(ctx context.Context) []WarmResult {
	start := time.Now()
	ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())

	var results []WarmResult
	for _, q := range DefaultWarmQueries() {
		if !s.hasSources(q.Kind) {
			continue
		}
		r := WarmResult{WarmQuery: q}
		n, err := s.query(ctx, q)
		r.Records = n
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}

	logging.Ctx(ctx).Info().Int("queries", len(results)).Dur("elapsed", time.Since(start)).Msg("Cache warm-up completed")
	return results
}

func (s *Service) query(ctx context.Context, q WarmQuery) (int, error) {
	switch q.Kind {
	case models.KindContacts:
		r, err := s.GetContacts(ctx, q.Filter)
		if err != nil {
			return 0, err
		}
		return len(r.Data), nil
	case models.KindProjects:
		r, err := s.GetProjects(ctx, q.Filter)
		if err != nil {
			return 0, err
		}
		return len(r.Data), nil
	default:
		r, err := s.GetFinanceData(ctx, q.Filter)
		if err != nil {
			return 0, err
		}
		return len(r.Data), nil
	}
}

func (s *Service) hasSources(kind models.Kind) bool {
	switch kind {
	case models.KindContacts:
		return len(s.contacts.configured()) > 0
	case models.KindProjects:
		return len(s.projects.configured()) > 0
	default:
		return len(s.finance.configured()) > 0
	}
}

// Warmer runs WarmCache on an interval. It implements suture.Service.
type Warmer struct {
	service  *Service
	interval time.Duration
}

// NewWarmer warms once at start and then every interval. A zero interval
// warms once.
func NewWarmer(service *Service, interval time.Duration) *Warmer {
	return &Warmer{service: service, interval: interval}
}

func (w *Warmer) Serve(ctx context.Context) error {
	w.service.WarmCache(ctx)
	if w.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.service.WarmCache(ctx)
		}
	}
}

func (w *Warmer) String() string { return "cache-warmer" }

// BreakerStats snapshots every source breaker.
func (s *Service) BreakerStats() []breaker.Stats {
	return s.breakers.Stats()
}

// ResetBreaker returns the named breaker to a fresh closed state.
func (s *Service) ResetBreaker(name string) error {
	b, err := s.breakers.Get(name)
	if err != nil {
		return err
	}
	b.Reset()
	return nil
}

// ForceBreakerState overrides the named breaker's state.
func (s *Service) ForceBreakerState(name string, state breaker.State) error {
	b, err := s.breakers.Get(name)
	if err != nil {
		return err
	}
	b.ForceState(state)
	return nil
}

// Breakers exposes the registry for the health monitor.
func (s *Service) Breakers() *breaker.Registry { return s.breakers }
