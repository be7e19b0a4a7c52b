// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package integration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/placemat/internal/batcher"
	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/merge"
	"github.com/tomtom215/placemat/internal/metrics"
	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/sources"
)

// Request outcomes, used as metric labels.
const (
	outcomeCacheHit    = "cache_hit"
	outcomeSuccess     = "success"
	outcomePartial     = "partial"
	outcomeFailed      = "failed"
	outcomeUnavailable = "unavailable"
)

type fetcher[T any] struct {
	source sources.Source
	fetch  func(ctx context.Context, f models.Filter) ([]T, error)
}

// pipeline is the per-kind configuration of a query.
type pipeline[T any] struct {
	kind        models.Kind
	capability  string
	fetchers    []fetcher[T]
	engine      *merge.Engine[T]
	rules       merge.Rules[T]
	match       func(T, models.Filter) bool
	sorts       map[string]func(a, b T) int
	defaultSort string
	defaultDesc bool
	enrich      func(ctx context.Context, records []T) ([]T, error)
}

// orderFetchers sorts fetchers by source priority so metadata lists
// sources in a stable, meaningful order.
func (p *pipeline[T]) orderFetchers(priority []string) {
	rank := func(name string) int {
		if i := slices.Index(priority, name); i >= 0 {
			return i
		}
		return len(priority)
	}
	slices.SortStableFunc(p.fetchers, func(a, b fetcher[T]) int {
		return rank(a.source.Name()) - rank(b.source.Name())
	})
}

func (p *pipeline[T]) configured() []fetcher[T] {
	var out []fetcher[T]
	for _, ft := range p.fetchers {
		if ft.source.Configured() {
			out = append(out, ft)
		}
	}
	return out
}

// collected is the shared, pre-pagination part of a query: merged records
// plus per-source attribution. It is read-only once built.
type collected[T any] struct {
	records  []T
	sources  []string
	failures []models.SourceFailure
}

// run executes one query end to end.
func run[T any](ctx context.Context, s *Service, p *pipeline[T], f models.Filter) (*models.Result[T], error) {
	start := s.now()
	correlationID := logging.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = logging.GenerateCorrelationID()
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	}
	log := logging.Ctx(ctx).With().Str("kind", p.kind.String()).Logger()

	f = s.normalize(f)
	key := cache.GenerateKey(p.kind, f)

	if cached, ok := cacheGet[T](ctx, s, key); ok {
		cached.Metadata = models.Metadata{
			Sources:          []string{"cache"},
			CacheHit:         true,
			ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
			CorrelationID:    correlationID,
		}
		metrics.RecordIntegrationRequest(p.kind.String(), outcomeCacheHit, s.now().Sub(start))
		return cached, nil
	}

	active := p.configured()
	if len(active) == 0 {
		metrics.RecordIntegrationRequest(p.kind.String(), outcomeUnavailable, s.now().Sub(start))
		return nil, &UnavailableError{Kind: p.kind, Capability: p.capability, CorrelationID: correlationID}
	}
	if !slices.ContainsFunc(active, func(ft fetcher[T]) bool { return f.WantsSource(ft.source.Name()) }) {
		metrics.RecordIntegrationRequest(p.kind.String(), outcomeUnavailable, s.now().Sub(start))
		return nil, &UnavailableError{
			Kind:          p.kind,
			Capability:    "source matching " + strings.Join(f.Sources, ","),
			CorrelationID: correlationID,
		}
	}

	col, err := gather(ctx, s, p, f)
	if err != nil {
		metrics.RecordIntegrationRequest(p.kind.String(), outcomeFailed, s.now().Sub(start))
		return nil, err
	}
	if len(col.sources) == 0 {
		metrics.RecordIntegrationRequest(p.kind.String(), outcomeFailed, s.now().Sub(start))
		log.Error().Int("failed_sources", len(col.failures)).Msg("All sources failed")
		return nil, &IntegrationError{Kind: p.kind, CorrelationID: correlationID, Failures: col.failures}
	}

	matched := make([]T, 0, len(col.records))
	for _, rec := range col.records {
		if p.match(rec, f) {
			matched = append(matched, rec)
		}
	}
	p.sort(matched, f)

	total := len(matched)
	lo := min(f.Offset, total)
	hi := min(lo+f.Limit, total)
	page := slices.Clone(matched[lo:hi])
	if page == nil {
		page = []T{}
	}

	result := &models.Result[T]{
		Data:       page,
		Pagination: models.NewPagination(total, f.Offset, f.Limit),
		Metadata: models.Metadata{
			Sources:       col.sources,
			FailedSources: col.failures,
			CorrelationID: correlationID,
		},
	}

	cacheSet(ctx, s, key, result, cache.SetOptions{
		TTL:      s.cfg.TTL.For(p.kind),
		Tags:     cache.GenerateTags(p.kind, f, col.sources),
		Compress: s.cfg.Compress,
	})

	elapsed := s.now().Sub(start)
	result.Metadata.ProcessingTimeMs = elapsed.Milliseconds()

	outcome := outcomeSuccess
	if len(col.failures) > 0 {
		outcome = outcomePartial
	}
	metrics.RecordIntegrationRequest(p.kind.String(), outcome, elapsed)
	log.Info().
		Strs("sources", col.sources).
		Int("failed", len(col.failures)).
		Int("total", total).
		Int("returned", len(page)).
		Dur("elapsed", elapsed).
		Msg("Integration request completed")
	return result, nil
}

// normalize applies limit defaults on top of Filter.Normalize.
func (s *Service) normalize(f models.Filter) models.Filter {
	f = f.Normalize()
	if f.Limit == 0 {
		f.Limit = s.cfg.DefaultLimit
	}
	if f.Limit > s.cfg.MaxLimit {
		f.Limit = s.cfg.MaxLimit
	}
	return f
}

// gather returns the merged records for f. With a batcher, concurrent
// requests sharing a fetch filter share one fan-out.
func gather[T any](ctx context.Context, s *Service, p *pipeline[T], f models.Filter) (*collected[T], error) {
	if s.batcher == nil {
		return collect(ctx, s, p, f.FetchFilter()), nil
	}
	v, err := s.batcher.Submit(ctx, p.kind, f, PriorityFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("batched %s request: %w", p.kind, err)
	}
	col, ok := v.(*collected[T])
	if !ok {
		return nil, fmt.Errorf("batched %s request: unexpected result %T", p.kind, v)
	}
	return col, nil
}

// executor runs a batch for one kind: one collect per distinct fetch
// filter, concurrently, with the result shared by every request in the group.
func executor[T any](s *Service, p *pipeline[T]) batcher.Executor {
	return func(ctx context.Context, reqs []*batcher.Request) (map[string]batcher.Result, error) {
		groups := make(map[string][]*batcher.Request)
		var order []string
		for _, r := range reqs {
			k := cache.GenerateKey(p.kind, r.Filter.FetchFilter())
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], r)
		}

		var mu sync.Mutex
		out := make(map[string]batcher.Result, len(reqs))
		var g errgroup.Group
		for _, k := range order {
			group := groups[k]
			g.Go(func() error {
				gctx := batcher.WithCorrelationIDs(ctx, group)
				col := collect(gctx, s, p, group[0].Filter.FetchFilter())
				mu.Lock()
				defer mu.Unlock()
				for _, r := range group {
					out[r.ID] = batcher.Result{Value: col}
				}
				return nil
			})
		}
		_ = g.Wait()
		return out, nil
	}
}

type settled[T any] struct {
	records []T
	err     error
}

// collect calls every configured source admitted by f concurrently and
// waits for all of them. A failing source never cancels the others.
func collect[T any](ctx context.Context, s *Service, p *pipeline[T], f models.Filter) *collected[T] {
	var active []fetcher[T]
	for _, ft := range p.configured() {
		if f.WantsSource(ft.source.Name()) {
			active = append(active, ft)
		}
	}

	results := make([]settled[T], len(active))
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, ft := range active {
		g.Go(func() error {
			records, err := call(ctx, s, p.kind, ft, f)
			results[i] = settled[T]{records: records, err: err}
			return nil
		})
	}
	_ = g.Wait()

	col := &collected[T]{}
	var raw []T
	for i, ft := range active {
		name := ft.source.Name()
		if err := results[i].err; err != nil {
			col.failures = append(col.failures, models.SourceFailure{
				Source:      name,
				Error:       err.Error(),
				CircuitOpen: errors.Is(err, breaker.ErrCircuitOpen),
			})
			continue
		}
		col.sources = append(col.sources, name)
		for _, rec := range results[i].records {
			raw = append(raw, p.stamp(rec, name))
		}
	}
	if len(col.sources) == 0 {
		return col
	}

	col.records = p.engine.Deduplicate(raw)
	metrics.IntegrationMergedRecords.WithLabelValues(p.kind.String()).Observe(float64(len(col.records)))

	if p.enrich != nil {
		enriched, err := p.enrich(ctx, col.records)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("kind", p.kind.String()).Msg("Enrichment failed, returning unenriched records")
		} else {
			col.records = enriched
		}
	}
	return col
}

// stamp sets DataSource on records an adapter left unattributed.
func (p *pipeline[T]) stamp(rec T, source string) T {
	if p.rules.Provenance(rec).DataSource != "" {
		return rec
	}
	return p.rules.WithProvenance(rec, models.Provenance{DataSource: source})
}

// call runs one source through its breaker. The call is detached from the
// caller's cancellation and bounded only by the source timeout, so breaker
// outcomes reflect the source and not the client.
func call[T any](ctx context.Context, s *Service, kind models.Kind, ft fetcher[T], f models.Filter) ([]T, error) {
	name := ft.source.Name()
	b, err := s.breakers.Get(name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ft.source.Timeout())
	defer cancel()

	start := time.Now()
	records, err := breaker.Execute(callCtx, b, func(ctx context.Context) ([]T, error) {
		return ft.fetch(ctx, f)
	})
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		metrics.RecordSourceCall(name, kind.String(), "rejected", elapsed)
		logging.Ctx(ctx).Debug().Str("source", name).Msg("Source skipped, circuit open")
	case sources.IsThrottled(err):
		metrics.RecordSourceCall(name, kind.String(), "throttled", elapsed)
		logging.Ctx(ctx).Warn().Err(err).Str("source", name).Msg("Source skipped, local request budget exhausted")
	case err != nil:
		metrics.RecordSourceCall(name, kind.String(), "failure", elapsed)
		logging.Ctx(ctx).Warn().Err(err).Str("source", name).Str("kind", kind.String()).Dur("elapsed", elapsed).Msg("Source call failed")
	default:
		metrics.RecordSourceCall(name, kind.String(), "success", elapsed)
	}
	return records, err
}

// sort orders records by f.SortBy, falling back to the pipeline default
// for unknown fields.
func (p *pipeline[T]) sort(records []T, f models.Filter) {
	field, desc := f.SortBy, f.SortOrder == models.SortDesc
	cmp, ok := p.sorts[field]
	if !ok {
		cmp = p.sorts[p.defaultSort]
		if f.SortOrder == "" {
			desc = p.defaultDesc
		}
	}
	if cmp == nil {
		return
	}
	slices.SortStableFunc(records, func(a, b T) int {
		if desc {
			return cmp(b, a)
		}
		return cmp(a, b)
	})
}

// cacheGet returns a cached result; backend errors count as misses.
func cacheGet[T any](ctx context.Context, s *Service, key string) (*models.Result[T], bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Cache read failed, continuing without cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result models.Result[T]
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.CacheErrors.WithLabelValues("decode").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Cached entry unreadable, treating as miss")
		return nil, false
	}
	if result.Data == nil {
		result.Data = []T{}
	}
	return &result, true
}

// cacheSet writes result; failures are logged and otherwise ignored.
func cacheSet[T any](ctx context.Context, s *Service, key string, result *models.Result[T], opts cache.SetOptions) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("encode").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Result not cacheable")
		return
	}
	if err := s.cache.Set(ctx, key, data, opts); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func sortedLower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = lower(s)
	}
	slices.Sort(out)
	return out
}
