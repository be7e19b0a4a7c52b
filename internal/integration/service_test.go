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
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomtom215/placemat/internal/batcher"
	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/merge"
	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/sources"
)

var errUpstream = errors.New("upstream exploded")

type fakeSource struct {
	name       string
	configured bool
	healthy    bool
	err        error

	contacts []models.Contact
	projects []models.Project
	finance  []models.FinanceTransaction
	related  map[string]models.RelationshipContext

	calls       atomic.Int32
	correlation atomic.Value
}

func newFake(name string) *fakeSource {
	return &fakeSource{name: name, configured: true, healthy: true}
}

func (f *fakeSource) Name() string                   { return f.name }
func (f *fakeSource) Configured() bool               { return f.configured }
func (f *fakeSource) IsHealthy(context.Context) bool { return f.healthy }
func (f *fakeSource) Timeout() time.Duration         { return time.Second }

func (f *fakeSource) GetContacts(ctx context.Context, _ models.Filter) ([]models.Contact, error) {
	f.calls.Add(1)
	f.correlation.Store(logging.CorrelationIDFromContext(ctx))
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.contacts), nil
}

func (f *fakeSource) GetProjects(context.Context, models.Filter) ([]models.Project, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.projects), nil
}

func (f *fakeSource) GetFinanceData(context.Context, models.Filter) ([]models.FinanceTransaction, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.finance), nil
}

func (f *fakeSource) Relationships(context.Context, []string) (map[string]models.RelationshipContext, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.related, nil
}

// failingStore accepts reads but rejects writes.
type failingStore struct {
	*cache.MemoryStore
}

func (failingStore) Set(context.Context, string, []byte, cache.SetOptions) error {
	return errors.New("disk full")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Priority = merge.Priority{
		models.KindContacts: {"adapter1", "adapter2", "adapter3"},
		models.KindProjects: {"adapter1", "adapter2", "adapter3"},
		models.KindFinance:  {"adapter1", "adapter2", "adapter3"},
	}
	return cfg
}

func contactSet(srcs ...*fakeSource) *sources.Set {
	set := &sources.Set{}
	for _, s := range srcs {
		set.Contacts = append(set.Contacts, s)
	}
	return set
}

func newMemory(t *testing.T) *cache.MemoryStore {
	t.Helper()
	m := cache.NewMemoryStore(cache.MemoryConfig{})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestGetContacts_PartialFailure(t *testing.T) {
	a1, a2, a3 := newFake("adapter1"), newFake("adapter2"), newFake("adapter3")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada Lovelace", Email: "ada@example.org"}}
	a2.err = errUpstream
	a3.contacts = []models.Contact{{ID: "2", Name: "Grace Hopper", Email: "grace@example.org"}}

	svc := New(testConfig(), Dependencies{Sources: contactSet(a1, a2, a3)})
	res, err := svc.GetContacts(context.Background(), models.Filter{})
	if err != nil {
		t.Fatalf("GetContacts: %v", err)
	}

	if got := res.Metadata.Sources; !slices.Equal(got, []string{"adapter1", "adapter3"}) {
		t.Errorf("Sources = %v", got)
	}
	if len(res.Metadata.FailedSources) != 1 || res.Metadata.FailedSources[0].Source != "adapter2" {
		t.Errorf("FailedSources = %+v", res.Metadata.FailedSources)
	}
	if len(res.Data) != 2 {
		t.Fatalf("len(Data) = %d, want 2", len(res.Data))
	}
	for _, c := range res.Data {
		if c.DataSource == "" {
			t.Errorf("contact %s has no data source", c.ID)
		}
	}
	if res.Metadata.CorrelationID == "" {
		t.Error("missing correlation id")
	}
}

func TestGetContacts_AllFail(t *testing.T) {
	a1, a2 := newFake("adapter1"), newFake("adapter2")
	a1.err, a2.err = errUpstream, errUpstream

	svc := New(testConfig(), Dependencies{Sources: contactSet(a1, a2)})
	_, err := svc.GetContacts(context.Background(), models.Filter{})
	if !errors.Is(err, ErrContactIntegration) {
		t.Fatalf("err = %v, want ErrContactIntegration", err)
	}
	var ie *IntegrationError
	if !errors.As(err, &ie) || len(ie.Failures) != 2 {
		t.Fatalf("failures = %+v", ie)
	}
}

func TestGetData_Unavailable(t *testing.T) {
	unconfigured := newFake("adapter1")
	unconfigured.configured = false

	tests := []struct {
		name   string
		set    *sources.Set
		filter models.Filter
		kind   models.Kind
	}{
		{
			name: "no contact sources",
			set:  &sources.Set{},
			kind: models.KindContacts,
		},
		{
			name: "unconfigured project source",
			set:  &sources.Set{Projects: []sources.ProjectSource{unconfigured}},
			kind: models.KindProjects,
		},
		{
			name:   "source filter excludes everything",
			set:    &sources.Set{Finance: []sources.FinanceSource{newFake("adapter2")}},
			filter: models.Filter{Sources: []string{"adapter9"}},
			kind:   models.KindFinance,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(testConfig(), Dependencies{Sources: tt.set})
			_, err := svc.query(context.Background(), WarmQuery{Kind: tt.kind, Filter: tt.filter})
			if !errors.Is(err, ErrServiceUnavailable) {
				t.Fatalf("err = %v, want ErrServiceUnavailable", err)
			}
		})
	}
}

func TestGetContacts_CacheHit(t *testing.T) {
	a1 := newFake("adapter1")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada", Email: "ada@example.org"}}
	svc := New(testConfig(), Dependencies{Sources: contactSet(a1), Cache: newMemory(t)})

	ctx := context.Background()
	first, err := svc.GetContacts(ctx, models.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Metadata.CacheHit {
		t.Fatal("first request should miss")
	}

	second, err := svc.GetContacts(ctx, models.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Metadata.CacheHit || !slices.Equal(second.Metadata.Sources, []string{"cache"}) {
		t.Errorf("metadata = %+v", second.Metadata)
	}
	if len(second.Data) != 1 || second.Data[0].Name != "Ada" {
		t.Errorf("data = %+v", second.Data)
	}
	if n := a1.calls.Load(); n != 1 {
		t.Errorf("source calls = %d, want 1", n)
	}
}

func TestGetContacts_CacheWriteFailureTolerated(t *testing.T) {
	a1 := newFake("adapter1")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada"}}
	svc := New(testConfig(), Dependencies{Sources: contactSet(a1), Cache: failingStore{newMemory(t)}})

	for range 2 {
		res, err := svc.GetContacts(context.Background(), models.Filter{})
		if err != nil {
			t.Fatalf("GetContacts: %v", err)
		}
		if res.Metadata.CacheHit {
			t.Error("nothing should have been cached")
		}
	}
	if n := a1.calls.Load(); n != 2 {
		t.Errorf("source calls = %d, want 2", n)
	}
}

func TestGetContacts_Enrichment(t *testing.T) {
	contacts := []models.Contact{{ID: "1", Name: "Ada", Email: "Ada@Example.org"}}

	t.Run("attached", func(t *testing.T) {
		a1, graph := newFake("adapter1"), newFake("neo4j")
		a1.contacts = contacts
		graph.related = map[string]models.RelationshipContext{
			"ada@example.org": {Connections: 3},
		}
		set := contactSet(a1)
		set.Relationships = graph

		res, err := New(testConfig(), Dependencies{Sources: set}).GetContacts(context.Background(), models.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Data[0].Relationship == nil || res.Data[0].Relationship.Connections != 3 {
			t.Errorf("relationship = %+v", res.Data[0].Relationship)
		}
	})

	t.Run("failure tolerated", func(t *testing.T) {
		a1, graph := newFake("adapter1"), newFake("neo4j")
		a1.contacts = contacts
		graph.err = errUpstream
		set := contactSet(a1)
		set.Relationships = graph

		res, err := New(testConfig(), Dependencies{Sources: set}).GetContacts(context.Background(), models.Filter{})
		if err != nil {
			t.Fatalf("enrichment failure should not fail the request: %v", err)
		}
		if len(res.Data) != 1 || res.Data[0].Relationship != nil {
			t.Errorf("data = %+v", res.Data)
		}
	})
}

func TestGetProjects_PaginationAndSort(t *testing.T) {
	a1 := newFake("adapter1")
	for _, name := range []string{"Delta", "alpha", "Charlie", "bravo", "Echo"} {
		a1.projects = append(a1.projects, models.Project{ID: name, Name: name, Status: "active"})
	}
	svc := New(testConfig(), Dependencies{Sources: &sources.Set{Projects: []sources.ProjectSource{a1}}})

	tests := []struct {
		name    string
		filter  models.Filter
		want    []string
		hasNext bool
	}{
		{name: "default sort", filter: models.Filter{Limit: 2}, want: []string{"alpha", "bravo"}, hasNext: true},
		{name: "second page", filter: models.Filter{Limit: 2, Offset: 2}, want: []string{"Charlie", "Delta"}, hasNext: true},
		{name: "last page", filter: models.Filter{Limit: 2, Offset: 4}, want: []string{"Echo"}},
		{name: "descending", filter: models.Filter{Limit: 1, SortBy: "name", SortOrder: models.SortDesc}, want: []string{"Echo"}, hasNext: true},
		{name: "beyond end", filter: models.Filter{Offset: 10}, want: []string{}},
		{name: "unknown sort falls back", filter: models.Filter{Limit: 1, SortBy: "colour"}, want: []string{"alpha"}, hasNext: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.GetProjects(context.Background(), tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			got := make([]string, 0, len(res.Data))
			for _, p := range res.Data {
				got = append(got, p.Name)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("names = %v, want %v", got, tt.want)
			}
			if res.Pagination.Total != 5 {
				t.Errorf("total = %d", res.Pagination.Total)
			}
			if res.Pagination.HasNext != tt.hasNext {
				t.Errorf("hasNext = %v, want %v", res.Pagination.HasNext, tt.hasNext)
			}
		})
	}
}

func TestGetFinanceData_MergesAcrossSources(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a1, a2 := newFake("adapter1"), newFake("adapter2")
	a1.finance = []models.FinanceTransaction{{ID: "x1", Reference: "INV-1", Date: day, Amount: decimal.RequireFromString("120.00")}}
	a2.finance = []models.FinanceTransaction{
		{ID: "n1", Reference: "inv-1", Date: day, Amount: decimal.RequireFromString("120"), Category: "grants"},
		{ID: "n2", Reference: "INV-2", Date: day.AddDate(0, 0, 1), Amount: decimal.RequireFromString("-40")},
	}
	svc := New(testConfig(), Dependencies{Sources: &sources.Set{Finance: []sources.FinanceSource{a1, a2}}})

	res, err := svc.GetFinanceData(context.Background(), models.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data) != 2 {
		t.Fatalf("len(Data) = %d, want 2", len(res.Data))
	}
	// newest first by default
	if res.Data[0].ID != "n2" {
		t.Errorf("first = %s, want n2", res.Data[0].ID)
	}
	merged := res.Data[1]
	if merged.DataSource != "adapter1" || merged.Category != "grants" {
		t.Errorf("merged = %+v", merged)
	}
}

func TestGetContacts_CircuitOpen(t *testing.T) {
	a1, a2 := newFake("adapter1"), newFake("adapter2")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada"}}
	a2.contacts = []models.Contact{{ID: "2", Name: "Grace"}}

	svc := New(testConfig(), Dependencies{Sources: contactSet(a1, a2)})
	if err := svc.ForceBreakerState("adapter2", breaker.StateOpen); err != nil {
		t.Fatal(err)
	}

	res, err := svc.GetContacts(context.Background(), models.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Metadata.FailedSources) != 1 || !res.Metadata.FailedSources[0].CircuitOpen {
		t.Errorf("FailedSources = %+v", res.Metadata.FailedSources)
	}
	if n := a2.calls.Load(); n != 0 {
		t.Errorf("open breaker let %d calls through", n)
	}

	if err := svc.ResetBreaker("adapter2"); err != nil {
		t.Fatal(err)
	}
	res, err = svc.GetContacts(context.Background(), models.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Metadata.Sources) != 2 {
		t.Errorf("Sources after reset = %v", res.Metadata.Sources)
	}
	if err := svc.ResetBreaker("nope"); !errors.Is(err, breaker.ErrUnknownBreaker) {
		t.Errorf("ResetBreaker(unknown) = %v", err)
	}
}

func TestGetContacts_RepeatedFailuresOpenBreaker(t *testing.T) {
	a1, a2 := newFake("adapter1"), newFake("adapter2")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada"}}
	a2.err = errUpstream

	svc := New(testConfig(), Dependencies{
		Sources:       contactSet(a1, a2),
		BreakerConfig: breaker.Config{FailureThreshold: 2, ResetTimeout: time.Hour},
	})
	for range 3 {
		if _, err := svc.GetContacts(context.Background(), models.Filter{}); err != nil {
			t.Fatal(err)
		}
	}
	if n := a2.calls.Load(); n != 2 {
		t.Errorf("failing source called %d times, want 2", n)
	}
}

func TestGetContacts_LocalThrottlingKeepsBreakerClosed(t *testing.T) {
	a1, a2 := newFake("adapter1"), newFake("adapter2")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada"}}
	a2.err = fmt.Errorf("adapter2: %w: %w", sources.ErrThrottled, context.DeadlineExceeded)

	svc := New(testConfig(), Dependencies{
		Sources:       contactSet(a1, a2),
		BreakerConfig: breaker.Config{FailureThreshold: 2, ResetTimeout: time.Hour},
	})
	for range 4 {
		if _, err := svc.GetContacts(context.Background(), models.Filter{}); err != nil {
			t.Fatal(err)
		}
	}
	if n := a2.calls.Load(); n != 4 {
		t.Errorf("throttled source called %d times, want 4", n)
	}
	for _, st := range svc.BreakerStats() {
		if st.Name == "adapter2" && (st.State != breaker.StateClosed || st.ExcludedCalls != 4) {
			t.Errorf("adapter2 breaker = %+v, want closed with 4 excluded calls", st)
		}
	}
}

func TestGetContacts_Batched(t *testing.T) {
	a1 := newFake("adapter1")
	for _, name := range []string{"Ada", "Grace", "Katherine", "Margaret", "Radia"} {
		a1.contacts = append(a1.contacts, models.Contact{ID: name, Name: name})
	}

	b := batcher.New(batcher.Config{Enabled: true, Intelligent: true, MaxBatchSize: 5, MaxWait: 5 * time.Second})
	t.Cleanup(b.Close)
	svc := New(testConfig(), Dependencies{Sources: contactSet(a1), Batcher: b})

	var wg sync.WaitGroup
	results := make([]*models.Result[models.Contact], 5)
	errs := make([]error, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.GetContacts(context.Background(), models.Filter{Limit: 1, Offset: i})
		}()
	}
	wg.Wait()

	for i := range 5 {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if len(results[i].Data) != 1 || results[i].Data[0].ID != a1.contacts[i].ID {
			t.Errorf("request %d data = %+v", i, results[i].Data)
		}
	}
	if n := a1.calls.Load(); n != 1 {
		t.Errorf("source calls = %d, want 1 shared fan-out", n)
	}

	// The shared source call logs under every caller's correlation id.
	seen, _ := a1.correlation.Load().(string)
	for i := range 5 {
		id := results[i].Metadata.CorrelationID
		if id == "" || !strings.Contains(seen, id) {
			t.Errorf("source context correlation id %q is missing request %d id %q", seen, i, id)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		healthy, configured int
		want                string
	}{
		{0, 0, StatusUnhealthy},
		{3, 3, StatusHealthy},
		{2, 3, StatusDegraded},
		{1, 2, StatusUnhealthy},
		{1, 3, StatusUnhealthy},
		{0, 4, StatusUnhealthy},
	}
	for _, tt := range tests {
		if got := classify(tt.healthy, tt.configured); got != tt.want {
			t.Errorf("classify(%d, %d) = %s, want %s", tt.healthy, tt.configured, got, tt.want)
		}
	}
}

func TestGetHealthStatus(t *testing.T) {
	a1, a2, a3 := newFake("adapter1"), newFake("adapter2"), newFake("adapter3")
	a2.healthy = false
	a3.configured = false

	svc := New(testConfig(), Dependencies{Sources: contactSet(a1, a2, a3), Cache: newMemory(t)})
	status := svc.GetHealthStatus(context.Background())

	if status.Configured != 2 || status.Healthy != 1 {
		t.Errorf("configured/healthy = %d/%d", status.Configured, status.Healthy)
	}
	if status.Status != StatusUnhealthy {
		t.Errorf("status = %s", status.Status)
	}
	if !status.Cache.Enabled || !status.Cache.Healthy {
		t.Errorf("cache = %+v", status.Cache)
	}
	if len(status.Sources) != 3 || len(status.Breakers) != 3 {
		t.Errorf("sources=%d breakers=%d", len(status.Sources), len(status.Breakers))
	}
}

func TestInvalidateCache(t *testing.T) {
	ctx := context.Background()
	a1, a2 := newFake("adapter1"), newFake("adapter2")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada"}}
	a2.projects = []models.Project{{ID: "p", Name: "Park"}}
	set := contactSet(a1)
	set.Projects = []sources.ProjectSource{a2}
	svc := New(testConfig(), Dependencies{Sources: set, Cache: newMemory(t)})

	prime := func() {
		t.Helper()
		if _, err := svc.GetContacts(ctx, models.Filter{}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetProjects(ctx, models.Filter{}); err != nil {
			t.Fatal(err)
		}
	}

	prime()
	if n, err := svc.InvalidateCacheByType(ctx, models.KindContacts); err != nil || n == 0 {
		t.Fatalf("InvalidateCacheByType = %d, %v", n, err)
	}
	if res, _ := svc.GetProjects(ctx, models.Filter{}); !res.Metadata.CacheHit {
		t.Error("projects should still be cached")
	}
	if res, _ := svc.GetContacts(ctx, models.Filter{}); res.Metadata.CacheHit {
		t.Error("contacts should have been invalidated")
	}

	if n, err := svc.InvalidateCacheBySource(ctx, "adapter2"); err != nil || n != 1 {
		t.Fatalf("InvalidateCacheBySource = %d, %v", n, err)
	}
	if res, _ := svc.GetContacts(ctx, models.Filter{}); !res.Metadata.CacheHit {
		t.Error("contacts should still be cached")
	}

	if err := svc.InvalidateAllCache(ctx); err != nil {
		t.Fatal(err)
	}
	if res, _ := svc.GetContacts(ctx, models.Filter{}); res.Metadata.CacheHit {
		t.Error("cache should be empty")
	}
}

func TestCacheAdmin_Disabled(t *testing.T) {
	svc := New(testConfig(), Dependencies{})
	if _, err := svc.InvalidateCacheBySource(context.Background(), "x"); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("err = %v", err)
	}
	if err := svc.InvalidateAllCache(context.Background()); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("err = %v", err)
	}
}

func TestWarmCache(t *testing.T) {
	a1 := newFake("adapter1")
	a1.contacts = []models.Contact{{ID: "1", Name: "Ada", StrategicValue: 90}}
	svc := New(testConfig(), Dependencies{Sources: contactSet(a1), Cache: newMemory(t)})

	report := svc.WarmCache(context.Background())
	for _, r := range report {
		if r.Kind != models.KindContacts {
			t.Errorf("warmed %s without sources", r.Kind)
		}
		if r.Error != "" {
			t.Errorf("warm %+v failed", r)
		}
	}
	if len(report) != 3 {
		t.Fatalf("len(report) = %d, want 3", len(report))
	}

	res, err := svc.GetContacts(context.Background(), models.Filter{Tier: models.Tier1})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Metadata.CacheHit || len(res.Data) != 1 {
		t.Errorf("tier1 query after warm-up: %+v", res.Metadata)
	}
}
