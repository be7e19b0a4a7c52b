// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/placemat/internal/batcher"
	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/config"
	"github.com/tomtom215/placemat/internal/integration"
	"github.com/tomtom215/placemat/internal/models"
)

type fakeService struct {
	contacts *models.Result[models.Contact]
	err      error
	health   integration.HealthStatus

	calls    int
	filter   models.Filter
	priority batcher.Priority

	invalidateErr error
	byType        map[models.Kind]int
	bySource      map[string]int
	cleared       bool

	forced map[string]breaker.State
	reset  []string
}

func (f *fakeService) GetContacts(ctx context.Context, filter models.Filter) (*models.Result[models.Contact], error) {
	f.calls++
	f.filter = filter
	f.priority = integration.PriorityFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	if f.contacts != nil {
		return f.contacts, nil
	}
	return &models.Result[models.Contact]{}, nil
}

func (f *fakeService) GetProjects(_ context.Context, filter models.Filter) (*models.Result[models.Project], error) {
	f.calls++
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &models.Result[models.Project]{}, nil
}

func (f *fakeService) GetFinanceData(_ context.Context, filter models.Filter) (*models.Result[models.FinanceTransaction], error) {
	f.calls++
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &models.Result[models.FinanceTransaction]{}, nil
}

func (f *fakeService) GetHealthStatus(context.Context) integration.HealthStatus { return f.health }

func (f *fakeService) InvalidateCacheByType(_ context.Context, kind models.Kind) (int, error) {
	if f.invalidateErr != nil {
		return 0, f.invalidateErr
	}
	return f.byType[kind], nil
}

func (f *fakeService) InvalidateCacheBySource(_ context.Context, source string) (int, error) {
	if f.invalidateErr != nil {
		return 0, f.invalidateErr
	}
	return f.bySource[source], nil
}

func (f *fakeService) InvalidateAllCache(context.Context) error {
	if f.invalidateErr != nil {
		return f.invalidateErr
	}
	f.cleared = true
	return nil
}

func (f *fakeService) WarmCache(context.Context) []integration.WarmResult {
	return []integration.WarmResult{
		{WarmQuery: integration.WarmQuery{Kind: models.KindContacts}, Records: 3},
		{WarmQuery: integration.WarmQuery{Kind: models.KindFinance}, Error: "xero: timeout"},
	}
}

func (f *fakeService) BreakerStats() []breaker.Stats {
	return []breaker.Stats{{Name: "neo4j", State: breaker.StateClosed}}
}

func (f *fakeService) ResetBreaker(name string) error {
	if name != "neo4j" {
		return fmt.Errorf("%w: %s", breaker.ErrUnknownBreaker, name)
	}
	f.reset = append(f.reset, name)
	return nil
}

func (f *fakeService) ForceBreakerState(name string, state breaker.State) error {
	if name != "neo4j" {
		return fmt.Errorf("%w: %s", breaker.ErrUnknownBreaker, name)
	}
	if f.forced == nil {
		f.forced = make(map[string]breaker.State)
	}
	f.forced[name] = state
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func newTestServer(svc IntegrationService, cfg config.APIConfig) http.Handler {
	return NewRouter(NewHandler(svc), cfg).SetupChi()
}

func adminConfig() config.APIConfig {
	return config.APIConfig{AdminEnabled: true, RateLimitDisabled: true}
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func TestContacts_Success(t *testing.T) {
	svc := &fakeService{contacts: &models.Result[models.Contact]{
		Data:       []models.Contact{{ID: "1", Name: "Ada"}, {ID: "2", Name: "Grace"}},
		Pagination: models.NewPagination(7, 0, 2),
		Metadata: models.Metadata{
			Sources:       []string{"neo4j", "gmail"},
			FailedSources: []models.SourceFailure{{Source: "notion", Error: "timeout"}},
			CorrelationID: "corr-1",
		},
	}}
	h := newTestServer(svc, adminConfig())

	rec, env := do(t, h, http.MethodGet, "/api/v1/contacts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !env.Success || env.Error != nil {
		t.Fatalf("envelope = %+v", env)
	}

	var contacts []models.Contact
	if err := json.Unmarshal(env.Data, &contacts); err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Errorf("len(data) = %d, want 2", len(contacts))
	}
	if env.Meta.Pagination == nil || env.Meta.Pagination.Total != 7 || !env.Meta.Pagination.HasNext {
		t.Errorf("pagination = %+v", env.Meta.Pagination)
	}
	if !slices.Equal(env.Meta.Sources, []string{"neo4j", "gmail"}) {
		t.Errorf("sources = %v", env.Meta.Sources)
	}
	if len(env.Meta.FailedSources) != 1 || env.Meta.FailedSources[0].Source != "notion" {
		t.Errorf("failedSources = %+v", env.Meta.FailedSources)
	}
	if env.Meta.CorrelationID != "corr-1" {
		t.Errorf("correlationId = %q", env.Meta.CorrelationID)
	}
	if env.Meta.RequestID == "" || rec.Header().Get("X-Request-ID") != env.Meta.RequestID {
		t.Errorf("request id header %q, meta %q", rec.Header().Get("X-Request-ID"), env.Meta.RequestID)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestContacts_EmptyDataIsArray(t *testing.T) {
	h := newTestServer(&fakeService{}, adminConfig())

	rec, env := do(t, h, http.MethodGet, "/api/v1/contacts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}

func TestContacts_ParsesFilter(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, adminConfig())

	rec, _ := do(t, h, http.MethodGet,
		"/api/v1/contacts?search=+ada+&tier=TIER1&sources=neo4j,gmail&sources=slack&limit=10&page=3&sortBy=name&sortOrder=DESC", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got := svc.filter
	if got.Search != "ada" {
		t.Errorf("Search = %q", got.Search)
	}
	if got.Tier != models.Tier1 {
		t.Errorf("Tier = %q", got.Tier)
	}
	if !slices.Equal(got.Sources, []string{"gmail", "neo4j", "slack"}) {
		t.Errorf("Sources = %v", got.Sources)
	}
	if got.Limit != 10 || got.Offset != 20 {
		t.Errorf("Limit, Offset = %d, %d; want 10, 20", got.Limit, got.Offset)
	}
	if got.SortBy != "name" || got.SortOrder != models.SortDesc {
		t.Errorf("sort = %q %q", got.SortBy, got.SortOrder)
	}
}

func TestContacts_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		field string
	}{
		{"non-numeric limit", "limit=ten", "limit"},
		{"limit too large", "limit=1000", "limit"},
		{"negative offset", "offset=-5", "offset"},
		{"unknown tier", "tier=gold", "tier"},
		{"unknown source", "sources=myspace", "sources[0]"},
		{"bad sort order", "sortOrder=up", "sortOrder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			h := newTestServer(svc, adminConfig())

			rec, env := do(t, h, http.MethodGet, "/api/v1/contacts?"+tt.query, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if env.Error == nil || env.Error.Code != ErrCodeValidation {
				t.Fatalf("error = %+v", env.Error)
			}
			if !strings.Contains(rec.Body.String(), `"field":"`+tt.field+`"`) {
				t.Errorf("body %s does not name field %q", rec.Body.String(), tt.field)
			}
			if svc.calls != 0 {
				t.Error("service called despite invalid filter")
			}
		})
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no configured sources",
			err:        &integration.UnavailableError{Kind: models.KindProjects, Capability: "project source"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   ErrCodeServiceUnavailable,
		},
		{
			name: "all sources failed",
			err: &integration.IntegrationError{Kind: models.KindProjects, Failures: []models.SourceFailure{
				{Source: "notion", Error: "boom"},
			}},
			wantStatus: http.StatusBadGateway,
			wantCode:   ErrCodeIntegrationFailed,
		},
		{
			name:       "deadline",
			err:        fmt.Errorf("fetch: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   ErrCodeTimeout,
		},
		{
			name:       "unexpected",
			err:        errors.New("something odd"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeService{err: tt.err}, adminConfig())

			rec, env := do(t, h, http.MethodGet, "/api/v1/projects", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if env.Success || env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("envelope = %+v, want code %s", env.Error, tt.wantCode)
			}
		})
	}
}

func TestRequestPriorityHeader(t *testing.T) {
	tests := []struct {
		header string
		want   batcher.Priority
	}{
		{"", batcher.PriorityMedium},
		{"high", batcher.PriorityHigh},
		{"LOW", batcher.PriorityLow},
		{"urgent", batcher.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			svc := &fakeService{}
			h := newTestServer(svc, adminConfig())

			do(t, h, http.MethodGet, "/api/v1/contacts", "", HeaderRequestPriority, tt.header)
			if svc.priority != tt.want {
				t.Errorf("priority = %v, want %v", svc.priority, tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		status     string
		wantStatus int
	}{
		{integration.StatusHealthy, http.StatusOK},
		{integration.StatusDegraded, http.StatusOK},
		{integration.StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			svc := &fakeService{health: integration.HealthStatus{Status: tt.status, CheckedAt: time.Now()}}
			h := newTestServer(svc, adminConfig())

			rec, env := do(t, h, http.MethodGet, "/api/v1/health", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var got integration.HealthStatus
			if err := json.Unmarshal(env.Data, &got); err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.status {
				t.Errorf("data.status = %q", got.Status)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := newTestServer(&fakeService{}, adminConfig())
	rec, env := do(t, h, http.MethodGet, "/api/v1/health/live", "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, envelope %+v", rec.Code, env)
	}
}

func TestBreakerAdmin(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, adminConfig())

	rec, env := do(t, h, http.MethodGet, "/api/v1/breakers", "")
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"state":"closed"`) {
		t.Errorf("GET /breakers = %d %s", rec.Code, env.Data)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/v1/breakers/neo4j/reset", "")
	if rec.Code != http.StatusOK || !slices.Equal(svc.reset, []string{"neo4j"}) {
		t.Errorf("reset = %d, calls %v", rec.Code, svc.reset)
	}

	rec, env = do(t, h, http.MethodPost, "/api/v1/breakers/nope/reset", "")
	if rec.Code != http.StatusNotFound || env.Error.Code != ErrCodeNotFound {
		t.Errorf("reset unknown = %d %+v", rec.Code, env.Error)
	}

	tests := []struct {
		name       string
		breaker    string
		body       string
		wantStatus int
		wantState  breaker.State
	}{
		{"open", "neo4j", `{"state":"open"}`, http.StatusOK, breaker.StateOpen},
		{"half open", "neo4j", `{"state":"Half-Open"}`, http.StatusOK, breaker.StateHalfOpen},
		{"unknown state", "neo4j", `{"state":"sideways"}`, http.StatusBadRequest, 0},
		{"missing state", "neo4j", `{}`, http.StatusBadRequest, 0},
		{"not json", "neo4j", `open`, http.StatusBadRequest, 0},
		{"unknown breaker", "nope", `{"state":"open"}`, http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.forced = nil
			rec, _ := do(t, h, http.MethodPut, "/api/v1/breakers/"+tt.breaker+"/state", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK && svc.forced[tt.breaker] != tt.wantState {
				t.Errorf("forced state = %v, want %v", svc.forced[tt.breaker], tt.wantState)
			}
		})
	}
}

func TestInvalidateCache(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		err         error
		wantStatus  int
		wantRemoved int
	}{
		{name: "by type", query: "type=contacts", wantStatus: http.StatusOK, wantRemoved: 4},
		{name: "by source", query: "source=Xero", wantStatus: http.StatusOK, wantRemoved: 2},
		{name: "both", query: "type=contacts&source=xero", wantStatus: http.StatusOK, wantRemoved: 6},
		{name: "neither", query: "", wantStatus: http.StatusBadRequest},
		{name: "unknown type", query: "type=invoices", wantStatus: http.StatusBadRequest},
		{name: "unknown source", query: "source=myspace", wantStatus: http.StatusBadRequest},
		{name: "cache disabled", query: "type=projects", err: integration.ErrCacheDisabled, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{
				invalidateErr: tt.err,
				byType:        map[models.Kind]int{models.KindContacts: 4},
				bySource:      map[string]int{"xero": 2},
			}
			h := newTestServer(svc, adminConfig())

			rec, env := do(t, h, http.MethodPost, "/api/v1/cache/invalidate?"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var data struct {
				Removed int `json:"removed"`
			}
			if err := json.Unmarshal(env.Data, &data); err != nil {
				t.Fatal(err)
			}
			if data.Removed != tt.wantRemoved {
				t.Errorf("removed = %d, want %d", data.Removed, tt.wantRemoved)
			}
		})
	}
}

func TestClearAndWarmCache(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, adminConfig())

	rec, _ := do(t, h, http.MethodDelete, "/api/v1/cache", "")
	if rec.Code != http.StatusOK || !svc.cleared {
		t.Errorf("DELETE /cache = %d, cleared %v", rec.Code, svc.cleared)
	}

	rec, env := do(t, h, http.MethodPost, "/api/v1/cache/warm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /cache/warm = %d", rec.Code)
	}
	var results []integration.WarmResult
	if err := json.Unmarshal(env.Data, &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[1].Error == "" {
		t.Errorf("results = %+v", results)
	}
}

func TestAdminRoutesDisabled(t *testing.T) {
	h := newTestServer(&fakeService{}, config.APIConfig{RateLimitDisabled: true})

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/breakers/neo4j/reset"},
		{http.MethodPost, "/api/v1/cache/invalidate?type=contacts"},
		{http.MethodDelete, "/api/v1/cache"},
		{http.MethodPost, "/api/v1/cache/warm"},
	} {
		rec, _ := do(t, h, route.method, route.path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", route.method, route.path, rec.Code)
		}
	}

	rec, _ := do(t, h, http.MethodGet, "/api/v1/breakers", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /breakers = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(&fakeService{}, config.APIConfig{RateLimitReqs: 1, RateLimitWindow: time.Minute})

	rec, _ := do(t, h, http.MethodGet, "/api/v1/contacts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec, env := do(t, h, http.MethodGet, "/api/v1/contacts", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if env.Error == nil || env.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("error = %+v", env.Error)
	}

	// Health is outside the limited group.
	if rec, _ := do(t, h, http.MethodGet, "/api/v1/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("health after limit = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeService{}, adminConfig())
	do(t, h, http.MethodGet, "/api/v1/health/live", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `api_requests_total{endpoint="/api/v1/health/live"`) {
		t.Error("metrics output has no series for the live probe")
	}
}

func TestNotFound(t *testing.T) {
	h := newTestServer(&fakeService{}, adminConfig())
	rec, env := do(t, h, http.MethodGet, "/api/v1/nothing", "")
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != ErrCodeNotFound {
		t.Errorf("status = %d, error %+v", rec.Code, env.Error)
	}
}
