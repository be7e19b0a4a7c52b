// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/integration"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/sources"
	"github.com/tomtom215/placemat/internal/validation"
)

// IntegrationService is the part of *integration.Service the handlers use.
type IntegrationService interface {
	GetContacts(ctx context.Context, f models.Filter) (*models.Result[models.Contact], error)
	GetProjects(ctx context.Context, f models.Filter) (*models.Result[models.Project], error)
	GetFinanceData(ctx context.Context, f models.Filter) (*models.Result[models.FinanceTransaction], error)
	GetHealthStatus(ctx context.Context) integration.HealthStatus

	InvalidateCacheByType(ctx context.Context, kind models.Kind) (int, error)
	InvalidateCacheBySource(ctx context.Context, source string) (int, error)
	InvalidateAllCache(ctx context.Context) error
	WarmCache(ctx context.Context) []integration.WarmResult

	BreakerStats() []breaker.Stats
	ResetBreaker(name string) error
	ForceBreakerState(name string, state breaker.State) error
}

var _ IntegrationService = (*integration.Service)(nil)

// Handler serves the REST API over an IntegrationService.
type Handler struct {
	service   IntegrationService
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(service IntegrationService) *Handler {
	return &Handler{service: service, startTime: time.Now()}
}

// listHandler adapts an entity query to an HTTP handler.
func listHandler[T any](fetch func(context.Context, models.Filter) (*models.Result[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rw := NewResponseWriter(w, r)
		f, err := parseFilter(r)
		if err != nil {
			rw.WriteServiceError(err)
			return
		}
		result, err := fetch(r.Context(), f)
		if err != nil {
			rw.WriteServiceError(err)
			return
		}
		Result(rw, result)
	}
}

// Contacts handles GET /contacts.
func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	listHandler(h.service.GetContacts)(w, r)
}

// Projects handles GET /projects.
func (h *Handler) Projects(w http.ResponseWriter, r *http.Request) {
	listHandler(h.service.GetProjects)(w, r)
}

// Finance handles GET /finance.
func (h *Handler) Finance(w http.ResponseWriter, r *http.Request) {
	listHandler(h.service.GetFinanceData)(w, r)
}

// Health reports source, cache and breaker health. Unhealthy answers 503
// so load balancers can act on the status code alone.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.service.GetHealthStatus(r.Context())
	code := http.StatusOK
	if status.Status == integration.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	NewResponseWriter(w, r).SuccessWithMeta(code, status, nil)
}

// HealthLive is the liveness probe. It never touches a source.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]any{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// Breakers lists every circuit breaker.
func (h *Handler) Breakers(w http.ResponseWriter, r *http.Request) {
	stats := h.service.BreakerStats()
	if stats == nil {
		stats = []breaker.Stats{}
	}
	NewResponseWriter(w, r).Success(stats)
}

// ResetBreaker closes a breaker and clears its failure history.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	name := chi.URLParam(r, "name")
	if err := h.service.ResetBreaker(name); err != nil {
		rw.WriteServiceError(err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("breaker", name).Msg("Circuit breaker reset via API")
	rw.Success(map[string]string{"name": name, "state": breaker.StateClosed.String()})
}

// ForceBreakerState pins a breaker to the state named in the body.
func (h *Handler) ForceBreakerState(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	name := chi.URLParam(r, "name")

	var req breakerStateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		rw.BadRequest("Request body must be JSON: {\"state\": \"closed|open|half-open\"}")
		return
	}
	req.State = strings.ToLower(strings.TrimSpace(req.State))
	if err := validation.ValidateStruct(&req); err != nil {
		rw.WriteServiceError(err)
		return
	}
	state, err := breaker.ParseState(req.State)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	if err := h.service.ForceBreakerState(name, state); err != nil {
		rw.WriteServiceError(err)
		return
	}
	logging.Ctx(r.Context()).Warn().Str("breaker", name).Str("state", state.String()).Msg("Circuit breaker state forced via API")
	rw.Success(map[string]string{"name": name, "state": state.String()})
}

// InvalidateCache drops cached queries by ?type= and/or ?source=.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()
	rawKind, source := strings.TrimSpace(q.Get("type")), strings.ToLower(strings.TrimSpace(q.Get("source")))

	if rawKind == "" && source == "" {
		rw.ValidationError("type or source is required", []validation.FieldError{
			{Field: "type", Tag: "required_without", Param: "source", Message: "type or source is required"},
		})
		return
	}

	var kind models.Kind
	if rawKind != "" {
		var ok bool
		if kind, ok = models.ParseKind(rawKind); !ok {
			rw.ValidationError("Unknown entity type", []validation.FieldError{
				{Field: "type", Tag: "oneof", Param: "contacts projects finance", Message: "type must be one of: contacts, projects, finance"},
			})
			return
		}
	}
	if source != "" && !sources.Known(source) {
		rw.ValidationError("Unknown source", []validation.FieldError{
			{Field: "source", Tag: "source", Message: "source must name a known source (" + strings.Join(sources.Names(), ", ") + ")"},
		})
		return
	}

	removed := 0
	if kind != "" {
		n, err := h.service.InvalidateCacheByType(r.Context(), kind)
		if err != nil {
			rw.WriteServiceError(err)
			return
		}
		removed += n
	}
	if source != "" {
		n, err := h.service.InvalidateCacheBySource(r.Context(), source)
		if err != nil {
			rw.WriteServiceError(err)
			return
		}
		removed += n
	}

	rw.Success(map[string]any{"type": string(kind), "source": source, "removed": removed})
}

// ClearCache drops every cached query.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.service.InvalidateAllCache(r.Context()); err != nil {
		rw.WriteServiceError(err)
		return
	}
	rw.Success(map[string]bool{"cleared": true})
}

// WarmCache runs the default warm-up queries and reports each outcome.
// Individual failures are reported, not returned as an error status.
func (h *Handler) WarmCache(w http.ResponseWriter, r *http.Request) {
	results := h.service.WarmCache(r.Context())
	if results == nil {
		results = []integration.WarmResult{}
	}
	NewResponseWriter(w, r).Success(results)
}
