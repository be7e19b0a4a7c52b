// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/placemat/internal/config"
	"github.com/tomtom215/placemat/internal/middleware"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	adminEnabled  bool
}

// NewRouter builds a Router from the API section of the configuration.
func NewRouter(handler *Handler, cfg config.APIConfig) *Router {
	mw := DefaultChiMiddlewareConfig()
	if len(cfg.CORSOrigins) > 0 {
		mw.CORSAllowedOrigins = cfg.CORSOrigins
	}
	if cfg.RateLimitReqs > 0 {
		mw.RateLimitRequests = cfg.RateLimitReqs
	}
	if cfg.RateLimitWindow > 0 {
		mw.RateLimitWindow = cfg.RateLimitWindow
	}
	mw.RateLimitDisabled = cfg.RateLimitDisabled

	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(mw),
		adminEnabled:  cfg.AdminEnabled,
	}
}

// SetupChi returns the complete HTTP handler.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("No route for " + r.Method + " " + r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders)
		r.Use(middleware.Compression())

		r.Get("/health", router.handler.Health)
		r.Get("/health/live", router.handler.HealthLive)

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(RequestPriority)

			r.Get("/contacts", router.handler.Contacts)
			r.Get("/projects", router.handler.Projects)
			r.Get("/finance", router.handler.Finance)
			r.Get("/breakers", router.handler.Breakers)

			if !router.adminEnabled {
				return
			}
			r.Post("/breakers/{name}/reset", router.handler.ResetBreaker)
			r.Put("/breakers/{name}/state", router.handler.ForceBreakerState)
			r.Post("/cache/invalidate", router.handler.InvalidateCache)
			r.Delete("/cache", router.handler.ClearCache)
			r.Post("/cache/warm", router.handler.WarmCache)
		})
	})

	return r
}
