// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

/*
Package api exposes the integration service over HTTP using the chi router.

Routes (under /api/v1 unless noted):

	GET    /contacts                  merged contacts
	GET    /projects                  merged projects
	GET    /finance                   merged finance transactions
	GET    /health                    source, cache and breaker health (503 when unhealthy)
	GET    /health/live               liveness probe
	GET    /breakers                  circuit breaker stats
	POST   /breakers/{name}/reset     admin: close and clear a breaker
	PUT    /breakers/{name}/state     admin: force a breaker state
	POST   /cache/invalidate          admin: ?type= and/or ?source=
	DELETE /cache                     admin: drop every cached query
	POST   /cache/warm                admin: run warm-up queries
	GET    /metrics                   Prometheus exposition (root)

Entity queries accept search, category, status, company, tier, sources,
limit, offset, page, sortBy and sortOrder. The X-Request-Priority header
(high, medium or low) sets the batching priority.

Every response uses the same envelope:

	{"success": true, "data": [...], "meta": {"requestId": "...", "pagination": {...}, "sources": [...]}}
	{"success": false, "error": {"code": "INTEGRATION_FAILED", "message": "...", "details": [...]}, "meta": {...}}

Service errors map to status codes as follows: no configured source is
503 SERVICE_UNAVAILABLE, every source failing is 502 INTEGRATION_FAILED
and bad parameters are 400 VALIDATION_ERROR.
*/
package api
