// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

/*
Package middleware provides HTTP middleware shared by the REST surface.

  - RequestID: request and correlation ids, echoed in headers and carried in the context
  - PrometheusMetrics: request count, latency and in-flight gauge labelled by chi route pattern
  - Compression: gzip for responses of at least 1KB

All three have the standard func(http.Handler) http.Handler shape and are
installed with chi's r.Use:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Compression())
*/
package middleware
