// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package services adapts blocking servers to suture.Service. Background
// loops that already implement Serve(ctx) error, such as the cache warmer
// and the circuit breaker monitor, are added to the tree directly.
package services
