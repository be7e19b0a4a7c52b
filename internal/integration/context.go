// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package integration

import (
	"context"

	"github.com/tomtom215/placemat/internal/batcher"
)

type priorityKey struct{}

// WithPriority sets the batching priority for requests issued with ctx.
func WithPriority(ctx context.Context, p batcher.Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the batching priority, medium by default.
func PriorityFromContext(ctx context.Context) batcher.Priority {
	if p, ok := ctx.Value(priorityKey{}).(batcher.Priority); ok {
		return p
	}
	return batcher.PriorityMedium
}
