// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package models

// Result is the envelope returned by every entity query.
//
//	{
//	  "data": [...],
//	  "pagination": {"total": 42, "page": 1, "limit": 20, "hasNext": true, "hasPrev": false},
//	  "metadata": {"sources": ["neo4j", "notion"], "cacheHit": false, "processingTimeMs": 31, "correlationId": "1f3c9a7e"}
//	}
type Result[T any] struct {
	Data       []T         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// Pagination describes the page of Data within the full merged result.
type Pagination struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// Metadata carries provenance and timing for one query.
type Metadata struct {
	// Sources lists the adapters that contributed, or ["cache"] on a hit.
	Sources          []string        `json:"sources"`
	FailedSources    []SourceFailure `json:"failedSources,omitempty"`
	CacheHit         bool            `json:"cacheHit"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	CorrelationID    string          `json:"correlationId"`
}

// SourceFailure records why one adapter did not contribute.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
	// CircuitOpen is true when the call was never attempted.
	CircuitOpen bool `json:"circuitOpen,omitempty"`
}

// NewPagination computes page metadata for an offset/limit window over total items.
func NewPagination(total, offset, limit int) *Pagination {
	if limit <= 0 {
		limit = total
	}
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	return &Pagination{
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasNext: offset+limit < total,
		HasPrev: offset > 0,
	}
}
