// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package models

import (
	"slices"
	"strings"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Filter is accepted by every entity query. All fields are optional; the
// zero Filter returns the first default-sorted page.
type Filter struct {
	Search    string    `json:"search,omitempty" validate:"max=200"`
	Category  string    `json:"category,omitempty" validate:"max=100"`
	Status    string    `json:"status,omitempty" validate:"max=50"`
	Company   string    `json:"company,omitempty" validate:"max=200"`
	Tier      Tier      `json:"tier,omitempty" validate:"omitempty,oneof=tier1 tier2 tier3 tier4"`
	Sources   []string  `json:"sources,omitempty" validate:"max=10,dive,source"`
	Limit     int       `json:"limit,omitempty" validate:"gte=0,lte=500"`
	Offset    int       `json:"offset,omitempty" validate:"gte=0"`
	SortBy    string    `json:"sortBy,omitempty" validate:"max=50"`
	SortOrder SortOrder `json:"sortOrder,omitempty" validate:"omitempty,oneof=asc desc"`
}

// Normalize trims scalar values, lower-cases the sort order and tier, and
// sorts and de-duplicates the source list, so that equivalent filters
// compare equal.
func (f Filter) Normalize() Filter {
	f.Search = strings.TrimSpace(f.Search)
	f.Category = strings.TrimSpace(f.Category)
	f.Status = strings.TrimSpace(f.Status)
	f.Company = strings.TrimSpace(f.Company)
	f.SortBy = strings.TrimSpace(f.SortBy)
	f.Tier = Tier(strings.ToLower(strings.TrimSpace(string(f.Tier))))
	f.SortOrder = SortOrder(strings.ToLower(strings.TrimSpace(string(f.SortOrder))))

	if len(f.Sources) > 0 {
		sources := make([]string, 0, len(f.Sources))
		for _, s := range f.Sources {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				sources = append(sources, s)
			}
		}
		slices.Sort(sources)
		f.Sources = slices.Compact(sources)
		if len(f.Sources) == 0 {
			f.Sources = nil
		}
	}
	if f.Limit < 0 {
		f.Limit = 0
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// FetchFilter drops pagination and sorting. Two requests with the same
// fetch filter need exactly the same upstream data.
func (f Filter) FetchFilter() Filter {
	f.Limit, f.Offset = 0, 0
	f.SortBy, f.SortOrder = "", ""
	return f
}

// Batchable returns the subset of the filter used to group requests into
// batches: the source list and the category, status and company scalars.
func (f Filter) Batchable() map[string]any {
	m := make(map[string]any, 4)
	if len(f.Sources) > 0 {
		m["sources"] = f.Sources
	}
	if f.Category != "" {
		m["category"] = f.Category
	}
	if f.Status != "" {
		m["status"] = f.Status
	}
	if f.Company != "" {
		m["company"] = f.Company
	}
	return m
}

// Fields returns every non-zero field keyed by its JSON name. Used for
// cache key hashing.
func (f Filter) Fields() map[string]any {
	m := f.Batchable()
	if f.Search != "" {
		m["search"] = f.Search
	}
	if f.Tier != "" {
		m["tier"] = string(f.Tier)
	}
	if f.Limit != 0 {
		m["limit"] = f.Limit
	}
	if f.Offset != 0 {
		m["offset"] = f.Offset
	}
	if f.SortBy != "" {
		m["sortBy"] = f.SortBy
	}
	if f.SortOrder != "" {
		m["sortOrder"] = string(f.SortOrder)
	}
	return m
}

// WantsSource reports whether the source list admits name. An empty list
// admits every source.
func (f Filter) WantsSource(name string) bool {
	return len(f.Sources) == 0 || slices.Contains(f.Sources, strings.ToLower(name))
}
