// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package models

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{100, Tier1},
		{80, Tier1},
		{79.9, Tier2},
		{65, Tier2},
		{50, Tier3},
		{49.99, Tier4},
		{0, Tier4},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{
		Search:    "  jo ",
		Sources:   []string{"Notion", "neo4j", "notion", " "},
		SortOrder: "DESC",
		Tier:      "TIER1",
		Limit:     -3,
	}.Normalize()

	if f.Search != "jo" {
		t.Errorf("search not trimmed: %q", f.Search)
	}
	if !reflect.DeepEqual(f.Sources, []string{"neo4j", "notion"}) {
		t.Errorf("sources not normalized: %v", f.Sources)
	}
	if f.SortOrder != SortDesc || f.Tier != Tier1 {
		t.Errorf("sortOrder/tier not lower-cased: %q %q", f.SortOrder, f.Tier)
	}
	if f.Limit != 0 {
		t.Errorf("negative limit not clamped: %d", f.Limit)
	}
}

func TestFilterBatchableExcludesPagination(t *testing.T) {
	a := Filter{Company: "Acme", Limit: 10, Offset: 0, Search: "x"}
	b := Filter{Company: "Acme", Limit: 50, Offset: 100, SortBy: "name"}

	if !reflect.DeepEqual(a.Batchable(), b.Batchable()) {
		t.Errorf("batchable subsets differ: %v vs %v", a.Batchable(), b.Batchable())
	}
	if reflect.DeepEqual(a.Fields(), b.Fields()) {
		t.Error("full field sets should differ")
	}
	if got := b.FetchFilter(); got.Limit != 0 || got.Offset != 0 || got.SortBy != "" {
		t.Errorf("fetch filter kept pagination: %+v", got)
	}
}

func TestContactMatches(t *testing.T) {
	c := Contact{Name: "Jo Smith", Email: "jo@acme.org", Company: "Acme", Sector: "Health", StrategicValue: 82}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"company case-insensitive", Filter{Company: "acme"}, true},
		{"wrong company", Filter{Company: "Globex"}, false},
		{"category matches sector", Filter{Category: "health"}, true},
		{"tier", Filter{Tier: Tier1}, true},
		{"other tier", Filter{Tier: Tier3}, false},
		{"search by email", Filter{Search: "ACME.ORG"}, true},
		{"search miss", Filter{Search: "zzz"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Matches(tt.filter); got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestFinanceSortsByAmount(t *testing.T) {
	a := FinanceTransaction{Amount: decimal.RequireFromString("10.50")}
	b := FinanceTransaction{Amount: decimal.RequireFromString("9.99")}
	if FinanceSorts["amount"](a, b) <= 0 {
		t.Error("expected 10.50 to sort after 9.99")
	}
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name                 string
		total, offset, limit int
		want                 Pagination
	}{
		{"first page", 45, 0, 20, Pagination{Total: 45, Page: 1, Limit: 20, HasNext: true}},
		{"middle page", 45, 20, 20, Pagination{Total: 45, Page: 2, Limit: 20, HasNext: true, HasPrev: true}},
		{"last page", 45, 40, 20, Pagination{Total: 45, Page: 3, Limit: 20, HasPrev: true}},
		{"empty", 0, 0, 20, Pagination{Page: 1, Limit: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPagination(tt.total, tt.offset, tt.limit); *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestProvenanceContributors(t *testing.T) {
	if got := (Provenance{DataSource: "neo4j"}).Contributors(); !reflect.DeepEqual(got, []string{"neo4j"}) {
		t.Errorf("unmerged contributors = %v", got)
	}
	p := Provenance{DataSource: "neo4j", MergedFrom: []string{"neo4j", "gmail"}}
	if got := p.Contributors(); !reflect.DeepEqual(got, []string{"neo4j", "gmail"}) {
		t.Errorf("merged contributors = %v", got)
	}
}
