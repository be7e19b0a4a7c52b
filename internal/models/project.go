// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package models

import (
	"cmp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Project is a piece of community work tracked across the documents tool
// and the relationship graph.
type Project struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       string          `json:"status,omitempty"`
	Category     string          `json:"category,omitempty"`
	Organisation string          `json:"organisation,omitempty"`
	Description  string          `json:"description,omitempty"`
	Lead         string          `json:"lead,omitempty"`
	Location     string          `json:"location,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Budget       decimal.Decimal `json:"budget"`
	Progress     float64         `json:"progress"`
	Confidence   float64         `json:"confidence"`
	StartDate    time.Time       `json:"startDate"`
	EndDate      time.Time       `json:"endDate"`

	Provenance
}

// Matches applies the filter's scalar and search criteria.
// Company matches the owning organisation. Tier does not apply to projects.
func (p Project) Matches(f Filter) bool {
	if !equalFoldOrEmpty(f.Category, p.Category) ||
		!equalFoldOrEmpty(f.Status, p.Status) ||
		!equalFoldOrEmpty(f.Company, p.Organisation) {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, p.Name, p.Description, p.Organisation, p.Lead) {
		return false
	}
	return true
}

// ProjectSorts maps sortable field names to comparators.
var ProjectSorts = map[string]func(a, b Project) int{
	"name": func(a, b Project) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	},
	"status":    func(a, b Project) int { return strings.Compare(a.Status, b.Status) },
	"progress":  func(a, b Project) int { return cmp.Compare(a.Progress, b.Progress) },
	"budget":    func(a, b Project) int { return a.Budget.Cmp(b.Budget) },
	"startDate": func(a, b Project) int { return a.StartDate.Compare(b.StartDate) },
	"endDate":   func(a, b Project) int { return a.EndDate.Compare(b.EndDate) },
}
