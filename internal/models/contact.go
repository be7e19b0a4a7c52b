// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package models

import (
	"cmp"
	"strings"
	"time"
)

// Contact is a person known to the community, assembled from every source
// that mentions them.
type Contact struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email,omitempty"`
	Company         string    `json:"company,omitempty"`
	Role            string    `json:"role,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Location        string    `json:"location,omitempty"`
	Sector          string    `json:"sector,omitempty"`
	Status          string    `json:"status,omitempty"`
	LinkedInURL     string    `json:"linkedinUrl,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	StrategicValue  float64   `json:"strategicValue"`
	Confidence      float64   `json:"confidence"`
	LastInteraction time.Time `json:"lastInteraction"`

	// Relationship is filled by enrichment after merging.
	Relationship *RelationshipContext `json:"relationship,omitempty"`

	Provenance
}

// RelationshipContext summarises a contact's position in the relationship graph.
type RelationshipContext struct {
	Connections    int      `json:"connections"`
	SharedProjects []string `json:"sharedProjects,omitempty"`
	Organisations  []string `json:"organisations,omitempty"`
}

// Tier derives the strategic tier from StrategicValue.
func (c Contact) Tier() Tier {
	return TierFor(c.StrategicValue)
}

// Matches applies the filter's scalar and search criteria.
// Category matches the contact's sector.
func (c Contact) Matches(f Filter) bool {
	if !equalFoldOrEmpty(f.Category, c.Sector) ||
		!equalFoldOrEmpty(f.Status, c.Status) ||
		!equalFoldOrEmpty(f.Company, c.Company) {
		return false
	}
	if f.Tier != "" && c.Tier() != f.Tier {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, c.Name, c.Email, c.Company, c.Role) {
		return false
	}
	return true
}

// ContactSorts maps sortable field names to comparators.
var ContactSorts = map[string]func(a, b Contact) int{
	"name": func(a, b Contact) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	},
	"company": func(a, b Contact) int {
		return strings.Compare(strings.ToLower(a.Company), strings.ToLower(b.Company))
	},
	"email": func(a, b Contact) int {
		return strings.Compare(strings.ToLower(a.Email), strings.ToLower(b.Email))
	},
	"strategicValue":  func(a, b Contact) int { return cmp.Compare(a.StrategicValue, b.StrategicValue) },
	"confidence":      func(a, b Contact) int { return cmp.Compare(a.Confidence, b.Confidence) },
	"lastInteraction": func(a, b Contact) int { return a.LastInteraction.Compare(b.LastInteraction) },
}
