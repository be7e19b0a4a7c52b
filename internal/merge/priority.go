// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package merge

import (
	"slices"

	"github.com/tomtom215/placemat/internal/models"
)

// Priority lists sources per kind from most to least trusted.
type Priority map[models.Kind][]string

// DefaultPriority ranks the graph store first, then the richest external source.
func DefaultPriority() Priority {
	return Priority{
		models.KindContacts: {"neo4j", "linkedin", "gmail", "notion", "slack"},
		models.KindProjects: {"neo4j", "notion", "slack"},
		models.KindFinance:  {"xero", "notion"},
	}
}

// For returns the priority list for kind, falling back to the default.
func (p Priority) For(kind models.Kind) []string {
	if list, ok := p[kind]; ok && len(list) > 0 {
		return slices.Clone(list)
	}
	return DefaultPriority()[kind]
}
