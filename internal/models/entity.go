// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package models defines the canonical CRM entities assembled from the
// external sources, the filter accepted by every query, and the response
// envelope returned to callers.
package models

import (
	"slices"
	"strings"
)

// Kind identifies an entity type flowing through the integration layer.
type Kind string

const (
	KindContacts Kind = "contacts"
	KindProjects Kind = "projects"
	KindFinance  Kind = "finance"
)

// Kinds lists every entity kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindContacts, KindProjects, KindFinance}
}

// ParseKind accepts the plural kind name plus a few common aliases.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "contacts", "contact":
		return KindContacts, true
	case "projects", "project":
		return KindProjects, true
	case "finance", "financial", "transactions":
		return KindFinance, true
	}
	return "", false
}

func (k Kind) String() string { return string(k) }

// Provenance records which sources produced a record. DataSource is the
// source whose values won field resolution; MergedFrom lists every source
// that contributed once two or more records were merged.
type Provenance struct {
	DataSource string   `json:"dataSource"`
	MergedFrom []string `json:"mergedFrom,omitempty"`
}

// Contributors returns MergedFrom, or the single DataSource for an unmerged record.
func (p Provenance) Contributors() []string {
	if len(p.MergedFrom) > 0 {
		return slices.Clone(p.MergedFrom)
	}
	if p.DataSource == "" {
		return nil
	}
	return []string{p.DataSource}
}

// containsFold reports whether any of the fields contains needle, ignoring case.
func containsFold(needle string, fields ...string) bool {
	needle = strings.ToLower(needle)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func equalFoldOrEmpty(want, got string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
}
