// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package merge

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tomtom215/placemat/internal/models"
)

// ContactRules keys contacts by email, then name+company, then name.
var ContactRules = Rules[models.Contact]{
	Kind: models.KindContacts,
	Keys: func(c models.Contact) []string {
		name := normalize(c.Name)
		return []string{
			key("email", normalizeEmail(c.Email)),
			key("name_company", name, normalize(c.Company)),
			key("name", name),
		}
	},
	Fields:       mergeContactFields,
	Completeness: contactCompleteness,
	Fingerprint:  contactFingerprint,
	Provenance:   func(c models.Contact) models.Provenance { return c.Provenance },
	WithProvenance: func(c models.Contact, p models.Provenance) models.Contact {
		c.Provenance = p
		return c
	},
	Describe: func(c models.Contact) string {
		return fmt.Sprintf("id=%s name=%q", c.ID, c.Name)
	},
}

// NewContactEngine returns an engine for contacts with the given source priority.
func NewContactEngine(priority []string) *Engine[models.Contact] {
	return NewEngine(ContactRules, priority)
}

func mergeContactFields(p, s models.Contact) models.Contact {
	out := models.Contact{
		ID:              pick(p.ID, s.ID),
		Name:            pick(p.Name, s.Name),
		Email:           pick(p.Email, s.Email),
		Company:         pick(p.Company, s.Company),
		Role:            pick(p.Role, s.Role),
		Phone:           pick(p.Phone, s.Phone),
		Location:        pick(p.Location, s.Location),
		Sector:          pick(p.Sector, s.Sector),
		Status:          pick(p.Status, s.Status),
		LinkedInURL:     pick(p.LinkedInURL, s.LinkedInURL),
		Tags:            union(p.Tags, s.Tags),
		StrategicValue:  math.Max(p.StrategicValue, s.StrategicValue),
		Confidence:      math.Max(p.Confidence, s.Confidence),
		LastInteraction: latest(p.LastInteraction, s.LastInteraction),
		Relationship:    p.Relationship,
		Provenance:      p.Provenance,
	}
	if out.Relationship == nil {
		out.Relationship = s.Relationship
	}
	return out
}

func contactCompleteness(c models.Contact) int {
	n := count(c.ID, c.Name, c.Email, c.Company, c.Role, c.Phone, c.Location, c.Sector, c.Status, c.LinkedInURL)
	if len(c.Tags) > 0 {
		n++
	}
	if !c.LastInteraction.IsZero() {
		n++
	}
	return n
}

func contactFingerprint(c models.Contact) string {
	return strings.Join([]string{
		c.ID, c.Name, c.Email, c.Company, c.Role, c.Phone, c.Location, c.Sector, c.Status, c.LinkedInURL,
		strings.Join(c.Tags, ","),
		fmt.Sprintf("%g|%g", c.StrategicValue, c.Confidence),
		c.LastInteraction.UTC().Format(time.RFC3339Nano),
	}, "\x1f")
}
