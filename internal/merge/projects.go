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

// ProjectRules keys projects by name+organisation, then name.
var ProjectRules = Rules[models.Project]{
	Kind: models.KindProjects,
	Keys: func(p models.Project) []string {
		name := normalize(p.Name)
		return []string{
			key("name_org", name, normalize(p.Organisation)),
			key("name", name),
		}
	},
	Fields:       mergeProjectFields,
	Completeness: projectCompleteness,
	Fingerprint:  projectFingerprint,
	Provenance:   func(p models.Project) models.Provenance { return p.Provenance },
	WithProvenance: func(p models.Project, prov models.Provenance) models.Project {
		p.Provenance = prov
		return p
	},
	Describe: func(p models.Project) string {
		return fmt.Sprintf("id=%s name=%q", p.ID, p.Name)
	},
}

// NewProjectEngine returns an engine for projects with the given source priority.
func NewProjectEngine(priority []string) *Engine[models.Project] {
	return NewEngine(ProjectRules, priority)
}

func mergeProjectFields(p, s models.Project) models.Project {
	return models.Project{
		ID:           pick(p.ID, s.ID),
		Name:         pick(p.Name, s.Name),
		Status:       pick(p.Status, s.Status),
		Category:     pick(p.Category, s.Category),
		Organisation: pick(p.Organisation, s.Organisation),
		Description:  pick(p.Description, s.Description),
		Lead:         pick(p.Lead, s.Lead),
		Location:     pick(p.Location, s.Location),
		Tags:         union(p.Tags, s.Tags),
		Budget:       pickDecimal(p.Budget, s.Budget),
		Progress:     math.Max(p.Progress, s.Progress),
		Confidence:   math.Max(p.Confidence, s.Confidence),
		StartDate:    pickTime(p.StartDate, s.StartDate),
		EndDate:      pickTime(p.EndDate, s.EndDate),
		Provenance:   p.Provenance,
	}
}

func projectCompleteness(p models.Project) int {
	n := count(p.ID, p.Name, p.Status, p.Category, p.Organisation, p.Description, p.Lead, p.Location)
	if len(p.Tags) > 0 {
		n++
	}
	if !p.Budget.IsZero() {
		n++
	}
	if !p.StartDate.IsZero() {
		n++
	}
	if !p.EndDate.IsZero() {
		n++
	}
	return n
}

func projectFingerprint(p models.Project) string {
	return strings.Join([]string{
		p.ID, p.Name, p.Status, p.Category, p.Organisation, p.Description, p.Lead, p.Location,
		strings.Join(p.Tags, ","),
		p.Budget.String(),
		fmt.Sprintf("%g|%g", p.Progress, p.Confidence),
		p.StartDate.UTC().Format(time.RFC3339Nano),
		p.EndDate.UTC().Format(time.RFC3339Nano),
	}, "\x1f")
}
