// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package cache

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/placemat/internal/models"
)

// GenerateKey derives a stable key from the entity kind and filter. The
// filter is normalized and serialized as a map, whose keys the encoder
// emits in sorted order, so field order never changes the key.
func GenerateKey(kind models.Kind, filter models.Filter) string {
	data, err := json.Marshal(filter.Normalize().Fields())
	if err != nil {
		return fmt.Sprintf("%s:%v", kind, filter)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", kind, hash[:16])
}

// KindPattern matches every key generated for kind.
func KindPattern(kind models.Kind) string {
	return string(kind) + ":*"
}

func TypeTag(kind models.Kind) string { return "type:" + string(kind) }

func SourceTag(source string) string { return "source:" + strings.ToLower(source) }

func KindSourceTag(kind models.Kind, source string) string {
	return string(kind) + ":" + strings.ToLower(source)
}

func FilterTag(dimension, value string) string {
	return "filter:" + dimension + ":" + strings.ToLower(strings.TrimSpace(value))
}

// GenerateTags returns the invalidation tags for a cached result: the type
// tag, a source and kind-source tag per contributing source, and a filter
// tag for each recognized filter dimension that is set.
func GenerateTags(kind models.Kind, filter models.Filter, sources []string) []string {
	tags := []string{TypeTag(kind)}
	for _, s := range sources {
		tags = append(tags, SourceTag(s), KindSourceTag(kind, s))
	}
	if filter.Company != "" {
		tags = append(tags, FilterTag("company", filter.Company))
	}
	if filter.Status != "" {
		tags = append(tags, FilterTag("status", filter.Status))
	}
	if filter.Category != "" {
		tags = append(tags, FilterTag("category", filter.Category))
	}
	if filter.Tier != "" {
		tags = append(tags, FilterTag("tier", string(filter.Tier)))
	}
	slices.Sort(tags)
	return slices.Compact(tags)
}

// TTLPolicy holds the per-kind TTLs. Finance is the most staleness-sensitive
// and gets the shortest TTL; project status changes faster than contact data.
type TTLPolicy struct {
	Contacts time.Duration `koanf:"contacts"`
	Projects time.Duration `koanf:"projects"`
	Finance  time.Duration `koanf:"finance"`
}

// DefaultTTLPolicy returns the production TTLs.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Contacts: 15 * time.Minute,
		Projects: 5 * time.Minute,
		Finance:  2 * time.Minute,
	}
}

// For returns the TTL for kind.
func (p TTLPolicy) For(kind models.Kind) time.Duration {
	switch kind {
	case models.KindContacts:
		return p.Contacts
	case models.KindProjects:
		return p.Projects
	case models.KindFinance:
		return p.Finance
	default:
		return p.Finance
	}
}
