// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package merge combines records for the same real-world entity coming from
// different sources into one canonical record.
//
// Each kind declares an ordered list of dedup keys (for contacts: email,
// then name+company, then name). Two records sharing their highest
// available key are the same entity. A match on a lower key only counts
// when no higher key disagrees, and a lower key shared by records that
// disagree on a higher key is not used at all.
//
// Field resolution follows the injected source priority: the record from
// the higher-priority source supplies values, empty fields are backfilled
// from the other record, list fields are unioned and scores take the
// maximum. Merge is commutative and idempotent, so arrival order does not
// change the outcome.
package merge

import (
	"cmp"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/models"
)

// Rules describe how one entity kind is keyed and merged.
type Rules[T any] struct {
	Kind models.Kind

	// Keys returns candidate dedup keys in precedence order. The slice has
	// the same length for every record; unavailable keys are "".
	Keys func(T) []string

	// Fields merges field values. primary wins every non-empty field.
	// Provenance is handled by the engine.
	Fields func(primary, secondary T) T

	// Completeness counts populated fields; it orders records from the same source.
	Completeness func(T) int

	// Fingerprint is a canonical rendering of every merged field. It is the
	// final tie-break and the basis of fallback keys.
	Fingerprint func(T) string

	Provenance     func(T) models.Provenance
	WithProvenance func(T, models.Provenance) T

	// Describe identifies a record in log lines.
	Describe func(T) string
}

// Engine deduplicates records of one kind.
type Engine[T any] struct {
	rules    Rules[T]
	priority []string
}

// NewEngine builds an engine. priority lists sources from highest to lowest;
// unknown sources rank below every listed one.
func NewEngine[T any](rules Rules[T], priority []string) *Engine[T] {
	p := make([]string, len(priority))
	for i, s := range priority {
		p[i] = strings.ToLower(s)
	}
	return &Engine[T]{rules: rules, priority: p}
}

// Kind returns the entity kind the engine handles.
func (e *Engine[T]) Kind() models.Kind { return e.rules.Kind }

// rank returns the priority index of source; lower is stronger.
func (e *Engine[T]) rank(source string) int {
	if i := slices.Index(e.priority, strings.ToLower(source)); i >= 0 {
		return i
	}
	return len(e.priority)
}

// compare orders a before b when a should be the primary record.
func (e *Engine[T]) compare(a, b T) int {
	pa, pb := e.rules.Provenance(a), e.rules.Provenance(b)
	if c := cmp.Compare(e.rank(pa.DataSource), e.rank(pb.DataSource)); c != 0 {
		return c
	}
	if c := cmp.Compare(e.rules.Completeness(b), e.rules.Completeness(a)); c != 0 {
		return c
	}
	if c := strings.Compare(pa.DataSource, pb.DataSource); c != 0 {
		return c
	}
	return strings.Compare(e.rules.Fingerprint(a), e.rules.Fingerprint(b))
}

// Merge combines two records for the same entity.
func (e *Engine[T]) Merge(a, b T) T {
	primary, secondary := a, b
	if e.compare(a, b) > 0 {
		primary, secondary = b, a
	}

	out := e.rules.Fields(primary, secondary)

	pp := e.rules.Provenance(primary)
	contributors := append(pp.Contributors(), e.rules.Provenance(secondary).Contributors()...)
	return e.rules.WithProvenance(out, models.Provenance{
		DataSource: pp.DataSource,
		MergedFrom: e.orderSources(contributors),
	})
}

// orderSources de-duplicates and orders sources by priority, then name.
// Names are compared case-insensitively.
func (e *Engine[T]) orderSources(sources []string) []string {
	for i, src := range sources {
		sources[i] = strings.ToLower(src)
	}
	slices.SortFunc(sources, func(a, b string) int {
		if c := cmp.Compare(e.rank(a), e.rank(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return slices.Compact(sources)
}

// cluster is a group of records judged to be one entity.
type cluster[T any] struct {
	first   int // smallest input position of any member
	members []T
	merged  T
	keys    []string
}

// fold merges the members in canonical order, so the result does not
// depend on the order they were added.
func (e *Engine[T]) fold(c *cluster[T]) {
	slices.SortStableFunc(c.members, e.compare)
	merged := c.members[0]
	for _, m := range c.members[1:] {
		merged = e.Merge(merged, m)
	}
	c.merged = merged
	c.keys = e.rules.Keys(merged)
}

// Deduplicate folds records into one per logical entity. The grouping and
// the merged records do not depend on input order; the output lists
// entities in the order they were first seen.
//
// Keys are applied level by level. At each level, clusters sharing a key
// merge unless they disagree on a stronger key. When they do, the shared
// key is ambiguous and nothing merges on it: a record with only that key
// cannot be attributed to one entity and stays on its own.
//
// Records without any key are kept under a fallback key derived from their
// content, so only identical keyless records collapse.
func (e *Engine[T]) Deduplicate(records []T) []T {
	clusters := make([]*cluster[T], 0, len(records))
	fallback := make(map[string]*cluster[T])
	levels := 0

	for i, rec := range records {
		keys := e.rules.Keys(rec)
		if hasAnyKey(keys) {
			clusters = append(clusters, &cluster[T]{first: i, members: []T{rec}, merged: rec, keys: keys})
			levels = max(levels, len(keys))
			continue
		}

		fk := e.fallbackKey(rec)
		if c, ok := fallback[fk]; ok {
			c.members = append(c.members, rec)
			continue
		}
		logging.Warn().
			Str("kind", e.rules.Kind.String()).
			Str("source", e.rules.Provenance(rec).DataSource).
			Str("record", e.rules.Describe(rec)).
			Msg("Record has no dedup key, kept as low-confidence singleton")
		c := &cluster[T]{first: i, members: []T{rec}, merged: rec}
		fallback[fk] = c
		clusters = append(clusters, c)
	}

	for level := 0; level < levels; level++ {
		clusters = e.mergeLevel(clusters, level)
	}

	for _, c := range clusters {
		if len(c.members) > 1 {
			e.fold(c)
		}
	}
	slices.SortFunc(clusters, func(a, b *cluster[T]) int { return cmp.Compare(a.first, b.first) })

	out := make([]T, len(clusters))
	for i, c := range clusters {
		out[i] = c.merged
	}
	return out
}

// mergeLevel merges clusters that share their key at level. Each cluster
// has at most one key per level, so groups are disjoint.
func (e *Engine[T]) mergeLevel(clusters []*cluster[T], level int) []*cluster[T] {
	groups := make(map[string][]*cluster[T])
	var order []string
	for _, c := range clusters {
		if level >= len(c.keys) || c.keys[level] == "" {
			continue
		}
		k := c.keys[level]
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	absorbed := make(map[*cluster[T]]bool)
	for _, k := range order {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		if ambiguous(group, level) {
			logging.Debug().
				Str("kind", e.rules.Kind.String()).
				Str("key", k).
				Int("records", len(group)).
				Msg("Dedup key shared by distinct entities, records kept separate")
			continue
		}

		keep := group[0]
		for _, c := range group[1:] {
			keep.members = append(keep.members, c.members...)
			keep.first = min(keep.first, c.first)
			absorbed[c] = true
		}
		e.fold(keep)
	}

	if len(absorbed) == 0 {
		return clusters
	}
	return slices.DeleteFunc(clusters, func(c *cluster[T]) bool { return absorbed[c] })
}

func (e *Engine[T]) fallbackKey(rec T) string {
	sum := sha256.Sum256([]byte(e.rules.Fingerprint(rec)))
	return fmt.Sprintf("fallback:%x", sum[:12])
}

// ambiguous reports whether the clusters sharing a key at level hold more
// than one distinct value for some stronger key.
func ambiguous[T any](group []*cluster[T], level int) bool {
	for i := 0; i < level; i++ {
		seen := ""
		for _, c := range group {
			if i >= len(c.keys) || c.keys[i] == "" {
				continue
			}
			if seen == "" {
				seen = c.keys[i]
			} else if c.keys[i] != seen {
				return true
			}
		}
	}
	return false
}

func hasAnyKey(keys []string) bool {
	for _, k := range keys {
		if k != "" {
			return true
		}
	}
	return false
}
