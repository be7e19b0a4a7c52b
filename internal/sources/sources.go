// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package sources holds the adapters that read entities from external
// systems: the neo4j relationship graph, Notion, Slack, Xero, a LinkedIn
// connections export and Gmail.
//
// Every adapter honours the same contract:
//   - "not found" is an empty slice, never an error
//   - errors mean transport, auth or decoding failure
//   - every returned entity has DataSource set to the adapter name
//   - calls never outlive Timeout()
//
// An adapter without credentials reports Configured() == false and is
// skipped by the integration service rather than failing.
package sources

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tomtom215/placemat/internal/models"
)

// Adapter names. They double as circuit breaker names and cache tags.
const (
	NameNeo4j    = "neo4j"
	NameNotion   = "notion"
	NameSlack    = "slack"
	NameXero     = "xero"
	NameLinkedIn = "linkedin"
	NameGmail    = "gmail"
)

// Names lists every adapter in default priority order.
func Names() []string {
	return []string{NameNeo4j, NameLinkedIn, NameGmail, NameNotion, NameSlack, NameXero}
}

// Known reports whether name is an adapter name.
func Known(name string) bool {
	return slices.Contains(Names(), name)
}

// DefaultTimeout bounds a single adapter call when none is configured.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotConfigured is returned by calls to an adapter without credentials.
	ErrNotConfigured = errors.New("source not configured")

	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("source rejected credentials")

	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("source rate limited")

	// ErrThrottled is returned when the local request budget cannot admit a
	// call before the context ends. The source was never contacted.
	ErrThrottled = errors.New("local request budget exhausted")
)

// IsThrottled reports whether err came from the local rate limiter rather
// than the source. Breakers exclude these outcomes.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// Source is the part of the contract shared by every adapter.
type Source interface {
	Name() string
	Configured() bool
	IsHealthy(ctx context.Context) bool
	Timeout() time.Duration
}

type ContactSource interface {
	Source
	GetContacts(ctx context.Context, f models.Filter) ([]models.Contact, error)
}

type ProjectSource interface {
	Source
	GetProjects(ctx context.Context, f models.Filter) ([]models.Project, error)
}

type FinanceSource interface {
	Source
	GetFinanceData(ctx context.Context, f models.Filter) ([]models.FinanceTransaction, error)
}

// RelationshipSource looks up graph context for contacts. The result is
// keyed by lower-cased email; contacts without a graph node are absent.
type RelationshipSource interface {
	Source
	Relationships(ctx context.Context, emails []string) (map[string]models.RelationshipContext, error)
}

// Set is every adapter known to the process, grouped by the kinds they serve.
type Set struct {
	Contacts      []ContactSource
	Projects      []ProjectSource
	Finance       []FinanceSource
	Relationships RelationshipSource

	closers []func(context.Context) error
}

// All returns each distinct adapter once, in name order.
func (s *Set) All() []Source {
	seen := make(map[string]Source)
	add := func(src Source) {
		if src != nil {
			seen[src.Name()] = src
		}
	}
	for _, c := range s.Contacts {
		add(c)
	}
	for _, p := range s.Projects {
		add(p)
	}
	for _, f := range s.Finance {
		add(f)
	}
	if s.Relationships != nil {
		add(s.Relationships)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Source, 0, len(names))
	for _, name := range names {
		out = append(out, seen[name])
	}
	return out
}

// Configured returns the configured adapters from All.
func (s *Set) Configured() []Source {
	var out []Source
	for _, src := range s.All() {
		if src.Configured() {
			out = append(out, src)
		}
	}
	return out
}

// Close releases adapter resources such as the neo4j driver.
func (s *Set) Close(ctx context.Context) error {
	var errs []error
	for _, c := range s.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config holds every adapter's settings.
type Config struct {
	Neo4j    Neo4jConfig    `koanf:"neo4j"`
	Notion   NotionConfig   `koanf:"notion"`
	Slack    SlackConfig    `koanf:"slack"`
	Xero     XeroConfig     `koanf:"xero"`
	LinkedIn LinkedInConfig `koanf:"linkedin"`
	Gmail    GmailConfig    `koanf:"gmail"`
}

// New builds the adapter set. Unconfigured adapters are still included
// so health and admin endpoints can report them.
func New(ctx context.Context, cfg Config) (*Set, error) {
	graph, err := NewNeo4j(ctx, cfg.Neo4j)
	if err != nil {
		return nil, fmt.Errorf("neo4j adapter: %w", err)
	}
	notion := NewNotion(cfg.Notion)
	slack := NewSlack(cfg.Slack)
	xero := NewXero(cfg.Xero)
	linkedin := NewLinkedIn(cfg.LinkedIn)
	gmail := NewGmail(cfg.Gmail)

	return &Set{
		Contacts:      []ContactSource{graph, linkedin, gmail, notion, slack},
		Projects:      []ProjectSource{graph, notion, slack},
		Finance:       []FinanceSource{xero, notion},
		Relationships: graph,
		closers:       []func(context.Context) error{graph.Close},
	}, nil
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
