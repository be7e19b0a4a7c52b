// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package integration is the unified entry point for contacts, projects
// and finance data.
//
// Every query runs the same pipeline:
//
//  1. look up the cache; a hit returns immediately with sources ["cache"]
//  2. fan out to each configured source, each call gated by that source's
//     circuit breaker and bounded by its timeout
//  3. keep whatever succeeded; fail only if every source failed
//  4. merge and deduplicate, enrich contacts with graph context
//  5. filter, sort and paginate
//  6. write the page back to the cache with invalidation tags
//
// When a batcher is supplied, step 2 and 4 are shared between concurrent
// requests with the same fetch filter.
package integration

import (
	"context"
	"slices"
	"time"

	"github.com/tomtom215/placemat/internal/batcher"
	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/merge"
	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/sources"
)

// Config tunes the integration service.
type Config struct {
	DefaultLimit   int             `koanf:"default_limit"`
	MaxLimit       int             `koanf:"max_limit"`
	MaxConcurrency int             `koanf:"max_concurrency"`
	EnrichContacts bool            `koanf:"enrich_contacts"`
	Compress       bool            `koanf:"compress"`
	TTL            cache.TTLPolicy `koanf:"ttl"`
	Priority       merge.Priority  `koanf:"priority"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:   20,
		MaxLimit:       500,
		MaxConcurrency: 8,
		EnrichContacts: true,
		Compress:       true,
		TTL:            cache.DefaultTTLPolicy(),
		Priority:       merge.DefaultPriority(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.TTL.Contacts <= 0 {
		c.TTL.Contacts = d.TTL.Contacts
	}
	if c.TTL.Projects <= 0 {
		c.TTL.Projects = d.TTL.Projects
	}
	if c.TTL.Finance <= 0 {
		c.TTL.Finance = d.TTL.Finance
	}
	if c.Priority == nil {
		c.Priority = d.Priority
	}
	return c
}

// Dependencies are the collaborators owned by the caller.
type Dependencies struct {
	Sources *sources.Set

	// Cache may be nil, which disables caching.
	Cache cache.Store

	// Breakers may be pre-populated; missing sources get a breaker built
	// from BreakerConfig.
	Breakers      *breaker.Registry
	BreakerConfig breaker.Config

	// Batcher may be nil, which runs every request on its own.
	Batcher *batcher.Batcher
}

// Service orchestrates multi-source queries.
type Service struct {
	cfg      Config
	sources  *sources.Set
	cache    cache.Store
	breakers *breaker.Registry
	batcher  *batcher.Batcher
	now      func() time.Time

	contacts *pipeline[models.Contact]
	projects *pipeline[models.Project]
	finance  *pipeline[models.FinanceTransaction]
}

// New wires the service. It registers a breaker per source and, when a
// batcher is supplied, an executor per kind.
func New(cfg Config, deps Dependencies) *Service {
	if deps.Sources == nil {
		deps.Sources = &sources.Set{}
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry()
	}

	s := &Service{
		cfg:      cfg.withDefaults(),
		sources:  deps.Sources,
		cache:    deps.Cache,
		breakers: deps.Breakers,
		batcher:  deps.Batcher,
		now:      time.Now,
	}

	for _, src := range s.sources.All() {
		if _, err := s.breakers.Get(src.Name()); err == nil {
			continue
		}
		s.breakers.Add(breaker.New(src.Name(), deps.BreakerConfig,
			breaker.WithHealthCheck(src.IsHealthy),
			breaker.WithExclusion(sources.IsThrottled),
		))
	}

	s.contacts = s.contactPipeline()
	s.projects = s.projectPipeline()
	s.finance = s.financePipeline()

	if s.batcher != nil {
		s.batcher.RegisterExecutor(models.KindContacts, executor(s, s.contacts))
		s.batcher.RegisterExecutor(models.KindProjects, executor(s, s.projects))
		s.batcher.RegisterExecutor(models.KindFinance, executor(s, s.finance))
	}
	return s
}

// GetContacts returns merged contacts from every configured contact source.
func (s *Service) GetContacts(ctx context.Context, f models.Filter) (*models.Result[models.Contact], error) {
	return run(ctx, s, s.contacts, f)
}

// GetProjects returns merged projects from every configured project source.
func (s *Service) GetProjects(ctx context.Context, f models.Filter) (*models.Result[models.Project], error) {
	return run(ctx, s, s.projects, f)
}

// GetFinanceData returns merged transactions from every configured finance source.
func (s *Service) GetFinanceData(ctx context.Context, f models.Filter) (*models.Result[models.FinanceTransaction], error) {
	return run(ctx, s, s.finance, f)
}

func (s *Service) contactPipeline() *pipeline[models.Contact] {
	p := &pipeline[models.Contact]{
		kind:        models.KindContacts,
		capability:  "contact data source",
		engine:      merge.NewContactEngine(s.cfg.Priority.For(models.KindContacts)),
		rules:       merge.ContactRules,
		match:       models.Contact.Matches,
		sorts:       models.ContactSorts,
		defaultSort: "name",
	}
	for _, src := range s.sources.Contacts {
		p.fetchers = append(p.fetchers, fetcher[models.Contact]{source: src, fetch: src.GetContacts})
	}
	p.orderFetchers(s.cfg.Priority.For(models.KindContacts))
	if s.cfg.EnrichContacts {
		p.enrich = s.enrichContacts
	}
	return p
}

func (s *Service) projectPipeline() *pipeline[models.Project] {
	p := &pipeline[models.Project]{
		kind:        models.KindProjects,
		capability:  "project data source",
		engine:      merge.NewProjectEngine(s.cfg.Priority.For(models.KindProjects)),
		rules:       merge.ProjectRules,
		match:       models.Project.Matches,
		sorts:       models.ProjectSorts,
		defaultSort: "name",
	}
	for _, src := range s.sources.Projects {
		p.fetchers = append(p.fetchers, fetcher[models.Project]{source: src, fetch: src.GetProjects})
	}
	p.orderFetchers(s.cfg.Priority.For(models.KindProjects))
	return p
}

func (s *Service) financePipeline() *pipeline[models.FinanceTransaction] {
	p := &pipeline[models.FinanceTransaction]{
		kind:        models.KindFinance,
		capability:  "finance data source",
		engine:      merge.NewFinanceEngine(s.cfg.Priority.For(models.KindFinance)),
		rules:       merge.FinanceRules,
		match:       models.FinanceTransaction.Matches,
		sorts:       models.FinanceSorts,
		defaultSort: "date",
		defaultDesc: true,
	}
	for _, src := range s.sources.Finance {
		p.fetchers = append(p.fetchers, fetcher[models.FinanceTransaction]{source: src, fetch: src.GetFinanceData})
	}
	p.orderFetchers(s.cfg.Priority.For(models.KindFinance))
	return p
}

// enrichContacts attaches relationship context from the graph. It goes
// through the graph's breaker; any failure leaves contacts unenriched.
func (s *Service) enrichContacts(ctx context.Context, contacts []models.Contact) ([]models.Contact, error) {
	rel := s.sources.Relationships
	if rel == nil || !rel.Configured() || len(contacts) == 0 {
		return contacts, nil
	}

	emails := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c.Email != "" {
			emails = append(emails, c.Email)
		}
	}
	if len(emails) == 0 {
		return contacts, nil
	}

	b, err := s.breakers.Get(rel.Name())
	if err != nil {
		return contacts, err
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rel.Timeout())
	defer cancel()

	found, err := breaker.Execute(callCtx, b, func(ctx context.Context) (map[string]models.RelationshipContext, error) {
		return rel.Relationships(ctx, slices.Compact(sortedLower(emails)))
	})
	if err != nil {
		return contacts, err
	}

	enriched := 0
	for i := range contacts {
		if rc, ok := found[lower(contacts[i].Email)]; ok {
			contacts[i].Relationship = &rc
			enriched++
		}
	}
	logging.Ctx(ctx).Debug().Int("contacts", len(contacts)).Int("enriched", enriched).Msg("Contacts enriched with relationship context")
	return contacts, nil
}
