// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package config

import (
	"time"

	"github.com/tomtom215/placemat/internal/batcher"
	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/integration"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/merge"
	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/sources"
)

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	API         APIConfig         `koanf:"api"`
	Logging     LoggingConfig     `koanf:"logging"`
	Cache       CacheConfig       `koanf:"cache"`
	Breaker     breaker.Config    `koanf:"breaker"`
	Batcher     batcher.Config    `koanf:"batcher"`
	Integration IntegrationConfig `koanf:"integration"`
	Sources     sources.Config    `koanf:"sources"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging or production
}

// APIConfig holds request-level protections for the REST surface.
type APIConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// AdminEnabled exposes breaker and cache administration routes.
	AdminEnabled bool `koanf:"admin_enabled"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes file and line in every entry.
	Caller bool `koanf:"caller"`
}

// CacheConfig selects the cache backend and its policies.
type CacheConfig struct {
	// Backend is none, memory, redis, badger or tiered.
	Backend           string             `koanf:"backend"`
	Compress          bool               `koanf:"compress"`
	CompressThreshold int                `koanf:"compress_threshold"`
	MaxEntries        int                `koanf:"max_entries"`
	CleanupInterval   time.Duration      `koanf:"cleanup_interval"`
	TTL               cache.TTLPolicy    `koanf:"ttl"`
	Redis             cache.RedisConfig  `koanf:"redis"`
	Badger            cache.BadgerConfig `koanf:"badger"`

	// WarmInterval re-runs cache warm-up periodically. Zero warms once at startup.
	WarmInterval time.Duration `koanf:"warm_interval"`
	WarmEnabled  bool          `koanf:"warm_enabled"`
}

// IntegrationConfig tunes the unified service.
type IntegrationConfig struct {
	DefaultLimit   int            `koanf:"default_limit"`
	MaxLimit       int            `koanf:"max_limit"`
	MaxConcurrency int            `koanf:"max_concurrency"`
	EnrichContacts bool           `koanf:"enrich_contacts"`
	Priority       PriorityConfig `koanf:"priority"`
}

// PriorityConfig lists source names per kind, most trusted first.
type PriorityConfig struct {
	Contacts []string `koanf:"contacts"`
	Projects []string `koanf:"projects"`
	Finance  []string `koanf:"finance"`
}

// Enabled reports whether a cache backend is configured.
func (c CacheConfig) Enabled() bool {
	return c.Backend != "" && c.Backend != "none"
}

// Store returns the backend factory configuration.
func (c CacheConfig) Store() cache.Config {
	return cache.Config{
		Backend:           c.Backend,
		DefaultTTL:        c.TTL.Contacts,
		CompressThreshold: c.CompressThreshold,
		MaxEntries:        c.MaxEntries,
		CleanupInterval:   c.CleanupInterval,
		Redis:             c.Redis,
		Badger:            c.Badger,
	}
}

// Service returns the integration service configuration.
func (c *Config) Service() integration.Config {
	return integration.Config{
		DefaultLimit:   c.Integration.DefaultLimit,
		MaxLimit:       c.Integration.MaxLimit,
		MaxConcurrency: c.Integration.MaxConcurrency,
		EnrichContacts: c.Integration.EnrichContacts,
		Compress:       c.Cache.Compress,
		TTL:            c.Cache.TTL,
		Priority:       c.Integration.Priority.Merge(),
	}
}

// Merge converts the lists into a merge priority. Empty lists fall back
// to the built-in order.
func (p PriorityConfig) Merge() merge.Priority {
	out := merge.Priority{}
	if len(p.Contacts) > 0 {
		out[models.KindContacts] = p.Contacts
	}
	if len(p.Projects) > 0 {
		out[models.KindProjects] = p.Projects
	}
	if len(p.Finance) > 0 {
		out[models.KindFinance] = p.Finance
	}
	return out
}

// Logger returns the logging configuration.
func (c *Config) Logger() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Caller:    c.Logging.Caller,
		Timestamp: true,
	}
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
