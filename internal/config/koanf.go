// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/placemat/internal/batcher"
	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/merge"
	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/sources"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/placemat/config.yaml",
	"/etc/placemat/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig is layer 1: every value the process runs with when nothing
// else is set.
func defaultConfig() *Config {
	priority := merge.DefaultPriority()
	limits := sources.DefaultRateLimits()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			Environment:     "development",
		},
		API: APIConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
			AdminEnabled:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Backend:           cache.BackendMemory,
			Compress:          true,
			CompressThreshold: 1024,
			MaxEntries:        10000,
			CleanupInterval:   5 * time.Minute,
			TTL:               cache.DefaultTTLPolicy(),
			Redis: cache.RedisConfig{
				Host:        "localhost",
				Port:        6379,
				KeyPrefix:   "placemat:",
				TagTTL:      24 * time.Hour,
				Channel:     "placemat:invalidate",
				DialTimeout: 5 * time.Second,
			},
			Badger: cache.BadgerConfig{
				Path:       "/data/cache",
				DefaultTTL: 24 * time.Hour,
				GCInterval: 10 * time.Minute,
			},
			WarmEnabled:  true,
			WarmInterval: 0,
		},
		Breaker: breaker.DefaultConfig(),
		Batcher: batcher.DefaultConfig(),
		Integration: IntegrationConfig{
			DefaultLimit:   20,
			MaxLimit:       500,
			MaxConcurrency: 8,
			EnrichContacts: true,
			Priority: PriorityConfig{
				Contacts: priority[models.KindContacts],
				Projects: priority[models.KindProjects],
				Finance:  priority[models.KindFinance],
			},
		},
		Sources: sources.Config{
			Neo4j:    sources.Neo4jConfig{Database: "neo4j", Timeout: sources.DefaultTimeout},
			Notion:   sources.NotionConfig{Timeout: sources.DefaultTimeout, RateLimits: limits},
			Slack:    sources.SlackConfig{Timeout: sources.DefaultTimeout, RateLimits: limits},
			Xero:     sources.XeroConfig{Timeout: sources.DefaultTimeout, RateLimits: limits},
			LinkedIn: sources.LinkedInConfig{Timeout: sources.DefaultTimeout},
			Gmail:    sources.GmailConfig{Timeout: sources.DefaultTimeout, RateLimits: limits},
		},
	}
}

// Load reads configuration from three layers, later layers winning:
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH, then DefaultConfigPaths)
//  3. environment variables listed in envMappings
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single string.
var sliceConfigPaths = []string{
	"api.cors_origins",
	"integration.priority.contacts",
	"integration.priority.projects",
	"integration.priority.finance",
}

// processSliceFields turns comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Variables not listed are ignored.
var envMappings = map[string]string{
	// Server
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// API
	"cors_origins":        "api.cors_origins",
	"rate_limit_requests": "api.rate_limit_reqs",
	"rate_limit_window":   "api.rate_limit_window",
	"disable_rate_limit":  "api.rate_limit_disabled",
	"admin_api_enabled":   "api.admin_enabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Cache
	"cache_backend":            "cache.backend",
	"cache_compress":           "cache.compress",
	"cache_compress_threshold": "cache.compress_threshold",
	"cache_max_entries":        "cache.max_entries",
	"cache_ttl_contacts":       "cache.ttl.contacts",
	"cache_ttl_projects":       "cache.ttl.projects",
	"cache_ttl_finance":        "cache.ttl.finance",
	"cache_warm_enabled":       "cache.warm_enabled",
	"cache_warm_interval":      "cache.warm_interval",
	"redis_host":               "cache.redis.host",
	"redis_port":               "cache.redis.port",
	"redis_password":           "cache.redis.password",
	"redis_db":                 "cache.redis.db",
	"redis_key_prefix":         "cache.redis.key_prefix",
	"redis_channel":            "cache.redis.channel",
	"badger_path":              "cache.badger.path",
	"badger_in_memory":         "cache.badger.in_memory",

	// Circuit breaker
	"breaker_failure_threshold":     "breaker.failure_threshold",
	"breaker_reset_timeout":         "breaker.reset_timeout",
	"breaker_monitoring_window":     "breaker.monitoring_window",
	"breaker_half_open_max_calls":   "breaker.half_open_max_calls",
	"breaker_health_check_interval": "breaker.health_check_interval",

	// Batcher
	"batch_enabled":              "batcher.enabled",
	"batch_intelligent":          "batcher.intelligent",
	"batch_max_size":             "batcher.max_batch_size",
	"batch_max_wait":             "batcher.max_wait",
	"batch_priority_threshold":   "batcher.priority_threshold",
	"batch_medium_wait_fraction": "batcher.medium_wait_fraction",

	// Integration
	"integration_default_limit":   "integration.default_limit",
	"integration_max_limit":       "integration.max_limit",
	"integration_max_concurrency": "integration.max_concurrency",
	"integration_enrich_contacts": "integration.enrich_contacts",
	"priority_contacts":           "integration.priority.contacts",
	"priority_projects":           "integration.priority.projects",
	"priority_finance":            "integration.priority.finance",

	// Sources
	"neo4j_uri":                "sources.neo4j.uri",
	"neo4j_username":           "sources.neo4j.username",
	"neo4j_password":           "sources.neo4j.password",
	"neo4j_database":           "sources.neo4j.database",
	"neo4j_timeout":            "sources.neo4j.timeout",
	"notion_token":             "sources.notion.token",
	"notion_people_database":   "sources.notion.people_database",
	"notion_projects_database": "sources.notion.projects_database",
	"notion_finance_database":  "sources.notion.finance_database",
	"notion_timeout":           "sources.notion.timeout",
	"slack_token":              "sources.slack.token",
	"slack_project_prefix":     "sources.slack.project_prefix",
	"slack_timeout":            "sources.slack.timeout",
	"xero_access_token":        "sources.xero.access_token",
	"xero_tenant_id":           "sources.xero.tenant_id",
	"xero_timeout":             "sources.xero.timeout",
	"linkedin_export_path":     "sources.linkedin.export_path",
	"gmail_access_token":       "sources.gmail.access_token",
	"gmail_query":              "sources.gmail.query",
	"gmail_self":               "sources.gmail.self",
	"gmail_timeout":            "sources.gmail.timeout",
}

// envTransformFunc maps an environment variable name to its koanf path,
// returning "" for variables the process does not read.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
