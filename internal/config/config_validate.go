// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tomtom215/placemat/internal/cache"
)

const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

var validCacheBackends = map[string]bool{
	"none":              true,
	cache.BackendMemory: true,
	cache.BackendRedis:  true,
	cache.BackendBadger: true,
	cache.BackendTiered: true,
}

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// Validate checks every section and returns the first problem, named by
// the environment variable that fixes it.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateBreaker(); err != nil {
		return err
	}
	if err := c.validateBatcher(); err != nil {
		return err
	}
	if err := c.validateIntegration(); err != nil {
		return err
	}
	return c.validateSources()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if !validEnvironments[c.Server.Environment] {
		return fmt.Errorf("ENVIRONMENT must be one of: development, staging, production")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.IsProduction() && slices.Contains(c.API.CORSOrigins, "*") && c.API.AdminEnabled {
		return fmt.Errorf("CORS_ORIGINS=* is not allowed in production while ADMIN_API_ENABLED=true; " +
			"set specific origins or disable the admin routes")
	}
	if c.API.RateLimitDisabled {
		return nil
	}
	if c.API.RateLimitReqs < minRateLimitRequests || c.API.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.API.RateLimitWindow < minRateLimitWindow || c.API.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func (c *Config) validateCache() error {
	if !validCacheBackends[c.Cache.Backend] {
		return fmt.Errorf("CACHE_BACKEND must be one of: none, memory, redis, badger, tiered")
	}
	if !c.Cache.Enabled() {
		return nil
	}

	ttl := c.Cache.TTL
	if ttl.Contacts <= 0 || ttl.Projects <= 0 || ttl.Finance <= 0 {
		return fmt.Errorf("CACHE_TTL_CONTACTS, CACHE_TTL_PROJECTS and CACHE_TTL_FINANCE must be positive")
	}
	if c.Cache.CompressThreshold < 0 {
		return fmt.Errorf("CACHE_COMPRESS_THRESHOLD must not be negative")
	}
	if c.Cache.WarmInterval < 0 {
		return fmt.Errorf("CACHE_WARM_INTERVAL must not be negative")
	}

	switch c.Cache.Backend {
	case cache.BackendRedis, cache.BackendTiered:
		if c.Cache.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required when CACHE_BACKEND=%s", c.Cache.Backend)
		}
		if c.Cache.Redis.TagTTL > 0 && c.Cache.Redis.TagTTL < longest(ttl.Contacts, ttl.Projects, ttl.Finance) {
			return fmt.Errorf("cache.redis.tag_ttl must be at least the longest cache TTL")
		}
	case cache.BackendBadger:
		if c.Cache.Badger.Path == "" && !c.Cache.Badger.InMemory {
			return fmt.Errorf("BADGER_PATH is required when CACHE_BACKEND=badger")
		}
	}
	return nil
}

func (c *Config) validateBreaker() error {
	b := c.Breaker
	if b.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if b.ResetTimeout <= 0 || b.MonitoringWindow <= 0 {
		return fmt.Errorf("BREAKER_RESET_TIMEOUT and BREAKER_MONITORING_WINDOW must be positive")
	}
	if b.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("BREAKER_HALF_OPEN_MAX_CALLS must be at least 1")
	}
	if b.HealthCheckInterval < 0 {
		return fmt.Errorf("BREAKER_HEALTH_CHECK_INTERVAL must not be negative")
	}
	return nil
}

func (c *Config) validateBatcher() error {
	b := c.Batcher
	if !b.Enabled {
		return nil
	}
	if b.MaxBatchSize < 1 {
		return fmt.Errorf("BATCH_MAX_SIZE must be at least 1")
	}
	if b.MaxWait <= 0 {
		return fmt.Errorf("BATCH_MAX_WAIT must be positive")
	}
	if b.PriorityThreshold > b.MaxWait {
		return fmt.Errorf("BATCH_PRIORITY_THRESHOLD must not exceed BATCH_MAX_WAIT")
	}
	if b.MediumWaitFraction <= 0 || b.MediumWaitFraction > 1 {
		return fmt.Errorf("BATCH_MEDIUM_WAIT_FRACTION must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateIntegration() error {
	i := c.Integration
	if i.DefaultLimit < 1 || i.MaxLimit < i.DefaultLimit {
		return fmt.Errorf("INTEGRATION_DEFAULT_LIMIT must be at least 1 and not exceed INTEGRATION_MAX_LIMIT")
	}
	if i.MaxConcurrency < 1 {
		return fmt.Errorf("INTEGRATION_MAX_CONCURRENCY must be at least 1")
	}
	for env, list := range map[string][]string{
		"PRIORITY_CONTACTS": i.Priority.Contacts,
		"PRIORITY_PROJECTS": i.Priority.Projects,
		"PRIORITY_FINANCE":  i.Priority.Finance,
	} {
		seen := make(map[string]bool, len(list))
		for _, name := range list {
			name = strings.ToLower(name)
			if seen[name] {
				return fmt.Errorf("%s lists %q twice", env, name)
			}
			seen[name] = true
		}
	}
	return nil
}

func (c *Config) validateSources() error {
	s := c.Sources
	if s.Neo4j.URI != "" {
		if err := validateURL(s.Neo4j.URI, "NEO4J_URI", "neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc"); err != nil {
			return err
		}
		if s.Neo4j.Username == "" {
			return fmt.Errorf("NEO4J_USERNAME is required when NEO4J_URI is set")
		}
	}

	for env, token := range map[string]string{
		"NOTION_TOKEN":       s.Notion.Token,
		"SLACK_TOKEN":        s.Slack.Token,
		"XERO_ACCESS_TOKEN":  s.Xero.AccessToken,
		"GMAIL_ACCESS_TOKEN": s.Gmail.AccessToken,
		"NEO4J_PASSWORD":     s.Neo4j.Password,
	} {
		if token != "" && containsPlaceholder(token) {
			return fmt.Errorf("%s looks like a placeholder value", env)
		}
	}

	if s.Xero.AccessToken != "" && s.Xero.TenantID == "" {
		return fmt.Errorf("XERO_TENANT_ID is required when XERO_ACCESS_TOKEN is set")
	}

	for env, base := range map[string]string{
		"sources.notion.base_url": s.Notion.BaseURL,
		"sources.slack.base_url":  s.Slack.BaseURL,
		"sources.xero.base_url":   s.Xero.BaseURL,
		"sources.gmail.base_url":  s.Gmail.BaseURL,
	} {
		if base == "" {
			continue
		}
		if err := validateURL(base, env, "http", "https"); err != nil {
			return err
		}
	}
	return nil
}

// validateURL checks that rawURL parses, uses one of schemes and names a host.
func validateURL(rawURL, field string, schemes ...string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", field, err)
	}
	if !slices.Contains(schemes, parsed.Scheme) {
		return fmt.Errorf("%s scheme must be one of %s, got: %q", field, strings.Join(schemes, ", "), parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s host is required", field)
	}
	if parsed.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", field, parsed.RawQuery)
	}
	return nil
}

// placeholderPatterns catch example credentials copied into real config.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_TOKEN",
	"YOUR_PASSWORD",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, p := range placeholderPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}

func longest(ds ...time.Duration) time.Duration {
	return slices.Max(ds)
}
