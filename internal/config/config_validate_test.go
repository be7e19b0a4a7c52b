// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "HTTP_PORT"},
		{name: "bad environment", mutate: func(c *Config) { c.Server.Environment = "prod" }, wantErr: "ENVIRONMENT"},
		{
			name: "wildcard cors in production with admin",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
			},
			wantErr: "CORS_ORIGINS",
		},
		{
			name: "wildcard cors in production without admin",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
				c.API.AdminEnabled = false
			},
		},
		{name: "rate limit window", mutate: func(c *Config) { c.API.RateLimitWindow = time.Millisecond }, wantErr: "RATE_LIMIT_WINDOW"},
		{
			name: "rate limit disabled skips bounds",
			mutate: func(c *Config) {
				c.API.RateLimitDisabled = true
				c.API.RateLimitReqs = 0
			},
		},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "LOG_LEVEL"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "cache backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: "CACHE_BACKEND"},
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.TTL.Finance = 0 }, wantErr: "CACHE_TTL"},
		{
			name: "cache disabled skips ttl",
			mutate: func(c *Config) {
				c.Cache.Backend = "none"
				c.Cache.TTL.Finance = 0
			},
		},
		{
			name: "redis tag ttl too short",
			mutate: func(c *Config) {
				c.Cache.Backend = "redis"
				c.Cache.Redis.TagTTL = time.Minute
			},
			wantErr: "tag_ttl",
		},
		{
			name: "badger without path",
			mutate: func(c *Config) {
				c.Cache.Backend = "badger"
				c.Cache.Badger.Path = ""
			},
			wantErr: "BADGER_PATH",
		},
		{name: "breaker threshold", mutate: func(c *Config) { c.Breaker.FailureThreshold = 0 }, wantErr: "BREAKER_FAILURE_THRESHOLD"},
		{name: "half open calls", mutate: func(c *Config) { c.Breaker.HalfOpenMaxCalls = 0 }, wantErr: "BREAKER_HALF_OPEN_MAX_CALLS"},
		{name: "batch size", mutate: func(c *Config) { c.Batcher.MaxBatchSize = 0 }, wantErr: "BATCH_MAX_SIZE"},
		{
			name: "batch threshold beyond wait",
			mutate: func(c *Config) {
				c.Batcher.PriorityThreshold = time.Second
			},
			wantErr: "BATCH_PRIORITY_THRESHOLD",
		},
		{
			name: "batcher disabled skips checks",
			mutate: func(c *Config) {
				c.Batcher.Enabled = false
				c.Batcher.MaxBatchSize = 0
			},
		},
		{name: "limits", mutate: func(c *Config) { c.Integration.MaxLimit = 5 }, wantErr: "INTEGRATION_DEFAULT_LIMIT"},
		{
			name: "duplicate priority",
			mutate: func(c *Config) {
				c.Integration.Priority.Projects = []string{"notion", "Notion"}
			},
			wantErr: "PRIORITY_PROJECTS",
		},
		{name: "neo4j scheme", mutate: func(c *Config) { c.Sources.Neo4j.URI = "http://graph:7474" }, wantErr: "NEO4J_URI"},
		{name: "neo4j user", mutate: func(c *Config) { c.Sources.Neo4j.URI = "bolt://graph:7687" }, wantErr: "NEO4J_USERNAME"},
		{name: "placeholder token", mutate: func(c *Config) { c.Sources.Slack.Token = "xoxb-CHANGEME" }, wantErr: "SLACK_TOKEN"},
		{name: "xero tenant", mutate: func(c *Config) { c.Sources.Xero.AccessToken = "tok" }, wantErr: "XERO_TENANT_ID"},
		{name: "base url", mutate: func(c *Config) { c.Sources.Notion.BaseURL = "ftp://notion" }, wantErr: "sources.notion.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://api.notion.com", false},
		{"http://localhost:8080/v1", false},
		{"ftp://host", true},
		{"https://", true},
		{"https://host?x=1", true},
		{"::nope", true},
	}
	for _, tt := range tests {
		err := validateURL(tt.url, "FIELD", "http", "https")
		if (err != nil) != tt.wantErr {
			t.Errorf("validateURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}
