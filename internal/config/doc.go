// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

/*
Package config loads and validates Placemat configuration.

# Layers

Configuration is assembled by koanf from three layers, later layers winning:

  - built-in defaults (defaultConfig)
  - an optional YAML file: CONFIG_PATH, else config.yaml, config.yml or /etc/placemat/config.yaml
  - environment variables

Only the environment variables listed in envMappings are read. Slice values
(CORS_ORIGINS, PRIORITY_CONTACTS and friends) accept comma-separated lists.

# Sections

  - server: listener address and timeouts (HTTP_PORT, HTTP_HOST, ENVIRONMENT)
  - api: CORS, per-IP rate limiting, admin routes (CORS_ORIGINS, RATE_LIMIT_REQUESTS)
  - logging: LOG_LEVEL, LOG_FORMAT, LOG_CALLER
  - cache: backend none|memory|redis|badger|tiered, per-kind TTLs, compression, warm-up
  - breaker: failure threshold, reset timeout, monitoring window, half-open calls
  - batcher: batch size, max wait, priority threshold
  - integration: page limits, fan-out concurrency, per-kind source priority
  - sources: credentials and limits for neo4j, notion, slack, xero, linkedin and gmail

A source is active when its credentials are present; an adapter without
credentials is reported as unconfigured and skipped.

# Example

	server:
	  port: 8080
	cache:
	  backend: redis
	  redis:
	    host: redis.internal
	  ttl:
	    finance: 1m
	integration:
	  priority:
	    contacts: [neo4j, linkedin, gmail]
	sources:
	  neo4j:
	    uri: neo4j://graph.internal:7687
	    username: placemat

Validation runs after loading; every error names the variable to change.
*/
package config
