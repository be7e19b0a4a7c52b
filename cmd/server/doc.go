// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

/*
Command server runs the Placemat integration API.

Placemat merges contacts, projects and finance data from a Neo4j
relationship graph, Notion, Slack, Xero, a LinkedIn connections export and
Gmail into one REST surface. Each source sits behind a circuit breaker,
concurrent identical queries are batched, and merged results are cached.

Startup order:

 1. Configuration: koanf defaults, then config.yaml (CONFIG_PATH), then environment
 2. Logging: zerolog, JSON or console
 3. Source adapters: an adapter without credentials is registered but skipped
 4. Cache: memory, redis, badger or tiered (memory in front of redis)
 5. Batcher and integration service
 6. Supervisor tree: cache subscriber, breaker monitor, cache warmer, HTTP server

A Redis or Badger cache that cannot be opened falls back to the memory
backend with an error log rather than failing startup.

Minimal run with the graph and Gmail:

	export NEO4J_URI=bolt://localhost:7687
	export NEO4J_USERNAME=neo4j
	export NEO4J_PASSWORD=secret
	export GMAIL_ACCESS_TOKEN=ya29...
	./placemat

SIGINT or SIGTERM cancels the tree; the HTTP server drains for
HTTP_SHUTDOWN_TIMEOUT before the process exits.
*/
package main
