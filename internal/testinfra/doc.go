// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package testinfra starts Redis and Neo4j in Docker for integration tests.
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/cache/ ./internal/sources/
//
// Tests call SkipIfNoDocker first, so the tag is safe on machines without
// a Docker daemon.
//
//	testinfra.SkipIfNoDocker(t)
//	redisC, err := testinfra.NewRedisContainer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	testinfra.CleanupContainer(t, redisC)
//	store, err := cache.NewRedisStore(cache.RedisConfig{Host: redisC.Host, Port: redisC.Port})
package testinfra
