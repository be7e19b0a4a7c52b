// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultNeo4jImage is the image started by NewNeo4jContainer.
	DefaultNeo4jImage = "neo4j:5-community"

	// DefaultNeo4jPassword must be at least 8 characters for Neo4j 5.
	DefaultNeo4jPassword = "placemat-test"
)

// Neo4jContainer is a disposable Neo4j server reachable over bolt.
type Neo4jContainer struct {
	testcontainers.Container
	URI      string
	Username string
	Password string
}

// NewNeo4jContainer starts Neo4j with authentication enabled.
func NewNeo4jContainer(ctx context.Context) (*Neo4jContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        DefaultNeo4jImage,
			ExposedPorts: []string{"7687/tcp", "7474/tcp"},
			Env: map[string]string{
				"NEO4J_AUTH": "neo4j/" + DefaultNeo4jPassword,
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("7687/tcp"),
				wait.ForLog("Started."),
			).WithStartupTimeout(120 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "7687/tcp")
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, err
	}
	return &Neo4jContainer{
		Container: container,
		URI:       fmt.Sprintf("bolt://%s:%d", host, port),
		Username:  "neo4j",
		Password:  DefaultNeo4jPassword,
	}, nil
}

// Seed runs write statements in order, for fixtures.
func (c *Neo4jContainer) Seed(ctx context.Context, statements ...string) error {
	driver, err := neo4j.NewDriverWithContext(c.URI, neo4j.BasicAuth(c.Username, c.Password, ""))
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	defer driver.Close(ctx) //nolint:errcheck

	for _, stmt := range statements {
		if _, err := neo4j.ExecuteQuery(ctx, driver, stmt, nil, neo4j.EagerResultTransformer); err != nil {
			return fmt.Errorf("seed %q: %w", stmt, err)
		}
	}
	return nil
}
