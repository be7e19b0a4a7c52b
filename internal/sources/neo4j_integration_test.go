// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

//go:build integration

package sources

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/testinfra"
)

var graphFixture = []string{
	`CREATE (:Organisation {name: 'Harbour Trust'})`,
	`CREATE (:Organisation {name: 'Canal Co-op'})`,
	`CREATE (:Person {id: 'p1', name: 'Ada Lovelace', email: 'ada@example.org', status: 'active', sector: 'Heritage', strategic_value: 82})`,
	`CREATE (:Person {id: 'p2', name: 'Grace Hopper', email: 'grace@example.org', status: 'dormant', sector: 'Transport'})`,
	`CREATE (:Project {id: 'pr1', name: 'Dock Restoration', status: 'active', category: 'Heritage', budget: 125000.5})`,
	`MATCH (p:Person {id: 'p1'}), (o:Organisation {name: 'Harbour Trust'}) CREATE (p)-[:WORKS_AT]->(o)`,
	`MATCH (p:Person {id: 'p2'}), (o:Organisation {name: 'Canal Co-op'}) CREATE (p)-[:MEMBER_OF]->(o)`,
	`MATCH (a:Person {id: 'p1'}), (b:Person {id: 'p2'}) CREATE (a)-[:KNOWS]->(b)`,
	`MATCH (p:Person {id: 'p1'}), (pr:Project {id: 'pr1'}) CREATE (p)-[:LEADS]->(pr)`,
	`MATCH (o:Organisation {name: 'Harbour Trust'}), (pr:Project {id: 'pr1'}) CREATE (o)-[:RUNS]->(pr)`,
}

func TestNeo4j_Integration(t *testing.T) {
	testinfra.SkipIfNoDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	graph, err := testinfra.NewNeo4jContainer(ctx)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	testinfra.CleanupContainer(t, graph)
	if err := graph.Seed(ctx, graphFixture...); err != nil {
		t.Fatal(err)
	}

	adapter, err := NewNeo4j(ctx, Neo4jConfig{URI: graph.URI, Username: graph.Username, Password: graph.Password})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = adapter.Close(context.Background()) })

	if !adapter.IsHealthy(ctx) {
		t.Fatal("IsHealthy() = false")
	}

	t.Run("contacts", func(t *testing.T) {
		contacts, err := adapter.GetContacts(ctx, models.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(contacts) != 2 {
			t.Fatalf("len = %d, want 2", len(contacts))
		}
		ada := contacts[0]
		if ada.Name != "Ada Lovelace" || ada.Company != "Harbour Trust" || ada.DataSource != NameNeo4j {
			t.Errorf("contact = %+v", ada)
		}
		if ada.StrategicValue != 82 {
			t.Errorf("StrategicValue = %v, want 82", ada.StrategicValue)
		}
	})

	t.Run("contact filters", func(t *testing.T) {
		tests := []struct {
			name   string
			filter models.Filter
			want   []string
		}{
			{"status", models.Filter{Status: "DORMANT"}, []string{"Grace Hopper"}},
			{"company", models.Filter{Company: "harbour trust"}, []string{"Ada Lovelace"}},
			{"search by email", models.Filter{Search: "grace@"}, []string{"Grace Hopper"}},
			{"no match", models.Filter{Category: "Finance"}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				contacts, err := adapter.GetContacts(ctx, tt.filter)
				if err != nil {
					t.Fatal(err)
				}
				var names []string
				for _, c := range contacts {
					names = append(names, c.Name)
				}
				if !slices.Equal(names, tt.want) {
					t.Errorf("names = %v, want %v", names, tt.want)
				}
			})
		}
	})

	t.Run("projects", func(t *testing.T) {
		projects, err := adapter.GetProjects(ctx, models.Filter{Status: "active"})
		if err != nil {
			t.Fatal(err)
		}
		if len(projects) != 1 {
			t.Fatalf("len = %d, want 1", len(projects))
		}
		if p := projects[0]; p.Organisation != "Harbour Trust" || p.Lead != "Ada Lovelace" {
			t.Errorf("project = %+v", p)
		}
	})

	t.Run("relationships", func(t *testing.T) {
		rel, err := adapter.Relationships(ctx, []string{"ADA@example.org", "nobody@example.org"})
		if err != nil {
			t.Fatal(err)
		}
		ada, ok := rel["ada@example.org"]
		if !ok {
			t.Fatalf("no context for ada: %+v", rel)
		}
		if ada.Connections != 1 || !slices.Equal(ada.SharedProjects, []string{"Dock Restoration"}) {
			t.Errorf("context = %+v", ada)
		}
		if _, ok := rel["nobody@example.org"]; ok {
			t.Error("unknown email produced a context")
		}
	})
}
