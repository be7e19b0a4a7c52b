// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/models"
)

// Neo4jConfig configures the relationship graph, the primary store for
// contacts and projects.
type Neo4jConfig struct {
	URI      string        `koanf:"uri"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Database string        `koanf:"database"`
	Timeout  time.Duration `koanf:"timeout"`
	MaxRows  int           `koanf:"max_rows"`
}

// queryRunner executes one read query and returns its records.
type queryRunner func(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)

// Neo4j reads people, organisations and projects from the graph.
type Neo4j struct {
	cfg    Neo4jConfig
	driver neo4j.DriverWithContext
	run    queryRunner
}

// NewNeo4j connects to the graph when a URI is configured. Connectivity is
// not verified here; a down graph surfaces through IsHealthy and the
// adapter's circuit breaker instead of blocking startup.
func NewNeo4j(_ context.Context, cfg Neo4jConfig) (*Neo4j, error) {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	n := &Neo4j{cfg: cfg}
	if cfg.URI == "" {
		return n, nil
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}
	n.driver = driver
	n.run = n.execute
	return n, nil
}

func (n *Neo4j) Name() string           { return NameNeo4j }
func (n *Neo4j) Configured() bool       { return n.run != nil }
func (n *Neo4j) Timeout() time.Duration { return timeoutOr(n.cfg.Timeout) }

func (n *Neo4j) IsHealthy(ctx context.Context) bool {
	if !n.Configured() {
		return false
	}
	if n.driver == nil {
		_, err := n.run(ctx, "RETURN 1", nil)
		return err == nil
	}
	return n.driver.VerifyConnectivity(ctx) == nil
}

// Close releases the driver.
func (n *Neo4j) Close(ctx context.Context) error {
	if n.driver == nil {
		return nil
	}
	return n.driver.Close(ctx)
}

func (n *Neo4j) execute(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if n.cfg.Database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(n.cfg.Database))
	}
	result, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("neo4j query: %w", err)
	}
	return result.Records, nil
}

const contactsCypher = `
MATCH (p:Person)
OPTIONAL MATCH (p)-[:WORKS_AT|MEMBER_OF]->(o:Organisation)
WITH p, head(collect(o.name)) AS company
WHERE ($status = '' OR toLower(p.status) = toLower($status))
  AND ($company = '' OR toLower(company) = toLower($company))
  AND ($category = '' OR toLower(p.sector) = toLower($category))
  AND ($search = '' OR toLower(p.name) CONTAINS toLower($search)
       OR toLower(coalesce(p.email, '')) CONTAINS toLower($search))
RETURN p.id AS id, p.name AS name, p.email AS email, company,
       p.role AS role, p.phone AS phone, p.location AS location,
       p.sector AS sector, p.status AS status, p.linkedin_url AS linkedin_url,
       p.tags AS tags, p.strategic_value AS strategic_value,
       p.last_interaction AS last_interaction
ORDER BY name
LIMIT $max`

const projectsCypher = `
MATCH (pr:Project)
OPTIONAL MATCH (o:Organisation)-[:RUNS]->(pr)
OPTIONAL MATCH (lead:Person)-[:LEADS]->(pr)
WITH pr, head(collect(o.name)) AS organisation, head(collect(lead.name)) AS lead
WHERE ($status = '' OR toLower(pr.status) = toLower($status))
  AND ($company = '' OR toLower(organisation) = toLower($company))
  AND ($category = '' OR toLower(pr.category) = toLower($category))
  AND ($search = '' OR toLower(pr.name) CONTAINS toLower($search)
       OR toLower(coalesce(pr.description, '')) CONTAINS toLower($search))
RETURN pr.id AS id, pr.name AS name, pr.status AS status, pr.category AS category,
       organisation, pr.description AS description, lead, pr.location AS location,
       pr.tags AS tags, pr.budget AS budget, pr.progress AS progress,
       pr.start_date AS start_date, pr.end_date AS end_date
ORDER BY name
LIMIT $max`

const relationshipsCypher = `
UNWIND $emails AS email
MATCH (p:Person) WHERE toLower(p.email) = email
OPTIONAL MATCH (p)-[:KNOWS]-(other:Person)
WITH p, email, count(DISTINCT other) AS connections
OPTIONAL MATCH (p)-[:WORKS_ON|LEADS]->(pr:Project)
WITH p, email, connections, collect(DISTINCT pr.name) AS projects
OPTIONAL MATCH (p)-[:WORKS_AT|MEMBER_OF]->(o:Organisation)
RETURN email, connections, projects, collect(DISTINCT o.name) AS organisations`

func (n *Neo4j) filterParams(f models.Filter) map[string]any {
	return map[string]any{
		"status":   f.Status,
		"company":  f.Company,
		"category": f.Category,
		"search":   f.Search,
		"max":      int64(n.cfg.MaxRows),
	}
}

// GetContacts returns Person nodes with their first organisation as company.
func (n *Neo4j) GetContacts(ctx context.Context, f models.Filter) ([]models.Contact, error) {
	if !n.Configured() {
		return nil, ErrNotConfigured
	}
	records, err := n.run(ctx, contactsCypher, n.filterParams(f))
	if err != nil {
		return nil, err
	}

	contacts := make([]models.Contact, 0, len(records))
	for _, rec := range records {
		v := rec.AsMap()
		contacts = append(contacts, models.Contact{
			ID:              asString(v["id"]),
			Name:            asString(v["name"]),
			Email:           asString(v["email"]),
			Company:         asString(v["company"]),
			Role:            asString(v["role"]),
			Phone:           asString(v["phone"]),
			Location:        asString(v["location"]),
			Sector:          asString(v["sector"]),
			Status:          asString(v["status"]),
			LinkedInURL:     asString(v["linkedin_url"]),
			Tags:            asStrings(v["tags"]),
			StrategicValue:  asFloat(v["strategic_value"]),
			Confidence:      1,
			LastInteraction: asTime(v["last_interaction"]),
			Provenance:      models.Provenance{DataSource: NameNeo4j},
		})
	}
	return contacts, nil
}

// GetProjects returns Project nodes with the running organisation and lead.
func (n *Neo4j) GetProjects(ctx context.Context, f models.Filter) ([]models.Project, error) {
	if !n.Configured() {
		return nil, ErrNotConfigured
	}
	records, err := n.run(ctx, projectsCypher, n.filterParams(f))
	if err != nil {
		return nil, err
	}

	projects := make([]models.Project, 0, len(records))
	for _, rec := range records {
		v := rec.AsMap()
		projects = append(projects, models.Project{
			ID:           asString(v["id"]),
			Name:         asString(v["name"]),
			Status:       asString(v["status"]),
			Category:     asString(v["category"]),
			Organisation: asString(v["organisation"]),
			Description:  asString(v["description"]),
			Lead:         asString(v["lead"]),
			Location:     asString(v["location"]),
			Tags:         asStrings(v["tags"]),
			Budget:       asDecimal(v["budget"]),
			Progress:     asFloat(v["progress"]),
			Confidence:   1,
			StartDate:    asTime(v["start_date"]),
			EndDate:      asTime(v["end_date"]),
			Provenance:   models.Provenance{DataSource: NameNeo4j},
		})
	}
	return projects, nil
}

// Relationships returns graph context for the given emails.
func (n *Neo4j) Relationships(ctx context.Context, emails []string) (map[string]models.RelationshipContext, error) {
	if !n.Configured() {
		return nil, ErrNotConfigured
	}
	keys := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			keys = append(keys, e)
		}
	}
	if len(keys) == 0 {
		return map[string]models.RelationshipContext{}, nil
	}

	records, err := n.run(ctx, relationshipsCypher, map[string]any{"emails": keys})
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.RelationshipContext, len(records))
	for _, rec := range records {
		v := rec.AsMap()
		out[asString(v["email"])] = models.RelationshipContext{
			Connections:    int(asFloat(v["connections"])),
			SharedProjects: asStrings(v["projects"]),
			Organisations:  asStrings(v["organisations"]),
		}
	}
	logging.Debug().Int("requested", len(keys)).Int("found", len(out)).Msg("Loaded relationship context")
	return out, nil
}
