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

	"github.com/tomtom215/placemat/internal/models"
)

const (
	defaultNotionURL     = "https://api.notion.com"
	defaultNotionVersion = "2022-06-28"
	notionPageSize       = 100
)

// NotionConfig configures the documents tool. Each database is optional;
// an empty ID means that kind is not read from Notion.
type NotionConfig struct {
	Token            string        `koanf:"token"`
	BaseURL          string        `koanf:"base_url"`
	Version          string        `koanf:"version"`
	PeopleDatabase   string        `koanf:"people_database"`
	ProjectsDatabase string        `koanf:"projects_database"`
	FinanceDatabase  string        `koanf:"finance_database"`
	MaxPages         int           `koanf:"max_pages"`
	Timeout          time.Duration `koanf:"timeout"`
	RateLimits       RateLimits    `koanf:"rate_limits"`
}

// Notion reads the People, Projects and Finance databases.
type Notion struct {
	cfg  NotionConfig
	http *httpClient
}

func NewNotion(cfg NotionConfig) *Notion {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNotionURL
	}
	if cfg.Version == "" {
		cfg.Version = defaultNotionVersion
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	headers := bearer(cfg.Token)
	headers.Set("Notion-Version", cfg.Version)
	return &Notion{
		cfg:  cfg,
		http: newHTTPClient(NameNotion, cfg.BaseURL, cfg.Timeout, cfg.RateLimits, headers),
	}
}

func (n *Notion) Name() string           { return NameNotion }
func (n *Notion) Timeout() time.Duration { return timeoutOr(n.cfg.Timeout) }

func (n *Notion) Configured() bool {
	return n.cfg.Token != "" && (n.cfg.PeopleDatabase != "" || n.cfg.ProjectsDatabase != "" || n.cfg.FinanceDatabase != "")
}

func (n *Notion) IsHealthy(ctx context.Context) bool {
	if !n.Configured() {
		return false
	}
	found, err := n.http.getJSON(ctx, "/v1/users/me", nil, nil)
	return err == nil && found
}

type notionText struct {
	PlainText string `json:"plain_text"`
}

type notionOption struct {
	Name string `json:"name"`
}

type notionDate struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type notionProperty struct {
	Type        string         `json:"type"`
	Title       []notionText   `json:"title"`
	RichText    []notionText   `json:"rich_text"`
	Email       *string        `json:"email"`
	PhoneNumber *string        `json:"phone_number"`
	URL         *string        `json:"url"`
	Select      *notionOption  `json:"select"`
	Status      *notionOption  `json:"status"`
	MultiSelect []notionOption `json:"multi_select"`
	People      []notionOption `json:"people"`
	Number      *float64       `json:"number"`
	Date        *notionDate    `json:"date"`
}

// text renders any scalar property as a string.
func (p notionProperty) text() string {
	join := func(parts []notionText) string {
		var b strings.Builder
		for _, t := range parts {
			b.WriteString(t.PlainText)
		}
		return strings.TrimSpace(b.String())
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return strings.TrimSpace(*s)
	}
	switch p.Type {
	case "title":
		return join(p.Title)
	case "rich_text":
		return join(p.RichText)
	case "email":
		return deref(p.Email)
	case "phone_number":
		return deref(p.PhoneNumber)
	case "url":
		return deref(p.URL)
	case "select":
		if p.Select != nil {
			return p.Select.Name
		}
	case "status":
		if p.Status != nil {
			return p.Status.Name
		}
	case "multi_select", "people":
		names := p.names()
		if len(names) > 0 {
			return names[0]
		}
	case "number":
		if p.Number != nil {
			return fmt.Sprint(*p.Number)
		}
	case "date":
		if p.Date != nil {
			return p.Date.Start
		}
	}
	return ""
}

func (p notionProperty) names() []string {
	opts := p.MultiSelect
	if p.Type == "people" {
		opts = p.People
	}
	var out []string
	for _, o := range opts {
		if o.Name != "" {
			out = append(out, o.Name)
		}
	}
	return out
}

func (p notionProperty) number() float64 {
	if p.Number != nil {
		return *p.Number
	}
	return asFloat(p.text())
}

type notionPage struct {
	ID             string                    `json:"id"`
	LastEditedTime string                    `json:"last_edited_time"`
	Properties     map[string]notionProperty `json:"properties"`
}

// prop returns the first present property among names.
func (pg notionPage) prop(names ...string) notionProperty {
	for _, name := range names {
		if p, ok := pg.Properties[name]; ok {
			return p
		}
	}
	return notionProperty{}
}

type notionQueryResponse struct {
	Results    []notionPage `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor *string      `json:"next_cursor"`
}

// query pages through a database, stopping after MaxPages.
func (n *Notion) query(ctx context.Context, database string) ([]notionPage, error) {
	var pages []notionPage
	var cursor string
	for range n.cfg.MaxPages {
		body := map[string]any{"page_size": notionPageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp notionQueryResponse
		found, err := n.http.postJSON(ctx, "/v1/databases/"+database+"/query", body, &resp)
		if err != nil {
			return nil, err
		}
		if !found {
			return pages, nil
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return pages, nil
		}
		cursor = *resp.NextCursor
	}
	return pages, nil
}

// GetContacts reads the People database.
func (n *Notion) GetContacts(ctx context.Context, _ models.Filter) ([]models.Contact, error) {
	if !n.Configured() {
		return nil, ErrNotConfigured
	}
	if n.cfg.PeopleDatabase == "" {
		return nil, nil
	}
	pages, err := n.query(ctx, n.cfg.PeopleDatabase)
	if err != nil {
		return nil, err
	}

	contacts := make([]models.Contact, 0, len(pages))
	for _, pg := range pages {
		contacts = append(contacts, models.Contact{
			ID:              pg.ID,
			Name:            pg.prop("Name").text(),
			Email:           pg.prop("Email").text(),
			Company:         pg.prop("Organisation", "Company").text(),
			Role:            pg.prop("Role", "Position").text(),
			Phone:           pg.prop("Phone").text(),
			Location:        pg.prop("Location").text(),
			Sector:          pg.prop("Sector").text(),
			Status:          pg.prop("Status").text(),
			LinkedInURL:     pg.prop("LinkedIn").text(),
			Tags:            pg.prop("Tags").names(),
			StrategicValue:  pg.prop("Strategic Value").number(),
			Confidence:      0.8,
			LastInteraction: parseTime(pg.prop("Last Contact").text()),
			Provenance:      models.Provenance{DataSource: NameNotion},
		})
	}
	return contacts, nil
}

// GetProjects reads the Projects database.
func (n *Notion) GetProjects(ctx context.Context, _ models.Filter) ([]models.Project, error) {
	if !n.Configured() {
		return nil, ErrNotConfigured
	}
	if n.cfg.ProjectsDatabase == "" {
		return nil, nil
	}
	pages, err := n.query(ctx, n.cfg.ProjectsDatabase)
	if err != nil {
		return nil, err
	}

	projects := make([]models.Project, 0, len(pages))
	for _, pg := range pages {
		p := models.Project{
			ID:           pg.ID,
			Name:         pg.prop("Name").text(),
			Status:       pg.prop("Status").text(),
			Category:     pg.prop("Category", "Theme").text(),
			Organisation: pg.prop("Organisation").text(),
			Description:  pg.prop("Description").text(),
			Lead:         pg.prop("Lead", "Project Lead").text(),
			Location:     pg.prop("Location").text(),
			Tags:         pg.prop("Tags").names(),
			Budget:       asDecimal(pg.prop("Budget").number()),
			Progress:     pg.prop("Progress").number(),
			Confidence:   0.8,
			Provenance:   models.Provenance{DataSource: NameNotion},
		}
		if d := pg.prop("Timeline", "Dates").Date; d != nil {
			p.StartDate, p.EndDate = parseTime(d.Start), parseTime(d.End)
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// GetFinanceData reads the Finance database.
func (n *Notion) GetFinanceData(ctx context.Context, _ models.Filter) ([]models.FinanceTransaction, error) {
	if !n.Configured() {
		return nil, ErrNotConfigured
	}
	if n.cfg.FinanceDatabase == "" {
		return nil, nil
	}
	pages, err := n.query(ctx, n.cfg.FinanceDatabase)
	if err != nil {
		return nil, err
	}

	txns := make([]models.FinanceTransaction, 0, len(pages))
	for _, pg := range pages {
		txns = append(txns, models.FinanceTransaction{
			ID:           pg.ID,
			Reference:    pg.prop("Reference", "Name").text(),
			Date:         parseTime(pg.prop("Date").text()),
			Amount:       asDecimal(pg.prop("Amount").number()),
			Currency:     strings.ToUpper(pg.prop("Currency").text()),
			Type:         strings.ToLower(pg.prop("Type").text()),
			Counterparty: pg.prop("Counterparty").text(),
			Category:     pg.prop("Category").text(),
			Status:       pg.prop("Status").text(),
			Description:  pg.prop("Description").text(),
			ProjectID:    pg.prop("Project").text(),
			Tags:         pg.prop("Tags").names(),
			Confidence:   0.7,
			Provenance:   models.Provenance{DataSource: NameNotion},
		})
	}
	return txns, nil
}
