// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/placemat/internal/models"
)

const defaultSlackURL = "https://slack.com/api"

// SlackConfig configures the team-chat workspace. Channels whose name
// starts with ProjectPrefix are read as projects.
type SlackConfig struct {
	Token         string        `koanf:"token"`
	BaseURL       string        `koanf:"base_url"`
	ProjectPrefix string        `koanf:"project_prefix"`
	MaxPages      int           `koanf:"max_pages"`
	Timeout       time.Duration `koanf:"timeout"`
	RateLimits    RateLimits    `koanf:"rate_limits"`
}

// Slack reads workspace members as contacts and project channels as projects.
type Slack struct {
	cfg  SlackConfig
	http *httpClient
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSlackURL
	}
	if cfg.ProjectPrefix == "" {
		cfg.ProjectPrefix = "proj-"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	return &Slack{
		cfg:  cfg,
		http: newHTTPClient(NameSlack, cfg.BaseURL, cfg.Timeout, cfg.RateLimits, bearer(cfg.Token)),
	}
}

func (s *Slack) Name() string           { return NameSlack }
func (s *Slack) Configured() bool       { return s.cfg.Token != "" }
func (s *Slack) Timeout() time.Duration { return timeoutOr(s.cfg.Timeout) }

type slackEnvelope struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (e slackEnvelope) err(method string) error {
	if e.OK {
		return nil
	}
	return fmt.Errorf("slack %s: %s", method, e.Error)
}

func (s *Slack) IsHealthy(ctx context.Context) bool {
	if !s.Configured() {
		return false
	}
	var resp slackEnvelope
	if _, err := s.http.getJSON(ctx, "/auth.test", nil, &resp); err != nil {
		return false
	}
	return resp.OK
}

type slackMember struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
	IsBot   bool   `json:"is_bot"`
	TZ      string `json:"tz"`
	Updated int64  `json:"updated"`
	Profile struct {
		RealName string `json:"real_name"`
		Email    string `json:"email"`
		Title    string `json:"title"`
		Phone    string `json:"phone"`
	} `json:"profile"`
}

// GetContacts lists active human members.
func (s *Slack) GetContacts(ctx context.Context, _ models.Filter) ([]models.Contact, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	var contacts []models.Contact
	cursor := ""
	for range s.cfg.MaxPages {
		q := url.Values{"limit": {"200"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp struct {
			slackEnvelope
			Members []slackMember `json:"members"`
		}
		if _, err := s.http.getJSON(ctx, "/users.list", q, &resp); err != nil {
			return nil, err
		}
		if err := resp.err("users.list"); err != nil {
			return nil, err
		}

		for _, m := range resp.Members {
			if m.Deleted || m.IsBot || m.ID == "USLACKBOT" {
				continue
			}
			c := models.Contact{
				ID:         m.ID,
				Name:       m.Profile.RealName,
				Email:      m.Profile.Email,
				Role:       m.Profile.Title,
				Phone:      m.Profile.Phone,
				Location:   m.TZ,
				Status:     "active",
				Confidence: 0.5,
				Provenance: models.Provenance{DataSource: NameSlack},
			}
			if m.Updated > 0 {
				c.LastInteraction = time.Unix(m.Updated, 0).UTC()
			}
			contacts = append(contacts, c)
		}

		if cursor = resp.ResponseMetadata.NextCursor; cursor == "" {
			break
		}
	}
	return contacts, nil
}

type slackChannel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
	Created    int64  `json:"created"`
	Topic      struct {
		Value string `json:"value"`
	} `json:"topic"`
	Purpose struct {
		Value string `json:"value"`
	} `json:"purpose"`
}

// GetProjects reads channels named with the project prefix. Archived
// channels are reported as completed.
func (s *Slack) GetProjects(ctx context.Context, _ models.Filter) ([]models.Project, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	var projects []models.Project
	cursor := ""
	for range s.cfg.MaxPages {
		q := url.Values{"limit": {"200"}, "types": {"public_channel"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp struct {
			slackEnvelope
			Channels []slackChannel `json:"channels"`
		}
		if _, err := s.http.getJSON(ctx, "/conversations.list", q, &resp); err != nil {
			return nil, err
		}
		if err := resp.err("conversations.list"); err != nil {
			return nil, err
		}

		for _, ch := range resp.Channels {
			if !strings.HasPrefix(ch.Name, s.cfg.ProjectPrefix) {
				continue
			}
			status := "active"
			if ch.IsArchived {
				status = "completed"
			}
			p := models.Project{
				ID:          ch.ID,
				Name:        channelTitle(strings.TrimPrefix(ch.Name, s.cfg.ProjectPrefix)),
				Status:      status,
				Description: strings.TrimSpace(ch.Purpose.Value),
				Tags:        []string{"slack:" + ch.Name},
				Confidence:  0.4,
				Provenance:  models.Provenance{DataSource: NameSlack},
			}
			if ch.Created > 0 {
				p.StartDate = time.Unix(ch.Created, 0).UTC()
			}
			projects = append(projects, p)
		}

		if cursor = resp.ResponseMetadata.NextCursor; cursor == "" {
			break
		}
	}
	return projects, nil
}

// channelTitle turns "community-garden" into "Community Garden".
func channelTitle(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
