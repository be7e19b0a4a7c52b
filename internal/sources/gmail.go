// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package sources

import (
	"context"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/placemat/internal/models"
)

const defaultGmailURL = "https://gmail.googleapis.com"

// GmailConfig configures the email source. Correspondents are derived from
// the From and To headers of recent messages matching Query.
type GmailConfig struct {
	AccessToken string        `koanf:"access_token"`
	BaseURL     string        `koanf:"base_url"`
	Query       string        `koanf:"query"`
	MaxMessages int           `koanf:"max_messages"`
	Self        string        `koanf:"self"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimits  RateLimits    `koanf:"rate_limits"`
}

// Gmail turns message headers into contacts.
type Gmail struct {
	cfg  GmailConfig
	http *httpClient
}

func NewGmail(cfg GmailConfig) *Gmail {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGmailURL
	}
	if cfg.Query == "" {
		cfg.Query = "newer_than:90d -category:promotions"
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	return &Gmail{
		cfg:  cfg,
		http: newHTTPClient(NameGmail, cfg.BaseURL, cfg.Timeout, cfg.RateLimits, bearer(cfg.AccessToken)),
	}
}

func (g *Gmail) Name() string           { return NameGmail }
func (g *Gmail) Configured() bool       { return g.cfg.AccessToken != "" }
func (g *Gmail) Timeout() time.Duration { return timeoutOr(g.cfg.Timeout) }

func (g *Gmail) IsHealthy(ctx context.Context) bool {
	if !g.Configured() {
		return false
	}
	found, err := g.http.getJSON(ctx, "/gmail/v1/users/me/profile", nil, nil)
	return err == nil && found
}

type gmailMessage struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// GetContacts lists recent messages and aggregates their correspondents.
// Each extra message with the same person raises confidence.
func (g *Gmail) GetContacts(ctx context.Context, f models.Filter) ([]models.Contact, error) {
	if !g.Configured() {
		return nil, ErrNotConfigured
	}

	q := url.Values{
		"q":          {g.cfg.Query},
		"maxResults": {strconv.Itoa(g.cfg.MaxMessages)},
	}
	if f.Search != "" {
		q.Set("q", g.cfg.Query+" "+f.Search)
	}
	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if _, err := g.http.getJSON(ctx, "/gmail/v1/users/me/messages", q, &list); err != nil {
		return nil, err
	}

	byEmail := make(map[string]*models.Contact)
	var order []string
	self := strings.ToLower(strings.TrimSpace(g.cfg.Self))

	for _, ref := range list.Messages {
		var msg gmailMessage
		meta := url.Values{"format": {"metadata"}, "metadataHeaders": {"From", "To", "Cc"}}
		found, err := g.http.getJSON(ctx, "/gmail/v1/users/me/messages/"+url.PathEscape(ref.ID), meta, &msg)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		var sent time.Time
		if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil {
			sent = time.UnixMilli(ms).UTC()
		}

		for _, h := range msg.Payload.Headers {
			if !strings.EqualFold(h.Name, "From") && !strings.EqualFold(h.Name, "To") && !strings.EqualFold(h.Name, "Cc") {
				continue
			}
			addrs, err := mail.ParseAddressList(h.Value)
			if err != nil {
				continue
			}
			for _, a := range addrs {
				email := strings.ToLower(a.Address)
				if email == "" || email == self {
					continue
				}
				c, ok := byEmail[email]
				if !ok {
					c = contactFromAddress(a)
					byEmail[email] = c
					order = append(order, email)
				} else {
					c.Confidence = min(1, c.Confidence+0.1)
				}
				if sent.After(c.LastInteraction) {
					c.LastInteraction = sent
				}
			}
		}
	}

	contacts := make([]models.Contact, 0, len(order))
	for _, email := range order {
		contacts = append(contacts, *byEmail[email])
	}
	return contacts, nil
}

// contactFromAddress fills name and organisation from the address when
// the display name is missing.
func contactFromAddress(a *mail.Address) *models.Contact {
	email := strings.ToLower(a.Address)
	local, domain, _ := strings.Cut(email, "@")

	name := strings.TrimSpace(a.Name)
	if name == "" {
		parts := strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '_' || r == '-' })
		for i, p := range parts {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
		if len(parts) > 2 {
			parts = parts[:2]
		}
		name = strings.Join(parts, " ")
	}

	c := &models.Contact{
		ID:         "gmail:" + email,
		Name:       name,
		Email:      email,
		Sector:     sectorForDomain(domain),
		Confidence: 0.3,
		Provenance: models.Provenance{DataSource: NameGmail},
	}
	if org, _, ok := strings.Cut(domain, "."); ok && org != "" && !isWebmail(domain) {
		c.Company = strings.ToUpper(org[:1]) + org[1:]
	}
	return c
}

func sectorForDomain(domain string) string {
	switch {
	case strings.Contains(domain, ".gov"):
		return "Government"
	case strings.Contains(domain, ".edu"):
		return "Academic"
	}
	return ""
}

func isWebmail(domain string) bool {
	switch domain {
	case "gmail.com", "googlemail.com", "outlook.com", "hotmail.com", "yahoo.com", "icloud.com", "proton.me", "bigpond.com":
		return true
	}
	return false
}
