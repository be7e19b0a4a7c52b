// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/placemat/internal/models"
)

// LinkedInConfig points at a Connections.csv export.
type LinkedInConfig struct {
	ExportPath string        `koanf:"export_path"`
	Timeout    time.Duration `koanf:"timeout"`
}

// LinkedIn reads the professional-network connections export. The parsed
// file is kept until its modification time or size changes.
type LinkedIn struct {
	cfg LinkedInConfig

	mu       sync.Mutex
	modTime  time.Time
	size     int64
	contacts []models.Contact
}

func NewLinkedIn(cfg LinkedInConfig) *LinkedIn {
	return &LinkedIn{cfg: cfg}
}

func (l *LinkedIn) Name() string           { return NameLinkedIn }
func (l *LinkedIn) Configured() bool       { return l.cfg.ExportPath != "" }
func (l *LinkedIn) Timeout() time.Duration { return timeoutOr(l.cfg.Timeout) }

func (l *LinkedIn) IsHealthy(context.Context) bool {
	if !l.Configured() {
		return false
	}
	info, err := os.Stat(l.cfg.ExportPath)
	return err == nil && info.Mode().IsRegular()
}

// GetContacts returns every connection in the export. A missing file is
// an error: the export is configured but unavailable.
func (l *LinkedIn) GetContacts(ctx context.Context, _ models.Filter) ([]models.Contact, error) {
	if !l.Configured() {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(l.cfg.ExportPath)
	if err != nil {
		return nil, fmt.Errorf("linkedin export: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.contacts != nil && info.ModTime().Equal(l.modTime) && info.Size() == l.size {
		return append([]models.Contact(nil), l.contacts...), nil
	}

	f, err := os.Open(l.cfg.ExportPath)
	if err != nil {
		return nil, fmt.Errorf("linkedin export: %w", err)
	}
	defer f.Close()

	contacts, err := parseConnections(f)
	if err != nil {
		return nil, fmt.Errorf("linkedin export: %w", err)
	}
	l.contacts, l.modTime, l.size = contacts, info.ModTime(), info.Size()
	return append([]models.Contact(nil), contacts...), nil
}

var errNoHeader = errors.New("no header row found")

// parseConnections reads the export. LinkedIn prefixes the CSV with a few
// lines of notes, so rows before the "First Name" header are skipped.
func parseConnections(r io.Reader) ([]models.Contact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var cols map[string]int
	contacts := []models.Contact{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if cols == nil {
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff")), "First Name") {
				cols = make(map[string]int, len(row))
				for i, name := range row {
					cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
				}
			}
			continue
		}

		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		name := strings.TrimSpace(get("first name") + " " + get("last name"))
		if name == "" {
			continue
		}
		contacts = append(contacts, models.Contact{
			ID:              get("url"),
			Name:            name,
			Email:           get("email address"),
			Company:         get("company"),
			Role:            get("position"),
			LinkedInURL:     get("url"),
			Status:          "connected",
			Confidence:      0.9,
			LastInteraction: parseTime(get("connected on")),
			Provenance:      models.Provenance{DataSource: NameLinkedIn},
		})
	}
	if cols == nil {
		return nil, errNoHeader
	}
	return contacts, nil
}
