// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package sources

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomtom215/placemat/internal/models"
)

const (
	defaultXeroURL = "https://api.xero.com"
	xeroPageSize   = 100
)

// XeroConfig configures the accounting service. Token refresh is handled
// outside this process; AccessToken must be current.
type XeroConfig struct {
	AccessToken string        `koanf:"access_token"`
	TenantID    string        `koanf:"tenant_id"`
	BaseURL     string        `koanf:"base_url"`
	MaxPages    int           `koanf:"max_pages"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimits  RateLimits    `koanf:"rate_limits"`
}

// Xero reads bank transactions.
type Xero struct {
	cfg  XeroConfig
	http *httpClient
}

func NewXero(cfg XeroConfig) *Xero {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultXeroURL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	headers := bearer(cfg.AccessToken)
	headers.Set("Xero-tenant-id", cfg.TenantID)
	return &Xero{
		cfg:  cfg,
		http: newHTTPClient(NameXero, cfg.BaseURL, cfg.Timeout, cfg.RateLimits, headers),
	}
}

func (x *Xero) Name() string           { return NameXero }
func (x *Xero) Configured() bool       { return x.cfg.AccessToken != "" && x.cfg.TenantID != "" }
func (x *Xero) Timeout() time.Duration { return timeoutOr(x.cfg.Timeout) }

func (x *Xero) IsHealthy(ctx context.Context) bool {
	if !x.Configured() {
		return false
	}
	found, err := x.http.getJSON(ctx, "/api.xro/2.0/Organisation", nil, nil)
	return err == nil && found
}

type xeroBankTransaction struct {
	BankTransactionID string          `json:"BankTransactionID"`
	Type              string          `json:"Type"`
	Reference         string          `json:"Reference"`
	Date              string          `json:"Date"`
	DateString        string          `json:"DateString"`
	Total             decimal.Decimal `json:"Total"`
	CurrencyCode      string          `json:"CurrencyCode"`
	Status            string          `json:"Status"`
	Contact           struct {
		Name string `json:"Name"`
	} `json:"Contact"`
	LineItems []struct {
		Description string `json:"Description"`
		AccountCode string `json:"AccountCode"`
		Tracking    []struct {
			Option string `json:"Option"`
		} `json:"Tracking"`
	} `json:"LineItems"`
}

// GetFinanceData pages through bank transactions. Spend transactions carry
// a negative amount.
func (x *Xero) GetFinanceData(ctx context.Context, f models.Filter) ([]models.FinanceTransaction, error) {
	if !x.Configured() {
		return nil, ErrNotConfigured
	}

	var txns []models.FinanceTransaction
	for page := 1; page <= x.cfg.MaxPages; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}}
		if f.Status != "" {
			q.Set("where", `Status=="`+strings.ToUpper(f.Status)+`"`)
		}
		var resp struct {
			BankTransactions []xeroBankTransaction `json:"BankTransactions"`
		}
		found, err := x.http.getJSON(ctx, "/api.xro/2.0/BankTransactions", q, &resp)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		for _, bt := range resp.BankTransactions {
			txns = append(txns, bt.toModel())
		}
		if len(resp.BankTransactions) < xeroPageSize {
			break
		}
	}
	return txns, nil
}

func (bt xeroBankTransaction) toModel() models.FinanceTransaction {
	t := models.FinanceTransaction{
		ID:           bt.BankTransactionID,
		Reference:    bt.Reference,
		Date:         parseTime(bt.DateString),
		Amount:       bt.Total,
		Currency:     bt.CurrencyCode,
		Type:         "income",
		Counterparty: bt.Contact.Name,
		Status:       strings.ToLower(bt.Status),
		Confidence:   1,
		Provenance:   models.Provenance{DataSource: NameXero},
	}
	if t.Date.IsZero() {
		t.Date = parseMSDate(bt.Date)
	}
	if strings.HasPrefix(strings.ToUpper(bt.Type), "SPEND") {
		t.Type = "expense"
		t.Amount = bt.Total.Abs().Neg()
	}
	if len(bt.LineItems) > 0 {
		li := bt.LineItems[0]
		t.Description = li.Description
		t.Category = li.AccountCode
		for _, tr := range li.Tracking {
			if tr.Option != "" {
				t.Tags = append(t.Tags, tr.Option)
			}
		}
	}
	return t
}

var msDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// parseMSDate reads the "/Date(1518685950940+0000)/" form Xero uses.
func parseMSDate(s string) time.Time {
	m := msDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
