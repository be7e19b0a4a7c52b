// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FinanceTransaction is a single money movement recorded by the accounting
// service or referenced from project documents.
type FinanceTransaction struct {
	ID           string          `json:"id"`
	Reference    string          `json:"reference,omitempty"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	Type         string          `json:"type,omitempty"` // income or expense
	Counterparty string          `json:"counterparty,omitempty"`
	Category     string          `json:"category,omitempty"`
	Status       string          `json:"status,omitempty"`
	Description  string          `json:"description,omitempty"`
	ProjectID    string          `json:"projectId,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Confidence   float64         `json:"confidence"`

	Provenance
}

// Matches applies the filter's scalar and search criteria.
// Company matches the counterparty. Tier does not apply to transactions.
func (t FinanceTransaction) Matches(f Filter) bool {
	if !equalFoldOrEmpty(f.Category, t.Category) ||
		!equalFoldOrEmpty(f.Status, t.Status) ||
		!equalFoldOrEmpty(f.Company, t.Counterparty) {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, t.Reference, t.Description, t.Counterparty) {
		return false
	}
	return true
}

// FinanceSorts maps sortable field names to comparators.
var FinanceSorts = map[string]func(a, b FinanceTransaction) int{
	"date":   func(a, b FinanceTransaction) int { return a.Date.Compare(b.Date) },
	"amount": func(a, b FinanceTransaction) int { return a.Amount.Cmp(b.Amount) },
	"counterparty": func(a, b FinanceTransaction) int {
		return strings.Compare(strings.ToLower(a.Counterparty), strings.ToLower(b.Counterparty))
	},
	"reference": func(a, b FinanceTransaction) int { return strings.Compare(a.Reference, b.Reference) },
	"status":    func(a, b FinanceTransaction) int { return strings.Compare(a.Status, b.Status) },
}
