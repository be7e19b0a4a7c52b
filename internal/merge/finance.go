// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package merge

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tomtom215/placemat/internal/models"
)

// FinanceRules keys transactions by reference, then by date, amount and
// counterparty together.
var FinanceRules = Rules[models.FinanceTransaction]{
	Kind: models.KindFinance,
	Keys: func(t models.FinanceTransaction) []string {
		var date, amount string
		if !t.Date.IsZero() {
			date = t.Date.UTC().Format(time.DateOnly)
		}
		if !t.Amount.IsZero() {
			amount = t.Amount.Abs().StringFixed(2)
		}
		return []string{
			key("ref", strings.ToLower(strings.TrimSpace(t.Reference))),
			key("txn", date, amount, normalize(t.Counterparty)),
		}
	},
	Fields:       mergeFinanceFields,
	Completeness: financeCompleteness,
	Fingerprint:  financeFingerprint,
	Provenance:   func(t models.FinanceTransaction) models.Provenance { return t.Provenance },
	WithProvenance: func(t models.FinanceTransaction, p models.Provenance) models.FinanceTransaction {
		t.Provenance = p
		return t
	},
	Describe: func(t models.FinanceTransaction) string {
		return fmt.Sprintf("id=%s reference=%q", t.ID, t.Reference)
	},
}

// NewFinanceEngine returns an engine for transactions with the given source priority.
func NewFinanceEngine(priority []string) *Engine[models.FinanceTransaction] {
	return NewEngine(FinanceRules, priority)
}

func mergeFinanceFields(p, s models.FinanceTransaction) models.FinanceTransaction {
	return models.FinanceTransaction{
		ID:           pick(p.ID, s.ID),
		Reference:    pick(p.Reference, s.Reference),
		Date:         pickTime(p.Date, s.Date),
		Amount:       pickDecimal(p.Amount, s.Amount),
		Currency:     pick(p.Currency, s.Currency),
		Type:         pick(p.Type, s.Type),
		Counterparty: pick(p.Counterparty, s.Counterparty),
		Category:     pick(p.Category, s.Category),
		Status:       pick(p.Status, s.Status),
		Description:  pick(p.Description, s.Description),
		ProjectID:    pick(p.ProjectID, s.ProjectID),
		Tags:         union(p.Tags, s.Tags),
		Confidence:   math.Max(p.Confidence, s.Confidence),
		Provenance:   p.Provenance,
	}
}

func financeCompleteness(t models.FinanceTransaction) int {
	n := count(t.ID, t.Reference, t.Currency, t.Type, t.Counterparty, t.Category, t.Status, t.Description, t.ProjectID)
	if !t.Date.IsZero() {
		n++
	}
	if !t.Amount.IsZero() {
		n++
	}
	if len(t.Tags) > 0 {
		n++
	}
	return n
}

func financeFingerprint(t models.FinanceTransaction) string {
	return strings.Join([]string{
		t.ID, t.Reference, t.Date.UTC().Format(time.RFC3339Nano), t.Amount.String(), t.Currency, t.Type,
		t.Counterparty, t.Category, t.Status, t.Description, t.ProjectID,
		strings.Join(t.Tags, ","),
		fmt.Sprintf("%g", t.Confidence),
	}, "\x1f")
}
