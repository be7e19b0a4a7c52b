// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package merge

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

func pick(primary, secondary string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return secondary
}

func pickTime(primary, secondary time.Time) time.Time {
	if !primary.IsZero() {
		return primary
	}
	return secondary
}

func pickDecimal(primary, secondary decimal.Decimal) decimal.Decimal {
	if !primary.IsZero() {
		return primary
	}
	return secondary
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// union returns the sorted set union of a and b. There is no size cap.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(slices.Clone(a), b...) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func count(fields ...string) int {
	n := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			n++
		}
	}
	return n
}

// normalize lower-cases s, drops punctuation and collapses whitespace so
// "Jo  Smith." and "jo smith" compare equal.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func normalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

func key(prefix string, parts ...string) string {
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return prefix + ":" + strings.Join(parts, "|")
}
