// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package models

// Tier buckets a contact's strategic value score.
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
	Tier4 Tier = "tier4"
)

// TierFor maps a 0-100 strategic value score to its tier.
func TierFor(score float64) Tier {
	switch {
	case score >= 80:
		return Tier1
	case score >= 65:
		return Tier2
	case score >= 50:
		return Tier3
	default:
		return Tier4
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case Tier1, Tier2, Tier3, Tier4:
		return true
	}
	return false
}
