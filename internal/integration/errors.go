// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package integration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/placemat/internal/models"
)

var (
	// ErrServiceUnavailable means no source is configured for the requested kind.
	ErrServiceUnavailable = errors.New("service unavailable")

	ErrContactIntegration = errors.New("contact integration failed")
	ErrProjectIntegration = errors.New("project integration failed")
	ErrFinanceIntegration = errors.New("finance integration failed")
)

// kindError returns the sentinel matched by an IntegrationError of kind.
func kindError(kind models.Kind) error {
	switch kind {
	case models.KindContacts:
		return ErrContactIntegration
	case models.KindProjects:
		return ErrProjectIntegration
	default:
		return ErrFinanceIntegration
	}
}

// UnavailableError is returned before any source is called when nothing
// can serve the request.
type UnavailableError struct {
	Kind          models.Kind
	Capability    string
	CorrelationID string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: no %s configured for %s", ErrServiceUnavailable, e.Capability, e.Kind)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrServiceUnavailable }

// IntegrationError is returned when every configured source failed.
type IntegrationError struct {
	Kind          models.Kind
	CorrelationID string
	Failures      []models.SourceFailure
}

func (e *IntegrationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Source+": "+f.Error)
	}
	return fmt.Sprintf("%s: all %d sources failed [correlation_id=%s]: %s",
		kindError(e.Kind), len(e.Failures), e.CorrelationID, strings.Join(parts, "; "))
}

// Is matches the kind sentinel, so errors.Is(err, ErrContactIntegration)
// holds only for contact failures.
func (e *IntegrationError) Is(target error) bool { return target == kindError(e.Kind) }
