// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/integration"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/validation"
)

// WriteServiceError maps an integration layer error onto a status and
// error code. Anything unrecognised is a 500 with a generic message.
func (rw *ResponseWriter) WriteServiceError(err error) {
	var (
		verr        *validation.RequestValidationError
		failed      *integration.IntegrationError
		unavailable *integration.UnavailableError
	)

	switch {
	case errors.As(err, &verr):
		rw.ValidationError("Invalid request parameters", verr.Fields)

	case errors.As(err, &unavailable):
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error(),
			map[string]string{"kind": unavailable.Kind.String(), "capability": unavailable.Capability})

	case errors.Is(err, integration.ErrServiceUnavailable):
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error())

	case errors.As(err, &failed):
		logging.Ctx(rw.r.Context()).Error().Err(err).Str("kind", failed.Kind.String()).Msg("Integration failed")
		rw.ErrorWithDetails(http.StatusBadGateway, ErrCodeIntegrationFailed,
			"All sources failed for "+failed.Kind.String(), failed.Failures)

	case errors.Is(err, breaker.ErrUnknownBreaker):
		rw.NotFound(err.Error())

	case errors.Is(err, integration.ErrCacheDisabled):
		rw.Error(http.StatusConflict, ErrCodeConflict, "Cache is disabled")

	case errors.Is(err, context.DeadlineExceeded):
		rw.Error(http.StatusGatewayTimeout, ErrCodeTimeout, "Request timed out")

	default:
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("Unhandled service error")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
	}
}
