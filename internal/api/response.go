// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/models"
)

// APIResponse is the envelope of every response.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError is a machine-readable code plus a human-readable message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// APIMeta carries tracing ids, timing and, for entity queries, the
// provenance reported by the integration service.
type APIMeta struct {
	RequestID     string    `json:"requestId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	DurationMs    int64     `json:"durationMs"`

	Pagination       *models.Pagination     `json:"pagination,omitempty"`
	Sources          []string               `json:"sources,omitempty"`
	FailedSources    []models.SourceFailure `json:"failedSources,omitempty"`
	CacheHit         bool                   `json:"cacheHit,omitempty"`
	ProcessingTimeMs int64                  `json:"processingTimeMs,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeIntegrationFailed  = "INTEGRATION_FAILED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
)

// ResponseWriter writes enveloped responses for one request.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter starts the duration clock for a request.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

// Success writes a 200 with data.
func (rw *ResponseWriter) Success(data any) {
	rw.SuccessWithMeta(http.StatusOK, data, nil)
}

// SuccessWithMeta writes data with the given status, filling the tracing
// fields of meta.
func (rw *ResponseWriter) SuccessWithMeta(status int, data any, meta *APIMeta) {
	rw.writeJSON(status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    rw.meta(meta),
	})
}

// Result writes an entity query result. Data is always an array.
func Result[T any](rw *ResponseWriter, result *models.Result[T]) {
	data := result.Data
	if data == nil {
		data = []T{}
	}
	meta := &APIMeta{
		CorrelationID:    result.Metadata.CorrelationID,
		Pagination:       result.Pagination,
		Sources:          result.Metadata.Sources,
		FailedSources:    result.Metadata.FailedSources,
		CacheHit:         result.Metadata.CacheHit,
		ProcessingTimeMs: result.Metadata.ProcessingTimeMs,
	}
	rw.SuccessWithMeta(http.StatusOK, data, meta)
}

// Error writes an error envelope.
func (rw *ResponseWriter) Error(status int, code, message string) {
	rw.ErrorWithDetails(status, code, message, nil)
}

// ErrorWithDetails writes an error envelope with structured details.
func (rw *ResponseWriter) ErrorWithDetails(status int, code, message string, details any) {
	rw.writeJSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
		Meta:    rw.meta(nil),
	})
}

// BadRequest writes a 400.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Error(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound writes a 404.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// ValidationError writes a 400 carrying the failed fields.
func (rw *ResponseWriter) ValidationError(message string, details any) {
	rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidation, message, details)
}

func (rw *ResponseWriter) meta(meta *APIMeta) *APIMeta {
	if meta == nil {
		meta = &APIMeta{}
	}
	ctx := rw.r.Context()
	meta.Timestamp = time.Now().UTC()
	meta.DurationMs = time.Since(rw.startTime).Milliseconds()
	meta.RequestID = logging.RequestIDFromContext(ctx)
	if meta.CorrelationID == "" {
		meta.CorrelationID = logging.CorrelationIDFromContext(ctx)
	}
	return meta
}

func (rw *ResponseWriter) writeJSON(status int, data any) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(status)

	if err := json.NewEncoder(rw.w).Encode(data); err != nil {
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}
