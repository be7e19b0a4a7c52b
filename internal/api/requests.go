// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tomtom215/placemat/internal/models"
	"github.com/tomtom215/placemat/internal/validation"
)

// parseFilter reads an entity filter from the query string.
//
// sources may be repeated or comma separated. page is an alternative to
// offset and is ignored when offset is present. The result is normalized
// and validated.
func parseFilter(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()

	f := models.Filter{
		Search:    q.Get("search"),
		Category:  q.Get("category"),
		Status:    q.Get("status"),
		Company:   q.Get("company"),
		Tier:      models.Tier(q.Get("tier")),
		Sources:   splitList(q["sources"]),
		SortBy:    q.Get("sortBy"),
		SortOrder: models.SortOrder(q.Get("sortOrder")),
	}

	var fields []validation.FieldError
	intParam := func(name string) int {
		n, ok, err := queryInt(q, name)
		if err != nil {
			fields = append(fields, validation.FieldError{
				Field: name, Tag: "integer", Message: name + " must be an integer",
			})
		}
		if !ok {
			return 0
		}
		if n < 0 {
			fields = append(fields, validation.FieldError{
				Field: name, Tag: "gte", Param: "0", Message: name + " must be greater than or equal to 0",
			})
		}
		return n
	}

	f.Limit = intParam("limit")
	f.Offset = intParam("offset")
	if page := intParam("page"); page > 1 && !q.Has("offset") && f.Limit > 0 {
		f.Offset = (page - 1) * f.Limit
	}
	if len(fields) > 0 {
		return f, &validation.RequestValidationError{Fields: fields}
	}

	f = f.Normalize()
	if err := validation.ValidateStruct(&f); err != nil {
		return f, err
	}
	return f, nil
}

func queryInt(q url.Values, name string) (int, bool, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// breakerStateRequest is the body of PUT /breakers/{name}/state.
type breakerStateRequest struct {
	State string `json:"state" validate:"required,oneof=closed open half-open half_open"`
}
