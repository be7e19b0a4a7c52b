// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package validation wraps go-playground/validator with a shared instance,
// a "source" rule that accepts only known adapter names, and readable
// messages keyed by json field name.
//
//	if err := validation.ValidateStruct(&filter); err != nil {
//	    var verr *validation.RequestValidationError
//	    errors.As(err, &verr) // verr.Fields lists each failed rule
//	}
package validation
