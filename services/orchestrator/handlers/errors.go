// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// StatusClientClosedRequest is the non-standard status logged when the
// caller went away before the answer was ready.
const StatusClientClosedRequest = 499

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Generic error codes returned in the "error" field. Internal detail is
// logged, never returned.
const (
	errInvalidRequest        = "invalid_request"
	errInvalidDate           = "invalid_date"
	errNotFound              = "not_found"
	errConflict              = "conflicting_versions"
	errRetrievalUnavailable  = "retrieval_unavailable"
	errGenerationUnavailable = "generation_unavailable"
	errUngroundedAnswer      = "ungrounded_answer"
	errTimeout               = "timeout"
	errInternal              = "internal_error"
)

// ErrorStatus maps a service error onto an HTTP status and generic code.
//
//   - validation and *datatypes.InvalidDateError → 400
//   - datatypes.ErrNotFound → 404
//   - *datatypes.RetrievalUnavailableError → 503
//   - *datatypes.GenerationUnavailableError → 503
//   - *datatypes.UngroundedAnswerError → 502
//   - context.DeadlineExceeded → 504, context.Canceled → 499
func ErrorStatus(err error) (int, string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest, errInvalidRequest
	case datatypes.IsInvalidDate(err):
		return http.StatusBadRequest, errInvalidDate
	case errors.Is(err, datatypes.ErrNotFound):
		return http.StatusNotFound, errNotFound
	case errors.Is(err, temporal.ErrMultipleVersions):
		return http.StatusConflict, errConflict
	case datatypes.IsRetrievalUnavailable(err):
		return http.StatusServiceUnavailable, errRetrievalUnavailable
	case datatypes.IsGenerationUnavailable(err):
		return http.StatusServiceUnavailable, errGenerationUnavailable
	case datatypes.IsUngroundedAnswer(err):
		return http.StatusBadGateway, errUngroundedAnswer
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, errTimeout
	default:
		return http.StatusInternalServerError, errInternal
	}
}

// failedBody is a FAILED Response with the generic error code alongside.
type failedBody struct {
	*datatypes.Response
	Error string `json:"error"`
}

// abortWithError logs err and writes the mapped status. A non-nil resp
// (a FAILED answer) is returned in the body next to the error code.
func abortWithError(c *gin.Context, err error, resp *datatypes.Response) {
	code, msg := ErrorStatus(err)
	attrs := []any{"status", code, "error", err}
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "Request failed", attrs...)
	} else {
		slog.WarnContext(c.Request.Context(), "Request rejected", attrs...)
	}

	if code == StatusClientClosedRequest {
		c.AbortWithStatus(code)
		return
	}
	if resp != nil {
		c.AbortWithStatusJSON(code, failedBody{Response: resp, Error: msg})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// bindJSON decodes a bounded JSON body, answering 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(v); err != nil {
		slog.WarnContext(c.Request.Context(), "Failed to bind request JSON", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return false
	}
	return true
}
