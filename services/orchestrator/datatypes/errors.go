// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by lookups that found no matching entity.
var ErrNotFound = errors.New("not found")

// =============================================================================
// Error Types
// =============================================================================

// InvalidDateError reports a malformed as-of date, or one that lies further
// before the earliest known Expression than the configured horizon.
// Handlers map it to HTTP 400.
type InvalidDateError struct {
	Input  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q: %s", e.Input, e.Reason)
}

// RetrievalUnavailableError reports that the store could not be reached
// after retries. Handlers map it to HTTP 503.
type RetrievalUnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetrievalUnavailableError) Error() string {
	return fmt.Sprintf("retrieval unavailable: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap returns the last underlying store error.
func (e *RetrievalUnavailableError) Unwrap() error {
	return e.Err
}

// GenerationUnavailableError reports that the generation backend failed
// after its retry budget. Handlers map it to HTTP 503.
type GenerationUnavailableError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *GenerationUnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying generation error.
func (e *GenerationUnavailableError) Unwrap() error {
	return e.Err
}

// UngroundedAnswerError reports that the draft still failed citation
// validation after the corrective retry. Handlers map it to HTTP 502.
type UngroundedAnswerError struct {
	ForeignIDs        []string
	UncitedParagraphs int
}

// Error implements the error interface.
func (e *UngroundedAnswerError) Error() string {
	return fmt.Sprintf("ungrounded answer: %d foreign citations, %d uncited paragraphs",
		len(e.ForeignIDs), e.UncitedParagraphs)
}

// =============================================================================
// Type Checks
// =============================================================================

// IsInvalidDate reports whether err wraps an *InvalidDateError.
func IsInvalidDate(err error) bool {
	var target *InvalidDateError
	return errors.As(err, &target)
}

// IsRetrievalUnavailable reports whether err wraps a *RetrievalUnavailableError.
func IsRetrievalUnavailable(err error) bool {
	var target *RetrievalUnavailableError
	return errors.As(err, &target)
}

// IsGenerationUnavailable reports whether err wraps a *GenerationUnavailableError.
func IsGenerationUnavailable(err error) bool {
	var target *GenerationUnavailableError
	return errors.As(err, &target)
}

// IsUngroundedAnswer reports whether err wraps an *UngroundedAnswerError.
func IsUngroundedAnswer(err error) bool {
	var target *UngroundedAnswerError
	return errors.As(err, &target)
}
