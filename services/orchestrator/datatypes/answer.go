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
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultTopK is used when a request leaves top_k unset.
	DefaultTopK = 6

	// MaxTopK bounds top_k on every request.
	MaxTopK = 50

	// MaxQuestionBytes bounds the question size in bytes.
	MaxQuestionBytes = 8192
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var answerValidate *validator.Validate

func init() {
	answerValidate = validator.New()
	_ = answerValidate.RegisterValidation("maxbytes", validateQuestionBytes)
}

// validateQuestionBytes checks byte length, not rune count.
func validateQuestionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

// ValidateRequest runs struct validation on any request type in this package.
func ValidateRequest(v any) error {
	return answerValidate.Struct(v)
}

// =============================================================================
// Status and State
// =============================================================================

// Status is the terminal outcome reported to the caller.
type Status string

const (
	StatusDone    Status = "DONE"
	StatusRefused Status = "REFUSED"
	StatusFailed  Status = "FAILED"
)

// State is a step of the answer pipeline. DONE, REFUSED and FAILED are
// terminal.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateScopeResolved      State = "SCOPE_RESOLVED"
	StatePreGuardChecked    State = "PRE_GUARD_CHECKED"
	StateRetrieved          State = "RETRIEVED"
	StateGenerated          State = "GENERATED"
	StateCitationsValidated State = "CITATIONS_VALIDATED"
	StateDone               State = "DONE"
	StateRefused            State = "REFUSED"
	StateFailed             State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateRefused || s == StateFailed
}

// RefusalCategory is the generic reason returned with a REFUSED response.
// Detailed rule ids are logged but never returned.
type RefusalCategory string

const (
	RefusalOutOfScope           RefusalCategory = "out_of_scope"
	RefusalLegalAdvice          RefusalCategory = "legal_advice"
	RefusalNoEvidenceForDate    RefusalCategory = "no_evidence_for_date"
	RefusalNoRelevantEvidence   RefusalCategory = "no_relevant_evidence"
	RefusalInsufficientEvidence RefusalCategory = "insufficient_evidence"
	RefusalAnswerOutOfScope     RefusalCategory = "answer_out_of_scope"
)

// Message returns the caller-facing sentence for the category.
func (c RefusalCategory) Message() string {
	switch c {
	case RefusalLegalAdvice:
		return AdviceRefusalMessage
	case RefusalNoEvidenceForDate:
		return "No evidence for the requested date."
	case RefusalNoRelevantEvidence:
		return "No relevant evidence was found for this question."
	case RefusalInsufficientEvidence:
		return InsufficientInformationMessage
	default:
		return "This question is outside the scope of the regulatory corpus."
	}
}

const (
	// InsufficientInformationMessage is what the generator answers when the
	// evidence does not support an answer.
	InsufficientInformationMessage = "Insufficient information from available sources."

	// AdviceRefusalMessage is returned for advisory questions.
	AdviceRefusalMessage = "I can't provide legal or financial advice. I can summarize relevant rules with citations if you want."

	// FailedMessage is the generic answer text of a FAILED response.
	FailedMessage = "The answer could not be produced."
)

// =============================================================================
// Request and Response
// =============================================================================

// AnswerRequest is the body of POST /v1/answer.
//
// AsOf is a YYYY-MM-DD civil date. Empty or "current" answers against the
// Expressions in force today. Jurisdiction and WorkIDs narrow the Works
// considered.
type AnswerRequest struct {
	Question     string   `json:"question" validate:"required,maxbytes"`
	AsOf         string   `json:"as_of_date,omitempty"`
	TopK         int      `json:"top_k,omitempty" validate:"gte=0,lte=50"`
	Jurisdiction string   `json:"jurisdiction,omitempty" validate:"omitempty,max=16"`
	WorkIDs      []string `json:"work_ids,omitempty" validate:"omitempty,max=64,dive,required"`
}

// EnsureDefaults fills unset optional fields.
func (r *AnswerRequest) EnsureDefaults() {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
}

// Filter returns the WorkFilter implied by the request.
func (r *AnswerRequest) Filter() WorkFilter {
	return WorkFilter{WorkIDs: r.WorkIDs, Jurisdiction: r.Jurisdiction}
}

// Citation identifies one cited paragraph with its provenance.
type Citation struct {
	ParagraphID   string `json:"paragraph_id"`
	ArticleNumber string `json:"article_number"`
	ExpressionID  string `json:"expression_id"`
	WorkTitle     string `json:"work_title"`
}

// ResolvedScope reports which Expressions the answer was drawn from.
type ResolvedScope struct {
	AsOfDate      string   `json:"as_of_date"`
	ExpressionIDs []string `json:"expression_ids"`
}

// Response is the outcome of one answer request.
type Response struct {
	AnswerText    string          `json:"answer_text"`
	Citations     []Citation      `json:"citations"`
	ResolvedScope ResolvedScope   `json:"resolved_scope"`
	Status        Status          `json:"status"`
	RefusalReason RefusalCategory `json:"refusal_reason,omitempty"`
	RequestID     string          `json:"request_id"`
}

// AnswerDraft is one generator output with the citation tokens parsed out.
type AnswerDraft struct {
	Text        string
	CitedIDs    []string
	Attempt     int
	GeneratedAt time.Time
}

// =============================================================================
// Action Requests
// =============================================================================

// ScopeRequest is the body of POST /v1/scope.
type ScopeRequest struct {
	AsOf         string   `json:"as_of_date,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty" validate:"omitempty,max=16"`
	WorkIDs      []string `json:"work_ids,omitempty" validate:"omitempty,max=64,dive,required"`
}

// TemporalScopeRequest is the body of POST /v1/actions/resolve-temporal-scope.
type TemporalScopeRequest struct {
	Expression string `json:"expression" validate:"required,max=32"`
}

// ValidVersionRequest is the body of POST /v1/actions/get-valid-version.
type ValidVersionRequest struct {
	ComponentID string `json:"component_id" validate:"required,max=256"`
	Date        string `json:"date" validate:"required"`
}

// SearchTextUnitsRequest is the body of POST /v1/actions/search-text-units.
type SearchTextUnitsRequest struct {
	ExpressionID string `json:"expression_id" validate:"required,max=256"`
	Query        string `json:"query" validate:"required,maxbytes"`
	Limit        int    `json:"limit,omitempty" validate:"gte=0,lte=50"`
}

// SearchItemsRequest is the body of POST /v1/actions/search-items.
type SearchItemsRequest struct {
	Query        string `json:"query" validate:"required,max=256"`
	Jurisdiction string `json:"jurisdiction,omitempty" validate:"omitempty,max=16"`
	Limit        int    `json:"limit,omitempty" validate:"gte=0,lte=100"`
}
