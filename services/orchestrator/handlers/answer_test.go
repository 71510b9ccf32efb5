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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubAnswerer struct {
	resp *datatypes.Response
	err  error
	got  datatypes.AnswerRequest
}

func (s *stubAnswerer) Answer(ctx context.Context, req datatypes.AnswerRequest) (*datatypes.Response, error) {
	s.got = req
	return s.resp, s.err
}

func postJSON(t *testing.T, h gin.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.POST(path, h)
	w := httptest.NewRecorder()
	req, err := http.NewRequest("POST", path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func failedResponse() *datatypes.Response {
	return &datatypes.Response{
		AnswerText:    datatypes.FailedMessage,
		Citations:     []datatypes.Citation{},
		ResolvedScope: datatypes.ResolvedScope{AsOfDate: "2025-01-01", ExpressionIDs: []string{"EU-MICA-2024"}},
		Status:        datatypes.StatusFailed,
		RequestID:     "req-1",
	}
}

// =============================================================================
// HandleAnswer Tests
// =============================================================================

func TestHandleAnswer_Done(t *testing.T) {
	stub := &stubAnswerer{resp: &datatypes.Response{
		AnswerText: "Uniform requirements apply [EU-MICA-1-1].",
		Citations:  []datatypes.Citation{{ParagraphID: "EU-MICA-1-1", ArticleNumber: "1", ExpressionID: "EU-MICA-2024", WorkTitle: "MiCA"}},
		Status:     datatypes.StatusDone,
	}}
	w := postJSON(t, HandleAnswer(stub), "/v1/answer",
		`{"question":"What does MiCA require?","as_of_date":"2025-01-01","work_ids":["EU-MICA"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "What does MiCA require?", stub.got.Question)
	assert.Equal(t, "2025-01-01", stub.got.AsOf)
	assert.Equal(t, []string{"EU-MICA"}, stub.got.WorkIDs)

	var resp datatypes.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.StatusDone, resp.Status)
	assert.Equal(t, "EU-MICA-1-1", resp.Citations[0].ParagraphID)
}

func TestHandleAnswer_RefusalIsOK(t *testing.T) {
	stub := &stubAnswerer{resp: &datatypes.Response{
		AnswerText:    datatypes.AdviceRefusalMessage,
		Status:        datatypes.StatusRefused,
		RefusalReason: datatypes.RefusalLegalAdvice,
	}}
	w := postJSON(t, HandleAnswer(stub), "/v1/answer", `{"question":"Should I register?"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"refusal_reason":"legal_advice"`)
}

func TestHandleAnswer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		resp     *datatypes.Response
		wantCode int
		wantErr  string
	}{
		{"invalid date", &datatypes.InvalidDateError{Input: "x", Reason: "unsupported_date_format"}, nil, http.StatusBadRequest, "invalid_date"},
		{"retrieval unavailable", &datatypes.RetrievalUnavailableError{Op: "list_works", Attempts: 3, Err: errors.New("refused")}, failedResponse(), http.StatusServiceUnavailable, "retrieval_unavailable"},
		{"generation unavailable", &datatypes.GenerationUnavailableError{Attempts: 2, Err: errors.New("503")}, failedResponse(), http.StatusServiceUnavailable, "generation_unavailable"},
		{"ungrounded", &datatypes.UngroundedAnswerError{ForeignIDs: []string{"EU-X"}}, failedResponse(), http.StatusBadGateway, "ungrounded_answer"},
		{"deadline", fmt.Errorf("answer: %w", context.DeadlineExceeded), nil, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), failedResponse(), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAnswerer{resp: tt.resp, err: tt.err}
			w := postJSON(t, HandleAnswer(stub), "/v1/answer", `{"question":"What does MiCA require?"}`)

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body["error"])
			if tt.resp != nil {
				assert.Equal(t, "FAILED", body["status"])
				assert.Equal(t, datatypes.FailedMessage, body["answer_text"])
			}
			assert.NotContains(t, w.Body.String(), "EU-X")
		})
	}
}

func TestHandleAnswer_MalformedBody(t *testing.T) {
	stub := &stubAnswerer{}
	w := postJSON(t, HandleAnswer(stub), "/v1/answer", `{"question":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
	assert.Empty(t, stub.got.Question)
}

func TestHandleAnswer_ValidationErrorIs400(t *testing.T) {
	err := datatypes.ValidateRequest(&datatypes.AnswerRequest{})
	require.Error(t, err)

	stub := &stubAnswerer{err: fmt.Errorf("invalid answer request: %w", err)}
	w := postJSON(t, HandleAnswer(stub), "/v1/answer", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestHandleAnswer_OversizedBody(t *testing.T) {
	stub := &stubAnswerer{}
	body := `{"question":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	w := postJSON(t, HandleAnswer(stub), "/v1/answer", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Action Handler Tests
// =============================================================================

type stubActions struct {
	err error
}

func (s stubActions) SearchItems(ctx context.Context, req datatypes.SearchItemsRequest) (*services.SearchItemsResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &services.SearchItemsResponse{Items: []datatypes.Item{{URN: "urn:work:EU-MICA", Kind: "work", ComponentID: "EU-MICA", Score: 3}}}, nil
}

func (s stubActions) ResolveScope(ctx context.Context, req datatypes.ScopeRequest) (*services.ScopeResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &services.ScopeResponse{ResolvedScope: datatypes.ResolvedScope{AsOfDate: "2025-01-01", ExpressionIDs: []string{"EU-MICA-2024"}}}, nil
}

func (s stubActions) ResolveTemporalScope(ctx context.Context, req datatypes.TemporalScopeRequest) (temporal.TemporalScope, error) {
	if s.err != nil {
		return temporal.TemporalScope{}, s.err
	}
	return temporal.TemporalScope{Type: temporal.ScopeInterval, Start: "2025-01-01", End: "2025-12-31"}, nil
}

func (s stubActions) GetValidVersion(ctx context.Context, req datatypes.ValidVersionRequest) (*services.ValidVersionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &services.ValidVersionResponse{ComponentID: req.ComponentID, Date: req.Date, Expression: datatypes.Expression{ID: "EU-PSD2-2018"}}, nil
}

func (s stubActions) SearchTextUnits(ctx context.Context, req datatypes.SearchTextUnitsRequest) (*services.SearchTextUnitsResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &services.SearchTextUnitsResponse{ExpressionID: req.ExpressionID, Results: []datatypes.Evidence{}}, nil
}

func TestActionHandlers(t *testing.T) {
	tests := []struct {
		name    string
		handler func(Actions) gin.HandlerFunc
		path    string
		body    string
		want    string
	}{
		{"items", HandleSearchItems, "/v1/actions/search-items", `{"query":"MiCA"}`, `"urn":"urn:work:EU-MICA"`},
		{"scope", HandleResolveScope, "/v1/scope", `{"as_of_date":"2025-01-01"}`, `"expression_ids":["EU-MICA-2024"]`},
		{"temporal scope", HandleResolveTemporalScope, "/v1/actions/resolve-temporal-scope", `{"expression":"last year"}`, `"type":"interval"`},
		{"valid version", HandleGetValidVersion, "/v1/actions/get-valid-version", `{"component_id":"EU-PSD2","date":"2019-01-01"}`, `"id":"EU-PSD2-2018"`},
		{"search", HandleSearchTextUnits, "/v1/actions/search-text-units", `{"expression_id":"EU-MICA-2024","query":"white paper"}`, `"results":[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, tt.handler(stubActions{}), tt.path, tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestActionHandlers_NotFound(t *testing.T) {
	svc := stubActions{err: fmt.Errorf("expression EU-NOPE: %w", datatypes.ErrNotFound)}
	w := postJSON(t, HandleSearchTextUnits(svc), "/v1/actions/search-text-units", `{"expression_id":"EU-NOPE","query":"x"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, w.Body.String())
}

func TestErrorStatus_CanceledIsClientClosed(t *testing.T) {
	code, _ := ErrorStatus(context.Canceled)
	assert.Equal(t, StatusClientClosedRequest, code)

	code, msg := ErrorStatus(temporal.ErrMultipleVersions)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflicting_versions", msg)
}
