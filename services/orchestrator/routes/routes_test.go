// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Helpers
// =============================================================================

type stubAnswerer struct{}

func (stubAnswerer) Answer(ctx context.Context, req datatypes.AnswerRequest) (*datatypes.Response, error) {
	return &datatypes.Response{
		AnswerText: "ok",
		Citations:  []datatypes.Citation{},
		Status:     datatypes.StatusDone,
	}, nil
}

type stubActions struct{}

func (stubActions) ResolveScope(ctx context.Context, req datatypes.ScopeRequest) (*services.ScopeResponse, error) {
	return &services.ScopeResponse{}, nil
}

func (stubActions) SearchItems(ctx context.Context, req datatypes.SearchItemsRequest) (*services.SearchItemsResponse, error) {
	return &services.SearchItemsResponse{Items: []datatypes.Item{}}, nil
}

func (stubActions) ResolveTemporalScope(ctx context.Context, req datatypes.TemporalScopeRequest) (temporal.TemporalScope, error) {
	return temporal.TemporalScope{Type: temporal.ScopeDate, Date: "2025-01-01"}, nil
}

func (stubActions) GetValidVersion(ctx context.Context, req datatypes.ValidVersionRequest) (*services.ValidVersionResponse, error) {
	return &services.ValidVersionResponse{}, nil
}

func (stubActions) SearchTextUnits(ctx context.Context, req datatypes.SearchTextUnitsRequest) (*services.SearchTextUnitsResponse, error) {
	return &services.SearchTextUnitsResponse{Results: []datatypes.Evidence{}}, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func newRouter(deps Deps) *gin.Engine {
	if deps.Answer == nil {
		deps.Answer = stubAnswerer{}
	}
	if deps.Actions == nil {
		deps.Actions = stubActions{}
	}
	if deps.Store == nil {
		deps.Store = stubPinger{}
	}
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			_, _ = w.Write([]byte("# metrics\n"))
		})
	}
	router := gin.New()
	SetupRoutes(router, deps)
	return router
}

func serve(router *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Route Registration Tests
// =============================================================================

func TestSetupRoutes_RegistersExpectedRoutes(t *testing.T) {
	router := newRouter(Deps{})

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/ready"},
		{"GET", "/metrics"},
		{"POST", "/v1/answer"},
		{"POST", "/v1/scope"},
		{"POST", "/v1/actions/search-items"},
		{"POST", "/v1/actions/resolve-temporal-scope"},
		{"POST", "/v1/actions/get-valid-version"},
		{"POST", "/v1/actions/search-text-units"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", want.method, want.path)
	}
	assert.Len(t, routes, len(expected))
}

// =============================================================================
// Route Handler Tests
// =============================================================================

func TestSetupRoutes_HealthEndpoints(t *testing.T) {
	router := newRouter(Deps{})

	w := serve(router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, "GET", "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")

	down := newRouter(Deps{Store: stubPinger{err: errors.New("connection refused")}})
	w = serve(down, "GET", "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := newRouter(Deps{})

	w := serve(router, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestSetupRoutes_RequestIDEcho(t *testing.T) {
	router := newRouter(Deps{})

	w := serve(router, "GET", "/health", "", http.Header{"X-Request-Id": {"trace-42"}})
	assert.Equal(t, "trace-42", w.Header().Get("X-Request-ID"))

	w = serve(router, "GET", "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSetupRoutes_AnswerWithoutAuth(t *testing.T) {
	router := newRouter(Deps{})

	w := serve(router, "POST", "/v1/answer", `{"question":"What does MiCA require?"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"DONE"`)
}

func TestSetupRoutes_ServiceTokenRequiredOnV1(t *testing.T) {
	router := newRouter(Deps{ServiceToken: memguard.NewEnclave([]byte("s3cret-token"))})

	tests := []struct {
		name     string
		header   http.Header
		wantCode int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", http.Header{"X-Service-Token": {"nope"}}, http.StatusUnauthorized},
		{"header", http.Header{"X-Service-Token": {"s3cret-token"}}, http.StatusOK},
		{"bearer", http.Header{"Authorization": {"Bearer s3cret-token"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, "POST", "/v1/actions/resolve-temporal-scope", `{"expression":"current"}`, tt.header)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	// Health endpoints stay open.
	w := serve(router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
