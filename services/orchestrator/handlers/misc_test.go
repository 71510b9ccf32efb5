// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for miscellaneous handlers

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Health Check Tests
// =============================================================================

func getStatus(t *testing.T, path string, h gin.HandlerFunc) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	router := gin.New()
	router.GET(path, h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthCheck(t *testing.T) {
	w, body := getStatus(t, "/health", HealthCheck)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

// =============================================================================
// ReadinessCheck Tests
// =============================================================================

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestReadinessCheck(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
	}{
		{"store up", nil, http.StatusOK, "ready"},
		{"store down", errors.New("dial tcp: connection refused"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := getStatus(t, "/ready", ReadinessCheck(stubPinger{err: tt.err}))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}
