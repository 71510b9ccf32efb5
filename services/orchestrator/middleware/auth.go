// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the answer service.
//
// This package contains middleware for authentication, request ids,
// per-client rate limiting and HTTP metrics.
//
// # Authentication Flow
//
// The auth middleware reads the service token from "X-Service-Token" or an
// "Authorization: Bearer" header, compares it in constant time against the
// configured token held in a memguard enclave, and stores the resulting
// Principal in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	ServiceTokenAuth
//	   │
//	   ├─► Extract token from X-Service-Token or "Authorization: Bearer <token>"
//	   │
//	   ├─► subtle.ConstantTimeCompare against the sealed token
//	   │
//	   └─► Store Principal in context
//	           │
//	           ▼
//	       Handler (retrieves via GetPrincipal)
//
// # Open Behavior
//
// When no token is configured, every request is admitted as "anonymous".
// This keeps the CLI and local development free of credentials.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// principalKey is the context key for storing the Principal.
const principalKey = "aleutian_lex_principal"

// ServiceTokenHeader carries the shared service token.
const ServiceTokenHeader = "X-Service-Token"

// Token types recorded on a Principal.
const (
	TokenTypeService  = "service"
	TokenTypeDisabled = "disabled"
)

// Principal identifies the caller of a request.
type Principal struct {
	Subject   string `json:"subject"`
	TokenType string `json:"token_type"`
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetPrincipal stores the authenticated caller in the Gin context.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal retrieves the authenticated caller from the Gin context.
//
// # Outputs
//
//   - *Principal: the caller, or nil if auth middleware did not run.
//
// # Examples
//
//	func (h *handler) HandleRequest(c *gin.Context) {
//	    p := middleware.GetPrincipal(c)
//	    if p == nil {
//	        c.JSON(401, gin.H{"error": "not authenticated"})
//	        return
//	    }
//	}
func GetPrincipal(c *gin.Context) *Principal {
	if v, exists := c.Get(principalKey); exists {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// ServiceTokenAuth creates a Gin middleware that authenticates requests
// with a shared service token.
//
// # Description
//
// A nil enclave disables authentication: requests are admitted as
// "anonymous". Otherwise the presented token must match the sealed one.
// The enclave is opened per request and the plaintext destroyed before
// the handler runs.
//
// # Inputs
//
//   - token: memguard enclave holding the expected token, or nil.
//
// # Outputs
//
//   - gin.HandlerFunc: middleware aborting with 401 on a missing or wrong
//     token.
//
// # Thread Safety
//
// Thread-safe. Enclaves can be opened concurrently.
func ServiceTokenAuth(token *memguard.Enclave) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == nil {
			SetPrincipal(c, &Principal{Subject: "anonymous", TokenType: TokenTypeDisabled})
			c.Next()
			return
		}

		presented := strings.TrimSpace(c.GetHeader(ServiceTokenHeader))
		if presented == "" {
			presented = extractBearerToken(c)
		}
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_service_token"})
			return
		}

		ok, err := matchesSealed(token, presented)
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "Failed to open service token enclave", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_service_token"})
			return
		}

		SetPrincipal(c, &Principal{Subject: "service", TokenType: TokenTypeService})
		c.Next()
	}
}

// matchesSealed compares presented with the enclave contents in constant
// time.
func matchesSealed(token *memguard.Enclave, presented string) (bool, error) {
	buf, err := token.Open()
	if err != nil {
		return false, err
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(presented)) == 1, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// Parses "Bearer <token>"; the scheme is case-insensitive per RFC 7235.
// Returns empty string if the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
