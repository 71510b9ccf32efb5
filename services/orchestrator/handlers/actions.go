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
	"net/http"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/gin-gonic/gin"
)

// Actions exposes the individual pipeline steps.
// *services.ActionService implements it.
type Actions interface {
	SearchItems(ctx context.Context, req datatypes.SearchItemsRequest) (*services.SearchItemsResponse, error)
	ResolveScope(ctx context.Context, req datatypes.ScopeRequest) (*services.ScopeResponse, error)
	ResolveTemporalScope(ctx context.Context, req datatypes.TemporalScopeRequest) (temporal.TemporalScope, error)
	GetValidVersion(ctx context.Context, req datatypes.ValidVersionRequest) (*services.ValidVersionResponse, error)
	SearchTextUnits(ctx context.Context, req datatypes.SearchTextUnitsRequest) (*services.SearchTextUnitsResponse, error)
}

// HandleSearchItems serves POST /v1/actions/search-items.
func HandleSearchItems(svc Actions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SearchItemsRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := svc.SearchItems(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleResolveScope serves POST /v1/scope.
func HandleResolveScope(svc Actions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ScopeRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := svc.ResolveScope(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleResolveTemporalScope serves POST /v1/actions/resolve-temporal-scope.
func HandleResolveTemporalScope(svc Actions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TemporalScopeRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := svc.ResolveTemporalScope(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleGetValidVersion serves POST /v1/actions/get-valid-version.
func HandleGetValidVersion(svc Actions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ValidVersionRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := svc.GetValidVersion(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleSearchTextUnits serves POST /v1/actions/search-text-units.
func HandleSearchTextUnits(svc Actions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SearchTextUnitsRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := svc.SearchTextUnits(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
