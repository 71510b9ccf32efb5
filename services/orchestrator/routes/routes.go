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
	"net/http"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/observability"
	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds everything the routes are wired to.
type Deps struct {
	Answer  handlers.Answerer
	Actions handlers.Actions
	Store   handlers.Pinger
	Metrics *observability.AnswerMetrics

	// MetricsHandler serves /metrics; nil uses promhttp.Handler.
	MetricsHandler http.Handler

	// ServiceToken enables service-token auth on /v1 when non-nil.
	ServiceToken *memguard.Enclave

	// RateLimiter throttles /v1 per client when non-nil.
	RateLimiter *middleware.ClientRateLimiter
}

// SetupRoutes registers /health, /ready, /metrics and the /v1 API.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(
		middleware.RequestID(),
		middleware.AccessLog(),
		middleware.HTTPMetrics(deps.Metrics),
	)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(deps.Store))
	router.GET("/metrics", gin.WrapH(metricsHandler))

	// API version 1 group
	v1 := router.Group("/v1")
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware())
	}
	v1.Use(middleware.ServiceTokenAuth(deps.ServiceToken))
	{
		v1.POST("/answer", handlers.HandleAnswer(deps.Answer))
		v1.POST("/scope", handlers.HandleResolveScope(deps.Actions))

		actions := v1.Group("/actions")
		{
			actions.POST("/search-items", handlers.HandleSearchItems(deps.Actions))
			actions.POST("/resolve-temporal-scope", handlers.HandleResolveTemporalScope(deps.Actions))
			actions.POST("/get-valid-version", handlers.HandleGetValidVersion(deps.Actions))
			actions.POST("/search-text-units", handlers.HandleSearchTextUnits(deps.Actions))
		}
	}
}
