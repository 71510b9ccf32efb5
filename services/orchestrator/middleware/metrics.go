// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
)

// HTTPMetrics records request counts and latency by route template.
// A nil metrics value records nothing.
func HTTPMetrics(m *observability.AnswerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTP(routeOf(c), c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
