// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the answer pipeline and its actions over gin.
package handlers

import (
	"context"
	"net/http"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var handlerTracer = otel.Tracer("aleutian.lex.handlers")

// Answerer runs the answer pipeline. *services.AnswerService implements it.
type Answerer interface {
	Answer(ctx context.Context, req datatypes.AnswerRequest) (*datatypes.Response, error)
}

// HandleAnswer serves POST /v1/answer.
//
// # Description
//
// DONE and REFUSED answers are returned with 200; a refusal is a valid
// outcome, not an error. FAILED answers are returned with the status from
// ErrorStatus and the FAILED Response in the body. Invalid input yields
// 400 with a generic error code.
func HandleAnswer(svc Answerer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleAnswer")
		defer span.End()

		var req datatypes.AnswerRequest
		if !bindJSON(c, &req) {
			return
		}
		span.SetAttributes(
			attribute.String("as_of_input", req.AsOf),
			attribute.Int("work_ids", len(req.WorkIDs)),
		)

		resp, err := svc.Answer(ctx, req)
		if err != nil {
			span.RecordError(err)
			abortWithError(c, err, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
