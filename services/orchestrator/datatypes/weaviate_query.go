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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names of the regulatory graph.
const (
	WeaviateWorkClass       = "LexWork"
	WeaviateExpressionClass = "LexExpression"
	WeaviateParagraphClass  = "LexParagraph"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse converts Weaviate's dynamic GraphQL payload into T.
//
// # Description
//
// The client returns map[string]models.JSONObject. Round-tripping through
// JSON lets T declare the expected shape with json tags.
//
// # Limitations
//
//   - Shape mismatches produce zero values, not errors.
//   - GraphQL-level errors in resp.Errors are reported before parsing.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// =============================================================================
// Regulatory Graph Response Types
// =============================================================================

// WorkQueryResponse is the Get shape for the LexWork class.
type WorkQueryResponse struct {
	Get struct {
		LexWork []WorkResult `json:"LexWork"`
	} `json:"Get"`
}

// WorkResult is one LexWork object.
type WorkResult struct {
	WorkID         string   `json:"work_id"`
	Title          string   `json:"title"`
	Jurisdiction   string   `json:"jurisdiction"`
	AuthorityLevel int      `json:"authority_level"`
	CelexID        string   `json:"celex_id"`
	Aliases        []string `json:"aliases"`
}

// ToWork converts the result to the domain entity.
func (r WorkResult) ToWork() Work {
	return Work{
		ID:             r.WorkID,
		Title:          r.Title,
		Jurisdiction:   r.Jurisdiction,
		AuthorityLevel: r.AuthorityLevel,
		CelexID:        r.CelexID,
		Aliases:        r.Aliases,
	}
}

// ExpressionQueryResponse is the Get shape for the LexExpression class.
type ExpressionQueryResponse struct {
	Get struct {
		LexExpression []ExpressionResult `json:"LexExpression"`
	} `json:"Get"`
}

// ExpressionResult is one LexExpression object. Dates are stored as
// YYYY-MM-DD text; an empty valid_to means open-ended.
type ExpressionResult struct {
	ExpressionID string `json:"expression_id"`
	WorkID       string `json:"work_id"`
	ValidFrom    string `json:"valid_from"`
	ValidTo      string `json:"valid_to"`
	Language     string `json:"language"`
}

// ToExpression converts the result, parsing its civil dates.
func (r ExpressionResult) ToExpression() (Expression, error) {
	from, err := ParseDate(r.ValidFrom)
	if err != nil {
		return Expression{}, fmt.Errorf("expression %s: %w", r.ExpressionID, err)
	}
	expr := Expression{ID: r.ExpressionID, WorkID: r.WorkID, ValidFrom: from, Language: r.Language}
	if r.ValidTo != "" {
		to, err := ParseDate(r.ValidTo)
		if err != nil {
			return Expression{}, fmt.Errorf("expression %s: %w", r.ExpressionID, err)
		}
		expr.ValidTo = &to
	}
	return expr, nil
}

// ParagraphQueryResponse is the Get shape for the LexParagraph class.
type ParagraphQueryResponse struct {
	Get struct {
		LexParagraph []ParagraphResult `json:"LexParagraph"`
	} `json:"Get"`
}

// ParagraphResult is one LexParagraph hit with its search metadata.
type ParagraphResult struct {
	ParagraphID     string `json:"paragraph_id"`
	ParagraphNumber int    `json:"paragraph_number"`
	Text            string `json:"text"`
	ArticleID       string `json:"article_id"`
	ArticleNumber   string `json:"article_number"`
	ArticleTitle    string `json:"article_title"`
	ExpressionID    string `json:"expression_id"`
	WorkID          string `json:"work_id"`
	Additional      struct {
		Distance *float32 `json:"distance"`
		Score    string   `json:"score"`
	} `json:"_additional"`
}

// ToCandidate converts a near-vector hit. Weaviate reports cosine distance,
// so similarity is 1 - distance.
func (r ParagraphResult) ToCandidate(mode string) Candidate {
	score := 0.0
	if r.Additional.Distance != nil {
		score = 1 - float64(*r.Additional.Distance)
	}
	return Candidate{
		ParagraphID:     r.ParagraphID,
		ParagraphNumber: r.ParagraphNumber,
		Score:           score,
		ArticleID:       r.ArticleID,
		ArticleNumber:   r.ArticleNumber,
		ExpressionID:    r.ExpressionID,
		WorkID:          r.WorkID,
		Text:            r.Text,
		RetrievalMode:   mode,
	}
}
