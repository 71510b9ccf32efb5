// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var generatorTracer = otel.Tracer("aleutian.lex.services.generator")

// DefaultMaxAnswerTokens bounds one generated answer.
const DefaultMaxAnswerTokens = 1024

// GenerationRequest is everything the generator may see. Evidence is the
// only source material; nothing outside it is rendered into the prompt.
type GenerationRequest struct {
	Question     string
	AsOf         string
	Jurisdiction string
	Evidence     datatypes.EvidenceSet

	// CorrectionHint is set on the corrective retry after a rejected draft.
	CorrectionHint string
}

// Generator produces an answer draft with inline citations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// PromptGenerator renders the answer templates and calls an LLMClient at
// temperature 0.
type PromptGenerator struct {
	client    llm.LLMClient
	prompts   *llm.PromptTemplates
	maxTokens int
}

// NewPromptGenerator creates a PromptGenerator. A nil prompts value uses
// the embedded defaults.
func NewPromptGenerator(client llm.LLMClient, prompts *llm.PromptTemplates, maxTokens int) (*PromptGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if prompts == nil {
		var err error
		if prompts, err = llm.DefaultPrompts(); err != nil {
			return nil, err
		}
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxAnswerTokens
	}
	return &PromptGenerator{client: client, prompts: prompts, maxTokens: maxTokens}, nil
}

// Generate renders the prompt and returns the raw draft, trimmed.
func (g *PromptGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	ctx, span := generatorTracer.Start(ctx, "generator.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("evidence", req.Evidence.Len()),
		attribute.Bool("corrective", req.CorrectionHint != ""),
	)

	prompt := g.RenderPrompt(req)
	out, err := g.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature:  llm.Float32(0),
		MaxTokens:    llm.Int(g.maxTokens),
		SystemPrompt: g.prompts.AnswerSystem,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RenderPrompt fills the answer_user template.
func (g *PromptGenerator) RenderPrompt(req GenerationRequest) string {
	jurisdiction := req.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = "EU"
	}
	correction := ""
	if req.CorrectionHint != "" {
		correction = "\n" + req.CorrectionHint + "\n"
	}
	return llm.RenderTemplate(g.prompts.AnswerUser, map[string]string{
		"jurisdiction": jurisdiction,
		"as_of_date":   req.AsOf,
		"evidence":     FormatEvidence(req.Evidence),
		"allowed_ids":  strings.Join(req.Evidence.ParagraphIDs(), ", "),
		"correction":   correction,
		"question":     req.Question,
	})
}

// FormatEvidence renders one "[paragraph_id] text" line per item, in rank
// order.
func FormatEvidence(evidence datatypes.EvidenceSet) string {
	var b strings.Builder
	for i, item := range evidence.Items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", item.ParagraphID, strings.TrimSpace(item.Text))
	}
	return b.String()
}
