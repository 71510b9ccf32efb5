// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/llm"
)

// Classifier labels a question. Labels are classification names from the
// policy, or "informational".
type Classifier interface {
	Classify(ctx context.Context, question string) (string, error)
}

// ModelClassifier asks an LLM for a single label.
type ModelClassifier struct {
	client  llm.LLMClient
	prompts *llm.PromptTemplates
}

// NewModelClassifier uses the classify_* prompt sections.
func NewModelClassifier(client llm.LLMClient, prompts *llm.PromptTemplates) *ModelClassifier {
	return &ModelClassifier{client: client, prompts: prompts}
}

// Classify returns the first word of the model reply, lowercased.
func (m *ModelClassifier) Classify(ctx context.Context, question string) (string, error) {
	prompt := llm.RenderTemplate(m.prompts.ClassifyUser, map[string]string{"question": question})
	out, err := m.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature:  llm.Float32(0),
		MaxTokens:    llm.Int(8),
		SystemPrompt: m.prompts.ClassifySystem,
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	fields := strings.Fields(strings.ToLower(out))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.Trim(fields[0], ".,:;\"'`"), nil
}
