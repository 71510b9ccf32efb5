// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps the text generation backends behind one interface.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Backend names accepted by New.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
	BackendGemini = "gemini"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// SystemPrompt replaces the backend's default system instruction.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Float32 returns a pointer to v, for GenerationParams fields.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams fields.
func Int(v int) *int { return &v }

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend string        `yaml:"backend" validate:"required,oneof=openai ollama gemini"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// New creates the client named by cfg.Backend.
func New(ctx context.Context, cfg Config) (LLMClient, error) {
	switch cfg.Backend {
	case BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendOllama:
		return NewOllamaClient(cfg)
	case BackendGemini:
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

// resolveAPIKey returns the first non-empty of the configured key, the
// environment variable and the secret file.
func resolveAPIKey(configured, envVar, secretPath string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	if secretPath != "" {
		if data, err := os.ReadFile(secretPath); err == nil {
			if key := strings.TrimSpace(string(data)); key != "" {
				slog.Info("Read API key from secret file", "path", secretPath)
				return key, nil
			}
		}
	}
	return "", fmt.Errorf("%s environment variable not set", envVar)
}
