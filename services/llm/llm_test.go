// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("call: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"openai 500 wrapped", fmt.Errorf("OpenAI API call failed: %w", &openai.APIError{HTTPStatusCode: 503}), true},
		{"openai 400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"openai request 408", &openai.RequestError{HTTPStatusCode: 408, Err: errors.New("timeout")}, true},
		{"google 502", &googleapi.Error{Code: 502}, true},
		{"google 403", &googleapi.Error{Code: 403}, false},
		{"status 504", &StatusError{StatusCode: 504}, true},
		{"status 401", &StatusError{StatusCode: 401}, false},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"plain", errors.New("bad prompt"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestDefaultPrompts(t *testing.T) {
	p, err := DefaultPrompts()
	require.NoError(t, err)
	assert.Contains(t, p.AnswerSystem, "Insufficient information from available sources.")
	assert.Contains(t, p.AnswerUser, "{{evidence}}")
	assert.Contains(t, p.AnswerUser, "{{question}}")
	assert.Contains(t, p.ClassifySystem, "advisory")
	assert.Contains(t, p.ClassifyUser, "{{question}}")
}

func TestLoadPrompts_MissingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.md")
	require.NoError(t, os.WriteFile(path, []byte("## answer_system\n\n```\nsys\n```\n"), 0o600))

	_, err := LoadPrompts(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer_user")
}

func TestLoadPrompts_MissingFile(t *testing.T) {
	_, err := LoadPrompts(filepath.Join(t.TempDir(), "nope.md"))
	assert.Error(t, err)
}

func TestParsePromptSections(t *testing.T) {
	content := "# Title\n\n## one\n\ntext\n```\nfirst\n  indented\n```\n\n## two\n```\nsecond\n```\n```\nignored\n```\n"
	sections := parsePromptSections(content)
	assert.Equal(t, "first\n  indented", sections["one"])
	assert.Equal(t, "second", sections["two"])
}

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Q: {{question}} as of {{as_of_date}}", map[string]string{
		"question":   "What is {{as_of_date}}?",
		"as_of_date": "2025-01-01",
	})
	assert.Equal(t, "Q: What is {{as_of_date}}? as of 2025-01-01", out)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "anthropic"})
	assert.Error(t, err)
}

func TestNewOpenAIClient_UsesConfigKey(t *testing.T) {
	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: "http://localhost:9999/v1"})
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, c.model)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewGeminiClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewOllamaClient_RequiresURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	_, err := NewOllamaClient(Config{})
	assert.Error(t, err)
}

func TestResolveAPIKey_Precedence(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(secret, []byte("from-file\n"), 0o600))

	t.Setenv("LEX_TEST_KEY", "from-env")
	key, err := resolveAPIKey("from-config", "LEX_TEST_KEY", secret)
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	key, err = resolveAPIKey("", "LEX_TEST_KEY", secret)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)

	t.Setenv("LEX_TEST_KEY", "")
	key, err = resolveAPIKey("", "LEX_TEST_KEY", secret)
	require.NoError(t, err)
	assert.Equal(t, "from-file", key)

	_, err = resolveAPIKey("", "LEX_TEST_KEY", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "LEX_TEST_KEY")
}

func TestOpenAIClient_Generate(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Answer [P1]."},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "m"})
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), "question", GenerationParams{
		SystemPrompt: "cite paragraphs",
		Temperature:  Float32(0),
		Stop:         []string{"###"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Answer [P1].", out)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "cite paragraphs", got.Messages[0].Content)
	assert.Equal(t, "question", got.Messages[1].Content)
	assert.Equal(t, []string{"###"}, got.Stop)
}

func TestOpenAIClient_GenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "q", GenerationParams{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
