// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lexgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWith_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadWith("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "hash", cfg.Embeddings.Provider)
	assert.Equal(t, cfg.Embeddings.Dimensions, cfg.Retrieval.Dimensions)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Nil(t, cfg.ServiceToken)
}

func TestLoadWith_ExplicitMissingFile(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)
}

func TestLoadWith_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
store:
  backend: weaviate
  weaviate:
    url: http://weaviate:8080
  retry:
    max_attempts: 4
    initial_delay: 250ms
embeddings:
  provider: http
  url: http://embedder:8000/batch_embed
  dimensions: 768
answer:
  generation_timeout: 30s
rate_limit:
  requests_per_minute: 120
`)
	cfg, err := LoadWith(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, StoreWeaviate, cfg.Store.Backend)
	assert.Equal(t, 768, cfg.Retrieval.Dimensions)
	assert.Equal(t, 30*time.Second, cfg.Answer.GenerationTimeout)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)

	policy := cfg.Store.Retry.Policy()
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, policy.InitialDelay)
}

func TestLoadWith_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "server:\n  adress: \":9000\"\n")
	_, err := LoadWith(path, env(nil))
	assert.Error(t, err)
}

func TestLoadWith_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "llm:\n  backend: ollama\n")
	cfg, err := LoadWith(path, env(map[string]string{
		"LEX_LLM_BACKEND":             "openai",
		"OPENAI_API_KEY":              "sk-test",
		"LEX_EMBEDDINGS_DIMENSIONS":   "1536",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
		"LEX_RATE_LIMIT_ENABLED":      "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)
	assert.Equal(t, 1536, cfg.Retrieval.Dimensions)
	assert.Equal(t, "otlp", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadWith_ServiceTokenSealed(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadWith("", env(map[string]string{"LEX_SERVICE_TOKEN": "  s3cret  "}))
	require.NoError(t, err)
	require.NotNil(t, cfg.ServiceToken)

	buf, err := cfg.ServiceToken.Open()
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, "s3cret", string(buf.Bytes()))
}

func TestLoadWith_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"unknown backend", "store:\n  backend: sqlite\n", nil},
		{"postgres without dsn", "store:\n  backend: postgres\n", nil},
		{"weaviate without url", "store:\n  backend: weaviate\n", nil},
		{"dimension mismatch", "embeddings:\n  dimensions: 768\nretrieval:\n  dimensions: 384\n", nil},
		{"bad log level", "logging:\n  level: loud\n", nil},
		{"bad env int", "", map[string]string{"LEX_EMBEDDINGS_DIMENSIONS": "many"}},
		{"bad llm backend", "llm:\n  backend: anthropic\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := LoadWith(path, env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoggingConfig_Logger(t *testing.T) {
	lc := LoggingConfig{Level: "debug", JSON: true, Dir: "/tmp/logs"}.Logger("lexgraph")
	assert.Equal(t, "lexgraph", lc.Service)
	assert.True(t, lc.JSON)
	assert.Equal(t, "debug", lc.Level.String())
}
