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
	"time"

	"github.com/AleutianAI/AleutianLex/pkg/logging"
	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/embeddings"
	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/neo4j"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/postgres"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/weaviate"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/awnumar/memguard"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreWeaviate = "weaviate"
	StoreNeo4j    = "neo4j"
	StorePostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Store      StoreConfig                `yaml:"store"`
	Embeddings embeddings.Config          `yaml:"embeddings"`
	Cache      CacheConfig                `yaml:"embedding_cache"`
	LLM        llm.Config                 `yaml:"llm"`
	Retrieval  retrieval.Config           `yaml:"retrieval"`
	Temporal   temporal.Config            `yaml:"temporal"`
	Answer     services.AnswerConfig      `yaml:"answer"`
	RateLimit  middleware.RateLimitConfig `yaml:"rate_limit"`
	Telemetry  telemetry.Config           `yaml:"telemetry"`
	Logging    LoggingConfig              `yaml:"logging"`
	Policy     PolicyConfig               `yaml:"policy"`

	// PromptsFile overrides the embedded prompt templates.
	PromptsFile string `yaml:"prompts_file"`

	// ServiceToken is sealed from LEX_SERVICE_TOKEN after load. Nil
	// disables authentication.
	ServiceToken *memguard.Enclave `yaml:"-"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	GinMode         string        `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

// StoreConfig selects and configures the graph store.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory weaviate neo4j postgres"`

	// Fixture is the arena file for the memory backend.
	Fixture string `yaml:"fixture"`

	Weaviate weaviate.Config `yaml:"weaviate"`
	Neo4j    neo4j.Config    `yaml:"neo4j"`
	Postgres postgres.Config `yaml:"postgres"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors store.RetryPolicy in YAML.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=0,lte=10"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// Policy converts the YAML form to a store.RetryPolicy.
func (r RetryConfig) Policy() store.RetryPolicy {
	return store.RetryPolicy{
		MaxAttempts:    r.MaxAttempts,
		InitialDelay:   r.InitialDelay,
		AttemptTimeout: r.AttemptTimeout,
	}
}

// CacheConfig configures the badger embedding cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	InMemory bool          `yaml:"in_memory"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig is the YAML form of logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Logger converts the YAML form for the named service.
func (l LoggingConfig) Logger(service string) logging.Config {
	level, _ := logging.ParseLevel(l.Level)
	return logging.Config{
		Level:   level,
		JSON:    l.JSON,
		Service: service,
		LogDir:  l.Dir,
	}
}

// PolicyConfig configures the refusal guardrail.
type PolicyConfig struct {
	// File overrides the embedded policy YAML.
	File string `yaml:"file"`

	// ModelClassifier asks the generation backend to label questions the
	// pattern rules leave undecided.
	ModelClassifier bool `yaml:"model_classifier"`

	// MinFaithfulness overrides the policy file's faithfulness threshold
	// when positive.
	MinFaithfulness float64 `yaml:"min_faithfulness" validate:"gte=0,lte=1"`
}

// Default returns a configuration that runs fully offline: the memory
// store over the bundled fixture, hash embeddings and a local Ollama.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":12210",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			GinMode:         "release",
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Fixture: "fixtures/arena.yaml",
			Neo4j:   neo4j.Config{URI: "neo4j://localhost:7687", Username: "neo4j", VectorIndex: neo4j.DefaultVectorIndex},
			Retry: RetryConfig{
				MaxAttempts:    store.DefaultMaxAttempts,
				InitialDelay:   store.DefaultInitialDelay,
				AttemptTimeout: store.DefaultAttemptTimeout,
			},
		},
		Embeddings: embeddings.Config{
			Provider:   "hash",
			Dimensions: 384,
		},
		Cache: CacheConfig{
			Path: "~/.aleutian/lexgraph/embeddings",
			TTL:  30 * 24 * time.Hour,
		},
		LLM: llm.Config{
			Backend: llm.BackendOllama,
			BaseURL: "http://localhost:11434",
			Timeout: services.DefaultGenerationTimeout,
		},
		Retrieval: retrieval.Config{
			Oversample:      retrieval.DefaultOversample,
			KeywordFallback: true,
		},
		Temporal: temporal.Config{
			HorizonYears:   temporal.DefaultHorizonYears,
			MaxConcurrency: temporal.DefaultMaxConcurrency,
		},
		Answer: services.AnswerConfig{
			GenerationAttempts: services.DefaultGenerationAttempts,
			GenerationTimeout:  services.DefaultGenerationTimeout,
			BackoffBase:        services.DefaultBackoffBase,
			BackoffMax:         services.DefaultBackoffMax,
		},
		RateLimit: middleware.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: middleware.DefaultRequestsPerMinute,
			Burst:             middleware.DefaultBurst,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}
