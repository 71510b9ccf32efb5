// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration.
//
// # Sources
//
// Later sources override earlier ones:
//
//  1. Default()
//  2. the YAML file (DefaultPath when none is given; optional in that case)
//  3. a .env file in the working directory, if present
//  4. LEX_* environment variables and the provider-standard keys
//     OPENAI_API_KEY, GEMINI_API_KEY, OTEL_EXPORTER_OTLP_ENDPOINT
//
// Secrets never come from the YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when Load is called with an empty path.
const DefaultPath = "lexgraph.yaml"

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

var validate = validator.New()

// Load reads the configuration from path and the process environment.
//
// An explicit path must exist. With an empty path, DefaultPath is used if
// it exists and skipped otherwise.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an injectable environment and no .env handling.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	token, err := applyEnv(cfg, lookup)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if token != "" {
		cfg.ServiceToken = memguard.NewEnclave([]byte(token))
	}
	return cfg, nil
}

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch c.Store.Backend {
	case StoreMemory:
		if c.Store.Fixture == "" {
			return errors.New("invalid configuration: store.fixture is required for the memory backend")
		}
	case StoreWeaviate:
		if c.Store.Weaviate.URL == "" {
			return errors.New("invalid configuration: store.weaviate.url is required")
		}
	case StoreNeo4j:
		if c.Store.Neo4j.URI == "" {
			return errors.New("invalid configuration: store.neo4j.uri is required")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("invalid configuration: LEX_POSTGRES_DSN is required for the postgres backend")
		}
	}
	if c.Retrieval.Dimensions != c.Embeddings.Dimensions {
		return fmt.Errorf("invalid configuration: retrieval.dimensions %d does not match embeddings.dimensions %d",
			c.Retrieval.Dimensions, c.Embeddings.Dimensions)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyDefaults fills zero values left by a partial YAML file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = d.Embeddings.Provider
	}
	if c.Embeddings.Dimensions <= 0 {
		c.Embeddings.Dimensions = d.Embeddings.Dimensions
	}
	if c.Retrieval.Dimensions == 0 {
		c.Retrieval.Dimensions = c.Embeddings.Dimensions
	}
	if c.LLM.Backend == "" {
		c.LLM.Backend = d.LLM.Backend
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if c.Telemetry.TraceExporter == "" {
		c.Telemetry.TraceExporter = d.Telemetry.TraceExporter
	}
	if c.Telemetry.MetricExporter == "" {
		c.Telemetry.MetricExporter = d.Telemetry.MetricExporter
	}
}

// =============================================================================
// Environment
// =============================================================================

type envString struct {
	key string
	dst *string
}

// applyEnv overlays environment variables and returns the service token,
// which is never stored in cfg as plain text.
func applyEnv(cfg *Config, lookup LookupFunc) (string, error) {
	strs := []envString{
		{"LEX_ADDR", &cfg.Server.Addr},
		{"LEX_GIN_MODE", &cfg.Server.GinMode},
		{"LEX_STORE_BACKEND", &cfg.Store.Backend},
		{"LEX_FIXTURE", &cfg.Store.Fixture},
		{"LEX_WEAVIATE_URL", &cfg.Store.Weaviate.URL},
		{"LEX_WEAVIATE_API_KEY", &cfg.Store.Weaviate.APIKey},
		{"LEX_NEO4J_URI", &cfg.Store.Neo4j.URI},
		{"LEX_NEO4J_USERNAME", &cfg.Store.Neo4j.Username},
		{"LEX_NEO4J_PASSWORD", &cfg.Store.Neo4j.Password},
		{"LEX_NEO4J_DATABASE", &cfg.Store.Neo4j.Database},
		{"LEX_POSTGRES_DSN", &cfg.Store.Postgres.DSN},
		{"LEX_EMBEDDINGS_PROVIDER", &cfg.Embeddings.Provider},
		{"LEX_EMBEDDINGS_URL", &cfg.Embeddings.URL},
		{"LEX_EMBEDDINGS_MODEL", &cfg.Embeddings.Model},
		{"LEX_LLM_BACKEND", &cfg.LLM.Backend},
		{"LEX_LLM_MODEL", &cfg.LLM.Model},
		{"LEX_LLM_BASE_URL", &cfg.LLM.BaseURL},
		{"LEX_LOG_LEVEL", &cfg.Logging.Level},
		{"LEX_LOG_DIR", &cfg.Logging.Dir},
		{"LEX_POLICY_FILE", &cfg.Policy.File},
		{"LEX_PROMPTS_FILE", &cfg.PromptsFile},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint},
	}
	for _, e := range strs {
		if v, ok := lookup(e.key); ok && v != "" {
			*e.dst = v
		}
	}

	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" && cfg.Telemetry.TraceExporter == "none" {
		cfg.Telemetry.TraceExporter = "otlp"
	}
	if v, ok := lookup("LEX_EMBEDDINGS_DIMENSIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", fmt.Errorf("LEX_EMBEDDINGS_DIMENSIONS: %w", err)
		}
		cfg.Embeddings.Dimensions = n
		cfg.Retrieval.Dimensions = n
	}
	if v, ok := lookup("LEX_LLM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return "", fmt.Errorf("LEX_LLM_TIMEOUT: %w", err)
		}
		cfg.LLM.Timeout = d
	}
	if v, ok := lookup("LEX_RATE_LIMIT_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", fmt.Errorf("LEX_RATE_LIMIT_ENABLED: %w", err)
		}
		cfg.RateLimit.Enabled = b
	}
	if v, ok := lookup("LEX_LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", fmt.Errorf("LEX_LOG_JSON: %w", err)
		}
		cfg.Logging.JSON = b
	}

	// Provider keys.
	switch cfg.LLM.Backend {
	case "openai":
		cfg.LLM.APIKey = firstEnv(lookup, "LEX_LLM_API_KEY", "OPENAI_API_KEY")
	case "gemini":
		cfg.LLM.APIKey = firstEnv(lookup, "LEX_LLM_API_KEY", "GEMINI_API_KEY")
	}
	if cfg.Embeddings.Provider == "openai" {
		cfg.Embeddings.APIKey = firstEnv(lookup, "LEX_EMBEDDINGS_API_KEY", "OPENAI_API_KEY")
	}

	token, _ := lookup("LEX_SERVICE_TOKEN")
	return strings.TrimSpace(token), nil
}

func firstEnv(lookup LookupFunc, keys ...string) string {
	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
	}
	return ""
}
