// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embeddings provides query embedders for similarity search.
//
// The embedding model is external. This package only adapts providers to a
// single interface:
//
//   - HTTPEmbedder: the Aleutian embeddings service (/batch_embed)
//   - OpenAIEmbedder: OpenAI-compatible /embeddings endpoints
//   - HashEmbedder: deterministic token hashing for development and tests
//   - CachedEmbedder: badger-backed cache around any of the above
//
// The vector dimension must match the store's index. The retriever checks
// it on every query.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is returned when asked to embed blank input.
var ErrEmptyText = errors.New("embeddings: text is empty")

// Embedder converts text into a dense vector.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model identifies the model; it keys the embedding cache.
	Model() string
}

// Config selects and configures an Embedder.
type Config struct {
	Provider   string `yaml:"provider" validate:"oneof=http openai hash"`
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions" validate:"gt=0"`
	APIKey     string `yaml:"-"`
	BaseURL    string `yaml:"base_url"`
	CacheDir   string `yaml:"cache_dir"`
	CacheInMem bool   `yaml:"cache_in_memory"`
}

// New builds the Embedder named by cfg.Provider. Callers wrap it with
// NewCachedEmbedder when a cache is configured.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("embeddings: http provider requires url")
		}
		return NewHTTPEmbedder(cfg.URL, cfg.Model), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "hash", "":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("embeddings: unknown provider %q", cfg.Provider)
	}
}
