// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultHashDimensions matches the default vector index size.
const DefaultHashDimensions = 1024

var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// HashEmbedder is a deterministic bag-of-tokens embedder. Each lowercased
// token is hashed with BLAKE2b-64 into a signed bucket and the vector is
// L2-normalised. Texts sharing vocabulary get high cosine similarity, which
// is enough for local fixtures and reproducible tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder; dimensions <= 0 selects
// DefaultHashDimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Model names the embedder and its size for cache keys.
func (e *HashEmbedder) Model() string {
	return fmt.Sprintf("hash-blake2b-%d", e.dimensions)
}

// Embed never fails for non-empty input. Text without tokens yields the
// zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float64, e.dimensions)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		h, err := blake2b.New(8, nil)
		if err != nil {
			return nil, err
		}
		h.Write([]byte(tok))
		digest := h.Sum(nil)

		idx := binary.BigEndian.Uint32(digest[:4]) % uint32(e.dimensions)
		if digest[4]%2 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimensions)
	for i, v := range vec {
		if norm > 0 {
			v /= norm
		}
		out[i] = float32(v)
	}
	return out, nil
}
