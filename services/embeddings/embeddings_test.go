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
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder counts calls to the wrapped embedder.
type countingEmbedder struct {
	inner Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Model() string { return c.inner.Model() }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// =============================================================================
// HashEmbedder Tests
// =============================================================================

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "Crypto-asset issuers must publish a white paper")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Crypto-asset issuers must publish a white paper")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, b), 1e-6)
}

func TestHashEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "white paper obligations for crypto-asset issuers")
	near, _ := e.Embed(ctx, "Issuers of crypto-assets shall publish a crypto-asset white paper")
	far, _ := e.Embed(ctx, "Payment service providers shall apply strong customer authentication")

	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	_, err := NewHashEmbedder(8).Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHashEmbedder_DefaultDimensions(t *testing.T) {
	assert.Equal(t, "hash-blake2b-1024", NewHashEmbedder(0).Model())
}

// =============================================================================
// HTTPEmbedder Tests
// =============================================================================

func TestHTTPEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batch_embed", r.URL.Path)
		var req batchEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Texts)
		_ = json.NewEncoder(w).Encode(batchEmbedResponse{Vectors: [][]float32{{0.1, 0.2}}, Dim: 2})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL+"/embed", "")
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, "embedding-service", e.Model())
}

func TestHTTPEmbedder_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(srv.URL, "bge").Embed(context.Background(), "hello")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

// =============================================================================
// CachedEmbedder Tests
// =============================================================================

func TestCachedEmbedder_HitsCache(t *testing.T) {
	inner := &countingEmbedder{inner: NewHashEmbedder(16)}
	cached, err := NewCachedEmbedder(inner, CacheConfig{InMemory: true})
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "stablecoin reserve assets")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "stablecoin reserve assets")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())

	_, err = cached.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbedder_RequiresPath(t *testing.T) {
	_, err := NewCachedEmbedder(NewHashEmbedder(4), CacheConfig{})
	assert.Error(t, err)
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, float32(math.Pi)}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNew_Providers(t *testing.T) {
	e, err := New(Config{Provider: "hash", Dimensions: 32})
	require.NoError(t, err)
	assert.Equal(t, "hash-blake2b-32", e.Model())

	_, err = New(Config{Provider: "http"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "word2vec"})
	assert.Error(t, err)
}
