// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval ranks scoped paragraphs for a question.
//
// Retrieval is vector-first: the store returns oversample × top_k nearest
// paragraphs restricted to the scoped Expressions, the ScopeFilter removes
// anything outside the scope, and the survivors are ranked by
//
//	score desc, authority_level desc, paragraph_id asc
//
// then truncated to top_k. When enabled and the store supports it, a
// keyword fallback tops up short result sets with score-0 matches.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianLex/services/embeddings"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var retrievalTracer = otel.Tracer("aleutian.lex.retrieval")

// DefaultOversample is the candidate multiplier applied to top_k.
const DefaultOversample = 4

// Config tunes the retriever.
type Config struct {
	Oversample      int  `yaml:"oversample" validate:"gte=0,lte=20"`
	Dimensions      int  `yaml:"dimensions" validate:"gte=0"`
	KeywordFallback bool `yaml:"keyword_fallback"`
}

// DimensionMismatchError reports a query vector of the wrong size.
type DimensionMismatchError struct {
	Want, Got int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index expects %d, got %d", e.Want, e.Got)
}

// Retriever implements hybrid retrieval over a Store. It holds no request
// state and is safe for concurrent use.
type Retriever struct {
	store    store.Store
	embedder embeddings.Embedder
	retry    store.RetryPolicy
	cfg      Config
	filter   ScopeFilter

	onDropped func(n int)
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithRetryPolicy sets the store retry policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(r *Retriever) { r.retry = p }
}

// WithDropHook is called with the number of candidates removed by the
// scope filter on each query.
func WithDropHook(fn func(n int)) Option {
	return func(r *Retriever) { r.onDropped = fn }
}

// NewRetriever creates a Retriever.
func NewRetriever(s store.Store, e embeddings.Embedder, cfg Config, opts ...Option) *Retriever {
	if cfg.Oversample <= 0 {
		cfg.Oversample = DefaultOversample
	}
	r := &Retriever{store: s, embedder: e, retry: store.DefaultRetryPolicy(), cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Embed computes the query embedding and checks its dimension. Exposed so
// callers can embed concurrently with other work and pass the vector in
// RetrievalQuery.Embedding.
func (r *Retriever) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if r.cfg.Dimensions > 0 && len(vec) != r.cfg.Dimensions {
		return nil, &DimensionMismatchError{Want: r.cfg.Dimensions, Got: len(vec)}
	}
	return vec, nil
}

// Retrieve returns at most q.TopK evidence items from the scoped Expressions.
//
// # Description
//
// An empty scope returns an empty set without touching the store. Fewer
// than TopK results is not an error. Store failures surface as
// *datatypes.RetrievalUnavailableError after retries; a partial result is
// never returned.
func (r *Retriever) Retrieve(ctx context.Context, q datatypes.RetrievalQuery, scope datatypes.ScopedContext) (datatypes.EvidenceSet, error) {
	ctx, span := retrievalTracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	topK := q.TopK
	if topK <= 0 {
		topK = datatypes.DefaultTopK
	}
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.Int("scope_size", len(scope.Works)),
	)

	if scope.Empty() {
		span.SetAttributes(attribute.Bool("empty_scope", true))
		return datatypes.EvidenceSet{}, nil
	}

	vec := q.Embedding
	if vec == nil {
		var err error
		if vec, err = r.Embed(ctx, q.Text); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return datatypes.EvidenceSet{}, err
		}
	} else if r.cfg.Dimensions > 0 && len(vec) != r.cfg.Dimensions {
		err := &DimensionMismatchError{Want: r.cfg.Dimensions, Got: len(vec)}
		span.RecordError(err)
		return datatypes.EvidenceSet{}, err
	}

	exprIDs := scope.ExpressionIDs()
	limit := topK * r.cfg.Oversample
	candidates, err := store.Do(ctx, r.retry, "similarity_search", func(ctx context.Context) ([]datatypes.Candidate, error) {
		return r.store.SimilaritySearch(ctx, vec, limit, exprIDs)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "similarity search failed")
		return datatypes.EvidenceSet{}, err
	}

	items, dropped := r.filter.Apply(ctx, scope, candidates)
	items = dedupe(items)

	keywordAdded := 0
	if r.cfg.KeywordFallback && len(items) < topK {
		if ks, ok := r.store.(store.KeywordSearcher); ok {
			hits, err := store.Do(ctx, r.retry, "keyword_search", func(ctx context.Context) ([]datatypes.Candidate, error) {
				return ks.KeywordSearch(ctx, q.Text, topK, exprIDs)
			})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "keyword search failed")
				return datatypes.EvidenceSet{}, err
			}
			extra, extraDropped := r.filter.Apply(ctx, scope, hits)
			dropped += extraDropped
			before := len(items)
			items = dedupe(append(items, extra...))
			keywordAdded = len(items) - before
		}
	}

	if r.onDropped != nil && dropped > 0 {
		r.onDropped(dropped)
	}

	Rank(items)
	if len(items) > topK {
		items = items[:topK]
	}

	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("dropped", dropped),
		attribute.Int("keyword_added", keywordAdded),
		attribute.Int("evidence", len(items)),
	)
	return datatypes.EvidenceSet{Items: items}, nil
}

// Rank sorts evidence by score desc, authority_level desc, paragraph_id asc.
func Rank(items []datatypes.Evidence) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AuthorityLevel != b.AuthorityLevel {
			return a.AuthorityLevel > b.AuthorityLevel
		}
		return a.ParagraphID < b.ParagraphID
	})
}

// dedupe keeps the highest-scoring item per paragraph id, preserving first
// occurrence order.
func dedupe(items []datatypes.Evidence) []datatypes.Evidence {
	index := make(map[string]int, len(items))
	out := items[:0:0]
	for _, it := range items {
		if i, ok := index[it.ParagraphID]; ok {
			if it.Score > out[i].Score {
				out[i] = it
			}
			continue
		}
		index[it.ParagraphID] = len(out)
		out = append(out, it)
	}
	return out
}
