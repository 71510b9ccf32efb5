// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the read-only contract to the temporal regulatory
// graph and the retry policy every caller applies to it.
//
// Backends live in sub-packages:
//
//   - memory: in-process arena loaded from a YAML fixture
//   - weaviate: LexWork/LexExpression/LexParagraph classes with near-vector search
//   - neo4j: Work→Expression→Article→Paragraph graph with a vector index
//   - postgres: pgvector tables queried through squirrel
//
// The service never writes to a store.
package store

import (
	"context"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
)

// Store is the temporal graph store adapter.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// ListWorks returns the Works matching filter.
	ListWorks(ctx context.Context, filter datatypes.WorkFilter) ([]datatypes.Work, error)

	// FindExpressionsForWork returns every Expression of workID in any
	// order. An unknown work yields an empty slice, not an error.
	FindExpressionsForWork(ctx context.Context, workID string) ([]datatypes.Expression, error)

	// SimilaritySearch returns up to candidateLimit paragraphs ranked by
	// cosine similarity to embedding, restricted to expressionIDs when the
	// slice is non-empty.
	SimilaritySearch(ctx context.Context, embedding []float32, candidateLimit int, expressionIDs []string) ([]datatypes.Candidate, error)

	// Ping checks connectivity for the readiness check.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close() error
}

// KeywordSearcher is implemented by stores that can fall back to a
// case-insensitive substring match when vector search returns too little.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, query string, limit int, expressionIDs []string) ([]datatypes.Candidate, error)
}

// Component kinds accepted by ComponentLocator.
const (
	KindWork       = "work"
	KindExpression = "expression"
	KindArticle    = "article"
	KindParagraph  = "paragraph"
)

// ComponentLocator maps a structural component to the Work that owns it.
// For KindWork the expression id is empty; for the other kinds it names the
// single Expression containing the component. Unknown ids wrap
// datatypes.ErrNotFound.
type ComponentLocator interface {
	LocateComponent(ctx context.Context, kind, id string) (workID, expressionID string, err error)
}
