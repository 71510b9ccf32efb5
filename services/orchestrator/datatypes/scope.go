// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"sort"
	"time"
)

// ScopedWork pairs a Work with the Expression in force on the scope date.
type ScopedWork struct {
	Work       Work       `json:"work"`
	Expression Expression `json:"expression"`
}

// ScopedContext is the set of Expressions valid at AsOf, at most one per
// Work. A context with no entries is valid and means "nothing in force".
type ScopedContext struct {
	AsOf  time.Time             `json:"as_of"`
	Works map[string]ScopedWork `json:"works"`
}

// NewScopedContext returns an empty context for asOf.
func NewScopedContext(asOf time.Time) ScopedContext {
	return ScopedContext{AsOf: CivilDate(asOf), Works: make(map[string]ScopedWork)}
}

// Empty reports whether no Expression is in scope.
func (s ScopedContext) Empty() bool {
	return len(s.Works) == 0
}

// ExpressionIDs returns the in-scope expression ids in ascending order.
func (s ScopedContext) ExpressionIDs() []string {
	ids := make([]string, 0, len(s.Works))
	for _, sw := range s.Works {
		ids = append(ids, sw.Expression.ID)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the scoped entry owning expressionID.
func (s ScopedContext) Lookup(expressionID string) (ScopedWork, bool) {
	for _, sw := range s.Works {
		if sw.Expression.ID == expressionID {
			return sw, true
		}
	}
	return ScopedWork{}, false
}

// Contains reports whether expressionID is in scope.
func (s ScopedContext) Contains(expressionID string) bool {
	_, ok := s.Lookup(expressionID)
	return ok
}

// RetrievalQuery is the retriever input. Embedding may be precomputed by
// the caller; when nil the retriever embeds Text itself.
type RetrievalQuery struct {
	Text      string
	Embedding []float32
	TopK      int
}

// Retrieval modes reported on candidates.
const (
	RetrievalModeVector  = "vector"
	RetrievalModeKeyword = "keyword"
)

// Candidate is one raw similarity hit returned by a store.
type Candidate struct {
	ParagraphID     string  `json:"paragraph_id"`
	ParagraphNumber int     `json:"paragraph_number"`
	Score           float64 `json:"score"`
	ArticleID       string  `json:"article_id"`
	ArticleNumber   string  `json:"article_number"`
	ExpressionID    string  `json:"expression_id"`
	WorkID          string  `json:"work_id"`
	Text            string  `json:"text"`
	RetrievalMode   string  `json:"retrieval_mode"`
}

// Evidence is a Candidate that survived scope filtering and ranking,
// enriched with its Work for citation provenance.
type Evidence struct {
	Candidate
	WorkTitle      string `json:"work_title"`
	AuthorityLevel int    `json:"authority_level"`
}

// EvidenceSet is the ordered, de-duplicated evidence for one request.
type EvidenceSet struct {
	Items []Evidence `json:"items"`
}

// Len returns the number of evidence items.
func (e EvidenceSet) Len() int {
	return len(e.Items)
}

// Empty reports whether the set has no items.
func (e EvidenceSet) Empty() bool {
	return len(e.Items) == 0
}

// Get returns the item for paragraphID.
func (e EvidenceSet) Get(paragraphID string) (Evidence, bool) {
	for _, item := range e.Items {
		if item.ParagraphID == paragraphID {
			return item, true
		}
	}
	return Evidence{}, false
}

// Contains reports whether paragraphID is part of the set.
func (e EvidenceSet) Contains(paragraphID string) bool {
	_, ok := e.Get(paragraphID)
	return ok
}

// ParagraphIDs returns the ids in rank order.
func (e EvidenceSet) ParagraphIDs() []string {
	ids := make([]string, len(e.Items))
	for i, item := range e.Items {
		ids[i] = item.ParagraphID
	}
	return ids
}

// Texts returns the paragraph texts in rank order.
func (e EvidenceSet) Texts() []string {
	texts := make([]string, len(e.Items))
	for i, item := range e.Items {
		texts[i] = item.Text
	}
	return texts
}
