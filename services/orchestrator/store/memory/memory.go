// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory implements store.Store over an in-process arena.
//
// Entities are held in maps keyed by id and reference their parents by id.
// The arena is immutable after Load, so reads need no locking. It backs
// local development, the fixtures CLI, and the service tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
)

// Compile-time interface checks.
var (
	_ store.Store            = (*Store)(nil)
	_ store.KeywordSearcher  = (*Store)(nil)
	_ store.ComponentLocator = (*Store)(nil)
	_ store.ItemSearcher     = (*Store)(nil)
)

// Store is the arena-backed store.
type Store struct {
	works          map[string]datatypes.Work
	expressions    map[string]datatypes.Expression
	manifestations map[string]datatypes.Manifestation
	articles       map[string]datatypes.Article
	paragraphs     map[string]datatypes.Paragraph

	exprByWork  map[string][]string
	paragraphID []string // sorted, for deterministic scans
}

// Stats summarises arena contents.
type Stats struct {
	Works          int `json:"works"`
	Expressions    int `json:"expressions"`
	Manifestations int `json:"manifestations"`
	Articles       int `json:"articles"`
	Paragraphs     int `json:"paragraphs"`
	Embedded       int `json:"embedded"`
}

// New builds a Store from an arena, checking id uniqueness and foreign keys.
func New(a *Arena) (*Store, error) {
	s := &Store{
		works:          make(map[string]datatypes.Work),
		expressions:    make(map[string]datatypes.Expression),
		manifestations: make(map[string]datatypes.Manifestation),
		articles:       make(map[string]datatypes.Article),
		paragraphs:     make(map[string]datatypes.Paragraph),
		exprByWork:     make(map[string][]string),
	}

	for _, w := range a.Works {
		if _, dup := s.works[w.ID]; dup {
			return nil, fmt.Errorf("duplicate work id %q", w.ID)
		}
		s.works[w.ID] = w
	}
	for _, e := range a.Expressions {
		if _, dup := s.expressions[e.ID]; dup {
			return nil, fmt.Errorf("duplicate expression id %q", e.ID)
		}
		if _, ok := s.works[e.WorkID]; !ok {
			return nil, fmt.Errorf("expression %q references unknown work %q", e.ID, e.WorkID)
		}
		s.expressions[e.ID] = e
		s.exprByWork[e.WorkID] = append(s.exprByWork[e.WorkID], e.ID)
	}
	for _, m := range a.Manifestations {
		if _, ok := s.expressions[m.ExpressionID]; !ok {
			return nil, fmt.Errorf("manifestation %q references unknown expression %q", m.ID, m.ExpressionID)
		}
		s.manifestations[m.ID] = m
	}
	for _, ar := range a.Articles {
		if _, dup := s.articles[ar.ID]; dup {
			return nil, fmt.Errorf("duplicate article id %q", ar.ID)
		}
		if _, ok := s.expressions[ar.ExpressionID]; !ok {
			return nil, fmt.Errorf("article %q references unknown expression %q", ar.ID, ar.ExpressionID)
		}
		s.articles[ar.ID] = ar
	}
	for _, p := range a.Paragraphs {
		if _, dup := s.paragraphs[p.ID]; dup {
			return nil, fmt.Errorf("duplicate paragraph id %q", p.ID)
		}
		if _, ok := s.articles[p.ArticleID]; !ok {
			return nil, fmt.Errorf("paragraph %q references unknown article %q", p.ID, p.ArticleID)
		}
		s.paragraphs[p.ID] = p
		s.paragraphID = append(s.paragraphID, p.ID)
	}
	sort.Strings(s.paragraphID)
	return s, nil
}

// Stats returns entity counts.
func (s *Store) Stats() Stats {
	st := Stats{
		Works:          len(s.works),
		Expressions:    len(s.expressions),
		Manifestations: len(s.manifestations),
		Articles:       len(s.articles),
		Paragraphs:     len(s.paragraphs),
	}
	for _, p := range s.paragraphs {
		if len(p.Embedding) > 0 {
			st.Embedded++
		}
	}
	return st
}

// ListWorks returns matching Works ordered by id.
func (s *Store) ListWorks(ctx context.Context, filter datatypes.WorkFilter) ([]datatypes.Work, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []datatypes.Work
	for _, w := range s.works {
		if filter.Matches(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindExpressionsForWork returns the Expressions of workID ordered by
// valid_from.
func (s *Store) FindExpressionsForWork(ctx context.Context, workID string) ([]datatypes.Expression, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := s.exprByWork[workID]
	out := make([]datatypes.Expression, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.expressions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

// SimilaritySearch scores every embedded paragraph in the allowed
// expressions by cosine similarity.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, candidateLimit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	if candidateLimit <= 0 {
		return nil, nil
	}
	allowed := toSet(expressionIDs)

	var out []datatypes.Candidate
	for _, id := range s.paragraphID {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := s.paragraphs[id]
		if len(p.Embedding) == 0 || len(p.Embedding) != len(embedding) {
			continue
		}
		c := s.candidate(p, datatypes.RetrievalModeVector)
		if allowed != nil && !allowed[c.ExpressionID] {
			continue
		}
		c.Score = Cosine(embedding, p.Embedding)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ParagraphID < out[j].ParagraphID
	})
	if len(out) > candidateLimit {
		out = out[:candidateLimit]
	}
	return out, nil
}

// KeywordSearch returns paragraphs whose lowercased text contains the
// lowercased query, scored 0 and ordered by paragraph id.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" || limit <= 0 {
		return nil, nil
	}
	allowed := toSet(expressionIDs)

	var out []datatypes.Candidate
	for _, id := range s.paragraphID {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := s.paragraphs[id]
		if !strings.Contains(strings.ToLower(p.Text), needle) {
			continue
		}
		c := s.candidate(p, datatypes.RetrievalModeKeyword)
		if allowed != nil && !allowed[c.ExpressionID] {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// LocateComponent resolves a component id to its Work and Expression.
func (s *Store) LocateComponent(ctx context.Context, kind, id string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	switch kind {
	case store.KindWork:
		if _, ok := s.works[id]; ok {
			return id, "", nil
		}
	case store.KindExpression:
		if e, ok := s.expressions[id]; ok {
			return e.WorkID, e.ID, nil
		}
	case store.KindArticle:
		if a, ok := s.articles[id]; ok {
			return s.expressions[a.ExpressionID].WorkID, a.ExpressionID, nil
		}
	case store.KindParagraph:
		if p, ok := s.paragraphs[id]; ok {
			a := s.articles[p.ArticleID]
			return s.expressions[a.ExpressionID].WorkID, a.ExpressionID, nil
		}
	default:
		return "", "", fmt.Errorf("unknown component kind %q", kind)
	}
	return "", "", fmt.Errorf("%s %q: %w", kind, id, datatypes.ErrNotFound)
}

// SearchItems scores every Work and Article passing filter against query.
// Articles inherit the filter decision of their Work.
func (s *Store) SearchItems(ctx context.Context, query string, filter datatypes.WorkFilter, limit int) ([]datatypes.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items []datatypes.Item
	for _, w := range s.works {
		if !filter.Matches(w) {
			continue
		}
		if score := store.ScoreWork(query, w); score > store.ScoreNone {
			items = append(items, store.WorkItem(w, score))
		}
	}
	for _, a := range s.articles {
		w := s.works[s.expressions[a.ExpressionID].WorkID]
		if !filter.Matches(w) {
			continue
		}
		if score := store.ScoreArticle(query, a); score > store.ScoreNone {
			items = append(items, store.ArticleItem(a, w.ID, score))
		}
	}
	return store.RankItems(items, limit), nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) candidate(p datatypes.Paragraph, mode string) datatypes.Candidate {
	a := s.articles[p.ArticleID]
	e := s.expressions[a.ExpressionID]
	return datatypes.Candidate{
		ParagraphID:     p.ID,
		ParagraphNumber: p.Number,
		ArticleID:       a.ID,
		ArticleNumber:   a.Number,
		ExpressionID:    e.ID,
		WorkID:          e.WorkID,
		Text:            p.Text,
		RetrievalMode:   mode,
	}
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
