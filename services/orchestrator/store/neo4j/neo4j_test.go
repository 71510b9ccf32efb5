// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package neo4j

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	rows   []map[string]any
	err    error
	calls  []call
	closed bool
}

func (f *fakeRunner) run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.calls = append(f.calls, call{cypher, params})
	return f.rows, f.err
}

func (f *fakeRunner) ping(ctx context.Context) error  { return f.err }
func (f *fakeRunner) close(ctx context.Context) error { f.closed = true; return nil }

func TestListWorks(t *testing.T) {
	db := &fakeRunner{rows: []map[string]any{
		{"work_id": "EU-MICA", "title": "MiCA", "jurisdiction": "EU", "authority_level": int64(1), "celex_id": nil},
	}}
	s := newStore(db, "")

	works, err := s.ListWorks(context.Background(), datatypes.WorkFilter{})
	require.NoError(t, err)
	require.Len(t, works, 1)
	assert.Equal(t, datatypes.Work{ID: "EU-MICA", Title: "MiCA", Jurisdiction: "EU", AuthorityLevel: 1}, works[0])

	require.Len(t, db.calls, 1)
	assert.Equal(t, []string{}, db.calls[0].params["work_ids"])
	assert.Equal(t, "", db.calls[0].params["jurisdiction"])
}

func TestFindExpressionsForWork(t *testing.T) {
	db := &fakeRunner{rows: []map[string]any{
		{"expression_id": "EU-PSD2-2015", "work_id": "EU-PSD2", "valid_from": "2016-01-12", "valid_to": "2018-01-13"},
		{"expression_id": "EU-PSD2-2018", "work_id": "EU-PSD2", "valid_from": "2018-01-13", "valid_to": nil},
	}}
	s := newStore(db, "")

	exprs, err := s.FindExpressionsForWork(context.Background(), "EU-PSD2")
	require.NoError(t, err)
	require.Len(t, exprs, 2)
	assert.False(t, exprs[0].IsOpen())
	assert.True(t, exprs[1].IsOpen())
	assert.Contains(t, db.calls[0].cypher, "HAS_EXPRESSION")
}

func TestSimilaritySearch(t *testing.T) {
	db := &fakeRunner{rows: []map[string]any{
		{
			"paragraph_id": "EU-MICA-1-1", "paragraph_number": int64(1), "text": "Uniform requirements.",
			"article_id": "EU-MICA-2024-art-1", "article_number": "1",
			"expression_id": "EU-MICA-2024", "work_id": "EU-MICA", "score": 0.91,
		},
	}}
	s := newStore(db, "")

	got, err := s.SimilaritySearch(context.Background(), []float32{0.5, 0.5}, 4, []string{"EU-MICA-2024"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "EU-MICA-1-1", got[0].ParagraphID)
	assert.Equal(t, 1, got[0].ParagraphNumber)
	assert.InDelta(t, 0.91, got[0].Score, 1e-9)
	assert.Equal(t, datatypes.RetrievalModeVector, got[0].RetrievalMode)

	p := db.calls[0].params
	assert.Equal(t, DefaultVectorIndex, p["index"])
	assert.Equal(t, int64(12), p["vector_k"])
	assert.Equal(t, int64(4), p["limit"])
	assert.Equal(t, []float64{0.5, 0.5}, p["embedding"])
	assert.Equal(t, []string{"EU-MICA-2024"}, p["expression_ids"])
}

func TestKeywordSearch_LowercasesQuery(t *testing.T) {
	db := &fakeRunner{}
	s := newStore(db, "custom_index")

	_, err := s.KeywordSearch(context.Background(), "  White Paper ", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "white paper", db.calls[0].params["query"])

	got, err := s.KeywordSearch(context.Background(), "  ", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, db.calls, 1)
}

func TestListWorks_DecodesAliases(t *testing.T) {
	db := &fakeRunner{rows: []map[string]any{
		{"work_id": "EU-MICA", "title": "MiCA", "jurisdiction": "EU", "authority_level": int64(3), "aliases": []any{"MiCAR", "crypto-assets"}},
	}}
	s := newStore(db, "")

	works, err := s.ListWorks(context.Background(), datatypes.WorkFilter{})
	require.NoError(t, err)
	require.Len(t, works, 1)
	assert.Equal(t, []string{"MiCAR", "crypto-assets"}, works[0].Aliases)
}

func TestSearchItems_RescoresRows(t *testing.T) {
	db := &fakeRunner{rows: []map[string]any{
		{"kind": "article", "id": "EU-MICA-2024-A6", "work_id": "EU-MICA", "title": "Content and form of the crypto-asset white paper", "number": "6", "score": int64(1)},
		{"kind": "work", "id": "EU-MICA", "work_id": "EU-MICA", "title": "Regulation (EU) 2023/1114 on markets in crypto-assets",
			"jurisdiction": "EU", "celex_id": "32023R1114", "aliases": []any{"crypto-asset"}, "score": int64(1)},
	}}
	s := newStore(db, "")

	items, err := s.SearchItems(context.Background(), " Crypto-Asset ", datatypes.WorkFilter{Jurisdiction: "EU"}, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "urn:work:EU-MICA", items[0].URN)
	assert.Equal(t, store.ScoreExact, items[0].Score)
	assert.Equal(t, "urn:article:EU-MICA-2024-A6", items[1].URN)
	assert.Equal(t, "EU-MICA", items[1].WorkID)
	assert.Equal(t, store.ScoreContains, items[1].Score)

	p := db.calls[0].params
	assert.Equal(t, "crypto-asset", p["query"])
	assert.Equal(t, "EU", p["jurisdiction"])
	assert.Equal(t, int64(6), p["limit"])
	assert.Contains(t, db.calls[0].cypher, "UNION ALL")

	none, err := s.SearchItems(context.Background(), "   ", datatypes.WorkFilter{}, 2)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Len(t, db.calls, 1)
}

func TestLocateComponent(t *testing.T) {
	db := &fakeRunner{rows: []map[string]any{{"work_id": "EU-PSD2", "expression_id": "EU-PSD2-2018"}}}
	s := newStore(db, "")

	work, expr, err := s.LocateComponent(context.Background(), store.KindArticle, "EU-PSD2-2018-art-5")
	require.NoError(t, err)
	assert.Equal(t, "EU-PSD2", work)
	assert.Equal(t, "EU-PSD2-2018", expr)

	db.rows = nil
	_, _, err = s.LocateComponent(context.Background(), store.KindWork, "EU-NOPE")
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))

	_, _, err = s.LocateComponent(context.Background(), "chapter", "x")
	assert.Error(t, err)
}

func TestErrorsAreWrapped(t *testing.T) {
	db := &fakeRunner{err: errors.New("connection reset")}
	s := newStore(db, "")

	_, err := s.ListWorks(context.Background(), datatypes.WorkFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Error(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, db.closed)
}
