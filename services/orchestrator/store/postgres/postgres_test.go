// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package postgres

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListWorksQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   datatypes.WorkFilter
		contains []string
		args     []any
	}{
		{
			name:     "empty filter",
			filter:   datatypes.WorkFilter{},
			contains: []string{"FROM lex_works", "ORDER BY work_id"},
			args:     nil,
		},
		{
			name:     "all filters",
			filter:   datatypes.WorkFilter{WorkIDs: []string{"EU-MICA", "EU-PSD2"}, Jurisdiction: "EU", MinAuthority: 2},
			contains: []string{"work_id IN ($1,$2)", "jurisdiction = $3", "authority_level >= $4"},
			args:     []any{"EU-MICA", "EU-PSD2", "EU", 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := listWorksQuery(tt.filter)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, sql, s)
			}
			if tt.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
			if len(tt.filter.WorkIDs) == 0 {
				assert.NotContains(t, sql, "WHERE")
			}
		})
	}
}

func TestSimilarityQuery_PlaceholderOrder(t *testing.T) {
	sql, args, err := similarityQuery([]float32{0.5, -1, 0.25}, 12, []string{"EU-MICA-2024"})
	require.NoError(t, err)

	assert.Contains(t, sql, "1 - (p.embedding <=> $1::vector) AS score")
	assert.Contains(t, sql, "e.expression_id IN ($2)")
	assert.Contains(t, sql, "ORDER BY p.embedding <=> $3::vector, p.paragraph_id")
	assert.Contains(t, sql, "LIMIT 12")
	assert.Equal(t, []any{"[0.5,-1,0.25]", "EU-MICA-2024", "[0.5,-1,0.25]"}, args)
}

func TestSimilarityQuery_Unscoped(t *testing.T) {
	sql, args, err := similarityQuery([]float32{1}, 4, nil)
	require.NoError(t, err)
	assert.NotContains(t, sql, "expression_id IN")
	assert.Len(t, args, 2)
}

func TestKeywordQuery(t *testing.T) {
	sql, args, err := keywordQuery("white paper", 5, []string{"A", "B"})
	require.NoError(t, err)
	assert.Contains(t, sql, "0.0 AS score")
	assert.Contains(t, sql, "strpos(lower(p.text), $1) > 0")
	assert.Contains(t, sql, "e.expression_id IN ($2,$3)")
	assert.Equal(t, []any{"white paper", "A", "B"}, args)
}

func TestItemWorksQuery(t *testing.T) {
	sql, args, err := itemWorksQuery("mica", datatypes.WorkFilter{Jurisdiction: "EU"}, 5)
	require.NoError(t, err)

	assert.Contains(t, sql, "CASE WHEN lower(w.title) = $1 THEN 3 WHEN lower(w.title) LIKE $2 THEN 2 ELSE 1 END AS score")
	assert.Contains(t, sql, "w.title ILIKE $3")
	assert.Contains(t, sql, "unnest(w.aliases)")
	assert.Contains(t, sql, "w.jurisdiction = $7")
	assert.Contains(t, sql, "ORDER BY score DESC, w.title, w.work_id")
	assert.Contains(t, sql, "LIMIT 5")
	assert.Equal(t, []any{"mica", "mica%", "%mica%", "%mica%", "%mica%", "%mica%", "EU"}, args)
}

func TestItemArticlesQuery_EscapesWildcards(t *testing.T) {
	sql, args, err := itemArticlesQuery("100%_", datatypes.WorkFilter{WorkIDs: []string{"EU-MICA"}}, 3)
	require.NoError(t, err)

	assert.Contains(t, sql, "JOIN lex_works w ON w.work_id = e.work_id")
	assert.Contains(t, sql, "('article ' || a.number) ILIKE $4")
	assert.Contains(t, sql, "w.work_id IN ($5)")
	assert.Equal(t, `%100\%\_%`, args[2])
	assert.Equal(t, "EU-MICA", args[4])
}

func TestLocateQuery(t *testing.T) {
	for _, kind := range []string{store.KindWork, store.KindExpression, store.KindArticle, store.KindParagraph} {
		sql, args, err := locateQuery(kind, "X")
		require.NoError(t, err, kind)
		assert.Contains(t, sql, "LIMIT 1")
		assert.Equal(t, []any{"X"}, args)
	}

	_, _, err := locateQuery("chapter", "X")
	assert.Error(t, err)
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[]", formatVector(nil))
	assert.Equal(t, "[1,0.125]", formatVector([]float32{1, 0.125}))
}

func TestNew_InvalidDSN(t *testing.T) {
	_, err := New(context.Background(), Config{DSN: "postgres://%zz"})
	assert.Error(t, err)
}
