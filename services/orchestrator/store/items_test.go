// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"testing"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mica = datatypes.Work{
		ID: "EU-MICA", Title: "Regulation (EU) 2023/1114 on markets in crypto-assets",
		Jurisdiction: "EU", CelexID: "32023R1114", Aliases: []string{"MiCAR"},
	}
	psd2 = datatypes.Work{
		ID: "EU-PSD2", Title: "Directive (EU) 2015/2366 on payment services",
		Jurisdiction: "EU", CelexID: "32015L2366",
	}
)

func TestNormalizeTerm(t *testing.T) {
	assert.Equal(t, "crypto assets", NormalizeTerm("  Crypto-Assets "))
	assert.Equal(t, "eu mica", NormalizeTerm("EU-MICA"))
	assert.Equal(t, "", NormalizeTerm("--"))
}

func TestScoreTitle(t *testing.T) {
	tests := []struct {
		query, title string
		want         int
	}{
		{"Authentication", "authentication", ScoreExact},
		{"crypto", "Crypto-asset white paper", ScorePrefix},
		{"white paper", "Crypto-asset white paper", ScoreContains},
		{"DORA", "Crypto-asset white paper", ScoreNone},
		{"", "Subject matter", ScoreNone},
	}
	for _, tt := range tests {
		t.Run(tt.query+"/"+tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreTitle(tt.query, tt.title))
		})
	}
}

func TestScoreWork_UsesIDCelexAndAliases(t *testing.T) {
	assert.Equal(t, ScoreExact, ScoreWork("MiCA", mica))
	assert.Equal(t, ScoreExact, ScoreWork("micar", mica))
	assert.Equal(t, ScoreExact, ScoreWork("32023R1114", mica))
	assert.Equal(t, ScoreContains, ScoreWork("crypto-assets", mica))
	assert.Equal(t, ScoreNone, ScoreWork("MiCA", psd2))
}

func TestScoreArticle(t *testing.T) {
	a := datatypes.Article{ID: "A6", Number: "6", Title: "Content and form of the crypto-asset white paper"}
	assert.Equal(t, ScoreExact, ScoreArticle("Article 6", a))
	assert.Equal(t, ScorePrefix, ScoreArticle("content and form", a))
	assert.Equal(t, ScoreNone, ScoreArticle("Article 7", a))
}

func TestRankItems(t *testing.T) {
	items := []datatypes.Item{
		WorkItem(psd2, ScoreContains),
		WorkItem(mica, ScorePrefix),
		WorkItem(mica, ScoreExact),
		ArticleItem(datatypes.Article{ID: "A1", Number: "1", Title: "Subject matter"}, "EU-MICA", ScoreExact),
		ArticleItem(datatypes.Article{ID: "A2", Number: "2"}, "EU-MICA", ScoreNone),
	}

	got := RankItems(items, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "urn:article:A1", got[0].URN)
	assert.Equal(t, "Article 1 Subject matter", got[0].Title)
	assert.Equal(t, "urn:work:EU-MICA", got[1].URN)
	assert.Equal(t, ScoreExact, got[1].Score)
	assert.Equal(t, "urn:work:EU-PSD2", got[2].URN)

	assert.Len(t, RankItems(items, 0), 1)
}

func TestMentionedWorks(t *testing.T) {
	works := []datatypes.Work{mica, psd2}

	tests := []struct {
		question string
		want     []string
	}{
		{"What does MiCA require of crypto-asset issuers?", []string{"EU-MICA"}},
		{"How did PSD2 change strong customer authentication?", []string{"EU-PSD2"}},
		{"Compare MiCAR and PSD2.", []string{"EU-MICA", "EU-PSD2"}},
		{"What does CELEX 32023R1114 say?", []string{"EU-MICA"}},
		{"Is America covered?", nil},
		{"What is a payment account?", nil},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			var ids []string
			for _, w := range MentionedWorks(tt.question, works) {
				ids = append(ids, w.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
