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
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ItemSearcher is implemented by stores that can look up Works and
// Articles by title. Results are ranked with RankItems and carry scores
// from ScoreTitle.
type ItemSearcher interface {
	SearchItems(ctx context.Context, query string, filter datatypes.WorkFilter, limit int) ([]datatypes.Item, error)
}

// Title match scores.
const (
	ScoreNone     = 0
	ScoreContains = 1
	ScorePrefix   = 2
	ScoreExact    = 3
)

// DefaultItemLimit applies when a search-items request leaves limit unset.
const DefaultItemLimit = 10

var folder = cases.Fold()

// NormalizeTerm folds case and width, turns every non-alphanumeric rune
// into a space and collapses runs of spaces. "Crypto-Assets" and
// "crypto assets" normalize to the same string.
func NormalizeTerm(s string) string {
	s = folder.String(norm.NFKC.String(s))
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// ScoreTitle scores query against one title: exact, prefix, substring or
// no match. An empty query matches nothing.
func ScoreTitle(query, title string) int {
	q, t := NormalizeTerm(query), NormalizeTerm(title)
	switch {
	case q == "" || t == "":
		return ScoreNone
	case q == t:
		return ScoreExact
	case strings.HasPrefix(t, q):
		return ScorePrefix
	case strings.Contains(t, q):
		return ScoreContains
	}
	return ScoreNone
}

// WorkTerms returns every name a Work is known by: title, id, id without
// its jurisdiction prefix, CELEX number and aliases.
func WorkTerms(w datatypes.Work) []string {
	terms := []string{w.Title, w.ID}
	if w.Jurisdiction != "" {
		if short, ok := strings.CutPrefix(w.ID, w.Jurisdiction+"-"); ok {
			terms = append(terms, short)
		}
	}
	if w.CelexID != "" {
		terms = append(terms, w.CelexID)
	}
	return append(terms, w.Aliases...)
}

// ScoreWork returns the best ScoreTitle of query over WorkTerms.
func ScoreWork(query string, w datatypes.Work) int {
	best := ScoreNone
	for _, term := range WorkTerms(w) {
		best = max(best, ScoreTitle(query, term))
	}
	return best
}

// ScoreArticle scores query against an Article's title and against
// "Article <number>".
func ScoreArticle(query string, a datatypes.Article) int {
	best := ScoreTitle(query, "Article "+a.Number)
	if a.Title != "" {
		best = max(best, ScoreTitle(query, a.Title))
	}
	return best
}

// WorkItem builds the search-items hit for a Work.
func WorkItem(w datatypes.Work, score int) datatypes.Item {
	return datatypes.Item{
		URN:         "urn:" + KindWork + ":" + w.ID,
		Kind:        KindWork,
		ComponentID: w.ID,
		WorkID:      w.ID,
		Title:       w.Title,
		Score:       score,
	}
}

// ArticleItem builds the search-items hit for an Article of workID.
func ArticleItem(a datatypes.Article, workID string, score int) datatypes.Item {
	title := "Article " + a.Number
	if a.Title != "" {
		title += " " + a.Title
	}
	return datatypes.Item{
		URN:         "urn:" + KindArticle + ":" + a.ID,
		Kind:        KindArticle,
		ComponentID: a.ID,
		WorkID:      workID,
		Title:       title,
		Score:       score,
	}
}

// RankItems drops zero scores and duplicate URNs, orders by score
// descending then title and URN ascending, and truncates to limit. A limit
// below 1 is treated as 1.
func RankItems(items []datatypes.Item, limit int) []datatypes.Item {
	limit = max(limit, 1)
	best := make(map[string]datatypes.Item, len(items))
	for _, it := range items {
		if it.Score <= ScoreNone {
			continue
		}
		if prev, ok := best[it.URN]; !ok || it.Score > prev.Score {
			best[it.URN] = it
		}
	}
	out := make([]datatypes.Item, 0, len(best))
	for _, it := range best {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].URN < out[j].URN
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MentionedWorks returns the Works a question names by any of its
// WorkTerms. Terms match on whole normalized words, so "MiCA" in a question
// selects EU-MICA while "America" does not. Order follows works.
func MentionedWorks(question string, works []datatypes.Work) []datatypes.Work {
	q := " " + NormalizeTerm(question) + " "
	var out []datatypes.Work
	for _, w := range works {
		for _, term := range WorkTerms(w) {
			t := NormalizeTerm(term)
			if t != "" && strings.Contains(q, " "+t+" ") {
				out = append(out, w)
				break
			}
		}
	}
	return out
}
