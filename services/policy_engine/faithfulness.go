// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"regexp"
	"strings"
)

// FaithfulnessScorer rates how well an answer is supported by its evidence,
// in [0,1].
type FaithfulnessScorer interface {
	Score(ctx context.Context, answer string, evidenceTexts []string) (float64, error)
}

// LexicalOverlapScorer is the share of answer content words that appear in
// the evidence. Citation brackets are ignored.
type LexicalOverlapScorer struct{}

var citationBracketRE = regexp.MustCompile(`\[[^\]]*\]`)

// stopwords are excluded from both sides.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "have": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "under": true, "was": true, "which": true,
	"with": true, "must": true, "shall": true, "may": true, "any": true, "all": true,
}

// Score implements FaithfulnessScorer. An answer with no content words
// scores 1.
func (LexicalOverlapScorer) Score(ctx context.Context, answer string, evidenceTexts []string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	words := contentWords(citationBracketRE.ReplaceAllString(answer, " "))
	if len(words) == 0 {
		return 1, nil
	}
	vocab := make(map[string]bool)
	for _, t := range evidenceTexts {
		for _, w := range contentWords(t) {
			vocab[w] = true
		}
	}
	hits := 0
	for _, w := range words {
		if vocab[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words)), nil
}

func contentWords(text string) []string {
	var out []string
	for _, w := range strings.Fields(Normalize(text)) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
