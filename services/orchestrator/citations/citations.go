// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citations extracts and validates inline paragraph citations.
//
// A citation is a bracketed, comma-separated list of paragraph ids:
//
//	Issuers must publish a white paper [EU-MICA-6-1, EU-MICA-6-2].
//
// An answer is grounded when every cited id belongs to the evidence set and
// every non-empty answer paragraph (blocks separated by a blank line)
// carries at least one citation.
package citations

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
)

var bracketRE = regexp.MustCompile(`\[([^\]]+)\]`)

// Parse returns cited ids in order of first appearance, de-duplicated.
func Parse(text string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range bracketRE.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			id := strings.TrimSpace(part)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Paragraphs splits text on blank lines and drops empty blocks.
func Paragraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(normalized, "\n\n") {
		if b := strings.TrimSpace(block); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Report describes the outcome of validating a draft.
type Report struct {
	// Cited holds valid cited ids in order of first appearance.
	Cited []string

	// Foreign holds cited ids absent from the evidence set, sorted.
	Foreign []string

	// Uncited holds the 1-based indices of answer paragraphs without a
	// citation.
	Uncited []int
}

// Valid reports whether the draft is fully grounded.
func (r Report) Valid() bool {
	return len(r.Foreign) == 0 && len(r.Uncited) == 0 && len(r.Cited) > 0
}

// Err returns an *datatypes.UngroundedAnswerError for an invalid report.
func (r Report) Err() error {
	if r.Valid() {
		return nil
	}
	return &datatypes.UngroundedAnswerError{ForeignIDs: r.Foreign, UncitedParagraphs: len(r.Uncited)}
}

// Validate checks text against the evidence set.
func Validate(text string, evidence datatypes.EvidenceSet) Report {
	var r Report
	foreign := make(map[string]bool)

	for _, id := range Parse(text) {
		if evidence.Contains(id) {
			r.Cited = append(r.Cited, id)
		} else {
			foreign[id] = true
		}
	}
	for id := range foreign {
		r.Foreign = append(r.Foreign, id)
	}
	sort.Strings(r.Foreign)

	for i, p := range Paragraphs(text) {
		if len(Parse(p)) == 0 {
			r.Uncited = append(r.Uncited, i+1)
		}
	}
	return r
}

// Resolve maps cited ids to response citations using the evidence set.
// Ids not in the set are skipped.
func Resolve(ids []string, evidence datatypes.EvidenceSet) []datatypes.Citation {
	out := make([]datatypes.Citation, 0, len(ids))
	for _, id := range ids {
		ev, ok := evidence.Get(id)
		if !ok {
			continue
		}
		out = append(out, datatypes.Citation{
			ParagraphID:   ev.ParagraphID,
			ArticleNumber: ev.ArticleNumber,
			ExpressionID:  ev.ExpressionID,
			WorkTitle:     ev.WorkTitle,
		})
	}
	return out
}

// CorrectionHint builds the instruction appended to a retry prompt after a
// rejected draft.
func CorrectionHint(r Report, evidence datatypes.EvidenceSet) string {
	var b strings.Builder
	b.WriteString("Your previous answer was rejected.")
	if len(r.Foreign) > 0 {
		b.WriteString(" It cited ids that are not in the provided evidence: ")
		b.WriteString(strings.Join(r.Foreign, ", "))
		b.WriteString(".")
	}
	if len(r.Uncited) > 0 || len(r.Cited) == 0 {
		b.WriteString(" Every paragraph of the answer must carry at least one citation.")
	}
	b.WriteString(" Cite only these ids: ")
	b.WriteString(strings.Join(evidence.ParagraphIDs(), ", "))
	b.WriteString(".")
	return b.String()
}
