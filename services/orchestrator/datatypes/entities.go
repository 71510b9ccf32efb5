// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the entity, request and response types shared by
// the lexgraph orchestrator packages.
//
// Legal entities follow the FRBR layering used by the regulatory graph:
//
//	Work ──< Expression ──< Article ──< Paragraph
//	              └──< Manifestation
//
// Entities reference their parent by id only. Stores keep them in an arena
// keyed by id; there are no back-pointers.
package datatypes

import (
	"fmt"
	"time"
)

// DateLayout is the civil-date layout used on the wire and in fixtures.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD civil date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// CivilDate truncates t to midnight UTC of the same calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Work is the abstract legal act, e.g. a Regulation, independent of versions.
type Work struct {
	ID             string   `json:"id" yaml:"id"`
	Title          string   `json:"title" yaml:"title"`
	Jurisdiction   string   `json:"jurisdiction" yaml:"jurisdiction"`
	AuthorityLevel int      `json:"authority_level" yaml:"authority_level"`
	CelexID        string   `json:"celex_id,omitempty" yaml:"celex_id,omitempty"`
	Aliases        []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Expression is one temporal version of a Work, valid over [ValidFrom, ValidTo).
// A nil ValidTo means the version is in force with no announced end.
type Expression struct {
	ID        string     `json:"id"`
	WorkID    string     `json:"work_id"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	Language  string     `json:"language,omitempty"`
}

// IsOpen reports whether the expression has no end date.
func (e Expression) IsOpen() bool {
	return e.ValidTo == nil
}

// ValidAt reports whether d falls in [ValidFrom, ValidTo). d is compared
// as a civil date.
func (e Expression) ValidAt(d time.Time) bool {
	d = CivilDate(d)
	if d.Before(e.ValidFrom) {
		return false
	}
	return e.ValidTo == nil || d.Before(*e.ValidTo)
}

// Manifestation is a concrete published format of an Expression.
type Manifestation struct {
	ID           string `json:"id" yaml:"id"`
	ExpressionID string `json:"expression_id" yaml:"expression_id"`
	Format       string `json:"format" yaml:"format"`
	URI          string `json:"uri,omitempty" yaml:"uri,omitempty"`
}

// Article is a structural unit of an Expression.
type Article struct {
	ID           string `json:"id" yaml:"id"`
	ExpressionID string `json:"expression_id" yaml:"expression_id"`
	Number       string `json:"number" yaml:"number"`
	Title        string `json:"title,omitempty" yaml:"title,omitempty"`
}

// Paragraph is the atomic retrievable text unit.
type Paragraph struct {
	ID        string    `json:"id"`
	ArticleID string    `json:"article_id"`
	Number    int       `json:"number"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// WorkFilter selects the Works a request is about. An empty filter
// selects every Work in the store.
type WorkFilter struct {
	WorkIDs      []string `json:"work_ids,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
	MinAuthority int      `json:"min_authority,omitempty"`
}

// Empty reports whether the filter selects every Work.
func (f WorkFilter) Empty() bool {
	return len(f.WorkIDs) == 0 && f.Jurisdiction == "" && f.MinAuthority <= 0
}

// Matches reports whether w passes the filter.
func (f WorkFilter) Matches(w Work) bool {
	if len(f.WorkIDs) > 0 {
		found := false
		for _, id := range f.WorkIDs {
			if id == w.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Jurisdiction != "" && f.Jurisdiction != w.Jurisdiction {
		return false
	}
	return w.AuthorityLevel >= f.MinAuthority
}

// Item is one search-items hit: a Work or an Article whose title, number
// or alias matched the query. Score is 3 for an exact match, 2 for a prefix
// match and 1 for a substring match.
type Item struct {
	URN         string `json:"urn"`
	Kind        string `json:"kind"`
	ComponentID string `json:"component_id"`
	WorkID      string `json:"work_id"`
	Title       string `json:"title"`
	Score       int    `json:"score"`
}
