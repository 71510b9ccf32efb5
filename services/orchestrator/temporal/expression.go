// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
)

// Scope types returned by ParseTemporalScope.
const (
	ScopeDate     = "date"
	ScopeInterval = "interval"
)

var (
	yearRe = regexp.MustCompile(`^\d{4}$`)
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// TemporalScope is a parsed temporal expression. Date is set for
// ScopeDate; Start and End (inclusive calendar bounds) for ScopeInterval.
type TemporalScope struct {
	Type  string `json:"type"`
	Date  string `json:"date,omitempty"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Effective returns the single date the scope resolves to: the date itself,
// or the last day of an interval.
func (s TemporalScope) Effective() (time.Time, error) {
	if s.Type == ScopeInterval {
		return datatypes.ParseDate(s.End)
	}
	return datatypes.ParseDate(s.Date)
}

// ParseTemporalScope parses "current", "last year", "YYYY" and
// "YYYY-MM-DD" relative to now. Anything else is an *InvalidDateError.
func ParseTemporalScope(s string, now time.Time) (TemporalScope, error) {
	value := strings.ToLower(strings.TrimSpace(s))
	switch {
	case value == "current":
		return TemporalScope{Type: ScopeDate, Date: datatypes.FormatDate(now)}, nil
	case value == "last year":
		return yearInterval(now.UTC().Year() - 1), nil
	case yearRe.MatchString(value):
		year, _ := strconv.Atoi(value)
		return yearInterval(year), nil
	case dateRe.MatchString(value):
		d, err := datatypes.ParseDate(value)
		if err != nil {
			return TemporalScope{}, &datatypes.InvalidDateError{Input: s, Reason: "not a calendar date"}
		}
		return TemporalScope{Type: ScopeDate, Date: datatypes.FormatDate(d)}, nil
	}
	return TemporalScope{}, &datatypes.InvalidDateError{Input: s, Reason: "unsupported_date_format"}
}

func yearInterval(year int) TemporalScope {
	return TemporalScope{
		Type:  ScopeInterval,
		Start: strconv.Itoa(year) + "-01-01",
		End:   strconv.Itoa(year) + "-12-31",
	}
}

// ParseAsOf parses the as-of field of a request. Empty input and "current"
// return nil, which resolves against today's date. Anything else must be a
// YYYY-MM-DD calendar date; year and "last year" forms are accepted only by
// ParseTemporalScope.
func ParseAsOf(s string) (*time.Time, error) {
	value := strings.ToLower(strings.TrimSpace(s))
	if value == "" || value == "current" {
		return nil, nil
	}
	if !dateRe.MatchString(value) {
		return nil, &datatypes.InvalidDateError{Input: s, Reason: "expected YYYY-MM-DD or current"}
	}
	d, err := datatypes.ParseDate(value)
	if err != nil {
		return nil, &datatypes.InvalidDateError{Input: s, Reason: "not a calendar date"}
	}
	return &d, nil
}
