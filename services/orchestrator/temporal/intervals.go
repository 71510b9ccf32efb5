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
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
)

// IntervalViolation describes one broken validity invariant of a Work.
type IntervalViolation struct {
	WorkID       string
	ExpressionID string
	Rule         string
	Detail       string
}

func (v IntervalViolation) Error() string {
	return fmt.Sprintf("work %s expression %s: %s (%s)", v.WorkID, v.ExpressionID, v.Rule, v.Detail)
}

// Invariant rule names.
const (
	RuleInvertedInterval = "inverted_interval"
	RuleMultipleOpen     = "multiple_open_expressions"
	RuleOverlap          = "overlapping_intervals"
)

// CheckIntervals verifies the validity invariants of one Work's
// Expressions:
//
//   - valid_from <= valid_to when valid_to is set
//   - at most one Expression without valid_to
//   - no two non-empty [valid_from, valid_to) intervals overlap
//
// It returns nil or an error joining every IntervalViolation found.
func CheckIntervals(workID string, exprs []datatypes.Expression) error {
	var errs []error

	sorted := make([]datatypes.Expression, len(exprs))
	copy(sorted, exprs)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ValidFrom.Equal(sorted[j].ValidFrom) {
			return sorted[i].ValidFrom.Before(sorted[j].ValidFrom)
		}
		return sorted[i].ID < sorted[j].ID
	})

	open := 0
	for _, e := range sorted {
		if e.ValidTo == nil {
			open++
			if open > 1 {
				errs = append(errs, IntervalViolation{WorkID: workID, ExpressionID: e.ID, Rule: RuleMultipleOpen,
					Detail: "more than one expression has no valid_to"})
			}
			continue
		}
		if e.ValidTo.Before(e.ValidFrom) {
			errs = append(errs, IntervalViolation{WorkID: workID, ExpressionID: e.ID, Rule: RuleInvertedInterval,
				Detail: fmt.Sprintf("valid_to %s before valid_from %s", datatypes.FormatDate(*e.ValidTo), datatypes.FormatDate(e.ValidFrom))})
		}
	}

	// Empty intervals cover no day and cannot overlap anything.
	spans := make([]datatypes.Expression, 0, len(sorted))
	for _, e := range sorted {
		if !isEmpty(e) {
			spans = append(spans, e)
		}
	}
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if overlaps(prev, cur) {
			errs = append(errs, IntervalViolation{WorkID: workID, ExpressionID: cur.ID, Rule: RuleOverlap,
				Detail: "overlaps " + prev.ID})
		}
	}
	return errors.Join(errs...)
}

// overlaps reports whether two half-open intervals share a day. a starts no
// later than b.
func overlaps(a, b datatypes.Expression) bool {
	end := farFuture
	if a.ValidTo != nil {
		end = *a.ValidTo
	}
	return b.ValidFrom.Before(end)
}

// isEmpty reports whether e covers no day: valid_to at or before valid_from.
func isEmpty(e datatypes.Expression) bool {
	return e.ValidTo != nil && !e.ValidTo.After(e.ValidFrom)
}

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
