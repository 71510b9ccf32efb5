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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := datatypes.ParseDate(s)
	require.NoError(t, err)
	return d
}

func datePtr(t *testing.T, s string) *time.Time {
	d := date(t, s)
	return &d
}

func expr(t *testing.T, id, workID, from, to string) datatypes.Expression {
	e := datatypes.Expression{ID: id, WorkID: workID, ValidFrom: date(t, from)}
	if to != "" {
		e.ValidTo = datePtr(t, to)
	}
	return e
}

// micaStore holds Work EU-MICA with one open Expression from 2024-06-30,
// and Work EU-PSD2 with two consecutive Expressions.
func micaStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(&memory.Arena{
		Works: []datatypes.Work{
			{ID: "EU-MICA", Title: "Markets in Crypto-Assets Regulation", Jurisdiction: "EU", AuthorityLevel: 3},
			{ID: "EU-PSD2", Title: "Payment Services Directive 2", Jurisdiction: "EU", AuthorityLevel: 2},
		},
		Expressions: []datatypes.Expression{
			expr(t, "EU-MICA-2024", "EU-MICA", "2024-06-30", ""),
			expr(t, "EU-PSD2-2015", "EU-PSD2", "2016-01-12", "2018-01-13"),
			expr(t, "EU-PSD2-2018", "EU-PSD2", "2018-01-13", ""),
		},
		Articles: []datatypes.Article{
			{ID: "EU-MICA-2024-A1", ExpressionID: "EU-MICA-2024", Number: "1"},
		},
		Paragraphs: []datatypes.Paragraph{
			{ID: "EU-MICA-1-1", ArticleID: "EU-MICA-2024-A1", Number: 1, Text: "This Regulation lays down uniform requirements."},
		},
	})
	require.NoError(t, err)
	return s
}

// faultyStore wraps a Store and fails FindExpressionsForWork a set number
// of times.
type faultyStore struct {
	store.Store
	mu        sync.Mutex
	failures  int
	findCalls int
	badWork   string
	badExprs  []datatypes.Expression
}

func (f *faultyStore) FindExpressionsForWork(ctx context.Context, workID string) ([]datatypes.Expression, error) {
	f.mu.Lock()
	f.findCalls++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	f.mu.Unlock()
	if workID == f.badWork {
		return f.badExprs, nil
	}
	return f.Store.FindExpressionsForWork(ctx, workID)
}

func fastRetry() store.RetryPolicy {
	return store.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond}
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_BeforeValidFromIsEmpty(t *testing.T) {
	r := NewResolver(micaStore(t), Config{})
	scope, err := r.Resolve(context.Background(), datatypes.WorkFilter{WorkIDs: []string{"EU-MICA"}}, datePtr(t, "2024-01-01"))
	require.NoError(t, err)
	assert.True(t, scope.Empty())
	assert.Equal(t, "2024-01-01", datatypes.FormatDate(scope.AsOf))
}

func TestResolve_AfterValidFromSelectsExpression(t *testing.T) {
	r := NewResolver(micaStore(t), Config{})
	scope, err := r.Resolve(context.Background(), datatypes.WorkFilter{WorkIDs: []string{"EU-MICA"}}, datePtr(t, "2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"EU-MICA-2024"}, scope.ExpressionIDs())
	assert.Equal(t, "Markets in Crypto-Assets Regulation", scope.Works["EU-MICA"].Work.Title)
}

func TestResolve_BoundaryIsHalfOpen(t *testing.T) {
	r := NewResolver(micaStore(t), Config{})
	filter := datatypes.WorkFilter{WorkIDs: []string{"EU-PSD2"}}

	tests := []struct {
		asOf string
		want string
	}{
		{"2018-01-12", "EU-PSD2-2015"},
		{"2018-01-13", "EU-PSD2-2018"},
		{"2016-01-12", "EU-PSD2-2015"},
	}
	for _, tt := range tests {
		t.Run(tt.asOf, func(t *testing.T) {
			scope, err := r.Resolve(context.Background(), filter, datePtr(t, tt.asOf))
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, scope.ExpressionIDs())
		})
	}
}

func TestResolve_NilAsOfUsesClock(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 3, 1, 15, 4, 5, 0, time.UTC) }
	r := NewResolver(micaStore(t), Config{}, WithClock(clock))

	scope, err := r.Resolve(context.Background(), datatypes.WorkFilter{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", datatypes.FormatDate(scope.AsOf))
	assert.Equal(t, []string{"EU-MICA-2024", "EU-PSD2-2018"}, scope.ExpressionIDs())
}

func TestResolve_Idempotent(t *testing.T) {
	r := NewResolver(micaStore(t), Config{})
	asOf := datePtr(t, "2025-01-01")

	first, err := r.Resolve(context.Background(), datatypes.WorkFilter{}, asOf)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), datatypes.WorkFilter{}, asOf)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_HorizonRejectsAncientDate(t *testing.T) {
	r := NewResolver(micaStore(t), Config{HorizonYears: 10})

	_, err := r.Resolve(context.Background(), datatypes.WorkFilter{}, datePtr(t, "1990-01-01"))
	require.Error(t, err)
	assert.True(t, datatypes.IsInvalidDate(err))

	// Inside the horizon: valid request with an empty scope.
	scope, err := r.Resolve(context.Background(), datatypes.WorkFilter{}, datePtr(t, "2010-01-01"))
	require.NoError(t, err)
	assert.True(t, scope.Empty())
}

func TestResolve_ExcludesWorkWithOverlappingIntervals(t *testing.T) {
	fs := &faultyStore{
		Store:   micaStore(t),
		badWork: "EU-PSD2",
		badExprs: []datatypes.Expression{
			expr(t, "EU-PSD2-A", "EU-PSD2", "2016-01-01", "2019-01-01"),
			expr(t, "EU-PSD2-B", "EU-PSD2", "2018-01-01", ""),
		},
	}
	var dropped []string
	r := NewResolver(fs, Config{}, WithInvariantHook(func(id string) { dropped = append(dropped, id) }))

	scope, err := r.Resolve(context.Background(), datatypes.WorkFilter{}, datePtr(t, "2018-06-01"))
	require.NoError(t, err)
	assert.Empty(t, scope.ExpressionIDs(), "EU-MICA not yet in force, EU-PSD2 excluded")
	assert.Equal(t, []string{"EU-PSD2"}, dropped)
}

func TestResolve_RetriesTransientStoreFailure(t *testing.T) {
	fs := &faultyStore{Store: micaStore(t), failures: 1}
	r := NewResolver(fs, Config{MaxConcurrency: 1}, WithRetryPolicy(fastRetry()))

	scope, err := r.Resolve(context.Background(), datatypes.WorkFilter{WorkIDs: []string{"EU-MICA"}}, datePtr(t, "2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"EU-MICA-2024"}, scope.ExpressionIDs())
	assert.Equal(t, 2, fs.findCalls)
}

func TestResolve_StoreDownIsRetrievalUnavailable(t *testing.T) {
	fs := &faultyStore{Store: micaStore(t), failures: 100}
	r := NewResolver(fs, Config{}, WithRetryPolicy(fastRetry()))

	_, err := r.Resolve(context.Background(), datatypes.WorkFilter{WorkIDs: []string{"EU-MICA"}}, datePtr(t, "2025-01-01"))
	require.Error(t, err)
	assert.True(t, datatypes.IsRetrievalUnavailable(err))
}

func TestResolve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewResolver(micaStore(t), Config{}, WithRetryPolicy(fastRetry()))

	_, err := r.Resolve(ctx, datatypes.WorkFilter{}, datePtr(t, "2025-01-01"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchWorks(t *testing.T) {
	r := NewResolver(micaStore(t), Config{})
	ctx := context.Background()

	got, err := r.MatchWorks(ctx, "What does MiCA require of crypto-asset issuers?", datatypes.WorkFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "EU-MICA", got[0].ID)

	none, err := r.MatchWorks(ctx, "What is a payment account?", datatypes.WorkFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	filtered, err := r.MatchWorks(ctx, "Compare MiCA and PSD2", datatypes.WorkFilter{MinAuthority: 3})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "EU-MICA", filtered[0].ID)
}

// =============================================================================
// Interval Invariant Tests
// =============================================================================

func TestCheckIntervals(t *testing.T) {
	tests := []struct {
		name     string
		exprs    []datatypes.Expression
		wantRule string
	}{
		{
			name:  "consecutive is fine",
			exprs: []datatypes.Expression{expr(t, "A", "W", "2020-01-01", "2021-01-01"), expr(t, "B", "W", "2021-01-01", "")},
		},
		{
			name:     "inverted",
			exprs:    []datatypes.Expression{expr(t, "A", "W", "2021-01-01", "2020-01-01")},
			wantRule: RuleInvertedInterval,
		},
		{
			name:     "two open",
			exprs:    []datatypes.Expression{expr(t, "A", "W", "2020-01-01", ""), expr(t, "B", "W", "2021-01-01", "")},
			wantRule: RuleMultipleOpen,
		},
		{
			name:     "overlap",
			exprs:    []datatypes.Expression{expr(t, "A", "W", "2020-01-01", "2021-06-01"), expr(t, "B", "W", "2021-01-01", "")},
			wantRule: RuleOverlap,
		},
		{
			name:  "empty after main",
			exprs: []datatypes.Expression{expr(t, "A-main", "W", "2020-01-01", "2021-01-01"), expr(t, "Z-empty", "W", "2020-01-01", "2020-01-01")},
		},
		{
			name:  "empty before main",
			exprs: []datatypes.Expression{expr(t, "Z-main", "W", "2020-01-01", "2021-01-01"), expr(t, "A-empty", "W", "2020-01-01", "2020-01-01")},
		},
		{
			name: "empty between overlapping",
			exprs: []datatypes.Expression{
				expr(t, "A", "W", "2020-01-01", "2022-01-01"),
				expr(t, "B", "W", "2021-01-01", "2021-01-01"),
				expr(t, "C", "W", "2021-06-01", ""),
			},
			wantRule: RuleOverlap,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIntervals("W", tt.exprs)
			if tt.wantRule == "" {
				assert.NoError(t, err)
				return
			}
			var v IntervalViolation
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.wantRule, v.Rule)
		})
	}
}

// =============================================================================
// Temporal Expression Tests
// =============================================================================

func TestParseTemporalScope(t *testing.T) {
	now := time.Date(2025, 5, 17, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want TemporalScope
	}{
		{"current", TemporalScope{Type: ScopeDate, Date: "2025-05-17"}},
		{" Last Year ", TemporalScope{Type: ScopeInterval, Start: "2024-01-01", End: "2024-12-31"}},
		{"2023", TemporalScope{Type: ScopeInterval, Start: "2023-01-01", End: "2023-12-31"}},
		{"2024-06-30", TemporalScope{Type: ScopeDate, Date: "2024-06-30"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTemporalScope(tt.in, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTemporalScope_Invalid(t *testing.T) {
	for _, in := range []string{"yesterday", "2024-13-01", "30/06/2024", ""} {
		_, err := ParseTemporalScope(in, time.Now())
		assert.True(t, datatypes.IsInvalidDate(err), in)
	}
}

func TestParseAsOf(t *testing.T) {
	got, err := ParseAsOf("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseAsOf(" Current ")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseAsOf("2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", datatypes.FormatDate(*got))

	for _, in := range []string{"2025-02-30", "2024", "last year", "01/02/2024"} {
		_, err = ParseAsOf(in)
		assert.True(t, datatypes.IsInvalidDate(err), in)
	}
}

// =============================================================================
// ValidVersion Tests
// =============================================================================

func TestValidVersion(t *testing.T) {
	r := NewResolver(micaStore(t), Config{})
	ctx := context.Background()

	e, err := r.ValidVersion(ctx, "EU-PSD2", date(t, "2017-05-01"))
	require.NoError(t, err)
	assert.Equal(t, "EU-PSD2-2015", e.ID)

	e, err = r.ValidVersion(ctx, "urn:paragraph:EU-MICA-1-1", date(t, "2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "EU-MICA-2024", e.ID)

	_, err = r.ValidVersion(ctx, "urn:article:EU-MICA-2024-A1", date(t, "2024-01-01"))
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	_, err = r.ValidVersion(ctx, "urn:article:missing", date(t, "2025-01-01"))
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestParseComponentID(t *testing.T) {
	kind, id := ParseComponentID("urn:article:EU-MICA-2024-A1")
	assert.Equal(t, "article", kind)
	assert.Equal(t, "EU-MICA-2024-A1", id)

	kind, id = ParseComponentID("EU-MICA")
	assert.Equal(t, store.KindWork, kind)
	assert.Equal(t, "EU-MICA", id)
}
