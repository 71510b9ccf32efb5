// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package temporal resolves an as-of date to the Expressions in force on
// that date.
//
// Validity intervals are half-open: an Expression with valid_from F and
// valid_to T covers F <= d < T. A missing valid_to covers every d >= F.
// A Work with no Expression covering d simply drops out of scope; an empty
// scope is a valid result and the caller decides how to respond to it.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var resolverTracer = otel.Tracer("aleutian.lex.temporal")

// Defaults for Config.
const (
	DefaultHorizonYears   = 30
	DefaultMaxConcurrency = 8
)

// Config tunes the resolver.
type Config struct {
	// HorizonYears bounds how far before the earliest known valid_from an
	// explicit as-of date may lie before it is rejected as invalid.
	HorizonYears int `yaml:"horizon_years" validate:"gte=0"`

	// MaxConcurrency bounds parallel FindExpressionsForWork calls.
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=0"`
}

// Resolver computes ScopedContexts. It holds no request state and is safe
// for concurrent use.
type Resolver struct {
	store  store.Store
	retry  store.RetryPolicy
	cfg    Config
	now    func() time.Time
	onDrop func(workID string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces time.Now, used to resolve requests without a date.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithRetryPolicy sets the store retry policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(r *Resolver) { r.retry = p }
}

// WithInvariantHook is called for every Work excluded because its
// Expressions violate the interval invariants.
func WithInvariantHook(fn func(workID string)) Option {
	return func(r *Resolver) { r.onDrop = fn }
}

// NewResolver creates a Resolver over s.
func NewResolver(s store.Store, cfg Config, opts ...Option) *Resolver {
	if cfg.HorizonYears == 0 {
		cfg.HorizonYears = DefaultHorizonYears
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	r := &Resolver{
		store: s,
		retry: store.DefaultRetryPolicy(),
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Today returns the resolver clock's civil date.
func (r *Resolver) Today() time.Time {
	return datatypes.CivilDate(r.now())
}

// Resolve returns the Expressions in force at asOf for every Work matching
// filter.
//
// # Description
//
// A nil asOf resolves at today's date. Expressions are fetched per Work
// concurrently. A Work whose Expressions violate the interval invariants is
// excluded and logged at error level. An explicit asOf that lies more than
// HorizonYears before the earliest valid_from in the store is rejected.
//
// # Errors
//
//   - *datatypes.InvalidDateError: asOf outside the horizon.
//   - *datatypes.RetrievalUnavailableError: store failed after retries.
//   - context errors when ctx is cancelled.
func (r *Resolver) Resolve(ctx context.Context, filter datatypes.WorkFilter, asOf *time.Time) (datatypes.ScopedContext, error) {
	ctx, span := resolverTracer.Start(ctx, "temporal.Resolve")
	defer span.End()

	d := r.Today()
	if asOf != nil {
		d = datatypes.CivilDate(*asOf)
	}
	span.SetAttributes(
		attribute.String("as_of", datatypes.FormatDate(d)),
		attribute.Bool("as_of_explicit", asOf != nil),
	)

	works, err := store.Do(ctx, r.retry, "list_works", func(ctx context.Context) ([]datatypes.Work, error) {
		return r.store.ListWorks(ctx, filter)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list works failed")
		return datatypes.ScopedContext{}, err
	}

	exprsByWork, err := r.fetchExpressions(ctx, works)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find expressions failed")
		return datatypes.ScopedContext{}, err
	}

	if asOf != nil {
		if err := r.checkHorizon(d, exprsByWork); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "date outside horizon")
			return datatypes.ScopedContext{}, err
		}
	}

	scope := datatypes.NewScopedContext(d)
	for i, w := range works {
		exprs := exprsByWork[i]
		if err := CheckIntervals(w.ID, exprs); err != nil {
			slog.ErrorContext(ctx, "Excluding work with inconsistent expression intervals",
				"work_id", w.ID,
				"error", err,
			)
			if r.onDrop != nil {
				r.onDrop(w.ID)
			}
			continue
		}
		if e, ok := selectValid(exprs, d); ok {
			scope.Works[w.ID] = datatypes.ScopedWork{Work: w, Expression: e}
		}
	}

	span.SetAttributes(
		attribute.Int("works_considered", len(works)),
		attribute.Int("works_in_scope", len(scope.Works)),
	)
	return scope, nil
}

// MatchWorks returns the Works passing filter that question names by
// title, id, CELEX number or alias. See store.MentionedWorks.
func (r *Resolver) MatchWorks(ctx context.Context, question string, filter datatypes.WorkFilter) ([]datatypes.Work, error) {
	ctx, span := resolverTracer.Start(ctx, "temporal.MatchWorks")
	defer span.End()

	works, err := store.Do(ctx, r.retry, "list_works", func(ctx context.Context) ([]datatypes.Work, error) {
		return r.store.ListWorks(ctx, filter)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list works failed")
		return nil, err
	}
	matched := store.MentionedWorks(question, works)
	span.SetAttributes(
		attribute.Int("works_considered", len(works)),
		attribute.Int("works_matched", len(matched)),
	)
	return matched, nil
}

func (r *Resolver) fetchExpressions(ctx context.Context, works []datatypes.Work) ([][]datatypes.Expression, error) {
	out := make([][]datatypes.Expression, len(works))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)

	for i, w := range works {
		g.Go(func() error {
			exprs, err := store.Do(gctx, r.retry, "find_expressions", func(ctx context.Context) ([]datatypes.Expression, error) {
				return r.store.FindExpressionsForWork(ctx, w.ID)
			})
			if err != nil {
				return err
			}
			out[i] = exprs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Prefer the caller's cancellation over errgroup's derived one.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return out, nil
}

func (r *Resolver) checkHorizon(d time.Time, exprsByWork [][]datatypes.Expression) error {
	var earliest time.Time
	for _, exprs := range exprsByWork {
		for _, e := range exprs {
			if earliest.IsZero() || e.ValidFrom.Before(earliest) {
				earliest = e.ValidFrom
			}
		}
	}
	if earliest.IsZero() {
		return nil
	}
	limit := earliest.AddDate(-r.cfg.HorizonYears, 0, 0)
	if d.Before(limit) {
		return &datatypes.InvalidDateError{
			Input:  datatypes.FormatDate(d),
			Reason: fmt.Sprintf("more than %d years before the earliest expression (%s)", r.cfg.HorizonYears, datatypes.FormatDate(earliest)),
		}
	}
	return nil
}

// selectValid returns the Expression covering d. CheckIntervals guarantees
// at most one does.
func selectValid(exprs []datatypes.Expression, d time.Time) (datatypes.Expression, bool) {
	for _, e := range exprs {
		if e.ValidAt(d) {
			return e, true
		}
	}
	return datatypes.Expression{}, false
}

// =============================================================================
// Valid Version Lookup
// =============================================================================

// ErrMultipleVersions is returned when more than one Expression matches,
// which only happens on inconsistent data.
var ErrMultipleVersions = errors.New("multiple expressions found")

// ValidVersion returns the Expression in force at d for a component id.
//
// componentID is either a bare Work id or a URN "urn:<kind>:<id>" with kind
// one of work, expression, article or paragraph. Non-work kinds require a
// store implementing store.ComponentLocator.
func (r *Resolver) ValidVersion(ctx context.Context, componentID string, d time.Time) (datatypes.Expression, error) {
	ctx, span := resolverTracer.Start(ctx, "temporal.ValidVersion")
	defer span.End()

	kind, id := ParseComponentID(componentID)
	span.SetAttributes(attribute.String("kind", kind), attribute.String("id", id))

	workID, exprID := id, ""
	if kind != store.KindWork {
		locator, ok := r.store.(store.ComponentLocator)
		if !ok {
			return datatypes.Expression{}, fmt.Errorf("store cannot locate %s components", kind)
		}
		loc, err := store.Do(ctx, r.retry, "locate_component", func(ctx context.Context) ([2]string, error) {
			w, e, err := locator.LocateComponent(ctx, kind, id)
			return [2]string{w, e}, err
		})
		if err != nil {
			span.RecordError(err)
			return datatypes.Expression{}, err
		}
		workID, exprID = loc[0], loc[1]
	}

	exprs, err := store.Do(ctx, r.retry, "find_expressions", func(ctx context.Context) ([]datatypes.Expression, error) {
		return r.store.FindExpressionsForWork(ctx, workID)
	})
	if err != nil {
		span.RecordError(err)
		return datatypes.Expression{}, err
	}

	var matches []datatypes.Expression
	for _, e := range exprs {
		if exprID != "" && e.ID != exprID {
			continue
		}
		if e.ValidAt(d) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return datatypes.Expression{}, fmt.Errorf("expression for %s at %s: %w", componentID, datatypes.FormatDate(d), datatypes.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return datatypes.Expression{}, fmt.Errorf("%s at %s: %w", componentID, datatypes.FormatDate(d), ErrMultipleVersions)
	}
}

// ParseComponentID splits "urn:<kind>:<id>". Anything else is a Work id.
func ParseComponentID(componentID string) (kind, id string) {
	if strings.HasPrefix(componentID, "urn:") {
		parts := strings.SplitN(componentID, ":", 3)
		if len(parts) == 3 {
			return parts[1], parts[2]
		}
	}
	return store.KindWork, componentID
}
