// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var actionsTracer = otel.Tracer("aleutian.lex.services.actions")

// VersionLocator finds the Expression of a component in force at a date.
// *temporal.Resolver implements it.
type VersionLocator interface {
	ValidVersion(ctx context.Context, componentID string, d time.Time) (datatypes.Expression, error)
}

// ScopeResponse is the body returned by POST /v1/scope.
type ScopeResponse struct {
	ResolvedScope datatypes.ResolvedScope `json:"resolved_scope"`
	Works         []datatypes.ScopedWork  `json:"works"`
}

// ValidVersionResponse is the body returned by the get-valid-version action.
type ValidVersionResponse struct {
	ComponentID string               `json:"component_id"`
	Date        string               `json:"date"`
	Expression  datatypes.Expression `json:"expression"`
}

// SearchTextUnitsResponse is the body returned by the search-text-units
// action.
type SearchTextUnitsResponse struct {
	ExpressionID string               `json:"expression_id"`
	Results      []datatypes.Evidence `json:"results"`
}

// SearchItemsResponse is the body returned by the search-items action.
type SearchItemsResponse struct {
	Items []datatypes.Item `json:"items"`
}

// ActionService exposes the individual pipeline steps as tool-style
// actions: item lookup, temporal expression parsing, scope resolution,
// version lookup and scoped text search.
type ActionService struct {
	resolver  ScopeResolver
	versions  VersionLocator
	retriever EvidenceRetriever
	store     store.Store
	retry     store.RetryPolicy
}

// NewActionService creates an ActionService.
func NewActionService(resolver *temporal.Resolver, retriever EvidenceRetriever, s store.Store) *ActionService {
	return &ActionService{
		resolver:  resolver,
		versions:  resolver,
		retriever: retriever,
		store:     s,
		retry:     store.DefaultRetryPolicy(),
	}
}

// SearchItems looks up Works and Articles by title, number, id or alias.
// Each hit carries a URN accepted by GetValidVersion.
func (a *ActionService) SearchItems(ctx context.Context, req datatypes.SearchItemsRequest) (*SearchItemsResponse, error) {
	ctx, span := actionsTracer.Start(ctx, "ActionService.SearchItems")
	defer span.End()

	if err := datatypes.ValidateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search-items request: %w", err)
	}
	searcher, ok := a.store.(store.ItemSearcher)
	if !ok {
		return nil, fmt.Errorf("store cannot search items")
	}
	limit := req.Limit
	if limit == 0 {
		limit = store.DefaultItemLimit
	}
	filter := datatypes.WorkFilter{Jurisdiction: req.Jurisdiction}
	items, err := store.Do(ctx, a.retry, "search_items", func(ctx context.Context) ([]datatypes.Item, error) {
		return searcher.SearchItems(ctx, req.Query, filter, limit)
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []datatypes.Item{}
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	return &SearchItemsResponse{Items: items}, nil
}

// ResolveTemporalScope parses "current", "last year", "YYYY" or
// "YYYY-MM-DD" against the resolver clock.
func (a *ActionService) ResolveTemporalScope(ctx context.Context, req datatypes.TemporalScopeRequest) (temporal.TemporalScope, error) {
	if err := datatypes.ValidateRequest(&req); err != nil {
		return temporal.TemporalScope{}, fmt.Errorf("invalid temporal scope request: %w", err)
	}
	return temporal.ParseTemporalScope(req.Expression, a.resolver.Today())
}

// ResolveScope returns the Expressions in force for the request, ordered by
// work id.
func (a *ActionService) ResolveScope(ctx context.Context, req datatypes.ScopeRequest) (*ScopeResponse, error) {
	ctx, span := actionsTracer.Start(ctx, "ActionService.ResolveScope")
	defer span.End()

	if err := datatypes.ValidateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid scope request: %w", err)
	}
	asOf, err := temporal.ParseAsOf(req.AsOf)
	if err != nil {
		return nil, err
	}
	filter := datatypes.WorkFilter{WorkIDs: req.WorkIDs, Jurisdiction: req.Jurisdiction}
	scope, err := a.resolver.Resolve(ctx, filter, asOf)
	if err != nil {
		return nil, err
	}

	works := make([]datatypes.ScopedWork, 0, len(scope.Works))
	for _, sw := range scope.Works {
		works = append(works, sw)
	}
	sort.Slice(works, func(i, j int) bool { return works[i].Work.ID < works[j].Work.ID })
	span.SetAttributes(attribute.Int("works_in_scope", len(works)))

	return &ScopeResponse{
		ResolvedScope: datatypes.ResolvedScope{
			AsOfDate:      datatypes.FormatDate(scope.AsOf),
			ExpressionIDs: scope.ExpressionIDs(),
		},
		Works: works,
	}, nil
}

// GetValidVersion returns the Expression of a component in force at the
// request date.
func (a *ActionService) GetValidVersion(ctx context.Context, req datatypes.ValidVersionRequest) (*ValidVersionResponse, error) {
	if err := datatypes.ValidateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid valid-version request: %w", err)
	}
	d, err := datatypes.ParseDate(req.Date)
	if err != nil {
		return nil, &datatypes.InvalidDateError{Input: req.Date, Reason: "expected YYYY-MM-DD"}
	}
	expr, err := a.versions.ValidVersion(ctx, req.ComponentID, d)
	if err != nil {
		return nil, err
	}
	return &ValidVersionResponse{
		ComponentID: req.ComponentID,
		Date:        datatypes.FormatDate(d),
		Expression:  expr,
	}, nil
}

// SearchTextUnits runs scoped retrieval restricted to one Expression.
//
// # Description
//
// The Expression is located through the store's ComponentLocator and its
// Work loaded, so results carry the same provenance as answer evidence.
// Keyword fallback applies when the retriever enables it.
//
// # Errors
//
//   - wraps datatypes.ErrNotFound for an unknown expression id.
//   - *datatypes.RetrievalUnavailableError when the store is down.
func (a *ActionService) SearchTextUnits(ctx context.Context, req datatypes.SearchTextUnitsRequest) (*SearchTextUnitsResponse, error) {
	ctx, span := actionsTracer.Start(ctx, "ActionService.SearchTextUnits")
	defer span.End()
	span.SetAttributes(attribute.String("expression_id", req.ExpressionID))

	if err := datatypes.ValidateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	scope, err := a.expressionScope(ctx, req.ExpressionID)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = datatypes.DefaultTopK
	}
	evidence, err := a.retriever.Retrieve(ctx, datatypes.RetrievalQuery{Text: req.Query, TopK: limit}, scope)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", evidence.Len()))
	results := evidence.Items
	if results == nil {
		results = []datatypes.Evidence{}
	}
	return &SearchTextUnitsResponse{ExpressionID: req.ExpressionID, Results: results}, nil
}

// expressionScope builds a single-entry ScopedContext for expressionID.
func (a *ActionService) expressionScope(ctx context.Context, expressionID string) (datatypes.ScopedContext, error) {
	locator, ok := a.store.(store.ComponentLocator)
	if !ok {
		return datatypes.ScopedContext{}, fmt.Errorf("store cannot locate expressions")
	}
	workID, err := store.Do(ctx, a.retry, "locate_component", func(ctx context.Context) (string, error) {
		w, _, err := locator.LocateComponent(ctx, store.KindExpression, expressionID)
		return w, err
	})
	if err != nil {
		return datatypes.ScopedContext{}, err
	}

	works, err := store.Do(ctx, a.retry, "list_works", func(ctx context.Context) ([]datatypes.Work, error) {
		return a.store.ListWorks(ctx, datatypes.WorkFilter{WorkIDs: []string{workID}})
	})
	if err != nil {
		return datatypes.ScopedContext{}, err
	}
	exprs, err := store.Do(ctx, a.retry, "find_expressions", func(ctx context.Context) ([]datatypes.Expression, error) {
		return a.store.FindExpressionsForWork(ctx, workID)
	})
	if err != nil {
		return datatypes.ScopedContext{}, err
	}
	if len(works) == 0 {
		return datatypes.ScopedContext{}, fmt.Errorf("work %s: %w", workID, datatypes.ErrNotFound)
	}

	for _, e := range exprs {
		if e.ID == expressionID {
			scope := datatypes.NewScopedContext(e.ValidFrom)
			scope.Works[workID] = datatypes.ScopedWork{Work: works[0], Expression: e}
			return scope, nil
		}
	}
	return datatypes.ScopedContext{}, fmt.Errorf("expression %s: %w", expressionID, datatypes.ErrNotFound)
}
