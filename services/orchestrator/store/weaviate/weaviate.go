// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weaviate reads the regulatory graph from the LexWork,
// LexExpression and LexParagraph classes of a Weaviate instance.
//
// Paragraph objects are denormalised: each carries its article, expression
// and work ids so a single near-vector query returns everything a Candidate
// needs. Vectors are supplied by the ingestion pipeline (vectorizer "none").
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.lex.store.weaviate")

// maxObjects bounds Get queries that list works or expressions.
const maxObjects = 10000

// ErrNotReady is returned by Ping when Weaviate reports it is not ready.
var ErrNotReady = errors.New("weaviate not ready")

// Config locates the Weaviate instance.
type Config struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	APIKey string `yaml:"-"`
}

// Store implements store.Store, store.KeywordSearcher,
// store.ComponentLocator and store.ItemSearcher over Weaviate.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying client pools connections.
type Store struct {
	client *weaviate.Client
}

// New connects to the instance at cfg.URL.
func New(cfg Config) (*Store, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", cfg.URL)
	}
	clientConf := weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	}
	if cfg.APIKey != "" {
		clientConf.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(clientConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	slog.Info("Weaviate store initialized", "url", cfg.URL)
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// =============================================================================
// Field Sets
// =============================================================================

var workFields = []graphql.Field{
	{Name: "work_id"},
	{Name: "title"},
	{Name: "jurisdiction"},
	{Name: "authority_level"},
	{Name: "celex_id"},
	{Name: "aliases"},
}

var expressionFields = []graphql.Field{
	{Name: "expression_id"},
	{Name: "work_id"},
	{Name: "valid_from"},
	{Name: "valid_to"},
	{Name: "language"},
}

// articleFields reads the article a paragraph belongs to.
var articleFields = []graphql.Field{
	{Name: "article_id"},
	{Name: "article_number"},
	{Name: "article_title"},
	{Name: "work_id"},
}

func paragraphFields(withDistance bool) []graphql.Field {
	fields := []graphql.Field{
		{Name: "paragraph_id"},
		{Name: "paragraph_number"},
		{Name: "text"},
		{Name: "article_id"},
		{Name: "article_number"},
		{Name: "expression_id"},
		{Name: "work_id"},
	}
	if withDistance {
		fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}})
	}
	return fields
}

// =============================================================================
// Filters
// =============================================================================

func equalText(path, value string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.Equal).
		WithValueText(value)
}

// anyOf matches objects whose path equals one of values. Returns nil for an
// empty slice.
func anyOf(path string, values []string) *filters.WhereBuilder {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return equalText(path, values[0])
	}
	operands := make([]*filters.WhereBuilder, len(values))
	for i, v := range values {
		operands[i] = equalText(path, v)
	}
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands(operands)
}

func likeText(path, needle string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.Like).
		WithValueText("*" + needle + "*")
}

func workWhere(filter datatypes.WorkFilter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if w := anyOf("work_id", filter.WorkIDs); w != nil {
		operands = append(operands, w)
	}
	if filter.Jurisdiction != "" {
		operands = append(operands, equalText("jurisdiction", filter.Jurisdiction))
	}
	if filter.MinAuthority > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"authority_level"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueInt(int64(filter.MinAuthority)))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// =============================================================================
// store.Store
// =============================================================================

// ListWorks returns the LexWork objects matching filter.
func (s *Store) ListWorks(ctx context.Context, filter datatypes.WorkFilter) ([]datatypes.Work, error) {
	ctx, span := tracer.Start(ctx, "ListWorks")
	defer span.End()

	q := s.client.GraphQL().Get().
		WithClassName(datatypes.WeaviateWorkClass).
		WithFields(workFields...).
		WithLimit(maxObjects)
	if where := workWhere(filter); where != nil {
		q = q.WithWhere(where)
	}
	result, err := q.Do(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("weaviate work query failed: %w", err))
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.WorkQueryResponse](result)
	if err != nil {
		return nil, fail(span, store.Permanent(err))
	}

	works := make([]datatypes.Work, 0, len(parsed.Get.LexWork))
	for _, r := range parsed.Get.LexWork {
		w := r.ToWork()
		// Re-applied client-side; the store must never widen the scope.
		if filter.Matches(w) {
			works = append(works, w)
		}
	}
	span.SetAttributes(attribute.Int("works", len(works)))
	return works, nil
}

// FindExpressionsForWork returns every LexExpression of workID.
func (s *Store) FindExpressionsForWork(ctx context.Context, workID string) ([]datatypes.Expression, error) {
	ctx, span := tracer.Start(ctx, "FindExpressionsForWork")
	defer span.End()
	span.SetAttributes(attribute.String("work_id", workID))

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.WeaviateExpressionClass).
		WithFields(expressionFields...).
		WithWhere(equalText("work_id", workID)).
		WithLimit(maxObjects).
		Do(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("weaviate expression query failed: %w", err))
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ExpressionQueryResponse](result)
	if err != nil {
		return nil, fail(span, store.Permanent(err))
	}

	exprs := make([]datatypes.Expression, 0, len(parsed.Get.LexExpression))
	for _, r := range parsed.Get.LexExpression {
		e, err := r.ToExpression()
		if err != nil {
			return nil, fail(span, store.Permanent(err))
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

// SimilaritySearch runs a near-vector query over LexParagraph restricted to
// expressionIDs.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, candidateLimit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	ctx, span := tracer.Start(ctx, "SimilaritySearch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("candidate_limit", candidateLimit),
		attribute.Int("expressions", len(expressionIDs)),
	)
	if candidateLimit <= 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(embedding)

	q := s.client.GraphQL().Get().
		WithClassName(datatypes.WeaviateParagraphClass).
		WithFields(paragraphFields(true)...).
		WithNearVector(nearVector).
		WithLimit(candidateLimit)
	if where := anyOf("expression_id", expressionIDs); where != nil {
		q = q.WithWhere(where)
	}
	result, err := q.Do(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("weaviate search failed: %w", err))
	}
	return parseParagraphs(span, result, datatypes.RetrievalModeVector)
}

// KeywordSearch matches paragraph text with a Like filter.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	ctx, span := tracer.Start(ctx, "KeywordSearch")
	defer span.End()

	needle := strings.TrimSpace(query)
	if needle == "" || limit <= 0 {
		return nil, nil
	}
	like := likeText("text", needle)
	where := like
	if scope := anyOf("expression_id", expressionIDs); scope != nil {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{like, scope})
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.WeaviateParagraphClass).
		WithFields(paragraphFields(false)...).
		WithWhere(where).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("weaviate keyword search failed: %w", err))
	}
	return parseParagraphs(span, result, datatypes.RetrievalModeKeyword)
}

// SearchItems scores the Works passing filter client-side and matches
// articles with Like filters on the denormalised article fields of
// LexParagraph.
func (s *Store) SearchItems(ctx context.Context, query string, filter datatypes.WorkFilter, limit int) ([]datatypes.Item, error) {
	ctx, span := tracer.Start(ctx, "SearchItems")
	defer span.End()

	needle := strings.TrimSpace(query)
	if needle == "" {
		return nil, nil
	}
	limit = max(limit, 1)

	works, err := s.ListWorks(ctx, filter)
	if err != nil {
		return nil, err
	}
	var items []datatypes.Item
	workIDs := make([]string, 0, len(works))
	for _, w := range works {
		workIDs = append(workIDs, w.ID)
		if score := store.ScoreWork(query, w); score > store.ScoreNone {
			items = append(items, store.WorkItem(w, score))
		}
	}
	if len(workIDs) == 0 {
		return nil, nil
	}

	number := needle
	if rest, ok := strings.CutPrefix(strings.ToLower(needle), "article "); ok {
		number = strings.TrimSpace(rest)
	}
	where := filters.Where().
		WithOperator(filters.Or).
		WithOperands([]*filters.WhereBuilder{likeText("article_title", needle), likeText("article_number", number)})
	if !filter.Empty() {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{where, anyOf("work_id", workIDs)})
	}
	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.WeaviateParagraphClass).
		WithFields(articleFields...).
		WithWhere(where).
		WithLimit(maxObjects).
		Do(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("weaviate article search failed: %w", err))
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ParagraphQueryResponse](result)
	if err != nil {
		return nil, fail(span, store.Permanent(err))
	}
	for _, r := range parsed.Get.LexParagraph {
		a := datatypes.Article{ID: r.ArticleID, Number: r.ArticleNumber, Title: r.ArticleTitle}
		if score := store.ScoreArticle(query, a); score > store.ScoreNone {
			items = append(items, store.ArticleItem(a, r.WorkID, score))
		}
	}

	items = store.RankItems(items, limit)
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

// LocateComponent resolves a component id through the class holding it.
func (s *Store) LocateComponent(ctx context.Context, kind, id string) (string, string, error) {
	ctx, span := tracer.Start(ctx, "LocateComponent")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind), attribute.String("id", id))

	switch kind {
	case store.KindWork:
		works, err := s.ListWorks(ctx, datatypes.WorkFilter{WorkIDs: []string{id}})
		if err != nil {
			return "", "", err
		}
		if len(works) > 0 {
			return works[0].ID, "", nil
		}
	case store.KindExpression:
		result, err := s.client.GraphQL().Get().
			WithClassName(datatypes.WeaviateExpressionClass).
			WithFields(expressionFields...).
			WithWhere(equalText("expression_id", id)).
			WithLimit(1).
			Do(ctx)
		if err != nil {
			return "", "", fail(span, fmt.Errorf("weaviate expression lookup failed: %w", err))
		}
		parsed, err := datatypes.ParseGraphQLResponse[datatypes.ExpressionQueryResponse](result)
		if err != nil {
			return "", "", fail(span, store.Permanent(err))
		}
		if len(parsed.Get.LexExpression) > 0 {
			e := parsed.Get.LexExpression[0]
			return e.WorkID, e.ExpressionID, nil
		}
	case store.KindArticle, store.KindParagraph:
		path := "paragraph_id"
		if kind == store.KindArticle {
			path = "article_id"
		}
		result, err := s.client.GraphQL().Get().
			WithClassName(datatypes.WeaviateParagraphClass).
			WithFields(paragraphFields(false)...).
			WithWhere(equalText(path, id)).
			WithLimit(1).
			Do(ctx)
		if err != nil {
			return "", "", fail(span, fmt.Errorf("weaviate paragraph lookup failed: %w", err))
		}
		parsed, err := datatypes.ParseGraphQLResponse[datatypes.ParagraphQueryResponse](result)
		if err != nil {
			return "", "", fail(span, store.Permanent(err))
		}
		if len(parsed.Get.LexParagraph) > 0 {
			p := parsed.Get.LexParagraph[0]
			return p.WorkID, p.ExpressionID, nil
		}
	default:
		return "", "", store.Permanent(fmt.Errorf("unknown component kind %q", kind))
	}
	return "", "", fmt.Errorf("%s %q: %w", kind, id, datatypes.ErrNotFound)
}

// Ping asks Weaviate's readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate health check failed: %w", err)
	}
	if !ready {
		return ErrNotReady
	}
	return nil
}

// Close is a no-op; the client holds no long-lived resources.
func (s *Store) Close() error {
	return nil
}

func parseParagraphs(span trace.Span, result *models.GraphQLResponse, mode string) ([]datatypes.Candidate, error) {
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ParagraphQueryResponse](result)
	if err != nil {
		return nil, fail(span, store.Permanent(err))
	}
	out := make([]datatypes.Candidate, 0, len(parsed.Get.LexParagraph))
	for _, r := range parsed.Get.LexParagraph {
		out = append(out, r.ToCandidate(mode))
	}
	span.SetAttributes(attribute.Int("candidates", len(out)))
	return out, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
