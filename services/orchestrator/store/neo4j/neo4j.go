// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package neo4j reads the regulatory graph from Neo4j.
//
// The graph shape is:
//
//	(:Work)-[:HAS_EXPRESSION]->(:Expression)-[:HAS_ARTICLE]->(:Article)-[:HAS_PARAGRAPH]->(:Paragraph)
//
// Expression dates are Neo4j DATE values. Paragraph embeddings are indexed
// by a vector index named by Config.VectorIndex.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.lex.store.neo4j")

// DefaultVectorIndex is the paragraph embedding index name.
const DefaultVectorIndex = "paragraph_embedding_index"

// Config locates the Neo4j database.
type Config struct {
	URI         string `yaml:"uri"`
	Username    string `yaml:"username"`
	Password    string `yaml:"-"`
	Database    string `yaml:"database"`
	VectorIndex string `yaml:"vector_index"`
}

// runner executes one read query and returns its records as maps.
type runner interface {
	run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	ping(ctx context.Context) error
	close(ctx context.Context) error
}

// Store implements store.Store, store.KeywordSearcher,
// store.ComponentLocator and store.ItemSearcher over Neo4j.
type Store struct {
	db    runner
	index string
}

// New opens a driver for cfg.URI and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j unreachable at %s: %w", cfg.URI, err)
	}
	slog.Info("Neo4j store initialized", "uri", cfg.URI, "database", cfg.Database)
	return newStore(&driverRunner{driver: driver, database: cfg.Database}, cfg.VectorIndex), nil
}

func newStore(db runner, index string) *Store {
	if index == "" {
		index = DefaultVectorIndex
	}
	return &Store{db: db, index: index}
}

// =============================================================================
// Driver
// =============================================================================

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverRunner) run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if d.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(d.database))
	}
	result, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(result.Records))
	for i, rec := range result.Records {
		rows[i] = rec.AsMap()
	}
	return rows, nil
}

func (d *driverRunner) ping(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

func (d *driverRunner) close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// =============================================================================
// Cypher
// =============================================================================

const listWorksCypher = `MATCH (w:Work)
WHERE ` + workFilterCypher + `
RETURN w.work_id AS work_id, w.title AS title, w.jurisdiction AS jurisdiction,
       coalesce(w.authority_level, 0) AS authority_level, w.celex_id AS celex_id,
       coalesce(w.aliases, []) AS aliases
ORDER BY work_id`

const expressionsCypher = `MATCH (:Work {work_id: $work_id})-[:HAS_EXPRESSION]->(e:Expression)
RETURN e.expression_id AS expression_id, $work_id AS work_id,
       toString(e.valid_from) AS valid_from,
       CASE WHEN e.valid_to IS NULL THEN null ELSE toString(e.valid_to) END AS valid_to,
       e.language AS language`

const paragraphReturn = `RETURN p.paragraph_id AS paragraph_id, p.number AS paragraph_number, p.text AS text,
       a.article_id AS article_id, toString(a.number) AS article_number,
       e.expression_id AS expression_id, w.work_id AS work_id, score`

// vector_k over-fetches; the expression restriction applies after the
// index lookup.
const similarityCypher = `CALL db.index.vector.queryNodes($index, $vector_k, $embedding)
YIELD node AS p, score
MATCH (w:Work)-[:HAS_EXPRESSION]->(e:Expression)-[:HAS_ARTICLE]->(a:Article)-[:HAS_PARAGRAPH]->(p)
WHERE size($expression_ids) = 0 OR e.expression_id IN $expression_ids
` + paragraphReturn + `
ORDER BY score DESC, paragraph_id ASC
LIMIT $limit`

const keywordCypher = `MATCH (w:Work)-[:HAS_EXPRESSION]->(e:Expression)-[:HAS_ARTICLE]->(a:Article)-[:HAS_PARAGRAPH]->(p:Paragraph)
WHERE toLower(p.text) CONTAINS $query
  AND (size($expression_ids) = 0 OR e.expression_id IN $expression_ids)
WITH w, e, a, p, 0.0 AS score
` + paragraphReturn + `
ORDER BY paragraph_id ASC
LIMIT $limit`

const workFilterCypher = `(size($work_ids) = 0 OR w.work_id IN $work_ids)
  AND ($jurisdiction = '' OR w.jurisdiction = $jurisdiction)
  AND coalesce(w.authority_level, 0) >= $min_authority`

// searchItemsCypher ranks coarsely by lowercase title match; SearchItems
// rescores the rows with store.ScoreWork and store.ScoreArticle.
const searchItemsCypher = `CALL {
MATCH (w:Work)
WHERE ` + workFilterCypher + `
  AND (toLower(coalesce(w.title, '')) CONTAINS $query
       OR toLower(w.work_id) CONTAINS $query
       OR toLower(coalesce(w.celex_id, '')) CONTAINS $query
       OR any(alias IN coalesce(w.aliases, []) WHERE toLower(alias) CONTAINS $query))
WITH w, CASE
  WHEN toLower(coalesce(w.title, '')) = $query THEN 3
  WHEN toLower(coalesce(w.title, '')) STARTS WITH $query THEN 2
  ELSE 1 END AS score
RETURN 'work' AS kind, w.work_id AS id, w.work_id AS work_id, w.title AS title, null AS number,
       w.jurisdiction AS jurisdiction, w.celex_id AS celex_id, coalesce(w.aliases, []) AS aliases, score
UNION ALL
MATCH (w:Work)-[:HAS_EXPRESSION]->(:Expression)-[:HAS_ARTICLE]->(a:Article)
WHERE ` + workFilterCypher + `
  AND (toLower(coalesce(a.title, '')) CONTAINS $query OR ('article ' + toLower(toString(a.number))) CONTAINS $query)
WITH w, a, CASE
  WHEN toLower(coalesce(a.title, '')) = $query THEN 3
  WHEN toLower(coalesce(a.title, '')) STARTS WITH $query THEN 2
  ELSE 1 END AS score
RETURN 'article' AS kind, a.article_id AS id, w.work_id AS work_id, a.title AS title, toString(a.number) AS number,
       w.jurisdiction AS jurisdiction, null AS celex_id, [] AS aliases, score
}
RETURN kind, id, work_id, title, number, jurisdiction, celex_id, aliases, score
ORDER BY score DESC, title ASC, id ASC
LIMIT $limit`

var locateCypher = map[string]string{
	store.KindWork:       `MATCH (w:Work {work_id: $id}) RETURN w.work_id AS work_id, null AS expression_id LIMIT 1`,
	store.KindExpression: `MATCH (w:Work)-[:HAS_EXPRESSION]->(e:Expression {expression_id: $id}) RETURN w.work_id AS work_id, e.expression_id AS expression_id LIMIT 1`,
	store.KindArticle:    `MATCH (w:Work)-[:HAS_EXPRESSION]->(e:Expression)-[:HAS_ARTICLE]->(:Article {article_id: $id}) RETURN w.work_id AS work_id, e.expression_id AS expression_id LIMIT 1`,
	store.KindParagraph:  `MATCH (w:Work)-[:HAS_EXPRESSION]->(e:Expression)-[:HAS_ARTICLE]->(:Article)-[:HAS_PARAGRAPH]->(:Paragraph {paragraph_id: $id}) RETURN w.work_id AS work_id, e.expression_id AS expression_id LIMIT 1`,
}

// vectorOversample multiplies the candidate limit for the index lookup.
const vectorOversample = 3

// itemOversample multiplies the search-items limit so rescoring can
// reorder rows the coarse Cypher ranking placed lower.
const itemOversample = 3

// =============================================================================
// store.Store
// =============================================================================

// ListWorks returns matching Works ordered by id.
func (s *Store) ListWorks(ctx context.Context, filter datatypes.WorkFilter) ([]datatypes.Work, error) {
	ctx, span := tracer.Start(ctx, "ListWorks")
	defer span.End()

	rows, err := s.db.run(ctx, listWorksCypher, map[string]any{
		"work_ids":      stringsParam(filter.WorkIDs),
		"jurisdiction":  filter.Jurisdiction,
		"min_authority": int64(filter.MinAuthority),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list works failed")
		return nil, fmt.Errorf("neo4j list works: %w", err)
	}
	works := make([]datatypes.Work, 0, len(rows))
	for _, r := range rows {
		works = append(works, datatypes.Work{
			ID:             str(r["work_id"]),
			Title:          str(r["title"]),
			Jurisdiction:   str(r["jurisdiction"]),
			AuthorityLevel: int(num(r["authority_level"])),
			CelexID:        str(r["celex_id"]),
			Aliases:        strs(r["aliases"]),
		})
	}
	span.SetAttributes(attribute.Int("works", len(works)))
	return works, nil
}

// FindExpressionsForWork returns the Expressions of workID.
func (s *Store) FindExpressionsForWork(ctx context.Context, workID string) ([]datatypes.Expression, error) {
	ctx, span := tracer.Start(ctx, "FindExpressionsForWork")
	defer span.End()
	span.SetAttributes(attribute.String("work_id", workID))

	rows, err := s.db.run(ctx, expressionsCypher, map[string]any{"work_id": workID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find expressions failed")
		return nil, fmt.Errorf("neo4j find expressions: %w", err)
	}
	exprs := make([]datatypes.Expression, 0, len(rows))
	for _, r := range rows {
		res := datatypes.ExpressionResult{
			ExpressionID: str(r["expression_id"]),
			WorkID:       str(r["work_id"]),
			ValidFrom:    str(r["valid_from"]),
			ValidTo:      str(r["valid_to"]),
			Language:     str(r["language"]),
		}
		e, err := res.ToExpression()
		if err != nil {
			return nil, store.Permanent(err)
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

// SimilaritySearch queries the paragraph vector index.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, candidateLimit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	ctx, span := tracer.Start(ctx, "SimilaritySearch")
	defer span.End()
	span.SetAttributes(attribute.Int("candidate_limit", candidateLimit))
	if candidateLimit <= 0 {
		return nil, nil
	}

	vector := make([]float64, len(embedding))
	for i, v := range embedding {
		vector[i] = float64(v)
	}
	rows, err := s.db.run(ctx, similarityCypher, map[string]any{
		"index":          s.index,
		"vector_k":       int64(candidateLimit * vectorOversample),
		"embedding":      vector,
		"expression_ids": stringsParam(expressionIDs),
		"limit":          int64(candidateLimit),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "similarity search failed")
		return nil, fmt.Errorf("neo4j similarity search: %w", err)
	}
	return candidates(rows, datatypes.RetrievalModeVector), nil
}

// KeywordSearch matches lowercased paragraph text.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	ctx, span := tracer.Start(ctx, "KeywordSearch")
	defer span.End()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.run(ctx, keywordCypher, map[string]any{
		"query":          needle,
		"expression_ids": stringsParam(expressionIDs),
		"limit":          int64(limit),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "keyword search failed")
		return nil, fmt.Errorf("neo4j keyword search: %w", err)
	}
	return candidates(rows, datatypes.RetrievalModeKeyword), nil
}

// SearchItems finds Works and Articles whose title, number, id or alias
// contains query.
func (s *Store) SearchItems(ctx context.Context, query string, filter datatypes.WorkFilter, limit int) ([]datatypes.Item, error) {
	ctx, span := tracer.Start(ctx, "SearchItems")
	defer span.End()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	limit = max(limit, 1)
	rows, err := s.db.run(ctx, searchItemsCypher, map[string]any{
		"query":         needle,
		"work_ids":      stringsParam(filter.WorkIDs),
		"jurisdiction":  filter.Jurisdiction,
		"min_authority": int64(filter.MinAuthority),
		"limit":         int64(limit * itemOversample),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search items failed")
		return nil, fmt.Errorf("neo4j search items: %w", err)
	}

	items := make([]datatypes.Item, 0, len(rows))
	for _, r := range rows {
		workID := str(r["work_id"])
		switch str(r["kind"]) {
		case store.KindWork:
			w := datatypes.Work{
				ID:           workID,
				Title:        str(r["title"]),
				Jurisdiction: str(r["jurisdiction"]),
				CelexID:      str(r["celex_id"]),
				Aliases:      strs(r["aliases"]),
			}
			items = append(items, store.WorkItem(w, store.ScoreWork(query, w)))
		case store.KindArticle:
			a := datatypes.Article{ID: str(r["id"]), Number: str(r["number"]), Title: str(r["title"])}
			items = append(items, store.ArticleItem(a, workID, store.ScoreArticle(query, a)))
		}
	}
	items = store.RankItems(items, limit)
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

// LocateComponent resolves a component id to its Work and Expression.
func (s *Store) LocateComponent(ctx context.Context, kind, id string) (string, string, error) {
	cypher, ok := locateCypher[kind]
	if !ok {
		return "", "", store.Permanent(fmt.Errorf("unknown component kind %q", kind))
	}
	rows, err := s.db.run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return "", "", fmt.Errorf("neo4j locate %s: %w", kind, err)
	}
	if len(rows) == 0 {
		return "", "", fmt.Errorf("%s %q: %w", kind, id, datatypes.ErrNotFound)
	}
	return str(rows[0]["work_id"]), str(rows[0]["expression_id"]), nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.ping(ctx)
}

// Close closes the driver.
func (s *Store) Close() error {
	return s.db.close(context.Background())
}

// =============================================================================
// Helpers
// =============================================================================

func candidates(rows []map[string]any, mode string) []datatypes.Candidate {
	out := make([]datatypes.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, datatypes.Candidate{
			ParagraphID:     str(r["paragraph_id"]),
			ParagraphNumber: int(num(r["paragraph_number"])),
			Score:           num(r["score"]),
			ArticleID:       str(r["article_id"]),
			ArticleNumber:   str(r["article_number"]),
			ExpressionID:    str(r["expression_id"]),
			WorkID:          str(r["work_id"]),
			Text:            str(r["text"]),
			RetrievalMode:   mode,
		})
	}
	return out
}

// stringsParam never returns nil; Cypher size(null) is null, not 0.
func stringsParam(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// strs converts a Cypher list. nil and empty lists yield nil.
func strs(v any) []string {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, x := range list {
		out = append(out, str(x))
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func num(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case float64:
		return t
	case float32:
		return float64(t)
	default:
		return 0
	}
}
