// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package postgres reads the regulatory graph from PostgreSQL with the
// pgvector extension.
//
// Tables:
//
//	lex_works(work_id, title, jurisdiction, authority_level, celex_id, aliases text[])
//	lex_expressions(expression_id, work_id, valid_from date, valid_to date NULL, language)
//	lex_articles(article_id, expression_id, number, title)
//	lex_paragraphs(paragraph_id, article_id, number, text, embedding vector)
//
// Similarity is 1 - (embedding <=> query), pgvector's cosine distance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.lex.store.postgres")

// Config locates the database. DSN is a libpq connection string or URL.
type Config struct {
	DSN      string `yaml:"-"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements store.Store, store.KeywordSearcher,
// store.ComponentLocator and store.ItemSearcher over a pgxpool.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool and pings it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	slog.Info("Postgres store initialized", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return &Store{pool: pool}, nil
}

// =============================================================================
// Query Builders
// =============================================================================

func listWorksQuery(filter datatypes.WorkFilter) (string, []any, error) {
	q := psql.Select("work_id", "title", "jurisdiction", "authority_level", "coalesce(celex_id, '')", "coalesce(aliases, '{}')").
		From("lex_works").
		OrderBy("work_id")
	return whereWorks(q, filter, "").ToSql()
}

// whereWorks applies filter to columns of the lex_works alias prefix.
func whereWorks(q sq.SelectBuilder, filter datatypes.WorkFilter, prefix string) sq.SelectBuilder {
	if len(filter.WorkIDs) > 0 {
		q = q.Where(sq.Eq{prefix + "work_id": filter.WorkIDs})
	}
	if filter.Jurisdiction != "" {
		q = q.Where(sq.Eq{prefix + "jurisdiction": filter.Jurisdiction})
	}
	if filter.MinAuthority > 0 {
		q = q.Where(sq.GtOrEq{prefix + "authority_level": filter.MinAuthority})
	}
	return q
}

// likeEscaper escapes ILIKE wildcards in user input.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// titleScore is the coarse SQL ranking; SearchItems rescores in Go.
func titleScore(column, needle string) sq.Sqlizer {
	return sq.Expr("CASE WHEN lower("+column+") = ? THEN 3 WHEN lower("+column+") LIKE ? THEN 2 ELSE 1 END AS score",
		needle, likeEscaper.Replace(needle)+"%")
}

func itemWorksQuery(needle string, filter datatypes.WorkFilter, limit int) (string, []any, error) {
	pattern := "%" + likeEscaper.Replace(needle) + "%"
	q := psql.Select("w.work_id", "w.title", "w.jurisdiction", "coalesce(w.celex_id, '')", "coalesce(w.aliases, '{}')").
		Column(titleScore("w.title", needle)).
		From("lex_works w").
		Where(sq.Or{
			sq.ILike{"w.title": pattern},
			sq.ILike{"w.work_id": pattern},
			sq.ILike{"w.celex_id": pattern},
			sq.Expr("EXISTS (SELECT 1 FROM unnest(w.aliases) AS alias WHERE alias ILIKE ?)", pattern),
		}).
		OrderBy("score DESC", "w.title", "w.work_id").
		Limit(uint64(limit))
	return whereWorks(q, filter, "w.").ToSql()
}

func itemArticlesQuery(needle string, filter datatypes.WorkFilter, limit int) (string, []any, error) {
	pattern := "%" + likeEscaper.Replace(needle) + "%"
	q := psql.Select("a.article_id", "a.number", "coalesce(a.title, '')", "w.work_id").
		Column(titleScore("coalesce(a.title, '')", needle)).
		From("lex_articles a").
		Join("lex_expressions e ON e.expression_id = a.expression_id").
		Join("lex_works w ON w.work_id = e.work_id").
		Where(sq.Or{
			sq.ILike{"a.title": pattern},
			sq.Expr("('article ' || a.number) ILIKE ?", pattern),
		}).
		OrderBy("score DESC", "a.title", "a.article_id").
		Limit(uint64(limit))
	return whereWorks(q, filter, "w.").ToSql()
}

func expressionsQuery(workID string) (string, []any, error) {
	return psql.Select("expression_id", "work_id", "valid_from", "valid_to", "coalesce(language, '')").
		From("lex_expressions").
		Where(sq.Eq{"work_id": workID}).
		OrderBy("valid_from").
		ToSql()
}

var paragraphColumns = []string{
	"p.paragraph_id", "p.number", "p.text",
	"a.article_id", "a.number", "e.expression_id", "e.work_id",
}

func paragraphSelect(scoreExpr string, args ...any) sq.SelectBuilder {
	cols := append([]string{}, paragraphColumns...)
	return psql.Select(cols...).
		Column(sq.Expr(scoreExpr+" AS score", args...)).
		From("lex_paragraphs p").
		Join("lex_articles a ON a.article_id = p.article_id").
		Join("lex_expressions e ON e.expression_id = a.expression_id")
}

func similarityQuery(embedding []float32, limit int, expressionIDs []string) (string, []any, error) {
	vec := formatVector(embedding)
	q := paragraphSelect("1 - (p.embedding <=> ?::vector)", vec).
		Where("p.embedding IS NOT NULL").
		OrderByClause("p.embedding <=> ?::vector", vec).
		OrderBy("p.paragraph_id").
		Limit(uint64(limit))
	if len(expressionIDs) > 0 {
		q = q.Where(sq.Eq{"e.expression_id": expressionIDs})
	}
	return q.ToSql()
}

func keywordQuery(needle string, limit int, expressionIDs []string) (string, []any, error) {
	q := paragraphSelect("0.0").
		Where("strpos(lower(p.text), ?) > 0", needle).
		OrderBy("p.paragraph_id").
		Limit(uint64(limit))
	if len(expressionIDs) > 0 {
		q = q.Where(sq.Eq{"e.expression_id": expressionIDs})
	}
	return q.ToSql()
}

func locateQuery(kind, id string) (string, []any, error) {
	switch kind {
	case store.KindWork:
		return psql.Select("work_id", "''").From("lex_works").Where(sq.Eq{"work_id": id}).Limit(1).ToSql()
	case store.KindExpression:
		return psql.Select("work_id", "expression_id").From("lex_expressions").Where(sq.Eq{"expression_id": id}).Limit(1).ToSql()
	case store.KindArticle:
		return psql.Select("e.work_id", "e.expression_id").
			From("lex_articles a").
			Join("lex_expressions e ON e.expression_id = a.expression_id").
			Where(sq.Eq{"a.article_id": id}).Limit(1).ToSql()
	case store.KindParagraph:
		return psql.Select("e.work_id", "e.expression_id").
			From("lex_paragraphs p").
			Join("lex_articles a ON a.article_id = p.article_id").
			Join("lex_expressions e ON e.expression_id = a.expression_id").
			Where(sq.Eq{"p.paragraph_id": id}).Limit(1).ToSql()
	}
	return "", nil, store.Permanent(fmt.Errorf("unknown component kind %q", kind))
}

// formatVector renders a pgvector literal.
func formatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// =============================================================================
// store.Store
// =============================================================================

// ListWorks returns matching Works ordered by id.
func (s *Store) ListWorks(ctx context.Context, filter datatypes.WorkFilter) ([]datatypes.Work, error) {
	ctx, span := tracer.Start(ctx, "ListWorks")
	defer span.End()

	query, args, err := listWorksQuery(filter)
	if err != nil {
		return nil, store.Permanent(err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list works failed")
		return nil, fmt.Errorf("postgres list works: %w", err)
	}
	works, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datatypes.Work, error) {
		var w datatypes.Work
		err := row.Scan(&w.ID, &w.Title, &w.Jurisdiction, &w.AuthorityLevel, &w.CelexID, &w.Aliases)
		if len(w.Aliases) == 0 {
			w.Aliases = nil
		}
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres scan works: %w", err)
	}
	span.SetAttributes(attribute.Int("works", len(works)))
	return works, nil
}

// FindExpressionsForWork returns the Expressions of workID ordered by
// valid_from.
func (s *Store) FindExpressionsForWork(ctx context.Context, workID string) ([]datatypes.Expression, error) {
	ctx, span := tracer.Start(ctx, "FindExpressionsForWork")
	defer span.End()
	span.SetAttributes(attribute.String("work_id", workID))

	query, args, err := expressionsQuery(workID)
	if err != nil {
		return nil, store.Permanent(err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find expressions failed")
		return nil, fmt.Errorf("postgres find expressions: %w", err)
	}
	exprs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datatypes.Expression, error) {
		var (
			e  datatypes.Expression
			to *time.Time
		)
		if err := row.Scan(&e.ID, &e.WorkID, &e.ValidFrom, &to, &e.Language); err != nil {
			return e, err
		}
		e.ValidFrom = datatypes.CivilDate(e.ValidFrom)
		if to != nil {
			d := datatypes.CivilDate(*to)
			e.ValidTo = &d
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres scan expressions: %w", err)
	}
	return exprs, nil
}

// SimilaritySearch orders paragraphs by pgvector cosine distance.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, candidateLimit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	ctx, span := tracer.Start(ctx, "SimilaritySearch")
	defer span.End()
	span.SetAttributes(attribute.Int("candidate_limit", candidateLimit))
	if candidateLimit <= 0 {
		return nil, nil
	}

	query, args, err := similarityQuery(embedding, candidateLimit, expressionIDs)
	if err != nil {
		return nil, store.Permanent(err)
	}
	return s.candidates(ctx, span, query, args, datatypes.RetrievalModeVector)
}

// KeywordSearch matches lowercased paragraph text.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, expressionIDs []string) ([]datatypes.Candidate, error) {
	ctx, span := tracer.Start(ctx, "KeywordSearch")
	defer span.End()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" || limit <= 0 {
		return nil, nil
	}
	sqlText, args, err := keywordQuery(needle, limit, expressionIDs)
	if err != nil {
		return nil, store.Permanent(err)
	}
	return s.candidates(ctx, span, sqlText, args, datatypes.RetrievalModeKeyword)
}

// SearchItems finds Works and Articles whose title, number, id or alias
// contains query, one query per kind.
func (s *Store) SearchItems(ctx context.Context, query string, filter datatypes.WorkFilter, limit int) ([]datatypes.Item, error) {
	ctx, span := tracer.Start(ctx, "SearchItems")
	defer span.End()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	limit = max(limit, 1)

	sqlText, args, err := itemWorksQuery(needle, filter, limit)
	if err != nil {
		return nil, store.Permanent(err)
	}
	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search items failed")
		return nil, fmt.Errorf("postgres search works: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datatypes.Item, error) {
		var (
			w      datatypes.Work
			coarse int
		)
		if err := row.Scan(&w.ID, &w.Title, &w.Jurisdiction, &w.CelexID, &w.Aliases, &coarse); err != nil {
			return datatypes.Item{}, err
		}
		return store.WorkItem(w, store.ScoreWork(query, w)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres scan work items: %w", err)
	}

	sqlText, args, err = itemArticlesQuery(needle, filter, limit)
	if err != nil {
		return nil, store.Permanent(err)
	}
	rows, err = s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search items failed")
		return nil, fmt.Errorf("postgres search articles: %w", err)
	}
	articles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datatypes.Item, error) {
		var (
			a      datatypes.Article
			workID string
			coarse int
		)
		if err := row.Scan(&a.ID, &a.Number, &a.Title, &workID, &coarse); err != nil {
			return datatypes.Item{}, err
		}
		return store.ArticleItem(a, workID, store.ScoreArticle(query, a)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres scan article items: %w", err)
	}

	items = store.RankItems(append(items, articles...), limit)
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

// LocateComponent resolves a component id to its Work and Expression.
func (s *Store) LocateComponent(ctx context.Context, kind, id string) (string, string, error) {
	query, args, err := locateQuery(kind, id)
	if err != nil {
		return "", "", err
	}
	var workID, exprID string
	err = s.pool.QueryRow(ctx, query, args...).Scan(&workID, &exprID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("%s %q: %w", kind, id, datatypes.ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("postgres locate %s: %w", kind, err)
	}
	return workID, exprID, nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) candidates(ctx context.Context, span trace.Span, query string, args []any, mode string) ([]datatypes.Candidate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, mode+" search failed")
		return nil, fmt.Errorf("postgres %s search: %w", mode, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datatypes.Candidate, error) {
		c := datatypes.Candidate{RetrievalMode: mode}
		err := row.Scan(&c.ParagraphID, &c.ParagraphNumber, &c.Text,
			&c.ArticleID, &c.ArticleNumber, &c.ExpressionID, &c.WorkID, &c.Score)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres scan candidates: %w", err)
	}
	span.SetAttributes(attribute.Int("candidates", len(out)))
	return out, nil
}
