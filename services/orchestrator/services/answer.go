// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers and the CLI. Services are responsible for:
//   - Sequencing the scope resolver, retriever, guardrail and generator
//   - Enforcing the citation contract on generated answers
//   - Mapping failures onto the REFUSED and FAILED outcomes
//
// Dependencies are injected via constructors as interfaces, and every
// method accepts a context for cancellation and tracing.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLex/pkg/logging"
	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/citations"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/AleutianAI/AleutianLex/services/policy_engine"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var answerTracer = otel.Tracer("aleutian.lex.services.answer")

// =============================================================================
// Interfaces
// =============================================================================

// ScopeResolver computes the Expressions in force for a request.
// *temporal.Resolver implements it.
type ScopeResolver interface {
	Resolve(ctx context.Context, filter datatypes.WorkFilter, asOf *time.Time) (datatypes.ScopedContext, error)
	MatchWorks(ctx context.Context, question string, filter datatypes.WorkFilter) ([]datatypes.Work, error)
	Today() time.Time
}

// EvidenceRetriever embeds questions and retrieves scoped evidence.
// *retrieval.Retriever implements it.
type EvidenceRetriever interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Retrieve(ctx context.Context, q datatypes.RetrievalQuery, scope datatypes.ScopedContext) (datatypes.EvidenceSet, error)
}

// Guardrail decides whether a question may be answered and whether a draft
// may be returned. *policy_engine.PolicyEngine implements it.
type Guardrail interface {
	PreCheck(ctx context.Context, question string) (policy_engine.Decision, error)
	PostCheck(ctx context.Context, question, draft string, evidenceTexts []string) (policy_engine.Decision, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Generation retry defaults.
const (
	DefaultGenerationAttempts = 2
	DefaultGenerationTimeout  = 60 * time.Second
	DefaultBackoffBase        = 200 * time.Millisecond
	DefaultBackoffMax         = 2 * time.Second

	// maxDrafts is the first draft plus one corrective retry.
	maxDrafts = 2
)

// AnswerConfig tunes the generation step.
type AnswerConfig struct {
	// GenerationAttempts is the number of calls per draft when the backend
	// fails transiently, including the first.
	GenerationAttempts int `yaml:"generation_attempts" validate:"gte=0,lte=5"`

	// GenerationTimeout bounds one generator call.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

func (c *AnswerConfig) applyDefaults() {
	if c.GenerationAttempts <= 0 {
		c.GenerationAttempts = DefaultGenerationAttempts
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

// Backoff returns the wait before retry n (1-based):
// min(base·2^(n-1), max).
func (c AnswerConfig) Backoff(n int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < n && d < c.BackoffMax; i++ {
		d *= 2
	}
	if d > c.BackoffMax {
		d = c.BackoffMax
	}
	return d
}

// =============================================================================
// AnswerService
// =============================================================================

// AnswerService runs the citation-grounded answer pipeline.
//
// # Description
//
// Each request moves through
//
//	RECEIVED → PRE_GUARD_CHECKED → SCOPE_RESOLVED → RETRIEVED →
//	GENERATED → CITATIONS_VALIDATED → DONE
//
// and may leave for REFUSED or FAILED at any step. A Response is produced
// only in a terminal state. The service holds no per-request state and is
// safe for concurrent use.
type AnswerService struct {
	resolver  ScopeResolver
	retriever EvidenceRetriever
	guard     Guardrail
	generator Generator
	metrics   *observability.AnswerMetrics
	cfg       AnswerConfig
}

// NewAnswerService creates an AnswerService. metrics may be nil.
func NewAnswerService(
	resolver ScopeResolver,
	retriever EvidenceRetriever,
	guard Guardrail,
	generator Generator,
	metrics *observability.AnswerMetrics,
	cfg AnswerConfig,
) *AnswerService {
	cfg.applyDefaults()
	return &AnswerService{
		resolver:  resolver,
		retriever: retriever,
		guard:     guard,
		generator: generator,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// answerRun tracks one request through the state machine.
type answerRun struct {
	span      trace.Span
	requestID string
	state     datatypes.State
	asOf      time.Time
	exprIDs   []string
	start     time.Time
}

func (r *answerRun) advance(ctx context.Context, to datatypes.State) {
	slog.DebugContext(ctx, "Answer state transition", "from", r.state, "to", to)
	r.span.AddEvent(string(to))
	r.state = to
}

func (r *answerRun) response(status datatypes.Status, text string) *datatypes.Response {
	ids := r.exprIDs
	if ids == nil {
		ids = []string{}
	}
	return &datatypes.Response{
		AnswerText: text,
		Citations:  []datatypes.Citation{},
		ResolvedScope: datatypes.ResolvedScope{
			AsOfDate:      datatypes.FormatDate(r.asOf),
			ExpressionIDs: ids,
		},
		Status:    status,
		RequestID: r.requestID,
	}
}

// errPreGuardRefused stops the concurrent embedding once the guard refuses.
var errPreGuardRefused = errors.New("pre-guard refused")

// Answer answers one question against the temporally scoped corpus.
//
// # Description
//
// The pre-guard and the query embedding run concurrently; a refusal cancels
// the embedding before any store or generator call. The scope is resolved
// at the request's as-of date and evidence is retrieved only from the
// Expressions in scope. The generator sees only that evidence. Its draft is
// accepted when every citation names an evidence paragraph and every
// paragraph carries one; otherwise one corrective draft is requested.
//
// # Outputs
//
//   - DONE and REFUSED return a Response and a nil error.
//   - FAILED returns a Response with status FAILED and the typed error.
//   - Validation failures, *datatypes.InvalidDateError and context errors
//     return a nil Response.
//
// # Errors
//
//   - *datatypes.InvalidDateError: unparseable or out-of-horizon as-of date.
//   - *datatypes.RetrievalUnavailableError: store or embedding failure.
//   - *datatypes.GenerationUnavailableError: generation retries exhausted.
//   - *datatypes.UngroundedAnswerError: both drafts failed validation.
func (s *AnswerService) Answer(ctx context.Context, req datatypes.AnswerRequest) (*datatypes.Response, error) {
	ctx, span := answerTracer.Start(ctx, "AnswerService.Answer")
	defer span.End()

	req.EnsureDefaults()
	if err := datatypes.ValidateRequest(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, fmt.Errorf("invalid answer request: %w", err)
	}

	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = logging.WithRequestID(ctx, requestID)
	}
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("top_k", req.TopK),
		attribute.String("as_of_input", req.AsOf),
	)

	run := &answerRun{
		span:      span,
		requestID: requestID,
		state:     datatypes.StateReceived,
		asOf:      s.resolver.Today(),
		start:     time.Now(),
	}

	asOf, err := temporal.ParseAsOf(req.AsOf)
	if err != nil {
		return s.abort(ctx, run, err)
	}
	if asOf != nil {
		run.asOf = datatypes.CivilDate(*asOf)
	}

	// RECEIVED → PRE_GUARD_CHECKED
	decision, vec, err := s.preGuardAndEmbed(ctx, req.Question)
	if err != nil {
		return s.abort(ctx, run, err)
	}
	run.advance(ctx, datatypes.StatePreGuardChecked)
	if !decision.Allowed {
		return s.refuse(ctx, run, decision.Category), nil
	}

	// PRE_GUARD_CHECKED → SCOPE_RESOLVED
	stageStart := time.Now()
	filter, err := s.scopeFilter(ctx, run, req)
	if err != nil {
		s.metrics.ObserveStage(observability.StageResolve, stageStart)
		return s.abort(ctx, run, err)
	}
	scope, err := s.resolver.Resolve(ctx, filter, asOf)
	s.metrics.ObserveStage(observability.StageResolve, stageStart)
	if err != nil {
		return s.abort(ctx, run, err)
	}
	run.asOf = scope.AsOf
	run.exprIDs = scope.ExpressionIDs()
	run.advance(ctx, datatypes.StateScopeResolved)
	if scope.Empty() {
		return s.refuse(ctx, run, datatypes.RefusalNoEvidenceForDate), nil
	}

	// SCOPE_RESOLVED → RETRIEVED
	stageStart = time.Now()
	evidence, err := s.retriever.Retrieve(ctx, datatypes.RetrievalQuery{
		Text:      req.Question,
		Embedding: vec,
		TopK:      req.TopK,
	}, scope)
	s.metrics.ObserveStage(observability.StageRetrieve, stageStart)
	if err != nil {
		return s.abort(ctx, run, err)
	}
	s.metrics.RecordEvidence(evidence.Len())
	run.advance(ctx, datatypes.StateRetrieved)
	if evidence.Empty() {
		return s.refuse(ctx, run, datatypes.RefusalNoRelevantEvidence), nil
	}

	// RETRIEVED → GENERATED → CITATIONS_VALIDATED
	genReq := GenerationRequest{
		Question:     req.Question,
		AsOf:         datatypes.FormatDate(run.asOf),
		Jurisdiction: req.Jurisdiction,
		Evidence:     evidence,
	}
	var (
		draft  string
		report citations.Report
	)
	for attempt := 1; attempt <= maxDrafts; attempt++ {
		draft, err = s.generate(ctx, genReq)
		if err != nil {
			return s.abort(ctx, run, err)
		}
		run.advance(ctx, datatypes.StateGenerated)

		if strings.TrimSpace(draft) == datatypes.InsufficientInformationMessage {
			return s.refuse(ctx, run, datatypes.RefusalInsufficientEvidence), nil
		}

		stageStart = time.Now()
		report = citations.Validate(draft, evidence)
		s.metrics.ObserveStage(observability.StageCitations, stageStart)
		if report.Valid() {
			break
		}

		s.metrics.RecordCitationRejection(attempt)
		slog.WarnContext(ctx, "Draft rejected by citation validation",
			"attempt", attempt,
			"foreign_ids", report.Foreign,
			"uncited_paragraphs", report.Uncited,
		)
		if attempt == maxDrafts {
			return s.abort(ctx, run, report.Err())
		}
		genReq.CorrectionHint = citations.CorrectionHint(report, evidence)
	}
	run.advance(ctx, datatypes.StateCitationsValidated)

	// CITATIONS_VALIDATED → DONE
	stageStart = time.Now()
	post, err := s.guard.PostCheck(ctx, req.Question, draft, evidence.Texts())
	s.metrics.ObserveStage(observability.StagePostGuard, stageStart)
	if err != nil {
		return s.abort(ctx, run, fmt.Errorf("post-guard: %w", err))
	}
	if !post.Allowed {
		return s.refuse(ctx, run, datatypes.RefusalAnswerOutOfScope), nil
	}

	resp := run.response(datatypes.StatusDone, draft)
	resp.Citations = citations.Resolve(report.Cited, evidence)
	s.finish(ctx, run, resp)
	return resp, nil
}

// scopeFilter returns the Work filter for scope resolution. A request
// without work_ids is narrowed to the Works its question names; a question
// naming none keeps the request filter.
func (s *AnswerService) scopeFilter(ctx context.Context, run *answerRun, req datatypes.AnswerRequest) (datatypes.WorkFilter, error) {
	filter := req.Filter()
	if len(filter.WorkIDs) > 0 {
		return filter, nil
	}
	matched, err := s.resolver.MatchWorks(ctx, req.Question, filter)
	if err != nil {
		return filter, err
	}
	for _, w := range matched {
		filter.WorkIDs = append(filter.WorkIDs, w.ID)
	}
	run.span.SetAttributes(attribute.StringSlice("matched_work_ids", filter.WorkIDs))
	if len(matched) > 0 {
		slog.DebugContext(ctx, "Narrowed scope to works named in question", "work_ids", filter.WorkIDs)
	}
	return filter, nil
}

// preGuardAndEmbed runs the pre-guard and the query embedding concurrently.
// A refusal cancels the embedding and wins over any embedding error.
func (s *AnswerService) preGuardAndEmbed(ctx context.Context, question string) (policy_engine.Decision, []float32, error) {
	var (
		decision policy_engine.Decision
		checked  bool
		vec      []float32
		embedErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		defer s.metrics.ObserveStage(observability.StagePreGuard, start)

		d, err := s.guard.PreCheck(gctx, question)
		if err != nil {
			return fmt.Errorf("pre-guard: %w", err)
		}
		decision, checked = d, true
		if !d.Allowed {
			return errPreGuardRefused
		}
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		defer s.metrics.ObserveStage(observability.StageEmbed, start)

		// Embedding failures do not cancel the guard; a refusal still wins.
		vec, embedErr = s.retriever.Embed(gctx, question)
		return nil
	})
	guardErr := g.Wait()

	if checked && !decision.Allowed {
		return decision, nil, nil
	}
	if ctx.Err() != nil {
		return policy_engine.Decision{}, nil, ctx.Err()
	}
	if guardErr != nil {
		return policy_engine.Decision{}, nil, guardErr
	}
	if embedErr != nil {
		return policy_engine.Decision{}, nil, &datatypes.RetrievalUnavailableError{Op: "embed", Attempts: 1, Err: embedErr}
	}
	return decision, vec, nil
}

// generate calls the generator, retrying transient failures with
// exponential backoff. Each call gets its own timeout.
func (s *AnswerService) generate(ctx context.Context, req GenerationRequest) (string, error) {
	start := time.Now()
	defer s.metrics.ObserveStage(observability.StageGenerate, start)

	var lastErr error
	attempts := 0
	for attempts < s.cfg.GenerationAttempts {
		if attempts > 0 {
			delay := s.cfg.Backoff(attempts)
			s.metrics.RecordGenerationRetry()
			slog.WarnContext(ctx, "Retrying generation after transient failure",
				"attempt", attempts+1,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
		out, err := s.generator.Generate(attemptCtx, req)
		cancel()
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !llm.IsTransient(err) {
			break
		}
	}
	return "", &datatypes.GenerationUnavailableError{Attempts: attempts, Err: lastErr}
}

// refuse terminates the run with REFUSED.
func (s *AnswerService) refuse(ctx context.Context, run *answerRun, category datatypes.RefusalCategory) *datatypes.Response {
	if category == "" {
		category = datatypes.RefusalOutOfScope
	}
	run.advance(ctx, datatypes.StateRefused)
	resp := run.response(datatypes.StatusRefused, category.Message())
	resp.RefusalReason = category
	s.finish(ctx, run, resp)
	return resp
}

// abort maps err onto the caller-facing outcome. Context errors and
// client errors return no Response; everything else is FAILED.
func (s *AnswerService) abort(ctx context.Context, run *answerRun, err error) (*datatypes.Response, error) {
	run.span.RecordError(err)
	if ctx.Err() != nil {
		run.span.SetStatus(codes.Error, "cancelled")
		slog.InfoContext(ctx, "Answer cancelled", "state", run.state)
		return nil, ctx.Err()
	}
	if datatypes.IsInvalidDate(err) {
		run.span.SetStatus(codes.Error, "invalid date")
		return nil, err
	}

	run.span.SetStatus(codes.Error, "answer failed")
	slog.ErrorContext(ctx, "Answer failed",
		"state", run.state,
		"error", err,
	)
	run.advance(ctx, datatypes.StateFailed)
	resp := run.response(datatypes.StatusFailed, datatypes.FailedMessage)
	s.finish(ctx, run, resp)
	return resp, err
}

func (s *AnswerService) finish(ctx context.Context, run *answerRun, resp *datatypes.Response) {
	s.metrics.RecordOutcome(string(resp.Status), string(resp.RefusalReason))
	s.metrics.ObserveStage(observability.StageTotal, run.start)
	run.span.SetAttributes(
		attribute.String("status", string(resp.Status)),
		attribute.String("refusal_reason", string(resp.RefusalReason)),
		attribute.Int("citations", len(resp.Citations)),
	)
	slog.InfoContext(ctx, "Answer completed",
		"status", resp.Status,
		"refusal_reason", resp.RefusalReason,
		"as_of", resp.ResolvedScope.AsOfDate,
		"expressions", len(resp.ResolvedScope.ExpressionIDs),
		"citations", len(resp.Citations),
		"duration_ms", time.Since(run.start).Milliseconds(),
	)
}
