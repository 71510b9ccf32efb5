// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the answering service.
//
// This package wires every component of the service from a config.Config:
// the graph store, the embedder and its cache, the scope resolver, the
// hybrid retriever, the refusal guardrail, the generation backend, the
// answer pipeline and the HTTP router with its observability middleware.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/embeddings"
	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/config"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/memory"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/neo4j"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/postgres"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/weaviate"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/AleutianAI/AleutianLex/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the assembled service.
//
// # Description
//
// Service exposes the HTTP lifecycle and the two application services so
// the CLI can answer questions without starting a listener.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Close is called exactly once, after Run has returned
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully within the configured shutdown timeout.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, primarily for testing.
	Router() *gin.Engine

	// Answer returns the answer pipeline.
	Answer() *services.AnswerService

	// Actions returns the scope and search actions.
	Actions() *services.ActionService

	// Store returns the graph store.
	Store() store.Store

	// Close releases the store, the embedding cache, the generation
	// backend and the telemetry exporters.
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// Option customizes New.
type Option func(*service)

// WithRegistry registers the answer metrics with reg instead of the
// default Prometheus registry. Tests pass a fresh registry per service.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *service) { s.registry = reg }
}

// WithGenerator replaces the LLM-backed generator. No generation backend
// client is created.
func WithGenerator(g services.Generator) Option {
	return func(s *service) { s.generator = g }
}

// WithStore replaces the configured store backend.
func WithStore(st store.Store) Option {
	return func(s *service) { s.store = st }
}

// WithoutTelemetry skips global OpenTelemetry setup.
func WithoutTelemetry() Option {
	return func(s *service) { s.skipTelemetry = true }
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - cfg: Loaded configuration
//   - router: Gin HTTP engine
//   - closers: Released in reverse order by Close
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New
// returns.
type service struct {
	cfg *config.Config

	registry      prometheus.Registerer
	skipTelemetry bool

	metrics   *observability.AnswerMetrics
	store     store.Store
	embedder  embeddings.Embedder
	resolver  *temporal.Resolver
	retriever *retrieval.Retriever
	policy    *policy_engine.PolicyEngine
	llmClient llm.LLMClient
	prompts   *llm.PromptTemplates
	generator services.Generator
	answer    *services.AnswerService
	actions   *services.ActionService
	limiter   *middleware.ClientRateLimiter
	router    *gin.Engine

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New builds every component named by cfg.
//
// # Description
//
// Components are created bottom-up: telemetry and metrics first, then the
// embedder, the store, the resolver and retriever, the generator, the
// guardrail, the application services and finally the router. On failure
// everything created so far is released.
//
// # Inputs
//
//   - ctx: Bounds store connection and fixture embedding
//   - cfg: Validated configuration (see config.Load)
//   - opts: Test and embedding overrides
//
// # Outputs
//
//   - Service: Ready to Run
//   - error: Non-nil if any component fails to initialize
func New(ctx context.Context, cfg *config.Config, opts ...Option) (Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	s := &service{cfg: cfg, registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(s)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", s.initTelemetry},
		{"metrics", s.initMetrics},
		{"embedder", s.initEmbedder},
		{"store", s.initStore},
		{"retrieval", s.initRetrieval},
		{"generation", s.initGeneration},
		{"policy", s.initPolicy},
		{"services", s.initServices},
		{"router", s.initRouter},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}

	slog.Info("Service initialized",
		"store", cfg.Store.Backend,
		"embeddings", cfg.Embeddings.Provider,
		"llm", cfg.LLM.Backend,
		"auth", cfg.ServiceToken != nil,
	)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run serves HTTP until ctx is cancelled or the listener fails.
//
// # Description
//
// On cancellation the server stops accepting connections and waits up to
// ShutdownTimeout for in-flight answers. Run does not call Close.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server", "timeout", s.cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Answer() *services.AnswerService { return s.answer }

func (s *service) Actions() *services.ActionService { return s.actions }

func (s *service) Store() store.Store { return s.store }

// Close releases resources in reverse creation order and joins the errors.
func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.close(); err != nil {
			slog.Warn("Close failed", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *service) onClose(name string, fn func() error) {
	s.closers = append(s.closers, namedCloser{name: name, close: fn})
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initTelemetry(ctx context.Context) error {
	if s.skipTelemetry {
		return nil
	}
	shutdown, err := telemetry.Init(ctx, s.cfg.Telemetry)
	if err != nil {
		return err
	}
	s.onClose("telemetry", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
	return nil
}

func (s *service) initMetrics(context.Context) error {
	if s.registry == prometheus.DefaultRegisterer {
		s.metrics = observability.InitMetrics()
		return nil
	}
	s.metrics = observability.NewAnswerMetrics(s.registry)
	return nil
}

// initEmbedder creates the configured embedder and wraps it in the badger
// cache when enabled.
func (s *service) initEmbedder(context.Context) error {
	e, err := embeddings.New(s.cfg.Embeddings)
	if err != nil {
		return err
	}
	s.embedder = e

	if !s.cfg.Cache.Enabled {
		return nil
	}
	cached, err := embeddings.NewCachedEmbedder(e, embeddings.CacheConfig{
		Path:     expandHome(s.cfg.Cache.Path),
		InMemory: s.cfg.Cache.InMemory,
		TTL:      s.cfg.Cache.TTL,
		Logger:   slog.Default().With("component", "embedding_cache"),
	})
	if err != nil {
		return err
	}
	s.embedder = cached
	s.onClose("embedding cache", cached.Close)
	return nil
}

// initStore opens the configured backend. The memory backend embeds
// fixture paragraphs that carry no vector with the service embedder, so
// stored and query vectors always share a model.
func (s *service) initStore(ctx context.Context) error {
	if s.store == nil {
		st, err := openStore(ctx, s.cfg.Store, s.embedder)
		if err != nil {
			return err
		}
		s.store = st
	}
	s.onClose("store", s.store.Close)

	if m, ok := s.store.(*memory.Store); ok {
		st := m.Stats()
		slog.Info("Loaded fixture arena",
			"works", st.Works,
			"expressions", st.Expressions,
			"paragraphs", st.Paragraphs,
			"embedded", st.Embedded,
		)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, e embeddings.Embedder) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return memory.Open(ctx, cfg.Fixture, e.Embed)
	case config.StoreWeaviate:
		return weaviate.New(cfg.Weaviate)
	case config.StoreNeo4j:
		return neo4j.New(ctx, cfg.Neo4j)
	case config.StorePostgres:
		return postgres.New(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (s *service) retryPolicy() store.RetryPolicy {
	p := s.cfg.Store.Retry.Policy()
	p.OnRetry = s.metrics.RecordStoreRetry
	return p
}

func (s *service) initRetrieval(context.Context) error {
	policy := s.retryPolicy()
	s.resolver = temporal.NewResolver(s.store, s.cfg.Temporal,
		temporal.WithRetryPolicy(policy),
		temporal.WithInvariantHook(s.metrics.RecordInvariantViolation),
	)
	s.retriever = retrieval.NewRetriever(s.store, s.embedder, s.cfg.Retrieval,
		retrieval.WithRetryPolicy(policy),
		retrieval.WithDropHook(s.metrics.RecordScopeDrops),
	)
	return nil
}

// initGeneration creates the LLM client and prompt templates unless a
// generator was injected. The model classifier shares the client.
func (s *service) initGeneration(ctx context.Context) error {
	prompts, err := s.loadPrompts()
	if err != nil {
		return err
	}
	s.prompts = prompts

	if s.generator != nil && !s.cfg.Policy.ModelClassifier {
		return nil
	}

	client, err := llm.New(ctx, s.cfg.LLM)
	if err != nil {
		return err
	}
	s.llmClient = client
	if c, ok := client.(io.Closer); ok {
		s.onClose("llm client", c.Close)
	}

	if s.generator == nil {
		g, err := services.NewPromptGenerator(client, prompts, 0)
		if err != nil {
			return err
		}
		s.generator = g
	}
	return nil
}

func (s *service) loadPrompts() (*llm.PromptTemplates, error) {
	if s.cfg.PromptsFile != "" {
		return llm.LoadPrompts(s.cfg.PromptsFile)
	}
	return llm.DefaultPrompts()
}

func (s *service) initPolicy(context.Context) error {
	var opts []policy_engine.Option
	if s.cfg.Policy.ModelClassifier {
		opts = append(opts, policy_engine.WithClassifier(policy_engine.NewModelClassifier(s.llmClient, s.prompts)))
	}
	if s.cfg.Policy.MinFaithfulness > 0 {
		opts = append(opts, policy_engine.WithMinFaithfulness(s.cfg.Policy.MinFaithfulness))
	}

	var err error
	if s.cfg.Policy.File != "" {
		s.policy, err = policy_engine.NewPolicyEngineFromFile(s.cfg.Policy.File, opts...)
	} else {
		s.policy, err = policy_engine.NewPolicyEngine(opts...)
	}
	return err
}

func (s *service) initServices(context.Context) error {
	s.answer = services.NewAnswerService(s.resolver, s.retriever, s.policy, s.generator, s.metrics, s.cfg.Answer)
	s.actions = services.NewActionService(s.resolver, s.retriever, s.store)

	if s.cfg.RateLimit.Enabled {
		s.limiter = middleware.NewClientRateLimiter(s.cfg.RateLimit)
		s.limiter.OnLimited = s.metrics.RecordRateLimited
	}
	return nil
}

// initRouter creates the Gin engine, applies tracing middleware and
// registers all routes.
func (s *service) initRouter(context.Context) error {
	if s.cfg.Server.GinMode != "" {
		gin.SetMode(s.cfg.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.cfg.Telemetry.ServiceName))

	metricsHandler := telemetry.MetricsHandler()
	if g, ok := s.registry.(prometheus.Gatherer); ok && s.registry != prometheus.DefaultRegisterer {
		metricsHandler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Answer:         s.answer,
		Actions:        s.actions,
		Store:          s.store,
		Metrics:        s.metrics,
		MetricsHandler: metricsHandler,
		ServiceToken:   s.cfg.ServiceToken,
		RateLimiter:    s.limiter,
	})
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
