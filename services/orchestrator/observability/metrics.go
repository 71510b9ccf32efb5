// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for the answer pipeline.
// Metrics include:
//   - Request counters (by terminal status, refusal category)
//   - Stage latency histograms
//   - Retry and rejection counters (store, generation, citation)
//   - Evidence size and scope filter drops
//   - HTTP request and rate-limit counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for answer pipeline metrics
const lexSubsystem = "lex"

// Stage names used as the "stage" label.
const (
	StagePreGuard  = "pre_guard"
	StageEmbed     = "embed"
	StageResolve   = "resolve"
	StageRetrieve  = "retrieve"
	StageGenerate  = "generate"
	StageCitations = "citations"
	StagePostGuard = "post_guard"
	StageTotal     = "total"
)

// AnswerMetrics holds all Prometheus metrics for the answer pipeline.
//
// # Description
//
// Initialize once at startup via InitMetrics(), or with NewAnswerMetrics
// against a private registry in tests.
//
// # Thread Safety
//
// All operations are thread-safe.
type AnswerMetrics struct {
	// RequestsTotal counts answers by terminal status.
	// Labels: status (DONE, REFUSED, FAILED)
	RequestsTotal *prometheus.CounterVec

	// RefusalsTotal counts refusals by generic category.
	// Labels: category
	RefusalsTotal *prometheus.CounterVec

	// StageDurationSeconds measures each pipeline step.
	// Labels: stage
	StageDurationSeconds *prometheus.HistogramVec

	// CitationRejectionsTotal counts drafts that failed citation validation.
	// Labels: attempt (1, 2)
	CitationRejectionsTotal *prometheus.CounterVec

	// StoreRetriesTotal counts store call retries.
	// Labels: op
	StoreRetriesTotal *prometheus.CounterVec

	// GenerationRetriesTotal counts transient generation retries.
	GenerationRetriesTotal prometheus.Counter

	// EvidenceSize observes the number of evidence items per request.
	EvidenceSize prometheus.Histogram

	// ScopeFilterDropsTotal counts candidates removed by the scope filter.
	ScopeFilterDropsTotal prometheus.Counter

	// InvariantViolationsTotal counts works excluded for interval errors.
	InvariantViolationsTotal prometheus.Counter

	// HTTPRequestsTotal counts HTTP requests by route, method and code.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDurationSeconds measures HTTP latency by route.
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of AnswerMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AnswerMetrics

// InitMetrics registers the metrics with the default registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *AnswerMetrics {
	DefaultMetrics = NewAnswerMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewAnswerMetrics creates and registers all metrics with reg.
func NewAnswerMetrics(reg prometheus.Registerer) *AnswerMetrics {
	factory := promauto.With(reg)
	return &AnswerMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lexSubsystem,
				Name:      "requests_total",
				Help:      "Total answer requests by terminal status",
			},
			[]string{"status"},
		),

		RefusalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lexSubsystem,
				Name:      "refusals_total",
				Help:      "Total refusals by category",
			},
			[]string{"category"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: lexSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Duration of answer pipeline stages in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),

		CitationRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lexSubsystem,
				Name:      "citation_rejections_total",
				Help:      "Drafts rejected by citation validation",
			},
			[]string{"attempt"},
		),

		StoreRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lexSubsystem,
				Name:      "store_retries_total",
				Help:      "Store call retries by operation",
			},
			[]string{"op"},
		),

		GenerationRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lexSubsystem,
			Name:      "generation_retries_total",
			Help:      "Generation retries after transient failures",
		}),

		EvidenceSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: lexSubsystem,
			Name:      "evidence_size",
			Help:      "Evidence items per answered request",
			Buckets:   []float64{0, 1, 2, 4, 6, 10, 20, 50},
		}),

		ScopeFilterDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lexSubsystem,
			Name:      "scope_filter_drops_total",
			Help:      "Candidates removed because their expression was out of scope",
		}),

		InvariantViolationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lexSubsystem,
			Name:      "invariant_violations_total",
			Help:      "Works excluded from scope for overlapping or invalid intervals",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lexSubsystem,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),

		HTTPRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: lexSubsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),

		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lexSubsystem,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================
//
// All helpers are nil-safe so components can run without metrics.

// RecordOutcome records a terminal status and, for refusals, its category.
func (m *AnswerMetrics) RecordOutcome(status, category string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	if category != "" {
		m.RefusalsTotal.WithLabelValues(category).Inc()
	}
}

// ObserveStage records how long a stage took since start.
func (m *AnswerMetrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordCitationRejection counts a rejected draft for the given attempt.
func (m *AnswerMetrics) RecordCitationRejection(attempt int) {
	if m == nil {
		return
	}
	m.CitationRejectionsTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// RecordStoreRetry matches store.RetryPolicy.OnRetry.
func (m *AnswerMetrics) RecordStoreRetry(op string) {
	if m == nil {
		return
	}
	m.StoreRetriesTotal.WithLabelValues(op).Inc()
}

// RecordGenerationRetry counts a transient generation retry.
func (m *AnswerMetrics) RecordGenerationRetry() {
	if m == nil {
		return
	}
	m.GenerationRetriesTotal.Inc()
}

// RecordEvidence observes an evidence set size.
func (m *AnswerMetrics) RecordEvidence(n int) {
	if m == nil {
		return
	}
	m.EvidenceSize.Observe(float64(n))
}

// RecordScopeDrops matches retrieval.WithDropHook.
func (m *AnswerMetrics) RecordScopeDrops(n int) {
	if m == nil {
		return
	}
	m.ScopeFilterDropsTotal.Add(float64(n))
}

// RecordInvariantViolation matches temporal.WithInvariantHook.
func (m *AnswerMetrics) RecordInvariantViolation(workID string) {
	if m == nil {
		return
	}
	m.InvariantViolationsTotal.Inc()
}

// RecordHTTP records a finished HTTP request.
func (m *AnswerMetrics) RecordHTTP(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordRateLimited counts a rate-limited request.
func (m *AnswerMetrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
