// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var storeTracer = otel.Tracer("aleutian.lex.store")

// Retry defaults.
const (
	// DefaultMaxAttempts counts the first call. Two attempts means one retry.
	DefaultMaxAttempts = 2

	// DefaultInitialDelay doubles on each subsequent retry.
	DefaultInitialDelay = 100 * time.Millisecond

	// DefaultAttemptTimeout bounds a single store call.
	DefaultAttemptTimeout = 5 * time.Second
)

// RetryPolicy controls how store calls are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	AttemptTimeout time.Duration

	// OnRetry is called before each retry with the operation name.
	// Used to feed Prometheus counters.
	OnRetry func(op string)
}

// DefaultRetryPolicy returns two attempts with 100ms initial backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialDelay:   DefaultInitialDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	return p
}

// callDuration is created lazily against the global MeterProvider, so it
// picks up whatever telemetry.Init installed.
func callDuration() metric.Float64Histogram {
	h, _ := otel.Meter("aleutian.lex.store").Float64Histogram(
		"lex.store.call.duration",
		metric.WithDescription("Duration of individual store calls"),
		metric.WithUnit("s"),
	)
	return h
}

// Do runs fn under the retry policy and returns its result.
//
// # Description
//
// Each attempt gets its own timeout when AttemptTimeout is set. Between
// attempts Do waits InitialDelay, doubling each time, and aborts if ctx is
// done. Context cancellation from the caller is never retried and is
// returned unchanged, as are errors wrapping datatypes.ErrNotFound. Errors
// marked with Permanent stop the loop at once. Those and the last error of
// an exhausted policy are wrapped in *datatypes.RetrievalUnavailableError.
//
// # Example
//
//	exprs, err := store.Do(ctx, policy, "find_expressions", func(ctx context.Context) ([]datatypes.Expression, error) {
//	    return s.FindExpressionsForWork(ctx, workID)
//	})
func Do[T any](ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	ctx, span := storeTracer.Start(ctx, "store."+op)
	defer span.End()
	span.SetAttributes(attribute.Int("max_attempts", policy.MaxAttempts))

	hist := callDuration()

	var zero T
	var lastErr error
	retryDelay := policy.InitialDelay

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			span.AddEvent("retry_attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("delay", retryDelay.String()),
			))
			slog.WarnContext(ctx, "Retrying store call",
				"op", op,
				"attempt", attempt,
				"delay", retryDelay,
				"lastError", lastErr,
			)
			if policy.OnRetry != nil {
				policy.OnRetry(op)
			}

			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context canceled during retry")
				return zero, ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}

		start := time.Now()
		result, err := callOnce(ctx, policy.AttemptTimeout, fn)
		if hist != nil {
			hist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				attribute.String("op", op),
				attribute.Bool("ok", err == nil),
			))
		}
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return result, nil
		}

		// Caller cancellation wins over retry.
		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "context canceled")
			return zero, ctx.Err()
		}
		if !isRetryableError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "non-retryable error")
			if errors.Is(err, datatypes.ErrNotFound) {
				return zero, err
			}
			return zero, &datatypes.RetrievalUnavailableError{Op: op, Attempts: attempt + 1, Err: err}
		}
		lastErr = err
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all retries exhausted")
	return zero, &datatypes.RetrievalUnavailableError{Op: op, Attempts: policy.MaxAttempts, Err: lastErr}
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := fn(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return result, &attemptTimeoutError{timeout: timeout}
	}
	return result, err
}

// Permanent marks err as not worth retrying, e.g. a malformed query.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// isRetryableError reports whether another attempt may succeed. Lookups
// that found nothing and errors marked Permanent are final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	return !errors.Is(err, datatypes.ErrNotFound)
}

type attemptTimeoutError struct {
	timeout time.Duration
}

func (e *attemptTimeoutError) Error() string {
	return "store call exceeded attempt timeout of " + e.timeout.String()
}
