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
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, AttemptTimeout: time.Second}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(), "op", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesOnceThenSucceeds(t *testing.T) {
	calls := 0
	retries := 0
	policy := fastPolicy()
	policy.OnRetry = func(op string) {
		assert.Equal(t, "similarity_search", op)
		retries++
	}

	got, err := Do(context.Background(), policy, "similarity_search", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, retries)
}

func TestDo_ExhaustedReturnsRetrievalUnavailable(t *testing.T) {
	calls := 0
	cause := errors.New("connection refused")
	_, err := Do(context.Background(), fastPolicy(), "find_expressions", func(ctx context.Context) (int, error) {
		calls++
		return 0, cause
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	var unavailable *datatypes.RetrievalUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "find_expressions", unavailable.Op)
	assert.Equal(t, 2, unavailable.Attempts)
	assert.ErrorIs(t, err, cause)
}

func TestDo_CanceledContextNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, fastPolicy(), "op", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.False(t, datatypes.IsRetrievalUnavailable(err))
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	policy := fastPolicy()
	policy.AttemptTimeout = 10 * time.Millisecond
	calls := 0

	got, err := Do(context.Background(), policy, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultInitialDelay, p.InitialDelay)
}

func TestDo_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), "locate_component", func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("article %q: %w", "A9", datatypes.ErrNotFound)
	})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.False(t, datatypes.IsRetrievalUnavailable(err))
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentIsNotRetried(t *testing.T) {
	calls := 0
	cause := errors.New("syntax error in query")
	_, err := Do(context.Background(), fastPolicy(), "similarity_search", func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)

	var unavailable *datatypes.RetrievalUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "similarity_search", unavailable.Op)
	assert.Equal(t, 1, unavailable.Attempts)
}

func TestDo_PermanentNotFoundStaysBare(t *testing.T) {
	_, err := Do(context.Background(), fastPolicy(), "locate_component", func(ctx context.Context) (int, error) {
		return 0, Permanent(fmt.Errorf("work %q: %w", "EU-NOPE", datatypes.ErrNotFound))
	})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.False(t, datatypes.IsRetrievalUnavailable(err))
}
