// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	status int
	typ    string
}

func (e *statusErr) Error() string    { return fmt.Sprintf("status %d %s", e.status, e.typ) }
func (e *statusErr) HTTPStatus() int   { return e.status }
func (e *statusErr) ErrorType() string { return e.typ }

type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, d)
	return ctx.Err()
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default policy is valid", policy: DefaultPolicy()},
		{
			name:    "rate limited base must exceed overloaded base",
			policy:  Policy{RateLimitedBase: time.Second, OverloadedBase: time.Second, MaxDelay: time.Minute},
			wantErr: true,
		},
		{
			name:    "zero overloaded base is invalid",
			policy:  Policy{RateLimitedBase: time.Second, MaxDelay: time.Minute},
			wantErr: true,
		},
		{
			name:    "max delay below base is invalid",
			policy:  Policy{RateLimitedBase: 2 * time.Second, OverloadedBase: time.Second, MaxDelay: time.Second},
			wantErr: true,
		},
		{
			name:    "negative jitter is invalid",
			policy:  Policy{RateLimitedBase: 2 * time.Second, OverloadedBase: time.Second, MaxDelay: time.Minute, Jitter: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 2*time.Second, p.Backoff(KindRateLimited, 1))
	assert.Equal(t, 4*time.Second, p.Backoff(KindRateLimited, 2))
	assert.Equal(t, 8*time.Second, p.Backoff(KindRateLimited, 3))
	assert.Equal(t, 1*time.Second, p.Backoff(KindOverloaded, 1))
	assert.Equal(t, 2*time.Second, p.Backoff(KindOverloaded, 2))
	assert.Equal(t, time.Duration(0), p.Backoff(KindFatal, 1))
	assert.Equal(t, p.MaxDelay, p.Backoff(KindRateLimited, 20))

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Greater(t, p.Backoff(KindRateLimited, attempt), p.Backoff(KindOverloaded, attempt),
			"rate limiting must be penalized more heavily at attempt %d", attempt)
	}
}

func TestPolicy_Schedule(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, p.Schedule(KindOverloaded, 4))
	assert.Nil(t, p.Schedule(KindFatal, 4))
	assert.Nil(t, p.Schedule(KindRateLimited, 1))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOK},
		{"sentinel rate limit", fmt.Errorf("call: %w", ErrRateLimited), KindRateLimited},
		{"sentinel overload", ErrOverloaded, KindOverloaded},
		{"status 429", &statusErr{status: 429}, KindRateLimited},
		{"status 529", &statusErr{status: 529}, KindOverloaded},
		{"status 503", &statusErr{status: 503}, KindOverloaded},
		{"overloaded type on 500", &statusErr{status: 500, typ: "overloaded_error"}, KindOverloaded},
		{"status 400", &statusErr{status: 400, typ: "invalid_request_error"}, KindFatal},
		{"plain error", errors.New("boom"), KindFatal},
		{"context canceled", context.Canceled, KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestExecute_SuccessOnFirstAttempt(t *testing.T) {
	rec := &waitRecorder{}
	exec := NewExecutor(DefaultPolicy(), WithWaitFunc(rec.wait))

	calls := 0
	got, err := Execute(context.Background(), exec, 3, func(ctx context.Context, attempt int) Outcome[string] {
		calls++
		return Ok("done")
	})

	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestExecute_RateLimitedTwiceThenSuccess(t *testing.T) {
	rec := &waitRecorder{}
	policy := DefaultPolicy()
	exec := NewExecutor(policy, WithWaitFunc(rec.wait))

	calls := 0
	got, err := Execute(context.Background(), exec, 5, func(ctx context.Context, attempt int) Outcome[int] {
		calls++
		if attempt <= 2 {
			return RateLimited[int](&statusErr{status: 429})
		}
		return Ok(42)
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	require.Len(t, rec.delays, 2)
	for i, d := range rec.delays {
		lower := policy.Backoff(KindRateLimited, i+1)
		assert.GreaterOrEqual(t, d, lower, "wait %d below deterministic bound", i+1)
		assert.Less(t, d, lower+policy.Jitter, "wait %d exceeds jitter bound", i+1)
	}
}

func TestExecute_FatalIsNotRetried(t *testing.T) {
	rec := &waitRecorder{}
	exec := NewExecutor(DefaultPolicy(), WithWaitFunc(rec.wait))
	fatal := errors.New("bad request")

	calls := 0
	_, err := Execute(context.Background(), exec, 5, func(ctx context.Context, attempt int) Outcome[int] {
		calls++
		return Fatal[int](fatal)
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestExecute_ExhaustsBudget(t *testing.T) {
	rec := &waitRecorder{}
	exec := NewExecutor(DefaultPolicy(), WithWaitFunc(rec.wait), WithJitter(func(time.Duration) time.Duration { return 0 }))

	calls := 0
	_, err := Execute(context.Background(), exec, 3, func(ctx context.Context, attempt int) Outcome[int] {
		calls++
		return Overloaded[int](ErrOverloaded)
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, KindOverloaded, exhausted.Kind)
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestExecute_FromClassifiesErrors(t *testing.T) {
	rec := &waitRecorder{}
	exec := NewExecutor(DefaultPolicy(), WithWaitFunc(rec.wait))

	_, err := Execute(context.Background(), exec, 4, func(ctx context.Context, attempt int) Outcome[string] {
		if attempt == 1 {
			return From("", error(&statusErr{status: 529}))
		}
		return From("ok", nil)
	})

	require.NoError(t, err)
	require.Len(t, rec.delays, 1)
	assert.GreaterOrEqual(t, rec.delays[0], time.Second)
}

func TestExecute_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(DefaultPolicy(), WithWaitFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := Execute(ctx, exec, 5, func(ctx context.Context, attempt int) Outcome[int] {
		return RateLimited[int](ErrRateLimited)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_RetryHook(t *testing.T) {
	var kinds []Kind
	exec := NewExecutor(DefaultPolicy(),
		WithWaitFunc(func(context.Context, time.Duration) error { return nil }),
		WithRetryHook(func(kind Kind, attempt int, delay time.Duration) { kinds = append(kinds, kind) }))

	_, err := Execute(context.Background(), exec, 3, func(ctx context.Context, attempt int) Outcome[int] {
		switch attempt {
		case 1:
			return RateLimited[int](ErrRateLimited)
		case 2:
			return Overloaded[int](ErrOverloaded)
		}
		return Ok(1)
	})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindRateLimited, KindOverloaded}, kinds)
}

func TestTimerWait_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerWait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
