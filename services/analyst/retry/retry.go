// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry guards upstream calls with bounded exponential backoff.
//
// A guarded call reports its result as a tagged Outcome instead of relying on
// error inspection inside the loop. Transient kinds (RateLimited, Overloaded)
// are retried with a delay computed by a pure schedule; Fatal outcomes and
// exhausted budgets are returned to the caller immediately.
//
// Thread Safety: Executor is safe for concurrent use. Each Execute call keeps
// its attempt counter on its own stack.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

// Kind classifies the result of one guarded attempt.
type Kind int

const (
	// KindOK means the call succeeded.
	KindOK Kind = iota

	// KindRateLimited means the upstream rejected the call for quota reasons.
	KindRateLimited

	// KindOverloaded means the upstream is temporarily saturated.
	KindOverloaded

	// KindFatal means the failure will not go away by retrying.
	KindFatal
)

// String returns the metric/log label for the kind.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRateLimited:
		return "rate_limited"
	case KindOverloaded:
		return "overloaded"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Transient reports whether the kind is eligible for another attempt.
func (k Kind) Transient() bool {
	return k == KindRateLimited || k == KindOverloaded
}

// Sentinel errors callers can wrap to force a classification.
var (
	ErrRateLimited = errors.New("upstream rate limited")
	ErrOverloaded  = errors.New("upstream overloaded")
)

// Outcome is the tagged result of one guarded attempt.
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: KindOK, Value: v}
}

// RateLimited wraps a rate-limit failure.
func RateLimited[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindRateLimited, Err: err}
}

// Overloaded wraps an overload failure.
func Overloaded[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindOverloaded, Err: err}
}

// Fatal wraps a non-retryable failure.
func Fatal[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindFatal, Err: err}
}

// From converts a conventional (value, error) pair into an Outcome using
// Classify on the error.
func From[T any](v T, err error) Outcome[T] {
	if err == nil {
		return Ok(v)
	}
	return Outcome[T]{Kind: Classify(err), Err: err}
}

// StatusCoder is implemented by upstream errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// ErrorTyper is implemented by upstream errors that carry a provider error
// type string such as "overloaded_error".
type ErrorTyper interface {
	ErrorType() string
}

// Classify maps an error to a Kind from its status and metadata.
//
// # Description
//
// Checks, in order: the package sentinels, an ErrorTyper type string, and an
// HTTP status (429 rate limited; 503 and 529 overloaded). Everything else,
// including context cancellation, is Fatal.
//
// # Inputs
//
//   - err: The error returned by the guarded call. nil yields KindOK.
//
// # Outputs
//
//   - Kind: The classification.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	if errors.Is(err, ErrRateLimited) {
		return KindRateLimited
	}
	if errors.Is(err, ErrOverloaded) {
		return KindOverloaded
	}

	var typer ErrorTyper
	if errors.As(err, &typer) {
		switch strings.ToLower(typer.ErrorType()) {
		case "rate_limit_error", "rate_limit_exceeded", "requests":
			return KindRateLimited
		case "overloaded_error", "server_overloaded":
			return KindOverloaded
		}
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		switch coder.HTTPStatus() {
		case 429:
			return KindRateLimited
		case 503, 529:
			return KindOverloaded
		}
	}
	return KindFatal
}

// ExhaustedError is returned when a transient failure persists for the whole
// retry budget.
type ExhaustedError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts (%s): %v", e.Attempts, e.Kind, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// WaitFunc suspends the caller for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// TimerWait is the production WaitFunc. It never blocks other goroutines.
func TimerWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// JitterFunc returns a random duration in [0, max).
type JitterFunc func(max time.Duration) time.Duration

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// Executor runs guarded calls under a Policy.
type Executor struct {
	policy  Policy
	wait    WaitFunc
	jitter  JitterFunc
	logger  *slog.Logger
	onRetry func(kind Kind, attempt int, delay time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithWaitFunc replaces the timer-based wait. Tests use it to record delays.
func WithWaitFunc(fn WaitFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.wait = fn
		}
	}
}

// WithJitter replaces the uniform jitter source.
func WithJitter(fn JitterFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.jitter = fn
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRetryHook registers a callback invoked before every backoff wait.
func WithRetryHook(fn func(kind Kind, attempt int, delay time.Duration)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// NewExecutor creates an Executor. An invalid policy falls back to
// DefaultPolicy.
func NewExecutor(policy Policy, opts ...Option) *Executor {
	if err := policy.Validate(); err != nil {
		policy = DefaultPolicy()
	}
	e := &Executor{
		policy: policy,
		wait:   TimerWait,
		jitter: uniformJitter,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's backoff policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute runs call until it succeeds, fails fatally, or the budget runs out.
//
// # Description
//
// Attempts are numbered from 1. After a RateLimited or Overloaded outcome
// with attempt < maxRetries, Execute waits
// policy.Backoff(kind, attempt) + jitter and tries again. A Fatal outcome is
// returned unchanged. A transient outcome on the last attempt is returned as
// *ExhaustedError wrapping the upstream error.
//
// # Inputs
//
//   - ctx: Cancels an in-progress wait. Passed through to call.
//   - e: The executor. nil uses a default executor.
//   - maxRetries: Total attempt budget. Values below 1 mean one attempt.
//   - call: The guarded call.
//
// # Outputs
//
//   - T: The successful value.
//   - error: Fatal error, *ExhaustedError, or ctx.Err() from a wait.
func Execute[T any](ctx context.Context, e *Executor, maxRetries int, call func(ctx context.Context, attempt int) Outcome[T]) (T, error) {
	var zero T
	if e == nil {
		e = NewExecutor(DefaultPolicy())
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; ; attempt++ {
		out := call(ctx, attempt)
		switch {
		case out.Kind == KindOK:
			return out.Value, nil
		case !out.Kind.Transient():
			if out.Err == nil {
				out.Err = errors.New("guarded call failed without an error")
			}
			return zero, out.Err
		case attempt >= maxRetries:
			return zero, &ExhaustedError{Kind: out.Kind, Attempts: attempt, Err: out.Err}
		}

		delay := e.policy.Delay(out.Kind, attempt, e.jitter)
		e.logger.Warn("Upstream call failed, backing off",
			"kind", out.Kind.String(),
			"attempt", attempt,
			"max_retries", maxRetries,
			"delay", delay.String(),
			"error", out.Err)
		if e.onRetry != nil {
			e.onRetry(out.Kind, attempt, delay)
		}
		if err := e.wait(ctx, delay); err != nil {
			return zero, err
		}
	}
}
