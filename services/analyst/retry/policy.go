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
	"errors"
	"time"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy configures the backoff schedule.
type Policy struct {
	// RateLimitedBase is the first delay after a rate-limit failure.
	// Must be greater than OverloadedBase. Default: 2s
	RateLimitedBase time.Duration `yaml:"rate_limited_base"`

	// OverloadedBase is the first delay after an overload failure.
	// Default: 1s
	OverloadedBase time.Duration `yaml:"overloaded_base"`

	// MaxDelay caps the deterministic part of the delay. Default: 60s
	MaxDelay time.Duration `yaml:"max_delay"`

	// Jitter is the exclusive upper bound of the uniform random delay added
	// on top of the schedule. Default: 500ms
	Jitter time.Duration `yaml:"jitter"`
}

// DefaultPolicy returns the production schedule.
func DefaultPolicy() Policy {
	return Policy{
		RateLimitedBase: 2 * time.Second,
		OverloadedBase:  1 * time.Second,
		MaxDelay:        60 * time.Second,
		Jitter:          500 * time.Millisecond,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.OverloadedBase <= 0 || p.RateLimitedBase <= 0 {
		return ErrInvalidPolicy
	}
	if p.RateLimitedBase <= p.OverloadedBase {
		return ErrInvalidPolicy
	}
	if p.MaxDelay < p.RateLimitedBase {
		return ErrInvalidPolicy
	}
	if p.Jitter < 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Base returns the first-attempt delay for kind. Non-transient kinds have
// no delay.
func (p Policy) Base(kind Kind) time.Duration {
	switch kind {
	case KindRateLimited:
		return p.RateLimitedBase
	case KindOverloaded:
		return p.OverloadedBase
	default:
		return 0
	}
}

// Backoff is the deterministic delay before retrying after the given failed
// attempt: Base(kind) * 2^(attempt-1), capped at MaxDelay.
//
// Backoff is pure; it never sleeps and never reads a random source.
func (p Policy) Backoff(kind Kind, attempt int) time.Duration {
	base := p.Base(kind)
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Delay is Backoff plus jitter drawn from jitter(p.Jitter). A nil jitter
// source adds nothing.
func (p Policy) Delay(kind Kind, attempt int, jitter JitterFunc) time.Duration {
	d := p.Backoff(kind, attempt)
	if jitter != nil {
		d += jitter(p.Jitter)
	}
	return d
}

// Schedule returns the deterministic delays for attempts 1..n-1 of a call
// that keeps failing with kind under an n-attempt budget.
func (p Policy) Schedule(kind Kind, maxRetries int) []time.Duration {
	if maxRetries <= 1 || !kind.Transient() {
		return nil
	}
	out := make([]time.Duration, 0, maxRetries-1)
	for attempt := 1; attempt < maxRetries; attempt++ {
		out = append(out, p.Backoff(kind, attempt))
	}
	return out
}
