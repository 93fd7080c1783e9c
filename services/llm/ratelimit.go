// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedClient throttles calls to an inner client with a token bucket.
// Waiting honors ctx, so a cancelled request stops queueing.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

var _ Client = (*RateLimitedClient)(nil)

// NewRateLimitedClient wraps inner. requestsPerSecond <= 0 disables
// throttling; burst < 1 is raised to 1.
func NewRateLimitedClient(inner Client, requestsPerSecond float64, burst int) *RateLimitedClient {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

// Complete implements Client.
func (c *RateLimitedClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return c.inner.Complete(ctx, request)
}

// Name implements Client.
func (c *RateLimitedClient) Name() string { return c.inner.Name() }

// Model implements Client.
func (c *RateLimitedClient) Model() string { return c.inner.Model() }
