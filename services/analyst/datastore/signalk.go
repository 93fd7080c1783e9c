// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/signalk-analyst/pkg/validation"
)

// Snapshot scopes.
const (
	ScopeSelf = "self"
	ScopeAll  = "all"
)

const signalKAPIPrefix = "/signalk/v1/api"

// maxSnapshotBody bounds a single REST response.
const maxSnapshotBody = 4 << 20

// SignalKClient reads live values from the REST API of a Signal K server.
type SignalKClient struct {
	baseURL     string
	httpClient  *http.Client
	concurrency int
}

var _ SnapshotClient = (*SignalKClient)(nil)

// NewSignalKClient creates a client for the server at baseURL
// (e.g. http://localhost:3000). A nil httpClient gets a 10s timeout.
func NewSignalKClient(baseURL string, httpClient *http.Client) *SignalKClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SignalKClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		concurrency: 4,
	}
}

// Snapshot implements SnapshotClient. Paths are fetched concurrently; the
// first failure cancels the rest.
func (c *SignalKClient) Snapshot(ctx context.Context, scope string, paths []string) (map[string]any, error) {
	root, err := scopeURL(scope)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePaths(paths); err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		tree, err := c.get(ctx, root)
		if err != nil {
			return nil, err
		}
		if m, ok := tree.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"value": tree}, nil
	}

	var mu sync.Mutex
	out := make(map[string]any, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, p := range paths {
		g.Go(func() error {
			v, err := c.get(gctx, root+"/"+strings.ReplaceAll(p, ".", "/"))
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			mu.Lock()
			out[p] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SignalKClient) get(ctx context.Context, path string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signal k request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no data at %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signal k returned status %d", resp.StatusCode)
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// scopeURL maps a snapshot scope to its REST path.
//
//	self                               -> /signalk/v1/api/vessels/self
//	all                                -> /signalk/v1/api
//	vessels.urn:mrn:imo:mmsi:230099999 -> /signalk/v1/api/vessels/urn:mrn:imo:mmsi:230099999
func scopeURL(scope string) (string, error) {
	switch scope {
	case "", ScopeSelf:
		return signalKAPIPrefix + "/vessels/self", nil
	case ScopeAll:
		return signalKAPIPrefix, nil
	}
	if err := validation.ValidateContext(scope); err != nil {
		return "", err
	}
	group, id, _ := strings.Cut(scope, ".")
	return signalKAPIPrefix + "/" + group + "/" + id, nil
}
