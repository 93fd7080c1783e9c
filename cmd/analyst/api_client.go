// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

// apiClient talks to a running analyst server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	// Analyses run several agent rounds; allow for the full budget.
	return &apiClient{baseURL: baseURL, httpClient: &http.Client{Timeout: 10 * time.Minute}}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Message string
	Details string
}

func (e *apiError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("server returned %d %s", e.Status, e.Message)
}

func (c *apiClient) Analyze(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error) {
	var resp datatypes.AnalysisResponse
	return &resp, c.do(ctx, http.MethodPost, "/v1/analysis", req, &resp)
}

func (c *apiClient) AnalyzeSampled(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error) {
	var resp datatypes.AnalysisResponse
	return &resp, c.do(ctx, http.MethodPost, "/v1/analysis/sampled", req, &resp)
}

func (c *apiClient) FollowUp(ctx context.Context, conversationID, question string) (*datatypes.AnalysisResponse, error) {
	var resp datatypes.AnalysisResponse
	path := "/v1/analysis/" + url.PathEscape(conversationID) + "/followup"
	return &resp, c.do(ctx, http.MethodPost, path, datatypes.FollowUpRequest{Question: question}, &resp)
}

func (c *apiClient) List(ctx context.Context, limit int) ([]datatypes.AnalysisSummary, error) {
	var resp struct {
		Analyses []datatypes.AnalysisSummary `json:"analyses"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/analysis?limit="+strconv.Itoa(limit), nil, &resp)
	return resp.Analyses, err
}

func (c *apiClient) Get(ctx context.Context, id string) (*datatypes.AnalysisResponse, error) {
	var resp datatypes.AnalysisResponse
	return &resp, c.do(ctx, http.MethodGet, "/v1/analysis/"+url.PathEscape(id), nil, &resp)
}

func (c *apiClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/analysis/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e datatypes.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
			e.Details = string(bytes.TrimSpace(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error, Details: e.Details}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
