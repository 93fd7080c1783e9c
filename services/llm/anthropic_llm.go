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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 4096
)

// --- Wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicContent covers text, tool_use and tool_result blocks. Input is a
// pointer so that tool_use always serializes an object while other block
// types omit it.
type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client Implementation ---

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey *Secret

	// Model defaults to claude-sonnet-4-5.
	Model string

	// BaseURL is the full Messages endpoint. Tests point it at httptest.
	BaseURL string

	// Timeout bounds one HTTP request. Default: 120s
	Timeout time.Duration

	// HTTPClient replaces the default client when set.
	HTTPClient *http.Client
}

// AnthropicClient calls the Anthropic Messages API over REST.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     *Secret
	model      string
	baseURL    string
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == nil {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("anthropic: %w", ErrMissingSecret)
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
		slog.Info("Anthropic model not set, defaulting to", "model", cfg.Model)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &AnthropicClient{
		httpClient: httpClient,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
	}, nil
}

// Name implements Client.
func (a *AnthropicClient) Name() string { return "anthropic" }

// Model implements Client.
func (a *AnthropicClient) Model() string { return a.model }

// Complete implements Client.
func (a *AnthropicClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	start := time.Now()
	payload := a.buildRequest(request)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := a.apiKey.Use(func(key string) {
		req.Header.Set("x-api-key", strings.Clone(key))
	}); err != nil {
		return nil, err
	}
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic",
		"model", payload.Model,
		"messages", len(payload.Messages),
		"tools", len(payload.Tools))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp anthropicResponse
	decodeErr := json.Unmarshal(respBody, &apiResp)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: a.Name(), StatusCode: resp.StatusCode, Message: truncateBody(respBody)}
		if decodeErr == nil && apiResp.Error != nil {
			apiErr.Type = apiResp.Error.Type
			apiErr.Message = apiResp.Error.Message
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", decodeErr)
	}
	if apiResp.Error != nil {
		return nil, &APIError{Provider: a.Name(), StatusCode: resp.StatusCode, Type: apiResp.Error.Type, Message: apiResp.Error.Message}
	}

	out := &Response{
		StopReason: apiResp.StopReason,
		Usage:      Usage{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens},
		Model:      apiResp.Model,
		Duration:   time.Since(start),
	}
	for _, c := range apiResp.Content {
		switch c.Type {
		case "text":
			out.Blocks = append(out.Blocks, TextBlock(c.Text))
		case "tool_use":
			input := map[string]any{}
			if c.Input != nil && *c.Input != nil {
				input = *c.Input
			}
			out.Blocks = append(out.Blocks, ToolUseBlock(ToolUse{ID: c.ID, Name: c.Name, Input: input}))
		default:
			slog.Debug("Ignoring Anthropic content block", "type", c.Type)
		}
	}
	return out, nil
}

// buildRequest converts the provider-neutral request into the Messages API
// payload. Consecutive turns with the same role are merged into one message
// because the API requires alternating roles.
func (a *AnthropicClient) buildRequest(request *Request) anthropicRequest {
	model := request.Model
	if model == "" {
		model = a.model
	}
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(request.Turns),
	}
	// Always sent: an omitted temperature means 1.0 to the API, not 0.
	temp := min(max(request.Temperature, 0), 1)
	payload.Temperature = &temp
	if request.System != "" {
		block := systemBlock{Type: "text", Text: request.System}
		if len(request.System) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		payload.System = []systemBlock{block}
	}
	for _, t := range request.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		payload.Tools = append(payload.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return payload
}

func toAnthropicMessages(turns []Turn) []anthropicMessage {
	var msgs []anthropicMessage
	for _, t := range turns {
		content := make([]anthropicContent, 0, len(t.Blocks))
		for _, b := range t.Blocks {
			switch b.Type {
			case BlockText:
				if b.Text == "" {
					continue
				}
				content = append(content, anthropicContent{Type: "text", Text: b.Text})
			case BlockToolUse:
				if b.ToolUse == nil {
					continue
				}
				input := b.ToolUse.Input
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropicContent{Type: "tool_use", ID: b.ToolUse.ID, Name: b.ToolUse.Name, Input: &input})
			case BlockToolResult:
				if b.ToolResult == nil {
					continue
				}
				content = append(content, anthropicContent{
					Type:      "tool_result",
					ToolUseID: b.ToolResult.ToolUseID,
					Content:   b.ToolResult.Content,
					IsError:   b.ToolResult.IsError,
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		role := string(t.Role)
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, content...)
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: content})
	}
	return msgs
}

func truncateBody(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
