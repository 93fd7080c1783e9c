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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  *Secret
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient calls the chat completions API with function tools.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ Client = (*OpenAIClient)(nil)

// secretTransport sets the bearer token from a Secret on every request so
// the key never sits in the go-openai config in plaintext.
type secretTransport struct {
	secret *Secret
	base   http.RoundTripper
}

func (t *secretTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if err := t.secret.Use(func(key string) {
		clone.Header.Set("Authorization", "Bearer "+key)
	}); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(clone)
}

// NewOpenAIClient creates a client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == nil {
		slog.Error("OpenAI API key not configured")
		return nil, fmt.Errorf("openai: %w", ErrMissingSecret)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, defaulting", "model", cfg.Model)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	config := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &secretTransport{secret: cfg.APIKey, base: http.DefaultTransport},
	}

	slog.Info("Initializing OpenAI client", "model", cfg.Model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}, nil
}

// Name implements Client.
func (o *OpenAIClient) Name() string { return "openai" }

// Model implements Client.
func (o *OpenAIClient) Model() string { return o.model }

// Complete implements Client.
func (o *OpenAIClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	start := time.Now()
	req, err := o.buildRequest(request)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, toAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	choice := resp.Choices[0]
	slog.Debug("Received response from OpenAI", "finish_reason", choice.FinishReason)

	out := &Response{
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
		Model:      resp.Model,
		Duration:   time.Since(start),
	}
	if choice.Message.Content != "" {
		out.Blocks = append(out.Blocks, TextBlock(choice.Message.Content))
	}
	for _, call := range choice.Message.ToolCalls {
		input := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				// The dispatcher reports missing arguments back to the agent.
				slog.Warn("OpenAI tool call arguments are not a JSON object",
					"tool", call.Function.Name, "error", err)
				input = map[string]any{}
			}
		}
		out.Blocks = append(out.Blocks, ToolUseBlock(ToolUse{ID: call.ID, Name: call.Function.Name, Input: input}))
	}
	return out, nil
}

func (o *OpenAIClient) buildRequest(request *Request) (openai.ChatCompletionRequest, error) {
	model := request.Model
	if model == "" {
		model = o.model
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(request.Temperature),
	}
	if req.Temperature <= 0 {
		// The field is omitempty; a zero would be dropped and read as 1.0.
		req.Temperature = math.SmallestNonzeroFloat32
	}
	if request.MaxTokens > 0 {
		req.MaxCompletionTokens = request.MaxTokens
	}
	if request.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.System,
		})
	}

	for _, t := range request.Turns {
		switch t.Kind {
		case TurnToolResult:
			// one tool message per result, in order
			for _, r := range t.ToolResults() {
				req.Messages = append(req.Messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.Content,
					ToolCallID: r.ToolUseID,
				})
			}
			if text := t.Text(); text != "" {
				req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
			}
		case TurnAgent:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Text()}
			for _, use := range t.ToolUses() {
				args, err := json.Marshal(use.Input)
				if err != nil {
					return req, fmt.Errorf("marshal tool input for %s: %w", use.Name, err)
				}
				if use.Input == nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   use.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      use.Name,
						Arguments: string(args),
					},
				})
			}
			req.Messages = append(req.Messages, msg)
		default:
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.Text()})
		}
	}

	for _, def := range request.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return req, nil
}

func mapFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_use"
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonStop:
		return "end_turn"
	default:
		return string(reason)
	}
}

// toAPIError maps go-openai errors onto *APIError so the retry classifier
// sees the HTTP status.
func toAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Type: apiErr.Type, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}
