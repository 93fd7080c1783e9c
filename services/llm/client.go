// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the boundary to the reasoning agent.
//
// It defines a provider-neutral conversation model (turns of text, tool_use
// and tool_result blocks), the Client interface, and backends for the
// Anthropic Messages API, OpenAI chat completions and an in-memory mock.
//
// Thread Safety:
//
//	All clients in this package are safe for concurrent use.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Client defines the interface for reasoning-agent calls.
type Client interface {
	// Complete sends the conversation and tool schemas and returns the
	// agent's next turn.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout
	//   request - The completion request
	//
	// Outputs:
	//   *Response - The agent response
	//   error - Non-nil if the request failed. Upstream HTTP failures are
	//           returned as *APIError.
	Complete(ctx context.Context, request *Request) (*Response, error)

	// Name returns the provider name (e.g., "anthropic", "openai").
	Name() string

	// Model returns the model being used.
	Model() string
}

// ToolDefinition declares a tool the agent may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request represents a completion request.
type Request struct {
	// Model overrides the client's model when set.
	Model string `json:"model,omitempty"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Turns is the conversation history, oldest first.
	Turns []Turn `json:"turns"`

	// Tools defines available tools. Empty disables tool use.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. It is always sent to the provider,
	// so 0 selects the most deterministic output.
	Temperature float64 `json:"temperature,omitempty"`
}

// Usage holds the token counters of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Response represents an agent response.
type Response struct {
	// Blocks are the ordered text and tool_use blocks.
	Blocks []ContentBlock `json:"blocks"`

	// StopReason indicates why generation stopped.
	// Values: "end_turn", "tool_use", "max_tokens", "stop_sequence"
	StopReason string `json:"stop_reason"`

	Usage Usage `json:"usage"`

	// Model is the model that generated this response.
	Model string `json:"model,omitempty"`

	// Duration is how long the request took.
	Duration time.Duration `json:"duration"`
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return AgentTurn(r.Blocks).Text()
}

// ToolUses returns the tool_use blocks of the response in order.
func (r *Response) ToolUses() []ToolUse {
	if r == nil {
		return nil
	}
	return AgentTurn(r.Blocks).ToolUses()
}

// HasToolUses returns true if the agent requested at least one tool.
func (r *Response) HasToolUses() bool {
	return len(r.ToolUses()) > 0
}

// APIError is an upstream failure with HTTP metadata. It satisfies the
// status and type interfaces the retry classifier looks for.
type APIError struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"status_code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error (status %d, %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// HTTPStatus returns the HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ErrorType returns the provider error type.
func (e *APIError) ErrorType() string { return e.Type }
