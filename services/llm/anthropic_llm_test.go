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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewAnthropicClient(AnthropicConfig{
		APIKey:  NewSecret("sk-ant-test"),
		Model:   "claude-test",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	_, err := NewAnthropicClient(AnthropicConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestAnthropicClient_Complete_ToolUseRoundTrip(t *testing.T) {
	var captured map[string]any
	client := newAnthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [
				{"type": "text", "text": "Let me look."},
				{"type": "tool_use", "id": "toolu_9", "name": "run_query", "input": {"query": "SELECT 1", "purpose": "echo"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 120, "output_tokens": 33}
		}`))
	})

	turns := []Turn{
		UserTurn("What was our top speed?"),
		AgentTurn([]ContentBlock{ToolUseBlock(ToolUse{ID: "toolu_1", Name: "get_live_snapshot"})}),
		ToolResultTurn([]ToolResult{{ToolUseID: "toolu_1", Content: "{}"}}),
		UserTurn("Also check wind."),
	}
	resp, err := client.Complete(context.Background(), &Request{
		System: "You are an analyst.",
		Turns:  turns,
		Tools: []ToolDefinition{{
			Name:        "run_query",
			Description: "Run SQL",
			InputSchema: map[string]any{"type": "object"},
		}},
		MaxTokens: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me look.", resp.Text())
	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_9", uses[0].ID)
	assert.Equal(t, "SELECT 1", uses[0].Input["query"])
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 33}, resp.Usage)
	assert.Equal(t, "tool_use", resp.StopReason)

	assert.Equal(t, "claude-test", captured["model"])
	assert.EqualValues(t, 1000, captured["max_tokens"])
	msgs := captured["messages"].([]any)
	// tool results and the follow-up question merge into one user message
	require.Len(t, msgs, 3)

	agentMsg := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", agentMsg["role"])
	toolUse := agentMsg["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_use", toolUse["type"])
	assert.Equal(t, map[string]any{}, toolUse["input"], "tool_use input must always be an object")

	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	content := last["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "tool_result", content[0].(map[string]any)["type"])
	assert.Equal(t, "toolu_1", content[0].(map[string]any)["tool_use_id"])
	assert.Equal(t, "text", content[1].(map[string]any)["type"])

	system := captured["system"].([]any)
	assert.Equal(t, "You are an analyst.", system[0].(map[string]any)["text"])
}

func TestAnthropicClient_Complete_OverloadedError(t *testing.T) {
	client := newAnthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	})

	_, err := client.Complete(context.Background(), &Request{Turns: []Turn{UserTurn("q")}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 529, apiErr.StatusCode)
	assert.Equal(t, "overloaded_error", apiErr.Type)
	assert.Equal(t, "Overloaded", apiErr.Message)
}

func TestAnthropicClient_Complete_NonJSONError(t *testing.T) {
	client := newAnthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := client.Complete(context.Background(), &Request{Turns: []Turn{UserTurn("q")}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestToAnthropicMessages_SkipsEmpty(t *testing.T) {
	msgs := toAnthropicMessages([]Turn{UserTurn(""), UserTurn("hi")})
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].Content, 1)
}

func TestAnthropicClient_BuildRequest_Temperature(t *testing.T) {
	client := newAnthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero is sent", 0, 0},
		{"configured", 0.2, 0.2},
		{"clamped to api range", 1.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := client.buildRequest(&Request{Turns: []Turn{UserTurn("q")}, Temperature: tt.in})
			require.NotNil(t, payload.Temperature)
			assert.Equal(t, tt.want, *payload.Temperature)

			data, err := json.Marshal(payload)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"temperature":`)
		})
	}
}
