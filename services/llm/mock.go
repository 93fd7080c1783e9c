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
	"sync"
	"time"
)

// MockClient is a scripted Client for tests and offline runs.
//
// Thread Safety:
//
//	MockClient is safe for concurrent use.
type MockClient struct {
	mu sync.RWMutex

	name  string
	model string

	// queue holds scripted replies, consumed in order.
	queue []mockReply

	// defaultResponse is returned when the queue is empty.
	defaultResponse *Response

	// responseFunc, when set, replaces the queue entirely.
	responseFunc func(*Request) (*Response, error)

	calls  []CompletionCall
	nextID int
}

type mockReply struct {
	resp *Response
	err  error
}

// CompletionCall records one call to Complete. Turns are deep copies taken
// at call time, so later appends by the caller do not show up here.
type CompletionCall struct {
	Request   Request
	Timestamp time.Time
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a mock whose default reply is a short text answer.
func NewMockClient() *MockClient {
	return &MockClient{
		name:  "mock",
		model: "mock-model",
		defaultResponse: &Response{
			Blocks:     []ContentBlock{TextBlock("Mock analysis")},
			StopReason: "end_turn",
			Usage:      Usage{InputTokens: 50, OutputTokens: 10},
		},
	}
}

// WithModel sets the model name.
func (c *MockClient) WithModel(model string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
	return c
}

// WithResponseFunc sets a dynamic response function.
func (c *MockClient) WithResponseFunc(f func(*Request) (*Response, error)) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseFunc = f
	return c
}

// SetDefaultResponse sets the reply used when the queue is empty.
func (c *MockClient) SetDefaultResponse(resp *Response) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultResponse = resp
	return c
}

// QueueResponse appends a scripted response.
func (c *MockClient) QueueResponse(resp *Response) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, mockReply{resp: resp})
	return c
}

// QueueError appends a scripted failure.
func (c *MockClient) QueueError(err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, mockReply{err: err})
	return c
}

// QueueText queues a final answer with no tool uses.
func (c *MockClient) QueueText(text string) *MockClient {
	return c.QueueResponse(&Response{
		Blocks:     []ContentBlock{TextBlock(text)},
		StopReason: "end_turn",
		Usage:      Usage{InputTokens: 50, OutputTokens: 10 + len(text)/4},
	})
}

// QueueToolUse queues a response that calls one tool, optionally preceded
// by text.
func (c *MockClient) QueueToolUse(text, toolName string, input map[string]any) *MockClient {
	c.mu.Lock()
	id := fmt.Sprintf("toolu_%03d", c.nextID)
	c.nextID++
	c.mu.Unlock()

	var blocks []ContentBlock
	if text != "" {
		blocks = append(blocks, TextBlock(text))
	}
	blocks = append(blocks, ToolUseBlock(ToolUse{ID: id, Name: toolName, Input: input}))
	return c.QueueResponse(&Response{
		Blocks:     blocks,
		StopReason: "tool_use",
		Usage:      Usage{InputTokens: 50, OutputTokens: 20},
	})
}

// Complete implements Client.
func (c *MockClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recorded := *request
	recorded.Turns = CloneTurns(request.Turns)
	c.calls = append(c.calls, CompletionCall{Request: recorded, Timestamp: time.Now()})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.responseFunc != nil {
		return c.responseFunc(request)
	}
	if len(c.queue) > 0 {
		reply := c.queue[0]
		c.queue = c.queue[1:]
		if reply.err != nil {
			return nil, reply.err
		}
		resp := *reply.resp
		resp.Model = c.model
		return &resp, nil
	}
	resp := *c.defaultResponse
	resp.Model = c.model
	return &resp, nil
}

// Name implements Client.
func (c *MockClient) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Model implements Client.
func (c *MockClient) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Calls returns all recorded calls.
func (c *MockClient) Calls() []CompletionCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CompletionCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns the number of calls made.
func (c *MockClient) CallCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.calls)
}

// Verify ensures all queued replies were consumed.
func (c *MockClient) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.queue) > 0 {
		return fmt.Errorf("mock: %d queued responses not consumed", len(c.queue))
	}
	return nil
}
