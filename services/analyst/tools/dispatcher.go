// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools routes agent tool invocations to their handlers.
//
// # Description
//
// The Dispatcher answers every llm.ToolUse with exactly one llm.ToolResult.
// Handler errors, unknown tool names, timeouts and panics are all rendered
// into the result content, so the conversation can always continue with a
// correctly paired turn.
//
// # Tools
//
//   - run_query: read-only SQL against the analytical store.
//   - get_live_snapshot: depth-bounded projection of live Signal K data.
//   - find_episodes: contiguous active intervals of a regimen.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/signalk-analyst/services/llm"
)

var dispatchTracer = otel.Tracer("signalk-analyst.tools")

// Tool names.
const (
	ToolRunQuery        = "run_query"
	ToolGetLiveSnapshot = "get_live_snapshot"
	ToolFindEpisodes    = "find_episodes"
)

// DefaultTimeout bounds a single handler execution.
const DefaultTimeout = 30 * time.Second

var (
	// ErrInvalidInput is wrapped by handlers when tool arguments are missing
	// or have the wrong type.
	ErrInvalidInput = errors.New("invalid tool input")

	// ErrUnknownTool is used for recovery hints of unregistered names.
	ErrUnknownTool = errors.New("unknown tool")
)

// Handler executes one named tool.
type Handler interface {
	// Name is the tool name the agent uses.
	Name() string

	// Definition is the schema advertised to the agent.
	Definition() llm.ToolDefinition

	// Execute runs the tool. The returned text becomes the result content.
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// Observer is notified after every dispatch.
type Observer func(tool string, success bool, elapsed time.Duration)

// Dispatcher routes tool invocations by name.
//
// Thread Safety: Dispatcher is immutable after construction and safe for
// concurrent use; handlers must be too.
type Dispatcher struct {
	handlers map[string]Handler
	order    []string
	recovery *ErrorRecovery
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout overrides DefaultTimeout. Zero disables the per-call timeout.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithObserver installs a dispatch observer, typically a metrics recorder.
func WithObserver(fn Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecovery replaces the default ErrorRecovery.
func WithRecovery(r *ErrorRecovery) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.recovery = r
		}
	}
}

// NewDispatcher creates a Dispatcher over handlers. A later handler with
// the same name replaces an earlier one.
func NewDispatcher(handlers []Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler, len(handlers)),
		recovery: NewErrorRecovery(),
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, dup := d.handlers[h.Name()]; !dup {
			d.order = append(d.order, h.Name())
		}
		d.handlers[h.Name()] = h
	}
	return d
}

// Names returns the registered tool names, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, len(d.order))
	copy(names, d.order)
	sort.Strings(names)
	return names
}

// Definitions returns the schemas of the registered tools in registration
// order.
func (d *Dispatcher) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		defs = append(defs, d.handlers[name].Definition())
	}
	return defs
}

// Dispatch executes one tool invocation.
//
// # Description
//
// Dispatch never returns an error and never panics. The result always
// carries use.ID. Failures produce IsError results whose content explains
// the problem and, when possible, how to fix it.
//
// # Inputs
//
//   - ctx: Cancellation for the handler. A per-call timeout is added.
//   - use: The invocation issued by the agent.
//
// # Outputs
//
//   - llm.ToolResult: Exactly one result for use.
func (d *Dispatcher) Dispatch(ctx context.Context, use llm.ToolUse) (result llm.ToolResult) {
	start := time.Now()
	ctx, span := dispatchTracer.Start(ctx, "tools.Dispatch")
	span.SetAttributes(
		attribute.String("tool.name", use.Name),
		attribute.String("tool.use_id", use.ID),
	)
	logger := d.logger.With("tool", use.Name, "tool_use_id", use.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Tool handler panicked", "panic", r, "stack", string(debug.Stack()))
			result = errorResult(use.ID, fmt.Sprintf("Tool %s failed with an internal error: %v", use.Name, r))
		}
		elapsed := time.Since(start)
		if result.IsError {
			span.SetStatus(codes.Error, "tool failed")
		}
		span.SetAttributes(attribute.Bool("tool.is_error", result.IsError))
		span.End()
		if d.observer != nil {
			d.observer(use.Name, !result.IsError, elapsed)
		}
		logger.Debug("Tool dispatched", "is_error", result.IsError, "duration", elapsed)
	}()

	handler, ok := d.handlers[use.Name]
	if !ok {
		logger.Warn("Unknown tool requested")
		return errorResult(use.ID, fmt.Sprintf("Unknown tool %q. Valid tools are: %s.",
			use.Name, strings.Join(d.Names(), ", ")))
	}

	execCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	input := use.Input
	if input == nil {
		input = map[string]any{}
	}

	out, err := handler.Execute(execCtx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %v: %w", d.timeout, err)
		}
		logger.Warn("Tool execution failed", "error", err)
		content := fmt.Sprintf("Error executing %s: %v", use.Name, err)
		if suggestion := d.recovery.SuggestFix(err, use); suggestion != "" {
			content += "\n\nSuggestion: " + suggestion
		}
		return errorResult(use.ID, content)
	}
	return llm.ToolResult{ToolUseID: use.ID, Content: out}
}

func errorResult(id, content string) llm.ToolResult {
	return llm.ToolResult{ToolUseID: id, Content: content, IsError: true}
}
