// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the analyst service.
//
// # Description
//
// Prometheus metrics cover analyses (by mode and status), conversation
// rounds, tool dispatches, agent retries and token usage. Metrics are
// exposed on /metrics. Tracing is set up by InitTracer.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is a no-op on a nil *Metrics, so components can
// run without instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "signalk_analyst"

// Metrics holds the Prometheus collectors of the analyst.
//
// # Fields
//
//   - AnalysesTotal: Completed analyses by mode and status
//   - AnalysisDurationSeconds: Wall time of an analysis by mode
//   - RoundsTotal: Agent rounds executed
//   - ToolCallsTotal: Tool dispatches by tool and status
//   - ToolDurationSeconds: Tool handler latency by tool
//   - RetriesTotal: Agent call retries by outcome kind
//   - TokensTotal: Tokens by direction and model
//   - ActiveSessions: Conversations currently held in the session store
//   - ErrorsTotal: Failed analyses by error code
type Metrics struct {
	AnalysesTotal           *prometheus.CounterVec
	AnalysisDurationSeconds *prometheus.HistogramVec
	RoundsTotal             *prometheus.CounterVec
	ToolCallsTotal          *prometheus.CounterVec
	ToolDurationSeconds     *prometheus.HistogramVec
	RetriesTotal            *prometheus.CounterVec
	TokensTotal             *prometheus.CounterVec
	ActiveSessions          prometheus.Gauge
	ErrorsTotal             *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Nil uses prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if the collectors are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "analyses_total",
				Help:      "Total number of analyses by mode and status",
			},
			[]string{"mode", "status"},
		),

		AnalysisDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "analysis_duration_seconds",
				Help:      "Wall time of an analysis in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),

		RoundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rounds_total",
				Help:      "Total agent rounds by mode",
			},
			[]string{"mode"},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_calls_total",
				Help:      "Total tool dispatches by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "tool_duration_seconds",
				Help:      "Tool handler latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "agent_retries_total",
				Help:      "Total agent call retries by outcome kind",
			},
			[]string{"kind"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Number of conversations held in the session store",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Total failed analyses by error code",
			},
			[]string{"code"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates an unknown conversation.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeLLMError indicates agent API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeRateLimited indicates the retry budget ran out on throttling.
	ErrorCodeRateLimited ErrorCode = "rate_limited"

	// ErrorCodeEmptyAnalysis indicates the agent produced no narrative.
	ErrorCodeEmptyAnalysis ErrorCode = "empty_analysis"

	// ErrorCodeTimeout indicates operation timeout or cancellation.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordAnalysis records a finished analysis.
func (m *Metrics) RecordAnalysis(mode string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(mode, status(success)).Inc()
	m.AnalysisDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordRound records one agent round.
func (m *Metrics) RecordRound(mode string) {
	if m == nil {
		return
	}
	m.RoundsTotal.WithLabelValues(mode).Inc()
}

// RecordTool records one tool dispatch. Its signature matches
// tools.Observer.
func (m *Metrics) RecordTool(tool string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status(success)).Inc()
	m.ToolDurationSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordRetry records one retried agent call.
func (m *Metrics) RecordRetry(kind string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(kind).Inc()
}

// RecordTokens records token usage.
func (m *Metrics) RecordTokens(inputTokens, outputTokens int, model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordError records a failed analysis.
func (m *Metrics) RecordError(code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
