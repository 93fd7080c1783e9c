// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAnalysis("interactive", true, 2*time.Second)
	m.RecordAnalysis("interactive", false, time.Second)
	m.RecordRound("interactive")
	m.RecordRound("interactive")
	m.RecordTool("run_query", true, 10*time.Millisecond)
	m.RecordTool("run_query", false, 10*time.Millisecond)
	m.RecordRetry("rate_limited")
	m.RecordTokens(100, 40, "claude-sonnet-4-5")
	m.SetActiveSessions(3)
	m.RecordError(ErrorCodeEmptyAnalysis)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("interactive", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("interactive", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RoundsTotal.WithLabelValues("interactive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("run_query", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("rate_limited")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "claude-sonnet-4-5")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "claude-sonnet-4-5")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("empty_analysis")))

	count, err := testutil.GatherAndCount(reg, "signalk_analyst_tool_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAnalysis("sampled", true, time.Second)
		m.RecordRound("sampled")
		m.RecordTool("find_episodes", true, time.Millisecond)
		m.RecordRetry("overloaded")
		m.RecordTokens(1, 1, "m")
		m.SetActiveSessions(1)
		m.RecordError(ErrorCodeInternal)
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "signalk-analyst")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown(context.Background())
}
