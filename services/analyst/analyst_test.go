// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyst

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signalk-analyst/services/analyst/config"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func historyDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE navigation_speedOverGround (timestamp TEXT, value REAL, value_json TEXT, context TEXT, source TEXT)`)
	require.NoError(t, err)
	for _, ts := range []string{"2025-07-01T10:00:00Z", "2025-07-01T10:01:00Z"} {
		_, err = db.Exec(`INSERT INTO navigation_speedOverGround VALUES (?, 4.2, NULL, 'vessels.self', 'gps.1')`, ts)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	return path
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Agent.Provider = config.ProviderMock
	cfg.Agent.RequestsPerSecond = 0
	cfg.Store.InMemory = true
	cfg.Data.SQLitePath = historyDB(t)
	return cfg
}

func TestNew_ServesAnalysisEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := llm.NewMockClient().
		QueueToolUse("Checking speed.", "run_query", map[string]any{
			"query": "SELECT timestamp, value FROM navigation_speedOverGround ORDER BY timestamp",
		}).
		QueueText("Speed held at 4.2 knots.")

	svc, err := New(ctx, testConfig(t), WithClient(client))
	require.NoError(t, err)
	defer svc.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/analysis", strings.NewReader(`{"question": "How fast were we going?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.AnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Checking speed.\n\nSpeed held at 4.2 knots.", resp.Analysis)
	assert.Equal(t, 1, resp.Metadata.QueriesExecuted)
	assert.Equal(t, 2, resp.Metadata.Rounds)

	calls := client.Calls()
	require.Len(t, calls, 2)

	stored, err := svc.Answers.Get(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Analysis, stored.Analysis)

	w = httptest.NewRecorder()
	svc.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signalk_analyst_tool_calls_total")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNew_WithoutDataSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.SQLitePath = ""

	svc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	resp, err := svc.Orchestrator.Run(context.Background(), datatypes.AnalysisRequest{Question: "Anything?"})
	require.NoError(t, err)
	assert.Equal(t, "Mock analysis", resp.Analysis)
}

func TestNew_InfluxRequiresSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.SeriesSource = config.SourceInflux

	svc, err := New(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestNewClient(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	client, err := NewClient(config.AgentConfig{Provider: config.ProviderMock})
	require.NoError(t, err)
	assert.Equal(t, "mock-model", client.Model())

	_, err = NewClient(config.AgentConfig{Provider: config.ProviderAnthropic})
	assert.ErrorIs(t, err, llm.ErrMissingSecret)

	_, err = NewClient(config.AgentConfig{Provider: config.ProviderOpenAI})
	assert.ErrorIs(t, err, llm.ErrMissingSecret)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	client, err = NewClient(config.AgentConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", client.Model())

	_, err = NewClient(config.AgentConfig{Provider: "bedrock"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"

	svc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
