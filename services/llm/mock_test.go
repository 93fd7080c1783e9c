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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_QueueOrder(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockClient().
		QueueToolUse("thinking", "run_query", map[string]any{"query": "SELECT 1"}).
		QueueError(boom).
		QueueText("done")

	ctx := context.Background()
	req := &Request{Turns: []Turn{UserTurn("q")}}

	r1, err := m.Complete(ctx, req)
	require.NoError(t, err)
	assert.True(t, r1.HasToolUses())
	assert.Equal(t, "thinking", r1.Text())

	_, err = m.Complete(ctx, req)
	assert.Same(t, boom, err)

	r3, err := m.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "done", r3.Text())

	r4, err := m.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Mock analysis", r4.Text())

	assert.Equal(t, 4, m.CallCount())
	assert.NoError(t, m.Verify())
}

func TestMockClient_RecordsSnapshots(t *testing.T) {
	m := NewMockClient()
	req := &Request{Turns: []Turn{UserTurn("q")}}
	_, err := m.Complete(context.Background(), req)
	require.NoError(t, err)

	req.Turns = append(req.Turns, UserTurn("later"))
	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Request.Turns, 1)
}

func TestMockClient_UniqueToolUseIDs(t *testing.T) {
	m := NewMockClient().QueueToolUse("", "a", nil).QueueToolUse("", "b", nil)
	r1, _ := m.Complete(context.Background(), &Request{})
	r2, _ := m.Complete(context.Background(), &Request{})
	assert.NotEqual(t, r1.ToolUses()[0].ID, r2.ToolUses()[0].ID)
}

func TestRateLimitedClient(t *testing.T) {
	m := NewMockClient()
	c := NewRateLimitedClient(m, 1, 1)
	assert.Equal(t, "mock", c.Name())
	assert.Equal(t, "mock-model", c.Model())

	_, err := c.Complete(context.Background(), &Request{})
	require.NoError(t, err)

	// bucket is empty now; a short deadline cannot be met
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, &Request{})
	assert.Error(t, err)
	assert.Equal(t, 1, m.CallCount())

	unlimited := NewRateLimitedClient(m, 0, 0)
	for i := 0; i < 5; i++ {
		_, err := unlimited.Complete(context.Background(), &Request{})
		require.NoError(t, err)
	}
}

func TestSecret(t *testing.T) {
	assert.Nil(t, NewSecret("  "))

	var nilSecret *Secret
	assert.ErrorIs(t, nilSecret.Use(func(string) {}), ErrMissingSecret)

	s := NewSecret(" sk-live ")
	var seen string
	require.NoError(t, s.Use(func(p string) { seen = strings.Clone(p) }))
	assert.Equal(t, "sk-live", seen)

	t.Setenv("ANALYST_TEST_KEY", "from-env")
	loaded, err := LoadSecret("ANALYST_TEST_KEY", "")
	require.NoError(t, err)
	require.NoError(t, loaded.Use(func(p string) { seen = strings.Clone(p) }))
	assert.Equal(t, "from-env", seen)

	_, err = LoadSecret("ANALYST_TEST_KEY_MISSING", "/nonexistent/secret")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
