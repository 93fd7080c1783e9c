// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)}
}

func TestSessionStore_PutGet(t *testing.T) {
	store := NewSessionStore(time.Hour, 10)
	s := newSession(datatypes.AnalysisRequest{Question: "q"})
	store.Put(s)

	got, ok := store.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = store.Get("other")
	assert.False(t, ok)
}

func TestSessionStore_ExpiresAfterTTL(t *testing.T) {
	clock := newClock()
	store := NewSessionStore(time.Hour, 10, WithClock(clock.Now))
	s := newSession(datatypes.AnalysisRequest{Question: "q"})
	store.Put(s)

	clock.Advance(59 * time.Minute)
	_, ok := store.Get(s.ID)
	require.True(t, ok, "Get refreshes last use")

	clock.Advance(59 * time.Minute)
	_, ok = store.Get(s.ID)
	require.True(t, ok)

	clock.Advance(61 * time.Minute)
	_, ok = store.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestSessionStore_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := newClock()
	store := NewSessionStore(time.Hour, 2, WithClock(clock.Now))
	a := newSession(datatypes.AnalysisRequest{Question: "a"})
	b := newSession(datatypes.AnalysisRequest{Question: "b"})
	c := newSession(datatypes.AnalysisRequest{Question: "c"})

	store.Put(a)
	store.Put(b)
	_, ok := store.Get(a.ID)
	require.True(t, ok)
	store.Put(c)

	assert.Equal(t, 2, store.Len())
	_, ok = store.Get(b.ID)
	assert.False(t, ok, "b was least recently used")
	_, ok = store.Get(a.ID)
	assert.True(t, ok)
	_, ok = store.Get(c.ID)
	assert.True(t, ok)
}

func TestSessionStore_PutExistingDoesNotGrow(t *testing.T) {
	store := NewSessionStore(time.Hour, 2)
	s := newSession(datatypes.AnalysisRequest{Question: "q"})
	store.Put(s)
	store.Put(s)
	assert.Equal(t, 1, store.Len())
}

func TestSessionStore_SweepAndDelete(t *testing.T) {
	clock := newClock()
	var sizes []int
	store := NewSessionStore(time.Hour, 10, WithClock(clock.Now), WithSizeObserver(func(n int) {
		sizes = append(sizes, n)
	}))

	old := newSession(datatypes.AnalysisRequest{Question: "old"})
	store.Put(old)
	clock.Advance(2 * time.Hour)
	fresh := newSession(datatypes.AnalysisRequest{Question: "fresh"})
	store.Put(fresh)
	gone := newSession(datatypes.AnalysisRequest{Question: "gone"})
	store.Put(gone)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Sweep())
	assert.True(t, store.Delete(gone.ID))
	assert.False(t, store.Delete(gone.ID))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, []int{1, 2, 3, 2, 1}, sizes)
}

func TestSessionStore_StartSweepsUntilCancelled(t *testing.T) {
	store := NewSessionStore(time.Millisecond, 10)
	store.Put(newSession(datatypes.AnalysisRequest{Question: "q"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.Start(ctx)

	// The sweep interval is floored at one second.
	assert.Eventually(t, func() bool { return store.Len() == 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestSessionStore_ConcurrentAccess(t *testing.T) {
	store := NewSessionStore(time.Hour, 50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s := newSession(datatypes.AnalysisRequest{Question: "q"})
				store.Put(s)
				store.Get(s.ID)
				if j%3 == 0 {
					store.Delete(s.ID)
				}
				store.Sweep()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, store.Len(), 50)
}

func TestSession_Info(t *testing.T) {
	s := newSession(datatypes.AnalysisRequest{Question: "q", Paths: []string{"navigation.position"}})
	s.commit([]llm.Turn{
		llm.UserTurn("q"),
		llm.AgentTurn([]llm.ContentBlock{llm.ToolUseBlock(llm.ToolUse{ID: "t1", Name: "run_query"})}),
		llm.ToolResultTurn([]llm.ToolResult{{ToolUseID: "t1", Content: "ok"}}),
		llm.AgentTurn([]llm.ContentBlock{llm.TextBlock("done")}),
	}, 1)

	info := s.Info()
	assert.Equal(t, s.ID, info.ID)
	assert.Equal(t, 1, info.QueriesExecuted)
	assert.True(t, info.PairingValid)
	assert.Len(t, info.Turns, 4)

	s.commit([]llm.Turn{
		llm.AgentTurn([]llm.ContentBlock{llm.ToolUseBlock(llm.ToolUse{ID: "t2", Name: "run_query"})}),
	}, 0)
	info = s.Info()
	assert.False(t, info.PairingValid)
	assert.NotEmpty(t, info.PairingError)
}

func TestSession_TurnsAreCopies(t *testing.T) {
	s := newSession(datatypes.AnalysisRequest{Question: "q"})
	s.commit([]llm.Turn{llm.UserTurn("original")}, 0)

	turns := s.Turns()
	turns[0].Blocks[0].Text = "changed"
	assert.Equal(t, "original", s.Turns()[0].Text())
}
