// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package answers

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func answerAt(id string, minutes int) *datatypes.AnalysisResponse {
	a := datatypes.NewAnalysisResponse(datatypes.ModeInteractive)
	a.ID = id
	a.Question = "question " + id
	a.Analysis = "analysis " + id
	a.Confidence = 0.8
	a.Timestamp = base.Add(time.Duration(minutes) * time.Minute)
	return a
}

func TestStore_PutGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	in := answerAt("a1", 0)
	in.Insights = []string{"wind backed 30 degrees"}
	in.Anomalies = []datatypes.Anomaly{{Description: "depth spike", Path: "environment.depth.belowKeel", Value: 1.2}}
	require.NoError(t, s.Put(ctx, in))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, in.Analysis, got.Analysis)
	assert.Equal(t, in.Insights, got.Insights)
	assert.Equal(t, "depth spike", got.Anomalies[0].Description)
	assert.True(t, got.Timestamp.Equal(in.Timestamp))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListRecentNewestFirst(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Put(ctx, answerAt(id, i)))
	}

	list, err := s.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"d", "c", "b"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, datatypes.ModeInteractive, list[0].Mode)

	all, err := s.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_PutReplacesIndexEntry(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, answerAt("a", 0)))
	require.NoError(t, s.Put(ctx, answerAt("b", 1)))
	require.NoError(t, s.Put(ctx, answerAt("a", 2)))

	list, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestStore_Delete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, answerAt("a", 0)))

	require.NoError(t, s.Delete(ctx, "a"))
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

	list, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Validation(t *testing.T) {
	s := openMemory(t)
	assert.Error(t, s.Put(context.Background(), nil))
	assert.Error(t, s.Put(context.Background(), &datatypes.AnalysisResponse{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Put(ctx, answerAt("x", 0)), context.Canceled)
	_, err := s.ListRecent(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "answers")
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(context.Background(), answerAt(fmt.Sprintf("p%d", i), i)))
	}
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "analysis p1", got.Analysis)

	list, err := s.ListRecent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	_, err = Open(Config{Path: t.TempDir(), GCInterval: time.Minute, GCDiscardRatio: 2})
	assert.Error(t, err)
}
