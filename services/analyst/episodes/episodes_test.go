// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package episodes

import (
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func TestFind_Empty(t *testing.T) {
	eps := Find("anchored", nil, 10)
	assert.NotNil(t, eps)
	assert.Empty(t, eps)
}

func TestFind_CompletedThenActive(t *testing.T) {
	series := []Point{
		{Timestamp: at(0), Value: true},
		{Timestamp: at(10), Value: false},
		{Timestamp: at(20), Value: true},
	}

	eps := Find("motoring", series, 10)
	require.Len(t, eps, 2)

	active := eps[0]
	assert.Equal(t, StatusActive, active.Status)
	assert.Equal(t, at(20), active.StartTime)
	assert.Nil(t, active.EndTime)
	assert.Nil(t, active.DurationMs)

	done := eps[1]
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, at(0), done.StartTime)
	require.NotNil(t, done.EndTime)
	assert.Equal(t, at(10), *done.EndTime)
	require.NotNil(t, done.DurationMs)
	assert.Equal(t, int64(10*60*1000), *done.DurationMs)
	assert.Equal(t, "motoring", done.Regimen)
}

func TestFind_AllTrueIsOneActiveEpisode(t *testing.T) {
	series := []Point{
		{Timestamp: at(0), Value: true},
		{Timestamp: at(1), Value: true},
		{Timestamp: at(2), Value: true},
	}
	eps := Find("sailing", series, 0)
	require.Len(t, eps, 1)
	assert.Equal(t, StatusActive, eps[0].Status)
	assert.Equal(t, at(0), eps[0].StartTime)
}

func TestFind_UnsortedInputAndLimit(t *testing.T) {
	series := []Point{
		{Timestamp: at(50), Value: false},
		{Timestamp: at(0), Value: true},
		{Timestamp: at(40), Value: true},
		{Timestamp: at(10), Value: false},
		{Timestamp: at(20), Value: true},
		{Timestamp: at(30), Value: false},
	}

	eps := Find("anchored", series, 2)
	require.Len(t, eps, 2)
	assert.Equal(t, at(40), eps[0].StartTime)
	assert.Equal(t, at(50), *eps[0].EndTime)
	assert.Equal(t, at(20), eps[1].StartTime)
	assert.Equal(t, at(30), *eps[1].EndTime)

	// input slice is left untouched
	assert.Equal(t, at(50), series[0].Timestamp)
}

func TestFind_LeadingFalseIsNotAnEnd(t *testing.T) {
	series := []Point{
		{Timestamp: at(0), Value: false},
		{Timestamp: at(5), Value: false},
		{Timestamp: at(10), Value: true},
	}
	b := DetectBoundaries(series)
	assert.Empty(t, b.Ends)
	assert.Equal(t, []time.Time{at(10)}, b.Starts)
}

func TestFind_Invariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for trial := 0; trial < 200; trial++ {
		n := rng.IntN(60)
		series := make([]Point, n)
		for i := range series {
			series[i] = Point{Timestamp: at(i), Value: rng.IntN(2) == 1}
		}

		eps := Find("r", series, 0)
		b := DetectBoundaries(series)
		assert.LessOrEqual(t, len(eps), len(b.Starts))

		for i, ep := range eps {
			if i > 0 {
				assert.False(t, ep.StartTime.After(eps[i-1].StartTime), "episodes must be sorted descending")
			}
			if ep.Status == StatusCompleted {
				require.NotNil(t, ep.EndTime)
				require.NotNil(t, ep.DurationMs)
				assert.True(t, ep.EndTime.After(ep.StartTime))
				assert.Equal(t, ep.EndTime.Sub(ep.StartTime).Milliseconds(), *ep.DurationMs)
			} else {
				assert.Nil(t, ep.EndTime)
				assert.Nil(t, ep.DurationMs)
			}
		}
	}
}

func TestEpisode_JSONShape(t *testing.T) {
	eps := Find("motoring", []Point{{Timestamp: at(0), Value: true}}, 1)
	raw, err := json.Marshal(eps[0])
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "active", m["status"])
	assert.Contains(t, m, "endTime")
	assert.Nil(t, m["endTime"])
	assert.Contains(t, m, "durationMs")
	assert.Contains(t, m, "startTime")
}
