// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sampling

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

var base = time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)

func makeRecords(n int) []datatypes.TimeSeriesRecord {
	out := make([]datatypes.TimeSeriesRecord, n)
	for i := range out {
		out[i] = datatypes.TimeSeriesRecord{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Path:      "navigation.speedOverGround",
			Value:     float64(i % 10),
			Context:   datatypes.DefaultContext,
			Source:    "nmea0183.GP",
		}
	}
	return out
}

func TestSample_LargeInput(t *testing.T) {
	records := makeRecords(10000)
	// shuffle newest to the front to make sure ordering is not assumed
	records[0], records[len(records)-1] = records[len(records)-1], records[0]

	got := Sample(records, 30)
	require.Len(t, got, 30)
	assert.Equal(t, base.Add(9999*time.Second), got[len(got)-1].Timestamp)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp), "sample must be strictly ascending at %d", i)
	}
	assert.Equal(t, base, got[0].Timestamp)
}

func TestSample_SmallInputReturnsAll(t *testing.T) {
	got := Sample(makeRecords(12), 30)
	assert.Len(t, got, 12)
	assert.Empty(t, Sample(nil, 30))
}

func TestSample_Deterministic(t *testing.T) {
	records := makeRecords(777)
	assert.Equal(t, Sample(records, 40), Sample(records, 40))
}

func TestSample_ExactSizeAcrossShapes(t *testing.T) {
	for _, n := range []int{31, 59, 60, 61, 1000, 4321} {
		for _, max := range []int{1, 3, 5, 6, 30} {
			if n <= max {
				continue
			}
			got := Sample(makeRecords(n), max)
			require.Len(t, got, max, "n=%d max=%d", n, max)
			assert.Equal(t, base.Add(time.Duration(n-1)*time.Second), got[len(got)-1].Timestamp, "n=%d max=%d", n, max)
		}
	}
}

func TestSample_DefaultCap(t *testing.T) {
	assert.Len(t, Sample(makeRecords(100), 0), DefaultMaxSamples)
}

func TestSummarize(t *testing.T) {
	now := base.Add(12 * time.Hour)
	records := []datatypes.TimeSeriesRecord{
		{Timestamp: base, Path: "environment.depth.belowKeel", Value: 2.0},
		{Timestamp: base.Add(time.Hour), Path: "environment.depth.belowKeel", Value: 4.0},
		{Timestamp: base.Add(2 * time.Hour), Path: "environment.depth.belowKeel", Value: 6.0, Source: "n2k.115"},
		{Timestamp: base.Add(3 * time.Hour), Path: "environment.depth.belowKeel", Value: nil},
	}

	s := Summarize(records, now)
	assert.Equal(t, 4, s.RowCount)
	require.NotNil(t, s.Earliest)
	assert.Equal(t, base, *s.Earliest)
	assert.Equal(t, base.Add(3*time.Hour), *s.Latest)

	assert.Equal(t, FieldStats{Cardinality: 3, Nulls: 1}, s.Fields["value"])
	assert.Equal(t, FieldStats{Cardinality: 1, Nulls: 3}, s.Fields["source"])
	assert.Equal(t, 4, s.Fields["context"].Nulls)

	depth := s.Numeric["environment.depth.belowKeel"]
	assert.Equal(t, 3, depth.Count)
	assert.InDelta(t, 4.0, depth.Mean, 1e-9)
	assert.InDelta(t, 4.0, depth.Median, 1e-9)
	assert.Equal(t, 2.0, depth.Min)
	assert.Equal(t, 6.0, depth.Max)
	assert.InDelta(t, 1.632993, depth.StdDev, 1e-6)

	assert.InDelta(t, 0.75, s.Completeness, 1e-9)
	assert.InDelta(t, 1-9.0/24.0, s.Freshness, 1e-9)
	assert.InDelta(t, 0.6*0.75+0.4*(1-9.0/24.0), s.QualityScore, 1e-9)
	assert.Equal(t, QualityFair, s.QualityLabel)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, base)
	assert.Equal(t, 0, s.RowCount)
	assert.Equal(t, QualityNoData, s.QualityLabel)
	assert.Nil(t, s.Latest)
}

func TestFreshness(t *testing.T) {
	assert.Equal(t, 1.0, Freshness(base, base))
	assert.Equal(t, 1.0, Freshness(base.Add(time.Hour), base))
	assert.InDelta(t, 0.5, Freshness(base, base.Add(12*time.Hour)), 1e-9)
	assert.Equal(t, 0.0, Freshness(base, base.Add(48*time.Hour)))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, QualityGood, Label(0.9))
	assert.Equal(t, QualityFair, Label(0.5))
	assert.Equal(t, QualityPoor, Label(0.49))
}

func TestSummarize_EvenMedianAndStringNumbers(t *testing.T) {
	records := []datatypes.TimeSeriesRecord{
		{Timestamp: base, Path: "p", Value: "1"},
		{Timestamp: base, Path: "p", Value: 3},
		{Timestamp: base, Path: "p", Value: true},
		{Timestamp: base, Path: "p", Value: "n/a"},
		{Timestamp: base, Path: "p", Value: int64(5)},
		{Timestamp: base, Path: "p", Value: 7.0},
	}
	s := Summarize(records, base)
	p := s.Numeric["p"]
	assert.Equal(t, 4, p.Count)
	assert.InDelta(t, 4.0, p.Median, 1e-9)
}

func TestSummarize_IgnoresNonFiniteValues(t *testing.T) {
	records := []datatypes.TimeSeriesRecord{
		{Timestamp: base, Path: "p", Value: 3.2},
		{Timestamp: base, Path: "p", Value: "inf"},
		{Timestamp: base, Path: "p", Value: "-Infinity"},
		{Timestamp: base, Path: "p", Value: math.Inf(1)},
		{Timestamp: base, Path: "p", Value: float32(math.Inf(-1))},
		{Timestamp: base, Path: "p", Value: math.NaN()},
	}
	s := Summarize(records, base)
	p := s.Numeric["p"]
	assert.Equal(t, 1, p.Count)
	assert.Equal(t, 3.2, p.Max)

	_, err := json.Marshal(s)
	assert.NoError(t, err)
}
