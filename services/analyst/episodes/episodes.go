// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package episodes derives start/end intervals from boolean regimen series.
package episodes

import (
	"sort"
	"time"
)

// Status of an episode.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Point is one sample of a boolean regimen series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     bool      `json:"value"`
}

// Episode is a derived interval during which a regimen was true.
//
// A completed episode has EndTime and DurationMs set and
// DurationMs == EndTime - StartTime. An active episode has neither.
type Episode struct {
	Regimen    string     `json:"regimen"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime"`
	Status     Status     `json:"status"`
	DurationMs *int64     `json:"durationMs"`
}

// Completed reports whether the episode has an end.
func (e Episode) Completed() bool {
	return e.Status == StatusCompleted
}

// Boundaries holds the transition points of a series.
type Boundaries struct {
	Starts []time.Time
	Ends   []time.Time
}

// DetectBoundaries scans an ascending series. A point is a start when it is
// true and the previous point is false or absent; it is an end when it is
// false and the previous point is true.
func DetectBoundaries(series []Point) Boundaries {
	var b Boundaries
	for i, p := range series {
		hasPrev := i > 0
		prev := hasPrev && series[i-1].Value
		switch {
		case p.Value && !prev:
			b.Starts = append(b.Starts, p.Timestamp)
		case !p.Value && hasPrev && prev:
			b.Ends = append(b.Ends, p.Timestamp)
		}
	}
	return b
}

// Find converts a boolean series into episodes, most recent start first.
//
// # Description
//
// The series is sorted ascending by timestamp (the input slice is not
// modified). Each start boundary is paired with the earliest end boundary
// strictly later than it, searched over the whole end set. Starts with no
// later end become active episodes.
//
// Pairing is independent per start, so a series with several starts before
// any end can pair two starts with the same end. That behavior is kept as is;
// callers needing strict alternation must pre-filter the series.
//
// # Inputs
//
//   - regimen: Name copied into every episode.
//   - series: Boolean samples in any order.
//   - limit: Maximum number of episodes returned. <= 0 means no limit.
//
// # Outputs
//
//   - []Episode: Sorted by StartTime descending. Never nil.
func Find(regimen string, series []Point, limit int) []Episode {
	if len(series) == 0 {
		return []Episode{}
	}

	sorted := make([]Point, len(series))
	copy(sorted, series)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	b := DetectBoundaries(sorted)
	out := make([]Episode, 0, len(b.Starts))
	for _, start := range b.Starts {
		ep := Episode{Regimen: regimen, StartTime: start, Status: StatusActive}
		idx := sort.Search(len(b.Ends), func(i int) bool {
			return b.Ends[i].After(start)
		})
		if idx < len(b.Ends) {
			end := b.Ends[idx]
			dur := end.Sub(start).Milliseconds()
			ep.EndTime = &end
			ep.DurationMs = &dur
			ep.Status = StatusCompleted
		}
		out = append(out, ep)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
