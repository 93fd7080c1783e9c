// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sampling reduces record sets to a bounded sample plus a statistical
// summary. It is used by the sampled analysis mode, where the agent sees the
// data in a single prompt instead of querying it through tools.
package sampling

import (
	"sort"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

// RecentTail is the number of newest records always kept in a sample.
const RecentTail = 5

// DefaultMaxSamples is used when the caller passes a non-positive cap.
const DefaultMaxSamples = 30

// Sample returns a deterministic, bounded subsequence of records.
//
// # Description
//
// Records are ordered by timestamp ascending (the input is not modified). If
// there are at most maxSamples of them, all are returned. Otherwise
// stride = floor(N / maxSamples) and every stride-th record from index 0 is
// taken until maxSamples-RecentTail are collected, then the RecentTail
// newest records are appended. The result therefore has exactly maxSamples
// elements and ends with the most recent record.
//
// # Inputs
//
//   - records: Records in any order.
//   - maxSamples: Sample size. <= 0 uses DefaultMaxSamples.
//
// # Outputs
//
//   - []datatypes.TimeSeriesRecord: Ascending by timestamp.
func Sample(records []datatypes.TimeSeriesRecord, maxSamples int) []datatypes.TimeSeriesRecord {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	sorted := sortedCopy(records)
	n := len(sorted)
	if n <= maxSamples {
		return sorted
	}

	tail := RecentTail
	if tail > maxSamples {
		tail = maxSamples
	}
	head := maxSamples - tail
	stride := n / maxSamples

	out := make([]datatypes.TimeSeriesRecord, 0, maxSamples)
	for i := 0; i < n && len(out) < head; i += stride {
		out = append(out, sorted[i])
	}
	out = append(out, sorted[n-tail:]...)
	if len(out) > maxSamples {
		out = out[:maxSamples]
	}
	return out
}

func sortedCopy(records []datatypes.TimeSeriesRecord) []datatypes.TimeSeriesRecord {
	out := make([]datatypes.TimeSeriesRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
