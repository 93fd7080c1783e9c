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
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/sampling"
)

// DefaultSystemPrompt frames the agent. The tool descriptions carry the
// schema details.
const DefaultSystemPrompt = `You are a marine data analyst working with Signal K vessel data.
Historical data lives in a read-only SQLite database with one table per Signal K path,
dots replaced by underscores (navigation.speedOverGround is navigation_speedOverGround).
Each table has the columns timestamp, value, value_json, context and source.
Structured values such as positions and attitudes are stored in value_json.

Use run_query for history, get_live_snapshot for current state and find_episodes for
regimen intervals such as anchored or motoring. Query only what you need.

When you are done, answer with a short narrative followed by a fenced json block:
{"analysis": "...", "insights": ["..."], "recommendations": ["..."],
 "anomalies": [{"description": "...", "path": "...", "severity": "low|medium|high"}],
 "confidence": 0.0-1.0, "dataQuality": "good|fair|poor"}`

// initialPrompt renders the first user turn of a fresh analysis.
func initialPrompt(req datatypes.AnalysisRequest, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	fmt.Fprintf(&b, "Context: %s\n", req.Context)
	fmt.Fprintf(&b, "Current time: %s\n", now.UTC().Format(time.RFC3339))
	if req.TimeRange != nil {
		fmt.Fprintf(&b, "Time range: %s\n", req.TimeRange)
	}
	if len(req.Paths) > 0 {
		fmt.Fprintf(&b, "Paths of interest: %s\n", strings.Join(req.Paths, ", "))
	}
	return b.String()
}

func followUpPrompt(question string) string {
	return "Follow-up question: " + question
}

// sampledPrompt renders the single prompt of a sampled analysis.
// Non-finite sample values are rendered as null.
func sampledPrompt(req datatypes.AnalysisRequest, summary sampling.Summary, sample []datatypes.TimeSeriesRecord) (string, error) {
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	sampleJSON, err := json.MarshalIndent(finiteRecords(sample), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode sample: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	fmt.Fprintf(&b, "Context: %s\nPaths: %s\n", req.Context, strings.Join(req.Paths, ", "))
	if req.TimeRange != nil {
		fmt.Fprintf(&b, "Time range: %s\n", req.TimeRange)
	}
	b.WriteString("\nNo tools are available. Answer from the summary and sample below.\n\n")

	b.WriteString("Summary:\n")
	b.Write(summaryJSON)
	fmt.Fprintf(&b, "\n\nSample (%d of %d records, oldest first):\n", len(sample), summary.RowCount)
	b.Write(sampleJSON)
	return b.String(), nil
}

// finiteRecords copies records, replacing NaN and infinite values with nil.
func finiteRecords(records []datatypes.TimeSeriesRecord) []datatypes.TimeSeriesRecord {
	out := make([]datatypes.TimeSeriesRecord, len(records))
	for i, r := range records {
		r.Value = finiteValue(r.Value)
		out[i] = r
	}
	return out
}

func finiteValue(v any) any {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return nil
		}
	case map[string]any:
		m := make(map[string]any, len(n))
		for k, val := range n {
			m[k] = finiteValue(val)
		}
		return m
	case []any:
		s := make([]any, len(n))
		for i, val := range n {
			s[i] = finiteValue(val)
		}
		return s
	}
	return v
}
