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
	"regexp"
	"strings"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

// Confidence assigned when the agent does not state one.
const (
	DefaultConfidence   = 0.75
	TruncatedConfidence = 0.5
	UnknownDataQuality  = "unknown"
)

// Answer is the parsed final narrative: a *StructuredAnswer or a
// *FreeTextAnswer.
type Answer interface {
	answer()
}

// StructuredAnswer is a narrative that carried a JSON object with at least
// one of the known answer fields.
type StructuredAnswer struct {
	Analysis        string
	Insights        []string
	Recommendations []string
	Anomalies       []datatypes.Anomaly
	Confidence      *float64
	DataQuality     string

	// Narrative is the text around the JSON block.
	Narrative string
}

// FreeTextAnswer is a narrative with no usable JSON. Insights and
// Recommendations are recovered from its bullet lists.
type FreeTextAnswer struct {
	Text            string
	Insights        []string
	Recommendations []string
}

func (*StructuredAnswer) answer() {}
func (*FreeTextAnswer) answer()   {}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bulletLine = regexp.MustCompile(`^(?:[-*\x{2022}]|\d+[.)])\s+(.+)$`)
	headingRe  = regexp.MustCompile(`^(?:#+\s*)?(?:\*\*|__)?([A-Za-z][A-Za-z ]*?)(?:\*\*|__)?\s*:?\s*(?:\*\*|__)?$`)
	inlineRec  = regexp.MustCompile(`(?i)^(?:\*\*)?recommendations?(?:\*\*)?\s*:(?:\*\*)?\s*(.+)$`)
)

type rawAnswer struct {
	Analysis        *string         `json:"analysis"`
	Summary         *string         `json:"summary"`
	Insights        []string        `json:"insights"`
	Recommendations []string        `json:"recommendations"`
	Anomalies       json.RawMessage `json:"anomalies"`
	Confidence      *float64        `json:"confidence"`
	DataQuality     *string         `json:"dataQuality"`
}

func (r *rawAnswer) empty() bool {
	return r.Analysis == nil && r.Summary == nil && r.Insights == nil &&
		r.Recommendations == nil && len(r.Anomalies) == 0 && r.Confidence == nil
}

// ParseAnswer extracts the structured fields of a final narrative. It never
// fails: text without a decodable JSON object becomes a FreeTextAnswer.
//
// A fenced ```json block wins over a bare object. Anomalies may be objects
// or plain strings.
func ParseAnswer(text string) Answer {
	text = strings.TrimSpace(text)

	candidate, narrative := "", text
	if m := fencedJSON.FindStringSubmatchIndex(text); m != nil {
		candidate = text[m[2]:m[3]]
		narrative = strings.TrimSpace(text[:m[0]] + "\n" + text[m[1]:])
	} else if open, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); open >= 0 && end > open {
		candidate = text[open : end+1]
		narrative = strings.TrimSpace(text[:open] + "\n" + text[end+1:])
	}
	if candidate == "" {
		return freeText(text)
	}

	var raw rawAnswer
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil || raw.empty() {
		return freeText(text)
	}

	out := &StructuredAnswer{
		Insights:        raw.Insights,
		Recommendations: raw.Recommendations,
		Anomalies:       decodeAnomalies(raw.Anomalies),
		Confidence:      raw.Confidence,
		Narrative:       narrative,
	}
	switch {
	case raw.Analysis != nil:
		out.Analysis = *raw.Analysis
	case raw.Summary != nil:
		out.Analysis = *raw.Summary
	}
	if raw.DataQuality != nil {
		out.DataQuality = *raw.DataQuality
	}
	return out
}

// freeText builds a FreeTextAnswer, collecting bullet lines as insights.
// Bullets below a "Recommendation(s)" heading become recommendations until
// the next heading.
func freeText(text string) *FreeTextAnswer {
	out := &FreeTextAnswer{Text: text}
	inRecs := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			item := strings.TrimSpace(m[1])
			if inRecs {
				out.Recommendations = append(out.Recommendations, item)
			} else {
				out.Insights = append(out.Insights, item)
			}
			continue
		}
		if m := inlineRec.FindStringSubmatch(line); m != nil {
			out.Recommendations = append(out.Recommendations, strings.TrimSpace(m[1]))
			inRecs = false
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil && isHeading(line) {
			name := strings.ToLower(strings.TrimSpace(m[1]))
			inRecs = name == "recommendation" || name == "recommendations"
			continue
		}
		// A prose line closes a recommendations list.
		inRecs = false
	}
	return out
}

// isHeading accepts markdown headings, bold lines and lines ending in a
// colon. Plain prose matching the heading pattern is not a heading.
func isHeading(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasSuffix(line, ":") ||
		strings.HasSuffix(line, "**") || strings.HasSuffix(line, "__")
}

func decodeAnomalies(raw json.RawMessage) []datatypes.Anomaly {
	if len(raw) == 0 {
		return nil
	}
	var objects []datatypes.Anomaly
	if err := json.Unmarshal(raw, &objects); err == nil {
		return objects
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		out := make([]datatypes.Anomaly, 0, len(lines))
		for _, l := range lines {
			out = append(out, datatypes.Anomaly{Description: l})
		}
		return out
	}
	return nil
}

// applyAnswer fills the answer fields of resp from the final narrative.
// truncated marks a loop that hit its round budget.
func applyAnswer(resp *datatypes.AnalysisResponse, text string, truncated bool) {
	resp.Confidence = DefaultConfidence
	resp.DataQuality = UnknownDataQuality

	switch a := ParseAnswer(text).(type) {
	case *StructuredAnswer:
		resp.Analysis = a.Analysis
		if resp.Analysis == "" {
			resp.Analysis = a.Narrative
		}
		if resp.Analysis == "" {
			resp.Analysis = strings.TrimSpace(text)
		}
		if a.Insights != nil {
			resp.Insights = a.Insights
		}
		if a.Recommendations != nil {
			resp.Recommendations = a.Recommendations
		}
		if a.Anomalies != nil {
			resp.Anomalies = a.Anomalies
		}
		if a.Confidence != nil {
			resp.Confidence = *a.Confidence
		}
		if a.DataQuality != "" {
			resp.DataQuality = a.DataQuality
		}
	case *FreeTextAnswer:
		resp.Analysis = a.Text
		if a.Insights != nil {
			resp.Insights = a.Insights
		}
		if a.Recommendations != nil {
			resp.Recommendations = a.Recommendations
		}
	}

	if truncated && resp.Confidence > TruncatedConfidence {
		resp.Confidence = TruncatedConfidence
	}
	resp.ClampConfidence()
}
