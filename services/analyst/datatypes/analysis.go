// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request, response and record types shared
// by the analyst service packages.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQuestionBytes bounds a single analyst question.
	MaxQuestionBytes = 8 * 1024

	// MaxSampledRecords bounds the sample size accepted by sampled analysis.
	MaxSampledRecords = 500
)

// Analysis modes reported in metadata.
const (
	ModeInteractive = "interactive"
	ModeFollowUp    = "followup"
	ModeSampled     = "sampled"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var analysisValidate *validator.Validate

func init() {
	analysisValidate = validator.New()
	_ = analysisValidate.RegisterValidation("questionbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxQuestionBytes
	})
}

// =============================================================================
// Request Types
// =============================================================================

// TimeRange is a closed interval of absolute timestamps.
type TimeRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Valid reports whether the range is non-empty and ordered.
func (r TimeRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !r.End.Before(r.Start)
}

// String renders the range for prompts and logs.
func (r TimeRange) String() string {
	return fmt.Sprintf("%s to %s", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// AnalysisRequest is the body of POST /v1/analysis and /v1/analysis/sampled.
//
// # Fields
//
//   - Question: Required. The analyst's question, at most 8 KiB.
//   - Context: Optional. Signal K context, default "vessels.self".
//   - Paths: Optional. Paths the question is about. Sampled mode requires
//     at least one.
//   - TimeRange: Optional. Restricts the data considered.
//   - MaxSamples: Optional. Sample size for sampled mode (1-500).
type AnalysisRequest struct {
	Question   string     `json:"question" validate:"required,questionbytes"`
	Context    string     `json:"context,omitempty" validate:"omitempty,max=256"`
	Paths      []string   `json:"paths,omitempty" validate:"max=32,dive,required,max=256"`
	TimeRange  *TimeRange `json:"timeRange,omitempty"`
	MaxSamples int        `json:"maxSamples,omitempty" validate:"gte=0,lte=500"`
}

// Validate checks the struct tags and the time range ordering.
func (r *AnalysisRequest) Validate() error {
	if err := analysisValidate.Struct(r); err != nil {
		return err
	}
	if r.TimeRange != nil && !r.TimeRange.Valid() {
		return fmt.Errorf("timeRange: end must not precede start")
	}
	return nil
}

// FollowUpRequest is the body of POST /v1/analysis/:id/followup.
type FollowUpRequest struct {
	Question string `json:"question" validate:"required,questionbytes"`
}

// Validate checks the struct tags.
func (r *FollowUpRequest) Validate() error {
	return analysisValidate.Struct(r)
}

// =============================================================================
// Response Types
// =============================================================================

// Anomaly is one unusual observation reported by the analysis.
type Anomaly struct {
	Description string  `json:"description"`
	Path        string  `json:"path,omitempty"`
	Severity    string  `json:"severity,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Value       any     `json:"value,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// AnalysisMetadata describes how an answer was produced.
type AnalysisMetadata struct {
	QueriesExecuted int        `json:"queriesExecuted"`
	TimeRange       *TimeRange `json:"timeRange,omitempty"`
	Mode            string     `json:"mode"`
	Rounds          int        `json:"rounds"`
	ToolCalls       int        `json:"toolCalls"`
	InputTokens     int        `json:"inputTokens"`
	OutputTokens    int        `json:"outputTokens"`
	ConversationID  string     `json:"conversationId,omitempty"`
	Model           string     `json:"model,omitempty"`
	Truncated       bool       `json:"truncated,omitempty"`
}

// AnalysisResponse is the final answer returned to callers and persisted to
// the answer store.
type AnalysisResponse struct {
	ID              string           `json:"id"`
	Question        string           `json:"question,omitempty"`
	Analysis        string           `json:"analysis"`
	Insights        []string         `json:"insights"`
	Recommendations []string         `json:"recommendations"`
	Anomalies       []Anomaly        `json:"anomalies"`
	Confidence      float64          `json:"confidence"`
	DataQuality     string           `json:"dataQuality"`
	Timestamp       time.Time        `json:"timestamp"`
	Metadata        AnalysisMetadata `json:"metadata"`
}

// NewAnalysisResponse returns a response with a fresh id, the current time
// and non-nil slices.
func NewAnalysisResponse(mode string) *AnalysisResponse {
	return &AnalysisResponse{
		ID:              uuid.NewString(),
		Insights:        []string{},
		Recommendations: []string{},
		Anomalies:       []Anomaly{},
		Timestamp:       time.Now().UTC(),
		Metadata:        AnalysisMetadata{Mode: mode},
	}
}

// ClampConfidence forces the confidence into [0, 1].
func (r *AnalysisResponse) ClampConfidence() {
	switch {
	case r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
}

// AnalysisSummary is the list view of a stored answer.
type AnalysisSummary struct {
	ID         string    `json:"id"`
	Question   string    `json:"question,omitempty"`
	Mode       string    `json:"mode"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary returns the list view of r.
func (r *AnalysisResponse) Summary() AnalysisSummary {
	return AnalysisSummary{
		ID:         r.ID,
		Question:   r.Question,
		Mode:       r.Metadata.Mode,
		Confidence: r.Confidence,
		Timestamp:  r.Timestamp,
	}
}

// ErrorResponse is the JSON error body of the HTTP API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
