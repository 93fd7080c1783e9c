// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisRequest_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		req     AnalysisRequest
		wantErr bool
	}{
		{name: "minimal", req: AnalysisRequest{Question: "How fast were we going?"}},
		{name: "missing question", req: AnalysisRequest{}, wantErr: true},
		{name: "oversized question", req: AnalysisRequest{Question: strings.Repeat("x", MaxQuestionBytes+1)}, wantErr: true},
		{name: "too many samples", req: AnalysisRequest{Question: "q", MaxSamples: 501}, wantErr: true},
		{name: "empty path", req: AnalysisRequest{Question: "q", Paths: []string{""}}, wantErr: true},
		{
			name: "valid range",
			req:  AnalysisRequest{Question: "q", TimeRange: &TimeRange{Start: now.Add(-time.Hour), End: now}},
		},
		{
			name:    "inverted range",
			req:     AnalysisRequest{Question: "q", TimeRange: &TimeRange{Start: now, End: now.Add(-time.Hour)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFollowUpRequest_Validate(t *testing.T) {
	assert.Error(t, (&FollowUpRequest{}).Validate())
	assert.NoError(t, (&FollowUpRequest{Question: "and yesterday?"}).Validate())
}

func TestNewAnalysisResponse(t *testing.T) {
	r := NewAnalysisResponse(ModeSampled)
	assert.NotEmpty(t, r.ID)
	assert.NotNil(t, r.Insights)
	assert.NotNil(t, r.Recommendations)
	assert.NotNil(t, r.Anomalies)
	assert.Equal(t, ModeSampled, r.Metadata.Mode)

	r.Confidence = 1.7
	r.ClampConfidence()
	assert.Equal(t, 1.0, r.Confidence)
	r.Confidence = -0.2
	r.ClampConfidence()
	assert.Equal(t, 0.0, r.Confidence)

	s := r.Summary()
	assert.Equal(t, r.ID, s.ID)
	assert.Equal(t, ModeSampled, s.Mode)
}
