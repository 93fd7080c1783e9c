// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/signalk-analyst/pkg/validation"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datastore"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/episodes"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

// DefaultEpisodeLimit is used when find_episodes gets no limit.
const DefaultEpisodeLimit = 10

// EpisodeTool implements find_episodes.
type EpisodeTool struct {
	source datastore.SeriesSource
}

var _ Handler = (*EpisodeTool)(nil)

// NewEpisodeTool creates the find_episodes handler.
func NewEpisodeTool(source datastore.SeriesSource) *EpisodeTool {
	return &EpisodeTool{source: source}
}

// Name implements Handler.
func (t *EpisodeTool) Name() string { return ToolFindEpisodes }

// Definition implements Handler.
func (t *EpisodeTool) Definition() llm.ToolDefinition { return findEpisodesDefinition }

type episodeResult struct {
	Regimen   string               `json:"regimen"`
	TimeRange *datatypes.TimeRange `json:"timeRange,omitempty"`
	Count     int                  `json:"count"`
	Episodes  []episodes.Episode   `json:"episodes"`
}

// Execute loads the regimen series and returns its episodes, newest first.
func (t *EpisodeTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	raw, err := requiredString(input, "regimenName")
	if err != nil {
		return "", err
	}
	regimen, err := validation.SanitizeRegimen(raw)
	if err != nil {
		return "", err
	}
	tr, err := optionalTimeRange(input, "timeRange")
	if err != nil {
		return "", err
	}
	limit, err := optionalInt(input, "limit", DefaultEpisodeLimit)
	if err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = DefaultEpisodeLimit
	}
	if t.source == nil {
		return "", fmt.Errorf("%w: no regimen history", datastore.ErrSourceUnavailable)
	}

	series, err := t.source.RegimenSeries(ctx, regimen, tr)
	if err != nil {
		return "", err
	}
	found := episodes.Find(regimen, series, limit)

	out, err := json.MarshalIndent(episodeResult{
		Regimen:   regimen,
		TimeRange: tr,
		Count:     len(found),
		Episodes:  found,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode episodes: %w", err)
	}
	return string(out), nil
}
