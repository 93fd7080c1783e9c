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

import "github.com/AleutianAI/signalk-analyst/services/llm"

var runQueryDefinition = llm.ToolDefinition{
	Name: ToolRunQuery,
	Description: "Run a read-only SQL query (SELECT or WITH) against the historical vessel database. " +
		"Each Signal K path is a table named with underscores instead of dots " +
		"(navigation.speedOverGround is navigation_speedOverGround) with columns " +
		"timestamp, value, value_json, context and source. Object-valued paths such as " +
		"navigation.position store their data in value_json. Returns the row count and a preview of the rows.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The SQL query to execute.",
			},
			"purpose": map[string]any{
				"type":        "string",
				"description": "What this query is meant to find out.",
			},
		},
		"required": []string{"query", "purpose"},
	},
}

var liveSnapshotDefinition = llm.ToolDefinition{
	Name: ToolGetLiveSnapshot,
	Description: "Get the current live values from the Signal K server. Without paths the whole " +
		"data tree of the scope is returned, nested objects are cut off below a fixed depth.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"paths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Signal K paths to read, for example navigation.speedOverGround.",
			},
			"purpose": map[string]any{
				"type":        "string",
				"description": "Why the live data is needed.",
			},
			"scope": map[string]any{
				"type":        "string",
				"description": "\"self\" (default), \"all\" or a Signal K context such as vessels.urn:mrn:imo:mmsi:230099999.",
			},
		},
		"required": []string{"purpose"},
	},
}

var findEpisodesDefinition = llm.ToolDefinition{
	Name: ToolFindEpisodes,
	Description: "Find episodes of a regimen (for example anchored or motoring): contiguous intervals " +
		"during which it was active. Returns episodes newest first with start, end, status and duration.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"regimenName": map[string]any{
				"type":        "string",
				"description": "Name of the regimen.",
			},
			"timeRange": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start": map[string]any{"type": "string", "format": "date-time"},
					"end":   map[string]any{"type": "string", "format": "date-time"},
				},
				"required": []string{"start", "end"},
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of episodes, default 10.",
			},
		},
		"required": []string{"regimenName"},
	},
}

// Definitions returns the schemas of the three built-in tools.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{runQueryDefinition, liveSnapshotDefinition, findEpisodesDefinition}
}
