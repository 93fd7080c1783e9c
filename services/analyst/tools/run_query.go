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
	"strings"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datastore"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/queryguard"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

// Preview limits of a query result.
const (
	DefaultPreviewRows  = 50
	DefaultPreviewBytes = 16 * 1024
)

// QueryTool implements run_query.
type QueryTool struct {
	guard        *queryguard.Guard
	engine       datastore.QueryEngine
	previewRows  int
	previewBytes int
}

var _ Handler = (*QueryTool)(nil)

// NewQueryTool creates the run_query handler. Non-positive preview limits
// select the defaults.
func NewQueryTool(guard *queryguard.Guard, engine datastore.QueryEngine, previewRows, previewBytes int) *QueryTool {
	if guard == nil {
		guard = queryguard.New()
	}
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	if previewBytes <= 0 {
		previewBytes = DefaultPreviewBytes
	}
	return &QueryTool{guard: guard, engine: engine, previewRows: previewRows, previewBytes: previewBytes}
}

// Name implements Handler.
func (t *QueryTool) Name() string { return ToolRunQuery }

// Definition implements Handler.
func (t *QueryTool) Definition() llm.ToolDefinition { return runQueryDefinition }

// Execute validates and corrects the query, runs it and renders the row
// count plus a bounded JSON preview.
func (t *QueryTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	raw, err := requiredString(input, "query")
	if err != nil {
		return "", err
	}
	query, err := t.guard.ValidateAndCorrect(raw)
	if err != nil {
		return "", err
	}
	if t.engine == nil {
		return "", fmt.Errorf("%w: no query engine", datastore.ErrSourceUnavailable)
	}

	rows, err := t.engine.Query(ctx, query)
	if err != nil {
		return "", err
	}
	return renderRows(query, raw, rows, t.previewRows, t.previewBytes), nil
}

// renderRows formats a result. The preview is a JSON array holding as many
// leading rows as fit in both limits.
func renderRows(query, raw string, rows []datatypes.Row, maxRows, maxBytes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query returned %d rows.\n", len(rows))
	if query != strings.TrimSpace(raw) {
		fmt.Fprintf(&b, "Executed corrected query: %s\n", query)
	}
	if len(rows) == 0 {
		return b.String()
	}

	encoded := make([]string, 0, min(len(rows), maxRows))
	size := 2
	for i, row := range rows {
		if i >= maxRows {
			break
		}
		line, err := json.Marshal(row)
		if err != nil {
			line = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		if size+len(line)+2 > maxBytes {
			if len(encoded) > 0 {
				break
			}
			if len(line) > maxBytes {
				line = append(line[:maxBytes:maxBytes], " ... [truncated]"...)
			}
		}
		encoded = append(encoded, string(line))
		size += len(line) + 2
	}

	if len(encoded) < len(rows) {
		fmt.Fprintf(&b, "Showing first %d rows:\n", len(encoded))
	}
	b.WriteString("[\n")
	b.WriteString(strings.Join(encoded, ",\n"))
	b.WriteString("\n]")
	return b.String()
}
