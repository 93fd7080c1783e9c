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
	"errors"
	"strings"
	"sync"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datastore"
	"github.com/AleutianAI/signalk-analyst/services/analyst/queryguard"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

// ErrorRecovery turns tool errors into hints the agent can act on.
//
// Thread Safety: ErrorRecovery is safe for concurrent use.
type ErrorRecovery struct {
	mu sync.RWMutex

	// customSuggestions maps error substrings to suggestions.
	customSuggestions map[string]string
}

// NewErrorRecovery creates a recovery helper with no custom suggestions.
func NewErrorRecovery() *ErrorRecovery {
	return &ErrorRecovery{customSuggestions: make(map[string]string)}
}

// AddCustomSuggestion registers a suggestion for errors whose message
// contains pattern. Custom suggestions win over the built-in ones.
func (r *ErrorRecovery) AddCustomSuggestion(pattern, suggestion string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customSuggestions[pattern] = suggestion
}

func (r *ErrorRecovery) matchCustomSuggestion(errMsg string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pattern, suggestion := range r.customSuggestions {
		if strings.Contains(errMsg, pattern) {
			return suggestion
		}
	}
	return ""
}

// SuggestFix returns a recovery hint for err, or "" when there is none.
func (r *ErrorRecovery) SuggestFix(err error, use llm.ToolUse) string {
	if err == nil {
		return ""
	}
	errMsg := err.Error()

	if suggestion := r.matchCustomSuggestion(errMsg); suggestion != "" {
		return suggestion
	}

	switch {
	case errors.Is(err, queryguard.ErrSecurityViolation):
		return "Only read-only SELECT or WITH queries are allowed. Remove any statement that modifies data and retry."

	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(errMsg, "timed out"):
		return suggestTimeout(use)

	case errors.Is(err, context.Canceled):
		return "The operation was cancelled. You may retry if the user hasn't explicitly asked to stop."

	case errors.Is(err, ErrInvalidInput):
		return "Check the tool definition for required parameters and their types."

	case errors.Is(err, datastore.ErrSourceUnavailable):
		return "This data source is not configured. Answer from the other tools or explain that the data is unavailable."

	case strings.Contains(errMsg, "no such table"):
		return "Table names replace the dots of a path with underscores (navigation.position is navigation_position). " +
			"Run SELECT name FROM sqlite_master WHERE type = 'table' to list them."

	case strings.Contains(errMsg, "no such column"):
		return "Path tables have the columns timestamp, value, value_json, context and source. " +
			"Structured paths such as navigation.position keep their objects in value_json."

	case strings.Contains(errMsg, "syntax error"):
		return "The query has a syntax error. Check quoting, commas and clause order."

	case strings.Contains(errMsg, "no data at"):
		return "The path has no live value. Call get_live_snapshot without paths to see what is available."

	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "dial tcp"):
		return "Network error occurred. The service may be unavailable. Try again later or use another tool."

	case strings.Contains(errMsg, "regimen"):
		return "Regimen names contain only letters, digits, '_' or '-', for example anchored or motoring."
	}
	return ""
}

func suggestTimeout(use llm.ToolUse) string {
	switch use.Name {
	case ToolRunQuery:
		return "The query timed out. Add a LIMIT, aggregate with GROUP BY, or narrow the timestamp range."
	case ToolGetLiveSnapshot:
		return "The snapshot timed out. Request fewer paths."
	case ToolFindEpisodes:
		return "Episode lookup timed out. Pass a narrower timeRange."
	default:
		return "Operation timed out. Try a smaller scope or simpler operation."
	}
}
