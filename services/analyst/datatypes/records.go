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

import "time"

// DefaultContext is the Signal K context of the own vessel.
const DefaultContext = "vessels.self"

// TimeSeriesRecord is one stored observation of a Signal K path.
//
// Value is a scalar (float64, string, bool) or, for structured paths such as
// navigation.position, a map decoded from the value_json column.
type TimeSeriesRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Value     any       `json:"value"`
	Context   string    `json:"context,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// Row is one result row of the query engine, column name to value.
type Row map[string]any
