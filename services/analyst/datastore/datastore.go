// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datastore provides the data collaborators of the analyst: the
// read-only query engine, regimen series for episode lookup, historical
// records for sampled analysis and the live Signal K snapshot.
//
// # Backends
//
//   - SQLEngine / SQLSeriesSource: read-only SQLite database, one table per
//     Signal K path (navigation.position is stored in navigation_position).
//   - InfluxSource: InfluxDB 2.x bucket queried with Flux, one measurement
//     per path plus a "regimens" measurement.
//   - SignalKClient: REST API of a running Signal K server.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/episodes"
)

// =============================================================================
// Interfaces
// =============================================================================

// QueryEngine executes a read-only query and returns its rows.
type QueryEngine interface {
	Query(ctx context.Context, query string) ([]datatypes.Row, error)
}

// SeriesSource returns the boolean activity series of a regimen, in any
// order. A nil time range means all history.
type SeriesSource interface {
	RegimenSeries(ctx context.Context, regimen string, tr *datatypes.TimeRange) ([]episodes.Point, error)
}

// RecordSource returns historical records of one or more paths.
type RecordSource interface {
	Records(ctx context.Context, q RecordQuery) ([]datatypes.TimeSeriesRecord, error)
}

// SnapshotClient fetches the current value tree of a context.
//
// scope is "self", "all" or a full Signal K context. With no paths the
// whole tree of the scope is returned, otherwise a map of path to subtree.
type SnapshotClient interface {
	Snapshot(ctx context.Context, scope string, paths []string) (map[string]any, error)
}

// RecordQuery selects historical records.
type RecordQuery struct {
	Context   string
	Paths     []string
	TimeRange *datatypes.TimeRange
	Limit     int
}

// DefaultRecordLimit caps records per path when RecordQuery.Limit is zero.
const DefaultRecordLimit = 10000

func (q RecordQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultRecordLimit
	}
	return q.Limit
}

func (q RecordQuery) context() string {
	if q.Context == "" {
		return datatypes.DefaultContext
	}
	return q.Context
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoPaths is returned by RecordSource implementations when the query
	// names no path.
	ErrNoPaths = errors.New("at least one path is required")

	// ErrSourceUnavailable marks a backend that is not configured.
	ErrSourceUnavailable = errors.New("data source unavailable")
)

// storedTimeLayout is the fixed-width UTC layout used for timestamp columns
// so that lexical order equals time order.
const storedTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatStoredTime renders t in the layout of stored timestamp columns.
func FormatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	if t, err := time.Parse(storedTimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
