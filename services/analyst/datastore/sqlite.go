// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/signalk-analyst/pkg/validation"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/episodes"

	_ "modernc.org/sqlite"
)

// maxSafeInteger is the largest integer a JSON consumer can hold exactly.
const maxSafeInteger = 1 << 53

// DefaultMaxRows caps the rows read from a single query.
const DefaultMaxRows = 10000

// OpenSQLite opens the analytical database read-only. Every pooled
// connection runs with query_only, so a statement that slipped past the
// guard still cannot write.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=query_only(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// =============================================================================
// Query Engine
// =============================================================================

// SQLEngine executes agent queries against a SQLite database.
type SQLEngine struct {
	db      *sql.DB
	maxRows int
	logger  *slog.Logger
}

var _ QueryEngine = (*SQLEngine)(nil)

// NewSQLEngine wraps db. maxRows <= 0 selects DefaultMaxRows.
func NewSQLEngine(db *sql.DB, maxRows int, logger *slog.Logger) *SQLEngine {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLEngine{db: db, maxRows: maxRows, logger: logger}
}

// Query executes query and returns at most maxRows rows with values
// normalized by NormalizeValue.
func (e *SQLEngine) Query(ctx context.Context, query string) ([]datatypes.Row, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := make([]datatypes.Row, 0)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(result) >= e.maxRows {
			e.logger.Warn("Query result truncated", "max_rows", e.maxRows)
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(datatypes.Row, len(columns))
		for i, col := range columns {
			row[col] = NormalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Tables lists the tables and views of the database.
func (e *SQLEngine) Tables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// NormalizeValue converts driver values into JSON friendly ones.
//
// Integers within ±2^53 stay integers; larger magnitudes become float64.
// Byte slices become strings and times become RFC 3339 strings in UTC.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case int64:
		if val > maxSafeInteger || val < -maxSafeInteger {
			return float64(val)
		}
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	default:
		return v
	}
}

// =============================================================================
// Series and Records
// =============================================================================

// SQLSeriesSource reads regimen series and path records from the SQLite
// database.
//
// # Schema
//
//	regimens(regimen TEXT, timestamp TEXT, active INTEGER)
//	<path table>(timestamp TEXT, value, value_json TEXT, context TEXT, source TEXT)
//
// Timestamps use the fixed layout of FormatStoredTime.
type SQLSeriesSource struct {
	db *sql.DB
}

var (
	_ SeriesSource = (*SQLSeriesSource)(nil)
	_ RecordSource = (*SQLSeriesSource)(nil)
)

// NewSQLSeriesSource wraps db.
func NewSQLSeriesSource(db *sql.DB) *SQLSeriesSource {
	return &SQLSeriesSource{db: db}
}

// RegimenSeries implements SeriesSource.
func (s *SQLSeriesSource) RegimenSeries(ctx context.Context, regimen string, tr *datatypes.TimeRange) ([]episodes.Point, error) {
	query := `SELECT timestamp, active FROM regimens WHERE regimen = ?`
	args := []any{regimen}
	query, args = appendTimeFilter(query, args, tr)
	query += ` ORDER BY timestamp`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query regimen %q: %w", regimen, err)
	}
	defer rows.Close()

	series := make([]episodes.Point, 0)
	for rows.Next() {
		var ts string
		var active int64
		if err := rows.Scan(&ts, &active); err != nil {
			return nil, fmt.Errorf("scan regimen row: %w", err)
		}
		t, err := parseStoredTime(ts)
		if err != nil {
			return nil, fmt.Errorf("regimen %q: bad timestamp %q: %w", regimen, ts, err)
		}
		series = append(series, episodes.Point{Timestamp: t, Value: active != 0})
	}
	return series, rows.Err()
}

// Records implements RecordSource. Each path contributes its newest
// q.Limit records.
func (s *SQLSeriesSource) Records(ctx context.Context, q RecordQuery) ([]datatypes.TimeSeriesRecord, error) {
	if len(q.Paths) == 0 {
		return nil, ErrNoPaths
	}
	var out []datatypes.TimeSeriesRecord
	for _, path := range q.Paths {
		recs, err := s.pathRecords(ctx, path, q)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *SQLSeriesSource) pathRecords(ctx context.Context, path string, q RecordQuery) ([]datatypes.TimeSeriesRecord, error) {
	table, err := validation.TableName(path)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT timestamp, value, value_json, context, source FROM "%s" WHERE context = ?`, table)
	args := []any{q.context()}
	query, args = appendTimeFilter(query, args, q.TimeRange)
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query path %s: %w", path, err)
	}
	defer rows.Close()

	var out []datatypes.TimeSeriesRecord
	for rows.Next() {
		var (
			ts                string
			value             any
			valueJSON         sql.NullString
			vesselCtx, source sql.NullString
		)
		if err := rows.Scan(&ts, &value, &valueJSON, &vesselCtx, &source); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", path, err)
		}
		t, err := parseStoredTime(ts)
		if err != nil {
			return nil, fmt.Errorf("path %s: bad timestamp %q: %w", path, ts, err)
		}
		rec := datatypes.TimeSeriesRecord{
			Timestamp: t,
			Path:      path,
			Value:     NormalizeValue(value),
			Context:   vesselCtx.String,
			Source:    source.String,
		}
		if valueJSON.Valid && valueJSON.String != "" {
			var decoded any
			if err := json.Unmarshal([]byte(valueJSON.String), &decoded); err == nil {
				rec.Value = decoded
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func appendTimeFilter(query string, args []any, tr *datatypes.TimeRange) (string, []any) {
	if tr == nil {
		return query, args
	}
	query += ` AND timestamp >= ? AND timestamp <= ?`
	return query, append(args, FormatStoredTime(tr.Start), FormatStoredTime(tr.End))
}
