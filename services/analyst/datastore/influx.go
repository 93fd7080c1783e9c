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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/signalk-analyst/pkg/validation"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/episodes"
)

// RegimenMeasurement is the measurement holding regimen activity points.
const RegimenMeasurement = "regimens"

// FluxQuerier is the part of api.QueryAPI used by InfluxSource.
type FluxQuerier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

var _ FluxQuerier = (api.QueryAPI)(nil)

// InfluxConfig holds the connection settings of an InfluxDB 2.x server.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSource reads regimen series and path records from InfluxDB.
//
// # Data Layout
//
//   - Regimens: measurement "regimens", tag "regimen", boolean field "active".
//   - Paths: one measurement per Signal K path, tags "context" and "source",
//     field "value" (scalar) or "value_json" (JSON-encoded object).
type InfluxSource struct {
	query  FluxQuerier
	bucket string
	logger *slog.Logger
}

var (
	_ SeriesSource = (*InfluxSource)(nil)
	_ RecordSource = (*InfluxSource)(nil)
)

// NewInfluxSource wraps an existing querier.
func NewInfluxSource(query FluxQuerier, bucket string, logger *slog.Logger) *InfluxSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxSource{query: query, bucket: bucket, logger: logger}
}

// DialInflux creates an InfluxDB client and an InfluxSource over it. The
// returned close function releases the client.
func DialInflux(cfg InfluxConfig, logger *slog.Logger) (*InfluxSource, func(), error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, nil, fmt.Errorf("%w: InfluxDB url, token, org and bucket are required", ErrSourceUnavailable)
	}
	if strings.ContainsAny(cfg.Bucket, `"\`) {
		return nil, nil, fmt.Errorf("invalid bucket name %q", cfg.Bucket)
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return NewInfluxSource(client.QueryAPI(cfg.Org), cfg.Bucket, logger), client.Close, nil
}

// RegimenSeries implements SeriesSource.
func (s *InfluxSource) RegimenSeries(ctx context.Context, regimen string, tr *datatypes.TimeRange) ([]episodes.Point, error) {
	name, err := validation.SanitizeRegimen(regimen)
	if err != nil {
		return nil, err
	}

	result, err := s.query.Query(ctx, regimenFlux(s.bucket, name, tr))
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer result.Close()

	series := make([]episodes.Point, 0)
	for result.Next() {
		record := result.Record()
		active, ok := record.Value().(bool)
		if !ok {
			s.logger.Debug("Skipping non-boolean regimen value", "regimen", name, "value", record.Value())
			continue
		}
		series = append(series, episodes.Point{Timestamp: record.Time(), Value: active})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return series, nil
}

// Records implements RecordSource.
func (s *InfluxSource) Records(ctx context.Context, q RecordQuery) ([]datatypes.TimeSeriesRecord, error) {
	if len(q.Paths) == 0 {
		return nil, ErrNoPaths
	}
	if err := validation.ValidatePaths(q.Paths); err != nil {
		return nil, err
	}
	if err := validation.ValidateContext(q.context()); err != nil {
		return nil, err
	}

	result, err := s.query.Query(ctx, recordsFlux(s.bucket, q))
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer result.Close()

	var out []datatypes.TimeSeriesRecord
	for result.Next() {
		record := result.Record()
		rec := datatypes.TimeSeriesRecord{
			Timestamp: record.Time(),
			Path:      record.Measurement(),
			Value:     NormalizeValue(record.Value()),
			Context:   stringValue(record.ValueByKey("context")),
			Source:    stringValue(record.ValueByKey("source")),
		}
		if record.Field() == "value_json" {
			if raw, ok := rec.Value.(string); ok {
				var decoded any
				if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
					rec.Value = decoded
				}
			}
		}
		out = append(out, rec)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return out, nil
}

// regimenFlux builds the Flux query of a regimen series. name must already
// be sanitized.
func regimenFlux(bucket, name string, tr *datatypes.TimeRange) string {
	start, stop := fluxRange(tr)
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.regimen == "%s")
		  |> filter(fn: (r) => r._field == "active")
		  |> sort(columns: ["_time"], desc: false)
	`, bucket, start, stop, RegimenMeasurement, name)
}

// recordsFlux builds the Flux query of a record request. Paths and context
// must already be validated.
func recordsFlux(bucket string, q RecordQuery) string {
	start, stop := fluxRange(q.TimeRange)
	preds := make([]string, len(q.Paths))
	for i, p := range q.Paths {
		preds[i] = fmt.Sprintf(`r._measurement == "%s"`, p)
	}
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => %s)
		  |> filter(fn: (r) => r.context == "%s")
		  |> filter(fn: (r) => r._field == "value" or r._field == "value_json")
		  |> sort(columns: ["_time"], desc: true)
		  |> limit(n: %d)
	`, bucket, start, stop, strings.Join(preds, " or "), q.context(), q.limit())
}

func fluxRange(tr *datatypes.TimeRange) (string, string) {
	if tr == nil {
		return "0", "now()"
	}
	return tr.Start.UTC().Format(time.RFC3339), tr.End.UTC().Add(time.Second).Format(time.RFC3339)
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
