// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sampling

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

// FreshnessWindow is the record age at which freshness reaches zero.
const FreshnessWindow = 24 * time.Hour

// Quality labels.
const (
	QualityGood    = "good"
	QualityFair    = "fair"
	QualityPoor    = "poor"
	QualityNoData  = "no_data"
	completeWeight = 0.6
	freshWeight    = 0.4
)

// FieldStats counts distinct and missing values of one record field.
type FieldStats struct {
	Cardinality int `json:"cardinality"`
	Nulls       int `json:"nulls"`
}

// NumericStats describes the numeric values observed for one path.
type NumericStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
}

// Summary is the statistical description of a record set.
type Summary struct {
	RowCount     int                     `json:"rowCount"`
	Earliest     *time.Time              `json:"earliest,omitempty"`
	Latest       *time.Time              `json:"latest,omitempty"`
	Fields       map[string]FieldStats   `json:"fields"`
	Numeric      map[string]NumericStats `json:"numeric"`
	Completeness float64                 `json:"completeness"`
	Freshness    float64                 `json:"freshness"`
	QualityScore float64                 `json:"qualityScore"`
	QualityLabel string                  `json:"qualityLabel"`
}

// Summarize computes a Summary of records relative to now.
//
// Completeness is the share of records whose value is present. Freshness
// decays linearly from 1 to 0 over FreshnessWindow with the age of the
// newest record. The quality score weights completeness 0.6 and freshness
// 0.4.
func Summarize(records []datatypes.TimeSeriesRecord, now time.Time) Summary {
	s := Summary{
		RowCount: len(records),
		Fields:   map[string]FieldStats{},
		Numeric:  map[string]NumericStats{},
	}
	if len(records) == 0 {
		s.QualityLabel = QualityNoData
		return s
	}

	earliest, latest := records[0].Timestamp, records[0].Timestamp
	distinct := map[string]map[string]struct{}{
		"path": {}, "value": {}, "context": {}, "source": {},
	}
	nulls := map[string]int{}
	numeric := map[string][]float64{}
	present := 0

	for _, r := range records {
		if r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}

		observe(distinct["path"], nulls, "path", stringOrNil(r.Path))
		observe(distinct["context"], nulls, "context", stringOrNil(r.Context))
		observe(distinct["source"], nulls, "source", stringOrNil(r.Source))
		observe(distinct["value"], nulls, "value", r.Value)

		if r.Value != nil {
			present++
		}
		if f, ok := toFloat(r.Value); ok {
			numeric[r.Path] = append(numeric[r.Path], f)
		}
	}

	for field, set := range distinct {
		s.Fields[field] = FieldStats{Cardinality: len(set), Nulls: nulls[field]}
	}
	for path, values := range numeric {
		s.Numeric[path] = describe(values)
	}

	s.Earliest, s.Latest = &earliest, &latest
	s.Completeness = float64(present) / float64(len(records))
	s.Freshness = Freshness(latest, now)
	s.QualityScore = completeWeight*s.Completeness + freshWeight*s.Freshness
	s.QualityLabel = Label(s.QualityScore)
	return s
}

// Freshness returns max(0, 1 - ageHours/24) for the newest timestamp.
// Timestamps in the future count as fresh.
func Freshness(latest, now time.Time) float64 {
	age := now.Sub(latest)
	if age <= 0 {
		return 1
	}
	f := 1 - age.Hours()/FreshnessWindow.Hours()
	return math.Max(0, f)
}

// Label maps a quality score to a coarse label.
func Label(score float64) string {
	switch {
	case score >= 0.8:
		return QualityGood
	case score >= 0.5:
		return QualityFair
	default:
		return QualityPoor
	}
}

func observe(set map[string]struct{}, nulls map[string]int, field string, v any) {
	if v == nil {
		nulls[field]++
		return
	}
	set[fmt.Sprint(v)] = struct{}{}
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, !math.IsNaN(f) && !math.IsInf(f, 0)
}

// describe computes count, mean, median, min, max and population standard
// deviation. values must be non-empty; it is sorted in place.
func describe(values []float64) NumericStats {
	sort.Float64s(values)
	n := len(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	median := values[n/2]
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	}

	return NumericStats{
		Count:  n,
		Mean:   mean,
		Median: median,
		Min:    values[0],
		Max:    values[n-1],
		StdDev: math.Sqrt(sq / float64(n)),
	}
}
