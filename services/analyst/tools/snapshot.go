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
	"math"
	"reflect"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datastore"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

// DefaultSnapshotDepth bounds the nesting of a snapshot projection.
const DefaultSnapshotDepth = 6

// MaxDepthMarker replaces containers below the depth bound.
const MaxDepthMarker = "[max depth reached]"

// SnapshotTool implements get_live_snapshot.
type SnapshotTool struct {
	client   datastore.SnapshotClient
	maxDepth int
	maxBytes int
}

var _ Handler = (*SnapshotTool)(nil)

// NewSnapshotTool creates the get_live_snapshot handler.
func NewSnapshotTool(client datastore.SnapshotClient, maxDepth, maxBytes int) *SnapshotTool {
	if maxDepth <= 0 {
		maxDepth = DefaultSnapshotDepth
	}
	if maxBytes <= 0 {
		maxBytes = DefaultPreviewBytes
	}
	return &SnapshotTool{client: client, maxDepth: maxDepth, maxBytes: maxBytes}
}

// Name implements Handler.
func (t *SnapshotTool) Name() string { return ToolGetLiveSnapshot }

// Definition implements Handler.
func (t *SnapshotTool) Definition() llm.ToolDefinition { return liveSnapshotDefinition }

// Execute fetches the snapshot and renders its sanitized projection.
func (t *SnapshotTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	paths, err := optionalStrings(input, "paths")
	if err != nil {
		return "", err
	}
	scope, _, err := optionalString(input, "scope")
	if err != nil {
		return "", err
	}
	if t.client == nil {
		return "", fmt.Errorf("%w: no live data connection", datastore.ErrSourceUnavailable)
	}

	snapshot, err := t.client.Snapshot(ctx, scope, paths)
	if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(Sanitize(snapshot, t.maxDepth, 0), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if len(out) > t.maxBytes {
		return string(out[:t.maxBytes]) + "\n... [truncated, request specific paths for more detail]", nil
	}
	return string(out), nil
}

// Sanitize returns a JSON-safe copy of value with containers nested deeper
// than maxDepth replaced by MaxDepthMarker.
//
// # Description
//
// The traversal is explicit and bounded: each map, slice, array or pointer
// step increases currentDepth by one and nothing below maxDepth is visited.
// The depth bound is the only cycle guard, so a self-referencing structure
// yields a finite tree. NaN and infinities become nil and map keys are
// rendered with fmt when they are not strings.
//
// # Inputs
//
//   - value: Any value, typically decoded JSON.
//   - maxDepth: Deepest container level kept.
//   - currentDepth: Depth of value itself; callers pass 0.
//
// # Outputs
//
//   - any: A tree of map[string]any, []any and scalars.
func Sanitize(value any, maxDepth, currentDepth int) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool, int, int32, int64, uint, uint32, uint64, json.Number:
		return v
	case float32:
		return sanitizeFloat(float64(v))
	case float64:
		return sanitizeFloat(v)
	case map[string]any:
		if currentDepth >= maxDepth {
			return MaxDepthMarker
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = Sanitize(child, maxDepth, currentDepth+1)
		}
		return out
	case []any:
		if currentDepth >= maxDepth {
			return MaxDepthMarker
		}
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = Sanitize(child, maxDepth, currentDepth+1)
		}
		return out
	}
	return sanitizeReflect(reflect.ValueOf(value), maxDepth, currentDepth)
}

func sanitizeReflect(rv reflect.Value, maxDepth, currentDepth int) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		if currentDepth >= maxDepth {
			return MaxDepthMarker
		}
		return Sanitize(rv.Elem().Interface(), maxDepth, currentDepth+1)

	case reflect.Map:
		if currentDepth >= maxDepth {
			return MaxDepthMarker
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			out[key] = Sanitize(iter.Value().Interface(), maxDepth, currentDepth+1)
		}
		return out

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if currentDepth >= maxDepth {
			return MaxDepthMarker
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Sanitize(rv.Index(i).Interface(), maxDepth, currentDepth+1)
		}
		return out

	case reflect.Struct:
		if currentDepth >= maxDepth {
			return MaxDepthMarker
		}
		t := rv.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			out[field.Name] = Sanitize(rv.Field(i).Interface(), maxDepth, currentDepth+1)
		}
		return out

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()

	case reflect.Float32, reflect.Float64:
		return sanitizeFloat(rv.Float())

	case reflect.String:
		return rv.String()

	case reflect.Bool:
		return rv.Bool()

	default:
		return fmt.Sprintf("[unsupported %s]", rv.Kind())
	}
}

func sanitizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
