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
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

func requiredString(input map[string]any, key string) (string, error) {
	s, ok, err := optionalString(input, key)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: required parameter %q is missing", ErrInvalidInput, key)
	}
	return s, nil
}

func optionalString(input map[string]any, key string) (string, bool, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: parameter %q expected string, got %T", ErrInvalidInput, key, v)
	}
	return s, true, nil
}

// optionalInt accepts JSON numbers and numeric strings.
func optionalInt(input map[string]any, key string, def int) (int, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: parameter %q expected integer, got %v", ErrInvalidInput, key, n)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %q expected integer, got %q", ErrInvalidInput, key, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: parameter %q expected integer, got %T", ErrInvalidInput, key, v)
	}
}

func optionalStrings(input map[string]any, key string) ([]string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] expected string, got %T", ErrInvalidInput, key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{list}, nil
	default:
		return nil, fmt.Errorf("%w: parameter %q expected array of strings, got %T", ErrInvalidInput, key, v)
	}
}

// optionalTimeRange reads {"start": RFC3339, "end": RFC3339}.
func optionalTimeRange(input map[string]any, key string) (*datatypes.TimeRange, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: parameter %q expected object with start and end", ErrInvalidInput, key)
	}
	start, err := timeField(obj, key, "start")
	if err != nil {
		return nil, err
	}
	end, err := timeField(obj, key, "end")
	if err != nil {
		return nil, err
	}
	tr := &datatypes.TimeRange{Start: start, End: end}
	if !tr.Valid() {
		return nil, fmt.Errorf("%w: %s.end must not precede %s.start", ErrInvalidInput, key, key)
	}
	return tr, nil
}

func timeField(obj map[string]any, parent, key string) (time.Time, error) {
	s, ok := obj[key].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s.%s expected RFC 3339 timestamp", ErrInvalidInput, parent, key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s.%s: %v", ErrInvalidInput, parent, key, err)
	}
	return t, nil
}
