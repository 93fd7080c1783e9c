// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// The validators here guard identifiers that end up inside Flux queries, SQL
// table names or REST URLs. Using them prevents Flux/SQL injection and path
// traversal through agent-supplied tool arguments.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// pathPattern matches Signal K data paths such as
// navigation.speedOverGround or propulsion.port.revolutions.
// Segments are camelCase alphanumerics separated by single dots.
var pathPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z0-9_]+){0,15}$`)

// contextPattern matches Signal K contexts: vessels.self or
// vessels.urn:mrn:imo:mmsi:123456789.
var contextPattern = regexp.MustCompile(`^[a-zA-Z]+\.[A-Za-z0-9:_\-.]{1,200}$`)

// regimenPattern matches regimen names (anchored, motoring, sailing-upwind).
var regimenPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]{0,63}$`)

// MaxPathLength bounds a single Signal K path.
const MaxPathLength = 256

// ValidatePath validates a Signal K path before it is used as a table name,
// Flux field or URL segment.
//
// Example:
//
//	if err := validation.ValidatePath(path); err != nil {
//	    return nil, fmt.Errorf("invalid path: %w", err)
//	}
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("path too long: %d bytes (max %d)", len(path), MaxPathLength)
	}
	if !pathPattern.MatchString(path) {
		return fmt.Errorf("invalid path format: %q (must be dot-separated alphanumeric segments)", path)
	}
	return nil
}

// ValidatePaths validates multiple paths.
// Returns an error listing all invalid paths if any fail validation.
func ValidatePaths(paths []string) error {
	var invalid []string
	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			invalid = append(invalid, p)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid paths: %q", invalid)
	}
	return nil
}

// ValidateContext validates a Signal K context.
func ValidateContext(ctx string) error {
	if ctx == "" {
		return fmt.Errorf("context cannot be empty")
	}
	if strings.Contains(ctx, "..") || !contextPattern.MatchString(ctx) {
		return fmt.Errorf("invalid context format: %q", ctx)
	}
	return nil
}

// SanitizeRegimen trims and validates a regimen name.
//
//	name, err := validation.SanitizeRegimen(input["regimenName"])
func SanitizeRegimen(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("regimen name cannot be empty")
	}
	if !regimenPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid regimen name: %q (letters, digits, '_' or '-', max 64)", trimmed)
	}
	return trimmed, nil
}

// TableName maps a validated path to the SQL table that stores it:
// navigation.speedOverGround becomes navigation_speedOverGround.
func TableName(path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	return strings.ReplaceAll(path, ".", "_"), nil
}
