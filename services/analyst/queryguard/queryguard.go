// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queryguard validates and repairs agent-generated SQL before it
// reaches the query engine.
//
// The guard enforces a read-only contract: the statement must open with
// SELECT or WITH and must not mention any mutating keyword anywhere in its
// text. The keyword check is a plain substring match, so a query that merely
// contains "updated_at" is rejected too. That strictness is accepted.
//
// Before the safety check, queries against structured-value tables (position,
// attitude and similar paths) have bare references to the scalar "value"
// column rewritten to "value_json".
package queryguard

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

// ErrSecurityViolation is matched by every *ValidationError.
var ErrSecurityViolation = errors.New("query violates read-only contract")

// ValidationError describes why a query was rejected.
type ValidationError struct {
	// Keyword is the offending keyword, upper-cased.
	Keyword string

	// Reason is a human readable explanation.
	Reason string

	// Query is the query as it was checked (after correction).
	Query string
}

func (e *ValidationError) Error() string {
	if e.Keyword == "" {
		return fmt.Sprintf("security violation: %s", e.Reason)
	}
	return fmt.Sprintf("security violation: %s (keyword %s)", e.Reason, e.Keyword)
}

func (e *ValidationError) Unwrap() error {
	return ErrSecurityViolation
}

// DeniedKeywords are rejected anywhere in a query, case-insensitively.
var DeniedKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT", "CREATE", "ALTER", "TRUNCATE"}

// ReadOnlyPrefixes are the statement keywords a query may open with.
var ReadOnlyPrefixes = []string{"SELECT", "WITH"}

const (
	// ScalarColumn holds plain numeric/string values.
	ScalarColumn = "value"

	// StructuredColumn holds JSON-encoded object values.
	StructuredColumn = "value_json"

	// DefaultStructuredPattern matches source paths whose values are objects.
	DefaultStructuredPattern = `position|attitude|coordinate|location|waypoint|destination`
)

var (
	// sourcePattern captures the table reference after FROM or JOIN. Handles
	// bare identifiers, quoted paths and read_parquet('glob') style calls.
	sourcePattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(?:[a-z_]+\s*\(\s*)?["'\x60]?([^\s"'\x60(),;]+)`)

	// scalarRef matches a standalone value identifier. The lookbehind skips
	// qualified names (t.value) and the lookahead skips value_json and any
	// longer identifier.
	scalarRef = regexp2.MustCompile(`(?<![\w.])value(?![\w])`, regexp2.IgnoreCase)

	leadingWord = regexp.MustCompile(`^[A-Za-z_]+`)
)

// Guard validates and corrects queries.
//
// Thread Safety: Guard is immutable after construction and safe for
// concurrent use.
type Guard struct {
	structured *regexp.Regexp
	logger     *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithStructuredPattern overrides the regular expression used to recognise
// structured-value source paths. An invalid expression is ignored.
func WithStructuredPattern(expr string) Option {
	return func(g *Guard) {
		re, err := regexp.Compile(`(?i)(?:` + expr + `)`)
		if err != nil {
			g.logger.Warn("Ignoring invalid structured path pattern", "pattern", expr, "error", err)
			return
		}
		g.structured = re
	}
}

// WithLogger sets the guard's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		structured: regexp.MustCompile(`(?i)(?:` + DefaultStructuredPattern + `)`),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateAndCorrect applies the structured-value correction and then the
// read-only check.
//
// # Description
//
// Correction runs first so the safety check sees the query that will
// actually execute. Correction is best effort: if the rewrite engine fails
// the original text is kept.
//
// # Inputs
//
//   - raw: Query text produced by the agent.
//
// # Outputs
//
//   - string: The corrected query, trimmed.
//   - error: *ValidationError (matches ErrSecurityViolation) on rejection.
func (g *Guard) ValidateAndCorrect(raw string) (string, error) {
	corrected := g.Correct(raw)
	if err := Validate(corrected); err != nil {
		return "", err
	}
	return corrected, nil
}

// Correct rewrites bare value references when any source path in the query
// is a structured-value path. The rewrite is idempotent.
func (g *Guard) Correct(raw string) string {
	query := strings.TrimSpace(raw)
	if !g.referencesStructured(query) {
		return query
	}
	out, err := scalarRef.Replace(query, StructuredColumn, -1, -1)
	if err != nil {
		g.logger.Warn("Query correction failed, using original text", "error", err)
		return query
	}
	if out != query {
		g.logger.Debug("Rewrote scalar column for structured source", "before", query, "after", out)
	}
	return out
}

// SourcePaths returns the table references found after FROM and JOIN.
func SourcePaths(query string) []string {
	matches := sourcePattern.FindAllStringSubmatch(query, -1)
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m[1])
	}
	return paths
}

func (g *Guard) referencesStructured(query string) bool {
	for _, path := range SourcePaths(query) {
		if g.structured.MatchString(path) {
			return true
		}
	}
	return false
}

// Validate enforces the read-only contract on an already corrected query.
//
// The denylist is checked before the prefix so that "DROP TABLE x" reports
// DROP rather than a generic prefix failure.
func Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &ValidationError{Reason: "empty query", Query: query}
	}
	upper := strings.ToUpper(trimmed)

	for _, kw := range DeniedKeywords {
		if strings.Contains(upper, kw) {
			return &ValidationError{
				Keyword: kw,
				Reason:  "mutating keyword is not allowed",
				Query:   trimmed,
			}
		}
	}

	first := leadingWord.FindString(upper)
	for _, prefix := range ReadOnlyPrefixes {
		if first == prefix {
			return nil
		}
	}
	return &ValidationError{
		Keyword: first,
		Reason:  "only SELECT or WITH statements are allowed",
		Query:   trimmed,
	}
}
