// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation package.
var (
	// ErrConversationNotFound indicates the id is unknown or has expired.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyAnalysis indicates the agent produced no text at all.
	ErrEmptyAnalysis = errors.New("no analysis produced")

	// ErrInvalidRequest indicates the request failed validation.
	ErrInvalidRequest = errors.New("invalid analysis request")

	// ErrNoRecordSource indicates sampled analysis is not configured.
	ErrNoRecordSource = errors.New("sampled analysis requires a record source")

	// ErrNoRecords indicates sampled analysis found nothing to describe.
	ErrNoRecords = errors.New("no records in range")
)

// AnalysisError is the terminal error of Run, Resume and RunSampled.
type AnalysisError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *AnalysisError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (conversation %s): %v", e.Op, e.ConversationID, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// wrapAnalysis returns err unchanged when it already is an *AnalysisError.
func wrapAnalysis(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return err
	}
	return &AnalysisError{Op: op, ConversationID: id, Err: err}
}
