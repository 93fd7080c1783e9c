// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP API of the analyst service.
//
// Every handler is a factory taking its collaborators as interfaces and
// returning a gin.HandlerFunc, so tests can drive them with fakes.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/signalk-analyst/services/analyst/answers"
	"github.com/AleutianAI/signalk-analyst/services/analyst/conversation"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datastore"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/retry"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

// maxBodyBytes bounds request bodies. Questions are limited separately.
const maxBodyBytes = 64 * 1024

// MaxListLimit bounds GET /v1/analysis?limit=.
const MaxListLimit = 100

// Analyzer runs analyses. *conversation.Orchestrator implements it.
type Analyzer interface {
	Run(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error)
	Resume(ctx context.Context, id, question string) (*datatypes.AnalysisResponse, error)
	RunSampled(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResponse, error)
}

// Conversations looks up live conversations. *conversation.SessionStore
// implements it.
type Conversations interface {
	Get(id string) (*conversation.Session, bool)
}

// History serves stored answers. *answers.Store implements it.
type History interface {
	Get(ctx context.Context, id string) (*datatypes.AnalysisResponse, error)
	ListRecent(ctx context.Context, limit int) ([]datatypes.AnalysisSummary, error)
	Delete(ctx context.Context, id string) error
}

// =============================================================================
// Analysis
// =============================================================================

// HandleAnalyze serves POST /v1/analysis.
func HandleAnalyze(a Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalysisRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := a.Run(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleSampledAnalyze serves POST /v1/analysis/sampled.
func HandleSampledAnalyze(a Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalysisRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := a.RunSampled(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleFollowUp serves POST /v1/analysis/:id/followup. The id is the
// conversation id from the metadata of an earlier answer.
func HandleFollowUp(a Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FollowUpRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := a.Resume(c.Request.Context(), c.Param("id"), req.Question)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// =============================================================================
// History
// =============================================================================

// ListAnalyses serves GET /v1/analysis?limit=N, newest first.
func ListAnalyses(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := answers.DefaultListLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > MaxListLimit {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
					Error:   "invalid limit",
					Details: "limit must be an integer between 1 and " + strconv.Itoa(MaxListLimit),
				})
				return
			}
			limit = n
		}
		items, err := h.ListRecent(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"analyses": items, "count": len(items)})
	}
}

// GetAnalysis serves GET /v1/analysis/:id.
func GetAnalysis(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DeleteAnalysis serves DELETE /v1/analysis/:id.
func DeleteAnalysis(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GetConversation serves GET /v1/conversations/:id, the raw turn list of a
// live conversation with its tool pairing check.
func GetConversation(conv Conversations) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := conv.Get(c.Param("id"))
		if !ok {
			writeError(c, conversation.ErrConversationNotFound)
			return
		}
		c.JSON(http.StatusOK, session.Info())
	}
}

// HealthCheck serves GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Helpers
// =============================================================================

func bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
		return false
	}
	return true
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	var exhausted *retry.ExhaustedError
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, conversation.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, answers.ErrNotFound),
		errors.Is(err, conversation.ErrNoRecords):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrNoRecordSource):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.As(err, &exhausted), errors.Is(err, datastore.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, conversation.ErrEmptyAnalysis), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "Request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, datatypes.ErrorResponse{Error: http.StatusText(status), Details: err.Error()})
}
