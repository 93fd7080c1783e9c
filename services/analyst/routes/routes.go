// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/signalk-analyst/services/analyst/handlers"
)

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Analyzer      handlers.Analyzer
	Conversations handlers.Conversations
	History       handlers.History

	// Gatherer backs /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		analysis := v1.Group("/analysis")
		{
			analysis.POST("", handlers.HandleAnalyze(deps.Analyzer))
			analysis.POST("/sampled", handlers.HandleSampledAnalyze(deps.Analyzer))
			analysis.POST("/:id/followup", handlers.HandleFollowUp(deps.Analyzer))
			analysis.GET("", handlers.ListAnalyses(deps.History))
			analysis.GET("/:id", handlers.GetAnalysis(deps.History))
			analysis.DELETE("/:id", handlers.DeleteAnalysis(deps.History))
		}
		v1.GET("/conversations/:id", handlers.GetConversation(deps.Conversations))
	}
}
