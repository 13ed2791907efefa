// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codelens

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the engine's HTTP surface with the router.
//
// Endpoints:
//
//	POST /api/v1/mcp/process - Run the hybrid pipeline for one query
//	GET  /api/v1/mcp/tools - List registered tools with schemas
//	POST /api/l3agent/generate-embeddings - Start a background embedding job
//	GET  /api/l3agent/generate-embeddings/:id - Poll a job
//	GET  /health - Liveness
//	GET  /ready - Readiness (startup loading complete)
//	GET  /metrics - Prometheus metrics
func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	mcp := router.Group("/api/v1/mcp")
	{
		mcp.POST("/process", handlers.HandleProcess)
		mcp.GET("/tools", handlers.HandleListTools)
	}

	l3agent := router.Group("/api/l3agent")
	{
		l3agent.POST("/generate-embeddings", handlers.HandleGenerateEmbeddings)
		l3agent.GET("/generate-embeddings/:id", handlers.HandleEmbeddingJob)
	}

	router.GET("/health", handlers.HandleHealth)
	router.GET("/ready", handlers.HandleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
