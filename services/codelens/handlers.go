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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/history"
)

// ErrorResponse is the structured error body for every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers holds the HTTP handlers for the engine's surface.
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates the handlers.
func NewHandlers(service *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// processMetadata is attached to every /process response.
type processMetadata struct {
	RequestID      string                `json:"request_id"`
	Status         string                `json:"status"`
	CompletedSteps int                   `json:"completed_steps"`
	TotalSteps     int                   `json:"total_steps"`
	Pool           datatypes.PoolMetrics `json:"pool"`
}

// HandleProcess handles POST /api/v1/mcp/process.
//
// Description:
//
//	Runs the full hybrid pipeline for one query: classify, plan,
//	enrich, execute, harvest. The response carries the per-tool
//	results, the overall status, and pool observability metadata.
//
// Response:
//
//	200 OK: the QueryResult plus metadata
//	400 Bad Request: missing or empty query
func (h *Handlers) HandleProcess(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID))

	var req datatypes.MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query is required: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result := h.service.engine.Process(c.Request.Context(), &req)

	sessionID, _ := req.Context["session_id"].(string)
	if err := h.service.history.Record(c.Request.Context(), history.Interaction{
		SessionID:    sessionID,
		Query:        req.Query,
		Success:      result.Success,
		FallbackUsed: result.FallbackUsed,
		Tools:        result.RequestedTools,
	}); err != nil {
		logger.Warn("failed to record interaction", slog.String("error", err.Error()))
	}

	status := "completed"
	if !result.Success {
		status = "failed"
	}
	logger.Info("processed query",
		slog.Bool("success", result.Success),
		slog.Bool("fallback_used", result.FallbackUsed),
		slog.Int("completed_steps", result.CompletedSteps),
		slog.Int("total_steps", result.TotalSteps))

	c.JSON(http.StatusOK, gin.H{
		"result": result,
		"metadata": processMetadata{
			RequestID:      requestID,
			Status:         status,
			CompletedSteps: result.CompletedSteps,
			TotalSteps:     result.TotalSteps,
			Pool:           result.Pool,
		},
	})
}

// HandleListTools handles GET /api/v1/mcp/tools: every registered tool
// with its parameter schema.
func (h *Handlers) HandleListTools(c *gin.Context) {
	schemas := h.service.registry.Schemas()
	c.JSON(http.StatusOK, gin.H{
		"tools": schemas,
		"count": len(schemas),
	})
}

type generateEmbeddingsRequest struct {
	Path      string `json:"path" binding:"required"`
	Namespace string `json:"namespace"`
}

// HandleGenerateEmbeddings handles POST /api/l3agent/generate-embeddings.
//
// Description:
//
//	Starts a background job that walks the given path, embeds every
//	supported file, and stores the vectors under the namespace
//	(defaulting to the path's base name). Returns 202 with the job id.
func (h *Handlers) HandleGenerateEmbeddings(c *gin.Context) {
	var req generateEmbeddingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "path is required: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	job, err := h.service.StartEmbeddingJob(req.Path, req.Namespace)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PATH",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// HandleEmbeddingJob handles GET /api/l3agent/generate-embeddings/:id.
func (h *Handlers) HandleEmbeddingJob(c *gin.Context) {
	job, ok := h.service.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no such job",
			Code:  "JOB_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// HandleHealth handles GET /health: liveness only.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /ready: 503 until startup loading completes.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.service.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "loading",
		})
		return
	}
	entities, relationships := h.service.graph.Counts()
	c.JSON(http.StatusOK, gin.H{
		"status":              "ready",
		"namespaces":          h.service.store.Namespaces(),
		"graph_available":     h.service.graph.IsAvailable(),
		"graph_entities":      entities,
		"graph_relationships": relationships,
		"embedding_degraded":  h.service.embedder.Degraded(),
	})
}
