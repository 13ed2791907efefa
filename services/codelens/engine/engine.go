// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine composes the classifier, planner, executor, and
// knowledge graph into the hybrid query pipeline.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/executor"
	"github.com/AleutianAI/CodeLens/services/codelens/graph"
	"github.com/AleutianAI/CodeLens/services/codelens/routing"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
)

var engineTracer = otel.Tracer("codelens.engine")

// maxEnrichmentEntities bounds knowledge-graph enrichment per query.
const maxEnrichmentEntities = 5

// Config tunes engine behavior.
type Config struct {
	// FallbackToStatic re-runs a direct vector search when the plan
	// fails, instead of surfacing the failure.
	FallbackToStatic bool
}

// QueryResult is the engine's answer to one query.
type QueryResult struct {
	Query        string `json:"query"`
	Success      bool   `json:"success"`
	FallbackUsed bool   `json:"fallback_used"`
	ErrorMessage string `json:"error_message,omitempty"`

	// ToolResponses maps tool name to its data payload.
	ToolResponses map[string]map[string]any `json:"tool_responses"`

	// ToolErrors maps tool name to the final error for failed steps.
	ToolErrors map[string]string `json:"tool_errors,omitempty"`

	// RequestedTools lists the plan's tools in execution order.
	RequestedTools []string `json:"requested_tools"`

	KnowledgeGraphEntities      []*graph.Entity       `json:"knowledge_graph_entities,omitempty"`
	KnowledgeGraphRelationships []*graph.Relationship `json:"knowledge_graph_relationships,omitempty"`

	CompletedSteps int                   `json:"completed_steps"`
	TotalSteps     int                   `json:"total_steps"`
	Pool           datatypes.PoolMetrics `json:"pool"`
}

// Engine is the hybrid query orchestrator. It owns no long-lived state;
// it only composes.
type Engine struct {
	classifier *routing.Classifier
	planner    *routing.Planner
	executor   *executor.Executor
	graph      *graph.KnowledgeGraph
	registry   *tools.Registry
	cfg        Config
	logger     *slog.Logger
}

// New creates an engine.
func New(classifier *routing.Classifier, planner *routing.Planner, exec *executor.Executor, kg *graph.KnowledgeGraph, registry *tools.Registry, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier: classifier,
		planner:    planner,
		executor:   exec,
		graph:      kg,
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
	}
}

// Process runs the full pipeline for one request.
//
// # Description
//
// Classify, plan (unless the caller supplied a plan), enrich from the
// knowledge graph when requested, execute, harvest. A failed plan falls
// back to a direct vector search when fallback is enabled; the result
// then carries fallback_used=true.
func (e *Engine) Process(ctx context.Context, req *datatypes.MCPRequest) *QueryResult {
	ctx, span := engineTracer.Start(ctx, "engine.Process")
	defer span.End()

	result := &QueryResult{
		Query:         req.Query,
		ToolResponses: make(map[string]map[string]any),
	}
	if strings.TrimSpace(req.Query) == "" {
		result.ErrorMessage = "query must not be empty"
		span.SetStatus(codes.Error, "empty query")
		return result
	}

	plan := req.ExecutionPlan
	if plan == nil {
		path := e.classifier.Classify(ctx, req.Query)
		plan = e.planner.BuildPlan(path, req.Context)
	} else {
		if plan.Query == "" {
			plan.Query = req.Query
		}
		if plan.SharedContext == nil {
			plan.SharedContext = make(map[string]any)
		}
		for k, v := range req.Context {
			plan.SharedContext[k] = v
		}
	}
	for _, step := range plan.Steps {
		result.RequestedTools = append(result.RequestedTools, step.ToolName)
	}
	span.SetAttributes(
		attribute.String("path_type", string(plan.PathType)),
		attribute.Int("steps", len(plan.Steps)),
	)

	if wants, _ := plan.SharedContext[datatypes.SharedContextKeyRequiresKG].(bool); wants {
		e.enrich(plan, result)
	}

	exec := e.executor.Execute(ctx, plan)
	result.Success = exec.Success
	result.ToolErrors = exec.Errors
	result.CompletedSteps = exec.CompletedSteps
	result.TotalSteps = exec.TotalSteps
	result.Pool = exec.Pool
	for name, resp := range exec.Responses {
		if resp != nil && resp.Data != nil {
			result.ToolResponses[name] = resp.Data
		}
	}

	if !exec.Success {
		if e.cfg.FallbackToStatic {
			e.fallback(ctx, result)
		} else if result.ErrorMessage == "" {
			for name, msg := range exec.Errors {
				result.ErrorMessage = name + ": " + msg
				break
			}
		}
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.ErrorMessage)
	}
	return result
}

// enrich stashes up to maxEnrichmentEntities graph matches and their
// 1-hop relationships in shared context, and mirrors them on the
// result.
func (e *Engine) enrich(plan *datatypes.ExecutionPlan, result *QueryResult) {
	if e.graph == nil || !e.graph.IsAvailable() {
		return
	}
	entities := e.graph.Search(plan.Query, maxEnrichmentEntities)
	if len(entities) == 0 {
		return
	}
	var rels []*graph.Relationship
	seen := make(map[*graph.Relationship]struct{})
	for _, entity := range entities {
		for _, r := range e.graph.FindRelated(entity.ID, 1) {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			rels = append(rels, r)
		}
	}

	plan.SharedContext[datatypes.SharedContextKeyKGEntities] = entities
	plan.SharedContext[datatypes.SharedContextKeyKGEnriched] = rels
	result.KnowledgeGraphEntities = entities
	result.KnowledgeGraphRelationships = rels
	e.logger.Debug("knowledge graph enrichment attached",
		slog.Int("entities", len(entities)),
		slog.Int("relationships", len(rels)))
}

// fallback re-runs a direct vector search after a failed plan.
func (e *Engine) fallback(ctx context.Context, result *QueryResult) {
	tool, ok := e.registry.Get(tools.NameVectorSearch)
	if !ok {
		return
	}
	e.logger.Warn("plan failed, falling back to direct vector search",
		slog.String("query", result.Query))
	resp := tool.Execute(ctx, map[string]any{"query": result.Query, "limit": 10})
	if resp == nil || !resp.Success {
		return
	}
	result.Success = true
	result.FallbackUsed = true
	result.ErrorMessage = ""
	result.ToolResponses[tools.NameVectorSearch] = resp.Data
}
