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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/llm"
	"github.com/AleutianAI/CodeLens/services/codelens/vector"
)

// defaultMinSimilarity filters low-confidence snippets from results.
const defaultMinSimilarity = 0.5

// VectorSearchTool embeds the query and serves top-k similar snippets
// from the vector store.
type VectorSearchTool struct {
	store    *vector.Store
	embedder llm.EmbeddingClient
	logger   *slog.Logger
}

// NewVectorSearchTool creates the tool.
func NewVectorSearchTool(store *vector.Store, embedder llm.EmbeddingClient, logger *slog.Logger) *VectorSearchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorSearchTool{store: store, embedder: embedder, logger: logger}
}

func (t *VectorSearchTool) Name() string { return NameVectorSearch }

func (t *VectorSearchTool) Description() string {
	return "Semantic search over indexed code snippets using embedding similarity."
}

func (t *VectorSearchTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "query", Type: "string", Required: true, Description: "Natural-language search text."},
		{Name: "limit", Type: "integer", Required: false, Default: 10, Description: "Maximum snippets returned."},
		{Name: "min_similarity", Type: "number", Required: false, Default: defaultMinSimilarity, Description: "Similarity floor in [0,1]."},
		{Name: "namespaces", Type: "array", Required: false, Description: "Namespaces to query; empty means all."},
	}
}

// Execute embeds the query text and runs the similarity search.
//
// When the embedding service is degraded the tool succeeds with an
// empty result list and a structured note, so required-step semantics
// do not take the whole request down with the upstream.
func (t *VectorSearchTool) Execute(ctx context.Context, params map[string]any) *datatypes.ToolResponse {
	query, err := stringParam(params, "query", "")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	if strings.TrimSpace(query) == "" {
		return datatypes.NewErrorResponse("query parameter is required", datatypes.CategoryInvalidParameters)
	}
	limit, err := intParam(params, "limit", 10)
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	minSim, err := floatParam(params, "min_similarity", defaultMinSimilarity)
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	namespaces, err := stringSliceParam(params, "namespaces")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}

	if t.embedder.Degraded() {
		t.logger.Warn("vector search skipped, embedding service degraded",
			slog.String("query", query))
		return datatypes.NewSuccessResponse("embedding service degraded, search skipped", map[string]any{
			"results":  []vector.SimilarityResult{},
			"degraded": true,
		})
	}

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return datatypes.NewErrorResponse(
			fmt.Sprintf("embedding generation failed: %v", err),
			datatypes.CategoryExecutionError)
	}

	results, err := t.store.FindSimilar(ctx, vec, limit, minSim, namespaces)
	if err != nil {
		return datatypes.NewErrorResponse(
			fmt.Sprintf("similarity search failed: %v", err),
			datatypes.CategoryExecutionError)
	}

	return datatypes.NewSuccessResponse(
		fmt.Sprintf("found %d similar snippets", len(results)),
		map[string]any{
			"results": results,
			"count":   len(results),
		})
}
