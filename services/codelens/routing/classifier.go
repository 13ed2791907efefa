// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing maps a natural-language query to an analysis path
// (classifier) and turns a path into an execution plan (planner).
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/llm"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
)

var classifierTracer = otel.Tracer("codelens.routing")

var classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codelens_router_classification_total",
	Help: "Query classifications by category and outcome.",
}, []string{"category", "outcome"})

// Deterministic parameters for the classification call. Low temperature
// and a tiny token budget keep the verdict stable and cheap.
const (
	classifyTemperature = 0.1
	classifyMaxTokens   = 64
)

const classifyPrompt = `You are a query router for a code-intelligence engine.
Classify the support engineer's query into exactly one category:
CODE_SEARCH, CALL_PATH, CONFIG_IMPACT, ERROR_CHAIN, CROSS_REPO, CODE_STRUCTURE, GENERAL.

Respond with ONE line, no explanation, in the form:
CATEGORY|confidence|comma_separated_tools

confidence is a number in [0,1]. Available tools:
vector_search, cross_repo_tracer, config_impact_analyzer, call_path_analyzer, error_chain_mapper.

Query: %s`

// categoryPaths maps each category to its path type. CODE_SEARCH,
// GENERAL, and CODE_STRUCTURE stay static; everything else is hybrid.
var categoryPaths = map[string]datatypes.PathType{
	datatypes.CategoryCodeSearch:    datatypes.PathStatic,
	datatypes.CategoryGeneral:       datatypes.PathStatic,
	datatypes.CategoryCodeStructure: datatypes.PathStatic,
	datatypes.CategoryCallPath:      datatypes.PathHybrid,
	datatypes.CategoryConfigImpact:  datatypes.PathHybrid,
	datatypes.CategoryErrorChain:    datatypes.PathHybrid,
	datatypes.CategoryCrossRepo:     datatypes.PathHybrid,
}

// defaultTools are injected when the model omits the tools field.
var defaultTools = map[string][]string{
	datatypes.CategoryCodeSearch:    {tools.NameVectorSearch},
	datatypes.CategoryGeneral:       {tools.NameVectorSearch},
	datatypes.CategoryCodeStructure: {tools.NameVectorSearch},
	datatypes.CategoryCallPath:      {tools.NameVectorSearch, tools.NameCallPathAnalyzer},
	datatypes.CategoryConfigImpact:  {tools.NameVectorSearch, tools.NameConfigImpactAnalyzer},
	datatypes.CategoryErrorChain:    {tools.NameVectorSearch, tools.NameErrorChainMapper},
	datatypes.CategoryCrossRepo:     {tools.NameVectorSearch, tools.NameCrossRepoTracer},
}

// Classifier delegates semantic judgment to the upstream chat service
// and parses its one-line verdict. It never fails the request: any
// transport or parse error degrades to the static fallback path.
type Classifier struct {
	chat   llm.ChatClient
	logger *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(chat llm.ChatClient, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{chat: chat, logger: logger}
}

// Classify maps a query to an analysis path.
func (c *Classifier) Classify(ctx context.Context, query string) datatypes.AnalysisPath {
	ctx, span := classifierTracer.Start(ctx, "routing.Classify")
	defer span.End()

	raw, err := c.chat.Complete(ctx, llm.ChatRequest{
		Prompt:      fmt.Sprintf(classifyPrompt, query),
		Temperature: classifyTemperature,
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		c.logger.Warn("classification call failed, using static fallback",
			slog.String("error", err.Error()))
		classificationsTotal.WithLabelValues("fallback", "transport_error").Inc()
		span.RecordError(err)
		return fallbackPath(query)
	}

	path, category, err := parseVerdict(raw, query)
	if err != nil {
		c.logger.Warn("unparseable classification verdict, using static fallback",
			slog.String("verdict", raw),
			slog.String("error", err.Error()))
		classificationsTotal.WithLabelValues("fallback", "parse_error").Inc()
		span.RecordError(err)
		return fallbackPath(query)
	}

	classificationsTotal.WithLabelValues(category, "ok").Inc()
	span.SetAttributes(
		attribute.String("category", category),
		attribute.Float64("confidence", path.Confidence),
		attribute.String("path_type", string(path.PathType)),
	)
	return path
}

// parseVerdict parses "CATEGORY|confidence|comma_tools".
func parseVerdict(raw, query string) (datatypes.AnalysisPath, string, error) {
	line := strings.TrimSpace(raw)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return datatypes.AnalysisPath{}, "", fmt.Errorf("expected CATEGORY|confidence|tools, got %q", line)
	}

	category := strings.ToUpper(strings.TrimSpace(parts[0]))
	pathType, ok := categoryPaths[category]
	if !ok {
		return datatypes.AnalysisPath{}, "", fmt.Errorf("unknown category %q", category)
	}

	confidence, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return datatypes.AnalysisPath{}, "", fmt.Errorf("bad confidence %q: %w", parts[1], err)
	}
	confidence = min(max(confidence, 0), 1)

	var requiredTools []string
	if len(parts) >= 3 {
		for _, t := range strings.Split(parts[2], ",") {
			if t = strings.TrimSpace(t); t != "" {
				requiredTools = append(requiredTools, t)
			}
		}
	}
	if len(requiredTools) == 0 {
		requiredTools = append(requiredTools, defaultTools[category]...)
	}

	flags := map[string]bool{}
	if category == datatypes.CategoryCodeStructure {
		flags[datatypes.FlagUseKnowledgeGraph] = true
	}

	return datatypes.AnalysisPath{
		PathType:      pathType,
		Confidence:    confidence,
		RequiredTools: requiredTools,
		Flags:         flags,
		Query:         query,
	}, category, nil
}

// fallbackPath is the verdict when the upstream cannot be trusted.
func fallbackPath(query string) datatypes.AnalysisPath {
	return datatypes.AnalysisPath{
		PathType:      datatypes.PathStatic,
		Confidence:    0.5,
		RequiredTools: []string{tools.NameVectorSearch},
		Query:         query,
	}
}
