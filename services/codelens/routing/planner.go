// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
)

// PlannerConfig controls plan construction.
type PlannerConfig struct {
	// EnableDynamicTools gates everything beyond the baseline vector
	// search. When false the plan is always a single step.
	EnableDynamicTools bool

	// UseKnowledgeGraph requests graph enrichment for every plan,
	// regardless of per-path flags.
	UseKnowledgeGraph bool
}

// Planner turns an analysis path plus caller context into an ordered,
// priority-tagged execution plan.
type Planner struct {
	cfg PlannerConfig
}

// NewPlanner creates a planner.
func NewPlanner(cfg PlannerConfig) *Planner {
	return &Planner{cfg: cfg}
}

// Priorities: the baseline search always runs first; cross-repo runs
// before other analyzers because its results are the broadest input.
const (
	priorityVectorSearch = 0
	priorityCrossRepo    = 2
	priorityAnalyzer     = 3
)

// BuildPlan constructs the execution plan for a classified query.
//
// # Description
//
// vector_search is always the first step (priority 0, required, limit
// 10). With dynamic tools enabled and a HYBRID or DYNAMIC path, each of
// the path's tools is appended as an optional step; duplicates and the
// baseline search are skipped. Knowledge-graph enrichment is flagged in
// shared context when requested globally or by the path.
func (p *Planner) BuildPlan(path datatypes.AnalysisPath, userContext map[string]any) *datatypes.ExecutionPlan {
	shared := make(map[string]any, len(userContext)+1)
	for k, v := range userContext {
		shared[k] = v
	}

	plan := &datatypes.ExecutionPlan{
		Query:    path.Query,
		PathType: path.PathType,
		Steps: []datatypes.ToolStep{{
			ToolName: tools.NameVectorSearch,
			Parameters: map[string]any{
				"query": path.Query,
				"limit": 10,
			},
			Priority: priorityVectorSearch,
			Required: true,
		}},
		SharedContext: shared,
	}

	if p.cfg.EnableDynamicTools &&
		(path.PathType == datatypes.PathHybrid || path.PathType == datatypes.PathDynamic) {
		seen := map[string]bool{tools.NameVectorSearch: true}
		for _, name := range path.RequiredTools {
			if seen[name] {
				continue
			}
			seen[name] = true
			priority := priorityAnalyzer
			if name == tools.NameCrossRepoTracer {
				priority = priorityCrossRepo
			}
			plan.Steps = append(plan.Steps, datatypes.ToolStep{
				ToolName:   name,
				Parameters: map[string]any{"query": path.Query},
				Priority:   priority,
				Required:   false,
			})
		}
	}

	if p.cfg.UseKnowledgeGraph || path.Flags[datatypes.FlagUseKnowledgeGraph] {
		shared[datatypes.SharedContextKeyRequiresKG] = true
	}
	return plan
}
