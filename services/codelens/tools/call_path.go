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

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/graph"
)

// maxCallPathSeeds bounds how many matched entities are traversed.
const maxCallPathSeeds = 5

// CallPathTool answers structural questions (who calls what, what
// contains what) from the knowledge graph.
type CallPathTool struct {
	graph *graph.KnowledgeGraph
}

// NewCallPathTool creates the tool.
func NewCallPathTool(g *graph.KnowledgeGraph) *CallPathTool {
	return &CallPathTool{graph: g}
}

func (t *CallPathTool) Name() string { return NameCallPathAnalyzer }

func (t *CallPathTool) Description() string {
	return "Resolves call and containment relationships around entities named in the query."
}

func (t *CallPathTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "entity", Type: "string", Required: false, Description: "Class or method name to anchor on; derived from query when absent."},
		{Name: "query", Type: "string", Required: false},
		{Name: "depth", Type: "integer", Required: false, Default: 3, Description: "Traversal depth in hops."},
	}
}

func (t *CallPathTool) Execute(ctx context.Context, params map[string]any) *datatypes.ToolResponse {
	_ = ctx
	if !t.graph.IsAvailable() {
		return datatypes.NewErrorResponse(
			"knowledge graph is not available", datatypes.CategoryExecutionError)
	}

	entity, err := stringParam(params, "entity", "")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	depth, err := intParam(params, "depth", 3)
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}

	var seeds []*graph.Entity
	if entity != "" {
		seeds = t.graph.Search(entity, maxCallPathSeeds)
	} else {
		query, qerr := stringParam(params, "query", "")
		if qerr != nil {
			return datatypes.NewErrorResponse(qerr.Error(), datatypes.CategoryInvalidParameters)
		}
		for _, id := range extractIdentifiers(query) {
			seeds = append(seeds, t.graph.Search(id, maxCallPathSeeds)...)
			if len(seeds) >= maxCallPathSeeds {
				seeds = seeds[:maxCallPathSeeds]
				break
			}
		}
	}
	if len(seeds) == 0 {
		return datatypes.NewSuccessResponse("no matching entities in the knowledge graph", map[string]any{
			"entities":      []*graph.Entity{},
			"relationships": []*graph.Relationship{},
		})
	}

	seenRel := make(map[*graph.Relationship]struct{})
	var rels []*graph.Relationship
	for _, seed := range seeds {
		for _, r := range t.graph.FindRelated(seed.ID, depth) {
			if _, ok := seenRel[r]; ok {
				continue
			}
			seenRel[r] = struct{}{}
			rels = append(rels, r)
		}
	}

	// Resolve every endpoint so the caller gets names, not just ids.
	entityByID := make(map[string]*graph.Entity)
	for _, seed := range seeds {
		entityByID[seed.ID] = seed
	}
	for _, r := range rels {
		for _, id := range []string{r.SourceID, r.TargetID} {
			if _, ok := entityByID[id]; ok {
				continue
			}
			if e, ok := t.graph.GetEntity(id); ok {
				entityByID[id] = e
			}
		}
	}
	entities := make([]*graph.Entity, 0, len(entityByID))
	for _, e := range entityByID {
		entities = append(entities, e)
	}

	return datatypes.NewSuccessResponse(
		fmt.Sprintf("resolved %d relationships around %d entities", len(rels), len(seeds)),
		map[string]any{
			"entities":      entities,
			"relationships": rels,
			"seed_count":    len(seeds),
			"depth":         depth,
		})
}
