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
	"strings"

	"github.com/AleutianAI/CodeLens/services/codelens/crossrepo"
	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/graph"
)

// ErrorChainTool maps exception-handling chains: where an exception
// type sits in the hierarchy, and where it is thrown and caught.
type ErrorChainTool struct {
	graph    *graph.KnowledgeGraph
	searcher *crossrepo.Searcher
}

// NewErrorChainTool creates the tool.
func NewErrorChainTool(g *graph.KnowledgeGraph, searcher *crossrepo.Searcher) *ErrorChainTool {
	return &ErrorChainTool{graph: g, searcher: searcher}
}

func (t *ErrorChainTool) Name() string { return NameErrorChainMapper }

func (t *ErrorChainTool) Description() string {
	return "Maps an exception type's hierarchy plus its throw and catch sites across repositories."
}

func (t *ErrorChainTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "exception", Type: "string", Required: false, Description: "Exception type name; derived from query when absent."},
		{Name: "query", Type: "string", Required: false},
	}
}

func (t *ErrorChainTool) Execute(ctx context.Context, params map[string]any) *datatypes.ToolResponse {
	exception, err := stringParam(params, "exception", "")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	if exception == "" {
		query, qerr := stringParam(params, "query", "")
		if qerr != nil {
			return datatypes.NewErrorResponse(qerr.Error(), datatypes.CategoryInvalidParameters)
		}
		for _, id := range extractIdentifiers(query) {
			if strings.HasSuffix(id, "Exception") || strings.HasSuffix(id, "Error") {
				exception = id
				break
			}
		}
		// Any identifier beats nothing; many failure tickets name the
		// class, not the exception.
		if exception == "" {
			if ids := extractIdentifiers(query); len(ids) > 0 {
				exception = ids[0]
			}
		}
	}
	if exception == "" {
		return datatypes.NewErrorResponse(
			"no exception type provided and none found in the query",
			datatypes.CategoryInvalidParameters)
	}

	data := map[string]any{"exception": exception}

	if t.graph != nil && t.graph.IsAvailable() {
		var hierarchy []*graph.Relationship
		for _, e := range t.graph.Search(exception, maxCallPathSeeds) {
			hierarchy = append(hierarchy, t.graph.FindRelated(e.ID, 2)...)
		}
		data["hierarchy"] = hierarchy
	}

	// Throw and catch sites come from a literal cross-repo pass.
	if t.searcher != nil {
		result, err := t.searcher.Search(ctx, crossrepo.SearchOptions{
			Pattern:       `(throw\s+new\s+` + exception + `|catch\s*\([^)]*` + exception + `)`,
			Regex:         true,
			CaseSensitive: true,
		})
		if err != nil {
			return datatypes.NewErrorResponse(
				fmt.Sprintf("error chain search failed: %v", err),
				datatypes.CategoryExecutionError)
		}
		throwSites := make([]crossrepo.Match, 0, len(result.Matches))
		catchSites := make([]crossrepo.Match, 0)
		for _, m := range result.Matches {
			if strings.Contains(m.Line, "throw") {
				throwSites = append(throwSites, m)
			} else {
				catchSites = append(catchSites, m)
			}
		}
		data["throw_sites"] = throwSites
		data["catch_sites"] = catchSites
	}

	return datatypes.NewSuccessResponse(
		fmt.Sprintf("mapped error chain for %s", exception), data)
}
