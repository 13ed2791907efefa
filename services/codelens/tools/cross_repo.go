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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/CodeLens/services/codelens/crossrepo"
	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
)

// CrossRepoTracerTool traces identifiers across all configured
// repositories.
type CrossRepoTracerTool struct {
	searcher *crossrepo.Searcher
}

// NewCrossRepoTracerTool creates the tool.
func NewCrossRepoTracerTool(searcher *crossrepo.Searcher) *CrossRepoTracerTool {
	return &CrossRepoTracerTool{searcher: searcher}
}

func (t *CrossRepoTracerTool) Name() string { return NameCrossRepoTracer }

func (t *CrossRepoTracerTool) Description() string {
	return "Literal or regex search for an identifier across every repository under the search root."
}

func (t *CrossRepoTracerTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "pattern", Type: "string", Required: false, Description: "Search text; falls back to identifiers extracted from query."},
		{Name: "query", Type: "string", Required: false, Description: "Original query, used when pattern is absent."},
		{Name: "regex", Type: "boolean", Required: false, Default: false},
		{Name: "case_sensitive", Type: "boolean", Required: false, Default: false},
		{Name: "file_extensions", Type: "array", Required: false, Description: "Restrict to these extensions (with dot)."},
		{Name: "repositories", Type: "array", Required: false, Description: "Restrict to these repository names."},
	}
}

func (t *CrossRepoTracerTool) Execute(ctx context.Context, params map[string]any) *datatypes.ToolResponse {
	pattern, err := stringParam(params, "pattern", "")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	if strings.TrimSpace(pattern) == "" {
		// Derive a pattern from the query's most specific identifier.
		query, qerr := stringParam(params, "query", "")
		if qerr != nil {
			return datatypes.NewErrorResponse(qerr.Error(), datatypes.CategoryInvalidParameters)
		}
		if ids := extractIdentifiers(query); len(ids) > 0 {
			pattern = ids[0]
		}
	}
	if strings.TrimSpace(pattern) == "" {
		return datatypes.NewErrorResponse(
			"no search pattern provided and none could be derived from the query",
			datatypes.CategoryInvalidParameters)
	}

	regex, err := boolParam(params, "regex", false)
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	caseSensitive, err := boolParam(params, "case_sensitive", false)
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	extensions, err := stringSliceParam(params, "file_extensions")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	repositories, err := stringSliceParam(params, "repositories")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}

	result, err := t.searcher.Search(ctx, crossrepo.SearchOptions{
		Pattern:        pattern,
		Regex:          regex,
		CaseSensitive:  caseSensitive,
		FileExtensions: extensions,
		Repositories:   repositories,
	})
	if err != nil {
		category := datatypes.CategoryExecutionError
		if errors.Is(err, context.DeadlineExceeded) {
			category = datatypes.CategoryExecutionTimeout
		}
		return datatypes.NewErrorResponse(
			fmt.Sprintf("cross-repository search failed: %v", err), category)
	}

	return datatypes.NewSuccessResponse(
		fmt.Sprintf("found %d references in %d of %d repositories",
			result.TotalMatches, result.RepositoriesWithMatches, result.RepositoriesSearched),
		map[string]any{
			"references":                result.Matches,
			"pattern":                   result.Pattern,
			"repositories_searched":     result.RepositoriesSearched,
			"repositories_with_matches": result.RepositoriesWithMatches,
			"elapsed_ms":                result.ElapsedMillis,
			"truncated":                 result.Truncated,
		})
}
