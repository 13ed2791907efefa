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
	"github.com/AleutianAI/CodeLens/services/codelens/impact"
)

// ConfigImpactTool resolves the blast radius of configuration
// properties named in the request or extracted from the query text.
type ConfigImpactTool struct {
	analyzer *impact.Analyzer
}

// NewConfigImpactTool creates the tool.
func NewConfigImpactTool(analyzer *impact.Analyzer) *ConfigImpactTool {
	return &ConfigImpactTool{analyzer: analyzer}
}

func (t *ConfigImpactTool) Name() string { return NameConfigImpactAnalyzer }

func (t *ConfigImpactTool) Description() string {
	return "Finds every read, binding, and conditional use of a configuration property and rates the impact of changing it."
}

func (t *ConfigImpactTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "properties", Type: "array", Required: false, Description: "Property names; a trailing * matches a prefix."},
		{Name: "query", Type: "string", Required: false, Description: "Original query, mined for property names when properties is absent."},
	}
}

func (t *ConfigImpactTool) Execute(ctx context.Context, params map[string]any) *datatypes.ToolResponse {
	properties, err := stringSliceParam(params, "properties")
	if err != nil {
		return datatypes.NewErrorResponse(err.Error(), datatypes.CategoryInvalidParameters)
	}
	if len(properties) == 0 {
		query, qerr := stringParam(params, "query", "")
		if qerr != nil {
			return datatypes.NewErrorResponse(qerr.Error(), datatypes.CategoryInvalidParameters)
		}
		properties = extractPropertyNames(query)
	}
	if len(properties) == 0 {
		return datatypes.NewErrorResponse(
			"no property names provided and none found in the query",
			datatypes.CategoryInvalidParameters)
	}

	result, err := t.analyzer.Analyze(ctx, properties)
	if err != nil {
		return datatypes.NewErrorResponse(
			fmt.Sprintf("configuration impact analysis failed: %v", err),
			datatypes.CategoryExecutionError)
	}

	refs := 0
	for _, imp := range result.Impacts {
		refs += len(imp.References)
	}
	return datatypes.NewSuccessResponse(
		fmt.Sprintf("analyzed %d properties, %d references across %d files",
			len(result.Impacts), refs, result.FilesScanned),
		map[string]any{
			"impacts":       result.Impacts,
			"files_scanned": result.FilesScanned,
			"elapsed_ms":    result.ElapsedMillis,
		})
}
