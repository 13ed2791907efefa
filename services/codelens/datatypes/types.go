// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the shared types exchanged between the query
// classifier, execution planner, tool executor, and HTTP handlers.
//
// Everything here is a plain value type with JSON tags; no package in
// services/codelens may be imported from here (datatypes is a leaf).
package datatypes

// =============================================================================
// Analysis Path
// =============================================================================

// PathType describes which execution strategy fits a query.
type PathType string

const (
	// PathStatic uses only the vector index.
	PathStatic PathType = "STATIC"

	// PathHybrid combines vector retrieval with dynamic analyzers.
	PathHybrid PathType = "HYBRID"

	// PathDynamic relies primarily on dynamic analyzers.
	PathDynamic PathType = "DYNAMIC"
)

// Query categories returned by the classifier, one per retrieval style.
const (
	CategoryCodeSearch    = "CODE_SEARCH"
	CategoryCallPath      = "CALL_PATH"
	CategoryConfigImpact  = "CONFIG_IMPACT"
	CategoryErrorChain    = "ERROR_CHAIN"
	CategoryCrossRepo     = "CROSS_REPO"
	CategoryCodeStructure = "CODE_STRUCTURE"
	CategoryGeneral       = "GENERAL"
)

// FlagUseKnowledgeGraph requests knowledge-graph enrichment for a path.
const FlagUseKnowledgeGraph = "use_knowledge_graph"

// AnalysisPath is the classifier's verdict for a query.
type AnalysisPath struct {
	// PathType is the execution strategy.
	PathType PathType `json:"path_type"`

	// Confidence is the classifier's confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// RequiredTools is the ordered tool list. May contain duplicates;
	// the planner dedupes.
	RequiredTools []string `json:"required_tools"`

	// Flags carries boolean hints such as use_knowledge_graph.
	Flags map[string]bool `json:"flags,omitempty"`

	// Query is the original query text.
	Query string `json:"query"`
}

// =============================================================================
// Execution Plan
// =============================================================================

// ToolStep is one step of an execution plan.
type ToolStep struct {
	// ToolName identifies the registered tool to invoke.
	ToolName string `json:"tool_name"`

	// Parameters are passed to the tool verbatim.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Priority orders steps; lower runs earlier.
	Priority int `json:"priority"`

	// Required marks steps whose failure fails the whole request.
	Required bool `json:"required"`
}

// ExecutionPlan is an ordered, priority-tagged sequence of tool steps with
// a shared mutable context map written by each step for downstream steps.
type ExecutionPlan struct {
	Query         string         `json:"query"`
	PathType      PathType       `json:"path_type"`
	Steps         []ToolStep     `json:"steps"`
	SharedContext map[string]any `json:"shared_context,omitempty"`
}

// SharedContextKeyRequiresKG marks a plan that wants graph enrichment.
const SharedContextKeyRequiresKG = "requires_knowledge_graph"

// Shared-context keys written by knowledge-graph enrichment.
const (
	SharedContextKeyKGEntities = "knowledge_graph_entities"
	SharedContextKeyKGEnriched = "knowledge_graph_enriched_entities"
)

// =============================================================================
// Tool Response
// =============================================================================

// Stable error category strings carried on every failed ToolResponse.
const (
	CategoryExecutionTimeout     = "EXECUTION_TIMEOUT"
	CategorySystemOverloaded     = "SYSTEM_OVERLOADED"
	CategoryExecutionInterrupted = "EXECUTION_INTERRUPTED"
	CategoryInvalidParameters    = "INVALID_PARAMETERS"
	CategoryResourceExhaustion   = "RESOURCE_EXHAUSTION"
	CategoryExecutionError       = "EXECUTION_ERROR"
)

// ToolResponse is the structured result of a single tool invocation.
type ToolResponse struct {
	// Success reports whether the tool completed without error.
	Success bool `json:"success"`

	// Message is a human-readable summary.
	Message string `json:"message,omitempty"`

	// Data is the tool's payload, keyed by result field name.
	Data map[string]any `json:"data,omitempty"`

	// Errors lists failure messages, newest last.
	Errors []string `json:"errors,omitempty"`

	// ErrorCategories lists the stable category string for each error.
	ErrorCategories []string `json:"error_categories,omitempty"`
}

// NewSuccessResponse builds a successful ToolResponse.
func NewSuccessResponse(message string, data map[string]any) *ToolResponse {
	return &ToolResponse{Success: true, Message: message, Data: data}
}

// NewErrorResponse builds a failed ToolResponse with one categorized error.
func NewErrorResponse(message, category string) *ToolResponse {
	return &ToolResponse{
		Success:         false,
		Message:         message,
		Errors:          []string{message},
		ErrorCategories: []string{category},
	}
}

// AddError appends a categorized error and clears the success flag.
func (r *ToolResponse) AddError(message, category string) {
	r.Success = false
	r.Errors = append(r.Errors, message)
	r.ErrorCategories = append(r.ErrorCategories, category)
}

// =============================================================================
// Executor Request / Result
// =============================================================================

// MCPRequest is the body of POST /api/v1/mcp/process.
type MCPRequest struct {
	// Query is the natural-language question. Must be non-empty.
	Query string `json:"query" binding:"required"`

	// ExecutionPlan is an optional pre-built plan. When absent the hybrid
	// engine classifies the query and builds one.
	ExecutionPlan *ExecutionPlan `json:"execution_plan,omitempty"`

	// Context seeds the plan's shared context.
	Context map[string]any `json:"context,omitempty"`
}

// PoolMetrics is a point-in-time snapshot of the tool pool.
type PoolMetrics struct {
	ActiveCount    int   `json:"active_count"`
	PoolSize       int   `json:"pool_size"`
	QueueDepth     int   `json:"queue_depth"`
	CompletedCount int64 `json:"completed_count"`
	TotalTasks     int64 `json:"total_tasks"`
}

// ExecutionResult aggregates per-step outcomes for one plan execution.
type ExecutionResult struct {
	// Success is false once any required step has failed.
	Success bool `json:"success"`

	// Responses maps tool name to its response, for every step that ran.
	Responses map[string]*ToolResponse `json:"responses"`

	// Errors maps tool name to the final error message for failed steps.
	Errors map[string]string `json:"errors,omitempty"`

	// CompletedSteps counts steps that produced a successful response.
	CompletedSteps int `json:"completed_steps"`

	// TotalSteps is the number of steps in the plan.
	TotalSteps int `json:"total_steps"`

	// Pool is the tool-pool snapshot taken after execution.
	Pool PoolMetrics `json:"pool"`
}
