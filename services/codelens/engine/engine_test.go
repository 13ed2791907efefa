// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/executor"
	"github.com/AleutianAI/CodeLens/services/codelens/graph"
	"github.com/AleutianAI/CodeLens/services/codelens/llm"
	"github.com/AleutianAI/CodeLens/services/codelens/routing"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
)

// scriptedTool returns a fixed response and remembers its last params.
type scriptedTool struct {
	name     string
	resp     *datatypes.ToolResponse
	lastArgs map[string]any
}

func (s *scriptedTool) Name() string                  { return s.name }
func (s *scriptedTool) Description() string           { return "test tool" }
func (s *scriptedTool) Parameters() []tools.ParamSpec { return nil }
func (s *scriptedTool) Execute(_ context.Context, params map[string]any) *datatypes.ToolResponse {
	s.lastArgs = params
	return s.resp
}

// cannedChat always answers with the same classifier verdict.
type cannedChat struct{ reply string }

func (c cannedChat) Complete(context.Context, llm.ChatRequest) (string, error) {
	return c.reply, nil
}

type engineFixture struct {
	engine   *Engine
	registry *tools.Registry
	graph    *graph.KnowledgeGraph
}

func newFixture(t *testing.T, cfg Config, verdict string, toolList ...tools.Tool) *engineFixture {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range toolList {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}

	pool := executor.NewPool(executor.PoolConfig{Workers: 2, QueueCapacity: 4}, nil)
	t.Cleanup(pool.Shutdown)
	exec := executor.New(registry, pool, executor.Config{RetryDelay: time.Millisecond}, nil)

	classifier := routing.NewClassifier(cannedChat{reply: verdict}, nil)
	planner := routing.NewPlanner(routing.PlannerConfig{EnableDynamicTools: true})
	kg := graph.NewKnowledgeGraph()

	return &engineFixture{
		engine:   New(classifier, planner, exec, kg, registry, cfg, nil),
		registry: registry,
		graph:    kg,
	}
}

func TestProcessEmptyQuery(t *testing.T) {
	f := newFixture(t, Config{}, "CODE_SEARCH|0.9|vector_search")

	result := f.engine.Process(context.Background(), &datatypes.MCPRequest{Query: "   "})
	if result.Success {
		t.Error("blank query reported success")
	}
	if result.ErrorMessage == "" {
		t.Error("blank query carries no error message")
	}
}

func TestProcessClassifiesAndRunsPlan(t *testing.T) {
	search := &scriptedTool{
		name: tools.NameVectorSearch,
		resp: datatypes.NewSuccessResponse("ok", map[string]any{"count": 3}),
	}
	f := newFixture(t, Config{}, "CODE_SEARCH|0.9|vector_search", search)

	result := f.engine.Process(context.Background(), &datatypes.MCPRequest{
		Query: "where is the retry policy implemented",
	})
	if !result.Success {
		t.Fatalf("process failed: %v", result.ToolErrors)
	}
	if len(result.RequestedTools) != 1 || result.RequestedTools[0] != tools.NameVectorSearch {
		t.Errorf("requested tools = %v", result.RequestedTools)
	}
	if result.ToolResponses[tools.NameVectorSearch]["count"] != 3 {
		t.Errorf("tool payload not harvested: %v", result.ToolResponses)
	}
	if search.lastArgs["query"] != "where is the retry policy implemented" {
		t.Errorf("query not injected into tool params: %v", search.lastArgs)
	}
	if result.CompletedSteps != 1 || result.TotalSteps != 1 {
		t.Errorf("steps = %d/%d", result.CompletedSteps, result.TotalSteps)
	}
}

func TestProcessSuppliedPlanSkipsClassifier(t *testing.T) {
	tool := &scriptedTool{
		name: "custom_tool",
		resp: datatypes.NewSuccessResponse("ok", map[string]any{"done": true}),
	}
	// The canned verdict names a tool that is not registered; a supplied
	// plan must bypass classification entirely.
	f := newFixture(t, Config{}, "HYBRID_ANALYSIS|0.9|cross_repo_tracer", tool)

	result := f.engine.Process(context.Background(), &datatypes.MCPRequest{
		Query: "run my plan",
		ExecutionPlan: &datatypes.ExecutionPlan{
			PathType: datatypes.PathStatic,
			Steps:    []datatypes.ToolStep{{ToolName: "custom_tool", Required: true}},
		},
		Context: map[string]any{"session_id": "abc"},
	})
	if !result.Success {
		t.Fatalf("process failed: %v", result.ToolErrors)
	}
	if result.ToolResponses["custom_tool"]["done"] != true {
		t.Errorf("tool payload = %v", result.ToolResponses)
	}
	// Caller context is merged into the supplied plan.
	if tool.lastArgs["query"] != "run my plan" {
		t.Errorf("plan query not defaulted from request: %v", tool.lastArgs)
	}
}

func TestProcessKnowledgeGraphEnrichment(t *testing.T) {
	tool := &scriptedTool{
		name: tools.NameVectorSearch,
		resp: datatypes.NewSuccessResponse("ok", nil),
	}
	f := newFixture(t, Config{}, "CODE_STRUCTURE|0.9|vector_search", tool)

	file := "src/OrderService.java"
	service := &graph.Entity{
		ID:                 graph.EntityID("com.acme.OrderService", graph.EntityClass, file),
		Name:               "OrderService",
		FullyQualifiedName: "com.acme.OrderService",
		Type:               graph.EntityClass,
		FilePath:           file,
	}
	repo := &graph.Entity{
		ID:                 graph.EntityID("com.acme.OrderRepo", graph.EntityClass, file),
		Name:               "OrderRepo",
		FullyQualifiedName: "com.acme.OrderRepo",
		Type:               graph.EntityClass,
		FilePath:           file,
	}
	f.graph.AddEntity(service)
	f.graph.AddEntity(repo)
	f.graph.AddRelationship(&graph.Relationship{
		SourceID: service.ID, TargetID: repo.ID, Type: graph.RelationCalls,
	})
	f.graph.MarkAvailable()

	// Enrichment matches the query against entity names, so the query
	// here is the bare entity name.
	result := f.engine.Process(context.Background(), &datatypes.MCPRequest{
		Query: "OrderService",
	})
	if !result.Success {
		t.Fatalf("process failed: %v", result.ToolErrors)
	}
	if len(result.KnowledgeGraphEntities) == 0 {
		t.Fatal("no entities attached to the result")
	}
	if len(result.KnowledgeGraphRelationships) != 1 {
		t.Errorf("relationships = %d, want 1", len(result.KnowledgeGraphRelationships))
	}
	if result.KnowledgeGraphEntities[0].Name != "OrderService" {
		t.Errorf("top entity = %s, want OrderService", result.KnowledgeGraphEntities[0].Name)
	}
}

func TestProcessEnrichmentSkippedWhenGraphUnavailable(t *testing.T) {
	tool := &scriptedTool{
		name: tools.NameVectorSearch,
		resp: datatypes.NewSuccessResponse("ok", nil),
	}
	f := newFixture(t, Config{}, "CODE_STRUCTURE|0.9|vector_search", tool)

	result := f.engine.Process(context.Background(), &datatypes.MCPRequest{
		Query: "how is OrderService structured",
	})
	if !result.Success {
		t.Fatalf("process failed: %v", result.ToolErrors)
	}
	if len(result.KnowledgeGraphEntities) != 0 {
		t.Error("entities attached despite unavailable graph")
	}
}

func TestProcessFailureSurfacesToolError(t *testing.T) {
	broken := &scriptedTool{
		name: tools.NameVectorSearch,
		resp: datatypes.NewErrorResponse("index corrupt", datatypes.CategoryExecutionError),
	}
	f := newFixture(t, Config{}, "CODE_SEARCH|0.9|vector_search", broken)

	result := f.engine.Process(context.Background(), &datatypes.MCPRequest{Query: "anything"})
	if result.Success {
		t.Fatal("failed plan reported success")
	}
	if result.FallbackUsed {
		t.Error("fallback used without being enabled")
	}
	if result.ErrorMessage == "" {
		t.Error("no error message on failed result")
	}
	if _, ok := result.ToolErrors[tools.NameVectorSearch]; !ok {
		t.Errorf("tool errors = %v", result.ToolErrors)
	}
}

func TestProcessFallbackToStatic(t *testing.T) {
	// The first call fails with a non-retryable category, so the plan
	// invokes the tool exactly once; the second call is the fallback.
	flaky := &flakyVectorSearch{}
	f := newFixture(t, Config{FallbackToStatic: true}, "CODE_SEARCH|0.9|vector_search", flaky)

	result := f.engine.Process(context.Background(), &datatypes.MCPRequest{Query: "anything"})
	if !result.Success {
		t.Fatal("fallback did not rescue the failed plan")
	}
	if !result.FallbackUsed {
		t.Error("fallback_used flag not set")
	}
	if result.ErrorMessage != "" {
		t.Errorf("error message survived fallback: %q", result.ErrorMessage)
	}
	if result.ToolResponses[tools.NameVectorSearch]["rescued"] != true {
		t.Errorf("fallback payload = %v", result.ToolResponses)
	}
	if flaky.calls != 2 {
		t.Errorf("tool called %d times, want 2 (plan + fallback)", flaky.calls)
	}
}

type flakyVectorSearch struct{ calls int }

func (f *flakyVectorSearch) Name() string                  { return tools.NameVectorSearch }
func (f *flakyVectorSearch) Description() string           { return "test tool" }
func (f *flakyVectorSearch) Parameters() []tools.ParamSpec { return nil }
func (f *flakyVectorSearch) Execute(context.Context, map[string]any) *datatypes.ToolResponse {
	f.calls++
	if f.calls == 1 {
		return datatypes.NewErrorResponse("index warming", datatypes.CategoryInvalidParameters)
	}
	return datatypes.NewSuccessResponse("ok", map[string]any{"rescued": true})
}
