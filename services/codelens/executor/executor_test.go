// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
)

// fakeTool is a scriptable tool for executor tests.
type fakeTool struct {
	name     string
	fn       func(ctx context.Context, params map[string]any) *datatypes.ToolResponse
	invoked  atomic.Int64
	lastArgs atomic.Value
}

func (f *fakeTool) Name() string                  { return f.name }
func (f *fakeTool) Description() string           { return "test tool" }
func (f *fakeTool) Parameters() []tools.ParamSpec { return nil }
func (f *fakeTool) Invocations() int64            { return f.invoked.Load() }
func (f *fakeTool) Execute(ctx context.Context, params map[string]any) *datatypes.ToolResponse {
	f.invoked.Add(1)
	f.lastArgs.Store(params)
	return f.fn(ctx, params)
}

func succeedWith(data map[string]any) func(context.Context, map[string]any) *datatypes.ToolResponse {
	return func(context.Context, map[string]any) *datatypes.ToolResponse {
		return datatypes.NewSuccessResponse("ok", data)
	}
}

func failWith(category string) func(context.Context, map[string]any) *datatypes.ToolResponse {
	return func(context.Context, map[string]any) *datatypes.ToolResponse {
		return datatypes.NewErrorResponse("boom", category)
	}
}

func newTestExecutor(t *testing.T, cfg Config, toolList ...tools.Tool) (*Executor, *Pool) {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range toolList {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	pool := NewPool(PoolConfig{Workers: 2, QueueCapacity: 4}, nil)
	t.Cleanup(pool.Shutdown)
	return New(registry, pool, cfg, nil), pool
}

func planOf(steps ...datatypes.ToolStep) *datatypes.ExecutionPlan {
	return &datatypes.ExecutionPlan{
		Query:         "where is TaskProcessor.execute defined",
		PathType:      datatypes.PathStatic,
		Steps:         steps,
		SharedContext: map[string]any{},
	}
}

func TestExecuteEmptyQuery(t *testing.T) {
	exec, _ := newTestExecutor(t, Config{})
	result := exec.Execute(context.Background(), nil)
	result2 := exec.Execute(context.Background(), &datatypes.ExecutionPlan{Query: "  "})

	if result.Success {
		t.Error("nil plan should fail validation")
	}
	if _, ok := result.Errors["request"]; !ok {
		t.Error("validation failure should be reported under the request key")
	}
	if result2.Success {
		t.Error("blank-query plan should fail validation")
	}
}

func TestExecuteEmptyPlanSucceeds(t *testing.T) {
	exec, _ := newTestExecutor(t, Config{})
	plan := planOf()
	plan.Query = "anything"
	result := exec.Execute(context.Background(), plan)
	if !result.Success {
		t.Fatalf("empty plan must succeed, got errors %v", result.Errors)
	}
	if result.TotalSteps != 0 || result.CompletedSteps != 0 {
		t.Errorf("expected zero steps, got %d/%d", result.CompletedSteps, result.TotalSteps)
	}
}

func TestExecutePriorityOrdering(t *testing.T) {
	var order []string
	mk := func(name string) *fakeTool {
		return &fakeTool{name: name, fn: func(context.Context, map[string]any) *datatypes.ToolResponse {
			order = append(order, name)
			return datatypes.NewSuccessResponse("ok", nil)
		}}
	}
	exec, _ := newTestExecutor(t, Config{}, mk("third"), mk("first"), mk("second"))

	result := exec.Execute(context.Background(), planOf(
		datatypes.ToolStep{ToolName: "third", Priority: 3},
		datatypes.ToolStep{ToolName: "first", Priority: 0, Required: true},
		datatypes.ToolStep{ToolName: "second", Priority: 2},
	))
	if !result.Success {
		t.Fatalf("plan failed: %v", result.Errors)
	}
	want := []string{"first", "second", "third"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestExecuteRequiredFailureStopsPlan(t *testing.T) {
	later := &fakeTool{name: "later", fn: succeedWith(nil)}
	exec, _ := newTestExecutor(t, Config{},
		&fakeTool{name: "broken", fn: failWith(datatypes.CategoryInvalidParameters)},
		later,
	)

	result := exec.Execute(context.Background(), planOf(
		datatypes.ToolStep{ToolName: "broken", Priority: 0, Required: true},
		datatypes.ToolStep{ToolName: "later", Priority: 1},
	))
	if result.Success {
		t.Error("required failure must fail the plan")
	}
	if later.Invocations() != 0 {
		t.Error("steps after a failed required step must not run")
	}
	if _, ok := result.Errors["broken"]; !ok {
		t.Error("failed step missing from error map")
	}
}

func TestExecuteOptionalFailureContinues(t *testing.T) {
	later := &fakeTool{name: "later", fn: succeedWith(nil)}
	exec, _ := newTestExecutor(t, Config{},
		&fakeTool{name: "flaky", fn: failWith(datatypes.CategoryInvalidParameters)},
		later,
	)

	result := exec.Execute(context.Background(), planOf(
		datatypes.ToolStep{ToolName: "flaky", Priority: 0},
		datatypes.ToolStep{ToolName: "later", Priority: 1, Required: true},
	))
	if !result.Success {
		t.Fatalf("optional failure must not fail the plan: %v", result.Errors)
	}
	if later.Invocations() != 1 {
		t.Error("later step should have run")
	}
	if result.CompletedSteps != 1 {
		t.Errorf("completed steps = %d, want 1", result.CompletedSteps)
	}
}

func TestExecuteMissingTool(t *testing.T) {
	later := &fakeTool{name: "later", fn: succeedWith(nil)}
	exec, _ := newTestExecutor(t, Config{}, later)

	t.Run("optional missing tool continues", func(t *testing.T) {
		result := exec.Execute(context.Background(), planOf(
			datatypes.ToolStep{ToolName: "ghost", Priority: 0},
			datatypes.ToolStep{ToolName: "later", Priority: 1},
		))
		if !result.Success {
			t.Fatalf("missing optional tool must not fail the plan: %v", result.Errors)
		}
	})

	t.Run("required missing tool fails immediately", func(t *testing.T) {
		result := exec.Execute(context.Background(), planOf(
			datatypes.ToolStep{ToolName: "ghost", Priority: 0, Required: true},
			datatypes.ToolStep{ToolName: "later", Priority: 1},
		))
		if result.Success {
			t.Error("missing required tool must fail the plan")
		}
	})
}

func TestExecuteTimeoutCategory(t *testing.T) {
	slow := &fakeTool{name: "slow", fn: func(ctx context.Context, _ map[string]any) *datatypes.ToolResponse {
		<-ctx.Done()
		return datatypes.NewSuccessResponse("too late", nil)
	}}
	exec, _ := newTestExecutor(t, Config{StepTimeout: 50 * time.Millisecond, MaxAttempts: 1}, slow)

	result := exec.Execute(context.Background(), planOf(
		datatypes.ToolStep{ToolName: "slow", Priority: 0, Required: true},
	))
	if result.Success {
		t.Fatal("timed-out required step must fail the plan")
	}
	resp := result.Responses["slow"]
	if resp == nil || len(resp.ErrorCategories) == 0 {
		t.Fatal("missing categorized response for timed-out step")
	}
	if resp.ErrorCategories[0] != datatypes.CategoryExecutionTimeout {
		t.Errorf("category = %s, want %s", resp.ErrorCategories[0], datatypes.CategoryExecutionTimeout)
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	flaky := &fakeTool{name: "flaky", fn: func(context.Context, map[string]any) *datatypes.ToolResponse {
		if calls.Add(1) < 3 {
			return datatypes.NewErrorResponse("transient", datatypes.CategoryExecutionError)
		}
		return datatypes.NewSuccessResponse("ok", nil)
	}}
	exec, _ := newTestExecutor(t, Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, flaky)

	result := exec.Execute(context.Background(), planOf(
		datatypes.ToolStep{ToolName: "flaky", Priority: 0, Required: true},
	))
	if !result.Success {
		t.Fatalf("step should succeed on the third attempt: %v", result.Errors)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
}

func TestExecuteDoesNotRetryInvalidParameters(t *testing.T) {
	bad := &fakeTool{name: "bad", fn: failWith(datatypes.CategoryInvalidParameters)}
	exec, _ := newTestExecutor(t, Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, bad)

	exec.Execute(context.Background(), planOf(
		datatypes.ToolStep{ToolName: "bad", Priority: 0},
	))
	if bad.Invocations() != 1 {
		t.Errorf("invalid-parameters failure retried %d times, want 1 attempt", bad.Invocations())
	}
}

func TestExecuteSharedContextFlow(t *testing.T) {
	producer := &fakeTool{name: "producer", fn: succeedWith(map[string]any{"hits": 7})}
	consumer := &fakeTool{name: "consumer", fn: succeedWith(nil)}
	exec, _ := newTestExecutor(t, Config{}, producer, consumer)

	plan := planOf(
		datatypes.ToolStep{ToolName: "producer", Priority: 0, Required: true},
		datatypes.ToolStep{ToolName: "consumer", Priority: 1},
	)
	result := exec.Execute(context.Background(), plan)
	if !result.Success {
		t.Fatalf("plan failed: %v", result.Errors)
	}

	if _, ok := plan.SharedContext["producer_results"]; !ok {
		t.Error("shared context missing producer_results")
	}
	if got := plan.SharedContext["producer_hits"]; got != 7 {
		t.Errorf("producer_hits = %v, want 7", got)
	}
}

func TestExecuteInjectsQueryParameter(t *testing.T) {
	tool := &fakeTool{name: "echo", fn: succeedWith(nil)}
	exec, _ := newTestExecutor(t, Config{}, tool)

	exec.Execute(context.Background(), planOf(
		datatypes.ToolStep{ToolName: "echo", Priority: 0},
	))
	params, _ := tool.lastArgs.Load().(map[string]any)
	if params["query"] != "where is TaskProcessor.execute defined" {
		t.Errorf("tool did not receive the plan query, got %v", params["query"])
	}
}
