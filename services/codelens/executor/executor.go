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
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
)

var executorTracer = otel.Tracer("codelens.executor")

// Config tunes retry and timeout behavior.
type Config struct {
	// MaxAttempts per step, including the first. Zero means 3.
	MaxAttempts int

	// RetryDelay is the base backoff. Zero means 500ms.
	RetryDelay time.Duration

	// BackoffMultiplier scales the delay per attempt. Zero means 2.
	BackoffMultiplier float64

	// MaxBackoff caps the delay. Zero means 10s.
	MaxBackoff time.Duration

	// Jitter applies ±20% randomization to each delay.
	Jitter bool

	// StepTimeout is the per-step wall-clock deadline. Zero means 30s.
	StepTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	return c
}

// nonRetryable categories terminate the retry loop immediately.
var nonRetryable = map[string]bool{
	datatypes.CategoryInvalidParameters:    true,
	datatypes.CategoryResourceExhaustion:   true,
	datatypes.CategoryExecutionInterrupted: true,
	datatypes.CategoryExecutionTimeout:     true,
}

// Executor runs execution plans step by step on the shared pool.
type Executor struct {
	registry *tools.Registry
	pool     *Pool
	cfg      Config
	logger   *slog.Logger
}

// New creates an executor.
func New(registry *tools.Registry, pool *Pool, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, pool: pool, cfg: cfg.withDefaults(), logger: logger}
}

// Execute runs a plan and aggregates per-step outcomes.
//
// # Description
//
// Steps run sequentially in ascending priority order; each completes
// (success, error, or timeout) before the next begins, and shared
// context written by step k is visible to step k+1. A failed required
// step stops the plan and fails the result; optional failures are
// recorded and bypassed. An empty plan succeeds with no results.
func (e *Executor) Execute(ctx context.Context, plan *datatypes.ExecutionPlan) *datatypes.ExecutionResult {
	ctx, span := executorTracer.Start(ctx, "executor.Execute")
	defer span.End()

	result := &datatypes.ExecutionResult{
		Success:   true,
		Responses: make(map[string]*datatypes.ToolResponse),
		Errors:    make(map[string]string),
	}
	defer func() { result.Pool = e.pool.Metrics() }()

	if plan == nil || strings.TrimSpace(plan.Query) == "" {
		result.Success = false
		result.Errors["request"] = "query must not be empty"
		span.SetStatus(codes.Error, "empty query")
		return result
	}
	if len(plan.Steps) == 0 {
		return result
	}
	if plan.SharedContext == nil {
		plan.SharedContext = make(map[string]any)
	}

	steps := make([]datatypes.ToolStep, len(plan.Steps))
	copy(steps, plan.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority < steps[j].Priority })

	result.TotalSteps = len(steps)
	span.SetAttributes(
		attribute.Int("steps", len(steps)),
		attribute.String("path_type", string(plan.PathType)),
	)

	for _, step := range steps {
		tool, ok := e.registry.Get(step.ToolName)
		if !ok {
			msg := fmt.Sprintf("tool %q is not registered", step.ToolName)
			result.Errors[step.ToolName] = msg
			result.Responses[step.ToolName] = datatypes.NewErrorResponse(msg, datatypes.CategoryInvalidParameters)
			if step.Required {
				result.Success = false
				span.SetStatus(codes.Error, "required tool missing")
				break
			}
			continue
		}

		resp := e.runStep(ctx, tool, step, plan)
		result.Responses[step.ToolName] = resp
		if resp.Success {
			result.CompletedSteps++
			e.updateSharedContext(plan, step.ToolName, resp)
			continue
		}

		if len(resp.Errors) > 0 {
			result.Errors[step.ToolName] = resp.Errors[len(resp.Errors)-1]
		} else {
			result.Errors[step.ToolName] = resp.Message
		}
		if step.Required {
			result.Success = false
			span.SetStatus(codes.Error, "required step failed")
			e.logger.Warn("required step failed, aborting plan",
				slog.String("tool", step.ToolName),
				slog.String("error", result.Errors[step.ToolName]))
			break
		}
		e.logger.Info("optional step failed, continuing",
			slog.String("tool", step.ToolName),
			slog.String("error", result.Errors[step.ToolName]))
	}
	return result
}

// runStep invokes one tool with retry, timeout, and pool scheduling.
func (e *Executor) runStep(ctx context.Context, tool tools.Tool, step datatypes.ToolStep, plan *datatypes.ExecutionPlan) *datatypes.ToolResponse {
	ctx, span := executorTracer.Start(ctx, "executor.runStep",
		oteltrace.WithAttributes(
			attribute.String("tool", tool.Name()),
			attribute.Bool("required", step.Required),
			attribute.Int("priority", step.Priority),
		))
	defer span.End()

	params := make(map[string]any, len(step.Parameters)+1)
	for k, v := range step.Parameters {
		params[k] = v
	}
	if _, ok := params["query"]; !ok {
		params["query"] = plan.Query
	}

	var last *datatypes.ToolResponse
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleepBackoff(ctx, attempt); err != nil {
				last.AddError("retry interrupted: "+err.Error(), datatypes.CategoryExecutionInterrupted)
				return last
			}
		}

		last = e.invokeOnce(ctx, tool, params)
		if last.Success {
			if attempt > 0 {
				span.SetAttributes(attribute.Int("attempts", attempt+1))
			}
			return last
		}
		if !retryable(last) {
			break
		}
	}
	span.SetStatus(codes.Error, "step failed")
	return last
}

// invokeOnce schedules one invocation on the pool with the per-step
// deadline. Cancellation is cooperative: the deadline fires the step's
// context and the submitter stops waiting, even if the tool goroutine
// lags behind.
func (e *Executor) invokeOnce(ctx context.Context, tool tools.Tool, params map[string]any) *datatypes.ToolResponse {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	done := make(chan *datatypes.ToolResponse, 1)
	err := e.pool.Submit(func() {
		done <- tool.Execute(stepCtx, params)
	})
	if err != nil {
		return datatypes.NewErrorResponse(
			"tool pool rejected the task: "+err.Error(),
			datatypes.CategorySystemOverloaded)
	}

	select {
	case resp := <-done:
		if resp == nil {
			return datatypes.NewErrorResponse("tool returned no response", datatypes.CategoryExecutionError)
		}
		return resp
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return datatypes.NewErrorResponse(
				"execution interrupted: "+ctx.Err().Error(),
				datatypes.CategoryExecutionInterrupted)
		}
		return datatypes.NewErrorResponse(
			fmt.Sprintf("tool %s exceeded the %s step deadline", tool.Name(), e.cfg.StepTimeout),
			datatypes.CategoryExecutionTimeout)
	}
}

// retryable: a failure is retryable iff none of its categories is in
// the non-retryable set.
func retryable(resp *datatypes.ToolResponse) bool {
	for _, category := range resp.ErrorCategories {
		if nonRetryable[category] {
			return false
		}
	}
	return true
}

// sleepBackoff waits the exponential delay for the given attempt.
func (e *Executor) sleepBackoff(ctx context.Context, attempt int) error {
	delay := float64(e.cfg.RetryDelay)
	for i := 1; i < attempt; i++ {
		delay *= e.cfg.BackoffMultiplier
	}
	if capped := float64(e.cfg.MaxBackoff); delay > capped {
		delay = capped
	}
	if e.cfg.Jitter {
		delay *= 0.8 + 0.4*rand.Float64()
	}
	select {
	case <-time.After(time.Duration(delay)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// updateSharedContext publishes a successful step's payload for
// downstream steps: the whole map under <tool>_results plus each field
// re-keyed as <tool>_<field>.
func (e *Executor) updateSharedContext(plan *datatypes.ExecutionPlan, toolName string, resp *datatypes.ToolResponse) {
	plan.SharedContext[toolName+"_results"] = resp.Data
	for field, value := range resp.Data {
		plan.SharedContext[toolName+"_"+field] = value
	}
}
