// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the tool capability contract, the name→tool
// registry, and the built-in retrieval tools the execution planner
// schedules.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
)

// Canonical tool names the planner and classifier agree on.
const (
	NameVectorSearch         = "vector_search"
	NameCrossRepoTracer      = "cross_repo_tracer"
	NameConfigImpactAnalyzer = "config_impact_analyzer"
	NameCallPathAnalyzer     = "call_path_analyzer"
	NameErrorChainMapper     = "error_chain_mapper"
)

// ParamSpec declares one parameter of a tool's schema.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Tool is a named, parameterized unit of work producing a structured
// response. Implementations must be safe for concurrent Execute calls.
type Tool interface {
	Name() string
	Description() string
	Parameters() []ParamSpec
	Execute(ctx context.Context, params map[string]any) *datatypes.ToolResponse
}

// Registry binds tool names to implementations.
//
// # Thread Safety
//
// Safe for concurrent use. Registration normally happens once at
// startup; lookups happen on every request.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register binds a tool by name. Duplicate names are an error; tools
// are identities, not layers.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a non-empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool bound to name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ToolSchema is the wire form of one registered tool on GET /tools.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
}

// Schemas lists every registered tool sorted by name.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
