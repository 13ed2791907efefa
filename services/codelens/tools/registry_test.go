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
	"testing"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
)

type namedTool struct{ name string }

func (n namedTool) Name() string            { return n.name }
func (n namedTool) Description() string     { return "stub" }
func (n namedTool) Parameters() []ParamSpec { return nil }
func (n namedTool) Execute(context.Context, map[string]any) *datatypes.ToolResponse {
	return datatypes.NewSuccessResponse("ok", nil)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(namedTool{name: "alpha"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tool, ok := r.Get("alpha")
	if !ok || tool.Name() != "alpha" {
		t.Errorf("get returned %v, %v", tool, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("unknown name resolved")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(namedTool{name: "dup"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(namedTool{name: "dup"}); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := r.Register(namedTool{name: ""}); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register(nil); err == nil {
		t.Error("nil tool accepted")
	}
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(namedTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}

	schemas := r.Schemas()
	if len(schemas) != 3 {
		t.Fatalf("schemas = %d, want 3", len(schemas))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, s := range schemas {
		if s.Name != want[i] {
			t.Errorf("schemas[%d] = %s, want %s", i, s.Name, want[i])
		}
	}
}
