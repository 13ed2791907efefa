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
	"github.com/AleutianAI/CodeLens/services/codelens/vector"
)

type fakeEmbedder struct {
	vec      []float32
	err      error
	degraded bool
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }
func (f *fakeEmbedder) Degraded() bool                                   { return f.degraded }

// newSeededStore loads a 4-dimensional store holding two orthogonal
// vectors, "alpha" and "beta".
func newSeededStore(t *testing.T) *vector.Store {
	t.Helper()
	ctx := context.Background()
	store := vector.NewStore(vector.Config{DataDir: t.TempDir(), Dimension: 4}, nil)
	if err := store.Load(ctx); err != nil {
		t.Fatalf("load store: %v", err)
	}
	seed := map[string][]float32{
		"alpha": {1, 0, 0, 0},
		"beta":  {0, 1, 0, 0},
	}
	for id, vec := range seed {
		meta := vector.Metadata{ID: id, FilePath: "src/" + id + ".java"}
		if err := store.StoreEmbedding(ctx, id, vec, meta, "repo"); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return store
}

func TestVectorSearchHappyPath(t *testing.T) {
	store := newSeededStore(t)
	tool := NewVectorSearchTool(store, &fakeEmbedder{vec: []float32{1, 0, 0, 0}}, nil)

	resp := tool.Execute(context.Background(), map[string]any{"query": "where is alpha"})
	if !resp.Success {
		t.Fatalf("execute failed: %v", resp.Errors)
	}

	results, ok := resp.Data["results"].([]vector.SimilarityResult)
	if !ok {
		t.Fatalf("results payload has type %T", resp.Data["results"])
	}
	// The default similarity floor drops the orthogonal vector.
	if len(results) != 1 || results[0].ID != "alpha" {
		t.Fatalf("results = %+v, want only alpha", results)
	}
	if results[0].Similarity < 0.999 {
		t.Errorf("similarity = %v, want ~1.0", results[0].Similarity)
	}
	if resp.Data["count"] != 1 {
		t.Errorf("count = %v, want 1", resp.Data["count"])
	}
}

func TestVectorSearchDegradedEmbedderSucceedsEmpty(t *testing.T) {
	store := newSeededStore(t)
	tool := NewVectorSearchTool(store, &fakeEmbedder{degraded: true}, nil)

	resp := tool.Execute(context.Background(), map[string]any{"query": "anything"})
	if !resp.Success {
		t.Fatalf("degraded embedder should not fail the tool: %v", resp.Errors)
	}
	if resp.Data["degraded"] != true {
		t.Error("degraded flag not set")
	}
	results, ok := resp.Data["results"].([]vector.SimilarityResult)
	if !ok || len(results) != 0 {
		t.Errorf("results = %v, want empty slice", resp.Data["results"])
	}
}

func TestVectorSearchInvalidParameters(t *testing.T) {
	tool := NewVectorSearchTool(newSeededStore(t), &fakeEmbedder{vec: []float32{1, 0, 0, 0}}, nil)

	cases := []struct {
		name   string
		params map[string]any
	}{
		{"missing query", map[string]any{}},
		{"blank query", map[string]any{"query": "   "}},
		{"bad limit", map[string]any{"query": "q", "limit": "many"}},
		{"bad namespaces", map[string]any{"query": "q", "namespaces": []any{1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := tool.Execute(context.Background(), tc.params)
			if resp.Success {
				t.Fatal("invalid parameters accepted")
			}
			if resp.ErrorCategories[0] != datatypes.CategoryInvalidParameters {
				t.Errorf("category = %s", resp.ErrorCategories[0])
			}
		})
	}
}

func TestVectorSearchEmbeddingFailure(t *testing.T) {
	tool := NewVectorSearchTool(newSeededStore(t), &fakeEmbedder{err: context.DeadlineExceeded}, nil)

	resp := tool.Execute(context.Background(), map[string]any{"query": "q"})
	if resp.Success {
		t.Fatal("embed failure reported as success")
	}
	if resp.ErrorCategories[0] != datatypes.CategoryExecutionError {
		t.Errorf("category = %s", resp.ErrorCategories[0])
	}
}
