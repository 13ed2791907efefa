// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

const testDim = 8

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s := NewStore(Config{DataDir: dir, Dimension: testDim}, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func unitVec(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1
	return v
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newTestStore(t, dir)

	meta := Metadata{
		EntityType: "class",
		FilePath:   "src/main/java/com/acme/OrderService.java",
		Content:    "public class OrderService {}",
		Language:   "java",
	}
	if err := s.StoreEmbedding(ctx, "repo:OrderService", unitVec(0), meta, "acme"); err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := s.FindSimilar(ctx, unitVec(0), 5, 0.5, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.ID != "repo:OrderService" || r.Namespace != "acme" {
		t.Errorf("result = %+v", r)
	}
	if math.Abs(r.Similarity-1.0) > 1e-6 {
		t.Errorf("similarity = %v, want ~1.0", r.Similarity)
	}
	if r.Metadata.FilePath != meta.FilePath {
		t.Errorf("metadata not joined: %+v", r.Metadata)
	}

	// A second store instance on the same directory must rebuild the index
	// from the persisted vector files.
	s2 := newTestStore(t, dir)
	results, err = s2.FindSimilar(ctx, unitVec(0), 5, 0.5, nil)
	if err != nil {
		t.Fatalf("find after reload: %v", err)
	}
	if len(results) != 1 || results[0].ID != "repo:OrderService" {
		t.Fatalf("reloaded results = %v", results)
	}
}

func TestStoreDimensionMismatch(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	err := s.StoreEmbedding(context.Background(), "id", make([]float32, testDim+1), Metadata{}, "ns")
	if err == nil {
		t.Error("mismatched dimension accepted")
	}
}

func TestStoreLoadFailsOnWrongDimension(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	if err := s.StoreEmbedding(context.Background(), "id", unitVec(0), Metadata{}, "ns"); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Reopening with a different configured dimension is a fatal
	// initialization error, not a silent skip.
	s2 := NewStore(Config{DataDir: dir, Dimension: testDim * 2}, nil)
	if err := s2.Load(context.Background()); err == nil {
		t.Error("load succeeded despite dimension mismatch")
	}
}

func TestStorePrunesOrphanedMetadataOnLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newTestStore(t, dir)
	if err := s.StoreEmbedding(ctx, "keep", unitVec(0), Metadata{}, "ns"); err != nil {
		t.Fatalf("store keep: %v", err)
	}
	if err := s.StoreEmbedding(ctx, "orphan", unitVec(1), Metadata{}, "ns"); err != nil {
		t.Fatalf("store orphan: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "ns", "orphan.vec")); err != nil {
		t.Fatalf("remove vector file: %v", err)
	}

	s2 := newTestStore(t, dir)
	if _, ok := s2.GetMetadata("ns", "orphan"); ok {
		t.Error("orphaned metadata survived reload")
	}
	if _, ok := s2.GetMetadata("ns", "keep"); !ok {
		t.Error("backed entry pruned")
	}
}

func TestStoreDeleteEmbedding(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newTestStore(t, dir)
	if err := s.StoreEmbedding(ctx, "gone", unitVec(0), Metadata{}, "ns"); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := s.DeleteEmbedding(ctx, "gone", "ns"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.GetMetadata("ns", "gone"); ok {
		t.Error("metadata survived delete")
	}
	results, _ := s.FindSimilar(ctx, unitVec(0), 5, 0, nil)
	if len(results) != 0 {
		t.Errorf("deleted embedding still searchable: %v", results)
	}
	if _, err := os.Stat(filepath.Join(dir, "ns", "gone.vec")); !os.IsNotExist(err) {
		t.Error("vector file survived delete")
	}

	if err := s.DeleteEmbedding(ctx, "x", "missing-ns"); err == nil {
		t.Error("delete from unknown namespace succeeded")
	}
}

func TestStoreNamespaceScoping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir())
	s.StoreEmbedding(ctx, "a", unitVec(0), Metadata{}, "repo-a")
	s.StoreEmbedding(ctx, "b", unitVec(0), Metadata{}, "repo-b")

	scoped, _ := s.FindSimilar(ctx, unitVec(0), 10, 0, []string{"repo-a"})
	if len(scoped) != 1 || scoped[0].Namespace != "repo-a" {
		t.Errorf("scoped results = %v", scoped)
	}

	all, _ := s.FindSimilar(ctx, unitVec(0), 10, 0, nil)
	if len(all) != 2 {
		t.Errorf("unscoped search returned %d results, want 2", len(all))
	}

	names := s.Namespaces()
	if len(names) != 2 || names[0] != "repo-a" || names[1] != "repo-b" {
		t.Errorf("namespaces = %v", names)
	}
}

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"plain":                "plain",
		"ns:path/to/File.java": "ns_path_to_File.java",
		"a b\tc":               "a_b_c",
	}
	for in, want := range cases {
		if got := sanitizeID(in); got != want {
			t.Errorf("sanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
