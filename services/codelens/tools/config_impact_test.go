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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/impact"
)

func newImpactTool(t *testing.T, sources map[string]string) *ConfigImpactTool {
	t.Helper()
	root := t.TempDir()
	for rel, content := range sources {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	analyzer := impact.NewAnalyzer(impact.Config{
		SourceRoots: []string{root},
		DisableAST:  true,
	}, nil)
	return NewConfigImpactTool(analyzer)
}

const retryConsumerSrc = `package com.acme;

public class RetryPolicy {
    @Value("${retry.max-attempts:3}")
    private int maxAttempts;
}
`

func TestConfigImpactExplicitProperties(t *testing.T) {
	tool := newImpactTool(t, map[string]string{"RetryPolicy.java": retryConsumerSrc})

	resp := tool.Execute(context.Background(), map[string]any{
		"properties": []any{"retry.max-attempts"},
	})
	if !resp.Success {
		t.Fatalf("execute failed: %v", resp.Errors)
	}

	impacts := resp.Data["impacts"].([]impact.PropertyImpact)
	if len(impacts) != 1 {
		t.Fatalf("impacts = %d, want 1", len(impacts))
	}
	if impacts[0].Property != "retry.max-attempts" || len(impacts[0].References) != 1 {
		t.Errorf("impact = %+v", impacts[0])
	}
	if resp.Data["files_scanned"].(int) < 1 {
		t.Errorf("files_scanned = %v", resp.Data["files_scanned"])
	}
}

func TestConfigImpactMinesQueryForProperties(t *testing.T) {
	tool := newImpactTool(t, map[string]string{"RetryPolicy.java": retryConsumerSrc})

	resp := tool.Execute(context.Background(), map[string]any{
		"query": "what breaks if retry.max-attempts changes",
	})
	if !resp.Success {
		t.Fatalf("execute failed: %v", resp.Errors)
	}
	impacts := resp.Data["impacts"].([]impact.PropertyImpact)
	if len(impacts) != 1 || impacts[0].Property != "retry.max-attempts" {
		t.Errorf("impacts = %+v", impacts)
	}
}

func TestConfigImpactNoProperties(t *testing.T) {
	tool := newImpactTool(t, nil)

	resp := tool.Execute(context.Background(), map[string]any{
		"query": "is anything wrong",
	})
	if resp.Success {
		t.Fatal("propertyless request accepted")
	}
	if resp.ErrorCategories[0] != datatypes.CategoryInvalidParameters {
		t.Errorf("category = %s", resp.ErrorCategories[0])
	}
}

func TestConfigImpactAnalyzerFailure(t *testing.T) {
	// No source roots configured: the analyzer rejects the request.
	tool := NewConfigImpactTool(impact.NewAnalyzer(impact.Config{DisableAST: true}, nil))

	resp := tool.Execute(context.Background(), map[string]any{
		"properties": []any{"retry.max-attempts"},
	})
	if resp.Success {
		t.Fatal("analyzer failure reported as success")
	}
	if resp.ErrorCategories[0] != datatypes.CategoryExecutionError {
		t.Errorf("category = %s", resp.ErrorCategories[0])
	}
}
