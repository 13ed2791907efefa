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

	"github.com/AleutianAI/CodeLens/services/codelens/crossrepo"
	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/graph"
)

func newErrorChainTool(t *testing.T, root string, g *graph.KnowledgeGraph) *ErrorChainTool {
	t.Helper()
	scanner := crossrepo.NewScanner(root, nil)
	t.Cleanup(scanner.Close)
	return NewErrorChainTool(g, crossrepo.NewSearcher(scanner, crossrepo.Config{}, nil))
}

func TestErrorChainThrowAndCatchSites(t *testing.T) {
	root := t.TempDir()
	writeRepoSource(t, root, "orders", "Service.java",
		"throw new OrderNotFoundException(id);\nOrderNotFoundException unused;\n")
	writeRepoSource(t, root, "gateway", "Handler.java",
		"catch (OrderNotFoundException e) {\n")

	resp := newErrorChainTool(t, root, nil).Execute(context.Background(), map[string]any{
		"exception": "OrderNotFoundException",
	})
	if !resp.Success {
		t.Fatalf("execute failed: %v", resp.Errors)
	}

	throws := resp.Data["throw_sites"].([]crossrepo.Match)
	catches := resp.Data["catch_sites"].([]crossrepo.Match)
	if len(throws) != 1 || throws[0].Repository != "orders" {
		t.Errorf("throw sites = %+v", throws)
	}
	if len(catches) != 1 || catches[0].Repository != "gateway" {
		t.Errorf("catch sites = %+v", catches)
	}
	if resp.Data["exception"] != "OrderNotFoundException" {
		t.Errorf("exception = %v", resp.Data["exception"])
	}
}

func TestErrorChainDerivesExceptionFromQuery(t *testing.T) {
	root := t.TempDir()
	writeRepoSource(t, root, "app", "A.java", "throw new PaymentFailedException();\n")

	resp := newErrorChainTool(t, root, nil).Execute(context.Background(), map[string]any{
		"query": "why does OrderService see PaymentFailedException",
	})
	if !resp.Success {
		t.Fatalf("execute failed: %v", resp.Errors)
	}
	// The Exception-suffixed identifier wins over the class name.
	if resp.Data["exception"] != "PaymentFailedException" {
		t.Errorf("derived exception = %v", resp.Data["exception"])
	}
	if len(resp.Data["throw_sites"].([]crossrepo.Match)) != 1 {
		t.Error("throw site not found")
	}
}

func TestErrorChainIncludesHierarchyWhenGraphAvailable(t *testing.T) {
	g := graph.NewKnowledgeGraph()
	base := callPathEntity("BaseException", "com.acme.BaseException", graph.EntityClass)
	child := callPathEntity("OrderNotFoundException", "com.acme.OrderNotFoundException", graph.EntityClass)
	g.AddEntity(base)
	g.AddEntity(child)
	g.AddRelationship(&graph.Relationship{SourceID: child.ID, TargetID: base.ID, Type: graph.RelationExtends})
	g.MarkAvailable()

	resp := newErrorChainTool(t, t.TempDir(), g).Execute(context.Background(), map[string]any{
		"exception": "OrderNotFoundException",
	})
	if !resp.Success {
		t.Fatalf("execute failed: %v", resp.Errors)
	}
	hierarchy := resp.Data["hierarchy"].([]*graph.Relationship)
	if len(hierarchy) != 1 || hierarchy[0].Type != graph.RelationExtends {
		t.Errorf("hierarchy = %+v", hierarchy)
	}
}

func TestErrorChainNoExceptionDerivable(t *testing.T) {
	resp := newErrorChainTool(t, t.TempDir(), nil).Execute(context.Background(), map[string]any{
		"query": "something is broken",
	})
	if resp.Success {
		t.Fatal("request without exception accepted")
	}
	if resp.ErrorCategories[0] != datatypes.CategoryInvalidParameters {
		t.Errorf("category = %s", resp.ErrorCategories[0])
	}
}
