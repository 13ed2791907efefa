// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
	"github.com/AleutianAI/CodeLens/services/codelens/llm"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
)

// scriptedChat returns a fixed verdict (or error) for every completion.
type scriptedChat struct {
	reply string
	err   error
}

func (s *scriptedChat) Complete(_ context.Context, _ llm.ChatRequest) (string, error) {
	return s.reply, s.err
}

func TestClassifyParsesVerdict(t *testing.T) {
	c := NewClassifier(&scriptedChat{reply: "CROSS_REPO|0.85|vector_search,cross_repo_tracer"}, nil)

	path := c.Classify(context.Background(), "trace OrderNotFoundException across repos")
	if path.PathType != datatypes.PathHybrid {
		t.Errorf("path type = %s, want HYBRID", path.PathType)
	}
	if path.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", path.Confidence)
	}
	if len(path.RequiredTools) != 2 || path.RequiredTools[1] != tools.NameCrossRepoTracer {
		t.Errorf("tools = %v", path.RequiredTools)
	}
	if path.Query != "trace OrderNotFoundException across repos" {
		t.Errorf("query not carried through: %q", path.Query)
	}
}

func TestClassifyInjectsDefaultTools(t *testing.T) {
	c := NewClassifier(&scriptedChat{reply: "CONFIG_IMPACT|0.9|"}, nil)

	path := c.Classify(context.Background(), "what breaks if I change retry.max-attempts")
	want := []string{tools.NameVectorSearch, tools.NameConfigImpactAnalyzer}
	if len(path.RequiredTools) != len(want) {
		t.Fatalf("tools = %v, want %v", path.RequiredTools, want)
	}
	for i := range want {
		if path.RequiredTools[i] != want[i] {
			t.Fatalf("tools = %v, want %v", path.RequiredTools, want)
		}
	}
}

func TestClassifyCodeStructureFlagsKnowledgeGraph(t *testing.T) {
	c := NewClassifier(&scriptedChat{reply: "CODE_STRUCTURE|0.7|vector_search"}, nil)

	path := c.Classify(context.Background(), "what classes extend BaseProcessor")
	if path.PathType != datatypes.PathStatic {
		t.Errorf("path type = %s, want STATIC", path.PathType)
	}
	if !path.Flags[datatypes.FlagUseKnowledgeGraph] {
		t.Error("CODE_STRUCTURE verdict should set the knowledge-graph flag")
	}
}

func TestClassifyClampsConfidence(t *testing.T) {
	c := NewClassifier(&scriptedChat{reply: "CODE_SEARCH|1.7|vector_search"}, nil)
	if got := c.Classify(context.Background(), "q").Confidence; got != 1 {
		t.Errorf("confidence = %v, want clamped to 1", got)
	}

	c = NewClassifier(&scriptedChat{reply: "CODE_SEARCH|-0.3|vector_search"}, nil)
	if got := c.Classify(context.Background(), "q").Confidence; got != 0 {
		t.Errorf("confidence = %v, want clamped to 0", got)
	}
}

func TestClassifyIgnoresTrailingExplanation(t *testing.T) {
	c := NewClassifier(&scriptedChat{reply: "CALL_PATH|0.6|vector_search,call_path_analyzer\nBecause the query mentions a call chain."}, nil)

	path := c.Classify(context.Background(), "who calls TaskProcessor.execute")
	if path.PathType != datatypes.PathHybrid {
		t.Errorf("path type = %s, want HYBRID", path.PathType)
	}
	if path.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", path.Confidence)
	}
}

func TestClassifyFallbackOnFailure(t *testing.T) {
	cases := []struct {
		name string
		chat llm.ChatClient
	}{
		{"transport error", &scriptedChat{err: errors.New("connection refused")}},
		{"unparseable verdict", &scriptedChat{reply: "I think this is a code search question."}},
		{"unknown category", &scriptedChat{reply: "NONSENSE|0.9|vector_search"}},
		{"bad confidence", &scriptedChat{reply: "CODE_SEARCH|high|vector_search"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := NewClassifier(tc.chat, nil).Classify(context.Background(), "some query")
			if path.PathType != datatypes.PathStatic {
				t.Errorf("path type = %s, want STATIC fallback", path.PathType)
			}
			if path.Confidence != 0.5 {
				t.Errorf("confidence = %v, want 0.5", path.Confidence)
			}
			if len(path.RequiredTools) != 1 || path.RequiredTools[0] != tools.NameVectorSearch {
				t.Errorf("tools = %v, want only vector_search", path.RequiredTools)
			}
		})
	}
}
