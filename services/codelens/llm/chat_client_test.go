// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatEnvelope(content string) map[string]any {
	return map[string]any{
		"result": true,
		"data": map[string]any{
			"choices": []map[string]any{
				{
					"message":       map[string]any{"content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"total_tokens": 12},
		},
	}
}

func TestChatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatWireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "classify this", req.Prompt)
		assert.Equal(t, "chat-model", req.Model)
		assert.Equal(t, 0.1, req.Temperature)
		assert.Equal(t, 64, req.MaxTokens)

		_ = json.NewEncoder(w).Encode(chatEnvelope("CODE_SEARCH|0.9|vector_search"))
	}))
	defer srv.Close()

	client := NewHTTPChatClient(srv.URL, "chat-model", "1", nil)
	out, err := client.Complete(context.Background(), ChatRequest{
		Prompt:      "classify this",
		Temperature: 0.1,
		MaxTokens:   64,
	})
	require.NoError(t, err)
	assert.Equal(t, "CODE_SEARCH|0.9|vector_search", out)
}

func TestChatCompleteEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": false,
			"error":  "quota exceeded",
		})
	}))
	defer srv.Close()

	client := NewHTTPChatClient(srv.URL, "chat-model", "1", nil)
	_, err := client.Complete(context.Background(), ChatRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestChatCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": true,
			"data":   map[string]any{"choices": []any{}},
		})
	}))
	defer srv.Close()

	client := NewHTTPChatClient(srv.URL, "chat-model", "1", nil)
	_, err := client.Complete(context.Background(), ChatRequest{Prompt: "q"})
	require.Error(t, err)
}

func TestChatCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPChatClient(srv.URL, "chat-model", "1", nil)
	_, err := client.Complete(context.Background(), ChatRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}
