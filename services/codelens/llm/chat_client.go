// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm contains the HTTP clients for the upstream language-model
// provider: chat completion (used by the query classifier) and embedding
// generation (used by the vector store), plus the embedding failure
// registry that implements store-level circuit breaking.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var chatTracer = otel.Tracer("codelens.llm.chat")

// Upstream connection defaults. In-flight requests to the provider must
// not outlive these regardless of caller context.
const (
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// ChatRequest is one chat-completion call.
type ChatRequest struct {
	// Prompt is the single-turn prompt text. Mutually exclusive with Messages.
	Prompt string

	// Messages is an optional multi-turn transcript.
	Messages []ChatMessage

	Temperature float64
	MaxTokens   int
}

// ChatMessage is one turn of a transcript.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient is the contract the classifier depends on.
type ChatClient interface {
	// Complete returns the assistant's text for the given request.
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// chatWireRequest is the provider's chat-completion request body.
type chatWireRequest struct {
	Prompt       string        `json:"prompt,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`
	Model        string        `json:"model"`
	ModelVersion string        `json:"modelVersion"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"maxTokens"`
}

// chatWireResponse is the provider's response envelope.
//
// The provider wraps everything in {result, data, error}: result=false
// means the call failed and error carries the reason.
type chatWireResponse struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
	Data   struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int     `json:"prompt_tokens"`
			CompletionTokens int     `json:"completion_tokens"`
			TotalTokens      int     `json:"total_tokens"`
			Cost             float64 `json:"cost"`
		} `json:"usage"`
		Model   string `json:"model"`
		Version string `json:"version"`
	} `json:"data"`
}

// HTTPChatClient calls the provider's chat-completion endpoint.
//
// Thread Safety: safe for concurrent use.
type HTTPChatClient struct {
	url          string
	model        string
	modelVersion string
	client       *http.Client
	logger       *slog.Logger
}

// NewHTTPChatClient creates a chat client for the given endpoint.
//
// Inputs:
//   - url: Chat-completion endpoint URL. Must not be empty.
//   - model, modelVersion: Passed through on every request.
//   - logger: Uses slog.Default() if nil.
func NewHTTPChatClient(url, model, modelVersion string, logger *slog.Logger) *HTTPChatClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPChatClient{
		url:          url,
		model:        model,
		modelVersion: modelVersion,
		client:       newUpstreamHTTPClient(),
		logger:       logger,
	}
}

// newUpstreamHTTPClient builds an http.Client with the connect/read
// timeouts required for all upstream provider calls.
func newUpstreamHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultReadTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: defaultConnectTimeout,
			}).DialContext,
			ResponseHeaderTimeout: defaultReadTimeout,
			MaxIdleConnsPerHost:   8,
		},
	}
}

// Complete implements ChatClient.
//
// Outputs:
//   - string: The first choice's message content.
//   - error: Non-nil on transport failure, non-200 status, result=false
//     envelope, or an empty choice list.
func (c *HTTPChatClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	ctx, span := chatTracer.Start(ctx, "llm.HTTPChatClient.Complete",
		oteltrace.WithAttributes(
			attribute.String("model", c.model),
			attribute.Float64("temperature", req.Temperature),
			attribute.Int("max_tokens", req.MaxTokens),
		))
	defer span.End()

	body, err := json.Marshal(chatWireRequest{
		Prompt:       req.Prompt,
		Messages:     req.Messages,
		Model:        c.model,
		ModelVersion: c.modelVersion,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chat HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat service returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var envelope chatWireResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if !envelope.Result {
		if envelope.Error == "" {
			envelope.Error = "upstream reported failure without detail"
		}
		return "", fmt.Errorf("chat service error: %s", envelope.Error)
	}
	if len(envelope.Data.Choices) == 0 {
		return "", fmt.Errorf("chat service returned no choices")
	}

	span.SetAttributes(
		attribute.Int("usage.total_tokens", envelope.Data.Usage.TotalTokens),
		attribute.String("finish_reason", envelope.Data.Choices[0].FinishReason),
	)
	return envelope.Data.Choices[0].Message.Content, nil
}

// truncate shortens s to at most n bytes for log/error payloads.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
