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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var embedTracer = otel.Tracer("codelens.llm.embedding")

// Embedding retry policy. Retries cover rate limits and transient HTTP
// failures; a final failure feeds the FailureRegistry.
const (
	embedMaxAttempts = 3
	embedBaseDelay   = 500 * time.Millisecond
	embedMaxDelay    = 5 * time.Second
)

// ErrDegraded is returned by Embed when the continuous-failure circuit
// breaker is open. Callers should skip embedding until it resets.
var ErrDegraded = errors.New("embedding service degraded: continuous failure threshold exceeded")

// EmbeddingClient is the contract the vector store depends on.
type EmbeddingClient interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Degraded reports whether the circuit breaker is open.
	Degraded() bool
}

// embedWireRequest is the provider's embedding request body.
type embedWireRequest struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	ModelVersion string `json:"modelVersion"`
	AccessKey    string `json:"access_key,omitempty"`
}

// HTTPEmbeddingClient calls the provider's embedding endpoint.
//
// # Description
//
// The provider returns the vector at one of two JSON paths and both must
// be accepted:
//
//	{"data": [0.1, 0.2, ...]}
//	{"data": [{"embedding": [0.1, 0.2, ...]}]}
//
// Rate-limit (429) and transient 5xx failures are retried with exponential
// backoff and ±20% jitter up to embedMaxAttempts. On final failure the
// registry records the text hash and increments the continuous-failure
// counter; any success resets it.
//
// The access key is held in a memguard enclave and opened only while the
// request body is being built.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPEmbeddingClient struct {
	url          string
	model        string
	modelVersion string
	accessKey    *memguard.Enclave
	client       *http.Client
	limiter      *rate.Limiter
	registry     *FailureRegistry
	logger       *slog.Logger
}

// NewHTTPEmbeddingClient creates an embedding client.
//
// Inputs:
//   - url: Embedding endpoint URL.
//   - model, modelVersion: Passed through on every request.
//   - accessKey: Provider access key; sealed immediately. Empty disables auth.
//   - registry: Failure registry. Must not be nil.
//   - logger: Uses slog.Default() if nil.
func NewHTTPEmbeddingClient(url, model, modelVersion, accessKey string, registry *FailureRegistry, logger *slog.Logger) *HTTPEmbeddingClient {
	if logger == nil {
		logger = slog.Default()
	}
	var enclave *memguard.Enclave
	if accessKey != "" {
		enclave = memguard.NewEnclave([]byte(accessKey))
	}
	return &HTTPEmbeddingClient{
		url:          url,
		model:        model,
		modelVersion: modelVersion,
		accessKey:    enclave,
		client:       newUpstreamHTTPClient(),
		// 20 req/s with a small burst keeps bulk indexing from hammering
		// the provider while leaving query-time calls unthrottled.
		limiter:  rate.NewLimiter(rate.Limit(20), 40),
		registry: registry,
		logger:   logger,
	}
}

// Degraded implements EmbeddingClient.
func (c *HTTPEmbeddingClient) Degraded() bool {
	return c.registry.Degraded()
}

// Embed implements EmbeddingClient.
//
// Outputs:
//   - []float32: The embedding vector. Never empty on success.
//   - error: ErrDegraded when the breaker is open; otherwise the last
//     attempt's error after retry exhaustion.
func (c *HTTPEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.registry.Degraded() {
		return nil, ErrDegraded
	}

	ctx, span := embedTracer.Start(ctx, "llm.HTTPEmbeddingClient.Embed",
		oteltrace.WithAttributes(
			attribute.String("model", c.model),
			attribute.Int("text_len", len(text)),
		))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < embedMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}

		vec, retryable, err := c.embedOnce(ctx, text)
		if err == nil {
			c.registry.RecordSuccess()
			span.SetAttributes(attribute.Int("dimension", len(vec)))
			return vec, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.logger.Warn("embedding attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	c.registry.RecordFailure(text, lastErr)
	return nil, lastErr
}

// embedOnce performs a single HTTP attempt. The second return reports
// whether the failure is worth retrying.
func (c *HTTPEmbeddingClient) embedOnce(ctx context.Context, text string) ([]float32, bool, error) {
	req := embedWireRequest{
		Text:         text,
		Model:        c.model,
		ModelVersion: c.modelVersion,
	}
	if c.accessKey != nil {
		buf, err := c.accessKey.Open()
		if err != nil {
			return nil, false, fmt.Errorf("open access key enclave: %w", err)
		}
		req.AccessKey = buf.String()
		buf.Destroy()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Transport failures are transient unless the context is done.
		return nil, ctx.Err() == nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read embed response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500,
		strings.Contains(strings.ToLower(string(raw)), "rate limit"):
		if resp.StatusCode != http.StatusOK {
			return nil, true, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
		}
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	vec, err := parseEmbeddingResponse(raw)
	if err != nil {
		// Parse errors are not retryable; the payload will not improve.
		return nil, false, err
	}
	return vec, false, nil
}

// parseEmbeddingResponse accepts both provider response shapes.
func parseEmbeddingResponse(raw []byte) ([]float32, error) {
	// Shape 1: {"data": [f, f, ...]}
	var flat struct {
		Data []float32 `json:"data"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat.Data) > 0 {
		return flat.Data, nil
	}

	// Shape 2: {"data": [{"embedding": [f, f, ...]}]}
	var nested struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil &&
		len(nested.Data) > 0 && len(nested.Data[0].Embedding) > 0 {
		return nested.Data[0].Embedding, nil
	}

	return nil, fmt.Errorf("embed service returned empty or unrecognized vector payload")
}

// sleepBackoff waits the exponential backoff delay for the given attempt,
// with ±20% jitter, honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := embedBaseDelay << (attempt - 1)
	if delay > embedMaxDelay {
		delay = embedMaxDelay
	}
	jitter := 0.8 + 0.4*rand.Float64()
	delay = time.Duration(float64(delay) * jitter)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
