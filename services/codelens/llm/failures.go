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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var embeddingFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "codelens",
	Subsystem: "embedding",
	Name:      "failure_total",
	Help:      "Final embedding failures after retry exhaustion",
})

// DefaultContinuousFailureThreshold is the number of successive final
// failures after which the vector store signals degraded mode.
const DefaultContinuousFailureThreshold = 5

// failurePreviewLen bounds the stored text preview.
const failurePreviewLen = 64

// FailureRecord describes one text that repeatedly failed to embed.
// The hash is stable over retries so the record accumulates a count.
type FailureRecord struct {
	TextHash  string    `json:"text_hash"`
	Preview   string    `json:"preview"`
	Count     int       `json:"count"`
	LastError string    `json:"last_error"`
	LastAt    time.Time `json:"last_at"`
}

// FailureRegistry tracks embedding failures across restarts and implements
// the process-wide continuous-failure circuit breaker.
//
// # Description
//
// Retries happen per call inside the embedding client; a *final* failure
// feeds this registry. The continuous counter increments on each final
// failure and resets to zero on any success. Once it exceeds the threshold
// the registry reports Degraded() and callers should stop embedding until
// a success resets the counter.
//
// The registry persists its records to embedding_failures.json under the
// vector-store data directory so cool-down decisions survive restarts.
//
// # Thread Safety
//
// Safe for concurrent use.
type FailureRegistry struct {
	mu      sync.Mutex
	records map[string]*FailureRecord
	path    string
	logger  *slog.Logger

	continuous atomic.Int64
	threshold  int64
}

// NewFailureRegistry creates a registry persisting to dataDir/embedding_failures.json.
// A threshold <= 0 uses DefaultContinuousFailureThreshold.
func NewFailureRegistry(dataDir string, threshold int, logger *slog.Logger) *FailureRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultContinuousFailureThreshold
	}
	return &FailureRegistry{
		records:   make(map[string]*FailureRecord),
		path:      filepath.Join(dataDir, "embedding_failures.json"),
		logger:    logger,
		threshold: int64(threshold),
	}
}

// HashText returns the stable hash used to key failure records.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Load reads persisted failure records. A missing file starts empty.
func (r *FailureRegistry) Load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read failure registry: %w", err)
	}

	var records []*FailureRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parse failure registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if rec.TextHash != "" {
			r.records[rec.TextHash] = rec
		}
	}
	r.logger.Debug("embedding failure registry loaded",
		slog.Int("records", len(r.records)))
	return nil
}

// RecordFailure registers a final (post-retry) embedding failure and
// increments the continuous-failure counter.
func (r *FailureRegistry) RecordFailure(text string, cause error) {
	embeddingFailureTotal.Inc()
	n := r.continuous.Add(1)

	hash := HashText(text)
	preview := text
	if len(preview) > failurePreviewLen {
		preview = preview[:failurePreviewLen]
	}

	r.mu.Lock()
	rec, ok := r.records[hash]
	if !ok {
		rec = &FailureRecord{TextHash: hash, Preview: preview}
		r.records[hash] = rec
	}
	rec.Count++
	rec.LastError = cause.Error()
	rec.LastAt = time.Now().UTC()
	err := r.saveLocked()
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("failed to persist embedding failure registry",
			slog.String("error", err.Error()))
	}
	if n > r.threshold {
		r.logger.Warn("embedding store degraded: continuous failure threshold exceeded",
			slog.Int64("continuous_failures", n),
			slog.Int64("threshold", r.threshold))
	}
}

// RecordSuccess resets the continuous-failure counter.
func (r *FailureRegistry) RecordSuccess() {
	r.continuous.Store(0)
}

// Degraded reports whether the continuous-failure counter has crossed
// the configured threshold.
func (r *FailureRegistry) Degraded() bool {
	return r.continuous.Load() > r.threshold
}

// ContinuousFailures returns the current successive-failure count.
func (r *FailureRegistry) ContinuousFailures() int64 {
	return r.continuous.Load()
}

// Records returns a snapshot of all failure records, sorted by hash.
func (r *FailureRegistry) Records() []FailureRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FailureRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TextHash < out[j].TextHash })
	return out
}

// saveLocked writes the registry to disk. Caller holds r.mu.
func (r *FailureRegistry) saveLocked() error {
	records := make([]*FailureRecord, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TextHash < records[j].TextHash })

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
