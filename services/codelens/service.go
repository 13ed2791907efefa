// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codelens is the HTTP surface of the code-intelligence engine:
// it wires the hybrid engine, tool registry, vector store, and
// knowledge graph behind the /api/v1/mcp endpoints.
package codelens

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AleutianAI/CodeLens/services/codelens/engine"
	"github.com/AleutianAI/CodeLens/services/codelens/graph"
	"github.com/AleutianAI/CodeLens/services/codelens/history"
	"github.com/AleutianAI/CodeLens/services/codelens/llm"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
	"github.com/AleutianAI/CodeLens/services/codelens/vector"
)

// embeddable extensions for the background generation job.
var embeddableExtensions = map[string]bool{
	".java": true, ".xml": true, ".properties": true,
	".yml": true, ".yaml": true,
}

// maxEmbedContentBytes truncates oversized files before embedding.
const maxEmbedContentBytes = 32 * 1024

// EmbeddingJob tracks one background generation run.
type EmbeddingJob struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"` // running, completed, failed
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Service composes the engine and its collaborators for the handlers.
type Service struct {
	engine   *engine.Engine
	registry *tools.Registry
	store    *vector.Store
	embedder llm.EmbeddingClient
	graph    *graph.KnowledgeGraph
	history  history.Store
	logger   *slog.Logger

	ready atomic.Bool

	jobMu sync.Mutex
	jobs  map[string]*EmbeddingJob
}

// NewService wires the service. Call MarkReady once startup loading has
// finished.
func NewService(eng *engine.Engine, registry *tools.Registry, store *vector.Store, embedder llm.EmbeddingClient, kg *graph.KnowledgeGraph, hist history.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if hist == nil {
		hist = history.NoopStore{}
	}
	return &Service{
		engine:   eng,
		registry: registry,
		store:    store,
		embedder: embedder,
		graph:    kg,
		history:  hist,
		logger:   logger,
		jobs:     make(map[string]*EmbeddingJob),
	}
}

// MarkReady flips the readiness probe.
func (s *Service) MarkReady() { s.ready.Store(true) }

// Ready reports whether startup loading has finished.
func (s *Service) Ready() bool { return s.ready.Load() }

// StartEmbeddingJob launches background embedding generation for every
// supported file under path, stored under the given namespace.
func (s *Service) StartEmbeddingJob(path, namespace string) (*EmbeddingJob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("embedding path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("embedding path %s is not a directory", path)
	}
	if namespace == "" {
		namespace = filepath.Base(path)
	}

	job := &EmbeddingJob{
		ID:        uuid.NewString(),
		Path:      path,
		Namespace: namespace,
		Status:    "running",
	}
	s.jobMu.Lock()
	s.jobs[job.ID] = job
	s.jobMu.Unlock()

	go s.runEmbeddingJob(job)
	return snapshotJob(job), nil
}

// Job returns a point-in-time copy of a job's state.
func (s *Service) Job(id string) (*EmbeddingJob, bool) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return snapshotJob(job), true
}

func snapshotJob(job *EmbeddingJob) *EmbeddingJob {
	copied := *job
	return &copied
}

// runEmbeddingJob walks the tree, embedding and storing each supported
// file. Individual failures are counted, not fatal; a degraded
// embedding upstream aborts the job.
func (s *Service) runEmbeddingJob(job *EmbeddingJob) {
	ctx := context.Background()
	err := filepath.WalkDir(job.Path, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" || name == "target" {
				return filepath.SkipDir
			}
			return nil
		}
		if !embeddableExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if s.embedder.Degraded() {
			return fmt.Errorf("embedding service degraded after %d files", jobProcessed(s, job))
		}

		if err := s.embedFile(ctx, job, path); err != nil {
			s.logger.Warn("embedding generation failed for file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			s.jobMu.Lock()
			job.Failed++
			s.jobMu.Unlock()
			return nil
		}
		s.jobMu.Lock()
		job.Processed++
		s.jobMu.Unlock()
		return nil
	})

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if err != nil {
		job.Status = "failed"
		job.Error = err.Error()
	} else {
		job.Status = "completed"
	}
	s.logger.Info("embedding job finished",
		slog.String("job_id", job.ID),
		slog.String("status", job.Status),
		slog.Int("processed", job.Processed),
		slog.Int("failed", job.Failed))
}

func jobProcessed(s *Service, job *EmbeddingJob) int {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return job.Processed
}

// embedFile embeds one file's content and stores it with metadata.
func (s *Service) embedFile(ctx context.Context, job *EmbeddingJob, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := string(raw)
	if len(content) > maxEmbedContentBytes {
		content = content[:maxEmbedContentBytes]
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(job.Path, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	id := job.Namespace + ":" + rel
	meta := vector.Metadata{
		ID:         id,
		SourceID:   rel,
		EntityType: entityTypeForExt(filepath.Ext(path)),
		FilePath:   rel,
		StartLine:  1,
		EndLine:    1 + strings.Count(content, "\n"),
		Content:    content,
		Language:   languageForExt(filepath.Ext(path)),
	}
	return s.store.StoreEmbedding(ctx, id, vec, meta, job.Namespace)
}

func entityTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".java":
		return "class"
	case ".xml":
		return "xml"
	case ".properties", ".yml", ".yaml":
		return "config"
	default:
		return "file"
	}
}

func languageForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".java":
		return "java"
	case ".xml":
		return "xml"
	case ".yml", ".yaml":
		return "yaml"
	case ".properties":
		return "properties"
	default:
		return ""
	}
}
