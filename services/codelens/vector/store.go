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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var storeTracer = otel.Tracer("codelens.vector.store")

// DefaultDimension matches the provider's large embedding model.
const DefaultDimension = 3072

// On-disk file names under the data directory.
const (
	namespacesFile = "namespaces.json"
	metadataFile   = "embedding_metadata.json"
	vectorFileExt  = ".vec"
)

// Metadata describes one stored embedding.
type Metadata struct {
	ID            string   `json:"id"`
	SourceID      string   `json:"source_id,omitempty"`
	EntityType    string   `json:"entity_type,omitempty"` // class/interface/enum/exception/xml/...
	FilePath      string   `json:"file_path,omitempty"`   // repository-relative
	StartLine     int      `json:"start_line,omitempty"`
	EndLine       int      `json:"end_line,omitempty"`
	Content       string   `json:"content,omitempty"`
	Language      string   `json:"language,omitempty"`
	Description   string   `json:"description,omitempty"`
	Purpose       string   `json:"purpose,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	UsageExamples []string `json:"usage_examples,omitempty"`
}

// SimilarityResult is one FindSimilar hit joined with its metadata.
type SimilarityResult struct {
	ID         string   `json:"id"`
	Namespace  string   `json:"namespace"`
	Similarity float64  `json:"similarity"`
	Metadata   Metadata `json:"metadata"`
}

// namespace owns the index and metadata of one logical partition
// (typically one repository).
type namespace struct {
	name string
	dir  string

	mu       sync.RWMutex
	metadata map[string]*Metadata
	index    *HNSWIndex
}

// Config holds store construction parameters.
type Config struct {
	// DataDir is the root for namespace state. Required.
	DataDir string

	// Dimension of every embedding. Non-positive uses DefaultDimension.
	Dimension int

	// HNSW parameters; non-positive values use package defaults.
	MaxConnections int
	EfConstruction int
	Ef             int

	// EnableContentPathResolution turns on the expensive fuzzy
	// re-association of unknown file paths (off by default).
	EnableContentPathResolution bool

	// RepositoryRoot is the cross-repo root used by content path
	// resolution. Ignored unless resolution is enabled.
	RepositoryRoot string
}

// Store is the namespaced embedding store.
//
// # Thread Safety
//
// Safe for concurrent use. StoreEmbedding is the only mutator on the
// write path; readers may briefly observe an id in the index before its
// metadata is visible and must tolerate a skipped result.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	namespaces map[string]*namespace
}

// NewStore creates a store rooted at cfg.DataDir. Call Load before use.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	return &Store{
		cfg:        cfg,
		logger:     logger,
		namespaces: make(map[string]*namespace),
	}
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int { return s.cfg.Dimension }

// =============================================================================
// Lifecycle
// =============================================================================

// Load reads the namespace list and rebuilds every namespace index from
// the persisted vector files.
//
// # Description
//
// For each namespace: metadata is loaded from embedding_metadata.json,
// entries whose vector file is missing are pruned, and the ANN index is
// rebuilt from the surviving vector files. A count mismatch between
// metadata and index is logged. Namespaces load in parallel.
//
// Outputs:
//   - error: Non-nil if the data directory is unreadable or a vector has
//     the wrong dimension (fatal initialization conditions).
func (s *Store) Load(ctx context.Context) error {
	ctx, span := storeTracer.Start(ctx, "vector.Store.Load")
	defer span.End()

	if err := os.MkdirAll(s.cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	names, err := s.loadNamespaceList()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	var mu sync.Mutex
	loaded := make(map[string]*namespace, len(names))

	for _, name := range names {
		g.Go(func() error {
			ns, err := s.loadNamespace(ctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			loaded[name] = ns
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.namespaces = loaded
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("namespaces", len(loaded)))
	s.logger.Info("vector store loaded", slog.Int("namespaces", len(loaded)))
	return nil
}

// Close flushes all namespace metadata and the namespace list.
func (s *Store) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var firstErr error
	for _, ns := range s.namespaces {
		if err := s.saveNamespaceMetadata(ns); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.saveNamespaceList(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Namespaces returns the sorted list of known namespace names.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateNamespace creates an empty namespace if it does not exist.
func (s *Store) CreateNamespace(name string) error {
	_, err := s.getOrCreateNamespace(name)
	return err
}

// =============================================================================
// Store API
// =============================================================================

// StoreEmbedding persists a vector with its metadata into a namespace,
// creating the namespace if needed.
//
// # Description
//
// Atomicity: if the vector file write fails, neither metadata nor index
// are touched. If the index insert fails, the vector and metadata are
// kept on disk (they are picked up on the next Load) and the error is
// returned.
func (s *Store) StoreEmbedding(ctx context.Context, id string, vec []float32, meta Metadata, nsName string) error {
	_, span := storeTracer.Start(ctx, "vector.Store.StoreEmbedding",
		oteltrace.WithAttributes(
			attribute.String("namespace", nsName),
			attribute.Int("dimension", len(vec)),
		))
	defer span.End()

	if id == "" {
		return fmt.Errorf("store embedding: empty id")
	}
	if len(vec) != s.cfg.Dimension {
		return fmt.Errorf("store embedding: dimension %d does not match configured %d", len(vec), s.cfg.Dimension)
	}

	ns, err := s.getOrCreateNamespace(nsName)
	if err != nil {
		return err
	}

	if err := writeVectorFile(vectorPath(ns.dir, id), vec); err != nil {
		return fmt.Errorf("write vector file: %w", err)
	}

	meta.ID = id
	ns.mu.Lock()
	ns.metadata[id] = &meta
	ns.mu.Unlock()
	if err := s.saveNamespaceMetadata(ns); err != nil {
		s.logger.Warn("failed to persist namespace metadata",
			slog.String("namespace", nsName),
			slog.String("error", err.Error()))
	}

	if err := ns.index.Add(id, vec); err != nil {
		return fmt.Errorf("index insert for %s: %w", id, err)
	}
	return nil
}

// FindSimilar queries the given namespaces (all when empty), merges the
// per-namespace hits, and returns up to maxResults sorted by similarity
// descending. Hits with missing metadata are skipped with a warning.
func (s *Store) FindSimilar(ctx context.Context, query []float32, maxResults int, minSimilarity float64, nsNames []string) ([]SimilarityResult, error) {
	_, span := storeTracer.Start(ctx, "vector.Store.FindSimilar",
		oteltrace.WithAttributes(
			attribute.Int("max_results", maxResults),
			attribute.Float64("min_similarity", minSimilarity),
		))
	defer span.End()

	if maxResults <= 0 {
		maxResults = 10
	}

	targets := s.selectNamespaces(nsNames)
	var out []SimilarityResult
	for _, ns := range targets {
		hits := ns.index.Search(query, maxResults, minSimilarity)
		ns.mu.RLock()
		for _, hit := range hits {
			meta, ok := ns.metadata[hit.ID]
			if !ok {
				s.logger.Warn("similarity hit without metadata, skipping",
					slog.String("namespace", ns.name),
					slog.String("id", hit.ID))
				continue
			}
			out = append(out, SimilarityResult{
				ID:         hit.ID,
				Namespace:  ns.name,
				Similarity: clampScore(hit.Similarity),
				Metadata:   *meta,
			})
		}
		ns.mu.RUnlock()
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// GetMetadata returns the metadata for an id within a namespace.
func (s *Store) GetMetadata(nsName, id string) (Metadata, bool) {
	s.mu.RLock()
	ns, ok := s.namespaces[nsName]
	s.mu.RUnlock()
	if !ok {
		return Metadata{}, false
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	meta, ok := ns.metadata[id]
	if !ok {
		return Metadata{}, false
	}
	return *meta, true
}

// DeleteEmbedding removes an id from index, metadata, and disk.
func (s *Store) DeleteEmbedding(ctx context.Context, id, nsName string) error {
	_, span := storeTracer.Start(ctx, "vector.Store.DeleteEmbedding",
		oteltrace.WithAttributes(attribute.String("namespace", nsName)))
	defer span.End()

	s.mu.RLock()
	ns, ok := s.namespaces[nsName]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("delete embedding: unknown namespace %q", nsName)
	}

	ns.index.Delete(id)
	ns.mu.Lock()
	delete(ns.metadata, id)
	ns.mu.Unlock()

	if err := os.Remove(vectorPath(ns.dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove vector file: %w", err)
	}
	return s.saveNamespaceMetadata(ns)
}

// clampScore keeps similarity scores in [0,1] and free of NaN.
func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// =============================================================================
// Namespace management and persistence
// =============================================================================

func (s *Store) getOrCreateNamespace(name string) (*namespace, error) {
	if name == "" {
		return nil, fmt.Errorf("empty namespace name")
	}
	s.mu.RLock()
	ns, ok := s.namespaces[name]
	s.mu.RUnlock()
	if ok {
		return ns, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok = s.namespaces[name]; ok {
		return ns, nil
	}

	dir := filepath.Join(s.cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create namespace directory: %w", err)
	}
	ns = &namespace{
		name:     name,
		dir:      dir,
		metadata: make(map[string]*Metadata),
		index:    NewHNSWIndex(s.cfg.MaxConnections, s.cfg.EfConstruction, s.cfg.Ef),
	}
	s.namespaces[name] = ns

	if err := s.saveNamespaceListLocked(); err != nil {
		s.logger.Warn("failed to persist namespace list", slog.String("error", err.Error()))
	}
	return ns, nil
}

func (s *Store) selectNamespaces(names []string) []*namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*namespace
	if len(names) == 0 {
		for _, ns := range s.namespaces {
			out = append(out, ns)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
		return out
	}
	for _, name := range names {
		if ns, ok := s.namespaces[name]; ok {
			out = append(out, ns)
		}
	}
	return out
}

func (s *Store) loadNamespaceList() ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(s.cfg.DataDir, namespacesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read namespace list: %w", err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("parse namespace list: %w", err)
	}
	return names, nil
}

func (s *Store) saveNamespaceList() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveNamespaceListLocked()
}

func (s *Store) saveNamespaceListLocked() error {
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	raw, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.cfg.DataDir, namespacesFile), raw)
}

// loadNamespace loads metadata, prunes entries without a backing vector
// file, and rebuilds the index.
func (s *Store) loadNamespace(ctx context.Context, name string) (*namespace, error) {
	dir := filepath.Join(s.cfg.DataDir, name)
	ns := &namespace{
		name:     name,
		dir:      dir,
		metadata: make(map[string]*Metadata),
		index:    NewHNSWIndex(s.cfg.MaxConnections, s.cfg.EfConstruction, s.cfg.Ef),
	}

	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ns, nil
		}
		return nil, fmt.Errorf("read metadata for namespace %s: %w", name, err)
	}
	var records []*Metadata
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse metadata for namespace %s: %w", name, err)
	}

	pruned := 0
	for _, meta := range records {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vec, err := readVectorFile(vectorPath(dir, meta.ID))
		if err != nil {
			pruned++
			continue
		}
		if len(vec) != s.cfg.Dimension {
			return nil, fmt.Errorf("namespace %s: vector %s has dimension %d, configured %d",
				name, meta.ID, len(vec), s.cfg.Dimension)
		}
		ns.metadata[meta.ID] = meta
		if err := ns.index.Add(meta.ID, vec); err != nil {
			s.logger.Warn("failed to index persisted vector",
				slog.String("namespace", name),
				slog.String("id", meta.ID),
				slog.String("error", err.Error()))
		}
	}

	if pruned > 0 {
		s.logger.Warn("pruned metadata entries without backing vectors",
			slog.String("namespace", name),
			slog.Int("pruned", pruned))
		if err := s.saveNamespaceMetadata(ns); err != nil {
			s.logger.Warn("failed to persist pruned metadata",
				slog.String("namespace", name),
				slog.String("error", err.Error()))
		}
	}
	if got, want := ns.index.Len(), len(ns.metadata); got != want {
		s.logger.Warn("metadata/index count mismatch after load",
			slog.String("namespace", name),
			slog.Int("metadata", want),
			slog.Int("index", got))
	}
	return ns, nil
}

func (s *Store) saveNamespaceMetadata(ns *namespace) error {
	ns.mu.RLock()
	records := make([]*Metadata, 0, len(ns.metadata))
	for _, meta := range ns.metadata {
		records = append(records, meta)
	}
	ns.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(ns.dir, metadataFile), raw)
}

// =============================================================================
// Vector file I/O
// =============================================================================

func vectorPath(dir, id string) string {
	return filepath.Join(dir, sanitizeID(id)+vectorFileExt)
}

// sanitizeID keeps vector file names filesystem-safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

// writeVectorFile persists a vector as little-endian float32s.
func writeVectorFile(path string, vec []float32) error {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return atomicWrite(path, buf)
}

func readVectorFile(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("vector file %s has truncated payload", path)
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

// atomicWrite writes via a temp file and rename so readers never observe
// a partial file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
