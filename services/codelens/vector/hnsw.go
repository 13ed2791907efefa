// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector implements the namespaced embedding store: an in-process
// HNSW index per namespace, JSON metadata, and one vector file per
// embedding. The index is rebuilt from the vector files on load and never
// persisted itself, keeping the on-disk format minimal.
package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// HNSW defaults; tuned for recall over a few hundred thousand snippets.
const (
	DefaultMaxConnections = 16
	DefaultEfConstruction = 200
	DefaultEf             = 64
)

// hnswNode is one element of the graph. Neighbors are kept per layer.
type hnswNode struct {
	id        string
	vector    []float32 // unit-normalized
	level     int
	neighbors [][]string // layer → neighbor ids
	deleted   bool
}

// HNSWIndex is a Hierarchical Navigable Small World graph over unit
// vectors with cosine similarity (dot product of normalized vectors).
//
// # Description
//
// Vectors are normalized on insert so similarity reduces to a dot
// product. Deletes tombstone the node; tombstoned nodes still route
// greedy search but are excluded from results. The index grows amortized
// and has no fixed capacity.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations take the write lock; searches take
// the read lock.
type HNSWIndex struct {
	mu sync.RWMutex

	m              int // max connections per node per layer
	efConstruction int
	ef             int
	levelMult      float64

	nodes      map[string]*hnswNode
	entryPoint string
	maxLevel   int
	rng        *rand.Rand
	liveCount  int
}

// NewHNSWIndex creates an empty index. Non-positive parameters fall back
// to the package defaults.
func NewHNSWIndex(m, efConstruction, ef int) *HNSWIndex {
	if m <= 0 {
		m = DefaultMaxConnections
	}
	if efConstruction <= 0 {
		efConstruction = DefaultEfConstruction
	}
	if ef <= 0 {
		ef = DefaultEf
	}
	return &HNSWIndex{
		m:              m,
		efConstruction: efConstruction,
		ef:             ef,
		levelMult:      1.0 / math.Log(float64(m)),
		nodes:          make(map[string]*hnswNode),
		rng:            rand.New(rand.NewSource(42)),
	}
}

// Len returns the number of live (non-tombstoned) vectors.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveCount
}

// Add inserts or replaces a vector under the given id.
//
// Outputs:
//   - error: Non-nil for an empty id or a zero-magnitude vector.
func (h *HNSWIndex) Add(id string, vec []float32) error {
	if id == "" {
		return fmt.Errorf("hnsw: empty id")
	}
	unit, ok := normalize(vec)
	if !ok {
		return fmt.Errorf("hnsw: zero-magnitude vector for id %s", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.nodes[id]; ok {
		// Same id replaces the vector in place; graph edges stay valid
		// because routing only needs approximate proximity.
		if existing.deleted {
			existing.deleted = false
			h.liveCount++
		}
		existing.vector = unit
		return nil
	}

	level := h.randomLevel()
	node := &hnswNode{
		id:        id,
		vector:    unit,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	h.nodes[id] = node
	h.liveCount++

	if h.entryPoint == "" {
		h.entryPoint = id
		h.maxLevel = level
		return nil
	}

	// Greedy descent from the top layer to level+1.
	curr := h.entryPoint
	for l := h.maxLevel; l > level; l-- {
		curr = h.greedyClosest(curr, unit, l)
	}

	// Insert into each layer from min(level, maxLevel) down to 0.
	startLevel := level
	if startLevel > h.maxLevel {
		startLevel = h.maxLevel
	}
	for l := startLevel; l >= 0; l-- {
		candidates := h.searchLayer(curr, unit, h.efConstruction, l)
		selected := h.selectNeighbors(candidates, h.m)
		node.neighbors[l] = selected
		for _, nid := range selected {
			nb := h.nodes[nid]
			nb.neighbors[l] = append(nb.neighbors[l], id)
			if len(nb.neighbors[l]) > h.maxDegree(l) {
				nb.neighbors[l] = h.pruneNeighbors(nb, l)
			}
		}
		if len(candidates) > 0 {
			curr = candidates[0].id
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = id
	}
	return nil
}

// Delete tombstones the id. Returns false if the id is unknown.
func (h *HNSWIndex) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.nodes[id]
	if !ok || node.deleted {
		return false
	}
	node.deleted = true
	h.liveCount--

	if h.entryPoint == id {
		h.entryPoint = ""
		h.maxLevel = 0
		for nid, n := range h.nodes {
			if n.deleted {
				continue
			}
			if h.entryPoint == "" || n.level > h.maxLevel {
				h.entryPoint = nid
				h.maxLevel = n.level
			}
		}
	}
	return true
}

// SearchHit is one nearest-neighbor result.
type SearchHit struct {
	ID         string
	Similarity float64
}

// Search returns up to k live ids with cosine similarity >= minSimilarity,
// ordered by similarity descending.
func (h *HNSWIndex) Search(query []float32, k int, minSimilarity float64) []SearchHit {
	unit, ok := normalize(query)
	if !ok || k <= 0 {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entryPoint == "" {
		return nil
	}

	curr := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		curr = h.greedyClosest(curr, unit, l)
	}

	ef := h.ef
	if ef < k {
		ef = k
	}
	candidates := h.searchLayer(curr, unit, ef, 0)

	hits := make([]SearchHit, 0, k)
	for _, c := range candidates {
		node := h.nodes[c.id]
		if node.deleted {
			continue
		}
		sim := float64(c.sim)
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, SearchHit{ID: c.id, Similarity: sim})
		if len(hits) == k {
			break
		}
	}
	return hits
}

// =============================================================================
// Internal graph machinery
// =============================================================================

type scored struct {
	id  string
	sim float32
}

// maxDegree allows double connectivity on the ground layer, per the
// original HNSW formulation (M0 = 2M).
func (h *HNSWIndex) maxDegree(layer int) int {
	if layer == 0 {
		return h.m * 2
	}
	return h.m
}

func (h *HNSWIndex) randomLevel() int {
	level := int(-math.Log(h.rng.Float64()) * h.levelMult)
	const maxAllowed = 32
	if level > maxAllowed {
		level = maxAllowed
	}
	return level
}

// greedyClosest walks layer l from start toward the query until no
// neighbor improves similarity.
func (h *HNSWIndex) greedyClosest(start string, query []float32, layer int) string {
	curr := start
	currSim := dot(h.nodes[curr].vector, query)
	for {
		improved := false
		node := h.nodes[curr]
		if layer < len(node.neighbors) {
			for _, nid := range node.neighbors[layer] {
				if s := dot(h.nodes[nid].vector, query); s > currSim {
					curr, currSim = nid, s
					improved = true
				}
			}
		}
		if !improved {
			return curr
		}
	}
}

// searchLayer is the ef-bounded best-first search on one layer. Results
// are returned sorted by similarity descending.
func (h *HNSWIndex) searchLayer(entry string, query []float32, ef, layer int) []scored {
	visited := map[string]struct{}{entry: {}}
	entrySim := dot(h.nodes[entry].vector, query)

	candidates := &simHeap{items: []scored{{entry, entrySim}}, max: true}
	heap.Init(candidates)
	results := &simHeap{items: []scored{{entry, entrySim}}, max: false}
	heap.Init(results)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(scored)
		worst := results.items[0]
		if c.sim < worst.sim && results.Len() >= ef {
			break
		}
		node := h.nodes[c.id]
		if layer >= len(node.neighbors) {
			continue
		}
		for _, nid := range node.neighbors[layer] {
			if _, seen := visited[nid]; seen {
				continue
			}
			visited[nid] = struct{}{}
			sim := dot(h.nodes[nid].vector, query)
			if results.Len() < ef || sim > results.items[0].sim {
				heap.Push(candidates, scored{nid, sim})
				heap.Push(results, scored{nid, sim})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]scored, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(scored)
	}
	return out
}

// selectNeighbors keeps the best m candidates (simple heuristic).
func (h *HNSWIndex) selectNeighbors(candidates []scored, m int) []string {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// pruneNeighbors re-selects a node's neighbor list when it exceeds the
// degree bound, keeping the closest.
func (h *HNSWIndex) pruneNeighbors(node *hnswNode, layer int) []string {
	cands := make([]scored, 0, len(node.neighbors[layer]))
	for _, nid := range node.neighbors[layer] {
		cands = append(cands, scored{nid, dot(h.nodes[nid].vector, node.vector)})
	}
	sortScoredDesc(cands)
	return h.selectNeighbors(cands, h.maxDegree(layer))
}

func sortScoredDesc(s []scored) {
	// Insertion sort; neighbor lists are tiny (<= 2M+1).
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].sim > s[j-1].sim; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// simHeap is a heap over scored items; max selects a max-heap.
type simHeap struct {
	items []scored
	max   bool
}

func (h *simHeap) Len() int { return len(h.items) }
func (h *simHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].sim > h.items[j].sim
	}
	return h.items[i].sim < h.items[j].sim
}
func (h *simHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *simHeap) Push(x any)    { h.items = append(h.items, x.(scored)) }
func (h *simHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// normalize returns the unit vector, or false for a zero vector.
func normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, false
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

// dot computes the dot product; mismatched lengths use the shorter.
func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
