// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// KnowledgeGraph holds entities and relationships in concurrent maps.
//
// # Description
//
// Relationships are stored keyed by source id (adjacency list). Reverse
// edges are reconstructed during traversal rather than stored. Cycles
// (A extends B, B references A) are expected; traversal is breadth-first
// with a visited set bounded by depth.
//
// # Thread Safety
//
// Safe for concurrent use. Builders enforce single-builder-per-path by
// external convention; readers never block each other.
type KnowledgeGraph struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	// outbound maps source id → edges from that entity.
	outbound map[string][]*Relationship

	available atomic.Bool
}

// NewKnowledgeGraph creates an empty graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		entities: make(map[string]*Entity),
		outbound: make(map[string][]*Relationship),
	}
}

// MarkAvailable flags init completion. IsAvailable is independent of
// whether any entities are populated.
func (g *KnowledgeGraph) MarkAvailable() { g.available.Store(true) }

// IsAvailable reports whether init has completed.
func (g *KnowledgeGraph) IsAvailable() bool { return g.available.Load() }

// AddEntity inserts or replaces an entity.
func (g *KnowledgeGraph) AddEntity(e *Entity) {
	if e == nil || e.ID == "" {
		return
	}
	g.mu.Lock()
	g.entities[e.ID] = e
	g.mu.Unlock()
}

// AddRelationship appends an edge to the source's adjacency list.
func (g *KnowledgeGraph) AddRelationship(r *Relationship) {
	if r == nil || r.SourceID == "" || r.TargetID == "" {
		return
	}
	g.mu.Lock()
	g.outbound[r.SourceID] = append(g.outbound[r.SourceID], r)
	g.mu.Unlock()
}

// GetEntity returns the entity for an id.
func (g *KnowledgeGraph) GetEntity(id string) (*Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	return e, ok
}

// Counts returns (entities, relationships).
func (g *KnowledgeGraph) Counts() (int, int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := 0
	for _, rels := range g.outbound {
		edges += len(rels)
	}
	return len(g.entities), edges
}

// FindRelated returns all relationships reachable within depth hops of
// the entity, following edges in both directions.
//
// # Description
//
// Reverse edges are reconstructed on traversal from the adjacency lists.
// The visited set bounds work on cyclic graphs.
func (g *KnowledgeGraph) FindRelated(entityID string, depth int) []*Relationship {
	if depth <= 0 {
		depth = 1
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Reverse adjacency built once per call; traversal needs inbound edges.
	inbound := make(map[string][]*Relationship)
	for _, rels := range g.outbound {
		for _, r := range rels {
			inbound[r.TargetID] = append(inbound[r.TargetID], r)
		}
	}

	type queued struct {
		id   string
		hops int
	}
	visited := map[string]struct{}{entityID: {}}
	seen := make(map[*Relationship]struct{})
	var out []*Relationship

	queue := []queued{{entityID, 0}}
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if curr.hops >= depth {
			continue
		}
		neighbors := func(r *Relationship, next string) {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				out = append(out, r)
			}
			if _, ok := visited[next]; !ok {
				visited[next] = struct{}{}
				queue = append(queue, queued{next, curr.hops + 1})
			}
		}
		for _, r := range g.outbound[curr.id] {
			neighbors(r, r.TargetID)
		}
		for _, r := range inbound[curr.id] {
			neighbors(r, r.SourceID)
		}
	}
	return out
}

// Search returns up to max entities whose simple or fully-qualified name
// contains the query (case-insensitive), prefix matches first.
func (g *KnowledgeGraph) Search(query string, max int) []*Entity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || max <= 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	type ranked struct {
		e      *Entity
		prefix bool
	}
	var matches []ranked
	for _, e := range g.entities {
		name := strings.ToLower(e.Name)
		fqn := strings.ToLower(e.FullyQualifiedName)
		if strings.Contains(name, q) || strings.Contains(fqn, q) {
			matches = append(matches, ranked{e, strings.HasPrefix(name, q)})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].prefix != matches[j].prefix {
			return matches[i].prefix
		}
		return matches[i].e.Name < matches[j].e.Name
	})

	if len(matches) > max {
		matches = matches[:max]
	}
	out := make([]*Entity, len(matches))
	for i, m := range matches {
		out[i] = m.e
	}
	return out
}

// FindByFilePath returns all entities declared in the given file.
// Separators are normalized so Windows-style paths match.
func (g *KnowledgeGraph) FindByFilePath(path string) []*Entity {
	norm := strings.ReplaceAll(path, "\\", "/")

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Entity
	for _, e := range g.entities {
		if strings.ReplaceAll(e.FilePath, "\\", "/") == norm {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartLine < out[j].StartLine })
	return out
}

// snapshot copies both maps for serialization.
func (g *KnowledgeGraph) snapshot() ([]*Entity, []*Relationship) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entities := make([]*Entity, 0, len(g.entities))
	for _, e := range g.entities {
		entities = append(entities, e)
	}
	var rels []*Relationship
	for _, out := range g.outbound {
		rels = append(rels, out...)
	}
	return entities, rels
}

// replace swaps graph contents, dropping orphan edges whose endpoints
// are missing from the entity set.
func (g *KnowledgeGraph) replace(entities []*Entity, rels []*Relationship) (orphans int) {
	em := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		if e != nil && e.ID != "" {
			em[e.ID] = e
		}
	}
	out := make(map[string][]*Relationship)
	for _, r := range rels {
		if r == nil {
			continue
		}
		if _, ok := em[r.SourceID]; !ok {
			orphans++
			continue
		}
		if _, ok := em[r.TargetID]; !ok {
			orphans++
			continue
		}
		out[r.SourceID] = append(out[r.SourceID], r)
	}

	g.mu.Lock()
	g.entities = em
	g.outbound = out
	g.mu.Unlock()
	return orphans
}
