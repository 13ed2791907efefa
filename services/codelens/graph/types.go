// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the knowledge graph over code entities
// (classes, interfaces, methods) and their relations, with a versioned
// binary snapshot, bounded traversal, and text search.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
)

// EntityType classifies a code entity.
type EntityType string

const (
	EntityClass     EntityType = "class"
	EntityInterface EntityType = "interface"
	EntityMethod    EntityType = "method"
	EntityField     EntityType = "field"
	EntityPackage   EntityType = "package"
)

// RelationType classifies an edge between two entities.
type RelationType string

const (
	RelationContains   RelationType = "CONTAINS"
	RelationExtends    RelationType = "EXTENDS"
	RelationImplements RelationType = "IMPLEMENTS"
	RelationCalls      RelationType = "CALLS"
	RelationReferences RelationType = "REFERENCES"
)

// Entity is one knowledge-graph node.
type Entity struct {
	// ID is a stable hash of fully-qualified name + type + file.
	ID string `json:"id"`

	// Name is the simple name.
	Name string `json:"name"`

	// FullyQualifiedName includes the package path.
	FullyQualifiedName string `json:"fully_qualified_name"`

	Type      EntityType `json:"type"`
	FilePath  string     `json:"file_path,omitempty"`
	StartLine int        `json:"start_line,omitempty"`
	EndLine   int        `json:"end_line,omitempty"`

	// External marks placeholder entities for types declared outside the
	// indexed sources (EXTENDS/IMPLEMENTS targets pending resolution).
	External bool `json:"external,omitempty"`
}

// Relationship is one knowledge-graph edge, stored keyed by source id.
type Relationship struct {
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Type       RelationType      `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// EntityID derives the stable entity id from its identity triple.
func EntityID(fqn string, typ EntityType, filePath string) string {
	sum := sha256.Sum256([]byte(fqn + "|" + string(typ) + "|" + filePath))
	return hex.EncodeToString(sum[:12])
}

// ExternalEntityID derives the synthetic id for an unresolved type name.
// Only the simple name is known, so the id is file-independent and a
// later build of the declaring file may resolve it.
func ExternalEntityID(simpleName string, typ EntityType) string {
	sum := sha256.Sum256([]byte("external|" + simpleName + "|" + string(typ)))
	return hex.EncodeToString(sum[:12])
}
