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
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var builderTracer = otel.Tracer("codelens.graph.builder")

// Supported source extensions for graph extraction.
var sourceExtensions = map[string]bool{
	".java": true,
}

// Line-scan patterns for JVM-style sources. The scan is deliberately
// shallow: a full parser is not needed to recover the containment and
// inheritance structure the engine queries.
var (
	packageRe = regexp.MustCompile(`^\s*package\s+([\w.]+)\s*;`)

	// Modifiers, class/interface keyword, name, optional generics, then
	// optional extends/implements clauses up to the opening brace.
	typeDeclRe = regexp.MustCompile(`^\s*((?:public|protected|private|abstract|final|static|sealed)\s+)*(class|interface)\s+(\w+)(\s*<[^>]*>)?([^{]*)`)

	extendsRe    = regexp.MustCompile(`\bextends\s+([\w.,\s<>]+?)(?:\bimplements\b|\{|$)`)
	implementsRe = regexp.MustCompile(`\bimplements\s+([\w.,\s<>]+?)(?:\{|$)`)

	// Modifier(s), return type (possibly generic/array), name, parameter
	// list, opening brace on the same line.
	methodRe = regexp.MustCompile(`^\s*((?:public|protected|private|abstract|final|static|synchronized|native|default)\s+)+[\w.<>\[\],\s]+\s+(\w+)\s*\([^)]*\)[^{;]*\{`)
)

// controlFlowKeywords excludes false method matches on control statements.
var controlFlowKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true,
	"catch": true, "return": true, "new": true, "synchronized": true,
	"try": true, "do": true, "else": true,
}

// Builder extracts entities and relations from source trees into a
// KnowledgeGraph.
type Builder struct {
	graph  *KnowledgeGraph
	logger *slog.Logger
}

// NewBuilder creates a builder targeting the given graph.
func NewBuilder(g *KnowledgeGraph, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{graph: g, logger: logger}
}

// Build discovers source files under root and extracts entities.
//
// # Description
//
// With recursive=false only the root directory's immediate files are
// scanned. For each supported file: the package declaration, type
// declarations, method declarations (attached to the enclosing type via
// CONTAINS), and extends/implements clauses are extracted. Inheritance
// targets outside the scanned sources become external placeholder
// entities so the edge survives a save/load round trip.
//
// Outputs:
//   - int: Number of files parsed.
//   - error: Non-nil if root is unreadable; per-file errors are logged
//     and skipped.
func (b *Builder) Build(ctx context.Context, root string, recursive bool) (int, error) {
	ctx, span := builderTracer.Start(ctx, "graph.Builder.Build",
		oteltrace.WithAttributes(
			attribute.String("root", root),
			attribute.Bool("recursive", recursive),
		))
	defer span.End()

	if _, err := os.Stat(root); err != nil {
		return 0, fmt.Errorf("graph build root: %w", err)
	}

	parsed := 0
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == "target" || name == "build" {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		if err := b.parseFile(path, root); err != nil {
			b.logger.Warn("failed to parse source file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		parsed++
		return nil
	}

	if err := filepath.WalkDir(root, walk); err != nil {
		return parsed, err
	}

	entities, rels := b.graph.Counts()
	span.SetAttributes(
		attribute.Int("files_parsed", parsed),
		attribute.Int("entities", entities),
		attribute.Int("relationships", rels),
	)
	b.logger.Info("knowledge graph build complete",
		slog.Int("files", parsed),
		slog.Int("entities", entities),
		slog.Int("relationships", rels))
	return parsed, nil
}

// parseFile line-scans one source file.
func (b *Builder) parseFile(path, root string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	var (
		pkg          string
		currentType  *Entity
		currentDepth int // brace depth at which the current type opened
		depth        int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
			depth += braceDelta(line)
			continue
		}

		if pkg == "" {
			if m := packageRe.FindStringSubmatch(line); m != nil {
				pkg = m[1]
				continue
			}
		}

		if m := typeDeclRe.FindStringSubmatch(line); m != nil && !controlFlowKeywords[m[3]] {
			typ := EntityClass
			if m[2] == "interface" {
				typ = EntityInterface
			}
			name := m[3]
			fqn := name
			if pkg != "" {
				fqn = pkg + "." + name
			}
			entity := &Entity{
				ID:                 EntityID(fqn, typ, rel),
				Name:               name,
				FullyQualifiedName: fqn,
				Type:               typ,
				FilePath:           rel,
				StartLine:          lineNo,
			}
			b.graph.AddEntity(entity)
			currentType = entity
			currentDepth = depth
			b.extractInheritance(entity, m[5])
			depth += braceDelta(line)
			continue
		}

		if currentType != nil {
			if m := methodRe.FindStringSubmatch(line); m != nil && !controlFlowKeywords[m[2]] {
				name := m[2]
				fqn := currentType.FullyQualifiedName + "." + name
				method := &Entity{
					ID:                 EntityID(fqn, EntityMethod, rel),
					Name:               name,
					FullyQualifiedName: fqn,
					Type:               EntityMethod,
					FilePath:           rel,
					StartLine:          lineNo,
				}
				b.graph.AddEntity(method)
				b.graph.AddRelationship(&Relationship{
					SourceID: currentType.ID,
					TargetID: method.ID,
					Type:     RelationContains,
				})
			}
		}

		depth += braceDelta(line)
		if currentType != nil && depth <= currentDepth {
			currentType.EndLine = lineNo
			currentType = nil
		}
	}
	if currentType != nil {
		currentType.EndLine = lineNo
	}
	return scanner.Err()
}

// extractInheritance emits EXTENDS/IMPLEMENTS edges for the clause text
// following a type declaration's name.
func (b *Builder) extractInheritance(source *Entity, clause string) {
	emit := func(names string, relType RelationType, targetType EntityType) {
		for _, raw := range strings.Split(names, ",") {
			name := strings.TrimSpace(stripGenerics(raw))
			if name == "" {
				continue
			}
			if idx := strings.LastIndex(name, "."); idx >= 0 {
				name = name[idx+1:]
			}
			target := &Entity{
				ID:       ExternalEntityID(name, targetType),
				Name:     name,
				Type:     targetType,
				External: true,
			}
			target.FullyQualifiedName = name
			b.graph.AddEntity(target)
			b.graph.AddRelationship(&Relationship{
				SourceID: source.ID,
				TargetID: target.ID,
				Type:     relType,
			})
		}
	}

	if m := extendsRe.FindStringSubmatch(clause); m != nil {
		targetType := EntityClass
		if source.Type == EntityInterface {
			targetType = EntityInterface
		}
		emit(m[1], RelationExtends, targetType)
	}
	if m := implementsRe.FindStringSubmatch(clause); m != nil {
		emit(m[1], RelationImplements, EntityInterface)
	}
}

// stripGenerics drops a trailing <...> from a type name.
func stripGenerics(s string) string {
	if idx := strings.Index(s, "<"); idx >= 0 {
		return s[:idx]
	}
	return s
}

// braceDelta counts net brace depth change, ignoring braces in strings
// and line comments (good enough for structure recovery).
func braceDelta(line string) int {
	delta := 0
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && (i == 0 || line[i-1] != '\\'):
			inString = !inString
		case inString:
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return delta
		case c == '{':
			delta++
		case c == '}':
			delta--
		}
	}
	return delta
}
