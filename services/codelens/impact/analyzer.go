// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var analyzerTracer = otel.Tracer("codelens.impact")

var analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codelens_impact_analyses_total",
	Help: "Configuration-impact analyses by severity of the top result.",
}, []string{"severity"})

// Config configures the analyzer.
type Config struct {
	// SourceRoots are scanned for .java sources.
	SourceRoots []string

	// ResourcePaths are scanned for .properties/.yml defaults.
	ResourcePaths []string

	// DisableAST forces the regex detector for every file. The AST
	// detector is the default; regex remains the fallback on parse
	// failures either way.
	DisableAST bool
}

// Analyzer resolves the blast radius of configuration properties.
type Analyzer struct {
	cfg    Config
	logger *slog.Logger

	ast   astExtractor
	regex regexExtractor
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Analyze resolves every requested property across the source roots.
//
// # Description
//
// Three sub-analyses run concurrently: code-reference detection over
// the source files, the database-stored-config heuristic, and property
// file default resolution. References come from the AST detector first;
// files the parser rejects fall back to the regex detector so a broken
// file never hides its neighbors.
//
// Property names may end in '*' to match a prefix.
func (a *Analyzer) Analyze(ctx context.Context, properties []string) (*Result, error) {
	ctx, span := analyzerTracer.Start(ctx, "impact.Analyze",
		oteltrace.WithAttributes(attribute.StringSlice("properties", properties)))
	defer span.End()

	start := time.Now()
	cleaned := make([]string, 0, len(properties))
	for _, p := range properties {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("at least one property name is required")
	}

	files, err := a.collectSources(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		refs      []Reference
		overrides []DatabaseOverride
		defaults  []FileDefault
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, path := range files {
			if ctx.Err() != nil {
				return
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			found := a.extract(ctx, path, string(raw), cleaned)
			if len(found) > 0 {
				mu.Lock()
				refs = append(refs, found...)
				mu.Unlock()
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, path := range files {
			if ctx.Err() != nil {
				return
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			found := detectDatabaseOverrides(path, string(raw), cleaned)
			if len(found) > 0 {
				mu.Lock()
				overrides = append(overrides, found...)
				mu.Unlock()
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		found := resolveFileDefaults(a.cfg.ResourcePaths, cleaned)
		mu.Lock()
		defaults = append(defaults, found...)
		mu.Unlock()
	}()

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Impacts:       assembleImpacts(cleaned, refs, overrides, defaults),
		FilesScanned:  len(files),
		ElapsedMillis: time.Since(start).Milliseconds(),
	}

	top := SeverityLow
	for _, impact := range result.Impacts {
		if impact.Severity == SeverityHigh {
			top = SeverityHigh
			break
		}
		if impact.Severity == SeverityMedium {
			top = SeverityMedium
		}
	}
	analysesTotal.WithLabelValues(string(top)).Inc()
	span.SetAttributes(
		attribute.Int("files_scanned", len(files)),
		attribute.Int("references", len(refs)),
		attribute.String("top_severity", string(top)),
	)
	a.logger.Info("configuration impact analysis complete",
		slog.Int("properties", len(cleaned)),
		slog.Int("files", len(files)),
		slog.Int("references", len(refs)),
		slog.String("top_severity", string(top)))
	return result, nil
}

// extract runs the AST detector with regex fallback for one file.
func (a *Analyzer) extract(ctx context.Context, path, source string, properties []string) []Reference {
	if !a.cfg.DisableAST {
		refs, err := a.ast.Extract(ctx, path, source, properties)
		if err == nil {
			return refs
		}
		a.logger.Debug("AST extraction failed, using regex fallback",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return a.regex.Extract(path, source, properties)
}

// collectSources walks the source roots for .java files.
func (a *Analyzer) collectSources(ctx context.Context) ([]string, error) {
	if len(a.cfg.SourceRoots) == 0 {
		return nil, fmt.Errorf("no source roots configured")
	}
	var files []string
	for _, root := range a.cfg.SourceRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if name := d.Name(); name == ".git" || name == "target" || name == "build" || name == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == ".java" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan source root %s: %w", root, err)
		}
	}
	return files, nil
}

// assembleImpacts groups findings per requested property and scores
// severity.
func assembleImpacts(properties []string, refs []Reference, overrides []DatabaseOverride, defaults []FileDefault) []PropertyImpact {
	impacts := make([]PropertyImpact, 0, len(properties))
	for _, requested := range properties {
		var matched []Reference
		for _, r := range refs {
			if propertyMatches(requested, r.Property) || r.Property == strings.TrimSuffix(requested, "*") {
				matched = append(matched, r)
			}
		}
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].FilePath != matched[j].FilePath {
				return matched[i].FilePath < matched[j].FilePath
			}
			return matched[i].Line < matched[j].Line
		})

		classes := make(map[string]struct{})
		for _, r := range matched {
			if r.ClassFQN != "" {
				classes[r.ClassFQN] = struct{}{}
			}
		}
		affected := make([]string, 0, len(classes))
		for c := range classes {
			affected = append(affected, c)
		}
		sort.Strings(affected)

		var propDefaults []FileDefault
		for _, d := range defaults {
			if propertyMatches(requested, d.Property) {
				propDefaults = append(propDefaults, d)
			}
		}
		var propOverrides []DatabaseOverride
		leaf := strings.ToLower(propertyLeaf(requested))
		for _, o := range overrides {
			if strings.Contains(strings.ToLower(o.FinderMethod), leaf) {
				propOverrides = append(propOverrides, o)
			}
		}

		impacts = append(impacts, PropertyImpact{
			Property:          requested,
			Severity:          scoreSeverity(matched, len(affected)),
			References:        matched,
			AffectedClasses:   affected,
			DatabaseOverrides: propOverrides,
			FileDefaults:      propDefaults,
		})
	}
	return impacts
}

// scoreSeverity: HIGH when any reference is in a critical component or
// consumed conditionally; MEDIUM above the distinct-class threshold;
// LOW otherwise.
func scoreSeverity(refs []Reference, distinctClasses int) Severity {
	for _, r := range refs {
		if r.Critical || r.AccessPattern == AccessConditional {
			return SeverityHigh
		}
	}
	if distinctClasses > mediumClassThreshold {
		return SeverityMedium
	}
	return SeverityLow
}
