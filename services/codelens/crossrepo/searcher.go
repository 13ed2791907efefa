// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crossrepo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var searcherTracer = otel.Tracer("codelens.crossrepo")

var searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codelens_crossrepo_searches_total",
	Help: "Cross-repository searches by outcome.",
}, []string{"outcome"})

const (
	// DefaultWorkers bounds concurrent repository scans.
	DefaultWorkers = 4

	// DefaultDeadline bounds a whole search.
	DefaultDeadline = 60 * time.Second

	// DefaultMaxPerRepo caps result volume per repository so one noisy
	// repo cannot starve the rest of the response.
	DefaultMaxPerRepo = 1000

	// DefaultContextLines of surrounding source included per match.
	DefaultContextLines = 2
)

// Config bounds a searcher. Zero values take the defaults above.
type Config struct {
	Workers      int
	Deadline     time.Duration
	MaxPerRepo   int
	ContextLines int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.MaxPerRepo <= 0 {
		c.MaxPerRepo = DefaultMaxPerRepo
	}
	if c.ContextLines <= 0 {
		c.ContextLines = DefaultContextLines
	}
	return c
}

// skipDirs are never descended into while scanning a repository.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "target": true,
	"build": true, "dist": true, "vendor": true,
}

// SearchOptions controls one cross-repository search.
type SearchOptions struct {
	// Pattern is the text to find. Treated as a literal unless Regex.
	Pattern string

	// Regex interprets Pattern as a Go regular expression.
	Regex bool

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool

	// FileExtensions restricts matching to files with any of the given
	// extensions (with leading dot). Empty means all text files.
	FileExtensions []string

	// Repositories restricts the search to the named repositories.
	// Empty means all repositories under the root.
	Repositories []string
}

// Match is one matching line with surrounding context.
type Match struct {
	Repository string `json:"repository"`
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	Line       string `json:"line"`

	// Context is a contiguous window of N lines above the match, the
	// matched line itself, and N lines below (clamped at file edges),
	// so consumers can render it verbatim without re-reading the file.
	Context []string `json:"context,omitempty"`
}

// SearchResult is the aggregate outcome of a search.
type SearchResult struct {
	Pattern                 string  `json:"pattern"`
	Matches                 []Match `json:"matches"`
	RepositoriesSearched    int     `json:"repositories_searched"`
	RepositoriesWithMatches int     `json:"repositories_with_matches"`
	TotalMatches            int     `json:"total_matches"`
	Truncated               bool    `json:"truncated,omitempty"`
	ElapsedMillis           int64   `json:"elapsed_ms"`
}

// Searcher fans a pattern search out across repositories.
type Searcher struct {
	scanner *Scanner
	logger  *slog.Logger
	cfg     Config
}

// NewSearcher creates a searcher over the scanner's repositories.
func NewSearcher(scanner *Scanner, cfg Config, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{scanner: scanner, logger: logger, cfg: cfg.withDefaults()}
}

// Search runs the pattern across all (or the selected) repositories.
//
// # Description
//
// Repositories are scanned concurrently with a bounded worker group and
// a hard deadline. Matches are capped per repository and the final list
// is ordered by repository, file path, then line number, so output is
// deterministic regardless of scheduling.
func (s *Searcher) Search(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	ctx, span := searcherTracer.Start(ctx, "crossrepo.Search",
		oteltrace.WithAttributes(
			attribute.String("pattern", opts.Pattern),
			attribute.Bool("regex", opts.Regex),
		))
	defer span.End()

	start := time.Now()
	if strings.TrimSpace(opts.Pattern) == "" {
		searchesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("search pattern must not be empty")
	}

	re, err := compilePattern(opts)
	if err != nil {
		searchesTotal.WithLabelValues("invalid").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad pattern")
		return nil, err
	}

	repos, err := s.scanner.Repositories()
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository listing failed")
		return nil, err
	}
	if len(opts.Repositories) > 0 {
		want := make(map[string]bool, len(opts.Repositories))
		for _, name := range opts.Repositories {
			want[name] = true
		}
		filtered := repos[:0]
		for _, r := range repos {
			if want[r.Name] {
				filtered = append(filtered, r)
			}
		}
		repos = filtered
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	var (
		mu        sync.Mutex
		all       []Match
		withHits  int
		truncated bool
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, repo := range repos {
		g.Go(func() error {
			matches, capped, err := s.searchRepo(ctx, repo, re, opts.FileExtensions)
			if err != nil {
				// One unreadable repo does not fail the search.
				s.logger.Warn("repository search failed",
					slog.String("repository", repo.Name),
					slog.String("error", err.Error()))
				return nil
			}
			if len(matches) == 0 {
				return nil
			}
			mu.Lock()
			all = append(all, matches...)
			withHits++
			truncated = truncated || capped
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		searchesTotal.WithLabelValues("timeout").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "search deadline exceeded")
		return nil, fmt.Errorf("cross-repo search: %w", err)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Repository != all[j].Repository {
			return all[i].Repository < all[j].Repository
		}
		if all[i].FilePath != all[j].FilePath {
			return all[i].FilePath < all[j].FilePath
		}
		return all[i].LineNumber < all[j].LineNumber
	})

	result := &SearchResult{
		Pattern:                 opts.Pattern,
		Matches:                 all,
		RepositoriesSearched:    len(repos),
		RepositoriesWithMatches: withHits,
		TotalMatches:            len(all),
		Truncated:               truncated,
		ElapsedMillis:           time.Since(start).Milliseconds(),
	}
	span.SetAttributes(
		attribute.Int("repositories", len(repos)),
		attribute.Int("matches", len(all)),
	)
	searchesTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// compilePattern builds the match regexp per the options.
func compilePattern(opts SearchOptions) (*regexp.Regexp, error) {
	pattern := opts.Pattern
	if !opts.Regex {
		pattern = regexp.QuoteMeta(pattern)
	}
	if !opts.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern: %w", err)
	}
	return re, nil
}

// searchRepo scans one repository tree, capped at maxMatchesPerRepo.
func (s *Searcher) searchRepo(ctx context.Context, repo Repository, re *regexp.Regexp, extensions []string) ([]Match, bool, error) {
	extAllowed := func(path string) bool {
		if len(extensions) == 0 {
			return true
		}
		ext := filepath.Ext(path)
		for _, want := range extensions {
			if strings.EqualFold(ext, want) {
				return true
			}
		}
		return false
	}

	var matches []Match
	capped := false
	err := filepath.WalkDir(repo.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if capped {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !extAllowed(path) {
			return nil
		}
		fileMatches, err := searchFile(path, repo, re, s.cfg.MaxPerRepo-len(matches), s.cfg.ContextLines)
		if err != nil {
			return nil
		}
		matches = append(matches, fileMatches...)
		if len(matches) >= s.cfg.MaxPerRepo {
			capped = true
		}
		return nil
	})
	return matches, capped, err
}

// searchFile scans one file, returning up to limit matches with context.
func searchFile(path string, repo Repository, re *regexp.Regexp, limit, contextLines int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	// Binary sniff on the first block; NUL means skip the file.
	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return nil, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(repo.Path, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var matches []Match
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		lo := max(0, i-contextLines)
		hi := min(len(lines), i+contextLines+1)
		ctxLines := make([]string, hi-lo)
		copy(ctxLines, lines[lo:hi])
		matches = append(matches, Match{
			Repository: repo.Name,
			FilePath:   rel,
			LineNumber: i + 1,
			Line:       line,
			Context:    ctxLines,
		})
		if len(matches) >= limit {
			break
		}
	}
	return matches, nil
}
