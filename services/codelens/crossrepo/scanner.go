// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crossrepo searches literal or regex patterns across every
// repository checked out under a shared root directory.
package crossrepo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Repository is one directory directly under the search root.
type Repository struct {
	Name string
	Path string
}

// Scanner enumerates repositories under a root directory and caches the
// listing until the watcher observes a change at the root level.
//
// # Thread Safety
//
// Safe for concurrent use.
type Scanner struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	repos []Repository
	dirty bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewScanner creates a scanner rooted at root. The fsnotify watcher is
// best-effort: if it cannot be created the scanner still works, it just
// re-lists on every call.
func NewScanner(root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		root:   root,
		logger: logger,
		dirty:  true,
		done:   make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("repository watcher unavailable, caching disabled",
			slog.String("error", err.Error()))
		return s
	}
	if err := watcher.Add(root); err != nil {
		s.logger.Warn("cannot watch repository root, caching disabled",
			slog.String("root", root),
			slog.String("error", err.Error()))
		_ = watcher.Close()
		return s
	}
	s.watcher = watcher
	go s.watch()
	return s
}

func (s *Scanner) watch() {
	for {
		select {
		case <-s.done:
			return
		case _, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.mu.Lock()
			s.dirty = true
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("repository watcher error", slog.String("error", err.Error()))
		}
	}
}

// Repositories returns the current repository list, re-listing the root
// only when the cached listing is stale.
func (s *Scanner) Repositories() ([]Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty && s.watcher != nil {
		out := make([]Repository, len(s.repos))
		copy(out, s.repos)
		return out, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list repository root %s: %w", s.root, err)
	}
	repos := make([]Repository, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		repos = append(repos, Repository{
			Name: entry.Name(),
			Path: filepath.Join(s.root, entry.Name()),
		})
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })

	s.repos = repos
	s.dirty = false
	out := make([]Repository, len(repos))
	copy(out, repos)
	return out, nil
}

// Close stops the watcher goroutine.
func (s *Scanner) Close() {
	close(s.done)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}
