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
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// minPathResolveOverlap is the token-overlap ratio below which a fuzzy
// path match is rejected. Correctness over a large corpus is dubious,
// which is why resolution ships disabled.
const minPathResolveOverlap = 0.6

// ResolveContentPath attempts to re-associate an unknown file path by
// fuzzy-matching the stored snippet against repository content.
//
// # Description
//
// Walks the configured repository root for files sharing the snippet's
// extension, tokenizes both sides, and returns the repo-relative path of
// the file with the highest token-overlap ratio above the threshold.
// Returns ("", false) when resolution is disabled, the root is unset, or
// no candidate clears the threshold.
//
// This is an expensive fallback: it reads every candidate file once.
func (s *Store) ResolveContentPath(ctx context.Context, meta Metadata) (string, bool) {
	if !s.cfg.EnableContentPathResolution || s.cfg.RepositoryRoot == "" || meta.Content == "" {
		return "", false
	}

	ext := filepath.Ext(meta.FilePath)
	if ext == "" {
		ext = ".java"
	}
	want := tokenSet(meta.Content)
	if len(want) == 0 {
		return "", false
	}

	bestPath, bestScore := "", 0.0
	_ = filepath.WalkDir(s.cfg.RepositoryRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" || name == "target" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ext {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		have := tokenSet(string(raw))
		matched := 0
		for tok := range want {
			if _, ok := have[tok]; ok {
				matched++
			}
		}
		score := float64(matched) / float64(len(want))
		if score > bestScore {
			bestScore = score
			if rel, err := filepath.Rel(s.cfg.RepositoryRoot, path); err == nil {
				bestPath = filepath.ToSlash(rel)
			}
		}
		return nil
	})

	if bestScore < minPathResolveOverlap {
		return "", false
	}
	return bestPath, true
}

// tokenSet splits text into identifier-ish tokens of length >= 3.
func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() >= 3 {
			out[b.String()] = struct{}{}
		}
		b.Reset()
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}
