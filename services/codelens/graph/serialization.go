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
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Snapshot file format: 4-byte magic, 1-byte format version, gob payload.
var snapshotMagic = []byte("CLKG")

const snapshotVersion byte = 1

// ErrSnapshotFormat reports a magic or version mismatch. The offending
// file is quarantined, never silently overwritten.
var ErrSnapshotFormat = errors.New("unrecognized knowledge graph snapshot format")

// snapshotPayload is the gob-encoded body of a snapshot file.
type snapshotPayload struct {
	Entities      []*Entity
	Relationships []*Relationship
	SavedAt       time.Time
}

// Save writes the graph to path atomically (temp file + rename).
func (g *KnowledgeGraph) Save(path string) error {
	entities, rels := g.snapshot()

	var buf bytes.Buffer
	buf.Write(snapshotMagic)
	buf.WriteByte(snapshotVersion)
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(snapshotPayload{
		Entities:      entities,
		Relationships: rels,
		SavedAt:       time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("encode knowledge graph: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load replaces the graph's contents from a snapshot file.
//
// # Description
//
// A missing file is not an error; the graph stays empty. On a magic or
// version mismatch the file is renamed aside with a .quarantine suffix
// and ErrSnapshotFormat is returned so the caller can rebuild from
// source. Edges whose endpoints are missing from the entity set are
// dropped and counted in the log line.
func (g *KnowledgeGraph) Load(path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	if len(raw) < len(snapshotMagic)+1 || !bytes.Equal(raw[:len(snapshotMagic)], snapshotMagic) {
		return g.quarantine(path, logger, "bad magic")
	}
	if version := raw[len(snapshotMagic)]; version != snapshotVersion {
		return g.quarantine(path, logger, fmt.Sprintf("version %d", version))
	}

	var payload snapshotPayload
	dec := gob.NewDecoder(bytes.NewReader(raw[len(snapshotMagic)+1:]))
	if err := dec.Decode(&payload); err != nil {
		return g.quarantine(path, logger, err.Error())
	}

	orphans := g.replace(payload.Entities, payload.Relationships)
	entities, rels := g.Counts()
	logger.Info("knowledge graph loaded",
		slog.String("path", path),
		slog.Int("entities", entities),
		slog.Int("relationships", rels),
		slog.Int("orphan_edges_dropped", orphans))
	return nil
}

// quarantine renames an unreadable snapshot aside so a rebuild can
// overwrite cleanly while the evidence is preserved.
func (g *KnowledgeGraph) quarantine(path string, logger *slog.Logger, reason string) error {
	quarantined := path + ".quarantine"
	if err := os.Rename(path, quarantined); err != nil {
		logger.Error("failed to quarantine snapshot",
			slog.String("path", path),
			slog.String("error", err.Error()))
	} else {
		logger.Warn("quarantined unreadable knowledge graph snapshot",
			slog.String("path", quarantined),
			slog.String("reason", reason))
	}
	return fmt.Errorf("%w: %s", ErrSnapshotFormat, reason)
}
