// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history records processed queries in an embedded BadgerDB so
// support engineers can review past interactions. The store is
// optional: with persistence disabled every operation is a no-op.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Interaction is one processed query.
type Interaction struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Query        string    `json:"query"`
	Success      bool      `json:"success"`
	FallbackUsed bool      `json:"fallback_used"`
	Tools        []string  `json:"tools,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store records interactions and serves them back per session.
type Store interface {
	Record(ctx context.Context, interaction Interaction) error
	BySession(ctx context.Context, sessionID string, limit int) ([]Interaction, error)
	Close() error
}

// NoopStore satisfies Store when database.enabled=false.
type NoopStore struct{}

func (NoopStore) Record(context.Context, Interaction) error { return nil }

func (NoopStore) BySession(context.Context, string, int) ([]Interaction, error) {
	return nil, nil
}

func (NoopStore) Close() error { return nil }

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the embedded persistent implementation.
//
// Keys are "session/<session id>/<rfc3339 nano>/<uuid>" so a prefix
// scan over one session returns interactions in insertion order.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (or creates) the store at path. An empty path opens
// an in-memory database, used by tests.
func OpenBadger(path string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger.With(slog.String("component", "history"))})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

func sessionKey(sessionID, id string, at time.Time) []byte {
	return []byte("session/" + sessionID + "/" + at.UTC().Format(time.RFC3339Nano) + "/" + id)
}

// Record persists one interaction. Missing ids and timestamps are
// filled in.
func (s *BadgerStore) Record(ctx context.Context, interaction Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if interaction.ID == "" {
		interaction.ID = uuid.NewString()
	}
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now().UTC()
	}
	if interaction.SessionID == "" {
		interaction.SessionID = "default"
	}

	raw, err := json.Marshal(interaction)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(interaction.SessionID, interaction.ID, interaction.CreatedAt), raw)
	})
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// BySession returns up to limit interactions for a session, oldest
// first.
func (s *BadgerStore) BySession(ctx context.Context, sessionID string, limit int) ([]Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = "default"
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := []byte("session/" + sessionID + "/")
	var out []Interaction
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var interaction Interaction
				if err := json.Unmarshal(val, &interaction); err != nil {
					return err
				}
				out = append(out, interaction)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read session history: %w", err)
	}
	return out, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
