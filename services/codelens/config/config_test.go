// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Server.Port != 8085 {
		t.Errorf("port = %d, want 8085", cfg.Server.Port)
	}
	if cfg.VectorStore.Dimension != 3072 {
		t.Errorf("dimension = %d, want 3072", cfg.VectorStore.Dimension)
	}
	if !cfg.Hybrid.EnableDynamicTools || !cfg.Hybrid.FallbackToStatic {
		t.Error("hybrid defaults should enable dynamic tools and fallback")
	}
	if cfg.MCP.Retry.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.MCP.Retry.MaxRetries)
	}
	if cfg.EmbeddingFailures.Threshold != 5 {
		t.Errorf("failure threshold = %d, want 5", cfg.EmbeddingFailures.Threshold)
	}
	if cfg.Database.Enabled {
		t.Error("database should be disabled by default")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	overlay := `server:
  port: 9000
vector-store:
  dimension: 8
crossrepo:
  root: /srv/repos
`
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.VectorStore.Dimension != 8 {
		t.Errorf("dimension = %d, want 8", cfg.VectorStore.Dimension)
	}
	if cfg.CrossRepo.Root != "/srv/repos" {
		t.Errorf("crossrepo root = %s", cfg.CrossRepo.Root)
	}
	// Untouched sections keep their defaults.
	if cfg.LLM.Model != "text-embedding-3-large" {
		t.Errorf("model = %s, defaults lost on overlay", cfg.LLM.Model)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CODELENS_ACCESS_KEY", "secret-key")
	t.Setenv("CODELENS_PORT", "7001")
	t.Setenv("CODELENS_EMBEDDING_URL", "http://embeddings.internal/api")
	t.Setenv("CODELENS_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.AccessKey != "secret-key" {
		t.Error("access key not taken from environment")
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("port = %d, want 7001", cfg.Server.Port)
	}
	if cfg.LLM.EmbeddingURL != "http://embeddings.internal/api" {
		t.Errorf("embedding url = %s", cfg.LLM.EmbeddingURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Logging.Level)
	}
}

func TestAccessKeyNotReadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  access_key: leaked\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.AccessKey != "" {
		t.Errorf("access key = %q, must not load from YAML", cfg.LLM.AccessKey)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		overlay string
	}{
		{"bad dimension", "vector-store:\n  dimension: 0\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"negative retries", "mcp:\n  retry:\n    max-retries: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.overlay), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing explicit config file accepted")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed YAML accepted")
	}
}
