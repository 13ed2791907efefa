// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the engine configuration: embedded defaults,
// overridden by an optional YAML file, overridden by environment
// variables for deployment-sensitive values.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the full engine configuration tree.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`

	LLM struct {
		ChatURL      string `yaml:"chat_url"`
		EmbeddingURL string `yaml:"embedding_url"`
		Model        string `yaml:"model"`
		ModelVersion string `yaml:"model_version"`

		// AccessKey is never read from YAML; set CODELENS_ACCESS_KEY.
		AccessKey string `yaml:"-"`
	} `yaml:"llm"`

	VectorStore struct {
		Dimension                   int    `yaml:"dimension"`
		DataDir                     string `yaml:"data-dir"`
		MaxConnections              int    `yaml:"max-connections"`
		EfConstruction              int    `yaml:"ef-construction"`
		Ef                          int    `yaml:"ef"`
		EnableContentPathResolution bool   `yaml:"enable-content-path-resolution"`
		RepositoryRoot              string `yaml:"repository-root"`
	} `yaml:"vector-store"`

	KnowledgeGraph struct {
		Dir        string `yaml:"dir"`
		SourceRoot string `yaml:"source-root"`
		Recursive  bool   `yaml:"recursive"`
	} `yaml:"knowledge-graph"`

	Hybrid struct {
		EnableDynamicTools      bool `yaml:"enable-dynamic-tools"`
		MaxExecutionTimeSeconds int  `yaml:"max-execution-time-seconds"`
		FallbackToStatic        bool `yaml:"fallback-to-static"`
		UseKnowledgeGraph       bool `yaml:"use-knowledge-graph"`
	} `yaml:"hybrid"`

	MCP struct {
		MaxConcurrentExecutions     int `yaml:"max-concurrent-executions"`
		ThreadPoolQueueCapacity     int `yaml:"thread-pool-queue-capacity"`
		ToolExecutionTimeoutSeconds int `yaml:"tool-execution-timeout-seconds"`
		Retry                       struct {
			MaxRetries int `yaml:"max-retries"`
			DelayMs    int `yaml:"delay-ms"`
		} `yaml:"retry"`
	} `yaml:"mcp"`

	CrossRepo struct {
		Root                 string `yaml:"root"`
		ContextLines         int    `yaml:"context-lines"`
		MaxReferencesPerRepo int    `yaml:"max-references-per-repo"`
		ThreadPoolSize       int    `yaml:"thread-pool-size"`
		SearchTimeoutSeconds int    `yaml:"search-timeout-seconds"`
	} `yaml:"crossrepo"`

	Impact struct {
		SourceRoots   []string `yaml:"source-roots"`
		ResourcePaths []string `yaml:"resource-paths"`
		DisableAST    bool     `yaml:"disable-ast"`
	} `yaml:"impact"`

	EmbeddingFailures struct {
		Threshold int `yaml:"threshold"`
	} `yaml:"embedding-failures"`

	Database struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"database"`
}

// Load builds the configuration: embedded defaults, then the YAML file
// at path (optional, "" skips), then environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("embedded defaults are invalid: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides handles the deployment-sensitive values that
// should never live in a checked-in YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CODELENS_ACCESS_KEY"); v != "" {
		cfg.LLM.AccessKey = v
	}
	if v := os.Getenv("CODELENS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CODELENS_CHAT_URL"); v != "" {
		cfg.LLM.ChatURL = v
	}
	if v := os.Getenv("CODELENS_EMBEDDING_URL"); v != "" {
		cfg.LLM.EmbeddingURL = v
	}
	if v := os.Getenv("CODELENS_DATA_DIR"); v != "" {
		cfg.VectorStore.DataDir = v
	}
	if v := os.Getenv("CODELENS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if c.VectorStore.Dimension <= 0 {
		return fmt.Errorf("vector-store.dimension must be positive, got %d", c.VectorStore.Dimension)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.MCP.Retry.MaxRetries < 0 {
		return fmt.Errorf("mcp.retry.max-retries must not be negative")
	}
	return nil
}
