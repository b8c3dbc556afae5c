// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRetrieval/pkg/logging"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// AppConfig is the deployment configuration loaded from YAML.
//
// Per-request knobs (query, caps, budget) arrive as pipeline step
// params or CLI flags; this file carries the things that do not change
// between requests: endpoints, the security scope, and the retrieval
// tunables including the deployment-owned widen factor.
type AppConfig struct {
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Graph     GraphConfig     `yaml:"graph"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Filters   FiltersConfig   `yaml:"filters"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// WeaviateConfig locates the vector store.
type WeaviateConfig struct {
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
}

// EmbedderConfig locates the OpenAI-compatible embedding endpoint.
//
// Local deployments point this at Ollama's compatibility endpoint; no
// API token is required for those.
type EmbedderConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Token   string `yaml:"token"`
}

// GraphConfig locates the embedded dependency graph.
type GraphConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// RetrievalConfig mirrors datatypes.RetrievalConfig in YAML form.
type RetrievalConfig struct {
	RRFK           int           `yaml:"rrf_k"`
	WidenFactor    int           `yaml:"widen_factor"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

// FiltersConfig mirrors datatypes.RetrievalFilters in YAML form.
type FiltersConfig struct {
	TenantID      string       `yaml:"tenant_id"`
	Repository    string       `yaml:"repository"`
	SourceSystem  string       `yaml:"source_system"`
	SecurityModel string       `yaml:"security_model"`
	Access        AccessConfig `yaml:"access"`
}

// AccessConfig mirrors datatypes.AccessContext in YAML form.
type AccessConfig struct {
	ACLTagsAny              []string `yaml:"acl_tags_any"`
	ClassificationLabelsAll []string `yaml:"classification_labels_all"`
	ClearanceLevel          *int     `yaml:"clearance_level"`
}

// PipelineConfig declares the ordered steps of the run command.
type PipelineConfig struct {
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig is one named step with its raw parameter block. Params
// stays un-decoded here; the executor owns each step's schema.
type StepConfig struct {
	Name   string    `yaml:"name"`
	Params yaml.Node `yaml:"params"`
}

// DefaultAppConfig returns local-stack defaults. WidenFactor is left
// zero on purpose: every deployment must set it explicitly.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Weaviate: WeaviateConfig{Scheme: "http", Host: "localhost:8080"},
		Embedder: EmbedderConfig{
			BaseURL: "http://localhost:11434/v1",
			Model:   "nomic-embed-text",
			Token:   "none",
		},
		Graph:   GraphConfig{Path: "~/.aleutian/retrieval/graph"},
		Logging: LoggingConfig{Level: "info"},
		Retrieval: RetrievalConfig{
			RRFK:           60,
			MaxRetries:     3,
			RetryBaseDelay: 1 * time.Second,
			CallTimeout:    30 * time.Second,
		},
	}
}

// LoadAppConfig reads and decodes the YAML config file, layered over
// defaults. Unknown keys are rejected so a typo cannot silently fall
// back to a default.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// RetrievalConfig converts to the datatypes form consumed by the
// stages.
func (c *AppConfig) RetrievalConfig() *datatypes.RetrievalConfig {
	return &datatypes.RetrievalConfig{
		RRFK:           c.Retrieval.RRFK,
		WidenFactor:    c.Retrieval.WidenFactor,
		MaxRetries:     c.Retrieval.MaxRetries,
		RetryBaseDelay: c.Retrieval.RetryBaseDelay,
		CallTimeout:    c.Retrieval.CallTimeout,
	}
}

// RetrievalFilters converts the configured scope to the datatypes
// form. Validation happens in NewState, not here.
func (c *AppConfig) RetrievalFilters() *datatypes.RetrievalFilters {
	return &datatypes.RetrievalFilters{
		TenantID:      c.Filters.TenantID,
		Repository:    c.Filters.Repository,
		SourceSystem:  c.Filters.SourceSystem,
		SecurityModel: datatypes.SecurityModel(c.Filters.SecurityModel),
		Access: datatypes.AccessContext{
			ACLTagsAny:              c.Filters.Access.ACLTagsAny,
			ClassificationLabelsAll: c.Filters.Access.ClassificationLabelsAll,
			ClearanceLevel:          c.Filters.Access.ClearanceLevel,
		},
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// LoggerConfig converts the logging section to pkg/logging form.
func (c *AppConfig) LoggerConfig() logging.Config {
	level := logging.LevelInfo
	switch c.Logging.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: "retrieval",
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}
