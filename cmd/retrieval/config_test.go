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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrieval.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadAppConfig("")
	if err != nil {
		t.Fatalf("LoadAppConfig() error = %v", err)
	}
	if cfg.Weaviate.Host != "localhost:8080" {
		t.Errorf("weaviate host = %q, want localhost:8080", cfg.Weaviate.Host)
	}
	if cfg.Retrieval.RRFK != 60 {
		t.Errorf("rrf_k = %d, want 60", cfg.Retrieval.RRFK)
	}
	// Widen factor has no default; the pipeline rejects it until set.
	if cfg.Retrieval.WidenFactor != 0 {
		t.Errorf("widen_factor = %d, want 0 (unset)", cfg.Retrieval.WidenFactor)
	}
}

func TestLoadAppConfig_LayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
weaviate:
  host: weaviate.internal:8080
retrieval:
  widen_factor: 3
filters:
  tenant_id: snap_abc
  repository: billing-service
  security_model: labels
  access:
    acl_tags_any: [team-billing]
`)

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig() error = %v", err)
	}
	if cfg.Weaviate.Host != "weaviate.internal:8080" {
		t.Errorf("host = %q, want the configured value", cfg.Weaviate.Host)
	}
	if cfg.Weaviate.Scheme != "http" {
		t.Errorf("scheme = %q, want the default http", cfg.Weaviate.Scheme)
	}
	if cfg.Retrieval.WidenFactor != 3 {
		t.Errorf("widen_factor = %d, want 3", cfg.Retrieval.WidenFactor)
	}

	filters := cfg.RetrievalFilters()
	if filters.TenantID != "snap_abc" || filters.Repository != "billing-service" {
		t.Errorf("filters scope = (%q, %q)", filters.TenantID, filters.Repository)
	}
	if filters.SecurityModel != datatypes.SecurityModelLabels {
		t.Errorf("security model = %q, want labels", filters.SecurityModel)
	}
	if len(filters.Access.ACLTagsAny) != 1 || filters.Access.ACLTagsAny[0] != "team-billing" {
		t.Errorf("acl tags = %v", filters.Access.ACLTagsAny)
	}
	if err := filters.Validate(); err != nil {
		t.Errorf("configured filters failed validation: %v", err)
	}
}

func TestLoadAppConfig_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "retrieval:\n  widen_facotr: 3\n")
	if _, err := LoadAppConfig(path); err == nil {
		t.Error("misspelled key accepted; typos must not fall back to defaults")
	}
}

func TestLoadAppConfig_MissingFile(t *testing.T) {
	if _, err := LoadAppConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestLoadArtifactRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifacts.json")
	content := `[
  {
    "canonical_id": "billing/orders.go#Process",
    "tenant_id": "snap_abc",
    "kind": "code",
    "source_locator": "billing/orders.go",
    "acl_tags": [],
    "classification_labels": [],
    "repository": "billing-service",
    "text": "func Process() {}"
  }
]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	records, err := loadArtifactRecords(path)
	if err != nil {
		t.Fatalf("loadArtifactRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Text != "func Process() {}" || records[0].Repository != "billing-service" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestLoadArtifactRecords_RejectsMissingLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifacts.json")
	// acl_tags absent: the whole ingest must abort, not skip the record.
	content := `[
  {
    "canonical_id": "x",
    "tenant_id": "snap_abc",
    "kind": "code",
    "classification_labels": [],
    "repository": "billing-service",
    "text": "t"
  }
]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadArtifactRecords(path); err == nil {
		t.Error("record without acl_tags accepted")
	}
}

func TestLoadArtifactRecords_RejectsMissingRepository(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifacts.json")
	content := `[
  {
    "canonical_id": "x",
    "tenant_id": "snap_abc",
    "kind": "code",
    "acl_tags": [],
    "classification_labels": [],
    "text": "t"
  }
]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadArtifactRecords(path); err == nil {
		t.Error("record without repository accepted")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in test environment")
	}
	if got := expandPath("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("expandPath(~/x) = %q", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath(/abs/path) = %q", got)
	}
}
