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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/adapters/weaviatestore"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// ingestBatchSize bounds one Weaviate batch call and one embedding
// request.
const ingestBatchSize = 50

// ArtifactRecord is one line of the artifact snapshot file: the
// artifact attributes plus the repository scope and full text.
type ArtifactRecord struct {
	datatypes.Artifact
	Repository string `json:"repository"`
	Text       string `json:"text"`
}

// EdgeRecord is one line of the edges file.
type EdgeRecord struct {
	TenantID string `json:"tenant_id"`
	datatypes.Edge
}

// runIngest loads an artifact snapshot into both stores: embedded and
// batched into Weaviate, attributes and edges into the graph.
//
// Records failing validation abort the whole ingest; a snapshot with
// nil label slices must not become queryable, because reads treat that
// as an ingestion defect and hide the artifact.
func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		records, err := loadArtifactRecords(args[0])
		if err != nil {
			return err
		}

		if err := weaviatestore.EnsureSchema(ctx, a.client); err != nil {
			return err
		}

		indexed := 0
		for i := 0; i < len(records); i += ingestBatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := i + ingestBatchSize
			if end > len(records) {
				end = len(records)
			}
			n, err := a.ingestBatch(ctx, records[i:end])
			if err != nil {
				return err
			}
			indexed += n
			a.logger.Info("ingested batch", "count", end-i, "total_indexed", indexed)
		}

		edges := 0
		if edgesPath != "" {
			edges, err = a.ingestEdges(ctx, edgesPath)
			if err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d artifacts, %d edges\n", indexed, edges)
		return nil
	})
}

// ingestBatch embeds one batch of texts and writes objects plus graph
// attributes.
func (a *app) ingestBatch(ctx context.Context, batch []ArtifactRecord) (int, error) {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Text
	}
	vectors, err := a.backend.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}

	objects := make([]*models.Object, len(batch))
	for i, rec := range batch {
		objects[i] = &models.Object{
			Class:      weaviatestore.ArtifactClassName,
			ID:         weaviatestore.ObjectUUID(rec.TenantID, rec.CanonicalID),
			Properties: weaviatestore.ObjectProperties(rec.Artifact, rec.Repository, rec.Text),
			Vector:     models.C11yVector(vectors[i]),
		}
	}

	result, err := a.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import: %w", err)
	}

	indexed := 0
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors == nil {
			indexed++
		}
	}

	for _, rec := range batch {
		if err := a.graph.PutArtifact(ctx, rec.Artifact); err != nil {
			return indexed, fmt.Errorf("storing graph node %s: %w", rec.CanonicalID, err)
		}
	}
	return indexed, nil
}

// ingestEdges loads the dependency edges file into the graph store.
func (a *app) ingestEdges(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read edges file: %w", err)
	}

	var records []EdgeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("parse edges file: %w", err)
	}

	for i, rec := range records {
		if err := a.graph.PutEdge(ctx, rec.TenantID, rec.Edge); err != nil {
			return i, fmt.Errorf("storing edge %s->%s: %w", rec.FromID, rec.ToID, err)
		}
	}
	return len(records), nil
}

// loadArtifactRecords reads and validates the snapshot file.
func loadArtifactRecords(path string) ([]ArtifactRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifacts file: %w", err)
	}

	var records []ArtifactRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse artifacts file: %w", err)
	}

	for i, rec := range records {
		if err := rec.Artifact.Validate(); err != nil {
			return nil, fmt.Errorf("artifact %d (%s): %w", i, rec.CanonicalID, err)
		}
		if rec.Repository == "" {
			return nil, fmt.Errorf("artifact %d (%s): repository is required", i, rec.CanonicalID)
		}
	}
	return records, nil
}
