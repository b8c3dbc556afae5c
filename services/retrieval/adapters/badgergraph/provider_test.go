// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgergraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testArtifact(tenantID, id string) datatypes.Artifact {
	return datatypes.Artifact{
		CanonicalID:          id,
		TenantID:             tenantID,
		Kind:                 datatypes.KindCode,
		SourceLocator:        "pkg/" + id + ".go",
		ACLTags:              []string{},
		ClassificationLabels: []string{},
	}
}

func TestPutArtifact_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	level := 2
	in := testArtifact("snap_a", "billing/orders.go#Process")
	in.ACLTags = []string{"team-billing"}
	in.ClassificationLabels = []string{"pii"}
	in.ClearanceLevel = &level
	require.NoError(t, store.PutArtifact(ctx, in))

	got, err := store.Nodes(ctx, "snap_a", []string{"billing/orders.go#Process"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in, got[0])
}

func TestPutArtifact_RejectsInvalid(t *testing.T) {
	store := openTestStore(t)

	bad := testArtifact("snap_a", "x")
	bad.ACLTags = nil
	err := store.PutArtifact(context.Background(), bad)
	assert.Error(t, err, "nil acl tags must be rejected at the write boundary")
}

func TestNodes_UnknownIDsAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutArtifact(ctx, testArtifact("snap_a", "known")))

	got, err := store.Nodes(ctx, "snap_a", []string{"known", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "known", got[0].CanonicalID)
}

func TestNeighbors_BothDirections(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutArtifact(ctx, testArtifact("snap_a", "a")))
	require.NoError(t, store.PutEdge(ctx, "snap_a", datatypes.Edge{
		FromID: "a", ToID: "b", Relation: datatypes.RelationCalls,
	}))
	require.NoError(t, store.PutEdge(ctx, "snap_a", datatypes.Edge{
		FromID: "c", ToID: "a", Relation: datatypes.RelationReadsFrom,
	}))

	allow := datatypes.NewRelationSet(datatypes.AllRelationTypes()...)
	edges, err := store.Neighbors(ctx, "snap_a", []string{"a"}, allow)
	require.NoError(t, err)

	assert.ElementsMatch(t, []datatypes.Edge{
		{FromID: "a", ToID: "b", Relation: datatypes.RelationCalls},
		{FromID: "c", ToID: "a", Relation: datatypes.RelationReadsFrom},
	}, edges)
}

func TestNeighbors_AllowlistFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutArtifact(ctx, testArtifact("snap_a", "a")))
	require.NoError(t, store.PutEdge(ctx, "snap_a", datatypes.Edge{
		FromID: "a", ToID: "b", Relation: datatypes.RelationCalls,
	}))
	require.NoError(t, store.PutEdge(ctx, "snap_a", datatypes.Edge{
		FromID: "a", ToID: "t", Relation: datatypes.RelationWritesTo,
	}))

	edges, err := store.Neighbors(ctx, "snap_a", []string{"a"},
		datatypes.NewRelationSet(datatypes.RelationWritesTo))
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, datatypes.RelationWritesTo, edges[0].Relation)
}

func TestNeighbors_DeduplicatesAndSorts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutArtifact(ctx, testArtifact("snap_a", "a")))
	require.NoError(t, store.PutArtifact(ctx, testArtifact("snap_a", "b")))
	edge := datatypes.Edge{FromID: "a", ToID: "b", Relation: datatypes.RelationCalls}
	require.NoError(t, store.PutEdge(ctx, "snap_a", edge))
	// Re-writing the same edge is idempotent.
	require.NoError(t, store.PutEdge(ctx, "snap_a", edge))

	allow := datatypes.NewRelationSet(datatypes.AllRelationTypes()...)
	// Querying both endpoints sees the edge from both sides; the result
	// still carries it once.
	edges, err := store.Neighbors(ctx, "snap_a", []string{"a", "b"}, allow)
	require.NoError(t, err)
	assert.Equal(t, []datatypes.Edge{edge}, edges)
}

func TestTenantIsolation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutArtifact(ctx, testArtifact("snap_a", "shared-id")))
	require.NoError(t, store.PutArtifact(ctx, testArtifact("snap_b", "other")))
	require.NoError(t, store.PutEdge(ctx, "snap_a", datatypes.Edge{
		FromID: "shared-id", ToID: "dep", Relation: datatypes.RelationCalls,
	}))

	// Tenant B sees neither A's node nor A's edges.
	nodes, err := store.Nodes(ctx, "snap_b", []string{"shared-id"})
	require.NoError(t, err)
	assert.Empty(t, nodes)

	allow := datatypes.NewRelationSet(datatypes.AllRelationTypes()...)
	edges, err := store.Neighbors(ctx, "snap_b", []string{"shared-id"}, allow)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestScopeErrors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	allow := datatypes.NewRelationSet(datatypes.AllRelationTypes()...)

	tests := []struct {
		name       string
		tenantID   string
		wantReason string
	}{
		{"empty tenant", "", ports.ReasonEmptyTenant},
		{"unknown tenant", "snap_never_ingested", ports.ReasonUnknownTenant},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Neighbors(ctx, tc.tenantID, []string{"a"}, allow)
			var scopeErr *ports.ScopeError
			require.ErrorAs(t, err, &scopeErr)
			assert.Equal(t, tc.wantReason, scopeErr.Reason)

			_, err = store.Nodes(ctx, tc.tenantID, []string{"a"})
			require.ErrorAs(t, err, &scopeErr)
			assert.Equal(t, tc.wantReason, scopeErr.Reason)
		})
	}
}

func TestPutEdge_RejectsUnknownRelation(t *testing.T) {
	store := openTestStore(t)

	err := store.PutEdge(context.Background(), "snap_a", datatypes.Edge{
		FromID: "a", ToID: "b", Relation: "DependsOn",
	})
	assert.Error(t, err)
}

func TestPutEdge_RequiresTenant(t *testing.T) {
	store := openTestStore(t)

	err := store.PutEdge(context.Background(), "", datatypes.Edge{
		FromID: "a", ToID: "b", Relation: datatypes.RelationCalls,
	})
	var scopeErr *ports.ScopeError
	require.ErrorAs(t, err, &scopeErr)
	assert.Equal(t, ports.ReasonEmptyTenant, scopeErr.Reason)
}

func TestPing(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}

func TestNeighbors_ContextCancelled(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	allow := datatypes.NewRelationSet(datatypes.AllRelationTypes()...)
	_, err := store.Neighbors(ctx, "snap_a", []string{"a"}, allow)
	assert.ErrorIs(t, err, context.Canceled)
}
