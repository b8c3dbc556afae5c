// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the retrieval core.
//
// The retrieval core deliberately works with closed, explicitly-typed
// structures instead of the free-form metadata dictionaries common in
// vector-store payloads. Every value crossing a port boundary (artifacts,
// edges, filters, stage results) is declared here, validated on receipt,
// and rejected when its shape is unknown.
//
// This file contains the stored data model: artifacts, typed edges, and
// snapshot groupings. Request-scoped filter values live in filters.go and
// stage outputs in results.go.
package datatypes

import (
	"fmt"
	"sort"
)

// =============================================================================
// Artifact Kinds
// =============================================================================

// ArtifactKind classifies what a retrievable artifact is.
type ArtifactKind string

const (
	// KindCode is a source-code fragment (function, class, file chunk).
	KindCode ArtifactKind = "code"

	// KindSQL is a database object (table, view, procedure, trigger).
	KindSQL ArtifactKind = "sql"

	// KindOther is any other retrievable unit (docs, config, schema dumps).
	KindOther ArtifactKind = "other"
)

// Valid reports whether k is one of the closed kind values.
func (k ArtifactKind) Valid() bool {
	switch k {
	case KindCode, KindSQL, KindOther:
		return true
	}
	return false
}

// =============================================================================
// Relation Types
// =============================================================================

// RelationType is a typed, directed relation between two artifacts.
//
// The vocabulary is closed per deployment. Edges carrying a relation type
// outside this set are rejected at the port boundary rather than passed
// through, so graph expansion can rely on the allowlist being exhaustive.
type RelationType string

const (
	// RelationReadsFrom marks code that reads a database object.
	RelationReadsFrom RelationType = "ReadsFrom"

	// RelationWritesTo marks code that writes a database object.
	RelationWritesTo RelationType = "WritesTo"

	// RelationCalls marks a call between code artifacts.
	RelationCalls RelationType = "Calls"

	// RelationExecutes marks code executing a stored procedure or job.
	RelationExecutes RelationType = "Executes"

	// RelationForeignKey marks a foreign-key dependency between tables.
	RelationForeignKey RelationType = "FK"

	// RelationOn marks a dependent object (index, trigger) on its base.
	RelationOn RelationType = "On"

	// RelationSynonymFor marks a synonym pointing at its target object.
	RelationSynonymFor RelationType = "SynonymFor"

	// RelationReferencedBy marks a reverse reference between objects.
	RelationReferencedBy RelationType = "ReferencedBy"
)

// AllRelationTypes returns the full closed relation vocabulary.
//
// The returned slice is a fresh copy; callers may reorder or trim it to
// build an allowlist.
func AllRelationTypes() []RelationType {
	return []RelationType{
		RelationReadsFrom,
		RelationWritesTo,
		RelationCalls,
		RelationExecutes,
		RelationForeignKey,
		RelationOn,
		RelationSynonymFor,
		RelationReferencedBy,
	}
}

// Valid reports whether r is part of the closed vocabulary.
func (r RelationType) Valid() bool {
	for _, known := range AllRelationTypes() {
		if r == known {
			return true
		}
	}
	return false
}

// RelationSet is a set of relation types used as a traversal allowlist.
type RelationSet map[RelationType]struct{}

// NewRelationSet builds a set from the given relation types.
func NewRelationSet(relations ...RelationType) RelationSet {
	set := make(RelationSet, len(relations))
	for _, r := range relations {
		set[r] = struct{}{}
	}
	return set
}

// Contains reports whether r is in the set.
func (s RelationSet) Contains(r RelationType) bool {
	_, ok := s[r]
	return ok
}

// Sorted returns the members in ascending lexical order.
//
// Used wherever the allowlist is serialized (trace records, adapter
// queries) so output is deterministic.
func (s RelationSet) Sorted() []RelationType {
	out := make([]RelationType, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// Artifact
// =============================================================================

// Artifact is one retrievable unit: a source fragment, a database object,
// or any other indexed item belonging to exactly one tenant snapshot.
//
// # Description
//
// Artifacts are created by the ingestion pipeline and are immutable for
// the lifetime of their tenant. The retrieval core only ever reads them.
// Text is lazily fetched in stage 3 and is never attached to stage-1 or
// stage-2 results.
//
// # Fields
//
//   - CanonicalID: Stable, globally unique, tenant-qualified key.
//   - TenantID: The owning snapshot. Never empty.
//   - Kind: Closed classification (code | sql | other).
//   - SourceLocator: File or object path inside the snapshot.
//   - ACLTags: OR-semantics access labels. Empty slice means public.
//   - ClassificationLabels: Subset-semantics sensitivity labels. Empty
//     slice means unclassified.
//   - ClearanceLevel: Optional numeric ceiling. Nil when the deployment
//     does not use the clearance security model.
//   - OwnerID, SourceSystemID: Reserved passthrough metadata with no
//     behavioral contract in this core.
//
// # Invariants
//
// ACLTags and ClassificationLabels must be present as explicit (possibly
// empty) slices. A nil slice is an ingestion defect and Validate rejects
// it rather than treating it as an implicit empty default.
type Artifact struct {
	CanonicalID          string       `json:"canonical_id" validate:"required"`
	TenantID             string       `json:"tenant_id" validate:"required"`
	Kind                 ArtifactKind `json:"kind" validate:"required"`
	SourceLocator        string       `json:"source_locator"`
	ACLTags              []string     `json:"acl_tags"`
	ClassificationLabels []string     `json:"classification_labels"`
	ClearanceLevel       *int         `json:"clearance_level,omitempty"`
	OwnerID              string       `json:"owner_id,omitempty"`
	SourceSystemID       string       `json:"source_system_id,omitempty"`
}

// Validate checks the artifact against the closed schema.
//
// Returns a non-nil error for a missing id or tenant, an unknown kind,
// nil label slices, or a negative clearance level. Adapters call this on
// every payload read from the backing store; a failing artifact is a data
// error (skipped and logged), never silently admitted.
func (a *Artifact) Validate() error {
	if err := coreValidate.Struct(a); err != nil {
		return err
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("artifact %s: unknown kind %q", a.CanonicalID, a.Kind)
	}
	if a.ACLTags == nil {
		return fmt.Errorf("artifact %s: acl_tags absent (ingestion error)", a.CanonicalID)
	}
	if a.ClassificationLabels == nil {
		return fmt.Errorf("artifact %s: classification_labels absent (ingestion error)", a.CanonicalID)
	}
	if a.ClearanceLevel != nil && *a.ClearanceLevel < 0 {
		return fmt.Errorf("artifact %s: negative clearance level %d", a.CanonicalID, *a.ClearanceLevel)
	}
	return nil
}

// =============================================================================
// Edge
// =============================================================================

// Edge is a typed directed relation between two artifacts of one tenant.
//
// Edges never cross tenants; the graph adapter enforces this by storing
// edges under a tenant-scoped key prefix, and Validate re-checks the
// relation type against the closed vocabulary.
type Edge struct {
	FromID   string       `json:"from_id" validate:"required"`
	ToID     string       `json:"to_id" validate:"required"`
	Relation RelationType `json:"relation_type" validate:"required"`
}

// Validate checks the edge shape and relation vocabulary.
func (e *Edge) Validate() error {
	if err := coreValidate.Struct(e); err != nil {
		return err
	}
	if !e.Relation.Valid() {
		return fmt.Errorf("edge %s->%s: unknown relation type %q", e.FromID, e.ToID, e.Relation)
	}
	return nil
}

// =============================================================================
// Snapshot Sets
// =============================================================================

// SnapshotSet is a named, ordered collection of tenant ids.
//
// It exists purely for orchestration ("compare these two snapshots") and
// is not a security or storage scope: every retrieval call still names an
// individual tenant id.
type SnapshotSet struct {
	Name      string   `json:"name" validate:"required"`
	TenantIDs []string `json:"tenant_ids" validate:"required,min=1,dive,required"`
}

// Validate checks that the set is named and non-empty.
func (s *SnapshotSet) Validate() error {
	return coreValidate.Struct(s)
}

// Contains reports whether the set includes the given tenant id.
func (s *SnapshotSet) Contains(tenantID string) bool {
	for _, id := range s.TenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}
