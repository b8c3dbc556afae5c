// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Weaviate class schema for stored artifacts.
//
// One class holds every tenant's artifacts; isolation is enforced by the
// tenantId property filter that every query in this adapter applies.
// The ingestion pipeline creates objects of this class; the retrieval
// core only reads them.
package weaviatestore

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// ArtifactClassName is the Weaviate class holding retrieval artifacts.
const ArtifactClassName = "RetrievalArtifact"

// Artifact property names, shared by queries and the schema.
const (
	propCanonicalID    = "canonicalId"
	propTenantID       = "tenantId"
	propKind           = "kind"
	propSourceLocator  = "sourceLocator"
	propRepository     = "repository"
	propSourceSystem   = "sourceSystemId"
	propOwnerID        = "ownerId"
	propACLTags        = "aclTags"
	propClassification = "classificationLabels"
	propClearance      = "clearanceLevel"
	propHasClearance   = "hasClearanceLevel"
	propText           = "text"
)

// ArtifactClass returns the schema definition for the artifact class.
//
// Clearance is stored as an int plus a presence flag because Weaviate
// has no null numeric; hasClearanceLevel=false means "no level", not
// level zero.
func ArtifactClass() *models.Class {
	return &models.Class{
		Class:       ArtifactClassName,
		Description: "A retrievable artifact: code fragment, database object, or other indexed unit",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: propCanonicalID, DataType: []string{"text"}, Description: "Stable tenant-qualified artifact key"},
			{Name: propTenantID, DataType: []string{"text"}, Description: "Owning snapshot id"},
			{Name: propKind, DataType: []string{"text"}, Description: "code | sql | other"},
			{Name: propSourceLocator, DataType: []string{"text"}, Description: "File or object path"},
			{Name: propRepository, DataType: []string{"text"}, Description: "Repository name inside the snapshot"},
			{Name: propSourceSystem, DataType: []string{"text"}, Description: "Source system id (passthrough)"},
			{Name: propOwnerID, DataType: []string{"text"}, Description: "Owner id (passthrough)"},
			{Name: propACLTags, DataType: []string{"text[]"}, Description: "OR-semantics access tags"},
			{Name: propClassification, DataType: []string{"text[]"}, Description: "Subset-semantics sensitivity labels"},
			{Name: propClearance, DataType: []string{"int"}, Description: "Clearance ceiling; meaningful only with hasClearanceLevel"},
			{Name: propHasClearance, DataType: []string{"boolean"}, Description: "Whether clearanceLevel is set"},
			{Name: propText, DataType: []string{"text"}, Description: "Full artifact text, fetched only in stage 3"},
		},
	}
}

// ObjectProperties builds the property map for one stored artifact.
//
// Property names stay private to this adapter; ingestion tooling calls
// this instead of spelling them out. A nil clearance level becomes
// hasClearanceLevel=false.
func ObjectProperties(a datatypes.Artifact, repository, text string) map[string]interface{} {
	props := map[string]interface{}{
		propCanonicalID:    a.CanonicalID,
		propTenantID:       a.TenantID,
		propKind:           string(a.Kind),
		propSourceLocator:  a.SourceLocator,
		propRepository:     repository,
		propSourceSystem:   a.SourceSystemID,
		propOwnerID:        a.OwnerID,
		propACLTags:        a.ACLTags,
		propClassification: a.ClassificationLabels,
		propHasClearance:   a.ClearanceLevel != nil,
		propText:           text,
	}
	if a.ClearanceLevel != nil {
		props[propClearance] = *a.ClearanceLevel
	}
	return props
}

// ObjectUUID derives the deterministic Weaviate object id for an
// artifact, so re-ingesting a snapshot overwrites rather than
// duplicates.
func ObjectUUID(tenantID, canonicalID string) strfmt.UUID {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenantID+"/"+canonicalID))
	return strfmt.UUID(id.String())
}

// EnsureSchema creates the artifact class when absent.
//
// Idempotent: an existing class is left untouched. Used by local
// tooling and integration tests; production schemas are managed by the
// ingestion deployment.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(ArtifactClassName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("checking %s class: %w", ArtifactClassName, err)
	}
	if exists {
		return nil
	}
	if err := client.Schema().ClassCreator().WithClass(ArtifactClass()).Do(ctx); err != nil {
		return fmt.Errorf("creating %s class: %w", ArtifactClassName, err)
	}
	return nil
}
