// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package weaviatestore

import (
	"fmt"

	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// rawObject is one artifact payload as returned by a GraphQL Get.
//
// Parsing goes through this closed shape and then into the validated
// datatypes.Artifact; payloads that do not fit are rejected, never
// passed through untyped.
type rawObject map[string]interface{}

// graphQLObjects extracts the object list for the artifact class from a
// GraphQL response.
func graphQLObjects(resp *models.GraphQLResponse) ([]rawObject, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	data, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[ArtifactClassName].([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]rawObject, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}
		out = append(out, m)
	}
	return out, nil
}

// toArtifact maps one payload into the closed artifact schema.
//
// Missing label arrays map to nil so Artifact.Validate flags the
// ingestion defect instead of this adapter papering over it.
func toArtifact(m rawObject) datatypes.Artifact {
	a := datatypes.Artifact{
		CanonicalID:          getString(m, propCanonicalID),
		TenantID:             getString(m, propTenantID),
		Kind:                 datatypes.ArtifactKind(getString(m, propKind)),
		SourceLocator:        getString(m, propSourceLocator),
		OwnerID:              getString(m, propOwnerID),
		SourceSystemID:       getString(m, propSourceSystem),
		ACLTags:              getStringSlice(m, propACLTags),
		ClassificationLabels: getStringSlice(m, propClassification),
	}
	if getBool(m, propHasClearance) {
		level := getInt(m, propClearance)
		a.ClearanceLevel = &level
	}
	return a
}

// additionalScore extracts the backend score from _additional.
//
// BM25 exposes "score" (string-encoded), vector search "certainty".
// Rerank, when requested, overrides both.
func additionalScore(m rawObject) float64 {
	additional, ok := m["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	if rr, ok := additional["rerank"].([]interface{}); ok && len(rr) > 0 {
		if entry, ok := rr[0].(map[string]interface{}); ok {
			if score, ok := entry["score"].(float64); ok {
				return score
			}
		}
	}
	if certainty, ok := additional["certainty"].(float64); ok {
		return certainty
	}
	if score, ok := additional["score"].(string); ok {
		var f float64
		if _, err := fmt.Sscanf(score, "%g", &f); err == nil {
			return f
		}
	}
	if score, ok := additional["score"].(float64); ok {
		return score
	}
	return 0
}

// getString safely extracts a string property.
func getString(m rawObject, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getStringSlice safely extracts a text[] property.
//
// Present-but-empty arrays return an allocated empty slice; an absent
// property returns nil. The distinction matters: nil fails artifact
// validation by design.
func getStringSlice(m rawObject, key string) []string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// getBool safely extracts a boolean property.
func getBool(m rawObject, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// getInt safely extracts an int property (Weaviate returns float64).
func getInt(m rawObject, key string) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}
