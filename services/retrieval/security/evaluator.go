// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package security evaluates artifact visibility under an access context.
//
// The evaluator is a pure function with no I/O and no state. Each of the
// three pipeline stages invokes it independently on its own inputs; a
// visibility decision is never computed once and trusted downstream.
//
// Three rules compose by AND:
//
//   - ACL (OR semantics): an empty tag set is public; otherwise at least
//     one artifact tag must intersect the context's acl_tags_any.
//   - Classification (subset semantics): an empty label set is
//     unclassified; otherwise every artifact label must appear in the
//     context's classification_labels_all. One unknown label hides the
//     artifact; there is no partial match.
//   - Clearance (only under the clearance model): an absent artifact
//     level always passes; otherwise the artifact level must not exceed
//     the context level.
//
// Exclusion by these rules is policy, not an error: it is silent to the
// caller and visible only through the stage trace records.
package security

import (
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// IsVisible reports whether the artifact may be shown under the given
// access context and security model.
//
// Pure and total: any artifact and context produce a decision, and
// identical inputs always produce the identical decision. When the model
// is SecurityModelDisabled the result is always true.
func IsVisible(a *datatypes.Artifact, ctx *datatypes.AccessContext, model datatypes.SecurityModel) bool {
	if model == datatypes.SecurityModelDisabled {
		return true
	}
	if !aclVisible(a.ACLTags, ctx.ACLTagsAny) {
		return false
	}
	if !classificationVisible(a.ClassificationLabels, ctx.ClassificationLabelsAll) {
		return false
	}
	if model == datatypes.SecurityModelClearance {
		return clearanceVisible(a.ClearanceLevel, ctx.ClearanceLevel)
	}
	return true
}

// aclVisible applies the OR rule over ACL tags.
func aclVisible(artifactTags, contextTags []string) bool {
	if len(artifactTags) == 0 {
		return true
	}
	for _, t := range artifactTags {
		for _, c := range contextTags {
			if t == c {
				return true
			}
		}
	}
	return false
}

// classificationVisible applies the subset rule over classification
// labels.
func classificationVisible(artifactLabels, allowedLabels []string) bool {
	if len(artifactLabels) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(allowedLabels))
	for _, l := range allowedLabels {
		allowed[l] = struct{}{}
	}
	for _, l := range artifactLabels {
		if _, ok := allowed[l]; !ok {
			return false
		}
	}
	return true
}

// clearanceVisible applies the numeric ceiling.
//
// An artifact without a level is visible to everyone; a context without
// a granted level sees only such artifacts.
func clearanceVisible(artifactLevel, contextLevel *int) bool {
	if artifactLevel == nil {
		return true
	}
	if contextLevel == nil {
		return false
	}
	return *artifactLevel <= *contextLevel
}

// FilterVisible returns the artifacts visible under the context, in
// input order, plus the canonical ids that were excluded.
//
// The excluded ids feed the stage trace records so every rejection can
// be reconstructed after the fact.
func FilterVisible(artifacts []datatypes.Artifact, ctx *datatypes.AccessContext, model datatypes.SecurityModel) (visible []datatypes.Artifact, excluded []string) {
	visible = make([]datatypes.Artifact, 0, len(artifacts))
	for i := range artifacts {
		if IsVisible(&artifacts[i], ctx, model) {
			visible = append(visible, artifacts[i])
		} else {
			excluded = append(excluded, artifacts[i].CanonicalID)
		}
	}
	return visible, excluded
}
