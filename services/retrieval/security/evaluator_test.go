// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package security

import (
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

func intPtr(v int) *int { return &v }

func TestIsVisible(t *testing.T) {
	tests := []struct {
		name     string
		artifact datatypes.Artifact
		ctx      datatypes.AccessContext
		model    datatypes.SecurityModel
		want     bool
	}{
		{
			name:     "disabled model shows everything",
			artifact: datatypes.Artifact{ACLTags: []string{"team-x"}, ClassificationLabels: []string{"secret"}},
			ctx:      datatypes.AccessContext{},
			model:    datatypes.SecurityModelDisabled,
			want:     true,
		},
		{
			name:     "empty acl tags are public",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{}},
			ctx:      datatypes.AccessContext{},
			model:    datatypes.SecurityModelLabels,
			want:     true,
		},
		{
			name:     "acl OR matches one of several tags",
			artifact: datatypes.Artifact{ACLTags: []string{"team-a", "team-b"}, ClassificationLabels: []string{}},
			ctx:      datatypes.AccessContext{ACLTagsAny: []string{"team-b"}},
			model:    datatypes.SecurityModelLabels,
			want:     true,
		},
		{
			name:     "acl mismatch hides",
			artifact: datatypes.Artifact{ACLTags: []string{"team-a"}, ClassificationLabels: []string{}},
			ctx:      datatypes.AccessContext{ACLTagsAny: []string{"team-b"}},
			model:    datatypes.SecurityModelLabels,
			want:     false,
		},
		{
			name:     "classification subset passes",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{"pii", "internal"}},
			ctx:      datatypes.AccessContext{ClassificationLabelsAll: []string{"pii", "internal", "export"}},
			model:    datatypes.SecurityModelLabels,
			want:     true,
		},
		{
			name:     "one unknown classification label hides",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{"pii", "sox"}},
			ctx:      datatypes.AccessContext{ClassificationLabelsAll: []string{"pii"}},
			model:    datatypes.SecurityModelLabels,
			want:     false,
		},
		{
			name:     "empty classification labels are unclassified",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{}},
			ctx:      datatypes.AccessContext{ClassificationLabelsAll: nil},
			model:    datatypes.SecurityModelLabels,
			want:     true,
		},
		{
			name:     "clearance at ceiling passes",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{}, ClearanceLevel: intPtr(3)},
			ctx:      datatypes.AccessContext{ClearanceLevel: intPtr(3)},
			model:    datatypes.SecurityModelClearance,
			want:     true,
		},
		{
			name:     "clearance above ceiling hides",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{}, ClearanceLevel: intPtr(4)},
			ctx:      datatypes.AccessContext{ClearanceLevel: intPtr(3)},
			model:    datatypes.SecurityModelClearance,
			want:     false,
		},
		{
			name:     "artifact without level visible to anyone",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{}},
			ctx:      datatypes.AccessContext{},
			model:    datatypes.SecurityModelClearance,
			want:     true,
		},
		{
			name:     "context without level sees only unleveled artifacts",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{}, ClearanceLevel: intPtr(1)},
			ctx:      datatypes.AccessContext{},
			model:    datatypes.SecurityModelClearance,
			want:     false,
		},
		{
			name:     "clearance model still applies acl rule",
			artifact: datatypes.Artifact{ACLTags: []string{"team-a"}, ClassificationLabels: []string{}},
			ctx:      datatypes.AccessContext{ACLTagsAny: []string{"team-b"}, ClearanceLevel: intPtr(9)},
			model:    datatypes.SecurityModelClearance,
			want:     false,
		},
		{
			name:     "labels model ignores clearance ceiling",
			artifact: datatypes.Artifact{ACLTags: []string{}, ClassificationLabels: []string{}, ClearanceLevel: intPtr(9)},
			ctx:      datatypes.AccessContext{},
			model:    datatypes.SecurityModelLabels,
			want:     true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := IsVisible(&tc.artifact, &tc.ctx, tc.model)
			if got != tc.want {
				t.Errorf("IsVisible() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsVisible_Deterministic(t *testing.T) {
	artifact := datatypes.Artifact{
		ACLTags:              []string{"team-a", "team-b"},
		ClassificationLabels: []string{"pii"},
		ClearanceLevel:       intPtr(2),
	}
	ctx := datatypes.AccessContext{
		ACLTagsAny:              []string{"team-b"},
		ClassificationLabelsAll: []string{"pii"},
		ClearanceLevel:          intPtr(2),
	}

	first := IsVisible(&artifact, &ctx, datatypes.SecurityModelClearance)
	for i := 0; i < 100; i++ {
		if got := IsVisible(&artifact, &ctx, datatypes.SecurityModelClearance); got != first {
			t.Fatalf("decision changed on repeat evaluation: %v then %v", first, got)
		}
	}
}

func TestFilterVisible(t *testing.T) {
	artifacts := []datatypes.Artifact{
		{CanonicalID: "a", ACLTags: []string{}, ClassificationLabels: []string{}},
		{CanonicalID: "b", ACLTags: []string{"hidden"}, ClassificationLabels: []string{}},
		{CanonicalID: "c", ACLTags: []string{}, ClassificationLabels: []string{}},
	}
	ctx := datatypes.AccessContext{}

	visible, excluded := FilterVisible(artifacts, &ctx, datatypes.SecurityModelLabels)

	gotIDs := make([]string, len(visible))
	for i, a := range visible {
		gotIDs[i] = a.CanonicalID
	}
	if !reflect.DeepEqual(gotIDs, []string{"a", "c"}) {
		t.Errorf("visible ids = %v, want [a c]", gotIDs)
	}
	if !reflect.DeepEqual(excluded, []string{"b"}) {
		t.Errorf("excluded ids = %v, want [b]", excluded)
	}
}
