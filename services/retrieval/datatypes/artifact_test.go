// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"reflect"
	"testing"
)

func validArtifact() Artifact {
	return Artifact{
		CanonicalID:          "repo/pkg/file.go#Fn",
		TenantID:             "snap_0123456789abcdef01234567",
		Kind:                 KindCode,
		SourceLocator:        "pkg/file.go",
		ACLTags:              []string{},
		ClassificationLabels: []string{},
	}
}

func TestArtifact_Validate(t *testing.T) {
	negative := -1

	tests := []struct {
		name    string
		mutate  func(a *Artifact)
		wantErr bool
	}{
		{"valid", func(a *Artifact) {}, false},
		{"missing canonical id", func(a *Artifact) { a.CanonicalID = "" }, true},
		{"missing tenant", func(a *Artifact) { a.TenantID = "" }, true},
		{"unknown kind", func(a *Artifact) { a.Kind = "binary" }, true},
		{"nil acl tags", func(a *Artifact) { a.ACLTags = nil }, true},
		{"nil classification labels", func(a *Artifact) { a.ClassificationLabels = nil }, true},
		{"negative clearance", func(a *Artifact) { a.ClearanceLevel = &negative }, true},
		{"populated labels", func(a *Artifact) {
			a.ACLTags = []string{"team-a"}
			a.ClassificationLabels = []string{"pii"}
		}, false},
		{"sql kind", func(a *Artifact) { a.Kind = KindSQL }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := validArtifact()
			tc.mutate(&a)
			err := a.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEdge_Validate(t *testing.T) {
	tests := []struct {
		name    string
		edge    Edge
		wantErr bool
	}{
		{"valid", Edge{FromID: "a", ToID: "b", Relation: RelationCalls}, false},
		{"missing from", Edge{ToID: "b", Relation: RelationCalls}, true},
		{"missing to", Edge{FromID: "a", Relation: RelationCalls}, true},
		{"unknown relation", Edge{FromID: "a", ToID: "b", Relation: "DependsOn"}, true},
		{"fk relation", Edge{FromID: "t1", ToID: "t2", Relation: RelationForeignKey}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.edge.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRelationSet(t *testing.T) {
	set := NewRelationSet(RelationWritesTo, RelationCalls, RelationReadsFrom)

	if !set.Contains(RelationCalls) {
		t.Error("Contains(Calls) = false, want true")
	}
	if set.Contains(RelationForeignKey) {
		t.Error("Contains(FK) = true, want false")
	}

	want := []RelationType{RelationCalls, RelationReadsFrom, RelationWritesTo}
	if got := set.Sorted(); !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted() = %v, want %v", got, want)
	}
}

func TestAllRelationTypes_ReturnsCopy(t *testing.T) {
	first := AllRelationTypes()
	first[0] = "mutated"
	if got := AllRelationTypes()[0]; got == "mutated" {
		t.Error("AllRelationTypes shares backing storage across calls")
	}
}

func TestSnapshotSet(t *testing.T) {
	set := SnapshotSet{Name: "release-diff", TenantIDs: []string{"snap_a", "snap_b"}}
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if !set.Contains("snap_b") {
		t.Error("Contains(snap_b) = false, want true")
	}
	if set.Contains("snap_c") {
		t.Error("Contains(snap_c) = true, want false")
	}

	empty := SnapshotSet{Name: "empty"}
	if err := empty.Validate(); err == nil {
		t.Error("Validate() of empty set = nil, want error")
	}
}
