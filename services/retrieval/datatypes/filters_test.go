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

import "testing"

func validFilters() RetrievalFilters {
	return RetrievalFilters{
		TenantID:      "snap_0123456789abcdef01234567",
		Repository:    "billing-service",
		SecurityModel: SecurityModelLabels,
	}
}

func TestRetrievalFilters_Validate(t *testing.T) {
	negative := -2

	tests := []struct {
		name    string
		mutate  func(f *RetrievalFilters)
		wantErr bool
	}{
		{"valid", func(f *RetrievalFilters) {}, false},
		{"missing tenant", func(f *RetrievalFilters) { f.TenantID = "" }, true},
		{"missing repository", func(f *RetrievalFilters) { f.Repository = "" }, true},
		{"unknown security model", func(f *RetrievalFilters) { f.SecurityModel = "rbac" }, true},
		{"negative clearance under clearance model", func(f *RetrievalFilters) {
			f.SecurityModel = SecurityModelClearance
			f.Access.ClearanceLevel = &negative
		}, true},
		{"negative clearance ignored under labels model", func(f *RetrievalFilters) {
			f.Access.ClearanceLevel = &negative
		}, false},
		{"disabled model", func(f *RetrievalFilters) { f.SecurityModel = SecurityModelDisabled }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := validFilters()
			tc.mutate(&f)
			err := f.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRetrievalConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *RetrievalConfig)
		wantErr bool
	}{
		{"default config missing widen factor", func(c *RetrievalConfig) {}, true},
		{"widen factor set", func(c *RetrievalConfig) { c.WidenFactor = 3 }, false},
		{"zero rrf k", func(c *RetrievalConfig) { c.WidenFactor = 3; c.RRFK = 0 }, true},
		{"negative retries", func(c *RetrievalConfig) { c.WidenFactor = 3; c.MaxRetries = -1 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultRetrievalConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSecurityModel_Valid(t *testing.T) {
	for _, m := range []SecurityModel{SecurityModelDisabled, SecurityModelLabels, SecurityModelClearance} {
		if !m.Valid() {
			t.Errorf("%q.Valid() = false, want true", m)
		}
	}
	if SecurityModel("open").Valid() {
		t.Error(`"open".Valid() = true, want false`)
	}
}
