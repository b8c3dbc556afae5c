// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tenant derives snapshot identities.
//
// A tenant id is content-deterministic: the same repository at the same
// revision (or the same raw content for non-versioned sources) always
// derives the same id, so re-importing identical content lands in the
// existing snapshot instead of duplicating it. Tenants are immutable
// once ingested; a new revision is a new tenant.
package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// idPrefix namespaces tenant ids in the shared stores.
const idPrefix = "snap"

// idHexLen is the retained length of the identity digest.
const idHexLen = 24

// FromRevision derives the tenant id for a versioned source.
//
// The repository name is normalized (trimmed, lowercased) before
// hashing so cosmetic differences in configuration do not split a
// snapshot. The revision is hashed verbatim.
func FromRevision(repository, revision string) (string, error) {
	repo := strings.ToLower(strings.TrimSpace(repository))
	rev := strings.TrimSpace(revision)
	if repo == "" || rev == "" {
		return "", fmt.Errorf("repository and revision are required, got repo=%q rev=%q", repository, revision)
	}

	h := sha256.New()
	// Length-prefix both parts so (a,bc) and (ab,c) cannot collide.
	fmt.Fprintf(h, "%d:%s|%d:%s", len(repo), repo, len(rev), rev)
	return format(h.Sum(nil)), nil
}

// FromContent derives the tenant id for a non-versioned source by
// fingerprinting its full content.
//
// The reader is consumed to EOF. Callers stream the ingested payload
// (e.g. a schema dump) through; identical content always produces the
// identical id.
func FromContent(repository string, content io.Reader) (string, error) {
	repo := strings.ToLower(strings.TrimSpace(repository))
	if repo == "" {
		return "", fmt.Errorf("repository is required")
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d:%s|", len(repo), repo)
	if _, err := io.Copy(h, content); err != nil {
		return "", fmt.Errorf("fingerprinting content: %w", err)
	}
	return format(h.Sum(nil)), nil
}

// format renders a digest as a tenant id.
func format(sum []byte) string {
	return idPrefix + "_" + hex.EncodeToString(sum)[:idHexLen]
}

// NewSnapshotSet builds a validated orchestration grouping.
//
// Duplicate tenant ids collapse to their first occurrence; order is
// otherwise preserved because callers use it ("compare these two" names
// a left and a right side).
func NewSnapshotSet(name string, tenantIDs ...string) (*datatypes.SnapshotSet, error) {
	seen := make(map[string]struct{}, len(tenantIDs))
	ids := make([]string, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	set := &datatypes.SnapshotSet{Name: strings.TrimSpace(name), TenantIDs: ids}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// SortedTenantIDs returns the set's ids in ascending order, for
// deterministic serialization in traces and logs.
func SortedTenantIDs(set *datatypes.SnapshotSet) []string {
	out := make([]string, len(set.TenantIDs))
	copy(out, set.TenantIDs)
	sort.Strings(out)
	return out
}
