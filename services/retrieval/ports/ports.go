// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ports defines the two compile-time-checked interfaces between
// the retrieval core and its external stores.
//
// The stages depend only on these interfaces; exactly one composition
// point (cmd/retrieval) chooses the concrete adapters. Connection
// pooling, transport retries for a single call, and any I/O caching are
// adapter concerns; the core holds no connection state of its own.
package ports

import (
	"context"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// Candidate is one raw search candidate returned by the backend.
//
// Rank is 1-based within the issuing search; Score is backend-native and
// only comparable within one source. The artifact carries the security
// labels the stages re-evaluate; the backend never pre-filters by
// access rights.
type Candidate struct {
	Artifact datatypes.Artifact
	Rank     int
	Score    float64
}

// KeywordQuery scopes a keyword (BM25) search.
type KeywordQuery struct {
	Query        string
	TopK         int
	Repository   string
	SourceSystem string
}

// SemanticQuery scopes a semantic (vector) search.
type SemanticQuery struct {
	Query        string
	TopK         int
	Repository   string
	SourceSystem string

	// Rerank asks the backend for cross-encoder reranking of the
	// candidate window. Only valid for semantic search; the stage
	// enforces that contract before the call is issued.
	Rerank bool
}

// RetrievalBackend is the tenant-scoped search and text store.
//
// # Contract
//
// Every method fails fast with a ScopeError when tenantID is empty or
// unknown; there is no implicit default tenant. Transient transport
// failures are surfaced as TransientError so the stage retry policy can
// distinguish them from scope rejections.
type RetrievalBackend interface {
	// SearchKeyword runs a BM25 keyword search inside one tenant.
	SearchKeyword(ctx context.Context, tenantID string, q KeywordQuery) ([]Candidate, error)

	// SearchSemantic runs a vector similarity search inside one tenant.
	SearchSemantic(ctx context.Context, tenantID string, q SemanticQuery) ([]Candidate, error)

	// FetchText returns the full text of one artifact, or ok=false when
	// the id is valid but no text is stored for it.
	FetchText(ctx context.Context, tenantID, canonicalID string) (text string, ok bool, err error)
}

// GraphProvider is the tenant-scoped property graph.
//
// # Contract
//
// Neighbors returns only edges whose relation type is in the allowlist
// and never crosses tenants. Both directions incident to the given ids
// are returned; the expansion stage decides traversal direction.
//
// Nodes hydrates the security-relevant attributes of graph nodes (ACL
// tags, classification labels, clearance) without text, so the expansion
// stage can re-evaluate visibility itself. Unknown ids are simply absent
// from the result; only transport and scope failures error.
type GraphProvider interface {
	Neighbors(ctx context.Context, tenantID string, ids []string, allow datatypes.RelationSet) ([]datatypes.Edge, error)

	Nodes(ctx context.Context, tenantID string, ids []string) ([]datatypes.Artifact, error)
}
