// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weaviatestore adapts a Weaviate instance to the
// RetrievalBackend port.
//
// Multi-tenant isolation is a where-filter on tenantId applied to every
// query, and every call verifies the tenant actually exists before
// searching: an unknown tenant is a ScopeError, never an empty result
// set. Semantic search embeds the query client-side and runs nearVector,
// so no vectorizer module is required server-side.
//
// Caching lives here and only here: a bounded LRU over fetched texts
// and over positive tenant-existence checks. Filtered results are never
// cached, so the core's outputs stay request-scoped.
package weaviatestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
)

// Cache sizes for the adapter-local LRUs.
const (
	textCacheSize   = 2048
	tenantCacheSize = 256
)

// attributeFields are the properties fetched for search candidates.
// Text is deliberately absent: stages 1 and 2 never see it.
var attributeFields = []graphql.Field{
	{Name: propCanonicalID},
	{Name: propTenantID},
	{Name: propKind},
	{Name: propSourceLocator},
	{Name: propOwnerID},
	{Name: propSourceSystem},
	{Name: propACLTags},
	{Name: propClassification},
	{Name: propClearance},
	{Name: propHasClearance},
}

// Compile-time interface implementation check.
var _ ports.RetrievalBackend = (*Backend)(nil)

// Backend implements ports.RetrievalBackend over Weaviate.
//
// Safe for concurrent use: the Weaviate client pools connections and
// the LRU caches are internally locked.
type Backend struct {
	client   *weaviate.Client
	embedder embeddings.Embedder
	logger   *slog.Logger

	textCache    *lru.Cache[string, string]
	knownTenants *lru.Cache[string, struct{}]
}

// New creates a Weaviate-backed retrieval backend.
//
// # Inputs
//
//   - client: connected Weaviate client. Must not be nil.
//   - embedder: query embedder for semantic search. Must not be nil;
//     the stored vectors must come from the same model.
//
// # Outputs
//
//   - *Backend: ready adapter.
//   - error: non-nil when a dependency is missing.
func New(client *weaviate.Client, embedder embeddings.Embedder, logger *slog.Logger) (*Backend, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	textCache, err := lru.New[string, string](textCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating text cache: %w", err)
	}
	knownTenants, err := lru.New[string, struct{}](tenantCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating tenant cache: %w", err)
	}

	return &Backend{
		client:       client,
		embedder:     embedder,
		logger:       logger,
		textCache:    textCache,
		knownTenants: knownTenants,
	}, nil
}

// SearchKeyword implements ports.RetrievalBackend.
func (b *Backend) SearchKeyword(ctx context.Context, tenantID string, q ports.KeywordQuery) ([]ports.Candidate, error) {
	if err := b.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	fields := append(append([]graphql.Field{}, attributeFields...),
		graphql.Field{Name: "_additional { score }"})

	resp, err := b.client.GraphQL().Get().
		WithClassName(ArtifactClassName).
		WithFields(fields...).
		WithBM25(b.client.GraphQL().Bm25ArgBuilder().WithQuery(q.Query)).
		WithWhere(scopeFilter(tenantID, q.Repository, q.SourceSystem)).
		WithLimit(q.TopK).
		Do(ctx)
	if err != nil {
		return nil, classify("search_keyword", err)
	}

	return b.toCandidates(resp, tenantID)
}

// SearchSemantic implements ports.RetrievalBackend.
//
// The query is embedded client-side; when Rerank is set the candidate
// window is re-scored by the server-side reranker module and ordered by
// its score.
func (b *Backend) SearchSemantic(ctx context.Context, tenantID string, q ports.SemanticQuery) ([]ports.Candidate, error) {
	if err := b.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	vector, err := b.embedder.EmbedQuery(ctx, q.Query)
	if err != nil {
		return nil, classify("embed_query", err)
	}

	additional := "_additional { certainty }"
	if q.Rerank {
		additional = fmt.Sprintf("_additional { certainty rerank(query: %q, property: %q) { score } }", q.Query, propText)
	}
	fields := append(append([]graphql.Field{}, attributeFields...),
		graphql.Field{Name: additional})

	resp, err := b.client.GraphQL().Get().
		WithClassName(ArtifactClassName).
		WithFields(fields...).
		WithNearVector(b.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithWhere(scopeFilter(tenantID, q.Repository, q.SourceSystem)).
		WithLimit(q.TopK).
		Do(ctx)
	if err != nil {
		return nil, classify("search_semantic", err)
	}

	return b.toCandidates(resp, tenantID)
}

// FetchText implements ports.RetrievalBackend.
func (b *Backend) FetchText(ctx context.Context, tenantID, canonicalID string) (string, bool, error) {
	if err := b.requireTenant(ctx, tenantID); err != nil {
		return "", false, err
	}

	cacheKey := tenantID + "\x00" + canonicalID
	if text, ok := b.textCache.Get(cacheKey); ok {
		return text, true, nil
	}

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{propTenantID}).WithOperator(filters.Equal).WithValueString(tenantID),
			filters.Where().WithPath([]string{propCanonicalID}).WithOperator(filters.Equal).WithValueString(canonicalID),
		})

	resp, err := b.client.GraphQL().Get().
		WithClassName(ArtifactClassName).
		WithFields(graphql.Field{Name: propText}).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", false, classify("fetch_text", err)
	}

	objects, err := graphQLObjects(resp)
	if err != nil {
		return "", false, classify("fetch_text", err)
	}
	if len(objects) == 0 {
		return "", false, nil
	}
	text := getString(objects[0], propText)
	if text == "" {
		return "", false, nil
	}

	b.textCache.Add(cacheKey, text)
	return text, true, nil
}

// EmbedDocuments embeds a batch of texts with the same model queries
// use. Ingestion tooling calls this so stored vectors and query
// vectors stay comparable.
func (b *Backend) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, classify("embed_documents", err)
	}
	return vectors, nil
}

// Ping verifies the store is reachable and ready.
func (b *Backend) Ping(ctx context.Context) error {
	ready, err := b.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return classify("ping", err)
	}
	if !ready {
		return &ports.TransientError{Op: "ping", Err: errors.New("weaviate reports not ready")}
	}
	return nil
}

// requireTenant fails fast with a ScopeError for empty or unknown
// tenants. Positive results are cached; negatives are re-checked so a
// snapshot ingested mid-request becomes visible.
func (b *Backend) requireTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return ports.NewScopeError(ports.ReasonEmptyTenant, tenantID, "tenant id is required")
	}
	if _, ok := b.knownTenants.Get(tenantID); ok {
		return nil
	}

	resp, err := b.client.GraphQL().Get().
		WithClassName(ArtifactClassName).
		WithFields(graphql.Field{Name: propCanonicalID}).
		WithWhere(filters.Where().
			WithPath([]string{propTenantID}).
			WithOperator(filters.Equal).
			WithValueString(tenantID)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return classify("tenant_check", err)
	}
	objects, err := graphQLObjects(resp)
	if err != nil {
		return classify("tenant_check", err)
	}
	if len(objects) == 0 {
		return ports.NewScopeError(ports.ReasonUnknownTenant, tenantID, "no artifacts stored for tenant")
	}

	b.knownTenants.Add(tenantID, struct{}{})
	return nil
}

// toCandidates parses a search response into validated candidates.
//
// Payloads failing artifact validation are skipped and logged as data
// errors; they never abort the search. Ranks are assigned 1-based in
// the order Weaviate returned the objects.
func (b *Backend) toCandidates(resp *models.GraphQLResponse, tenantID string) ([]ports.Candidate, error) {
	objects, err := graphQLObjects(resp)
	if err != nil {
		return nil, err
	}

	candidates := make([]ports.Candidate, 0, len(objects))
	for _, obj := range objects {
		artifact := toArtifact(obj)
		if err := artifact.Validate(); err != nil {
			b.logger.Warn("skipping malformed search payload",
				"tenant_id", tenantID,
				"canonical_id", artifact.CanonicalID,
				"error", err)
			continue
		}
		candidates = append(candidates, ports.Candidate{
			Artifact: artifact,
			Rank:     len(candidates) + 1,
			Score:    additionalScore(obj),
		})
	}
	return candidates, nil
}

// scopeFilter builds the tenant/repository/source-system where clause
// shared by both searches.
func scopeFilter(tenantID, repository, sourceSystem string) *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{
		filters.Where().WithPath([]string{propTenantID}).WithOperator(filters.Equal).WithValueString(tenantID),
	}
	if repository != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{propRepository}).
			WithOperator(filters.Equal).
			WithValueString(repository))
	}
	if sourceSystem != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{propSourceSystem}).
			WithOperator(filters.Equal).
			WithValueString(sourceSystem))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// classify wraps transport-level failures as transient; everything else
// (GraphQL rejections, embedding errors) surfaces unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &ports.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
