// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements stage 1: resolving a query into an ordered
// list of seed artifact ids.
//
// Stage 1 emits ids, scores, and per-source ranks only, never text.
// Security filtering runs on the raw candidate set before any fusion,
// reranking, or truncation; truncating first could both under-fill a
// page and admit denied artifacts, so the ordering is a hard invariant
// rather than an optimization choice.
package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/rank"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/retry"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/security"
)

// searchTracer is the OpenTelemetry tracer for stage-1 operations.
var searchTracer = otel.Tracer("aleutian.retrieval.search")

// Type selects which search the backend runs.
type Type string

const (
	// TypeSemantic is vector similarity search.
	TypeSemantic Type = "semantic"

	// TypeKeyword is BM25 keyword search.
	TypeKeyword Type = "keyword"

	// TypeHybrid runs both and fuses with RRF.
	TypeHybrid Type = "hybrid"
)

// Valid reports whether t is a known search type.
func (t Type) Valid() bool {
	switch t {
	case TypeSemantic, TypeKeyword, TypeHybrid:
		return true
	}
	return false
}

// Request is one stage-1 invocation.
//
// TopK is required with no implicit default: a missing or non-positive
// value is a configuration error surfaced before any backend call.
type Request struct {
	Query      string
	SearchType Type
	TopK       int
	Rerank     bool
}

// Service resolves queries into seed ids.
//
// Stateless between requests; safe for concurrent use when the backend
// adapter is.
type Service struct {
	backend ports.RetrievalBackend
	logger  *slog.Logger
}

// NewService creates a stage-1 service over the given backend port.
func NewService(backend ports.RetrievalBackend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, logger: logger}
}

// Run executes stage 1.
//
// # Description
//
// Validates the request contract, issues the scoped search(es), applies
// the security filter to the raw candidates, fuses (hybrid only), and
// truncates to TopK last. For hybrid, the keyword and semantic calls run
// concurrently and join before fusion; concurrency never affects result
// order.
//
// # Inputs
//
//   - ctx: request context; cancellation aborts outstanding calls.
//   - req: the query, search type, top_k, and rerank flag.
//   - filters: the immutable per-request filter bundle.
//   - cfg: fusion constant, widen factor, retry policy.
//
// # Outputs
//
//   - *datatypes.SearchResult: ordered hits, ids/scores/ranks only.
//   - error: ConfigError before any I/O on contract violations;
//     ScopeError or wrapped transport failure from the backend.
func (s *Service) Run(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig) (*datatypes.SearchResult, error) {
	ctx, span := searchTracer.Start(ctx, "search.Run")
	defer span.End()
	start := time.Now()

	if err := validateRequest(req, filters, cfg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contract violation")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("search.type", string(req.SearchType)),
		attribute.Int("search.top_k", req.TopK),
		attribute.Bool("search.rerank", req.Rerank),
		attribute.String("tenant.id", filters.TenantID),
	)

	fetchK := req.TopK * cfg.WidenFactor

	var keyword, semantic []ports.Candidate
	var err error
	switch req.SearchType {
	case TypeKeyword:
		keyword, err = s.searchKeyword(ctx, req, filters, cfg, fetchK)
	case TypeSemantic:
		semantic, err = s.searchSemantic(ctx, req, filters, cfg, fetchK)
	case TypeHybrid:
		keyword, semantic, err = s.searchBoth(ctx, req, filters, cfg, fetchK)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend search failed")
		return nil, err
	}

	rawCount := len(keyword) + len(semantic)

	// Filter before rank. Candidates from each source are trimmed
	// independently so the surviving source ranks stay meaningful.
	keyword, excludedK := filterCandidates(keyword, filters)
	semantic, excludedS := filterCandidates(semantic, filters)

	hits := fuseOrProject(req.SearchType, keyword, semantic, cfg.RRFK)
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	result := &datatypes.SearchResult{Hits: hits}

	record := datatypes.TraceRecord{
		RecordID:    uuid.NewString(),
		Stage:       "search_nodes",
		Timestamp:   time.Now().UTC(),
		Filters:     *filters,
		InputCount:  rawCount,
		OutputCount: len(result.Hits),
		FilteredOut: append(excludedK, excludedS...),
	}
	s.logger.Info("stage 1 complete",
		"record_id", record.RecordID,
		"tenant_id", filters.TenantID,
		"search_type", req.SearchType,
		"raw_candidates", record.InputCount,
		"filtered_out", len(record.FilteredOut),
		"hits", record.OutputCount,
	)
	span.SetAttributes(
		attribute.Int("search.raw_candidates", record.InputCount),
		attribute.Int("search.filtered_out", len(record.FilteredOut)),
		attribute.Int("search.hits", record.OutputCount),
	)
	recordSearchMetrics(ctx, time.Since(start), string(req.SearchType), len(record.FilteredOut), record.OutputCount)

	return result, nil
}

// validateRequest enforces the stage-1 contract before any I/O.
func validateRequest(req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig) error {
	if req.TopK <= 0 {
		return ports.NewConfigError(ports.ReasonMissingTopK,
			"top_k is required and must be positive, got %d", req.TopK)
	}
	if !req.SearchType.Valid() {
		return ports.NewConfigError(ports.ReasonUnknownSearchType,
			"unknown search type %q", req.SearchType)
	}
	if req.Rerank && req.SearchType != TypeSemantic {
		return ports.NewConfigError(ports.ReasonRerankNotSemantic,
			"rerank requested with search type %q; rerank requires semantic search", req.SearchType)
	}
	if err := filters.Validate(); err != nil {
		return ports.NewConfigError(ports.ReasonInvalidFilters, "invalid retrieval filters: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return ports.NewConfigError(ports.ReasonInvalidFilters, "invalid retrieval config: %v", err)
	}
	return nil
}

// searchKeyword issues one retried keyword search.
func (s *Service) searchKeyword(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig, fetchK int) ([]ports.Candidate, error) {
	var out []ports.Candidate
	err := retry.Do(ctx, policy(cfg), "backend.search_keyword", func(ctx context.Context) error {
		var callErr error
		out, callErr = s.backend.SearchKeyword(ctx, filters.TenantID, ports.KeywordQuery{
			Query:        req.Query,
			TopK:         fetchK,
			Repository:   filters.Repository,
			SourceSystem: filters.SourceSystem,
		})
		return callErr
	})
	return out, err
}

// searchSemantic issues one retried semantic search.
func (s *Service) searchSemantic(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig, fetchK int) ([]ports.Candidate, error) {
	var out []ports.Candidate
	err := retry.Do(ctx, policy(cfg), "backend.search_semantic", func(ctx context.Context) error {
		var callErr error
		out, callErr = s.backend.SearchSemantic(ctx, filters.TenantID, ports.SemanticQuery{
			Query:        req.Query,
			TopK:         fetchK,
			Repository:   filters.Repository,
			SourceSystem: filters.SourceSystem,
			Rerank:       req.Rerank,
		})
		return callErr
	})
	return out, err
}

// searchBoth runs the keyword and semantic searches concurrently and
// joins before fusion.
func (s *Service) searchBoth(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig, fetchK int) (keyword, semantic []ports.Candidate, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var e error
		keyword, e = s.searchKeyword(gctx, req, filters, cfg, fetchK)
		return e
	})
	g.Go(func() error {
		var e error
		semantic, e = s.searchSemantic(gctx, req, filters, cfg, fetchK)
		return e
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return keyword, semantic, nil
}

// filterCandidates applies the security evaluator to raw candidates and
// re-numbers the surviving ranks so fusion sees dense 1-based positions.
func filterCandidates(cands []ports.Candidate, filters *datatypes.RetrievalFilters) (kept []ports.Candidate, excluded []string) {
	kept = make([]ports.Candidate, 0, len(cands))
	for i := range cands {
		if security.IsVisible(&cands[i].Artifact, &filters.Access, filters.SecurityModel) {
			c := cands[i]
			c.Rank = len(kept) + 1
			kept = append(kept, c)
		} else {
			excluded = append(excluded, cands[i].Artifact.CanonicalID)
		}
	}
	return kept, excluded
}

// fuseOrProject turns the filtered candidate lists into ordered hits.
//
// Hybrid goes through RRF; single-source searches project the backend
// order directly, deduplicated by id keeping the best rank.
func fuseOrProject(t Type, keyword, semantic []ports.Candidate, rrfK int) []datatypes.SearchHit {
	switch t {
	case TypeHybrid:
		fused := rank.Fuse(toRanked(keyword), toRanked(semantic), rrfK)
		hits := make([]datatypes.SearchHit, len(fused))
		for i, f := range fused {
			hits[i] = datatypes.SearchHit{
				CanonicalID:  f.CanonicalID,
				Score:        f.Score,
				KeywordRank:  f.KeywordRank,
				SemanticRank: f.SemanticRank,
			}
		}
		return hits
	case TypeKeyword:
		return projectHits(keyword, true)
	default:
		return projectHits(semantic, false)
	}
}

// toRanked projects candidates into the fusion input shape.
func toRanked(cands []ports.Candidate) []rank.Ranked {
	out := make([]rank.Ranked, len(cands))
	for i, c := range cands {
		out[i] = rank.Ranked{CanonicalID: c.Artifact.CanonicalID, Rank: c.Rank}
	}
	return out
}

// projectHits maps one source list into hits, deduplicating by id.
func projectHits(cands []ports.Candidate, isKeyword bool) []datatypes.SearchHit {
	seen := make(map[string]struct{}, len(cands))
	hits := make([]datatypes.SearchHit, 0, len(cands))
	for _, c := range cands {
		if _, dup := seen[c.Artifact.CanonicalID]; dup {
			continue
		}
		seen[c.Artifact.CanonicalID] = struct{}{}
		h := datatypes.SearchHit{CanonicalID: c.Artifact.CanonicalID, Score: c.Score}
		if isKeyword {
			h.KeywordRank = c.Rank
		} else {
			h.SemanticRank = c.Rank
		}
		hits = append(hits, h)
	}
	return hits
}

// policy derives the shared retry policy from the request config.
func policy(cfg *datatypes.RetrievalConfig) retry.Policy {
	return retry.Policy{
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.CallTimeout,
	}
}
