// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expand implements stage 2: bounded breadth-first expansion of
// the dependency graph around the stage-1 seeds.
//
// Traversal is deterministic: within each depth level newly discovered
// ids are processed in ascending canonical-id order, so hitting the node
// cap truncates at a reproducible point. Per-level neighbor lookups may
// fan out concurrently; results are merged and re-sorted before the next
// level proceeds, so concurrency affects latency only.
//
// Security trimming supports two policies. Lenient keeps any node that
// is individually visible, however it was reached. Strict ("travel
// permission") treats a denied node as a wall: expansion never continues
// past it, so nodes reachable only through a denied node are excluded
// even when they would individually pass the filter.
package expand

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/retry"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/security"
)

// expandTracer is the OpenTelemetry tracer for stage-2 operations.
var expandTracer = otel.Tracer("aleutian.retrieval.expand")

// neighborFanout is the frontier chunk size for concurrent per-level
// neighbor lookups.
const neighborFanout = 32

// Request is one stage-2 invocation.
//
// MaxDepth, MaxNodes, and Allowlist are all required; a missing value is
// a hard configuration error, never a silent unlimited expansion.
type Request struct {
	// SeedIDs are the stage-1 seeds, in rank order.
	SeedIDs []string

	// Allowlist restricts which relation types are traversed.
	Allowlist datatypes.RelationSet

	// MaxDepth is the hop cap from the nearest seed.
	MaxDepth int

	// MaxNodes caps the total visited nodes, seeds included.
	MaxNodes int

	// RequireTravelPermission selects strict trimming.
	RequireTravelPermission bool
}

// Service expands seeds over the graph provider port.
type Service struct {
	graph  ports.GraphProvider
	logger *slog.Logger
}

// NewService creates a stage-2 service over the given graph port.
func NewService(graph ports.GraphProvider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{graph: graph, logger: logger}
}

// Run executes stage 2.
//
// # Description
//
// Validates the traversal caps, walks the graph breadth-first under the
// relation allowlist, applies the selected security-trimming policy, and
// drops every edge whose endpoints did not both survive. Output carries
// ids and edges only, plus truncation metadata for observability.
//
// An empty seed set returns an empty graph with an explicit reason; it
// is not an error.
//
// # Outputs
//
//   - *datatypes.ExpandedGraph: surviving nodes/edges, no dangling
//     edges, Truncated set when a cap stopped the walk.
//   - error: ConfigError before any I/O on missing caps; ScopeError or
//     wrapped transport failure from the provider.
func (s *Service) Run(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig) (*datatypes.ExpandedGraph, error) {
	ctx, span := expandTracer.Start(ctx, "expand.Run")
	defer span.End()

	if err := validateRequest(req, filters, cfg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contract violation")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("tenant.id", filters.TenantID),
		attribute.Int("expand.seeds", len(req.SeedIDs)),
		attribute.Int("expand.max_depth", req.MaxDepth),
		attribute.Int("expand.max_nodes", req.MaxNodes),
		attribute.Bool("expand.travel_permission", req.RequireTravelPermission),
	)

	if len(req.SeedIDs) == 0 {
		s.logger.Info("stage 2: empty seed set, returning empty graph",
			"tenant_id", filters.TenantID)
		return &datatypes.ExpandedGraph{
			Nodes:            []datatypes.GraphNode{},
			Edges:            []datatypes.Edge{},
			TruncationReason: datatypes.TruncationEmptySeeds,
		}, nil
	}

	walk, err := s.traverse(ctx, req, filters, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "traversal failed")
		return nil, err
	}

	graph, excluded := s.trim(walk, req, filters)

	record := datatypes.TraceRecord{
		RecordID:         uuid.NewString(),
		Stage:            "expand_dependency_tree",
		Timestamp:        time.Now().UTC(),
		Filters:          *filters,
		InputCount:       len(walk.nodes),
		OutputCount:      len(graph.Nodes),
		FilteredOut:      excluded,
		TruncationReason: graph.TruncationReason,
	}
	s.logger.Info("stage 2 complete",
		"record_id", record.RecordID,
		"tenant_id", filters.TenantID,
		"visited", record.InputCount,
		"surviving", record.OutputCount,
		"filtered_out", len(excluded),
		"truncated", graph.Truncated,
		"truncation_reason", graph.TruncationReason,
	)
	span.SetAttributes(
		attribute.Int("expand.visited", record.InputCount),
		attribute.Int("expand.surviving", record.OutputCount),
		attribute.Bool("expand.truncated", graph.Truncated),
	)

	return graph, nil
}

// validateRequest enforces the stage-2 contract before any I/O.
func validateRequest(req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig) error {
	if req.MaxDepth <= 0 || req.MaxNodes <= 0 {
		return ports.NewConfigError(ports.ReasonMissingCaps,
			"max_depth and max_nodes are required, got depth=%d nodes=%d", req.MaxDepth, req.MaxNodes)
	}
	if len(req.Allowlist) == 0 {
		return ports.NewConfigError(ports.ReasonMissingAllowlist,
			"relation allowlist is required and must be non-empty")
	}
	if err := filters.Validate(); err != nil {
		return ports.NewConfigError(ports.ReasonInvalidFilters, "invalid retrieval filters: %v", err)
	}
	return nil
}

// walkState is the raw traversal result before trimming.
type walkState struct {
	// nodes maps id to its traversal provenance.
	nodes map[string]datatypes.GraphNode

	// artifacts maps id to the hydrated node attributes.
	artifacts map[string]datatypes.Artifact

	// edges are all allowlisted edges seen between visited nodes.
	edges []datatypes.Edge

	truncated bool
	reason    string
}

// traverse walks the graph breadth-first from the seeds.
//
// In strict mode visibility is evaluated during the walk and denied
// nodes are never expanded. In lenient mode the walk is raw and the
// security decision is deferred to trim.
func (s *Service) traverse(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig) (*walkState, error) {
	walk := &walkState{
		nodes:     make(map[string]datatypes.GraphNode),
		artifacts: make(map[string]datatypes.Artifact),
	}

	seeds := dedupePreserveOrder(req.SeedIDs)
	if err := s.hydrate(ctx, filters, cfg, seeds, walk); err != nil {
		return nil, err
	}

	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if len(walk.nodes) >= req.MaxNodes {
			walk.truncated = true
			walk.reason = datatypes.TruncationMaxNodes
			break
		}
		if req.RequireTravelPermission && !s.visible(id, walk, filters) {
			// Denied seeds are walls: recorded nowhere, expanded never.
			continue
		}
		walk.nodes[id] = datatypes.GraphNode{CanonicalID: id, Depth: 0, IsSeed: true}
		frontier = append(frontier, id)
	}

	seenEdges := make(map[edgeKey]struct{})

	for depth := 1; depth <= req.MaxDepth && len(frontier) > 0 && !walk.truncated; depth++ {
		edges, err := s.neighborsConcurrent(ctx, filters, cfg, frontier, req.Allowlist)
		if err != nil {
			return nil, err
		}

		discovered := make(map[string]string) // id -> parent
		for _, e := range edges {
			if err := e.Validate(); err != nil {
				// Malformed edge: localized data error, skip and log.
				s.logger.Warn("skipping malformed edge",
					"tenant_id", filters.TenantID, "error", err)
				continue
			}
			if !req.Allowlist.Contains(e.Relation) {
				continue
			}
			key := edgeKey{e.FromID, e.ToID, e.Relation}
			if _, dup := seenEdges[key]; !dup {
				seenEdges[key] = struct{}{}
				walk.edges = append(walk.edges, e)
			}
			for child, parent := range neighborPairs(e, walk.nodes) {
				if _, pending := discovered[child]; !pending {
					discovered[child] = parent
				}
			}
		}

		// Deterministic level order: ascending canonical id.
		next := make([]string, 0, len(discovered))
		for id := range discovered {
			next = append(next, id)
		}
		sort.Strings(next)

		if err := s.hydrate(ctx, filters, cfg, next, walk); err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, id := range next {
			if len(walk.nodes) >= req.MaxNodes {
				walk.truncated = true
				walk.reason = datatypes.TruncationMaxNodes
				break
			}
			if req.RequireTravelPermission && !s.visible(id, walk, filters) {
				continue
			}
			walk.nodes[id] = datatypes.GraphNode{
				CanonicalID: id,
				Depth:       depth,
				ParentID:    discovered[id],
			}
			frontier = append(frontier, id)
		}

	}

	if !walk.truncated && len(frontier) > 0 {
		more, err := s.frontierHasMore(ctx, req, filters, cfg, frontier, walk)
		if err != nil {
			return nil, err
		}
		if more {
			walk.truncated = true
			walk.reason = datatypes.TruncationMaxDepth
		}
	}

	return walk, nil
}

// frontierHasMore reports whether any allowlisted edge from the final
// frontier reaches a node the walk never discovered, so the depth cap
// actually cut something off. The probed neighbors are not admitted or
// evaluated; the cap stopped the walk before they could be considered.
func (s *Service) frontierHasMore(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig, frontier []string, walk *walkState) (bool, error) {
	edges, err := s.neighborsConcurrent(ctx, filters, cfg, frontier, req.Allowlist)
	if err != nil {
		return false, err
	}
	for _, e := range edges {
		if e.Validate() != nil || !req.Allowlist.Contains(e.Relation) {
			continue
		}
		if len(neighborPairs(e, walk.nodes)) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// neighborsConcurrent fans the frontier out in fixed-size chunks, joins,
// and returns a deterministically ordered edge list.
func (s *Service) neighborsConcurrent(ctx context.Context, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig, frontier []string, allow datatypes.RelationSet) ([]datatypes.Edge, error) {
	chunks := chunk(frontier, neighborFanout)
	results := make([][]datatypes.Edge, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, ids := range chunks {
		g.Go(func() error {
			return retry.Do(gctx, retry.Policy{
				MaxRetries:  cfg.MaxRetries,
				BaseDelay:   cfg.RetryBaseDelay,
				CallTimeout: cfg.CallTimeout,
			}, "graph.neighbors", func(ctx context.Context) error {
				edges, err := s.graph.Neighbors(ctx, filters.TenantID, ids, allow)
				if err != nil {
					return err
				}
				results[i] = edges
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []datatypes.Edge
	for _, edges := range results {
		merged = append(merged, edges...)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.Relation < b.Relation
	})
	return merged, nil
}

// hydrate fetches node attributes for ids not yet cached in the walk.
func (s *Service) hydrate(ctx context.Context, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig, ids []string, walk *walkState) error {
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := walk.artifacts[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var fetched []datatypes.Artifact
	err := retry.Do(ctx, retry.Policy{
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.CallTimeout,
	}, "graph.nodes", func(ctx context.Context) error {
		var callErr error
		fetched, callErr = s.graph.Nodes(ctx, filters.TenantID, missing)
		return callErr
	})
	if err != nil {
		return err
	}
	for _, a := range fetched {
		if err := a.Validate(); err != nil {
			s.logger.Warn("skipping malformed graph node",
				"tenant_id", filters.TenantID, "error", err)
			continue
		}
		walk.artifacts[a.CanonicalID] = a
	}
	return nil
}

// visible evaluates one hydrated node against the security filter.
//
// A node whose attributes could not be hydrated is treated as denied:
// without labels there is nothing to evaluate, and admitting it would
// bypass the filter.
func (s *Service) visible(id string, walk *walkState, filters *datatypes.RetrievalFilters) bool {
	a, ok := walk.artifacts[id]
	if !ok {
		return false
	}
	return security.IsVisible(&a, &filters.Access, filters.SecurityModel)
}

// trim applies lenient security trimming (strict mode already trimmed
// during traversal) and enforces the no-dangling-edges invariant.
func (s *Service) trim(walk *walkState, req Request, filters *datatypes.RetrievalFilters) (*datatypes.ExpandedGraph, []string) {
	var excluded []string

	surviving := make(map[string]datatypes.GraphNode, len(walk.nodes))
	for id, node := range walk.nodes {
		if !req.RequireTravelPermission && !s.visible(id, walk, filters) {
			excluded = append(excluded, id)
			continue
		}
		surviving[id] = node
	}

	nodes := make([]datatypes.GraphNode, 0, len(surviving))
	for _, n := range surviving {
		nodes = append(nodes, n)
	}
	// Seeds first in discovery order is not reconstructible from a map;
	// order by depth then id, which is deterministic and stable for
	// downstream prioritization.
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		return nodes[i].CanonicalID < nodes[j].CanonicalID
	})

	edges := make([]datatypes.Edge, 0, len(walk.edges))
	for _, e := range walk.edges {
		if _, ok := surviving[e.FromID]; !ok {
			continue
		}
		if _, ok := surviving[e.ToID]; !ok {
			continue
		}
		edges = append(edges, e)
	}

	sort.Strings(excluded)
	return &datatypes.ExpandedGraph{
		Nodes:            nodes,
		Edges:            edges,
		Truncated:        walk.truncated,
		TruncationReason: walk.reason,
	}, excluded
}

// edgeKey deduplicates edges during traversal.
type edgeKey struct {
	from, to string
	rel      datatypes.RelationType
}

// neighborPairs maps each undiscovered endpoint of an edge to the
// visited endpoint that exposed it, keyed child id -> parent id. An
// edge with both endpoints visited yields nothing.
func neighborPairs(e datatypes.Edge, visited map[string]datatypes.GraphNode) map[string]string {
	out := make(map[string]string, 1)
	_, fromSeen := visited[e.FromID]
	_, toSeen := visited[e.ToID]
	if fromSeen && !toSeen {
		out[e.ToID] = e.FromID
	}
	if toSeen && !fromSeen {
		out[e.FromID] = e.ToID
	}
	return out
}

// dedupePreserveOrder removes duplicate seed ids keeping first position.
func dedupePreserveOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// chunk splits ids into fixed-size groups for fan-out.
func chunk(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
