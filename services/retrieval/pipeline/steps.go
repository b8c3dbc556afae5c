// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/expand"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/materialize"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/retry"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/search"
)

// =============================================================================
// Step Parameters (YAML-declared)
// =============================================================================

// SearchParams are the YAML parameters of retrieval.search_nodes.
type SearchParams struct {
	Query      string `yaml:"query"`
	SearchType string `yaml:"search_type"`
	TopK       int    `yaml:"top_k"`
	Rerank     bool   `yaml:"rerank"`
}

// ExpandParams are the YAML parameters of retrieval.expand_tree.
type ExpandParams struct {
	// SeedIDs overrides the stage-1 seeds when set; normally empty and
	// the seeds flow from state.
	SeedIDs []string `yaml:"seed_ids"`

	RelationAllowlist       []string `yaml:"relation_allowlist"`
	MaxDepth                int      `yaml:"max_depth"`
	MaxNodes                int      `yaml:"max_nodes"`
	RequireTravelPermission bool     `yaml:"require_travel_permission"`
}

// FetchParams are the YAML parameters of retrieval.fetch_texts.
type FetchParams struct {
	BudgetTokens       int    `yaml:"budget_tokens"`
	MaxChars           int    `yaml:"max_chars"`
	PrioritizationMode string `yaml:"prioritization_mode"`
}

// =============================================================================
// Executor
// =============================================================================

// Executor dispatches named steps to the stage services.
//
// One Executor serves many requests; it is stateless apart from its
// wired dependencies and safe for concurrent use when they are.
type Executor struct {
	searchSvc *search.Service
	expandSvc *expand.Service
	fetchSvc  *materialize.Service
	graph     ports.GraphProvider
	logger    *slog.Logger
}

// NewExecutor wires the three stage services and the graph port used
// for candidate hydration.
func NewExecutor(searchSvc *search.Service, expandSvc *expand.Service, fetchSvc *materialize.Service, graph ports.GraphProvider, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		searchSvc: searchSvc,
		expandSvc: expandSvc,
		fetchSvc:  fetchSvc,
		graph:     graph,
		logger:    logger,
	}
}

// RunStep executes one named step against the state and returns the
// updated state.
//
// # Description
//
// rawParams is the step's YAML parameter block. Unknown step names fail
// fast. The input state is never mutated; callers use the returned
// state for the next step, which is what makes a retried step
// idempotent.
func (e *Executor) RunStep(ctx context.Context, name string, st *State, rawParams []byte) (*State, error) {
	if st == nil || st.Filters == nil || st.Config == nil {
		return nil, ports.NewConfigError(ports.ReasonInvalidFilters,
			"pipeline state not constructed; call NewState first")
	}

	switch name {
	case StepSearchNodes:
		return e.runSearch(ctx, st, rawParams)
	case StepExpandTree:
		return e.runExpand(ctx, st, rawParams)
	case StepFetchTexts:
		return e.runFetch(ctx, st, rawParams)
	}
	return nil, ports.NewConfigError(ports.ReasonInvalidFilters, "unknown pipeline step %q", name)
}

// runSearch executes retrieval.search_nodes.
func (e *Executor) runSearch(ctx context.Context, st *State, rawParams []byte) (*State, error) {
	var p SearchParams
	if err := decodeParams(rawParams, &p); err != nil {
		return nil, err
	}

	result, err := e.searchSvc.Run(ctx, search.Request{
		Query:      p.Query,
		SearchType: search.Type(p.SearchType),
		TopK:       p.TopK,
		Rerank:     p.Rerank,
	}, st.Filters, st.Config)
	if err != nil {
		return nil, err
	}

	next := st.clone()
	next.Search = result
	return next, nil
}

// runExpand executes retrieval.expand_tree.
func (e *Executor) runExpand(ctx context.Context, st *State, rawParams []byte) (*State, error) {
	var p ExpandParams
	if err := decodeParams(rawParams, &p); err != nil {
		return nil, err
	}

	seeds := p.SeedIDs
	if len(seeds) == 0 && st.Search != nil {
		seeds = st.Search.SeedIDs()
	}

	allowlist := datatypes.NewRelationSet()
	for _, raw := range p.RelationAllowlist {
		rel := datatypes.RelationType(raw)
		if !rel.Valid() {
			return nil, ports.NewConfigError(ports.ReasonMissingAllowlist,
				"relation allowlist contains unknown relation type %q", raw)
		}
		allowlist[rel] = struct{}{}
	}

	graph, err := e.expandSvc.Run(ctx, expand.Request{
		SeedIDs:                 seeds,
		Allowlist:               allowlist,
		MaxDepth:                p.MaxDepth,
		MaxNodes:                p.MaxNodes,
		RequireTravelPermission: p.RequireTravelPermission,
	}, st.Filters, st.Config)
	if err != nil {
		return nil, err
	}

	next := st.clone()
	next.Graph = graph
	return next, nil
}

// runFetch executes retrieval.fetch_texts.
//
// Requires stage-1 output in the state: materialization without the
// seed-derived security context is an ordering violation, not a
// degraded mode.
func (e *Executor) runFetch(ctx context.Context, st *State, rawParams []byte) (*State, error) {
	if st.Search == nil {
		return nil, ports.NewConfigError(ports.ReasonInvalidFilters,
			"%s requires %s to have run first", StepFetchTexts, StepSearchNodes)
	}

	var p FetchParams
	if err := decodeParams(rawParams, &p); err != nil {
		return nil, err
	}

	candidates, err := e.buildCandidates(ctx, st)
	if err != nil {
		return nil, err
	}

	texts, err := e.fetchSvc.Run(ctx, materialize.Request{
		Candidates: candidates,
		Budget: materialize.Budget{
			Tokens:   p.BudgetTokens,
			MaxChars: p.MaxChars,
		},
		Mode: materialize.PrioritizationMode(p.PrioritizationMode),
	}, st.Filters, st.Config)
	if err != nil {
		return nil, err
	}

	next := st.clone()
	next.Texts = texts
	return next, nil
}

// buildCandidates forms the union of seed ids and expanded ids, tagged
// with provenance and hydrated with node attributes.
func (e *Executor) buildCandidates(ctx context.Context, st *State) ([]materialize.Candidate, error) {
	type provenance struct {
		isSeed   bool
		seedRank int
		depth    int
		parentID string
	}

	prov := make(map[string]provenance)
	order := make([]string, 0, len(st.Search.Hits))

	for i, hit := range st.Search.Hits {
		prov[hit.CanonicalID] = provenance{isSeed: true, seedRank: i + 1}
		order = append(order, hit.CanonicalID)
	}
	if st.Graph != nil {
		for _, n := range st.Graph.Nodes {
			if existing, ok := prov[n.CanonicalID]; ok {
				// Seeds keep their rank; adopt graph depth/parent.
				existing.depth = n.Depth
				existing.parentID = n.ParentID
				prov[n.CanonicalID] = existing
				continue
			}
			prov[n.CanonicalID] = provenance{depth: n.Depth, parentID: n.ParentID}
			order = append(order, n.CanonicalID)
		}
	}

	artifacts, err := e.hydrate(ctx, st, order)
	if err != nil {
		return nil, err
	}

	candidates := make([]materialize.Candidate, 0, len(order))
	for _, id := range order {
		a, ok := artifacts[id]
		if !ok {
			// Attributes missing for a known id: localized data error.
			e.logger.Warn("dropping candidate without node attributes",
				"tenant_id", st.Filters.TenantID, "canonical_id", id)
			continue
		}
		p := prov[id]
		candidates = append(candidates, materialize.Candidate{
			Artifact: a,
			IsSeed:   p.isSeed,
			SeedRank: p.seedRank,
			Depth:    p.depth,
			ParentID: p.parentID,
		})
	}
	return candidates, nil
}

// hydrate fetches node attributes for the candidate ids.
func (e *Executor) hydrate(ctx context.Context, st *State, ids []string) (map[string]datatypes.Artifact, error) {
	if len(ids) == 0 {
		return map[string]datatypes.Artifact{}, nil
	}

	var fetched []datatypes.Artifact
	err := retry.Do(ctx, retry.Policy{
		MaxRetries:  st.Config.MaxRetries,
		BaseDelay:   st.Config.RetryBaseDelay,
		CallTimeout: st.Config.CallTimeout,
	}, "graph.nodes", func(ctx context.Context) error {
		var callErr error
		fetched, callErr = e.graph.Nodes(ctx, st.Filters.TenantID, ids)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]datatypes.Artifact, len(fetched))
	for _, a := range fetched {
		if err := a.Validate(); err != nil {
			e.logger.Warn("skipping malformed node payload",
				"tenant_id", st.Filters.TenantID, "error", err)
			continue
		}
		out[a.CanonicalID] = a
	}
	return out, nil
}

// decodeParams strictly decodes a YAML parameter block; unknown keys
// are rejected rather than silently dropped.
func decodeParams(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return ports.NewConfigError(ports.ReasonInvalidFilters,
			"malformed step parameters: %v", err)
	}
	return nil
}

// Describe returns the known step names, for executor registration.
func Describe() []string {
	return []string{StepSearchNodes, StepExpandTree, StepFetchTexts}
}
