// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Stage output types.
//
// Each stage has a hard output contract: stage 1 emits ids only, stage 2
// emits ids and edges only, and only stage 3 ever carries text. These
// types are created fresh per request and discarded afterwards; nothing
// filtered is cached across requests.
package datatypes

import "time"

// RankUnset marks a hit that did not appear in a given search source.
//
// Ranks are 1-based; zero never occurs for a real rank, so it doubles as
// the sentinel.
const RankUnset = 0

// =============================================================================
// Stage 1: SearchResult
// =============================================================================

// SearchHit is one stage-1 result: an artifact id with its scores and
// per-source ranks. Text is never populated here.
type SearchHit struct {
	// CanonicalID identifies the artifact.
	CanonicalID string `json:"canonical_id"`

	// Score is the final score: the backend score for single-source
	// searches or the fused RRF score for hybrid.
	Score float64 `json:"score"`

	// KeywordRank is the 1-based rank in the keyword candidate list, or
	// RankUnset when the hit only appeared semantically.
	KeywordRank int `json:"rank_in_keyword"`

	// SemanticRank is the 1-based rank in the semantic candidate list,
	// or RankUnset when the hit only appeared in keyword search.
	SemanticRank int `json:"rank_in_semantic"`
}

// SearchResult is the ordered stage-1 output.
type SearchResult struct {
	Hits []SearchHit `json:"hits"`
}

// SeedIDs returns the hit ids in result order.
func (r *SearchResult) SeedIDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.CanonicalID
	}
	return ids
}

// =============================================================================
// Stage 2: ExpandedGraph
// =============================================================================

// Truncation reasons reported by graph expansion.
const (
	// TruncationMaxDepth means the depth cap stopped the traversal.
	TruncationMaxDepth = "max_depth_reached"

	// TruncationMaxNodes means the node cap stopped the traversal.
	TruncationMaxNodes = "max_nodes_reached"

	// TruncationEmptySeeds means expansion was asked to start from an
	// empty seed set. An empty graph with this reason is not an error.
	TruncationEmptySeeds = "empty_seed_set"
)

// GraphNode is one expanded node with its traversal provenance.
type GraphNode struct {
	// CanonicalID identifies the artifact.
	CanonicalID string `json:"canonical_id"`

	// Depth is the BFS distance from the nearest seed; seeds are 0.
	Depth int `json:"depth"`

	// ParentID is the node this one was first discovered from. Empty
	// for seeds.
	ParentID string `json:"parent_id,omitempty"`

	// IsSeed marks stage-1 seeds carried into the expansion.
	IsSeed bool `json:"is_seed"`
}

// ExpandedGraph is the stage-2 output: the surviving node set and the
// edges between surviving nodes. Ids only, never text.
//
// Invariant: every edge references two nodes present in Nodes. The
// expansion stage enforces this after security trimming so consumers
// never see dangling edges.
type ExpandedGraph struct {
	Nodes            []GraphNode `json:"nodes"`
	Edges            []Edge      `json:"edges"`
	Truncated        bool        `json:"truncated"`
	TruncationReason string      `json:"truncation_reason,omitempty"`
}

// NodeIDs returns the canonical ids of all surviving nodes in order.
func (g *ExpandedGraph) NodeIDs() []string {
	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.CanonicalID
	}
	return ids
}

// ContainsNode reports whether the graph retained the given id.
func (g *ExpandedGraph) ContainsNode(id string) bool {
	for _, n := range g.Nodes {
		if n.CanonicalID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// Stage 3: MaterializedText
// =============================================================================

// MaterializedEntry is one fully-populated text inclusion.
//
// Entries obey the atomic-skip rule: Text is always the complete,
// unmodified artifact text. A candidate whose full text does not fit the
// remaining budget is dropped entirely, never truncated.
type MaterializedEntry struct {
	CanonicalID string `json:"canonical_id"`
	Text        string `json:"text"`
	IsSeed      bool   `json:"is_seed"`
	Depth       int    `json:"depth"`
	ParentID    string `json:"parent_id,omitempty"`
}

// MaterializedText is the ordered stage-3 output, in priority order.
type MaterializedText struct {
	Entries []MaterializedEntry `json:"entries"`

	// BudgetSpent is the consumed budget in the configured unit
	// (tokens or characters).
	BudgetSpent int `json:"budget_spent"`

	// SkippedOverBudget counts candidates dropped by the atomic-skip
	// rule after the budget was exhausted or because they alone would
	// exceed the remainder.
	SkippedOverBudget int `json:"skipped_over_budget"`

	// SkippedMissingText counts valid ids whose text was absent from
	// the backend. Logged, never fatal.
	SkippedMissingText int `json:"skipped_missing_text"`
}

// =============================================================================
// Trace Records
// =============================================================================

// TraceRecord is the structured observability record each stage emits.
//
// The record is sufficient to reconstruct, after the fact, which security
// decision admitted or rejected each artifact: it carries the applied
// filters, the raw and surviving id counts, and the truncation reason
// when expansion hit a cap.
type TraceRecord struct {
	RecordID         string           `json:"record_id"`
	Stage            string           `json:"stage"`
	Timestamp        time.Time        `json:"timestamp"`
	Filters          RetrievalFilters `json:"filters"`
	InputCount       int              `json:"input_count"`
	OutputCount      int              `json:"output_count"`
	FilteredOut      []string         `json:"filtered_out,omitempty"`
	TruncationReason string           `json:"truncation_reason,omitempty"`
}
