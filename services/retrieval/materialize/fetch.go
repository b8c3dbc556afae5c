// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package materialize implements stage 3: fetching artifact text for a
// prioritized candidate set under a token or character budget.
//
// Inclusion is atomic. An artifact either arrives with its complete,
// unmodified text or it is dropped; no truncated fragment is ever
// emitted, even when a partial body would still fit the remaining
// budget. The security filter runs here once more; stage 3 never
// assumes earlier stages filtered correctly.
package materialize

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/retry"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/security"
)

// materializeTracer is the OpenTelemetry tracer for stage-3 operations.
var materializeTracer = otel.Tracer("aleutian.retrieval.materialize")

// PrioritizationMode orders the candidate set before budget consumption.
type PrioritizationMode string

const (
	// SeedFirst puts all seeds (by stage-1 rank) ahead of graph nodes
	// (by depth ascending, then id).
	SeedFirst PrioritizationMode = "seed_first"

	// GraphFirst inverts that precedence.
	GraphFirst PrioritizationMode = "graph_first"

	// Balanced interleaves seeds and graph nodes proportionally, still
	// deterministically.
	Balanced PrioritizationMode = "balanced"
)

// Valid reports whether m is a known prioritization mode.
func (m PrioritizationMode) Valid() bool {
	switch m {
	case SeedFirst, GraphFirst, Balanced:
		return true
	}
	return false
}

// Candidate is one id eligible for materialization, tagged with its
// pipeline provenance.
type Candidate struct {
	// Artifact carries the attributes for the stage-3 security check.
	Artifact datatypes.Artifact

	// IsSeed marks stage-1 seeds; SeedRank is their 1-based stage-1
	// position and is meaningful only when IsSeed is true.
	IsSeed   bool
	SeedRank int

	// Depth and ParentID come from stage-2 provenance. Seeds are
	// depth 0 with no parent.
	Depth    int
	ParentID string
}

// Request is one stage-3 invocation.
type Request struct {
	Candidates []Candidate
	Budget     Budget
	Mode       PrioritizationMode
}

// Service materializes candidate text under a budget.
type Service struct {
	backend ports.RetrievalBackend
	tokens  TokenCounter
	logger  *slog.Logger
}

// NewService creates a stage-3 service.
//
// counter may be nil, in which case the tiktoken cl100k_base counter is
// used for token budgets. Character budgets always count runes.
func NewService(backend ports.RetrievalBackend, counter TokenCounter, logger *slog.Logger) *Service {
	if counter == nil {
		counter = NewTiktokenCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, tokens: counter, logger: logger}
}

// Run executes stage 3.
//
// # Description
//
// Validates the budget contract (before any backend call), orders the
// candidates per the prioritization mode, re-applies the security
// filter, then walks the ordered list fetching full text and including
// whole artifacts until the budget is exhausted. Candidates whose full
// text exceeds the remaining budget are skipped atomically; candidates
// with no stored text are skipped and logged, never fatal.
//
// # Outputs
//
//   - *datatypes.MaterializedText: entries in priority order, each with
//     complete text.
//   - error: ConfigError on a bad budget or mode; ScopeError or wrapped
//     transport failure from the backend.
func (s *Service) Run(ctx context.Context, req Request, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig) (*datatypes.MaterializedText, error) {
	ctx, span := materializeTracer.Start(ctx, "materialize.Run")
	defer span.End()
	start := time.Now()

	if err := req.Budget.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid budget")
		return nil, err
	}
	if !req.Mode.Valid() {
		err := ports.NewConfigError(ports.ReasonInvalidFilters,
			"unknown prioritization mode %q", req.Mode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid mode")
		return nil, err
	}
	if err := filters.Validate(); err != nil {
		err := ports.NewConfigError(ports.ReasonInvalidFilters, "invalid retrieval filters: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid filters")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("tenant.id", filters.TenantID),
		attribute.Int("materialize.candidates", len(req.Candidates)),
		attribute.String("materialize.mode", string(req.Mode)),
		attribute.Int("materialize.budget", req.Budget.Limit()),
		attribute.Bool("materialize.token_budget", req.Budget.Tokens > 0),
	)

	ordered := Prioritize(req.Candidates, req.Mode)

	// Stage 3 re-derives its own security decision.
	admitted := make([]Candidate, 0, len(ordered))
	var excluded []string
	for i := range ordered {
		if security.IsVisible(&ordered[i].Artifact, &filters.Access, filters.SecurityModel) {
			admitted = append(admitted, ordered[i])
		} else {
			excluded = append(excluded, ordered[i].Artifact.CanonicalID)
		}
	}

	counter := s.counterFor(req.Budget)
	remaining := req.Budget.Limit()
	out := &datatypes.MaterializedText{Entries: []datatypes.MaterializedEntry{}}

	for _, cand := range admitted {
		if remaining <= 0 {
			out.SkippedOverBudget += remainingCount(admitted, cand)
			break
		}

		text, ok, err := s.fetchText(ctx, filters, cfg, cand.Artifact.CanonicalID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "text fetch failed")
			return nil, err
		}
		if !ok {
			s.logger.Warn("no text stored for artifact, skipping",
				"tenant_id", filters.TenantID,
				"canonical_id", cand.Artifact.CanonicalID)
			out.SkippedMissingText++
			continue
		}

		cost, err := counter.Count(text)
		if err != nil {
			return nil, err
		}
		if cost > remaining {
			// Atomic skip: whole artifact or nothing.
			out.SkippedOverBudget++
			continue
		}

		out.Entries = append(out.Entries, datatypes.MaterializedEntry{
			CanonicalID: cand.Artifact.CanonicalID,
			Text:        text,
			IsSeed:      cand.IsSeed,
			Depth:       cand.Depth,
			ParentID:    cand.ParentID,
		})
		remaining -= cost
		out.BudgetSpent += cost
	}

	record := datatypes.TraceRecord{
		RecordID:    uuid.NewString(),
		Stage:       "fetch_node_texts",
		Timestamp:   time.Now().UTC(),
		Filters:     *filters,
		InputCount:  len(req.Candidates),
		OutputCount: len(out.Entries),
		FilteredOut: excluded,
	}
	s.logger.Info("stage 3 complete",
		"record_id", record.RecordID,
		"tenant_id", filters.TenantID,
		"candidates", record.InputCount,
		"included", record.OutputCount,
		"filtered_out", len(excluded),
		"skipped_over_budget", out.SkippedOverBudget,
		"skipped_missing_text", out.SkippedMissingText,
		"budget_spent", out.BudgetSpent,
	)
	span.SetAttributes(
		attribute.Int("materialize.included", len(out.Entries)),
		attribute.Int("materialize.budget_spent", out.BudgetSpent),
		attribute.Int("materialize.skipped_over_budget", out.SkippedOverBudget),
	)
	recordMaterializeMetrics(ctx, time.Since(start), string(req.Mode), out.BudgetSpent, out.SkippedOverBudget)

	return out, nil
}

// counterFor selects token or character accounting for the budget.
func (s *Service) counterFor(b Budget) TokenCounter {
	if b.Tokens > 0 {
		return s.tokens
	}
	return charCounter{}
}

// fetchText issues one retried text fetch.
func (s *Service) fetchText(ctx context.Context, filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig, id string) (text string, ok bool, err error) {
	err = retry.Do(ctx, retry.Policy{
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.CallTimeout,
	}, "backend.fetch_text", func(ctx context.Context) error {
		var callErr error
		text, ok, callErr = s.backend.FetchText(ctx, filters.TenantID, id)
		return callErr
	})
	return text, ok, err
}

// remainingCount counts candidates at and after cand in admitted order.
func remainingCount(admitted []Candidate, cand Candidate) int {
	for i := range admitted {
		if admitted[i].Artifact.CanonicalID == cand.Artifact.CanonicalID {
			return len(admitted) - i
		}
	}
	return 0
}

// Prioritize orders candidates per the mode. Deterministic for every
// mode: identical inputs always produce the identical order.
func Prioritize(cands []Candidate, mode PrioritizationMode) []Candidate {
	seeds := make([]Candidate, 0, len(cands))
	graph := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.IsSeed {
			seeds = append(seeds, c)
		} else {
			graph = append(graph, c)
		}
	}

	sort.SliceStable(seeds, func(i, j int) bool {
		if seeds[i].SeedRank != seeds[j].SeedRank {
			return seeds[i].SeedRank < seeds[j].SeedRank
		}
		return seeds[i].Artifact.CanonicalID < seeds[j].Artifact.CanonicalID
	})
	sort.SliceStable(graph, func(i, j int) bool {
		if graph[i].Depth != graph[j].Depth {
			return graph[i].Depth < graph[j].Depth
		}
		return graph[i].Artifact.CanonicalID < graph[j].Artifact.CanonicalID
	})

	switch mode {
	case SeedFirst:
		return append(seeds, graph...)
	case GraphFirst:
		return append(graph, seeds...)
	default:
		return interleave(seeds, graph)
	}
}

// interleave merges the two ordered lists proportionally: at each step
// the list that is furthest behind its fair share emits next, seeds
// winning exact ties.
func interleave(seeds, graph []Candidate) []Candidate {
	total := len(seeds) + len(graph)
	out := make([]Candidate, 0, total)
	si, gi := 0, 0
	for si < len(seeds) || gi < len(graph) {
		switch {
		case si >= len(seeds):
			out = append(out, graph[gi])
			gi++
		case gi >= len(graph):
			out = append(out, seeds[si])
			si++
		default:
			// Compare emitted fractions without division.
			if si*len(graph) <= gi*len(seeds) {
				out = append(out, seeds[si])
				si++
			} else {
				out = append(out, graph[gi])
				gi++
			}
		}
	}
	return out
}
