// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline exposes the three retrieval stages as named,
// idempotent steps over request-scoped state.
//
// An external step executor sequences the steps from YAML-declared
// parameters. The boundary rules enforced here:
//
//   - RetrievalFilters and RetrievalConfig are fixed at state
//     construction and never altered by a step.
//   - Each step reads the state it needs and returns a new state; the
//     input state is never mutated, so re-running a step with the same
//     inputs yields the same outputs.
//   - fetch_texts refuses to run before search_nodes: stage 3 must not
//     bypass the seed-derived security context.
package pipeline

import (
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
)

// Step names as declared in pipeline YAML.
const (
	StepSearchNodes = "retrieval.search_nodes"
	StepExpandTree  = "retrieval.expand_tree"
	StepFetchTexts  = "retrieval.fetch_texts"
)

// State is the request-scoped pipeline state threaded between steps.
//
// Filters and Config are request-construction inputs; the stage outputs
// fill in as steps run. All fields are treated as immutable once set.
type State struct {
	Filters *datatypes.RetrievalFilters
	Config  *datatypes.RetrievalConfig

	Search *datatypes.SearchResult
	Graph  *datatypes.ExpandedGraph
	Texts  *datatypes.MaterializedText
}

// NewState builds the initial state for one request.
//
// The filter bundle and config are validated here, once, before any
// step runs; steps re-check but never reconstruct them.
func NewState(filters *datatypes.RetrievalFilters, cfg *datatypes.RetrievalConfig) (*State, error) {
	if filters == nil || cfg == nil {
		return nil, ports.NewConfigError(ports.ReasonInvalidFilters,
			"filters and config are required to construct pipeline state")
	}
	if err := filters.Validate(); err != nil {
		return nil, ports.NewConfigError(ports.ReasonInvalidFilters, "invalid retrieval filters: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, ports.NewConfigError(ports.ReasonInvalidFilters, "invalid retrieval config: %v", err)
	}
	return &State{Filters: filters, Config: cfg}, nil
}

// clone returns a shallow copy so steps can return updated state without
// mutating their input.
func (s *State) clone() *State {
	out := *s
	return &out
}
