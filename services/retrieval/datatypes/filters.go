// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Request-scoped filter and configuration values.
//
// RetrievalFilters is the "sacred" bundle: it is constructed exactly once
// per request, passed by parameter through all three stages, and no stage
// may widen or replace it. Nothing in the core reads ambient or global
// configuration.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// coreValidate is the shared validator instance for retrieval datatypes.
var coreValidate *validator.Validate

func init() {
	coreValidate = validator.New()
}

// =============================================================================
// Security Model
// =============================================================================

// SecurityModel selects how the deployment expresses access decisions.
type SecurityModel string

const (
	// SecurityModelDisabled turns the filter evaluator into a constant
	// true. Used for single-team deployments with no label taxonomy.
	SecurityModelDisabled SecurityModel = "disabled"

	// SecurityModelLabels applies the ACL and classification rules only.
	SecurityModelLabels SecurityModel = "labels"

	// SecurityModelClearance applies the ACL and classification rules
	// plus the numeric clearance ceiling.
	SecurityModelClearance SecurityModel = "clearance_level"
)

// Valid reports whether m is a known security model.
func (m SecurityModel) Valid() bool {
	switch m {
	case SecurityModelDisabled, SecurityModelLabels, SecurityModelClearance:
		return true
	}
	return false
}

// =============================================================================
// Access Context
// =============================================================================

// AccessContext is the resolved, read-only access rights of one request.
//
// # Description
//
// The authorization collaborator resolves caller credentials into this
// value before stage 1 runs. The retrieval core trusts it completely: it
// never derives permissions from raw credentials and never mutates the
// context. Evaluation semantics live in the security package.
//
// # Fields
//
//   - ACLTagsAny: OR semantics. An artifact with a non-empty ACL tag set
//     is visible when at least one tag intersects this set.
//   - ClassificationLabelsAll: Subset semantics. An artifact is visible
//     only when every one of its labels appears in this set.
//   - ClearanceLevel: Numeric ceiling, consulted only under the
//     clearance security model. Nil means "no clearance granted".
type AccessContext struct {
	ACLTagsAny              []string `json:"acl_tags_any"`
	ClassificationLabelsAll []string `json:"classification_labels_all"`
	ClearanceLevel          *int     `json:"clearance_level,omitempty"`
}

// =============================================================================
// Retrieval Filters
// =============================================================================

// RetrievalFilters is the immutable filter bundle threaded through all
// three pipeline stages.
//
// Each stage re-derives its own security decision from this value; no
// stage trusts that a prior stage already filtered correctly. The bundle
// is constructed once per request by the caller (pipeline executor or
// CLI) and treated as read-only afterwards.
type RetrievalFilters struct {
	// TenantID is the snapshot to search. Required; there is no default
	// tenant and the ports fail fast when it is empty or unknown.
	TenantID string `json:"tenant_id" validate:"required"`

	// Repository scopes retrieval to one repository name inside the
	// tenant. Required so a query can never accidentally span sources.
	Repository string `json:"repository" validate:"required"`

	// SourceSystem optionally restricts results to one source system id.
	// Passthrough scoping only; empty means unrestricted.
	SourceSystem string `json:"source_system,omitempty"`

	// SecurityModel selects the evaluation rules.
	SecurityModel SecurityModel `json:"security_model" validate:"required"`

	// Access is the resolved access context evaluated at every stage.
	Access AccessContext `json:"access"`
}

// Validate checks the filter bundle before stage 1 runs.
func (f *RetrievalFilters) Validate() error {
	if err := coreValidate.Struct(f); err != nil {
		return err
	}
	if !f.SecurityModel.Valid() {
		return fmt.Errorf("unknown security model %q", f.SecurityModel)
	}
	if f.SecurityModel == SecurityModelClearance && f.Access.ClearanceLevel != nil && *f.Access.ClearanceLevel < 0 {
		return fmt.Errorf("negative clearance level %d", *f.Access.ClearanceLevel)
	}
	return nil
}

// =============================================================================
// Retrieval Config
// =============================================================================

// RetrievalConfig carries the per-request tunables that are not part of
// the security scope: fusion constants, candidate widening, and the
// transport retry policy shared by both ports.
//
// Every field that the pipeline depends on is required and explicit.
// In particular WidenFactor has no canonical default anywhere in the
// system; a zero value is a configuration error, never a guess.
type RetrievalConfig struct {
	// RRFK is the Reciprocal Rank Fusion constant. Default 60.
	RRFK int `json:"rrf_k" yaml:"rrf_k"`

	// WidenFactor multiplies top_k when fetching raw candidates for
	// hybrid fusion or reranking. Required, must be >= 1.
	WidenFactor int `json:"widen_factor" yaml:"widen_factor"`

	// MaxRetries bounds retry attempts for transient transport errors.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryBaseDelay is the delay before the first retry; subsequent
	// retries double it.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`

	// CallTimeout bounds each individual backend or graph call.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// DefaultRetrievalConfig returns the standard fusion and retry tuning.
//
// WidenFactor is intentionally left zero: it is a required deployment
// decision and Validate will reject the config until it is set.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		RRFK:           60,
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
		CallTimeout:    30 * time.Second,
	}
}

// Validate checks the config for use by the pipeline.
func (c *RetrievalConfig) Validate() error {
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.RRFK)
	}
	if c.WidenFactor < 1 {
		return fmt.Errorf("widen_factor is required and must be >= 1, got %d", c.WidenFactor)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	return nil
}
