// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Error taxonomy shared by the stages and the port adapters.
//
// Four categories, with distinct propagation rules:
//
//   - ConfigError: contract violations caught before any backend call.
//     Fail fast, never retried.
//   - ScopeError: missing/unknown tenant or rejected scope. Fail fast,
//     never retried, never silently replaced with a default scope.
//   - TransientError: timeouts and connection failures. Retried a
//     bounded number of times with backoff.
//   - Data errors (missing text, malformed edge) are not represented
//     here: they are localized skips logged at the point of occurrence.
//
// Every error carries a machine-readable reason code; backend-specific
// detail stays wrapped and is never exposed across the stage boundary.
package ports

import (
	"errors"
	"fmt"
)

// Reason codes attached to stage and port failures.
const (
	// ReasonMissingTopK marks a stage-1 call without an explicit top_k.
	ReasonMissingTopK = "config.missing_top_k"

	// ReasonUnknownSearchType marks an unrecognized search type.
	ReasonUnknownSearchType = "config.unknown_search_type"

	// ReasonRerankNotSemantic marks rerank requested on a non-semantic
	// search. A contract violation, not something silently ignored.
	ReasonRerankNotSemantic = "config.rerank_requires_semantic"

	// ReasonMissingCaps marks expansion without depth or node caps.
	ReasonMissingCaps = "config.missing_traversal_caps"

	// ReasonMissingAllowlist marks expansion without a relation allowlist.
	ReasonMissingAllowlist = "config.missing_relation_allowlist"

	// ReasonBudgetConflict marks both budget_tokens and max_chars set.
	ReasonBudgetConflict = "config.budget_mutually_exclusive"

	// ReasonBudgetMissing marks materialization with no budget at all.
	ReasonBudgetMissing = "config.budget_required"

	// ReasonInvalidFilters marks a filter bundle failing validation.
	ReasonInvalidFilters = "config.invalid_filters"

	// ReasonUnknownTenant marks a backend rejecting the tenant scope.
	ReasonUnknownTenant = "scope.unknown_tenant"

	// ReasonEmptyTenant marks a call issued without a tenant id.
	ReasonEmptyTenant = "scope.empty_tenant"

	// ReasonTransportFailure marks exhausted retries on transient I/O.
	ReasonTransportFailure = "io.transport_failure"
)

// =============================================================================
// ConfigError
// =============================================================================

// ConfigError is a contract violation detected before backend I/O.
type ConfigError struct {
	// Reason is the machine-readable code (Reason* constants).
	Reason string

	// Detail is a human-readable explanation.
	Detail string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("retrieval config error [%s]: %s", e.Reason, e.Detail)
}

// NewConfigError builds a ConfigError with a formatted detail message.
func NewConfigError(reason, format string, args ...any) *ConfigError {
	return &ConfigError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// =============================================================================
// ScopeError
// =============================================================================

// ScopeError is a tenant/scope rejection. Non-retryable.
type ScopeError struct {
	Reason   string
	TenantID string
	Detail   string
}

// Error implements the error interface.
func (e *ScopeError) Error() string {
	return fmt.Sprintf("retrieval scope error [%s] tenant=%q: %s", e.Reason, e.TenantID, e.Detail)
}

// NewScopeError builds a ScopeError for the given tenant.
func NewScopeError(reason, tenantID, format string, args ...any) *ScopeError {
	return &ScopeError{Reason: reason, TenantID: tenantID, Detail: fmt.Sprintf(format, args...)}
}

// IsScopeError reports whether err is (or wraps) a ScopeError.
func IsScopeError(err error) bool {
	var se *ScopeError
	return errors.As(err, &se)
}

// =============================================================================
// TransientError
// =============================================================================

// TransientError wraps a transport failure that may succeed on retry.
//
// Adapters classify their own transport errors; anything not wrapped in
// TransientError is treated as permanent by the stage retry loop.
type TransientError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient retrieval error in %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
