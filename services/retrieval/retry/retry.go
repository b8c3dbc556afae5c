// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry implements the bounded backoff policy shared by every
// backend and graph call in the pipeline.
//
// Only TransientError is retried. Scope rejections, configuration
// errors, and context cancellation surface immediately: retrying a
// "missing tenant" response would only hide a misconfiguration.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
)

// Policy bounds the retry loop.
type Policy struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int

	// BaseDelay is the wait before the first retry; each subsequent
	// retry doubles it.
	BaseDelay time.Duration

	// CallTimeout bounds each individual attempt. Zero means the
	// caller's context deadline alone applies.
	CallTimeout time.Duration
}

// Do runs op under the policy, retrying transient failures only.
//
// # Description
//
// Each attempt runs with its own timeout derived from ctx. Between
// attempts the loop honors ctx cancellation, so aborting the request
// stops the backoff wait immediately. Exhausted retries return the last
// transient error wrapped with the transport-failure reason code.
//
// # Inputs
//
//   - ctx: request context; cancellation stops retries.
//   - opName: label for logs and the final error.
//   - op: the backend call. Must be safe to invoke repeatedly.
//
// # Outputs
//
//   - error: nil on success; the non-retryable error unchanged; or a
//     wrapped transport failure after the final attempt.
func Do(ctx context.Context, p Policy, opName string, op func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("retrying retrieval call",
				"op", opName,
				"attempt", attempt,
				"delay", delay,
				"lastError", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := attempt1(ctx, p.CallTimeout, op)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The request was aborted; the attempt error is incidental.
			return ctxErr
		}
		if !ports.IsTransient(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%s failed after %d attempts [%s]: %w",
		opName, p.MaxRetries+1, ports.ReasonTransportFailure, lastErr)
}

// attempt1 runs one attempt under its own timeout.
func attempt1(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return op(ctx)
}
