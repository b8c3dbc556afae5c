// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
)

func transientErr(msg string) error {
	return &ports.TransientError{Op: "test", Err: errors.New(msg)}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3}, "search", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond}
	err := Do(context.Background(), p, "search", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_NonTransientReturnsImmediately(t *testing.T) {
	scopeErr := ports.NewScopeError(ports.ReasonUnknownTenant, "snap_missing", "no such tenant")
	calls := 0
	p := Policy{MaxRetries: 5, BaseDelay: time.Millisecond}
	err := Do(context.Background(), p, "search", func(ctx context.Context) error {
		calls++
		return scopeErr
	})
	if !errors.Is(err, scopeErr) {
		t.Fatalf("Do() = %v, want the scope error unchanged", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExhaustedWrapsTransportFailure(t *testing.T) {
	calls := 0
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
	err := Do(context.Background(), p, "fetch_text", func(ctx context.Context) error {
		calls++
		return transientErr("timeout")
	})
	if err == nil {
		t.Fatal("Do() = nil, want error after exhausted retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !strings.Contains(err.Error(), ports.ReasonTransportFailure) {
		t.Errorf("error %q does not carry reason %s", err, ports.ReasonTransportFailure)
	}
	if !ports.IsTransient(err) {
		t.Error("wrapped error lost its transient classification")
	}
}

func TestDo_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 10, BaseDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, "search", func(ctx context.Context) error {
			return transientErr("flaky")
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_CancelDuringAttemptReturnsContextError(t *testing.T) {
	// The context dies while the attempt is in flight: the caller must
	// see the cancellation, not the incidental transport error.
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
	err := Do(ctx, p, "search", func(ctx context.Context) error {
		calls++
		cancel()
		return transientErr("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_CallTimeoutAppliesPerAttempt(t *testing.T) {
	p := Policy{MaxRetries: 0, CallTimeout: 10 * time.Millisecond}
	var sawDeadline bool
	err := Do(context.Background(), p, "search", func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if !sawDeadline {
		t.Error("attempt context had no deadline despite CallTimeout")
	}
}
