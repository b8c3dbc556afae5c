// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package materialize

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for stage-3 operations.
var materializeMeter = otel.Meter("aleutian.retrieval.materialize")

// Metrics for text materialization.
var (
	fetchLatency      metric.Float64Histogram
	fetchTotal        metric.Int64Counter
	budgetSpent       metric.Int64Histogram
	skippedOverBudget metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		fetchLatency, err = materializeMeter.Float64Histogram(
			"retrieval_materialize_duration_seconds",
			metric.WithDescription("Duration of stage-3 materialization"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fetchTotal, err = materializeMeter.Int64Counter(
			"retrieval_materialize_total",
			metric.WithDescription("Total number of stage-3 materializations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		budgetSpent, err = materializeMeter.Int64Histogram(
			"retrieval_materialize_budget_spent",
			metric.WithDescription("Budget units consumed per materialization"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedOverBudget, err = materializeMeter.Int64Histogram(
			"retrieval_materialize_skipped_over_budget",
			metric.WithDescription("Candidates skipped because their full text exceeded the remaining budget"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordMaterializeMetrics records one completed materialization.
func recordMaterializeMetrics(ctx context.Context, duration time.Duration, mode string, spent, skipped int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("prioritization_mode", mode),
	)
	fetchLatency.Record(ctx, duration.Seconds(), attrs)
	fetchTotal.Add(ctx, 1, attrs)
	budgetSpent.Record(ctx, int64(spent), attrs)
	skippedOverBudget.Record(ctx, int64(skipped), attrs)
}
