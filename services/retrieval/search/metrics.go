// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for stage-1 operations.
var searchMeter = otel.Meter("aleutian.retrieval.search")

// Metrics for seed searches.
var (
	searchLatency  metric.Float64Histogram
	searchTotal    metric.Int64Counter
	searchFiltered metric.Int64Histogram
	searchHits     metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		searchLatency, err = searchMeter.Float64Histogram(
			"retrieval_search_duration_seconds",
			metric.WithDescription("Duration of stage-1 seed searches"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		searchTotal, err = searchMeter.Int64Counter(
			"retrieval_search_total",
			metric.WithDescription("Total number of stage-1 seed searches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		searchFiltered, err = searchMeter.Int64Histogram(
			"retrieval_search_filtered_candidates",
			metric.WithDescription("Candidates removed by security filtering per search"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		searchHits, err = searchMeter.Int64Histogram(
			"retrieval_search_hits",
			metric.WithDescription("Seed hits returned per search"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordSearchMetrics records one completed search.
func recordSearchMetrics(ctx context.Context, duration time.Duration, searchType string, filteredOut, hits int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("search_type", searchType),
	)
	searchLatency.Record(ctx, duration.Seconds(), attrs)
	searchTotal.Add(ctx, 1, attrs)
	searchFiltered.Record(ctx, int64(filteredOut), attrs)
	searchHits.Record(ctx, int64(hits), attrs)
}
