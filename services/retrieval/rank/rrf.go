// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rank fuses keyword and semantic result lists with Reciprocal
// Rank Fusion.
//
// RRF scores each id by summing 1/(k+rank) over every source where the
// id appears; an id missing from a source contributes nothing from that
// source. Rank positions make results from incomparable scoring systems
// (BM25 vs cosine distance) fusable without score normalization.
//
// Fusion here is pure and deterministic: no I/O, no randomness, and a
// total tie-break order, so re-running on identical inputs always yields
// the identical output order.
package rank

import (
	"sort"
)

// DefaultRRFK is the conventional RRF constant. The fusion constant is
// configurable per request; this is only the standard starting point.
const DefaultRRFK = 60

// Ranked is one entry of a single-source ranked list.
type Ranked struct {
	// CanonicalID identifies the artifact.
	CanonicalID string

	// Rank is the 1-based position in the source list.
	Rank int
}

// Fused is one output entry with its fused score and source ranks.
type Fused struct {
	CanonicalID string

	// Score is the summed reciprocal-rank score.
	Score float64

	// KeywordRank and SemanticRank are the 1-based source ranks, or 0
	// when the id did not appear in that source.
	KeywordRank  int
	SemanticRank int
}

// Fuse merges a keyword-ranked and a semantic-ranked list into one
// deterministic order.
//
// # Description
//
// Each id scores Σ 1/(k+rank) over the sources it appears in. Duplicate
// ids within one source keep their best (smallest) rank; deduplication
// happens before any truncation, which is the caller's job. Ties in
// fused score resolve by, in order: better semantic rank, better keyword
// rank, lexicographically smaller canonical id. A missing source rank
// sorts worse than any real rank.
//
// # Inputs
//
//   - keyword: keyword-ranked candidates (may be empty).
//   - semantic: semantic-ranked candidates (may be empty).
//   - k: the RRF constant; values < 1 fall back to DefaultRRFK.
//
// # Outputs
//
//   - []Fused: every distinct id from either source, best first.
func Fuse(keyword, semantic []Ranked, k int) []Fused {
	if k < 1 {
		k = DefaultRRFK
	}

	byID := make(map[string]*Fused, len(keyword)+len(semantic))
	order := make([]string, 0, len(keyword)+len(semantic))

	record := func(id string) *Fused {
		if f, ok := byID[id]; ok {
			return f
		}
		f := &Fused{CanonicalID: id}
		byID[id] = f
		order = append(order, id)
		return f
	}

	for _, r := range keyword {
		f := record(r.CanonicalID)
		if f.KeywordRank == 0 || r.Rank < f.KeywordRank {
			f.KeywordRank = r.Rank
		}
	}
	for _, r := range semantic {
		f := record(r.CanonicalID)
		if f.SemanticRank == 0 || r.Rank < f.SemanticRank {
			f.SemanticRank = r.Rank
		}
	}

	fused := make([]Fused, 0, len(order))
	for _, id := range order {
		f := byID[id]
		if f.KeywordRank > 0 {
			f.Score += 1.0 / float64(k+f.KeywordRank)
		}
		if f.SemanticRank > 0 {
			f.Score += 1.0 / float64(k+f.SemanticRank)
		}
		fused = append(fused, *f)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return less(&fused[i], &fused[j])
	})
	return fused
}

// less is the total fusion order: score desc, then semantic rank, then
// keyword rank, then canonical id.
func less(a, b *Fused) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ra, rb := effectiveRank(a.SemanticRank), effectiveRank(b.SemanticRank); ra != rb {
		return ra < rb
	}
	if ra, rb := effectiveRank(a.KeywordRank), effectiveRank(b.KeywordRank); ra != rb {
		return ra < rb
	}
	return a.CanonicalID < b.CanonicalID
}

// effectiveRank maps the missing-rank sentinel below every real rank.
func effectiveRank(r int) int {
	if r == 0 {
		return int(^uint(0) >> 1) // max int
	}
	return r
}
