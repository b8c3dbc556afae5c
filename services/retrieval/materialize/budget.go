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
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
)

// budgetEncoding is the tokenizer used for budget_tokens accounting.
const budgetEncoding = "cl100k_base"

// Budget expresses the stage-3 inclusion limit.
//
// Exactly one of Tokens or MaxChars must be positive. Supplying both is
// a configuration error, and so is supplying neither: there is no
// unbounded default.
type Budget struct {
	// Tokens is the token budget, counted with the cl100k_base
	// encoding.
	Tokens int

	// MaxChars is the character budget.
	MaxChars int
}

// Validate enforces budget mutual exclusivity.
func (b Budget) Validate() error {
	switch {
	case b.Tokens > 0 && b.MaxChars > 0:
		return ports.NewConfigError(ports.ReasonBudgetConflict,
			"budget_tokens (%d) and max_chars (%d) are mutually exclusive", b.Tokens, b.MaxChars)
	case b.Tokens <= 0 && b.MaxChars <= 0:
		return ports.NewConfigError(ports.ReasonBudgetMissing,
			"either budget_tokens or max_chars is required; there is no unbounded default")
	}
	return nil
}

// Limit returns the configured limit in its unit.
func (b Budget) Limit() int {
	if b.Tokens > 0 {
		return b.Tokens
	}
	return b.MaxChars
}

// TokenCounter measures text cost in the budget unit.
//
// Abstracted so tests can use a deterministic counter without loading
// tokenizer data.
type TokenCounter interface {
	Count(text string) (int, error)
}

// tiktokenCounter counts tokens with the shared tiktoken encoding.
type tiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenCounter returns the default token counter.
//
// Encoding data loads lazily on first use so constructing the stage
// service stays cheap.
func NewTiktokenCounter() TokenCounter {
	return &tiktokenCounter{}
}

// Count implements TokenCounter.
func (c *tiktokenCounter) Count(text string) (int, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(budgetEncoding)
	})
	if c.err != nil {
		return 0, fmt.Errorf("loading %s encoding: %w", budgetEncoding, c.err)
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}

// charCounter measures cost in characters for max_chars budgets.
type charCounter struct{}

// Count implements TokenCounter by rune count.
func (charCounter) Count(text string) (int, error) {
	return len([]rune(text)), nil
}
