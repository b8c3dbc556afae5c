// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The retrieval command is the CLI for the Aleutian retrieval core:
// schema setup, snapshot ingestion, tenant identity derivation, and
// running the three stage pipeline.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianRetrieval/pkg/logging"
)

// newLogger builds the process logger from the deployment config.
func newLogger(cfg *AppConfig) *logging.Logger {
	return logging.New(cfg.LoggerConfig())
}

func main() {
	if err := Execute(); err != nil {
		// Cobra already printed usage errors; this catches the rest.
		os.Exit(1)
	}
}
