// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/adapters/weaviatestore"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/pipeline"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/search"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/tenant"
)

// --- Global Command Variables ---
var (
	configPath string

	searchType string
	searchTopK int
	rerank     bool

	tenantRepo     string
	tenantRevision string
	tenantFile     string

	edgesPath string

	rootCmd = &cobra.Command{
		Use:   "retrieval",
		Short: "Deterministic multi-tenant retrieval over code and SQL artifacts",
		Long: `Retrieval runs a three stage pipeline over ingested artifact
				snapshots: seed search, dependency graph expansion, and
				budgeted text materialization. Every stage re-applies the
				configured security filters.`,
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Manage the vector store schema",
	}
	schemaInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the artifact class in Weaviate if it does not exist",
		RunE:  runSchemaInit,
	}

	tenantCmd = &cobra.Command{
		Use:   "tenant",
		Short: "Work with snapshot tenant identities",
	}
	tenantIDCmd = &cobra.Command{
		Use:   "id",
		Short: "Derive the deterministic tenant id for a snapshot",
		RunE:  runTenantID,
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest [artifacts.json]",
		Short: "Load an artifact snapshot into the vector store and graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}

	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Run stage 1 seed search and print matching artifact ids",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	runCmd = &cobra.Command{
		Use:   "run [query]",
		Short: "Run the configured pipeline steps end to end",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPipeline,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check that the vector store and graph store are reachable",
		RunE:  runStatus,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML deployment config")

	searchCmd.Flags().StringVar(&searchType, "type", "hybrid", "search type: semantic, keyword, or hybrid")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "number of seeds to return (required)")
	searchCmd.Flags().BoolVar(&rerank, "rerank", false, "rerank the candidate window (semantic only)")

	tenantIDCmd.Flags().StringVar(&tenantRepo, "repo", "", "repository name (required)")
	tenantIDCmd.Flags().StringVar(&tenantRevision, "revision", "", "commit hash or version tag")
	tenantIDCmd.Flags().StringVar(&tenantFile, "file", "", "content file to fingerprint instead of a revision")

	ingestCmd.Flags().StringVar(&edgesPath, "edges", "", "path to the dependency edges JSON file")

	schemaCmd.AddCommand(schemaInitCmd)
	tenantCmd.AddCommand(tenantIDCmd)
	rootCmd.AddCommand(schemaCmd, tenantCmd, ingestCmd, searchCmd, runCmd, statusCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// withApp loads config, builds the wired stack, runs fn, and tears
// down. Every command that touches the stores goes through here.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := LoadAppConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	defer logger.Close()

	ctx := cmd.Context()
	shutdown, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	a, err := buildApp(cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runSchemaInit(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := weaviatestore.EnsureSchema(ctx, a.client); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema %s ready\n", weaviatestore.ArtifactClassName)
		return nil
	})
}

func runTenantID(cmd *cobra.Command, args []string) error {
	if tenantRepo == "" {
		return fmt.Errorf("--repo is required")
	}

	var (
		id  string
		err error
	)
	switch {
	case tenantFile != "":
		f, openErr := os.Open(tenantFile)
		if openErr != nil {
			return fmt.Errorf("open content file: %w", openErr)
		}
		defer f.Close()
		id, err = tenant.FromContent(tenantRepo, f)
	case tenantRevision != "":
		id, err = tenant.FromRevision(tenantRepo, tenantRevision)
	default:
		return fmt.Errorf("either --revision or --file is required")
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.searcher.Run(ctx, search.Request{
			Query:      args[0],
			SearchType: search.Type(searchType),
			TopK:       searchTopK,
			Rerank:     rerank,
		}, a.cfg.RetrievalFilters(), a.cfg.RetrievalConfig())
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runPipeline(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if len(a.cfg.Pipeline.Steps) == 0 {
			return fmt.Errorf("no pipeline steps configured; add a pipeline section to the config file")
		}

		st, err := pipeline.NewState(a.cfg.RetrievalFilters(), a.cfg.RetrievalConfig())
		if err != nil {
			return err
		}

		for _, step := range a.cfg.Pipeline.Steps {
			params, err := stepParams(step, args)
			if err != nil {
				return err
			}
			st, err = a.executor.RunStep(ctx, step.Name, st, params)
			if err != nil {
				return fmt.Errorf("step %s: %w", step.Name, err)
			}
		}

		return printJSON(cmd, st)
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		status := map[string]string{"weaviate": "ok", "graph": "ok"}
		if err := a.backend.Ping(ctx); err != nil {
			status["weaviate"] = err.Error()
		}
		if err := a.graph.Ping(ctx); err != nil {
			status["graph"] = err.Error()
		}
		if err := printJSON(cmd, status); err != nil {
			return err
		}
		if status["weaviate"] != "ok" || status["graph"] != "ok" {
			return fmt.Errorf("one or more stores are unavailable")
		}
		return nil
	})
}

// stepParams re-encodes a step's raw YAML block, injecting the CLI
// query into the search step when one was given.
func stepParams(step StepConfig, args []string) ([]byte, error) {
	var params map[string]any
	if !step.Params.IsZero() {
		if err := step.Params.Decode(&params); err != nil {
			return nil, fmt.Errorf("step %s params: %w", step.Name, err)
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	if step.Name == pipeline.StepSearchNodes && len(args) > 0 {
		params["query"] = args[0]
	}
	return yaml.Marshal(params)
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
