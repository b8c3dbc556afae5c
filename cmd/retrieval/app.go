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
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/adapters/badgergraph"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/adapters/weaviatestore"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/expand"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/materialize"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/pipeline"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/search"
)

// app is the composition point: the one place where concrete adapters
// meet the stage services.
type app struct {
	cfg    *AppConfig
	logger *slog.Logger

	client   *weaviate.Client
	backend  *weaviatestore.Backend
	graph    *badgergraph.Store
	searcher *search.Service
	expander *expand.Service
	fetcher  *materialize.Service
	executor *pipeline.Executor
}

// buildApp wires the full stack from the deployment config.
//
// Construction performs no I/O beyond opening the embedded graph; the
// Weaviate connection is lazy and surfaces on first use.
func buildApp(cfg *AppConfig, logger *slog.Logger) (*app, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Scheme: cfg.Weaviate.Scheme,
		Host:   cfg.Weaviate.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	embedder, err := buildEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	backend, err := weaviatestore.New(client, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("create retrieval backend: %w", err)
	}

	graphCfg := badgergraph.DefaultConfig()
	graphCfg.Path = expandPath(cfg.Graph.Path)
	graphCfg.InMemory = cfg.Graph.InMemory
	graphCfg.Logger = logger
	graph, err := badgergraph.Open(graphCfg)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	searcher := search.NewService(backend, logger)
	expander := expand.NewService(graph, logger)
	fetcher := materialize.NewService(backend, nil, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		backend:  backend,
		graph:    graph,
		searcher: searcher,
		expander: expander,
		fetcher:  fetcher,
		executor: pipeline.NewExecutor(searcher, expander, fetcher, graph, logger),
	}, nil
}

// Close releases the embedded graph. Weaviate holds no local state.
func (a *app) Close() error {
	return a.graph.Close()
}

// buildEmbedder creates the query embedder against an OpenAI-compatible
// endpoint. Local Ollama deployments accept any token.
func buildEmbedder(cfg EmbedderConfig) (embeddings.Embedder, error) {
	token := cfg.Token
	if token == "" {
		token = "none"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return embedder, nil
}
