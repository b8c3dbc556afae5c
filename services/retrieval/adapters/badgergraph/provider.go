// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgergraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/ports"
)

// Key namespace prefixes. sep never appears in canonical ids or tenant
// ids, so prefix scans cannot bleed across namespaces.
const (
	sep = "\x00"

	prefixTenant  = "t" + sep
	prefixNode    = "n" + sep
	prefixForward = "e" + sep
	prefixReverse = "r" + sep
)

// Compile-time interface implementation check.
var _ ports.GraphProvider = (*Store)(nil)

// Store is a BadgerDB-backed dependency graph.
//
// Safe for concurrent use; BadgerDB transactions provide snapshot
// isolation between readers and the ingestion writer.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens the graph store with the given configuration.
//
// # Inputs
//
//   - cfg: database configuration. Path is required unless InMemory.
//
// # Outputs
//
//   - *Store: the opened store. Caller must Close() when done.
//   - error: non-nil when the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go gcLoop(db, cfg, s.stopGC, s.doneGC)
	}
	return s, nil
}

// OpenInMemory opens an in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

// Ping verifies the store is open and readable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return fmt.Errorf("graph store is closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// =============================================================================
// Ingestion
// =============================================================================

// PutArtifact stores a node's attributes and marks its tenant as known.
//
// The artifact must be valid; ingestion is where nil label slices are
// rejected, so reads never have to guess whether absence means "no
// restrictions" or "labels lost".
func (s *Store) PutArtifact(ctx context.Context, a datatypes.Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", a.CanonicalID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(tenantKey(a.TenantID), nil); err != nil {
			return err
		}
		return txn.Set(nodeKey(a.TenantID, a.CanonicalID), payload)
	})
}

// PutEdge stores one directed edge plus its reverse index entry.
func (s *Store) PutEdge(ctx context.Context, tenantID string, e datatypes.Edge) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("put edge: %w", err)
	}
	if tenantID == "" {
		return ports.NewScopeError(ports.ReasonEmptyTenant, tenantID, "tenant id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode edge %s->%s: %w", e.FromID, e.ToID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(tenantKey(tenantID), nil); err != nil {
			return err
		}
		if err := txn.Set(forwardKey(tenantID, e), payload); err != nil {
			return err
		}
		return txn.Set(reverseKey(tenantID, e), payload)
	})
}

// =============================================================================
// GraphProvider
// =============================================================================

// Neighbors implements ports.GraphProvider.
//
// Both directions incident to the given ids are scanned; results are
// deduplicated and sorted by (from, to, relation) so callers see a
// stable order regardless of iteration interleaving.
func (s *Store) Neighbors(ctx context.Context, tenantID string, ids []string, allow datatypes.RelationSet) ([]datatypes.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var edges []datatypes.Edge

	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireTenant(txn, tenantID); err != nil {
			return err
		}
		for _, id := range ids {
			for _, prefix := range [][]byte{
				[]byte(prefixForward + tenantID + sep + id + sep),
				[]byte(prefixReverse + tenantID + sep + id + sep),
			} {
				if err := scanEdges(txn, prefix, func(e datatypes.Edge) {
					if !allow.Contains(e.Relation) {
						return
					}
					key := e.FromID + sep + string(e.Relation) + sep + e.ToID
					if _, dup := seen[key]; dup {
						return
					}
					seen[key] = struct{}{}
					edges = append(edges, e)
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromID != edges[j].FromID {
			return edges[i].FromID < edges[j].FromID
		}
		if edges[i].ToID != edges[j].ToID {
			return edges[i].ToID < edges[j].ToID
		}
		return edges[i].Relation < edges[j].Relation
	})
	return edges, nil
}

// Nodes implements ports.GraphProvider. Unknown ids are skipped.
func (s *Store) Nodes(ctx context.Context, tenantID string, ids []string) ([]datatypes.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifacts := make([]datatypes.Artifact, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireTenant(txn, tenantID); err != nil {
			return err
		}
		for _, id := range ids {
			item, err := txn.Get(nodeKey(tenantID, id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					continue
				}
				return err
			}
			var a datatypes.Artifact
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				s.logger.Warn("skipping undecodable graph node",
					"tenant_id", tenantID,
					"canonical_id", id,
					"error", err)
				continue
			}
			artifacts = append(artifacts, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// =============================================================================
// Internals
// =============================================================================

func requireTenant(txn *badger.Txn, tenantID string) error {
	if tenantID == "" {
		return ports.NewScopeError(ports.ReasonEmptyTenant, tenantID, "tenant id is required")
	}
	if _, err := txn.Get(tenantKey(tenantID)); err != nil {
		if err == badger.ErrKeyNotFound {
			return ports.NewScopeError(ports.ReasonUnknownTenant, tenantID, "no graph stored for tenant")
		}
		return err
	}
	return nil
}

// scanEdges iterates one edge prefix and decodes each value.
// Undecodable entries are skipped; the iteration continues.
func scanEdges(txn *badger.Txn, prefix []byte, emit func(datatypes.Edge)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.Valid(); it.Next() {
		item := it.Item()
		if !bytes.HasPrefix(item.Key(), prefix) {
			break
		}
		var e datatypes.Edge
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			continue
		}
		emit(e)
	}
	return nil
}

func tenantKey(tenantID string) []byte {
	return []byte(prefixTenant + tenantID)
}

func nodeKey(tenantID, canonicalID string) []byte {
	return []byte(prefixNode + tenantID + sep + canonicalID)
}

func forwardKey(tenantID string, e datatypes.Edge) []byte {
	return []byte(prefixForward + tenantID + sep + e.FromID + sep + string(e.Relation) + sep + e.ToID)
}

func reverseKey(tenantID string, e datatypes.Edge) []byte {
	return []byte(prefixReverse + tenantID + sep + e.ToID + sep + string(e.Relation) + sep + e.FromID)
}
