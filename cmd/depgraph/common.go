package main

import (
	"context"
	"fmt"

	"github.com/iacgraph/depgraph/internal/graph"
	"github.com/iacgraph/depgraph/internal/models"
	"github.com/iacgraph/depgraph/internal/storage"
)

// openStore opens the configured persistence backend (Postgres or SQLite)
// for scans, rollup configs/executions and index entries.
func openStore() (storage.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.PostgresDSN, logger)
	case "sqlite":
		return storage.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// openGraphBackend connects to the Neo4j backend used to persist merged and
// per-scan graphs for direct Cypher queries (e.g. blast-radius push-down).
func openGraphBackend(ctx context.Context) (*graph.Neo4jBackend, error) {
	return graph.NewNeo4jBackend(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
}

// storeScanLoader adapts storage.Store to rollup.ScanLoader, the narrow
// interface the Rollup Engine uses so it never depends on internal/storage
// directly.
type storeScanLoader struct {
	store storage.Store
}

func (l storeScanLoader) LoadLatestGraph(ctx context.Context, repositoryID string) (*models.DependencyGraph, error) {
	return l.store.GetLatestGraph(ctx, repositoryID)
}
