package storage

import (
	"context"
	"errors"

	"github.com/iacgraph/depgraph/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store defines the storage interface backing the Detection Engine's
// scans, the Rollup Engine's configs/executions, and the External
// Object Index's entries.
type Store interface {
	// Scan/graph operations
	SaveGraph(ctx context.Context, graph *models.DependencyGraph, repositoryID string) error
	GetGraph(ctx context.Context, scanID string) (*models.DependencyGraph, error)
	GetLatestGraph(ctx context.Context, repositoryID string) (*models.DependencyGraph, error)

	// Rollup config operations
	SaveRollupConfig(ctx context.Context, cfg *models.RollupConfig) error
	GetRollupConfig(ctx context.Context, tenantID, rollupID string) (*models.RollupConfig, error)
	ListRollupConfigs(ctx context.Context, tenantID string) ([]*models.RollupConfig, error)

	// Rollup execution operations
	SaveRollupExecution(ctx context.Context, execution *models.RollupExecution) error
	GetRollupExecution(ctx context.Context, tenantID, executionID string) (*models.RollupExecution, error)
	ListRollupExecutions(ctx context.Context, tenantID, rollupID string, limit int) ([]*models.RollupExecution, error)

	// External Object Index operations
	PutEntries(ctx context.Context, entries []models.ExternalObjectEntry) error
	FindByExternalID(ctx context.Context, tenantID, normalizedID string, referenceType *models.ReferenceType, repositoryIDs []string, limit, offset int) ([]models.ExternalObjectEntry, error)
	FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error)

	// Close connection
	Close() error
}
