package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/index"
	"github.com/iacgraph/depgraph/internal/models"
)

// fakeStore is a minimal in-memory storage.Store used to exercise the
// adapter types in common.go and index.go without a real database.
type fakeStore struct {
	graphsByScan    map[string]*models.DependencyGraph
	graphsByRepo    map[string]*models.DependencyGraph
	externalEntries []models.ExternalObjectEntry
	nodeEntries     map[string][]models.ExternalObjectEntry
	err             error
}

func (s *fakeStore) SaveGraph(ctx context.Context, graph *models.DependencyGraph, repositoryID string) error {
	return nil
}

func (s *fakeStore) GetGraph(ctx context.Context, scanID string) (*models.DependencyGraph, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.graphsByScan[scanID], nil
}

func (s *fakeStore) GetLatestGraph(ctx context.Context, repositoryID string) (*models.DependencyGraph, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.graphsByRepo[repositoryID], nil
}

func (s *fakeStore) SaveRollupConfig(ctx context.Context, cfg *models.RollupConfig) error { return nil }
func (s *fakeStore) GetRollupConfig(ctx context.Context, tenantID, rollupID string) (*models.RollupConfig, error) {
	return nil, nil
}
func (s *fakeStore) ListRollupConfigs(ctx context.Context, tenantID string) ([]*models.RollupConfig, error) {
	return nil, nil
}

func (s *fakeStore) SaveRollupExecution(ctx context.Context, execution *models.RollupExecution) error {
	return nil
}
func (s *fakeStore) GetRollupExecution(ctx context.Context, tenantID, executionID string) (*models.RollupExecution, error) {
	return nil, nil
}
func (s *fakeStore) ListRollupExecutions(ctx context.Context, tenantID, rollupID string, limit int) ([]*models.RollupExecution, error) {
	return nil, nil
}

func (s *fakeStore) PutEntries(ctx context.Context, entries []models.ExternalObjectEntry) error {
	return nil
}

func (s *fakeStore) FindByExternalID(ctx context.Context, tenantID, normalizedID string, referenceType *models.ReferenceType, repositoryIDs []string, limit, offset int) ([]models.ExternalObjectEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.externalEntries, nil
}

func (s *fakeStore) FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.nodeEntries[nodeID], nil
}

func (s *fakeStore) Close() error { return nil }

func TestStoreScanLoader_LoadLatestGraph(t *testing.T) {
	g := models.NewDependencyGraph("scan-1")
	store := &fakeStore{graphsByRepo: map[string]*models.DependencyGraph{"repo-a": g}}
	loader := storeScanLoader{store: store}

	got, err := loader.LoadLatestGraph(context.Background(), "repo-a")
	require.NoError(t, err)
	assert.Same(t, g, got)
}

func TestStoreScanLoader_PropagatesError(t *testing.T) {
	store := &fakeStore{err: assert.AnError}
	loader := storeScanLoader{store: store}

	_, err := loader.LoadLatestGraph(context.Background(), "repo-a")
	assert.Error(t, err)
}

func TestStorageGraphSource_LoadGraph_ReturnsFixedRepositoryID(t *testing.T) {
	g := models.NewDependencyGraph("scan-1")
	store := &fakeStore{graphsByScan: map[string]*models.DependencyGraph{"scan-1": g}}
	source := storageGraphSource{store: store, repositoryID: "repo-a"}

	got, repoID, err := source.LoadGraph(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Same(t, g, got)
	assert.Equal(t, "repo-a", repoID)
}

func TestStorageEntryRepository_FindByExternalID_ForwardsFilterFields(t *testing.T) {
	store := &fakeStore{externalEntries: []models.ExternalObjectEntry{{ExternalID: "x"}}}
	repo := storageEntryRepository{store: store}

	arnType := models.ReferenceTypeARN
	entries, err := repo.FindByExternalID(context.Background(), "tenant-1", "x", index.LookupFilter{
		ReferenceType: &arnType,
		RepositoryIDs: []string{"repo-a"},
		Limit:         10,
		Offset:        0,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStorageEntryRepository_FindByNodeID(t *testing.T) {
	store := &fakeStore{nodeEntries: map[string][]models.ExternalObjectEntry{
		"n1": {{NodeID: "n1"}},
	}}
	repo := storageEntryRepository{store: store}

	entries, err := repo.FindByNodeID(context.Background(), "tenant-1", "n1", "scan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
