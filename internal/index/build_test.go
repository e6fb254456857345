package index

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

type fakeGraphSource struct {
	graphs map[string]*models.DependencyGraph
	repo   map[string]string
	err    error
}

func (f fakeGraphSource) LoadGraph(ctx context.Context, scanID string) (*models.DependencyGraph, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.graphs[scanID], f.repo[scanID], nil
}

type fakeEntryStore struct {
	mu      sync.Mutex
	entries []models.ExternalObjectEntry
	err     error
}

func (f *fakeEntryStore) PutEntries(ctx context.Context, entries []models.ExternalObjectEntry) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	return nil
}

func graphWith(scanID string, nodes ...models.Node) *models.DependencyGraph {
	g := models.NewDependencyGraph(scanID)
	for _, n := range nodes {
		g.AddNode(n)
	}
	return g
}

func TestBuilder_Build_ExtractsAndPersistsEntries(t *testing.T) {
	source := fakeGraphSource{
		graphs: map[string]*models.DependencyGraph{
			"scan-1": graphWith("scan-1",
				models.Node{ID: "n1", Kind: models.NodeKindTerraformResource, Attributes: map[string]string{"arn": "arn:aws:s3:us-east-1:1:bucket/b1"}},
			),
		},
		repo: map[string]string{"scan-1": "repo-a"},
	}
	store := &fakeEntryStore{}

	builder := NewBuilder(NewRegistry(), source, store, BuildConfig{}, nil)
	result, err := builder.Build(context.Background(), "tenant-1", []string{"scan-1"})
	require.NoError(t, err)
	assert.Equal(t, BuildStatusCompleted, result.Status)
	assert.Equal(t, 1, result.EntriesBuilt)
	assert.Empty(t, result.FailedNodes)
	require.Len(t, store.entries, 1)
	assert.Equal(t, "repo-a", store.entries[0].RepositoryID)
	assert.Equal(t, models.ReferenceTypeARN, store.entries[0].ReferenceType)
}

func TestBuilder_Build_NilGraphIsSkipped(t *testing.T) {
	source := fakeGraphSource{graphs: map[string]*models.DependencyGraph{}}
	store := &fakeEntryStore{}

	builder := NewBuilder(NewRegistry(), source, store, BuildConfig{}, nil)
	result, err := builder.Build(context.Background(), "tenant-1", []string{"missing-scan"})
	require.NoError(t, err)
	assert.Equal(t, BuildStatusCompleted, result.Status)
	assert.Equal(t, 0, result.EntriesBuilt)
}

func TestBuilder_Build_StoreFailureMarksPartialOrFailed(t *testing.T) {
	source := fakeGraphSource{
		graphs: map[string]*models.DependencyGraph{
			"scan-1": graphWith("scan-1",
				models.Node{ID: "n1", Kind: models.NodeKindTerraformResource, Attributes: map[string]string{"arn": "arn:aws:s3:us-east-1:1:bucket/b1"}},
			),
		},
	}
	store := &fakeEntryStore{err: assert.AnError}

	builder := NewBuilder(NewRegistry(), source, store, BuildConfig{}, nil)
	result, err := builder.Build(context.Background(), "tenant-1", []string{"scan-1"})
	require.NoError(t, err, "per-node failures don't abort the whole build")
	assert.Equal(t, BuildStatusFailed, result.Status)
	assert.Equal(t, 0, result.EntriesBuilt)
	require.Len(t, result.FailedNodes, 1)
}

func TestBuilder_Build_LoadFailurePropagates(t *testing.T) {
	source := fakeGraphSource{err: assert.AnError}
	store := &fakeEntryStore{}

	builder := NewBuilder(NewRegistry(), source, store, BuildConfig{}, nil)
	result, err := builder.Build(context.Background(), "tenant-1", []string{"scan-1"})
	require.Error(t, err)
	assert.Equal(t, BuildStatusFailed, result.Status)
}

func TestBuilder_Build_DeduplicatesConcurrentCallsForSameKey(t *testing.T) {
	source := fakeGraphSource{
		graphs: map[string]*models.DependencyGraph{
			"scan-1": graphWith("scan-1",
				models.Node{ID: "n1", Kind: models.NodeKindTerraformResource, Attributes: map[string]string{"arn": "arn:aws:s3:us-east-1:1:bucket/b1"}},
			),
		},
	}
	store := &fakeEntryStore{}
	builder := NewBuilder(NewRegistry(), source, store, BuildConfig{}, nil)

	var wg sync.WaitGroup
	results := make([]BuildResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := builder.Build(context.Background(), "tenant-1", []string{"scan-1"})
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 1, r.EntriesBuilt)
	}
}

func TestBuildConfig_Defaults(t *testing.T) {
	cfg := BuildConfig{}.withDefaults()
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxConcurrentBuilds)
	assert.Positive(t, cfg.BuildTimeout)
}
