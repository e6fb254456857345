package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

type fakeEntryRepository struct {
	byExternalID map[string][]models.ExternalObjectEntry
	byNodeID     map[string][]models.ExternalObjectEntry
	calls        int
}

func (f *fakeEntryRepository) FindByExternalID(ctx context.Context, tenantID, normalizedID string, filter LookupFilter) ([]models.ExternalObjectEntry, error) {
	f.calls++
	return f.byExternalID[normalizedID], nil
}

func (f *fakeEntryRepository) FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error) {
	return f.byNodeID[nodeID], nil
}

func TestLookuper_Lookup_RejectsEmptyID(t *testing.T) {
	repo := &fakeEntryRepository{}
	l := NewLookuper(repo, nil, NewRegistry(), LookupConfig{})
	_, err := l.Lookup(context.Background(), "tenant-1", "   ", LookupFilter{})
	assert.Error(t, err)
}

func TestLookuper_Lookup_NormalizesByReferenceType(t *testing.T) {
	arnType := models.ReferenceTypeARN
	repo := &fakeEntryRepository{byExternalID: map[string][]models.ExternalObjectEntry{
		"arn:aws:s3:us-east-1:1:bucket/b1": {{ExternalID: "ARN:AWS:S3:us-east-1:1:bucket/b1"}},
	}}
	l := NewLookuper(repo, nil, NewRegistry(), LookupConfig{})

	entries, err := l.Lookup(context.Background(), "tenant-1", "ARN:AWS:S3:us-east-1:1:bucket/b1", LookupFilter{ReferenceType: &arnType})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLookuper_Lookup_SortsByReferenceTypePriorityThenRecency(t *testing.T) {
	now := time.Now()
	repo := &fakeEntryRepository{byExternalID: map[string][]models.ExternalObjectEntry{
		"x": {
			{ReferenceType: models.ReferenceTypeGitURL, IndexedAt: now},
			{ReferenceType: models.ReferenceTypeARN, IndexedAt: now.Add(-time.Hour)},
			{ReferenceType: models.ReferenceTypeARN, IndexedAt: now},
		},
	}}
	l := NewLookuper(repo, nil, nil, LookupConfig{})

	entries, err := l.Lookup(context.Background(), "tenant-1", "x", LookupFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ReferenceTypeARN, entries[0].ReferenceType)
	assert.True(t, entries[0].IndexedAt.Equal(now), "most recent ARN entry sorts first among same-priority entries")
	assert.Equal(t, models.ReferenceTypeGitURL, entries[2].ReferenceType)
}

func TestLookuper_Lookup_FiltersByRepositoryAndPaginates(t *testing.T) {
	repo := &fakeEntryRepository{byExternalID: map[string][]models.ExternalObjectEntry{
		"x": {
			{RepositoryID: "repo-a", ExternalID: "x1"},
			{RepositoryID: "repo-b", ExternalID: "x2"},
			{RepositoryID: "repo-a", ExternalID: "x3"},
		},
	}}
	l := NewLookuper(repo, nil, nil, LookupConfig{})

	entries, err := l.Lookup(context.Background(), "tenant-1", "x", LookupFilter{RepositoryIDs: []string{"repo-a"}})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = l.Lookup(context.Background(), "tenant-1", "x", LookupFilter{RepositoryIDs: []string{"repo-a"}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x3", entries[0].ExternalID)
}

func TestLookuper_BatchLookup_CapsAtMaxBatchLookup(t *testing.T) {
	repo := &fakeEntryRepository{byExternalID: map[string][]models.ExternalObjectEntry{}}
	l := NewLookuper(repo, nil, nil, LookupConfig{MaxBatchLookup: 2})

	out, err := l.BatchLookup(context.Background(), "tenant-1", []string{"a", "b", "c"}, LookupFilter{})
	require.NoError(t, err)
	assert.Len(t, out, 2, "request truncated to MaxBatchLookup ids")
}

func TestLookuper_ReverseLookup(t *testing.T) {
	repo := &fakeEntryRepository{byNodeID: map[string][]models.ExternalObjectEntry{
		"n1": {{NodeID: "n1", ExternalID: "arn:1"}},
	}}
	l := NewLookuper(repo, nil, nil, LookupConfig{})

	entries, err := l.ReverseLookup(context.Background(), "tenant-1", "n1", "scan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = l.ReverseLookup(context.Background(), "tenant-1", "  ", "scan-1")
	assert.Error(t, err)
}

func TestLookuper_Lookup_UsesCacheWhenProvided(t *testing.T) {
	repo := &fakeEntryRepository{byExternalID: map[string][]models.ExternalObjectEntry{
		"x": {{ExternalID: "x"}},
	}}
	cache := NewCache(nil, CacheSettings{}, nil)
	l := NewLookuper(repo, cache, nil, LookupConfig{})

	_, err := l.Lookup(context.Background(), "tenant-1", "x", LookupFilter{})
	require.NoError(t, err)
	_, err = l.Lookup(context.Background(), "tenant-1", "x", LookupFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls, "second lookup is served from L1 cache without reaching the repository")
}
