package rollup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

type fakeLoader struct {
	graphs map[string]*models.DependencyGraph
	err    error
}

func (f fakeLoader) LoadLatestGraph(ctx context.Context, repositoryID string) (*models.DependencyGraph, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.graphs[repositoryID], nil
}

func twoRepoConfig() models.RollupConfig {
	return models.RollupConfig{
		ID:            "rollup-1",
		TenantID:      "tenant-1",
		RepositoryIDs: []string{"repo-a", "repo-b"},
		Matchers: []models.MatcherConfig{
			{Type: models.MatcherTypeARN, Enabled: true, Priority: 100, MinConfidence: 50},
		},
	}
}

func TestExecutor_Execute_MergesMatchedNodes(t *testing.T) {
	loader := fakeLoader{graphs: map[string]*models.DependencyGraph{
		"repo-a": graphWithNodes("scan-a", node("a.vpc", models.NodeKindTerraformResource, map[string]string{"arn": "arn:aws:ec2:us-east-1:1:vpc/vpc-1"})),
		"repo-b": graphWithNodes("scan-b", node("b.vpc", models.NodeKindTerraformResource, map[string]string{"arn": "arn:aws:ec2:us-east-1:1:vpc/vpc-1"})),
	}}

	ex := NewExecutor(NewRegistry(), loader, 4, 10, nil)
	execution, merged, err := ex.Execute(context.Background(), twoRepoConfig())
	require.NoError(t, err)
	assert.Equal(t, models.RollupExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 2, execution.Stats.ScansProcessed)
	assert.Equal(t, 2, execution.Stats.NodesConsidered)
	assert.Equal(t, 1, execution.Stats.MatchesFound)
	assert.Equal(t, 1, execution.Stats.MergedNodeCount)
	require.Len(t, merged.Nodes, 1, "the two vpc nodes collapse into one merged node")
}

func TestExecutor_Execute_InvalidMatcherConfigFails(t *testing.T) {
	cfg := twoRepoConfig()
	cfg.Matchers = []models.MatcherConfig{{Type: models.MatcherTypeTag, Enabled: true}}

	ex := NewExecutor(NewRegistry(), fakeLoader{}, 4, 10, nil)
	execution, merged, err := ex.Execute(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, models.RollupExecutionStatusFailed, execution.Status)
	assert.NotEmpty(t, execution.ErrorMessage)
	assert.Nil(t, merged)
}

func TestExecutor_Execute_LoadFailurePropagates(t *testing.T) {
	ex := NewExecutor(NewRegistry(), fakeLoader{err: assert.AnError}, 4, 10, nil)
	execution, merged, err := ex.Execute(context.Background(), twoRepoConfig())
	require.Error(t, err)
	assert.Equal(t, models.RollupExecutionStatusFailed, execution.Status)
	assert.Nil(t, merged)
}

func TestExecutor_Execute_IncludeExcludeKindsFilterPassthroughNodes(t *testing.T) {
	loader := fakeLoader{graphs: map[string]*models.DependencyGraph{
		"repo-a": graphWithNodes("scan-a",
			models.Node{ID: "a.deploy", Name: "app", Kind: models.NodeKindK8sDeployment},
			models.Node{ID: "a.cm", Name: "conf", Kind: models.NodeKindK8sConfigMap},
		),
		"repo-b": graphWithNodes("scan-b"),
	}}

	cfg := twoRepoConfig()
	cfg.Matchers = nil
	cfg.ExcludeKinds = []models.NodeKind{models.NodeKindK8sConfigMap}

	ex := NewExecutor(NewRegistry(), loader, 4, 10, nil)
	_, merged, err := ex.Execute(context.Background(), cfg)
	require.NoError(t, err)
	_, hasDeploy := merged.Nodes["a.deploy"]
	_, hasCM := merged.Nodes["a.cm"]
	assert.True(t, hasDeploy)
	assert.False(t, hasCM, "excluded kind should not appear in the merged graph")
}

func TestNewExecutor_ClampsParallelWorkers(t *testing.T) {
	ex := NewExecutor(NewRegistry(), fakeLoader{}, 0, 10, nil)
	assert.Equal(t, 1, ex.parallelWorkers)
}
