package rollup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

func TestRewriteEdges_RewritesMergedEndpoints(t *testing.T) {
	repoA := RepoGraph{RepositoryID: "repo-a", Graph: &models.DependencyGraph{
		Nodes: map[string]models.Node{
			"a.vpc": {ID: "a.vpc", Kind: models.NodeKindTerraformResource},
			"a.sub": {ID: "a.sub", Kind: models.NodeKindTerraformResource},
		},
		Edges: []models.Edge{
			{SourceID: "a.sub", TargetID: "a.vpc", Kind: models.EdgeKindDependsOn, Confidence: 90},
		},
	}}
	repoB := RepoGraph{RepositoryID: "repo-b", Graph: &models.DependencyGraph{
		Nodes: map[string]models.Node{"b.vpc": {ID: "b.vpc", Kind: models.NodeKindTerraformResource}},
	}}

	mergedNodes := []models.MergedNode{
		{ID: "merged.vpc", SourceNodeIDs: []string{"a.vpc", "b.vpc"}},
	}

	edges := RewriteEdges([]RepoGraph{repoA, repoB}, mergedNodes, models.MergeOptions{})
	require.Len(t, edges, 1)
	assert.Equal(t, "a.sub", edges[0].SourceID)
	assert.Equal(t, "merged.vpc", edges[0].TargetID, "endpoint belonging to a merged node is rewritten")
}

func TestRewriteEdges_DropsSelfLoopsFromDoubleMerge(t *testing.T) {
	repoA := RepoGraph{RepositoryID: "repo-a", Graph: &models.DependencyGraph{
		Nodes: map[string]models.Node{
			"a.x": {ID: "a.x", Kind: models.NodeKindTerraformResource},
			"a.y": {ID: "a.y", Kind: models.NodeKindTerraformResource},
		},
		Edges: []models.Edge{
			{SourceID: "a.x", TargetID: "a.y", Kind: models.EdgeKindDependsOn, Confidence: 80},
		},
	}}

	mergedNodes := []models.MergedNode{
		{ID: "merged.same", SourceNodeIDs: []string{"a.x", "a.y"}},
	}

	edges := RewriteEdges([]RepoGraph{repoA}, mergedNodes, models.MergeOptions{})
	assert.Empty(t, edges, "an edge whose endpoints collapse to the same merged node carries no blast-radius information")
}

func TestRewriteEdges_DeduplicatesKeepingHighestConfidence(t *testing.T) {
	repoA := RepoGraph{RepositoryID: "repo-a", Graph: &models.DependencyGraph{
		Nodes: map[string]models.Node{
			"a.x": {ID: "a.x", Kind: models.NodeKindTerraformResource},
			"a.y": {ID: "a.y", Kind: models.NodeKindTerraformResource},
		},
		Edges: []models.Edge{
			{SourceID: "a.x", TargetID: "a.y", Kind: models.EdgeKindDependsOn, Confidence: 60, Evidence: []models.Evidence{{Strength: 0.5}}},
		},
	}}
	repoB := RepoGraph{RepositoryID: "repo-b", Graph: &models.DependencyGraph{
		Nodes: map[string]models.Node{
			"b.x": {ID: "b.x", Kind: models.NodeKindTerraformResource},
			"b.y": {ID: "b.y", Kind: models.NodeKindTerraformResource},
		},
		Edges: []models.Edge{
			{SourceID: "b.x", TargetID: "b.y", Kind: models.EdgeKindDependsOn, Confidence: 90, Evidence: []models.Evidence{{Strength: 0.9}}},
		},
	}}

	mergedNodes := []models.MergedNode{
		{ID: "merged.x", SourceNodeIDs: []string{"a.x", "b.x"}},
		{ID: "merged.y", SourceNodeIDs: []string{"a.y", "b.y"}},
	}

	edges := RewriteEdges([]RepoGraph{repoA, repoB}, mergedNodes, models.MergeOptions{})
	require.Len(t, edges, 1, "both repos' edges rewrite to the same (merged.x, merged.y, depends_on) triple")
	assert.Equal(t, 90, edges[0].Confidence)
	assert.Len(t, edges[0].Evidence, 2, "evidence from both the kept and the dropped duplicate is unioned")
}

func TestRewriteEdges_SameRepoEdgeNotTaggedCrossRepo(t *testing.T) {
	repoA := RepoGraph{RepositoryID: "repo-a", Graph: &models.DependencyGraph{
		Nodes: map[string]models.Node{
			"a.app": {ID: "a.app", Kind: models.NodeKindK8sDeployment},
			"a.vpc": {ID: "a.vpc", Kind: models.NodeKindTerraformResource},
		},
		Edges: []models.Edge{
			{SourceID: "a.app", TargetID: "a.vpc", Kind: models.EdgeKindReferences, Confidence: 70},
		},
	}}

	edges := RewriteEdges([]RepoGraph{repoA}, nil, models.MergeOptions{CreateCrossRepoEdges: true})
	require.Len(t, edges, 1)
	assert.Empty(t, edges[0].Metadata["crossRepo"], "endpoints from the same repo are never tagged cross-repo")
}
