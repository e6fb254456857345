package rollup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

func chainGraph() *MergedGraph {
	return &MergedGraph{
		Nodes: map[string]models.NodeKind{
			"n1": models.NodeKindTerraformResource,
			"n2": models.NodeKindTerraformResource,
			"n3": models.NodeKindTerraformResource,
			"n4": models.NodeKindTerraformResource,
		},
		Edges: []models.Edge{
			{ID: "e1", SourceID: "n1", TargetID: "n2", Kind: models.EdgeKindDependsOn},
			{ID: "e2", SourceID: "n2", TargetID: "n3", Kind: models.EdgeKindDependsOn},
			{ID: "e3", SourceID: "n3", TargetID: "n4", Kind: models.EdgeKindDependsOn},
		},
	}
}

func TestBlastRadius_RequiresSeedNodes(t *testing.T) {
	_, err := BlastRadius(chainGraph(), models.BlastRadiusQuery{})
	assert.Error(t, err)
}

func TestBlastRadius_Downstream(t *testing.T) {
	result, err := BlastRadius(chainGraph(), models.BlastRadiusQuery{
		NodeIDs:   []string{"n1"},
		Direction: models.BlastRadiusDirectionDownstream,
		MaxDepth:  intPtr(10),
	})
	require.NoError(t, err)
	ids := nodeIDs(result.Nodes)
	assert.ElementsMatch(t, []string{"n1", "n2", "n3", "n4"}, ids)
	assert.False(t, result.Truncated)
}

func TestBlastRadius_Upstream(t *testing.T) {
	result, err := BlastRadius(chainGraph(), models.BlastRadiusQuery{
		NodeIDs:   []string{"n4"},
		Direction: models.BlastRadiusDirectionUpstream,
		MaxDepth:  intPtr(10),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2", "n3", "n4"}, nodeIDs(result.Nodes))
}

func TestBlastRadius_MaxDepthTruncates(t *testing.T) {
	result, err := BlastRadius(chainGraph(), models.BlastRadiusQuery{
		NodeIDs:   []string{"n1"},
		Direction: models.BlastRadiusDirectionDownstream,
		MaxDepth:  intPtr(1),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, nodeIDs(result.Nodes))
	assert.True(t, result.Truncated)
}

func TestBlastRadius_MaxDepthZeroReturnsOnlySeeds(t *testing.T) {
	result, err := BlastRadius(chainGraph(), models.BlastRadiusQuery{
		NodeIDs:   []string{"n1"},
		Direction: models.BlastRadiusDirectionDownstream,
		MaxDepth:  intPtr(0),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1"}, nodeIDs(result.Nodes))
	assert.Empty(t, result.Edges)
	assert.True(t, result.Truncated, "n1 has an unvisited downstream neighbor at depth 0")
}

func TestBlastRadius_NilMaxDepthUsesDefault(t *testing.T) {
	result, err := BlastRadius(chainGraph(), models.BlastRadiusQuery{
		NodeIDs:   []string{"n1"},
		Direction: models.BlastRadiusDirectionDownstream,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2", "n3", "n4"}, nodeIDs(result.Nodes), "unset MaxDepth falls back to the default depth, not zero")
	assert.False(t, result.Truncated)
}

func TestBlastRadius_FiltersByEdgeKind(t *testing.T) {
	g := chainGraph()
	g.Edges = append(g.Edges, models.Edge{ID: "e4", SourceID: "n1", TargetID: "n4", Kind: models.EdgeKindReferences})

	result, err := BlastRadius(g, models.BlastRadiusQuery{
		NodeIDs:          []string{"n1"},
		Direction:        models.BlastRadiusDirectionDownstream,
		MaxDepth:         intPtr(10),
		IncludeEdgeKinds: []models.EdgeKind{models.EdgeKindDependsOn},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2", "n3", "n4"}, nodeIDs(result.Nodes), "depends_on chain still reaches n4 without the references edge")

	for _, e := range result.Edges {
		assert.Equal(t, models.EdgeKindDependsOn, e.Kind)
	}
}

func TestBlastRadius_UnknownSeedIgnored(t *testing.T) {
	result, err := BlastRadius(chainGraph(), models.BlastRadiusQuery{
		NodeIDs:   []string{"does-not-exist"},
		Direction: models.BlastRadiusDirectionBoth,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)
}

func intPtr(v int) *int { return &v }

func nodeIDs(nodes []models.BlastRadiusNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
