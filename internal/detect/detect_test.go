package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

type stubDetector struct {
	name     string
	priority int
	canRun   func(Input) bool
	result   DetectionResult
}

func (s stubDetector) Name() string             { return s.name }
func (s stubDetector) Priority() int            { return s.priority }
func (s stubDetector) CanDetect(i Input) bool    { return s.canRun(i) }
func (s stubDetector) Detect(_ context.Context, _ Input, _ Context) DetectionResult {
	return s.result
}

func TestNewOrchestrator_SortsByPriorityThenName(t *testing.T) {
	a := stubDetector{name: "b_detector", priority: 50, canRun: func(Input) bool { return true }}
	b := stubDetector{name: "a_detector", priority: 50, canRun: func(Input) bool { return true }}
	c := stubDetector{name: "high", priority: 100, canRun: func(Input) bool { return true }}

	o := NewOrchestrator(nil, a, b, c)
	assert.Equal(t, []string{"high", "a_detector", "b_detector"}, []string{o.detectors[0].Name(), o.detectors[1].Name(), o.detectors[2].Name()})
}

func TestOrchestrator_Run_MergesResultsAcrossDetectors(t *testing.T) {
	d1 := stubDetector{
		name: "nodes", priority: 100,
		canRun: func(Input) bool { return true },
		result: DetectionResult{Nodes: []models.Node{
			{ID: "n1", Kind: models.NodeKindTerraformResource},
			{ID: "n2", Kind: models.NodeKindTerraformResource},
		}},
	}
	d2 := stubDetector{
		name: "edges", priority: 90,
		canRun: func(Input) bool { return true },
		result: DetectionResult{Edges: []models.Edge{{SourceID: "n1", TargetID: "n2", Kind: models.EdgeKindDependsOn}}},
	}

	o := NewOrchestrator(nil, d1, d2)
	graph, fileErrors := o.Run(context.Background(), Context{ScanID: "scan-1"}, []Input{{FilePath: "main.tf", Kind: InputKindTerraform}})

	assert.Empty(t, fileErrors)
	require.Len(t, graph.Nodes, 2)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, []string{"main.tf"}, graph.Metadata.SourceFiles)
}

func TestOrchestrator_Run_FileErrorIsolatedFromOtherFiles(t *testing.T) {
	failing := stubDetector{
		name: "failing", priority: 100,
		canRun: func(i Input) bool { return i.FilePath == "bad.tf" },
		result: DetectionResult{Errors: []string{"boom"}},
	}
	succeeding := stubDetector{
		name: "ok", priority: 100,
		canRun: func(i Input) bool { return i.FilePath == "good.tf" },
		result: DetectionResult{Nodes: []models.Node{{ID: "n1", Kind: models.NodeKindTerraformResource}}},
	}

	o := NewOrchestrator(nil, failing, succeeding)
	graph, fileErrors := o.Run(context.Background(), Context{ScanID: "scan-1"}, []Input{
		{FilePath: "bad.tf", Kind: InputKindTerraform},
		{FilePath: "good.tf", Kind: InputKindTerraform},
	})

	require.Contains(t, fileErrors, "bad.tf")
	assert.Equal(t, "boom", fileErrors["bad.tf"])
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, []string{"good.tf"}, graph.Metadata.SourceFiles)
}

func TestOrchestrator_Run_NoDetectorCanRun_FileSkippedSilently(t *testing.T) {
	d := stubDetector{name: "terraform", priority: 100, canRun: func(i Input) bool { return i.Kind == InputKindTerraform }}
	o := NewOrchestrator(nil, d)

	graph, fileErrors := o.Run(context.Background(), Context{ScanID: "scan-1"}, []Input{{FilePath: "values.yaml", Kind: InputKindK8sManifest}})
	assert.Empty(t, fileErrors)
	assert.Empty(t, graph.Nodes)
	assert.Empty(t, graph.Metadata.SourceFiles)
}

func TestOrchestrator_Run_NodesPlusErrorsStillPublishesPartialResult(t *testing.T) {
	d := stubDetector{
		name: "partial", priority: 100,
		canRun: func(Input) bool { return true },
		result: DetectionResult{
			Nodes:  []models.Node{{ID: "n1", Kind: models.NodeKindTerraformResource}},
			Errors: []string{"some warning-level issue"},
		},
	}
	o := NewOrchestrator(nil, d)
	graph, fileErrors := o.Run(context.Background(), Context{ScanID: "scan-1"}, []Input{{FilePath: "main.tf", Kind: InputKindTerraform}})

	assert.Empty(t, fileErrors, "a file producing both nodes and errors is not treated as a hard file failure")
	require.Len(t, graph.Nodes, 1)
}

func TestDetectionResult_Merge(t *testing.T) {
	r := DetectionResult{Nodes: []models.Node{{ID: "n1"}}}
	r.Merge(DetectionResult{
		Nodes:    []models.Node{{ID: "n2"}},
		Edges:    []models.Edge{{SourceID: "n1", TargetID: "n2"}},
		Warnings: []string{"w1"},
		Errors:   []string{"e1"},
	})
	assert.Len(t, r.Nodes, 2)
	assert.Len(t, r.Edges, 1)
	assert.Equal(t, []string{"w1"}, r.Warnings)
	assert.Equal(t, []string{"e1"}, r.Errors)
}
