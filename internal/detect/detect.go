// Package detect implements the Detection Engine: a pipeline of detectors
// that transform parsed IaC/CI artifacts into a per-scan DependencyGraph.
package detect

import (
	"context"
	"sort"

	"github.com/iacgraph/depgraph/internal/logging"
	"github.com/iacgraph/depgraph/internal/models"
)

// Input is one parsed artifact handed to the detector pipeline: either a
// Terraform file, a Kubernetes/Helm manifest, or a GitLab CI pipeline
// definition. Raw holds the file's bytes, interpreted according to Kind.
type Input struct {
	FilePath string
	Kind     InputKind
	Raw      []byte
}

// InputKind distinguishes the artifact shapes a detector may declare
// capability for.
type InputKind string

const (
	InputKindTerraform InputKind = "terraform"
	InputKindGitlabCI  InputKind = "gitlab_ci"
	InputKindK8sManifest InputKind = "k8s_manifest"
	InputKindHelmChart   InputKind = "helm_chart"
)

// DetectionResult is either a success (edges/nodes + warnings) or a failure
// (errors + whatever partial output was still produced). A detector error
// never halts other detectors; results are unioned by the orchestrator.
type DetectionResult struct {
	Nodes    []models.Node
	Edges    []models.Edge
	Warnings []string
	Errors   []string
}

// Merge unions another result into r.
func (r *DetectionResult) Merge(other DetectionResult) {
	r.Nodes = append(r.Nodes, other.Nodes...)
	r.Edges = append(r.Edges, other.Edges...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Context carries per-scan configuration through detect(), including the
// reference-resolution traversal depth bound.
type Context struct {
	ScanID   string
	MaxDepth int
}

// Detector is implemented by each pipeline stage: it declares whether it
// can handle an Input and, if so, produces a DetectionResult.
type Detector interface {
	// Name is used to break priority ties, lexicographically.
	Name() string
	// Priority orders detector execution; detectors run highest first.
	Priority() int
	CanDetect(input Input) bool
	Detect(ctx context.Context, input Input, dctx Context) DetectionResult
}

// Orchestrator runs the registered detectors over a set of inputs in
// priority order and unions their outputs into one DependencyGraph.
type Orchestrator struct {
	detectors []Detector
	logger    *logging.Logger
}

// NewOrchestrator builds an orchestrator from a set of detectors, sorted
// once by (priority desc, name asc) so detector execution order, and
// therefore the resulting graph's edge ordering, is deterministic.
func NewOrchestrator(logger *logging.Logger, detectors ...Detector) *Orchestrator {
	sorted := make([]Detector, len(detectors))
	copy(sorted, detectors)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() > sorted[j].Priority()
		}
		return sorted[i].Name() < sorted[j].Name()
	})
	return &Orchestrator{detectors: sorted, logger: logger}
}

// Run builds a DependencyGraph for scanID from inputs. A parse error on one
// file is recorded on FileErrors and that file is skipped; it never aborts
// the rest of the scan.
func (o *Orchestrator) Run(ctx context.Context, dctx Context, inputs []Input) (*models.DependencyGraph, map[string]string) {
	graph := models.NewDependencyGraph(dctx.ScanID)
	fileErrors := make(map[string]string)

	for _, input := range inputs {
		var combined DetectionResult
		ran := false
		for _, d := range o.detectors {
			if !d.CanDetect(input) {
				continue
			}
			ran = true
			result := d.Detect(ctx, input, dctx)
			if len(result.Errors) > 0 && o.logger != nil {
				o.logger.Warn("detector reported errors", "detector", d.Name(), "file", input.FilePath, "errors", result.Errors)
			}
			combined.Merge(result)
		}
		if !ran {
			continue
		}
		if len(combined.Nodes) == 0 && len(combined.Errors) > 0 {
			fileErrors[input.FilePath] = combined.Errors[0]
			continue
		}

		for _, n := range combined.Nodes {
			graph.AddNode(n)
		}
		for _, e := range combined.Edges {
			graph.AddEdge(e)
		}
		graph.Metadata.SourceFiles = append(graph.Metadata.SourceFiles, input.FilePath)
	}

	return graph, fileErrors
}
