package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iacgraph/depgraph/internal/detect"
	"github.com/iacgraph/depgraph/internal/graph"
	"github.com/iacgraph/depgraph/internal/logging"
	"github.com/spf13/cobra"
)

var (
	scanRepositoryID string
	scanNeo4j        bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a directory of Terraform, Kubernetes/Helm or GitLab CI sources into a dependency graph",
	Long: `scan walks a directory tree, classifies each file by extension and
naming convention (*.tf / *.tf.json as Terraform, Chart.yaml as a Helm chart,
.gitlab-ci.yml as a pipeline definition, other *.yaml/*.yml as Kubernetes
manifests), runs the Detection Engine over them, and persists the resulting
graph to the configured storage backend.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRepositoryID, "repository", "", "repository id this scan belongs to (default: the scanned directory's base name)")
	scanCmd.Flags().BoolVar(&scanNeo4j, "neo4j", false, "also persist the graph to Neo4j")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	root := args[0]

	repositoryID := scanRepositoryID
	if repositoryID == "" {
		repositoryID = filepath.Base(root)
	}
	scanID := "scan." + uuid.NewString()

	fmt.Printf("Scanning %s (repository=%s, scan=%s)\n", root, repositoryID, scanID)

	inputs, err := collectInputs(root)
	if err != nil {
		return fmt.Errorf("failed to collect source files: %w", err)
	}
	if len(inputs) == 0 {
		fmt.Println("no recognized IaC files found")
		return nil
	}

	logCfg := logging.DefaultConfig(verbose)
	detectLogger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize detection logger: %w", err)
	}
	defer detectLogger.Close()

	flowDetector := detect.NewFlowDetector()
	flowDetector.Params = detect.ScoreParams{
		EvidenceWeight: cfg.Detection.FlowEvidenceWeight,
		MaxBonus:       cfg.Detection.FlowMaxBonus,
		MaxPenalty:     cfg.Detection.FlowMaxPenalty,
	}
	flowDetector.MinConfidence = int(cfg.Detection.MinFlowConfidence)
	flowDetector.MaxFlows = cfg.Detection.MaxFlowsPerPipeline

	orchestrator := detect.NewOrchestrator(detectLogger,
		detect.NewTerraformDetector(),
		detect.NewGitlabCIDetector(),
		detect.NewK8sDetector(),
		detect.NewHelmChartDetector(),
		flowDetector,
	)

	started := time.Now()
	depGraph, fileErrors := orchestrator.Run(ctx, detect.Context{ScanID: scanID, MaxDepth: cfg.Detection.MaxDepth}, inputs)
	depGraph.Metadata.BuildDuration = time.Since(started)
	depGraph.Metadata.CreatedAt = started

	for path, msg := range fileErrors {
		logger.WithFields(map[string]interface{}{"file": path}).Warnf("detector error: %s", msg)
	}

	fmt.Printf("detected %d nodes, %d edges across %d files (%d file errors)\n",
		len(depGraph.Nodes), len(depGraph.Edges), len(depGraph.Metadata.SourceFiles), len(fileErrors))

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if err := store.SaveGraph(ctx, depGraph, repositoryID); err != nil {
		return fmt.Errorf("failed to persist scan: %w", err)
	}

	if scanNeo4j {
		backend, err := openGraphBackend(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer backend.Close(ctx)

		gstore := graph.NewStore(backend, logger)
		stats, err := gstore.PersistGraph(ctx, depGraph)
		if err != nil {
			return fmt.Errorf("failed to persist graph to neo4j: %w", err)
		}
		fmt.Printf("persisted %d nodes, %d edges to neo4j\n", stats.Nodes, stats.Edges)
	}

	fmt.Printf("scan %s complete in %s\n", scanID, depGraph.Metadata.BuildDuration)
	return nil
}

// collectInputs walks root and classifies every file it recognizes into a
// detect.Input. Unrecognized files (README, .git, binary assets) are
// skipped silently.
func collectInputs(root string) ([]detect.Input, error) {
	var inputs []detect.Input

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		kind, ok := classify(path)
		if !ok {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		inputs = append(inputs, detect.Input{FilePath: rel, Kind: kind, Raw: raw})
		return nil
	})
	return inputs, err
}

func classify(path string) (detect.InputKind, bool) {
	name := filepath.Base(path)
	switch {
	case strings.HasSuffix(path, ".tf") || strings.HasSuffix(path, ".tf.json"):
		return detect.InputKindTerraform, true
	case name == ".gitlab-ci.yml" || name == ".gitlab-ci.yaml":
		return detect.InputKindGitlabCI, true
	case name == "Chart.yaml" || name == "Chart.yml":
		return detect.InputKindHelmChart, true
	case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
		return detect.InputKindK8sManifest, true
	default:
		return "", false
	}
}
