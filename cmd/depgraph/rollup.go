package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/iacgraph/depgraph/internal/graph"
	"github.com/iacgraph/depgraph/internal/models"
	"github.com/iacgraph/depgraph/internal/rollup"
	"github.com/spf13/cobra"
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Manage and execute rollups that merge multiple repositories' graphs",
}

var rollupApplyFile string

var rollupApplyCmd = &cobra.Command{
	Use:   "apply [tenant-id]",
	Short: "Create or update a rollup config from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollupApply,
}

var rollupExecCmd = &cobra.Command{
	Use:   "exec [tenant-id] [rollup-id]",
	Short: "Execute a rollup: load each repository's latest scan, merge, and persist the execution",
	Args:  cobra.ExactArgs(2),
	RunE:  runRollupExec,
}

var rollupListCmd = &cobra.Command{
	Use:   "list [tenant-id]",
	Short: "List rollup configs for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollupList,
}

var rollupExecPersistNeo4j bool

func init() {
	rollupApplyCmd.Flags().StringVar(&rollupApplyFile, "file", "", "path to a JSON-encoded RollupConfig (required)")
	rollupApplyCmd.MarkFlagRequired("file")
	rollupExecCmd.Flags().BoolVar(&rollupExecPersistNeo4j, "neo4j", false, "also persist the merged graph to Neo4j")

	rollupCmd.AddCommand(rollupApplyCmd)
	rollupCmd.AddCommand(rollupExecCmd)
	rollupCmd.AddCommand(rollupListCmd)
}

func runRollupApply(cmd *cobra.Command, args []string) error {
	tenantID := args[0]
	ctx := context.Background()

	data, err := os.ReadFile(rollupApplyFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rollupApplyFile, err)
	}

	var rc models.RollupConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return fmt.Errorf("failed to parse rollup config: %w", err)
	}
	rc.TenantID = tenantID
	if rc.ID == "" {
		rc.ID = "rollup." + uuid.NewString()
	}
	if rc.Status == "" {
		rc.Status = models.RollupStatusActive
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if err := store.SaveRollupConfig(ctx, &rc); err != nil {
		return fmt.Errorf("failed to save rollup config: %w", err)
	}

	fmt.Printf("saved rollup %s (tenant=%s, repositories=%d, matchers=%d)\n", rc.ID, rc.TenantID, len(rc.RepositoryIDs), len(rc.Matchers))
	return nil
}

func runRollupList(cmd *cobra.Command, args []string) error {
	tenantID := args[0]
	ctx := context.Background()

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	configs, err := store.ListRollupConfigs(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list rollup configs: %w", err)
	}

	if len(configs) == 0 {
		fmt.Println("no rollup configs for this tenant")
		return nil
	}
	for _, c := range configs {
		fmt.Printf("%-30s  %-10s  repos=%d  status=%s\n", c.ID, c.Name, len(c.RepositoryIDs), c.Status)
	}
	return nil
}

func runRollupExec(cmd *cobra.Command, args []string) error {
	tenantID, rollupID := args[0], args[1]
	ctx := context.Background()

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	rc, err := store.GetRollupConfig(ctx, tenantID, rollupID)
	if err != nil {
		return fmt.Errorf("failed to load rollup config: %w", err)
	}

	registry := rollup.NewRegistry()
	loader := storeScanLoader{store: store}
	executor := rollup.NewExecutor(registry, loader, cfg.Rollup.ParallelWorkers, cfg.Rollup.MaxMatchersPerRollup, logger)

	execution, merged, err := executor.Execute(ctx, *rc)
	if saveErr := store.SaveRollupExecution(ctx, &execution); saveErr != nil {
		logger.WithError(saveErr).Warn("failed to persist rollup execution record")
	}
	if err != nil {
		return fmt.Errorf("rollup execution failed: %w", err)
	}

	fmt.Printf("execution %s: scans=%d nodes=%d edges=%d cross_repo_edges=%d\n",
		execution.ID, execution.Stats.ScansProcessed, execution.Stats.MergedNodeCount,
		execution.Stats.MergedEdgeCount, execution.Stats.CrossRepoEdges)

	if rollupExecPersistNeo4j && merged != nil {
		backend, err := openGraphBackend(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer backend.Close(ctx)

		gstore := graph.NewStore(backend, logger)
		stats, err := gstore.PersistMergedNodes(ctx, rollupID, merged.Nodes, merged.Edges)
		if err != nil {
			return fmt.Errorf("failed to persist merged graph to neo4j: %w", err)
		}
		fmt.Printf("persisted %d merged nodes, %d edges to neo4j\n", stats.Nodes, stats.Edges)
	}

	return nil
}
