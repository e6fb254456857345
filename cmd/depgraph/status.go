package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show depgraph configuration and backend connectivity",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fmt.Printf("depgraph status\n")
	fmt.Printf("%s\n", strings.Repeat("=", 50))

	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Mode: %s\n", cfg.Mode)
	fmt.Printf("  Storage: %s\n", cfg.Storage.Type)
	fmt.Printf("  Neo4j: %s\n", cfg.Neo4j.URI)
	fmt.Printf("  Cache L1: %d entries, ttl=%s\n", cfg.Cache.L1.MaxEntries, cfg.Cache.L1.TTL)
	fmt.Printf("  Cache L2: %s, ttl=%s\n", cfg.Cache.L2.Addr, cfg.Cache.L2.TTL)

	fmt.Printf("\nStorage backend:\n")
	store, err := openStore()
	if err != nil {
		fmt.Printf("  Status: unreachable (%v)\n", err)
	} else {
		fmt.Printf("  Status: connected\n")
		store.Close()
	}

	fmt.Printf("\nNeo4j backend:\n")
	backend, err := openGraphBackend(ctx)
	if err != nil {
		fmt.Printf("  Status: unreachable (%v)\n", err)
	} else {
		fmt.Printf("  Status: connected\n")
		backend.Close(ctx)
	}

	fmt.Printf("\nDetection limits:\n")
	fmt.Printf("  Max depth: %d\n", cfg.Detection.MaxDepth)
	fmt.Printf("  Min flow confidence: %.0f\n", cfg.Detection.MinFlowConfidence)

	fmt.Printf("\nRollup limits:\n")
	fmt.Printf("  Max repositories per rollup: %d\n", cfg.Rollup.MaxRepositoriesPerRollup)
	fmt.Printf("  Max matchers per rollup: %d\n", cfg.Rollup.MaxMatchersPerRollup)
	fmt.Printf("  Parallel workers: %d\n", cfg.Rollup.ParallelWorkers)

	return nil
}
