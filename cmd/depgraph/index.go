package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/iacgraph/depgraph/internal/cache"
	"github.com/iacgraph/depgraph/internal/index"
	"github.com/iacgraph/depgraph/internal/models"
	"github.com/iacgraph/depgraph/internal/storage"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and query the External Object Index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build [tenant-id] [repository-id] [scan-id...]",
	Short: "Extract external references from one or more scans of one repository and populate the index",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runIndexBuild,
}

var indexLookupCmd = &cobra.Command{
	Use:   "lookup [tenant-id] [external-id]",
	Short: "Find every node referencing an external identifier",
	Args:  cobra.ExactArgs(2),
	RunE:  runIndexLookup,
}

var indexReverseLookupCmd = &cobra.Command{
	Use:   "reverse-lookup [tenant-id] [node-id] [scan-id]",
	Short: "Find every external identifier a node references",
	Args:  cobra.ExactArgs(3),
	RunE:  runIndexReverseLookup,
}

func init() {
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexLookupCmd)
	indexCmd.AddCommand(indexReverseLookupCmd)
}

// storageGraphSource adapts storage.Store to index.GraphSource. The
// repository id is fixed for the whole build invocation since an operator
// builds the index one repository's scans at a time.
type storageGraphSource struct {
	store        storage.Store
	repositoryID string
}

func (s storageGraphSource) LoadGraph(ctx context.Context, scanID string) (*models.DependencyGraph, string, error) {
	g, err := s.store.GetGraph(ctx, scanID)
	if err != nil {
		return nil, "", err
	}
	return g, s.repositoryID, nil
}

// storageEntryRepository adapts storage.Store's wider FindByExternalID
// signature to index.EntryRepository's LookupFilter-based one.
type storageEntryRepository struct {
	store storage.Store
}

func (s storageEntryRepository) FindByExternalID(ctx context.Context, tenantID, normalizedID string, filter index.LookupFilter) ([]models.ExternalObjectEntry, error) {
	return s.store.FindByExternalID(ctx, tenantID, normalizedID, filter.ReferenceType, filter.RepositoryIDs, filter.Limit, filter.Offset)
}

func (s storageEntryRepository) FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error) {
	return s.store.FindByNodeID(ctx, tenantID, nodeID, scanID)
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	tenantID, repositoryID := args[0], args[1]
	scanIDs := args[2:]
	ctx := context.Background()

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	registry := index.NewRegistry()
	builder := index.NewBuilder(registry, storageGraphSource{store, repositoryID}, storageEntryRepository{store}, index.BuildConfig{
		BatchSize:           cfg.Indexing.BatchSize,
		MaxConcurrentBuilds: cfg.Indexing.MaxConcurrentBuilds,
		BuildTimeout:        cfg.Indexing.BuildTimeout,
	}, logger)

	result, err := builder.Build(ctx, tenantID, scanIDs)
	if err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}

	fmt.Printf("status=%s entries_built=%d failed_nodes=%d\n", result.Status, result.EntriesBuilt, len(result.FailedNodes))
	for _, f := range result.FailedNodes {
		fmt.Printf("  failed: node=%s: %s\n", f.NodeID, f.Error)
	}
	return nil
}

func runIndexLookup(cmd *cobra.Command, args []string) error {
	tenantID, externalID := args[0], args[1]
	ctx := context.Background()

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	lookuper, closeCache := newLookuper(ctx, store)
	if closeCache != nil {
		defer closeCache()
	}

	entries, err := lookuper.Lookup(ctx, tenantID, externalID, index.LookupFilter{})
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("  %-20s  %-30s  %s (%s)\n", e.ReferenceType, e.NodeID, e.NodeName, e.FilePath)
	}
	return nil
}

func runIndexReverseLookup(cmd *cobra.Command, args []string) error {
	tenantID, nodeID, scanID := args[0], args[1], args[2]
	ctx := context.Background()

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	lookuper, closeCache := newLookuper(ctx, store)
	if closeCache != nil {
		defer closeCache()
	}

	entries, err := lookuper.ReverseLookup(ctx, tenantID, nodeID, scanID)
	if err != nil {
		return fmt.Errorf("reverse lookup failed: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("no external references")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("  %-20s  %s\n", e.ReferenceType, e.ExternalID)
	}
	return nil
}

// newLookuper wires a Lookuper against the configured store, with a
// best-effort Redis-backed L2 cache tier: if Redis is unreachable, lookups
// still work, cached only in the in-process L1 tier.
func newLookuper(ctx context.Context, store storage.Store) (*index.Lookuper, func()) {
	registry := index.NewRegistry()

	var l2 index.L2Client
	var closeFn func()

	host, portStr, err := net.SplitHostPort(cfg.Cache.L2.Addr)
	if err == nil {
		port, _ := strconv.Atoi(portStr)
		if redisClient, err := cache.NewClient(ctx, host, port, ""); err == nil {
			l2 = redisClient
			closeFn = func() { redisClient.Close() }
		} else {
			logger.WithError(err).Warn("redis unavailable, index lookups will use the in-memory cache only")
		}
	}

	idxCache := index.NewCache(l2, index.CacheSettings{
		L1MaxEntries: cfg.Cache.L1.MaxEntries,
		L1TTL:        cfg.Cache.L1.TTL,
		L2TTL:        cfg.Cache.L2.TTL,
		L2Prefix:     cfg.Cache.L2.Prefix,
	}, logger)

	lookuper := index.NewLookuper(storageEntryRepository{store}, idxCache, registry, index.LookupConfig{
		MaxLookupResults: cfg.Performance.MaxLookupResults,
		MaxBatchLookup:   cfg.Performance.MaxBatchLookupSize,
	})
	return lookuper, closeFn
}
