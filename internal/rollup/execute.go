package rollup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iacgraph/depgraph/internal/errors"
	"github.com/iacgraph/depgraph/internal/models"
)

// ScanLoader fetches the latest completed scan's graph for a repository.
// The Rollup Engine doesn't know how scans are persisted; the executor's
// caller supplies this so internal/rollup stays independent of
// internal/storage.
type ScanLoader interface {
	LoadLatestGraph(ctx context.Context, repositoryID string) (*models.DependencyGraph, error)
}

// keyedLock hands out one *sync.Mutex per key, reference-counted so the
// map doesn't grow unbounded across the executor's lifetime. Used to
// serialize concurrent executions of the same (tenant, rollup) pair
// without serializing unrelated rollups against each other.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*refCountedMutex
}

type refCountedMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: map[string]*refCountedMutex{}}
}

func (k *keyedLock) Lock(key string) func() {
	k.mu.Lock()
	rm, ok := k.locks[key]
	if !ok {
		rm = &refCountedMutex{}
		k.locks[key] = rm
	}
	rm.refs++
	k.mu.Unlock()

	rm.mu.Lock()
	return func() {
		rm.mu.Unlock()
		k.mu.Lock()
		rm.refs--
		if rm.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Executor runs RollupConfigs: it loads each referenced repository's
// latest scan graph, evaluates matchers in parallel bounded by
// config.RollupLimits.ParallelWorkers, merges the result, and rewrites
// edges into the merged id space. Executions of the same (tenant,
// rollup id) pair are serialized against each other so two concurrent
// triggers of one rollup (e.g. a manual run racing its cron schedule)
// can't interleave and corrupt each other's merged output; executions of
// different rollups proceed concurrently.
type Executor struct {
	registry        *Registry
	loader          ScanLoader
	parallelWorkers int
	maxMatchers     int
	logger          *logrus.Logger
	locks           *keyedLock
}

// NewExecutor builds an Executor. parallelWorkers and maxMatchers come
// from config.RollupLimits; logger may be nil, in which case a
// logrus.Logger with standard defaults is used.
func NewExecutor(registry *Registry, loader ScanLoader, parallelWorkers, maxMatchers int, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	if parallelWorkers < 1 {
		parallelWorkers = 1
	}
	return &Executor{
		registry:        registry,
		loader:          loader,
		parallelWorkers: parallelWorkers,
		maxMatchers:     maxMatchers,
		logger:          logger,
		locks:           newKeyedLock(),
	}
}

// Execute runs one RollupConfig to completion and returns the resulting
// RollupExecution record, the merged graph, and any error. On matcher or
// load failure the returned RollupExecution still has Status set to
// RollupExecutionStatusFailed with ErrorMessage populated, so callers can
// persist a failed execution record rather than losing the attempt.
func (ex *Executor) Execute(ctx context.Context, cfg models.RollupConfig) (models.RollupExecution, *MergedGraph, error) {
	unlock := ex.locks.Lock(cfg.TenantID + "/" + cfg.ID)
	defer unlock()

	started := time.Now()
	execution := models.RollupExecution{
		ID:        "exec." + uuid.NewString(),
		RollupID:  cfg.ID,
		TenantID:  cfg.TenantID,
		Status:    models.RollupExecutionStatusRunning,
		StartedAt: &started,
	}

	ex.logger.WithFields(logrus.Fields{
		"rollup_id": cfg.ID,
		"tenant_id": cfg.TenantID,
		"repos":     len(cfg.RepositoryIDs),
	}).Info("rollup execution starting")

	if err := ValidateMatchers(ex.registry, cfg.Matchers, ex.maxMatchers); err != nil {
		return ex.fail(execution, err)
	}

	repos, scanIDs, err := ex.loadRepos(ctx, cfg)
	if err != nil {
		return ex.fail(execution, err)
	}
	execution.ScanIDs = scanIDs
	execution.Stats.ScansProcessed = len(repos)

	nodesConsidered := 0
	for _, rg := range repos {
		nodesConsidered += len(rg.Graph.Nodes)
	}
	execution.Stats.NodesConsidered = nodesConsidered

	matches := ex.matchParallel(ctx, repos, cfg.Matchers)
	execution.Stats.MatchesFound = len(matches)

	mergedNodes := BuildMergedNodes(repos, matches, cfg.MergeOptions)
	execution.Stats.MergedNodeCount = len(mergedNodes)

	edges := RewriteEdges(repos, mergedNodes, cfg.MergeOptions)
	execution.Stats.MergedEdgeCount = len(edges)
	for _, e := range edges {
		if e.Metadata["crossRepo"] == "true" {
			execution.Stats.CrossRepoEdges++
		}
	}

	graph := buildMergedGraph(repos, mergedNodes, edges, cfg.IncludeKinds, cfg.ExcludeKinds)

	completed := time.Now()
	execution.CompletedAt = &completed
	execution.Status = models.RollupExecutionStatusCompleted

	ex.logger.WithFields(logrus.Fields{
		"rollup_id":    cfg.ID,
		"merged_nodes": execution.Stats.MergedNodeCount,
		"merged_edges": execution.Stats.MergedEdgeCount,
		"duration":     completed.Sub(started).String(),
	}).Info("rollup execution completed")

	return execution, graph, nil
}

func (ex *Executor) fail(execution models.RollupExecution, err error) (models.RollupExecution, *MergedGraph, error) {
	completed := time.Now()
	execution.CompletedAt = &completed
	execution.Status = models.RollupExecutionStatusFailed
	execution.ErrorMessage = err.Error()
	ex.logger.WithError(err).WithField("rollup_id", execution.RollupID).Error("rollup execution failed")
	return execution, nil, err
}

func (ex *Executor) loadRepos(ctx context.Context, cfg models.RollupConfig) ([]RepoGraph, []string, error) {
	repos := make([]RepoGraph, len(cfg.RepositoryIDs))
	scanIDs := make([]string, len(cfg.RepositoryIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ex.parallelWorkers)
	for i, repoID := range cfg.RepositoryIDs {
		i, repoID := i, repoID
		g.Go(func() error {
			graph, err := ex.loader.LoadLatestGraph(gctx, repoID)
			if err != nil {
				return errors.Wrapf(err, errors.CodeExecutionFailed, "load graph for repository %s", repoID)
			}
			repos[i] = RepoGraph{RepositoryID: repoID, Graph: graph}
			if graph != nil {
				scanIDs[i] = graph.ScanID
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return repos, scanIDs, nil
}

// matchParallel evaluates independent matcher configs concurrently,
// bounded by ex.parallelWorkers, then concatenates their results.
// Matchers are independent of each other (each produces its own
// candidate pairs over the full node set), so there's no need to
// serialize them the way MatchCandidates does internally per-matcher;
// the concurrency here is across matcher configs, while MatchCandidates
// itself still does the O(n^2)-within-bucket work for one matcher at a
// time on whichever goroutine runs it.
func (ex *Executor) matchParallel(ctx context.Context, repos []RepoGraph, matcherConfigs []models.MatcherConfig) []models.MatchResult {
	enabled := make([]models.MatcherConfig, 0, len(matcherConfigs))
	for _, c := range matcherConfigs {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}

	var mu sync.Mutex
	var all []models.MatchResult

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(ex.parallelWorkers)
	for _, cfg := range enabled {
		cfg := cfg
		g.Go(func() error {
			results := MatchCandidates(ex.registry, repos, []models.MatcherConfig{cfg})
			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	// Matcher evaluation can't fail (a bad config was already rejected by
	// ValidateMatchers before Execute got here), so the error is discarded.
	_ = g.Wait()
	return all
}

func buildMergedGraph(repos []RepoGraph, mergedNodes []models.MergedNode, edges []models.Edge, include, exclude []models.NodeKind) *MergedGraph {
	includeSet := map[models.NodeKind]bool{}
	for _, k := range include {
		includeSet[k] = true
	}
	excludeSet := map[models.NodeKind]bool{}
	for _, k := range exclude {
		excludeSet[k] = true
	}
	keep := func(kind models.NodeKind) bool {
		if len(includeSet) > 0 && !includeSet[kind] {
			return false
		}
		return !excludeSet[kind]
	}

	merged := map[string]bool{}
	for _, mn := range mergedNodes {
		for _, id := range mn.SourceNodeIDs {
			merged[id] = true
		}
	}

	nodes := map[string]models.NodeKind{}
	for _, mn := range mergedNodes {
		if keep(mn.NodeKind) {
			nodes[mn.ID] = mn.NodeKind
		}
	}
	for _, rg := range repos {
		for id, n := range rg.Graph.Nodes {
			if merged[id] || !keep(n.Kind) {
				continue
			}
			nodes[id] = n.Kind
		}
	}

	return &MergedGraph{Nodes: nodes, Edges: edges}
}
