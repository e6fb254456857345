package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/iacgraph/depgraph/internal/errors"
	"github.com/iacgraph/depgraph/internal/models"
)

// BuildStatus is the closed set of outcomes for one index build.
type BuildStatus string

const (
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusPartial   BuildStatus = "partial"
	BuildStatusFailed    BuildStatus = "failed"
)

// NodeFailure records one node that couldn't be indexed, keeping the
// rest of the build going rather than aborting on the first bad node.
type NodeFailure struct {
	NodeID string
	Error  string
}

// BuildResult summarizes one index build run.
type BuildResult struct {
	TenantID     string
	ScanIDs      []string
	Status       BuildStatus
	EntriesBuilt int
	FailedNodes  []NodeFailure
	StartedAt    time.Time
	CompletedAt  time.Time
}

// GraphSource fetches the graph for one scan so the index builder stays
// independent of how scans are persisted, the same separation
// internal/rollup.ScanLoader draws for repositories.
type GraphSource interface {
	LoadGraph(ctx context.Context, scanID string) (*models.DependencyGraph, string, error) // returns graph, repositoryID
}

// EntryStore is where built ExternalObjectEntry rows land. Persistence
// lives in internal/storage; the builder only knows it can write
// batches of entries.
type EntryStore interface {
	PutEntries(ctx context.Context, entries []models.ExternalObjectEntry) error
}

// BuildConfig controls one Builder's batching, concurrency, and deadline
// behavior. Zero values are replaced by the defaults noted per field.
type BuildConfig struct {
	BatchSize           int // default 1000
	MaxConcurrentBuilds int // default 3
	BuildTimeout        time.Duration // default 5 minutes
}

func (c BuildConfig) withDefaults() BuildConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.MaxConcurrentBuilds <= 0 {
		c.MaxConcurrentBuilds = 3
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = 5 * time.Minute
	}
	return c
}

// Builder runs incremental External Object Index builds: one
// (tenantID, scanID) pair at a time, idempotent, batched, with
// per-node error collection instead of all-or-nothing failure.
type Builder struct {
	registry *Registry
	source   GraphSource
	store    EntryStore
	config   BuildConfig
	logger   *logrus.Logger

	group singleflight.Group
}

// NewBuilder constructs a Builder. logger may be nil, in which case a
// logrus.Logger with standard defaults is used.
func NewBuilder(registry *Registry, source GraphSource, store EntryStore, config BuildConfig, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Builder{
		registry: registry,
		source:   source,
		store:    store,
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// Build indexes every scan in scanIDs for tenantID. Concurrent calls for
// the same (tenantID, scanIDs) key are deduplicated via singleflight so
// a retry storm or a duplicate trigger doesn't redo the same work twice
// in parallel; calls for different keys run independently up to
// MaxConcurrentBuilds scans at a time.
func (b *Builder) Build(ctx context.Context, tenantID string, scanIDs []string) (BuildResult, error) {
	key := tenantID + "/" + fmt.Sprint(scanIDs)
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		return b.build(ctx, tenantID, scanIDs)
	})
	if err != nil {
		if r, ok := v.(BuildResult); ok {
			return r, err
		}
		return BuildResult{}, err
	}
	return v.(BuildResult), nil
}

func (b *Builder) build(ctx context.Context, tenantID string, scanIDs []string) (BuildResult, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, b.config.BuildTimeout)
	defer cancel()

	b.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"scans":     len(scanIDs),
	}).Info("index build starting")

	var mu sync.Mutex
	var failed []NodeFailure
	entriesBuilt := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.MaxConcurrentBuilds)
	for _, scanID := range scanIDs {
		scanID := scanID
		g.Go(func() error {
			n, nodeFailures, err := b.buildOne(gctx, tenantID, scanID)
			if err != nil {
				return err
			}
			mu.Lock()
			entriesBuilt += n
			failed = append(failed, nodeFailures...)
			mu.Unlock()
			return nil
		})
	}

	result := BuildResult{TenantID: tenantID, ScanIDs: scanIDs, StartedAt: started}
	if err := g.Wait(); err != nil {
		result.CompletedAt = time.Now()
		result.Status = BuildStatusFailed
		b.logger.WithError(err).WithField("tenant_id", tenantID).Error("index build failed")
		return result, err
	}

	result.CompletedAt = time.Now()
	result.EntriesBuilt = entriesBuilt
	result.FailedNodes = failed

	switch {
	case len(failed) > 0 && entriesBuilt > 0:
		result.Status = BuildStatusPartial
	case len(failed) > 0 && entriesBuilt == 0:
		result.Status = BuildStatusFailed
	default:
		result.Status = BuildStatusCompleted
	}

	b.logger.WithFields(logrus.Fields{
		"tenant_id":     tenantID,
		"status":        result.Status,
		"entries_built": entriesBuilt,
		"failed_nodes":  len(failed),
		"duration":      result.CompletedAt.Sub(started).String(),
	}).Info("index build completed")

	return result, nil
}

// buildOne indexes a single scan, batching entries by BatchSize and
// writing each batch as it fills so a single huge scan doesn't hold
// every entry in memory before the first write.
func (b *Builder) buildOne(ctx context.Context, tenantID, scanID string) (int, []NodeFailure, error) {
	graph, repositoryID, err := b.source.LoadGraph(ctx, scanID)
	if err != nil {
		return 0, nil, errors.Wrapf(err, errors.CodeExecutionFailed, "load graph for scan %s", scanID)
	}
	if graph == nil {
		return 0, nil, nil
	}

	var failures []NodeFailure
	var batch []models.ExternalObjectEntry
	total := 0
	now := time.Now()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.store.PutEntries(ctx, batch); err != nil {
			return errors.Wrapf(err, errors.CodeIndexBuildFailed, "write entry batch for scan %s", scanID)
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, nodeID := range graph.NodeOrder {
		node, ok := graph.Nodes[nodeID]
		if !ok {
			continue
		}
		for _, typ := range b.registry.order {
			if !typ.CanHandle(node) {
				continue
			}
			for _, ref := range typ.Extract(node) {
				entry := models.ExternalObjectEntry{
					ExternalID:    ref.ExternalID,
					ReferenceType: typ.Type(),
					NormalizedID:  typ.Normalize(ref.ExternalID),
					Components:    ref.Components,
					TenantID:      tenantID,
					RepositoryID:  repositoryID,
					ScanID:        scanID,
					NodeID:        node.ID,
					NodeName:      node.Name,
					NodeKind:      node.Kind,
					FilePath:      node.Location.FilePath,
					IndexedAt:     now,
				}
				batch = append(batch, entry)
				if len(batch) >= b.config.BatchSize {
					if err := flush(); err != nil {
						failures = append(failures, NodeFailure{NodeID: node.ID, Error: err.Error()})
					}
				}
			}
		}
	}
	if err := flush(); err != nil {
		failures = append(failures, NodeFailure{NodeID: "<final batch>", Error: err.Error()})
	}

	return total, failures, nil
}
