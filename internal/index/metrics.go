package index

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MetricsRecorder accumulates build and lookup outcomes for the External
// Object Index. As with internal/rollup.MetricsRecorder, there's no
// metrics-library dependency anywhere in the pack, so this is an
// in-memory counter set surfaced through structured logrus fields rather
// than a Prometheus client nothing else in the codebase imports.
type MetricsRecorder struct {
	mu     sync.Mutex
	build  buildMetrics
	lookup lookupMetrics
	logger *logrus.Logger
}

type buildMetrics struct {
	runs          int
	partial       int
	failed        int
	entriesBuilt  int
	totalDuration time.Duration
}

type lookupMetrics struct {
	hits         int
	misses       int
	cacheHits    int
	totalLatency time.Duration
}

// NewMetricsRecorder builds a recorder. logger may be nil, in which case
// a logrus.Logger with standard defaults is used.
func NewMetricsRecorder(logger *logrus.Logger) *MetricsRecorder {
	if logger == nil {
		logger = logrus.New()
	}
	return &MetricsRecorder{logger: logger}
}

// RecordBuild folds one BuildResult into the running totals.
func (m *MetricsRecorder) RecordBuild(result BuildResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.build.runs++
	m.build.entriesBuilt += result.EntriesBuilt
	m.build.totalDuration += result.CompletedAt.Sub(result.StartedAt)
	switch result.Status {
	case BuildStatusPartial:
		m.build.partial++
	case BuildStatusFailed:
		m.build.failed++
	}

	m.logger.WithFields(logrus.Fields{
		"tenant_id":     result.TenantID,
		"status":        result.Status,
		"entries_built": result.EntriesBuilt,
		"failed_nodes":  len(result.FailedNodes),
	}).Info("index build metrics")
}

// RecordLookup folds one lookup's outcome into the running totals. hit
// reports whether any entries were found; cacheHit reports whether the
// result was served from L1 or L2 rather than the backing repository.
func (m *MetricsRecorder) RecordLookup(hit, cacheHit bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hit {
		m.lookup.hits++
	} else {
		m.lookup.misses++
	}
	if cacheHit {
		m.lookup.cacheHits++
	}
	m.lookup.totalLatency += latency
}

// Snapshot is a point-in-time summary of the index's metrics.
type Snapshot struct {
	BuildRuns          int
	BuildPartial       int
	BuildFailed        int
	EntriesBuilt       int
	AverageBuildTime   time.Duration
	LookupHits         int
	LookupMisses       int
	CacheHitRate       float64
	AverageLookupTime  time.Duration
}

// Snapshot returns the current aggregate metrics.
func (m *MetricsRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avgBuild time.Duration
	if m.build.runs > 0 {
		avgBuild = m.build.totalDuration / time.Duration(m.build.runs)
	}
	totalLookups := m.lookup.hits + m.lookup.misses
	var avgLookup time.Duration
	var hitRate float64
	if totalLookups > 0 {
		avgLookup = m.lookup.totalLatency / time.Duration(totalLookups)
		hitRate = float64(m.lookup.cacheHits) / float64(totalLookups)
	}

	return Snapshot{
		BuildRuns:         m.build.runs,
		BuildPartial:      m.build.partial,
		BuildFailed:       m.build.failed,
		EntriesBuilt:      m.build.entriesBuilt,
		AverageBuildTime:  avgBuild,
		LookupHits:        m.lookup.hits,
		LookupMisses:      m.lookup.misses,
		CacheHitRate:      hitRate,
		AverageLookupTime: avgLookup,
	}
}
