package rollup

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iacgraph/depgraph/internal/models"
)

// MetricsRecorder accumulates RollupExecutionStats across executions of
// every rollup an Executor runs, for operators who want aggregate counts
// without standing up a separate metrics backend. There's no Prometheus
// (or similar) dependency anywhere in the pack, so this stays an
// in-memory counter set surfaced through the same structured logger the
// rest of the engine uses, rather than reaching for a metrics library
// nothing else in the codebase pulls in.
type MetricsRecorder struct {
	mu       sync.Mutex
	byRollup map[string]*rollupMetrics
	logger   *logrus.Logger
}

type rollupMetrics struct {
	executions      int
	failures        int
	totalDuration   time.Duration
	lastStats       models.RollupExecutionStats
	lastStatus      models.RollupExecutionStatus
	lastCompletedAt time.Time
}

// NewMetricsRecorder builds a recorder. logger may be nil, in which case
// a logrus.Logger with standard defaults is used.
func NewMetricsRecorder(logger *logrus.Logger) *MetricsRecorder {
	if logger == nil {
		logger = logrus.New()
	}
	return &MetricsRecorder{byRollup: map[string]*rollupMetrics{}, logger: logger}
}

// Record folds one RollupExecution's outcome into its rollup's running
// totals and emits a structured log line summarizing the execution.
func (m *MetricsRecorder) Record(execution models.RollupExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.byRollup[execution.RollupID]
	if !ok {
		rm = &rollupMetrics{}
		m.byRollup[execution.RollupID] = rm
	}
	rm.executions++
	if execution.Status == models.RollupExecutionStatusFailed {
		rm.failures++
	}
	if execution.StartedAt != nil && execution.CompletedAt != nil {
		rm.totalDuration += execution.CompletedAt.Sub(*execution.StartedAt)
	}
	rm.lastStats = execution.Stats
	rm.lastStatus = execution.Status
	if execution.CompletedAt != nil {
		rm.lastCompletedAt = *execution.CompletedAt
	}

	fields := logrus.Fields{
		"rollup_id":         execution.RollupID,
		"tenant_id":         execution.TenantID,
		"execution_id":      execution.ID,
		"status":            execution.Status,
		"scans_processed":   execution.Stats.ScansProcessed,
		"nodes_considered":  execution.Stats.NodesConsidered,
		"matches_found":     execution.Stats.MatchesFound,
		"merged_node_count": execution.Stats.MergedNodeCount,
		"merged_edge_count": execution.Stats.MergedEdgeCount,
		"cross_repo_edges":  execution.Stats.CrossRepoEdges,
	}
	if execution.Status == models.RollupExecutionStatusFailed {
		m.logger.WithFields(fields).WithField("error", execution.ErrorMessage).Warn("rollup execution metrics")
	} else {
		m.logger.WithFields(fields).Info("rollup execution metrics")
	}
}

// Snapshot is a point-in-time summary of one rollup's execution history.
type Snapshot struct {
	RollupID        string
	Executions      int
	Failures        int
	AverageDuration time.Duration
	LastStats       models.RollupExecutionStats
	LastStatus      models.RollupExecutionStatus
	LastCompletedAt time.Time
}

// Snapshot returns the current aggregate for rollupID, or the zero value
// (Executions == 0) if no execution has been recorded for it yet.
func (m *MetricsRecorder) Snapshot(rollupID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.byRollup[rollupID]
	if !ok {
		return Snapshot{RollupID: rollupID}
	}
	avg := time.Duration(0)
	if rm.executions > 0 {
		avg = rm.totalDuration / time.Duration(rm.executions)
	}
	return Snapshot{
		RollupID:        rollupID,
		Executions:      rm.executions,
		Failures:        rm.failures,
		AverageDuration: avg,
		LastStats:       rm.lastStats,
		LastStatus:      rm.lastStatus,
		LastCompletedAt: rm.lastCompletedAt,
	}
}
