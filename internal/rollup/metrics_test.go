package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iacgraph/depgraph/internal/models"
)

func TestMetricsRecorder_Snapshot_UnknownRollup(t *testing.T) {
	rec := NewMetricsRecorder(nil)
	snap := rec.Snapshot("missing")
	assert.Equal(t, 0, snap.Executions)
}

func TestMetricsRecorder_AccumulatesAcrossExecutions(t *testing.T) {
	rec := NewMetricsRecorder(nil)
	start1 := time.Now().Add(-2 * time.Second)
	end1 := start1.Add(time.Second)
	start2 := time.Now().Add(-4 * time.Second)
	end2 := start2.Add(3 * time.Second)

	rec.Record(models.RollupExecution{
		RollupID: "r1", Status: models.RollupExecutionStatusCompleted,
		StartedAt: &start1, CompletedAt: &end1,
		Stats: models.RollupExecutionStats{MergedNodeCount: 5},
	})
	rec.Record(models.RollupExecution{
		RollupID: "r1", Status: models.RollupExecutionStatusFailed,
		StartedAt: &start2, CompletedAt: &end2,
	})

	snap := rec.Snapshot("r1")
	assert.Equal(t, 2, snap.Executions)
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, models.RollupExecutionStatusFailed, snap.LastStatus, "last recorded execution wins")
	assert.Equal(t, 2*time.Second, snap.AverageDuration)
}

func TestMetricsRecorder_TracksSeparateRollupsIndependently(t *testing.T) {
	rec := NewMetricsRecorder(nil)
	rec.Record(models.RollupExecution{RollupID: "r1", Status: models.RollupExecutionStatusCompleted})
	rec.Record(models.RollupExecution{RollupID: "r2", Status: models.RollupExecutionStatusCompleted})

	assert.Equal(t, 1, rec.Snapshot("r1").Executions)
	assert.Equal(t, 1, rec.Snapshot("r2").Executions)
}
