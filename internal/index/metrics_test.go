package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecorder_Snapshot_Empty(t *testing.T) {
	rec := NewMetricsRecorder(nil)
	snap := rec.Snapshot()
	assert.Equal(t, 0, snap.BuildRuns)
	assert.Equal(t, 0, snap.LookupHits)
	assert.Zero(t, snap.CacheHitRate)
}

func TestMetricsRecorder_RecordBuild_AccumulatesByStatus(t *testing.T) {
	rec := NewMetricsRecorder(nil)
	start := time.Now().Add(-2 * time.Second)

	rec.RecordBuild(BuildResult{Status: BuildStatusCompleted, EntriesBuilt: 5, StartedAt: start, CompletedAt: start.Add(time.Second)})
	rec.RecordBuild(BuildResult{Status: BuildStatusPartial, EntriesBuilt: 2, StartedAt: start, CompletedAt: start.Add(3 * time.Second)})
	rec.RecordBuild(BuildResult{Status: BuildStatusFailed, StartedAt: start, CompletedAt: start})

	snap := rec.Snapshot()
	assert.Equal(t, 3, snap.BuildRuns)
	assert.Equal(t, 1, snap.BuildPartial)
	assert.Equal(t, 1, snap.BuildFailed)
	assert.Equal(t, 7, snap.EntriesBuilt)
	assert.Equal(t, (1*time.Second+3*time.Second+0)/3, snap.AverageBuildTime)
}

func TestMetricsRecorder_RecordLookup_TracksHitsMissesAndCacheRate(t *testing.T) {
	rec := NewMetricsRecorder(nil)
	rec.RecordLookup(true, true, 10*time.Millisecond)
	rec.RecordLookup(true, false, 20*time.Millisecond)
	rec.RecordLookup(false, false, 5*time.Millisecond)

	snap := rec.Snapshot()
	assert.Equal(t, 2, snap.LookupHits)
	assert.Equal(t, 1, snap.LookupMisses)
	assert.InDelta(t, 1.0/3.0, snap.CacheHitRate, 0.0001)
	assert.Equal(t, (10+20+5)*time.Millisecond/3, snap.AverageLookupTime)
}
