package index

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWarmer struct {
	mu        sync.Mutex
	failUntil int
	calls     map[string]int
}

func (f *fakeWarmer) Warm(ctx context.Context, job *WarmJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[job.ID]++
	if f.calls[job.ID] <= f.failUntil {
		return assert.AnError
	}
	return nil
}

func (f *fakeWarmer) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestWarmingProcessor_Enqueue_OrdersByPriorityDescending(t *testing.T) {
	p := NewWarmingProcessor(&fakeWarmer{}, WarmingConfig{}, nil)
	low := &WarmJob{ID: "low", Priority: WarmPriorityLow}
	high := &WarmJob{ID: "high", Priority: WarmPriorityHigh}
	normal := &WarmJob{ID: "normal", Priority: WarmPriorityNormal}

	p.Enqueue(low)
	p.Enqueue(high)
	p.Enqueue(normal)

	require.Len(t, p.queue, 3)
	assert.Equal(t, "high", p.queue[0].ID)
	assert.Equal(t, "normal", p.queue[1].ID)
	assert.Equal(t, "low", p.queue[2].ID)
}

func TestWarmingProcessor_Cancel_OnlyBeforeStart(t *testing.T) {
	p := NewWarmingProcessor(&fakeWarmer{}, WarmingConfig{}, nil)
	job := &WarmJob{ID: "j1", status: WarmJobPending}

	assert.True(t, p.Cancel(job))
	assert.Equal(t, WarmJobCancelled, job.Status())

	active := &WarmJob{ID: "j2", status: WarmJobActive}
	assert.False(t, p.Cancel(active), "a running job cannot be cancelled")
}

func TestBackoff_GrowsExponentiallyAndCaps(t *testing.T) {
	cfg := WarmingConfig{RetryDelay: time.Second, RetryMultiplier: 2, MaxRetryDelay: 3 * time.Second}.withDefaults()

	assert.Equal(t, time.Second, backoff(cfg, 1))
	assert.Equal(t, 2*time.Second, backoff(cfg, 2))
	assert.Equal(t, 3*time.Second, backoff(cfg, 3), "capped at MaxRetryDelay")
}

func TestTargetTypeSet(t *testing.T) {
	set := targetTypeSet([]WarmTargetType{WarmTargetMergedGraph, WarmTargetBlastRadius})
	assert.True(t, set[WarmTargetMergedGraph])
	assert.True(t, set[WarmTargetBlastRadius])
	assert.False(t, set[WarmTargetExecutionResult])
}

func TestWarmingProcessor_Run_CompletesSuccessfulJob(t *testing.T) {
	warmer := &fakeWarmer{}
	p := NewWarmingProcessor(warmer, WarmingConfig{MaxConcurrency: 2, MaxJobsPerSecond: 100}, nil)
	job := &WarmJob{ID: "ok", Priority: WarmPriorityNormal}
	p.Enqueue(job)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.Equal(t, WarmJobCompleted, job.Status())
	assert.Equal(t, 1, warmer.callCount("ok"))
}

func TestWarmingProcessor_Run_RetriesThenFailsPermanently(t *testing.T) {
	warmer := &fakeWarmer{failUntil: 10}
	p := NewWarmingProcessor(warmer, WarmingConfig{
		MaxConcurrency:   2,
		MaxJobsPerSecond: 100,
		RetryDelay:       5 * time.Millisecond,
		RetryMultiplier:  1,
		MaxAttempts:      2,
	}, nil)
	job := &WarmJob{ID: "always-fails", Priority: WarmPriorityNormal}
	p.Enqueue(job)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.Equal(t, WarmJobFailed, job.Status())
	assert.GreaterOrEqual(t, warmer.callCount("always-fails"), 2)
}
