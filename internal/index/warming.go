package index

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// WarmPriority orders warming jobs within the queue; higher runs first.
type WarmPriority int

const (
	WarmPriorityBackground WarmPriority = 1
	WarmPriorityLow        WarmPriority = 3
	WarmPriorityNormal     WarmPriority = 5
	WarmPriorityHigh       WarmPriority = 7
	WarmPriorityCritical   WarmPriority = 10
)

// WarmTargetType is what a warming job preloads into the cache.
type WarmTargetType string

const (
	WarmTargetExecutionResult WarmTargetType = "execution_result"
	WarmTargetMergedGraph     WarmTargetType = "merged_graph"
	WarmTargetBlastRadius     WarmTargetType = "blast_radius"
)

// WarmJobStatus is the closed set of states a warming job moves through:
// pending -> active -> (completed | failed | delayed); a delayed job goes
// back to pending when it is re-queued for its next attempt. Any job that
// is not active or completed can be moved to cancelled.
type WarmJobStatus string

const (
	WarmJobPending   WarmJobStatus = "pending"
	WarmJobActive    WarmJobStatus = "active"
	WarmJobCompleted WarmJobStatus = "completed"
	WarmJobFailed    WarmJobStatus = "failed"
	WarmJobDelayed   WarmJobStatus = "delayed"
	WarmJobCancelled WarmJobStatus = "cancelled"
)

// WarmJob describes one unit of cache-warming work.
type WarmJob struct {
	ID            string
	TenantID      string
	Priority      WarmPriority
	TargetTypes   []WarmTargetType
	RollupIDs     []string
	ExecutionIDs  []string
	ForceRefresh  bool
	MaxItems      int

	status  WarmJobStatus
	attempt int
	mu      sync.Mutex
}

func (j *WarmJob) setStatus(s WarmJobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// Status returns the job's current state.
func (j *WarmJob) Status() WarmJobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Warmer is the work a warming job actually performs: preload whatever
// the job targets into the Cache. Supplied by the caller so this package
// doesn't need to know how rollup executions or blast-radius results are
// computed.
type Warmer interface {
	Warm(ctx context.Context, job *WarmJob) error
}

// WarmingConfig bounds the warming processor's concurrency, rate, and
// retry behavior.
type WarmingConfig struct {
	MaxConcurrency  int           // default 5
	MaxJobsPerSecond float64      // default 10
	RetryDelay      time.Duration // default 1s, base for exponential backoff
	RetryMultiplier float64       // default 2
	MaxRetryDelay   time.Duration // default 30s
	MaxAttempts     int           // default 3
}

func (c WarmingConfig) withDefaults() WarmingConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.MaxJobsPerSecond <= 0 {
		c.MaxJobsPerSecond = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = 2
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// WarmingProcessor runs WarmJobs off a priority queue, bounded by a
// token-bucket rate limiter and a worker pool, retrying failed jobs with
// exponential backoff up to MaxAttempts before marking them failed.
type WarmingProcessor struct {
	warmer  Warmer
	config  WarmingConfig
	limiter *rate.Limiter
	logger  *logrus.Logger

	mu    sync.Mutex
	queue []*WarmJob // kept sorted by priority desc on insert

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWarmingProcessor builds a processor. logger may be nil, in which
// case a logrus.Logger with standard defaults is used.
func NewWarmingProcessor(warmer Warmer, config WarmingConfig, logger *logrus.Logger) *WarmingProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	config = config.withDefaults()
	return &WarmingProcessor{
		warmer:  warmer,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.MaxJobsPerSecond), int(config.MaxJobsPerSecond)),
		logger:  logger,
		sem:     make(chan struct{}, config.MaxConcurrency),
	}
}

// Enqueue adds job to the queue, inserted in priority order (ties keep
// insertion order).
func (p *WarmingProcessor) Enqueue(job *WarmJob) {
	job.setStatus(WarmJobPending)
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.queue)
	for i, existing := range p.queue {
		if existing.Priority < job.Priority {
			idx = i
			break
		}
	}
	p.queue = append(p.queue, nil)
	copy(p.queue[idx+1:], p.queue[idx:])
	p.queue[idx] = job
}

// Cancel transitions job to cancelled unless it is active or completed,
// and reports whether it did.
func (p *WarmingProcessor) Cancel(job *WarmJob) bool {
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.status == WarmJobActive || job.status == WarmJobCompleted {
		return false
	}
	job.status = WarmJobCancelled
	return true
}

// Run drains the queue until ctx is cancelled, dispatching jobs to
// workers bounded by MaxConcurrency and MaxJobsPerSecond.
func (p *WarmingProcessor) Run(ctx context.Context) {
	for {
		job := p.dequeue()
		if job == nil {
			select {
			case <-ctx.Done():
				p.wg.Wait()
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		if job.Status() == WarmJobCancelled {
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			p.wg.Wait()
			return
		}

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			p.wg.Wait()
			return
		}

		p.wg.Add(1)
		go func(j *WarmJob) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.runJob(ctx, j)
		}(job)
	}
}

func (p *WarmingProcessor) dequeue() *WarmJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	job := p.queue[0]
	p.queue = p.queue[1:]
	return job
}

func (p *WarmingProcessor) runJob(ctx context.Context, job *WarmJob) {
	job.setStatus(WarmJobActive)
	job.mu.Lock()
	job.attempt++
	attempt := job.attempt
	job.mu.Unlock()

	err := p.warmer.Warm(ctx, job)
	if err == nil {
		job.setStatus(WarmJobCompleted)
		return
	}

	if attempt >= p.config.MaxAttempts {
		job.setStatus(WarmJobFailed)
		p.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": job.ID, "tenant_id": job.TenantID, "attempts": attempt,
		}).Error("cache warming job failed permanently")
		return
	}

	job.setStatus(WarmJobDelayed)
	delay := backoff(p.config, attempt)
	p.logger.WithError(err).WithFields(logrus.Fields{
		"job_id": job.ID, "attempt": attempt, "retry_in": delay.String(),
	}).Warn("cache warming job failed, retrying")

	go func() {
		select {
		case <-time.After(delay):
			if job.Status() != WarmJobCancelled {
				p.Enqueue(job)
			}
		case <-ctx.Done():
		}
	}()
}

func backoff(c WarmingConfig, attempt int) time.Duration {
	d := float64(c.RetryDelay)
	for i := 1; i < attempt; i++ {
		d *= c.RetryMultiplier
	}
	capped := time.Duration(d)
	if capped > c.MaxRetryDelay {
		capped = c.MaxRetryDelay
	}
	return capped
}

// targetTypeSet is a small helper warmers use to check whether a job
// asked for a given target type.
func targetTypeSet(types []WarmTargetType) map[WarmTargetType]bool {
	out := make(map[WarmTargetType]bool, len(types))
	for _, t := range types {
		out[t] = true
	}
	return out
}
