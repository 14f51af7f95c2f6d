// Package scheduler runs background work for the sync layer: a bounded
// worker pool for stale-while-revalidate refreshes and a cron trigger for
// periodic sync-checks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a refresh job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobFunc is the work of one job
type JobFunc func(ctx context.Context) error

// Job is one queued refresh
type Job struct {
	ID          uuid.UUID
	Key         string
	Status      JobStatus
	Error       string
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	run JobFunc
}

// NewJob creates a pending job for key
func NewJob(key string, run JobFunc) *Job {
	return &Job{
		ID:         uuid.New(),
		Key:        key,
		Status:     JobStatusPending,
		EnqueuedAt: time.Now(),
		run:        run,
	}
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// QueueConfig holds refresh queue configuration
type QueueConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// DefaultQueueConfig returns default refresh queue configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:    2,
		QueueSize:  32,
		JobTimeout: 30 * time.Second,
	}
}

// RefreshQueue is a bounded worker pool. At most one job per key is pending
// or running at a time.
type RefreshQueue struct {
	config QueueConfig
	logger *zap.Logger

	jobs      chan *Job
	inFlight  map[string]struct{}
	onDone    func(job *Job)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewRefreshQueue creates a stopped queue
func NewRefreshQueue(config QueueConfig, logger *zap.Logger) *RefreshQueue {
	def := DefaultQueueConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshQueue{
		config:   config,
		logger:   logger,
		jobs:     make(chan *Job, config.QueueSize),
		inFlight: make(map[string]struct{}),
	}
}

// OnDone registers a hook called after every job finishes. Set it before Start.
func (q *RefreshQueue) OnDone(fn func(job *Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDone = fn
}

// Start starts the worker pool. Jobs run under a context derived from ctx.
func (q *RefreshQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return nil
	}
	q.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info("Refresh queue started",
		zap.Int("workers", q.config.Workers),
		zap.Int("queue_size", q.config.QueueSize),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers. Pending jobs are
// discarded, so their keys can be submitted again after a restart.
func (q *RefreshQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Refresh queue stopped", zap.Int("discarded", q.discardPending()))
		return nil
	case <-ctx.Done():
		q.logger.Warn("Refresh queue stop timed out", zap.Int("discarded", q.discardPending()))
		return ctx.Err()
	}
}

// discardPending drops every queued job that no worker picked up
func (q *RefreshQueue) discardPending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for {
		select {
		case job := <-q.jobs:
			job.Fail("refresh queue stopped")
			delete(q.inFlight, job.Key)
			n++
		default:
			return n
		}
	}
}

// IsRunning reports whether the queue accepts jobs
func (q *RefreshQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isRunning
}

// Submit enqueues run under key without blocking
func (q *RefreshQueue) Submit(key string, run JobFunc) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrNotRunning
	}
	if _, busy := q.inFlight[key]; busy {
		return nil, ErrAlreadyQueued
	}

	job := NewJob(key, run)
	select {
	case q.jobs <- job:
		q.inFlight[key] = struct{}{}
		q.logger.Debug("Refresh job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("dataset", key),
		)
		return job, nil
	default:
		return nil, ErrQueueFull
	}
}

// Pending returns the number of jobs waiting or running
func (q *RefreshQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

func (q *RefreshQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.processJob(ctx, job, workerID)
		}
	}
}

func (q *RefreshQueue) processJob(ctx context.Context, job *Job, workerID int) {
	defer q.finish(job)

	job.Start()
	jobCtx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
	defer cancel()

	if err := q.safeRun(jobCtx, job); err != nil {
		job.Fail(err.Error())
		q.logger.Warn("Refresh job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("dataset", job.Key),
			zap.Error(err),
		)
		return
	}

	job.Complete()
	q.logger.Debug("Refresh job completed",
		zap.Int("worker_id", workerID),
		zap.String("dataset", job.Key),
		zap.Duration("latency", job.CompletedAt.Sub(job.EnqueuedAt)),
	)
}

// safeRun turns a panicking job into a failed one
func (q *RefreshQueue) safeRun(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return job.run(ctx)
}

func (q *RefreshQueue) finish(job *Job) {
	q.mu.Lock()
	delete(q.inFlight, job.Key)
	onDone := q.onDone
	q.mu.Unlock()

	if onDone != nil {
		onDone(job)
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "refresh job panicked: " + toString(e.value)
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return "non-error panic value"
	}
}
