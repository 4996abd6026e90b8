package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"followsync/pkg/logger"
	"followsync/pkg/retry"
	"followsync/pkg/syncer"
)

// SyncJob represents a single account sync task
type SyncJob struct {
	AccountID string
}

// SyncResult represents the result of a sync job
type SyncResult struct {
	Job      SyncJob
	Result   *syncer.Result
	Error    error
	Attempts int
	Duration time.Duration
}

// Runner performs one account sync
type Runner interface {
	Sync(ctx context.Context, accountID string) (*syncer.Result, error)
}

// Listener is told when a job starts and finishes
type Listener interface {
	SyncStarted(accountID string)
	SyncFinished(accountID string, res *syncer.Result, err error)
}

// RetryCounter counts sync retries
type RetryCounter interface {
	IncSchedulerRetry()
}

// PoolOptions tunes a WorkerPool
type PoolOptions struct {
	// MaxAttempts per job, including the first
	MaxAttempts int
	Backoff     retry.Backoff
	Listener    Listener
	Retries     RetryCounter
	Logger      logger.Logger
}

// WorkerPool manages concurrent sync workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan SyncJob
	resultQueue chan SyncResult
	wg          sync.WaitGroup
	ctx         context.Context
	runner      Runner
	opts        PoolOptions
	logger      logger.Logger
}

// NewWorkerPool creates a new sync worker pool
func NewWorkerPool(numWorkers int, runner Runner, opts PoolOptions) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.HonorRetryAfter{Next: retry.DefaultExponential(), Max: 5 * time.Minute}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan SyncJob, numWorkers*2),
		resultQueue: make(chan SyncResult, numWorkers),
		ctx:         context.Background(),
		runner:      runner,
		opts:        opts,
		logger:      opts.Logger,
	}
}

// Start launches the workers. Jobs still queued when ctx ends are reported
// with the context error instead of being run.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx = ctx
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers to drain it and closes the
// result channel.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.logger.Debug("Worker pool stopped")
}

// Submit adds a new sync job to the queue
func (wp *WorkerPool) Submit(job SyncJob) error {
	select {
	case wp.jobQueue <- job:
		wp.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"account_id": job.AccountID,
		})
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel for consuming sync results
func (wp *WorkerPool) Results() <-chan SyncResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		if err := wp.ctx.Err(); err != nil {
			wp.resultQueue <- SyncResult{Job: job, Error: err}
			continue
		}
		wp.resultQueue <- wp.processJob(job, id)
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// processJob runs one sync, retrying transient upstream failures with
// backoff.
func (wp *WorkerPool) processJob(job SyncJob, workerID int) SyncResult {
	start := time.Now()
	log := wp.logger.WithFields(map[string]interface{}{
		"worker_id":  workerID,
		"account_id": job.AccountID,
	})

	if wp.opts.Listener != nil {
		wp.opts.Listener.SyncStarted(job.AccountID)
	}

	result := SyncResult{Job: job}
	cfg := &retry.Config{
		MaxAttempts: wp.opts.MaxAttempts,
		Backoff:     wp.opts.Backoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     wp.ctx,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			if wp.opts.Retries != nil {
				wp.opts.Retries.IncSchedulerRetry()
			}
			log.WithError(err).WarnWithFields("Sync failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			})
		},
	}

	result.Error = retry.Do(func() error {
		result.Attempts++
		res, err := wp.runner.Sync(wp.ctx, job.AccountID)
		result.Result = res
		return err
	}, cfg)
	result.Duration = time.Since(start)

	if result.Error != nil {
		log.WithError(result.Error).WarnWithFields("Scheduled sync failed", map[string]interface{}{
			"attempts": result.Attempts,
			"duration": result.Duration,
		})
	}

	if wp.opts.Listener != nil {
		wp.opts.Listener.SyncFinished(job.AccountID, result.Result, result.Error)
	}
	return result
}
