// Package scheduler runs follower syncs for a fixed set of accounts on an
// interval, a bounded number at a time.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"followsync/pkg/config"
	errs "followsync/pkg/errors"
	"followsync/pkg/logger"
	"followsync/pkg/retry"
)

// Options configures a Scheduler
type Options struct {
	Interval    time.Duration
	Workers     int
	Accounts    []string
	MaxAttempts int
	Backoff     retry.Backoff
	Listener    Listener
	Retries     RetryCounter
	Logger      logger.Logger
}

// OptionsFromConfig maps the scheduler section of the configuration
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		Interval: cfg.Interval,
		Workers:  cfg.Workers,
		Accounts: cfg.Accounts,
	}
}

// RoundSummary counts the outcomes of one round
type RoundSummary struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// Scheduler triggers syncs periodically
type Scheduler struct {
	runner Runner
	opts   Options
	logger logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler
func New(runner Runner, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Scheduler{
		runner: runner,
		opts:   opts,
		logger: opts.Logger.WithField("component", "scheduler"),
	}
}

// Start runs a round immediately and then on every interval until Stop is
// called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	logger.LogComponentStart(s.logger, "scheduler", map[string]interface{}{
		"interval": s.opts.Interval.String(),
		"workers":  s.opts.Workers,
		"accounts": len(s.opts.Accounts),
	})
	go s.loop(ctx)
}

// Stop cancels the loop and waits for the current round to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.LogComponentStop(s.logger, "scheduler", "stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx, s.opts.Accounts)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce syncs each distinct account once and returns the results in
// completion order.
func (s *Scheduler) RunOnce(ctx context.Context, accounts []string) []SyncResult {
	accounts = distinct(accounts)
	if len(accounts) == 0 {
		return nil
	}

	pool := NewWorkerPool(s.opts.Workers, s.runner, PoolOptions{
		MaxAttempts: s.opts.MaxAttempts,
		Backoff:     s.opts.Backoff,
		Listener:    s.opts.Listener,
		Retries:     s.opts.Retries,
		Logger:      s.logger,
	})
	pool.Start(ctx)

	go func() {
		defer pool.Stop()
		for _, id := range accounts {
			if err := pool.Submit(SyncJob{AccountID: id}); err != nil {
				return
			}
		}
	}()

	results := make([]SyncResult, 0, len(accounts))
	for r := range pool.Results() {
		results = append(results, r)
	}

	summary := Summarize(results)
	s.logger.InfoWithFields("Sync round finished", map[string]interface{}{
		"accounts":  len(accounts),
		"succeeded": summary.Succeeded,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	})
	return results
}

// Summarize counts results. Syncs refused by the minimum interval or an
// in-flight sync count as skipped.
func Summarize(results []SyncResult) RoundSummary {
	var sum RoundSummary
	for _, r := range results {
		switch {
		case r.Error == nil:
			sum.Succeeded++
		case Skipped(r.Error):
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	return sum
}

// Skipped reports whether err means the sync was not attempted
func Skipped(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return errs.IsType(err, errs.ErrorTypeRateLimit) || errs.IsType(err, errs.ErrorTypeConflict)
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
