package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "followsync/pkg/errors"
	"followsync/pkg/logger"
	"followsync/pkg/retry"
	"followsync/pkg/syncer"
)

// scriptedRunner returns queued errors per account, then succeeds.
type scriptedRunner struct {
	mu     sync.Mutex
	errs   map[string][]error
	calls  map[string]int
	delay  time.Duration
	active int32
	peak   int32
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{errs: map[string][]error{}, calls: map[string]int{}}
}

func (r *scriptedRunner) Sync(ctx context.Context, accountID string) (*syncer.Result, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[accountID]++
	if queue := r.errs[accountID]; len(queue) > 0 {
		r.errs[accountID] = queue[1:]
		return nil, queue[0]
	}
	return &syncer.Result{AccountID: accountID, FollowerCount: 10}, nil
}

func (r *scriptedRunner) callsFor(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

type countingRetries struct{ n int32 }

func (c *countingRetries) IncSchedulerRetry() { atomic.AddInt32(&c.n, 1) }

type recordingListener struct {
	mu       sync.Mutex
	started  []string
	finished map[string]error
}

func (l *recordingListener) SyncStarted(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, accountID)
}

func (l *recordingListener) SyncFinished(accountID string, res *syncer.Result, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished == nil {
		l.finished = map[string]error{}
	}
	l.finished[accountID] = err
}

func fastBackoff() retry.Backoff {
	return retry.Fixed(time.Millisecond)
}

func TestRunOnceSyncsEachAccountOnce(t *testing.T) {
	runner := newScriptedRunner()
	listener := &recordingListener{}
	s := New(runner, Options{Workers: 2, Backoff: fastBackoff(), Listener: listener})

	results := s.RunOnce(context.Background(), []string{"1", "2", "1", "", "3"})
	require.Len(t, results, 3)
	for _, id := range []string{"1", "2", "3"} {
		assert.Equal(t, 1, runner.callsFor(id))
	}
	assert.ElementsMatch(t, []string{"1", "2", "3"}, listener.started)
	assert.Len(t, listener.finished, 3)
	assert.Equal(t, RoundSummary{Succeeded: 3}, Summarize(results))
}

func TestRunOnceRetriesTransientFailures(t *testing.T) {
	runner := newScriptedRunner()
	runner.errs["1"] = []error{errs.Upstream(503, "", nil), errs.Upstream(0, "", errors.New("reset"))}
	retries := &countingRetries{}
	s := New(runner, Options{Workers: 1, Backoff: fastBackoff(), Retries: retries})

	results := s.RunOnce(context.Background(), []string{"1"})
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Error)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&retries.n))
}

func TestRunOnceGivesUpAfterMaxAttempts(t *testing.T) {
	runner := newScriptedRunner()
	runner.errs["1"] = []error{errs.Upstream(502, "", nil), errs.Upstream(502, "", nil), errs.Upstream(502, "", nil)}
	s := New(runner, Options{Workers: 1, MaxAttempts: 2, Backoff: fastBackoff()})

	results := s.RunOnce(context.Background(), []string{"1"})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, retry.ErrExhausted)
	assert.True(t, errs.IsType(results[0].Error, errs.ErrorTypeUpstream))
	assert.Equal(t, 2, runner.callsFor("1"))
	assert.Equal(t, RoundSummary{Failed: 1}, Summarize(results))
}

func TestRunOnceDoesNotRetryGateOrConflict(t *testing.T) {
	runner := newScriptedRunner()
	runner.errs["1"] = []error{errs.RateLimited(time.Hour)}
	runner.errs["2"] = []error{syncer.ErrSyncInProgress}
	runner.errs["3"] = []error{errs.Configuration("upstream api key is not configured")}
	s := New(runner, Options{Workers: 3, Backoff: fastBackoff()})

	results := s.RunOnce(context.Background(), []string{"1", "2", "3"})
	for _, id := range []string{"1", "2", "3"} {
		assert.Equal(t, 1, runner.callsFor(id))
	}
	assert.Equal(t, RoundSummary{Skipped: 2, Failed: 1}, Summarize(results))
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	runner := newScriptedRunner()
	runner.delay = 20 * time.Millisecond
	s := New(runner, Options{Workers: 2, Backoff: fastBackoff()})

	results := s.RunOnce(context.Background(), []string{"1", "2", "3", "4", "5"})
	assert.Len(t, results, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.peak), int32(2))
}

func TestRunOnceCancelled(t *testing.T) {
	runner := newScriptedRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(runner, Options{Workers: 1, Backoff: fastBackoff()})
	results := s.RunOnce(ctx, []string{"1", "2"})
	for _, r := range results {
		assert.ErrorIs(t, r.Error, context.Canceled)
	}
	assert.Equal(t, 0, runner.callsFor("1"))
}

func TestStartRunsImmediatelyAndOnInterval(t *testing.T) {
	runner := newScriptedRunner()
	log := logger.NewTestLogger()
	s := New(runner, Options{
		Interval: 20 * time.Millisecond,
		Workers:  1,
		Accounts: []string{"1"},
		Backoff:  fastBackoff(),
		Logger:   log,
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runner.callsFor("1") >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	calls := runner.callsFor("1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, runner.callsFor("1"), "no rounds after Stop")
	assert.True(t, log.HasMessage("Sync round finished"))

	s.Stop()
}
