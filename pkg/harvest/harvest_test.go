package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "followsync/pkg/errors"
	"followsync/pkg/logger"
	"followsync/pkg/models"
)

type step struct {
	records []models.FollowerRecord
	next    string
	err     error
}

// scriptedFetcher replays steps in order and records the cursors it saw.
type scriptedFetcher struct {
	mu      sync.Mutex
	steps   []step
	cursors []string
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, accountID, cursor string) ([]models.FollowerRecord, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if len(f.steps) == 0 {
		return nil, "", errors.New("script exhausted")
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s.records, s.next, s.err
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	records  int
}

func (o *countingObserver) ObservePage(accountID, list, outcome string, records int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
	o.records += records
}

func recs(ids ...string) []models.FollowerRecord {
	out := make([]models.FollowerRecord, len(ids))
	for i, id := range ids {
		out[i] = models.FollowerRecord{ID: id, Username: "u" + id}
	}
	return out
}

func ids(records []models.FollowerRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func fastOptions() Options {
	return Options{PageDelay: time.Millisecond, RateLimitBackoff: time.Millisecond}
}

func TestHarvestFollowsCursorUntilSentinel(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a", "b"), next: "c1"},
		{records: recs("c"), next: "c2"},
		{records: recs("d"), next: ""},
	}}

	records, report, err := New(f, fastOptions()).Harvest(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(records))
	assert.Equal(t, []string{"", "c1", "c2"}, f.cursors)
	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, StopExhausted, report.StopReason)
	assert.False(t, report.Partial)
}

func TestHarvestStopsOnEmptyPage(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a"), next: "c1"},
		{records: nil, next: "c2"},
		{records: recs("never"), next: ""},
	}}

	records, report, err := New(f, fastOptions()).Harvest(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(records))
	assert.Equal(t, StopEmptyPage, report.StopReason)
}

func TestHarvestPageCap(t *testing.T) {
	steps := make([]step, 10)
	for i := range steps {
		steps[i] = step{records: recs(fmt.Sprint(i)), next: fmt.Sprintf("c%d", i+1)}
	}
	f := &scriptedFetcher{steps: steps}

	opts := fastOptions()
	opts.MaxPages = 3
	records, report, err := New(f, opts).Harvest(context.Background(), "42")
	require.NoError(t, err)

	assert.Len(t, records, 3)
	assert.Len(t, f.cursors, 3)
	assert.Equal(t, StopPageCap, report.StopReason)
	assert.True(t, report.Truncated)
}

func TestHarvestRateLimitRetriesOnce(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a"), next: "c1"},
		{err: errs.Upstream(429, "", nil)},
		{records: recs("b"), next: ""},
	}}
	log := logger.NewTestLogger()
	obs := &countingObserver{}

	opts := fastOptions()
	opts.Logger = log
	opts.Observer = obs
	records, report, err := New(f, opts).Harvest(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ids(records))
	assert.Equal(t, []string{"", "c1", "c1"}, f.cursors, "same page is retried")
	assert.Equal(t, StopExhausted, report.StopReason)
	assert.True(t, log.HasMessage("Rate limit reached, backing off"))
	assert.Equal(t, 2, obs.outcomes[OutcomeOK])
	assert.Equal(t, 1, obs.outcomes[OutcomeRateLimited])
	assert.Equal(t, 2, obs.records)
}

func TestObserversFanOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	f := &scriptedFetcher{steps: []step{{records: recs("a", "b", "c"), next: ""}}}

	opts := fastOptions()
	opts.Observer = Observers{a, nil, b}
	_, err := New(f, opts).HarvestAll(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, 3, a.records)
	assert.Equal(t, 3, b.records)
}

func TestHarvestRateLimitTwiceKeepsPartial(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a", "b"), next: "c1"},
		{records: recs("c"), next: "c2"},
		{err: errs.Upstream(429, "", nil)},
		{err: errs.Upstream(429, "", nil)},
	}}

	records, report, err := New(f, fastOptions()).Harvest(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ids(records))
	assert.Equal(t, StopRateLimited, report.StopReason)
	assert.True(t, report.Partial)
	assert.True(t, errs.IsRateLimitStatus(report.Err))
}

func TestHarvestRateLimitOnFirstPageReturnsEmpty(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{err: errs.Upstream(429, "", nil)},
		{err: errs.Upstream(429, "", nil)},
	}}

	records, report, err := New(f, fastOptions()).Harvest(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.True(t, report.Partial)
}

func TestHarvestUpstreamErrorAfterRecordsIsPartial(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a"), next: "c1"},
		{records: recs("b"), next: "c2"},
		{err: errs.Upstream(500, "boom", nil)},
	}}

	records, report, err := New(f, fastOptions()).Harvest(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(records))
	assert.Equal(t, StopUpstreamError, report.StopReason)
	assert.Len(t, f.cursors, 3, "non-rate-limit errors are not retried")
}

func TestHarvestUpstreamErrorOnFirstPageIsFatal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{err: errs.Upstream(503, "down", nil)},
	}}

	records, err := New(f, fastOptions()).HarvestAll(context.Background(), "42")
	require.Error(t, err)
	assert.Nil(t, records)

	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, 503, e.Code)
}

func TestHarvestConfigurationErrorIsFatal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a"), next: "c1"},
		{err: errs.Configuration("upstream api key is not configured")},
	}}

	_, err := New(f, fastOptions()).HarvestAll(context.Background(), "42")
	assert.True(t, errs.IsType(err, errs.ErrorTypeConfiguration))
}

func TestHarvestDoesNotDeduplicate(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a", "b"), next: "c1"},
		{records: recs("b", "c"), next: ""},
	}}

	records, err := New(f, fastOptions()).HarvestAll(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b", "c"}, ids(records))
}

func TestHarvestCancelledDuringDelay(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a"), next: "c1"},
		{records: recs("b"), next: ""},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	opts := fastOptions()
	opts.PageDelay = time.Hour

	done := make(chan error, 1)
	go func() {
		_, err := New(f, opts).HarvestAll(ctx, "42")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("harvest did not stop after cancellation")
	}
}

func TestHarvestInterPageDelay(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{records: recs("a"), next: "c1"},
		{records: recs("b"), next: "c2"},
		{records: recs("c"), next: ""},
	}}

	opts := fastOptions()
	opts.PageDelay = 20 * time.Millisecond

	start := time.Now()
	_, err := New(f, opts).HarvestAll(context.Background(), "42")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestNewDefaults(t *testing.T) {
	h := New(&scriptedFetcher{}, Options{})
	assert.Equal(t, DefaultMaxPages, h.opts.MaxPages)
	assert.Equal(t, "followers", h.opts.List)
}
