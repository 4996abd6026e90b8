package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "followsync/pkg/errors"
	"followsync/pkg/harvest"
	"followsync/pkg/logger"
	"followsync/pkg/models"
	"followsync/pkg/store"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harvestResult struct {
	records []models.FollowerRecord
	report  harvest.Report
	err     error
}

// fakeHarvester returns queued results in order, repeating the last one.
type fakeHarvester struct {
	mu      sync.Mutex
	results []harvestResult
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeHarvester) Harvest(ctx context.Context, accountID string) ([]models.FollowerRecord, harvest.Report, error) {
	f.mu.Lock()
	f.calls++
	var r harvestResult
	if len(f.results) > 0 {
		r = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return r.records, r.report, r.err
}

func (f *fakeHarvester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeHarvester) then(ids ...string) *fakeHarvester {
	f.results = append(f.results, harvestResult{records: recs(ids...)})
	return f
}

type creds bool

func (c creds) HasCredentials() bool { return bool(c) }

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveSync(accountID, outcome string, followers, unfollowers int, took time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func recs(ids ...string) []models.FollowerRecord {
	out := make([]models.FollowerRecord, len(ids))
	for i, id := range ids {
		out[i] = models.FollowerRecord{ID: id, Username: "user_" + id}
	}
	return out
}

func recordIDs(records []models.FollowerRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

type fixture struct {
	syncer    *Syncer
	store     *store.SnapshotStore
	kv        *store.MemoryKV
	followers *fakeHarvester
	following *fakeHarvester
	observer  *recordingObserver
	log       *logger.TestLogger
	now       time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		kv:        store.NewMemoryKV(),
		followers: &fakeHarvester{},
		following: &fakeHarvester{},
		observer:  &recordingObserver{},
		log:       logger.NewTestLogger(),
		now:       t0,
	}
	clock := func() time.Time { return f.now }
	f.kv.SetClock(clock)
	f.store = store.NewSnapshotStore(f.kv, store.Options{Now: clock})

	opts.Now = clock
	opts.Logger = f.log
	f.syncer = New(Deps{
		Followers:   f.followers,
		Following:   f.following,
		Credentials: creds(true),
		Store:       f.store,
		Observer:    f.observer,
	}, opts)
	return f
}

func TestFirstSync(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a", "b", "c")

	res, err := f.syncer.Sync(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, 3, res.FollowerCount)
	assert.Equal(t, 0, res.UnfollowerCount)
	assert.Equal(t, 3, res.NewFollowerCount)
	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.LastSync.Equal(t0))
	assert.Equal(t, "Followers updated. No unfollowers detected.", res.Message)

	snap, err := f.store.GetSnapshot(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, recordIDs(snap))

	meta, err := f.store.GetMetadata(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.FollowerCount)
	assert.False(t, meta.NeedsInitialSync)
	assert.True(t, f.log.HasMessage("Sync completed"))
}

func TestSyncDetectsUnfollowersAndNewFollowers(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a", "b", "c").then("b", "c", "d")
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx, "42")
	require.NoError(t, err)

	f.now = t0.Add(time.Hour)
	res, err := f.syncer.Sync(ctx, "42")
	require.NoError(t, err)

	assert.Equal(t, 3, res.FollowerCount)
	assert.Equal(t, 1, res.UnfollowerCount)
	assert.Equal(t, 1, res.NewFollowerCount)
	assert.Equal(t, []string{"a"}, recordIDs(res.Unfollowers))
	assert.Equal(t, "Followers updated. 1 unfollower(s) detected.", res.Message)

	history, err := f.syncer.Unfollowers(ctx, "42")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a", history[0].ID)
	assert.Equal(t, "user_a", history[0].Username)
	assert.True(t, history[0].UnfollowedAt.Equal(t0.Add(time.Hour)))
}

func TestResyncIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a", "b", "c")
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx, "42")
	require.NoError(t, err)
	first, err := f.store.GetSnapshot(ctx, "42")
	require.NoError(t, err)

	f.now = t0.Add(time.Minute)
	res, err := f.syncer.Sync(ctx, "42")
	require.NoError(t, err)

	assert.Zero(t, res.UnfollowerCount)
	assert.Zero(t, res.NewFollowerCount)

	second, err := f.store.GetSnapshot(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	history, err := f.store.GetHistory(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSyncDeduplicatesHarvest(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a", "b", "a", "c", "b")

	res, err := f.syncer.Sync(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 3, res.FollowerCount)

	snap, err := f.syncer.Followers(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, recordIDs(snap))
}

func TestEmptyHarvestRejectedWithoutWrites(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a", "b").then()
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx, "42")
	require.NoError(t, err)
	before, err := f.store.GetMetadata(ctx, "42")
	require.NoError(t, err)

	f.now = t0.Add(time.Hour)
	res, err := f.syncer.Sync(ctx, "42")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrEmptyHarvest)

	snap, err := f.store.GetSnapshot(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, recordIDs(snap))

	after, err := f.store.GetMetadata(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	history, err := f.store.GetHistory(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMinimumIntervalGate(t *testing.T) {
	f := newFixture(t, Options{MinInterval: time.Hour})
	f.followers.then("a")
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, 1, f.followers.callCount())

	f.now = t0.Add(10 * time.Minute)
	_, err = f.syncer.Sync(ctx, "42")
	require.Error(t, err)

	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.ErrorTypeRateLimit, e.Type)
	assert.Equal(t, 50*time.Minute, e.RetryAfter)
	assert.Equal(t, 1, f.followers.callCount(), "gate does not harvest")

	status, err := f.syncer.Status(ctx, "42")
	require.NoError(t, err)
	assert.False(t, status.CanUpdate)
	assert.Equal(t, 50*time.Minute, status.NextUpdateIn)

	f.now = t0.Add(61 * time.Minute)
	_, err = f.syncer.Sync(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, f.followers.callCount())
}

func TestMissingCredentials(t *testing.T) {
	f := newFixture(t, Options{})
	f.syncer.deps.Credentials = creds(false)

	_, err := f.syncer.Sync(context.Background(), "42")
	assert.True(t, errs.IsType(err, errs.ErrorTypeConfiguration))
	assert.Zero(t, f.followers.callCount())
}

func TestEmptyAccountID(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.syncer.Sync(context.Background(), "  ")
	assert.True(t, errs.IsType(err, errs.ErrorTypeConfiguration))
}

func TestUpstreamFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.results = []harvestResult{{err: errs.Upstream(503, "unavailable", nil)}}
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx, "42")
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.ErrorTypeUpstream, e.Type)
	assert.Equal(t, 503, e.Code)

	meta, err := f.store.GetMetadata(ctx, "42")
	require.NoError(t, err)
	assert.True(t, meta.NeedsInitialSync)
	assert.Equal(t, []string{"failed"}, f.observer.outcomes)
}

func TestRawErrorsAreTranslated(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.results = []harvestResult{{err: context.DeadlineExceeded}}

	_, err := f.syncer.Sync(context.Background(), "42")
	_, ok := errs.As(err)
	assert.True(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPartialHarvestIsPersistedAndFlagged(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.results = []harvestResult{{
		records: recs("a", "b"),
		report:  harvest.Report{Partial: true, StopReason: harvest.StopRateLimited, Err: errs.Upstream(429, "", nil)},
	}}

	res, err := f.syncer.Sync(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.FollowerCount)
	assert.Contains(t, res.Message, "incomplete")
	assert.Equal(t, []string{"partial"}, f.observer.outcomes)
}

func TestConcurrentSyncOfSameAccountConflicts(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a")
	f.followers.block = make(chan struct{})
	f.followers.started = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.syncer.Sync(ctx, "42")
		done <- err
	}()
	<-f.followers.started
	assert.True(t, f.syncer.InProgress("42"))

	_, err := f.syncer.Sync(ctx, "42")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(f.followers.block)
	require.NoError(t, <-done)
	assert.False(t, f.syncer.InProgress("42"))

	locked, err := f.store.AcquireLock(ctx, "42", "next-worker", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "store marker is released")
}

func TestStoreLockHeldElsewhere(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a")
	ctx := context.Background()

	ok, err := f.store.AcquireLock(ctx, "42", "other-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.syncer.Sync(ctx, "42")
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Zero(t, f.followers.callCount())
	assert.False(t, f.syncer.InProgress("42"))
}

// lockHookStore runs onLock right before the lock is taken
type lockHookStore struct {
	*store.SnapshotStore
	onLock func()
}

func (s *lockHookStore) AcquireLock(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	if s.onLock != nil {
		s.onLock()
	}
	return s.SnapshotStore.AcquireLock(ctx, accountID, owner, ttl)
}

func TestGateRecheckedAfterLock(t *testing.T) {
	f := newFixture(t, Options{MinInterval: time.Hour})
	f.followers.then("a")
	ctx := context.Background()

	hooked := &lockHookStore{SnapshotStore: f.store}
	hooked.onLock = func() {
		// a concurrent sync finishes after the first gate check
		require.NoError(t, f.store.PutMetadata(ctx, models.SyncMetadata{
			AccountID:     "42",
			LastSyncAt:    f.now,
			FollowerCount: 3,
		}))
	}
	f.syncer.deps.Store = hooked

	_, err := f.syncer.Sync(ctx, "42")
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeRateLimit))
	assert.Zero(t, f.followers.callCount())
	assert.False(t, f.syncer.InProgress("42"))

	ok, err := f.store.AcquireLock(ctx, "42", "next-worker", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock is released after the rejected sync")
}

func TestExpiredLockDoesNotReleaseNewHolder(t *testing.T) {
	f := newFixture(t, Options{LockTTL: time.Minute})
	f.followers.block = make(chan struct{})
	f.followers.started = make(chan struct{})
	f.followers.then("a")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.syncer.Sync(ctx, "42")
		done <- err
	}()
	<-f.followers.started

	// the slow harvest outlives the lock ttl and another replica takes over
	f.kv.SetClock(func() time.Time { return t0.Add(2 * time.Minute) })
	ok, err := f.store.AcquireLock(ctx, "42", "other-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	close(f.followers.block)
	require.NoError(t, <-done)
	assert.True(t, f.log.HasMessage("Sync lock expired before release"))

	ok, err = f.store.AcquireLock(ctx, "42", "third", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "other replica keeps its lock")
}

type failingKV struct {
	*store.MemoryKV
	failSet bool
}

func (k *failingKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if k.failSet {
		return errors.New("connection reset")
	}
	return k.MemoryKV.Set(ctx, key, value, ttl)
}

func TestStorageFailureIsTyped(t *testing.T) {
	kv := &failingKV{MemoryKV: store.NewMemoryKV(), failSet: true}
	s := New(Deps{
		Followers: (&fakeHarvester{}).then("a"),
		Store:     store.NewSnapshotStore(kv, store.Options{}),
	}, Options{})

	_, err := s.Sync(context.Background(), "42")
	assert.True(t, errs.IsType(err, errs.ErrorTypeStorage))
}

func TestNotFollowingBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.followers.then("a", "b")
	f.following.then("b", "x", "y", "x")
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx, "42")
	require.NoError(t, err)

	out, err := f.syncer.NotFollowingBack(ctx, "42", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, recordIDs(out))

	_, err = f.syncer.NotFollowingBack(ctx, "42", false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.following.callCount(), "following list is cached")

	_, err = f.syncer.NotFollowingBack(ctx, "42", true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.following.callCount())
}

func TestNotFollowingBackWithoutSource(t *testing.T) {
	f := newFixture(t, Options{})
	f.syncer.deps.Following = nil

	_, err := f.syncer.NotFollowingBack(context.Background(), "42", false)
	assert.True(t, errs.IsType(err, errs.ErrorTypeConfiguration))
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	status, err := f.syncer.Status(ctx, "42")
	require.NoError(t, err)
	assert.True(t, status.NeedsSync)
	assert.False(t, status.HasFollowers)
	assert.True(t, status.CanUpdate)

	f.followers.then("a", "b")
	_, err = f.syncer.Sync(ctx, "42")
	require.NoError(t, err)

	status, err = f.syncer.Status(ctx, "42")
	require.NoError(t, err)
	assert.False(t, status.NeedsSync)
	assert.True(t, status.HasFollowers)
	assert.Equal(t, 2, status.FollowerCount)
	assert.True(t, status.LastSync.Equal(t0))
}
