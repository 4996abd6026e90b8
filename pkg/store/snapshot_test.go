package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followsync/pkg/logger"
	"followsync/pkg/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*SnapshotStore, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	kv.SetClock(func() time.Time { return testNow })
	s := NewSnapshotStore(kv, Options{
		Now:    func() time.Time { return testNow },
		Logger: logger.NewTestLogger(),
	})
	return s, kv
}

func event(id string, at time.Time) models.UnfollowEvent {
	return models.UnfollowEvent{
		FollowerRecord: models.FollowerRecord{ID: id, Username: "u" + id},
		UnfollowedAt:   at,
	}
}

func eventIDs(events []models.UnfollowEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	snap, err := s.GetSnapshot(ctx, "42")
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Empty(t, snap)

	want := models.Snapshot{
		{ID: "1", Username: "alice", DisplayName: "Alice", AvatarURL: "http://img/1"},
		{ID: "2", Username: "bob"},
	}
	require.NoError(t, s.PutSnapshot(ctx, "42", want))

	got, err := s.GetSnapshot(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotStoredFormat(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSnapshot(ctx, "42", models.Snapshot{{ID: "1", Username: "a", DisplayName: "A", AvatarURL: "p"}}))

	raw, err := kv.Get(ctx, "followers:42:list")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"1","username":"a","name":"A","profile_image_url":"p"}]`, raw.(string))
}

func TestSnapshotMalformedValuesReadAsAbsent(t *testing.T) {
	ctx := context.Background()

	for name, raw := range map[string]any{
		"empty":     "",
		"garbage":   "{{{",
		"object":    `{"id":"1"}`,
		"number":    12345,
		"bytes nil": []byte(nil),
	} {
		t.Run(name, func(t *testing.T) {
			s, kv := newTestStore(t)
			require.NoError(t, kv.Set(ctx, "followers:42:list", raw, 0))

			snap, err := s.GetSnapshot(ctx, "42")
			require.NoError(t, err)
			assert.Empty(t, snap)
		})
	}
}

func TestSnapshotAcceptsByteValues(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "followers:42:list", []byte(`[{"id":"7"}]`), 0))

	snap, err := s.GetSnapshot(ctx, "42")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "7", snap[0].ID)
}

func TestHistoryRetention(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUnfollowEvents(ctx, "42", []models.UnfollowEvent{
		event("old", testNow.Add(-31*24*time.Hour)),
		event("recent", testNow.Add(-29*24*time.Hour)),
	}))

	history, err := s.GetHistory(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"recent"}, eventIDs(history))
}

func TestHistoryPrunesOnRead(t *testing.T) {
	ctx := context.Background()
	now := testNow
	kv := NewMemoryKV()
	s := NewSnapshotStore(kv, Options{Now: func() time.Time { return now }})

	require.NoError(t, s.AppendUnfollowEvents(ctx, "42", []models.UnfollowEvent{event("a", testNow.Add(-20*24*time.Hour))}))

	now = testNow.Add(15 * 24 * time.Hour)
	history, err := s.GetHistory(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistoryCollapsesToNewestAndOrders(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUnfollowEvents(ctx, "42", []models.UnfollowEvent{
		event("a", testNow.Add(-10*24*time.Hour)),
		event("b", testNow.Add(-5*24*time.Hour)),
	}))
	require.NoError(t, s.AppendUnfollowEvents(ctx, "42", []models.UnfollowEvent{
		event("a", testNow.Add(-1*time.Hour)),
		event("c", testNow.Add(-2*24*time.Hour)),
	}))

	history, err := s.GetHistory(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, eventIDs(history))
	assert.True(t, history[0].UnfollowedAt.Equal(testNow.Add(-time.Hour)))
}

func TestHistoryIgnoresCorruptStoredValue(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "unfollowers:42:history", "not json", 0))

	require.NoError(t, s.AppendUnfollowEvents(ctx, "42", []models.UnfollowEvent{event("a", testNow)}))

	history, err := s.GetHistory(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, eventIDs(history))
}

func TestMetadata(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()

	meta, err := s.GetMetadata(ctx, "42")
	require.NoError(t, err)
	assert.True(t, meta.NeedsInitialSync)
	assert.False(t, meta.HasSynced())

	require.NoError(t, s.PutMetadata(ctx, models.SyncMetadata{
		AccountID:     "42",
		LastSyncAt:    testNow,
		FollowerCount: 3,
	}))

	meta, err = s.GetMetadata(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", meta.AccountID)
	assert.Equal(t, 3, meta.FollowerCount)
	assert.True(t, meta.LastSyncAt.Equal(testNow))
	assert.False(t, meta.NeedsInitialSync)

	fields, err := kv.HGetAll(ctx, "user:42")
	require.NoError(t, err)
	assert.Equal(t, "3", fields["followers_count"])
	assert.Equal(t, "false", fields["needs_sync"])

	legacy, err := kv.Get(ctx, "followers:42:lastSync")
	require.NoError(t, err)
	assert.Equal(t, fields["last_sync"], legacy)
}

func TestMetadataToleratesBadFields(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, kv.HSet(ctx, "user:42", map[string]string{
		"followers_count": "many",
		"last_sync":       "whenever",
	}))

	meta, err := s.GetMetadata(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, meta.FollowerCount)
	assert.True(t, meta.NeedsInitialSync)
}

func TestFollowingCache(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetFollowing(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutFollowing(ctx, "42", []models.FollowerRecord{{ID: "1"}, {ID: "1"}, {ID: "2"}}))

	records, ok, err := s.GetFollowing(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, records, 2)

	kv.SetClock(func() time.Time { return testNow.Add(2 * time.Hour) })
	_, ok, err = s.GetFollowing(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok, "cache expires")
}

func TestLock(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "42", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, "42", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AcquireLock(ctx, "43", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per account")

	released, err := s.ReleaseLock(ctx, "42", "a")
	require.NoError(t, err)
	assert.True(t, released)
	ok, err = s.AcquireLock(ctx, "42", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	kv.SetClock(func() time.Time { return testNow.Add(2 * time.Minute) })
	ok, err = s.AcquireLock(ctx, "43", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "stale marker expires")
}

func TestReleaseLockKeepsNewerHolder(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "42", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// first holder outlives its ttl and a second sync takes over
	kv.SetClock(func() time.Time { return testNow.Add(2 * time.Minute) })
	ok, err = s.AcquireLock(ctx, "42", "second", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := s.ReleaseLock(ctx, "42", "first")
	require.NoError(t, err)
	assert.False(t, released)

	ok, err = s.AcquireLock(ctx, "42", "third", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder still owns the account")

	released, err = s.ReleaseLock(ctx, "42", "second")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.ReleaseLock(ctx, "43", "nobody")
	require.NoError(t, err)
	assert.False(t, released)
}
