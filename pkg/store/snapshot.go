package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"followsync/pkg/diff"
	errs "followsync/pkg/errors"
	"followsync/pkg/logger"
	"followsync/pkg/models"
)

// DefaultRetention is how long unfollow events are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Hash fields of the per-account metadata record
const (
	fieldFollowersCount = "followers_count"
	fieldLastSync       = "last_sync"
	fieldNeedsSync      = "needs_sync"
)

func followersKey(id string) string { return "followers:" + id + ":list" }
func historyKey(id string) string   { return "unfollowers:" + id + ":history" }
func userKey(id string) string      { return "user:" + id }
func lastSyncKey(id string) string  { return "followers:" + id + ":lastSync" }
func followingKey(id string) string { return "following:" + id + ":list" }
func lockKey(id string) string      { return "sync:" + id + ":lock" }

// Options configures a SnapshotStore
type Options struct {
	Retention    time.Duration
	FollowingTTL time.Duration
	Now          func() time.Time
	Logger       logger.Logger
}

// SnapshotStore persists snapshots, unfollow history and sync metadata on
// top of a KV backend.
type SnapshotStore struct {
	kv           KV
	retention    time.Duration
	followingTTL time.Duration
	now          func() time.Time
	logger       logger.Logger
}

// NewSnapshotStore creates a SnapshotStore over kv
func NewSnapshotStore(kv KV, opts Options) *SnapshotStore {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.FollowingTTL <= 0 {
		opts.FollowingTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &SnapshotStore{
		kv:           kv,
		retention:    opts.Retention,
		followingTTL: opts.FollowingTTL,
		now:          opts.Now,
		logger:       opts.Logger,
	}
}

// Ping checks the backend
func (s *SnapshotStore) Ping(ctx context.Context) error {
	if err := s.kv.Ping(ctx); err != nil {
		return errs.Storage("ping", err)
	}
	return nil
}

// readList fetches key and decodes it as a stored list. Missing, empty and
// malformed values all read as an empty list.
func (s *SnapshotStore) readList(ctx context.Context, key string) ([]json.RawMessage, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []json.RawMessage{}, nil
		}
		return nil, errs.Storage("read "+key, err)
	}

	items, perr := parseStoredList(raw)
	if perr != nil {
		s.logger.WithError(perr).DebugWithFields("Ignoring unreadable stored value", map[string]interface{}{
			"key": key,
		})
	}
	return items, nil
}

func (s *SnapshotStore) writeJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.Storage("encode "+key, err)
	}
	if err := s.kv.Set(ctx, key, string(data), ttl); err != nil {
		return errs.Storage("write "+key, err)
	}
	return nil
}

// GetSnapshot returns the last accepted harvest, empty if the account has
// never synced.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, accountID string) (models.Snapshot, error) {
	items, err := s.readList(ctx, followersKey(accountID))
	if err != nil {
		return nil, err
	}
	return decodeRecords(items), nil
}

// PutSnapshot overwrites the stored snapshot
func (s *SnapshotStore) PutSnapshot(ctx context.Context, accountID string, snapshot models.Snapshot) error {
	if snapshot == nil {
		snapshot = models.Snapshot{}
	}
	return s.writeJSON(ctx, followersKey(accountID), snapshot, 0)
}

// GetHistory returns the retained unfollow events, newest first.
func (s *SnapshotStore) GetHistory(ctx context.Context, accountID string) ([]models.UnfollowEvent, error) {
	items, err := s.readList(ctx, historyKey(accountID))
	if err != nil {
		return nil, err
	}
	return s.compact(decodeEvents(items)), nil
}

// AppendUnfollowEvents merges events into the stored history. The result
// drops events older than the retention window, keeps only the newest event
// per id and is ordered newest first.
func (s *SnapshotStore) AppendUnfollowEvents(ctx context.Context, accountID string, events []models.UnfollowEvent) error {
	items, err := s.readList(ctx, historyKey(accountID))
	if err != nil {
		return err
	}

	merged := append(decodeEvents(items), events...)
	history := s.compact(merged)

	s.logger.DebugWithFields("Updating unfollow history", map[string]interface{}{
		"account_id": accountID,
		"appended":   len(events),
		"retained":   len(history),
	})
	return s.writeJSON(ctx, historyKey(accountID), history, 0)
}

func (s *SnapshotStore) compact(events []models.UnfollowEvent) []models.UnfollowEvent {
	cutoff := s.now().Add(-s.retention)

	newest := make(map[string]models.UnfollowEvent, len(events))
	for _, ev := range events {
		if !ev.UnfollowedAt.After(cutoff) {
			continue
		}
		if cur, ok := newest[ev.ID]; !ok || ev.UnfollowedAt.After(cur.UnfollowedAt) {
			newest[ev.ID] = ev
		}
	}

	out := make([]models.UnfollowEvent, 0, len(newest))
	for _, ev := range newest {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnfollowedAt.Equal(out[j].UnfollowedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UnfollowedAt.After(out[j].UnfollowedAt)
	})
	return out
}

// GetMetadata returns the sync bookkeeping of an account. An account without
// a record needs an initial sync.
func (s *SnapshotStore) GetMetadata(ctx context.Context, accountID string) (models.SyncMetadata, error) {
	meta := models.SyncMetadata{AccountID: accountID, NeedsInitialSync: true}

	fields, err := s.kv.HGetAll(ctx, userKey(accountID))
	if err != nil {
		return meta, errs.Storage("read "+userKey(accountID), err)
	}
	if len(fields) == 0 {
		return meta, nil
	}

	if v, ok := fields[fieldFollowersCount]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			meta.FollowerCount = n
		}
	}
	if v, ok := fields[fieldLastSync]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.LastSyncAt = t
		}
	}
	meta.NeedsInitialSync = fields[fieldNeedsSync] == "true" || meta.LastSyncAt.IsZero()
	return meta, nil
}

// PutMetadata writes the metadata hash and the standalone last-sync key.
func (s *SnapshotStore) PutMetadata(ctx context.Context, meta models.SyncMetadata) error {
	lastSync := meta.LastSyncAt.UTC().Format(time.RFC3339Nano)

	err := s.kv.HSet(ctx, userKey(meta.AccountID), map[string]string{
		fieldFollowersCount: strconv.Itoa(meta.FollowerCount),
		fieldLastSync:       lastSync,
		fieldNeedsSync:      strconv.FormatBool(meta.NeedsInitialSync),
	})
	if err != nil {
		return errs.Storage("write "+userKey(meta.AccountID), err)
	}

	if err := s.kv.Set(ctx, lastSyncKey(meta.AccountID), lastSync, 0); err != nil {
		return errs.Storage("write "+lastSyncKey(meta.AccountID), err)
	}
	return nil
}

// GetFollowing returns the cached following list. ok is false when nothing
// is cached or the cache has expired.
func (s *SnapshotStore) GetFollowing(ctx context.Context, accountID string) (records []models.FollowerRecord, ok bool, err error) {
	raw, err := s.kv.Get(ctx, followingKey(accountID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, errs.Storage("read "+followingKey(accountID), err)
	}

	items, perr := parseStoredList(raw)
	if perr != nil {
		s.logger.WithError(perr).Debug("Ignoring unreadable following cache")
		return nil, false, nil
	}
	return decodeRecords(items), true, nil
}

// PutFollowing caches a harvested following list, deduplicated by id.
func (s *SnapshotStore) PutFollowing(ctx context.Context, accountID string, records []models.FollowerRecord) error {
	return s.writeJSON(ctx, followingKey(accountID), diff.Dedupe(records), s.followingTTL)
}

// AcquireLock marks a sync of the account as in progress. It reports false
// when another holder owns the marker. The marker expires after ttl so a
// crashed holder cannot block the account forever.
func (s *SnapshotStore) AcquireLock(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.kv.SetNX(ctx, lockKey(accountID), owner, ttl)
	if err != nil {
		return false, errs.Storage("lock "+accountID, err)
	}
	return ok, nil
}

// ReleaseLock removes the in-progress marker if owner still holds it. It
// reports false when the marker expired or was taken over by another holder,
// in which case it is left alone.
func (s *SnapshotStore) ReleaseLock(ctx context.Context, accountID, owner string) (bool, error) {
	ok, err := s.kv.DelIfEqual(ctx, lockKey(accountID), owner)
	if err != nil {
		return false, errs.Storage("unlock "+accountID, err)
	}
	return ok, nil
}
