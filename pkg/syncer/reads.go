package syncer

import (
	"context"
	"time"

	"followsync/pkg/diff"
	errs "followsync/pkg/errors"
	"followsync/pkg/models"
)

// Status describes whether an account can be synced right now
type Status struct {
	AccountID     string
	NeedsSync     bool
	HasFollowers  bool
	FollowerCount int
	LastSync      time.Time
	CanUpdate     bool
	NextUpdateIn  time.Duration
	InProgress    bool
}

// Followers returns the stored snapshot
func (s *Syncer) Followers(ctx context.Context, accountID string) (models.Snapshot, error) {
	snap, err := s.deps.Store.GetSnapshot(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	return snap, nil
}

// Unfollowers returns the retained unfollow history, newest first
func (s *Syncer) Unfollowers(ctx context.Context, accountID string) ([]models.UnfollowEvent, error) {
	history, err := s.deps.Store.GetHistory(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	return history, nil
}

// NotFollowingBack lists accounts the account follows that are missing from
// its follower snapshot. The following list is cached; refresh forces a new
// harvest.
func (s *Syncer) NotFollowingBack(ctx context.Context, accountID string, refresh bool) ([]models.FollowerRecord, error) {
	following, err := s.following(ctx, accountID, refresh)
	if err != nil {
		return nil, err
	}

	followers, err := s.deps.Store.GetSnapshot(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	return diff.NotFollowingBack(following, followers), nil
}

func (s *Syncer) following(ctx context.Context, accountID string, refresh bool) ([]models.FollowerRecord, error) {
	if !refresh {
		cached, ok, err := s.deps.Store.GetFollowing(ctx, accountID)
		if err != nil {
			return nil, translate(err)
		}
		if ok {
			return cached, nil
		}
	}

	if s.deps.Following == nil {
		return nil, errs.Configuration("following list source is not configured")
	}
	if s.deps.Credentials != nil && !s.deps.Credentials.HasCredentials() {
		return nil, errs.Configuration("upstream api key is not configured")
	}

	records, report, err := s.deps.Following.Harvest(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	// partial following lists are not cached
	if !report.Partial {
		if err := s.deps.Store.PutFollowing(ctx, accountID, records); err != nil {
			return nil, translate(err)
		}
	}

	s.logger.DebugWithFields("Harvested following list", map[string]interface{}{
		"account_id": accountID,
		"records":    len(records),
		"partial":    report.Partial,
	})
	return diff.Dedupe(records), nil
}

// Status reports the sync state of an account.
func (s *Syncer) Status(ctx context.Context, accountID string) (*Status, error) {
	meta, err := s.deps.Store.GetMetadata(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	snap, err := s.deps.Store.GetSnapshot(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}

	wait := s.remaining(meta)
	hasFollowers := len(snap) > 0
	return &Status{
		AccountID:     accountID,
		NeedsSync:     meta.NeedsInitialSync || !hasFollowers || !meta.HasSynced(),
		HasFollowers:  hasFollowers,
		FollowerCount: len(snap),
		LastSync:      meta.LastSyncAt,
		CanUpdate:     wait == 0,
		NextUpdateIn:  wait,
		InProgress:    s.InProgress(accountID),
	}, nil
}
