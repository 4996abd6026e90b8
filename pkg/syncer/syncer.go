package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"followsync/pkg/diff"
	errs "followsync/pkg/errors"
	"followsync/pkg/harvest"
	"followsync/pkg/logger"
	"followsync/pkg/metrics"
	"followsync/pkg/models"
)

// State is the phase a sync ended in
type State string

const (
	StateIdle        State = "idle"
	StateRateLimited State = "rate_limited"
	StateHarvesting  State = "harvesting"
	StateDiffing     State = "diffing"
	StatePersisting  State = "persisting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var (
	// ErrSyncInProgress is returned when the account is already being synced.
	ErrSyncInProgress = errs.Conflict("a sync is already in progress for this account")

	// ErrEmptyHarvest is returned when the upstream yields no followers at
	// all. Nothing is written so the stored snapshot survives.
	ErrEmptyHarvest = &errs.Error{
		Type:    errs.ErrorTypeUpstream,
		Message: "upstream returned no followers, keeping the previous snapshot",
	}
)

// Harvester collects one relation of an account
type Harvester interface {
	Harvest(ctx context.Context, accountID string) ([]models.FollowerRecord, harvest.Report, error)
}

// CredentialChecker reports whether upstream credentials are configured
type CredentialChecker interface {
	HasCredentials() bool
}

// Store is the persistence the orchestrator needs
type Store interface {
	GetSnapshot(ctx context.Context, accountID string) (models.Snapshot, error)
	PutSnapshot(ctx context.Context, accountID string, snapshot models.Snapshot) error
	GetHistory(ctx context.Context, accountID string) ([]models.UnfollowEvent, error)
	AppendUnfollowEvents(ctx context.Context, accountID string, events []models.UnfollowEvent) error
	GetMetadata(ctx context.Context, accountID string) (models.SyncMetadata, error)
	PutMetadata(ctx context.Context, meta models.SyncMetadata) error
	GetFollowing(ctx context.Context, accountID string) ([]models.FollowerRecord, bool, error)
	PutFollowing(ctx context.Context, accountID string, records []models.FollowerRecord) error
	AcquireLock(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, accountID, owner string) (bool, error)
}

// Observer receives the outcome of every sync attempt
type Observer interface {
	ObserveSync(accountID, outcome string, followers, unfollowers int, took time.Duration)
}

// Deps are the collaborators of a Syncer. Following and Credentials are
// optional.
type Deps struct {
	Followers   Harvester
	Following   Harvester
	Credentials CredentialChecker
	Store       Store
	Observer    Observer
}

// Options tunes a Syncer
type Options struct {
	// MinInterval is the minimum time between two syncs of one account.
	// Zero disables the gate.
	MinInterval time.Duration
	// LockTTL bounds how long a crashed sync can hold an account.
	LockTTL time.Duration
	Now     func() time.Time
	Logger  logger.Logger
}

// Result summarizes a completed sync
type Result struct {
	AccountID        string
	FollowerCount    int
	UnfollowerCount  int
	NewFollowerCount int
	Unfollowers      []models.FollowerRecord
	Message          string
	LastSync         time.Time
	// Partial is set when the harvest ended early on an upstream error.
	Partial bool
	// Truncated is set when the page cap cut the harvest short.
	Truncated bool
	State     State
}

// Syncer orchestrates harvest, diff and persistence for one account at a time
type Syncer struct {
	deps        Deps
	minInterval time.Duration
	lockTTL     time.Duration
	now         func() time.Time
	logger      logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Syncer
func New(deps Deps, opts Options) *Syncer {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Syncer{
		deps:        deps,
		minInterval: opts.MinInterval,
		lockTTL:     opts.LockTTL,
		now:         opts.Now,
		logger:      opts.Logger,
		inflight:    make(map[string]struct{}),
	}
}

// Sync harvests the account's followers, diffs them against the stored
// snapshot and persists the outcome. Writes happen in the order history,
// snapshot, metadata; a failure before the write phase leaves the store
// untouched.
func (s *Syncer) Sync(ctx context.Context, accountID string) (*Result, error) {
	start := s.now()
	log := s.logger.WithContext(ctx).WithField("account_id", accountID)

	result, err := s.sync(ctx, log, accountID)

	took := s.now().Sub(start)
	s.observe(accountID, result, err, took)
	if err != nil {
		log.WithError(err).WarnWithFields("Sync failed", map[string]interface{}{
			"duration": took,
		})
		return nil, err
	}

	logger.LogSync(log, accountID, result.FollowerCount, result.UnfollowerCount, result.NewFollowerCount, result.Partial, took)
	return result, nil
}

func (s *Syncer) sync(ctx context.Context, log logger.Logger, accountID string) (*Result, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, errs.Configuration("account id is required")
	}
	if s.deps.Credentials != nil && !s.deps.Credentials.HasCredentials() {
		return nil, errs.Configuration("upstream api key is not configured")
	}

	meta, err := s.deps.Store.GetMetadata(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	if wait := s.remaining(meta); wait > 0 {
		log.InfoWithFields("Sync skipped, minimum interval not reached", map[string]interface{}{
			"last_sync":      meta.LastSyncAt,
			"next_update_in": wait,
		})
		return nil, errs.RateLimited(wait)
	}

	release, err := s.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	// another sync may have finished between the check above and the lock
	meta, err = s.deps.Store.GetMetadata(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	if wait := s.remaining(meta); wait > 0 {
		log.InfoWithFields("Sync skipped, account synced while waiting for the lock", map[string]interface{}{
			"last_sync":      meta.LastSyncAt,
			"next_update_in": wait,
		})
		return nil, errs.RateLimited(wait)
	}

	records, report, err := s.deps.Followers.Harvest(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	if len(records) == 0 {
		log.WarnWithFields("Rejecting empty harvest", map[string]interface{}{
			"pages":       report.Pages,
			"stop_reason": string(report.StopReason),
		})
		return nil, ErrEmptyHarvest
	}
	if report.Partial {
		log.WithError(report.Err).WarnWithFields("Persisting partial harvest", map[string]interface{}{
			"records":     len(records),
			"stop_reason": string(report.StopReason),
		})
	}

	previous, err := s.deps.Store.GetSnapshot(ctx, accountID)
	if err != nil {
		return nil, translate(err)
	}
	d := diff.Compute(previous, records)

	if err := ctx.Err(); err != nil {
		return nil, translate(err)
	}

	now := s.now().UTC()
	if len(d.Unfollowers) > 0 {
		events := make([]models.UnfollowEvent, len(d.Unfollowers))
		for i, r := range d.Unfollowers {
			events[i] = models.UnfollowEvent{FollowerRecord: r, UnfollowedAt: now}
		}
		if err := s.deps.Store.AppendUnfollowEvents(ctx, accountID, events); err != nil {
			return nil, translate(err)
		}
	}
	if err := s.deps.Store.PutSnapshot(ctx, accountID, d.Deduped); err != nil {
		return nil, translate(err)
	}
	err = s.deps.Store.PutMetadata(ctx, models.SyncMetadata{
		AccountID:     accountID,
		LastSyncAt:    now,
		FollowerCount: len(d.Deduped),
	})
	if err != nil {
		return nil, translate(err)
	}

	return &Result{
		AccountID:        accountID,
		FollowerCount:    len(d.Deduped),
		UnfollowerCount:  len(d.Unfollowers),
		NewFollowerCount: d.NewFollowers,
		Unfollowers:      d.Unfollowers,
		Message:          summary(len(d.Unfollowers), report.Partial),
		LastSync:         now,
		Partial:          report.Partial,
		Truncated:        report.Truncated,
		State:            StateDone,
	}, nil
}

// remaining returns how long the account must wait before its next sync
func (s *Syncer) remaining(meta models.SyncMetadata) time.Duration {
	if s.minInterval <= 0 || !meta.HasSynced() {
		return 0
	}
	elapsed := s.now().Sub(meta.LastSyncAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= s.minInterval {
		return 0
	}
	return s.minInterval - elapsed
}

// lock claims the account in-process and in the store. The returned func
// releases both.
func (s *Syncer) lock(ctx context.Context, accountID string) (func(), error) {
	s.mu.Lock()
	if _, busy := s.inflight[accountID]; busy {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.inflight[accountID] = struct{}{}
	s.mu.Unlock()

	unmark := func() {
		s.mu.Lock()
		delete(s.inflight, accountID)
		s.mu.Unlock()
	}

	owner := uuid.NewString()
	ok, err := s.deps.Store.AcquireLock(ctx, accountID, owner, s.lockTTL)
	if err != nil {
		unmark()
		return nil, translate(err)
	}
	if !ok {
		unmark()
		return nil, ErrSyncInProgress
	}

	return func() {
		held, err := s.deps.Store.ReleaseLock(context.WithoutCancel(ctx), accountID, owner)
		switch {
		case err != nil:
			s.logger.WithError(err).WarnWithFields("Failed to release sync lock", map[string]interface{}{
				"account_id": accountID,
			})
		case !held:
			s.logger.WarnWithFields("Sync lock expired before release", map[string]interface{}{
				"account_id": accountID,
				"lock_ttl":   s.lockTTL,
			})
		}
		unmark()
	}, nil
}

// InProgress reports whether this process is syncing the account
func (s *Syncer) InProgress(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflight[accountID]
	return busy
}

func (s *Syncer) observe(accountID string, result *Result, err error, took time.Duration) {
	if s.deps.Observer == nil {
		return
	}

	outcome := metrics.OutcomeSuccess
	followers, unfollowers := 0, 0
	switch {
	case errs.IsType(err, errs.ErrorTypeRateLimit):
		outcome = metrics.OutcomeRateLimited
	case errs.IsType(err, errs.ErrorTypeConflict):
		outcome = metrics.OutcomeConflict
	case err != nil:
		outcome = metrics.OutcomeFailed
	default:
		followers, unfollowers = result.FollowerCount, result.UnfollowerCount
		if result.Partial {
			outcome = metrics.OutcomePartial
		}
	}
	s.deps.Observer.ObserveSync(accountID, outcome, followers, unfollowers, took)
}

func summary(unfollowers int, partial bool) string {
	msg := "Followers updated. No unfollowers detected."
	if unfollowers > 0 {
		msg = fmt.Sprintf("Followers updated. %d unfollower(s) detected.", unfollowers)
	}
	if partial {
		msg += " The upstream stopped early, so the list may be incomplete."
	}
	return msg
}

// translate maps internal failures onto the typed error taxonomy so no raw
// transport or driver error leaves the orchestrator.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &errs.Error{Type: errs.ErrorTypeNetwork, Message: "sync aborted: " + err.Error(), Err: err}
	}
	return &errs.Error{Type: errs.ErrorTypeUnknown, Message: err.Error(), Err: err}
}
