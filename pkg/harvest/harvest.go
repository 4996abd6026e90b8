package harvest

import (
	"context"
	"time"

	errs "followsync/pkg/errors"
	"followsync/pkg/logger"
	"followsync/pkg/models"
	"followsync/pkg/retry"
)

// PageFetcher fetches one page of a relation. An empty nextCursor ends the list.
type PageFetcher interface {
	FetchPage(ctx context.Context, accountID, cursor string) ([]models.FollowerRecord, string, error)
}

// PageObserver is notified of every page attempt outcome.
type PageObserver interface {
	ObservePage(accountID, list, outcome string, records int)
}

// Observers fans page outcomes out to several observers
type Observers []PageObserver

func (o Observers) ObservePage(accountID, list, outcome string, records int) {
	for _, obs := range o {
		if obs != nil {
			obs.ObservePage(accountID, list, outcome, records)
		}
	}
}

// Page outcomes reported to a PageObserver.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// StopReason describes why a harvest ended.
type StopReason string

const (
	StopExhausted     StopReason = "exhausted"
	StopEmptyPage     StopReason = "empty_page"
	StopPageCap       StopReason = "page_cap"
	StopRateLimited   StopReason = "rate_limited"
	StopUpstreamError StopReason = "upstream_error"
)

// DefaultMaxPages bounds a harvest when Options.MaxPages is unset.
const DefaultMaxPages = 50

// Options tunes the pagination loop
type Options struct {
	MaxPages         int
	PageDelay        time.Duration
	RateLimitBackoff time.Duration
	// List names the relation in logs and metrics, e.g. "followers".
	List     string
	Logger   logger.Logger
	Observer PageObserver
}

// Report summarizes a harvest.
type Report struct {
	Pages      int
	Records    int
	StopReason StopReason
	// Partial is set when the harvest ended on a swallowed upstream error.
	Partial bool
	// Truncated is set when the page cap ended the harvest with pages remaining.
	Truncated bool
	// Err is the upstream error that ended a partial harvest.
	Err error
}

// Harvester drives a PageFetcher until the relation is exhausted
type Harvester struct {
	fetcher PageFetcher
	opts    Options
}

// New creates a Harvester. A zero PageDelay or RateLimitBackoff means no wait.
func New(fetcher PageFetcher, opts Options) *Harvester {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = 0
	}
	if opts.RateLimitBackoff < 0 {
		opts.RateLimitBackoff = 0
	}
	if opts.List == "" {
		opts.List = "followers"
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Harvester{fetcher: fetcher, opts: opts}
}

// HarvestAll returns every record of the account's relation, in page order
// and without deduplication.
func (h *Harvester) HarvestAll(ctx context.Context, accountID string) ([]models.FollowerRecord, error) {
	records, _, err := h.Harvest(ctx, accountID)
	return records, err
}

// Harvest is HarvestAll with a report of how the loop ended.
//
// A rate-limited page is retried once after RateLimitBackoff; if the retry
// fails too, the records gathered so far are returned without error. Any
// other upstream error is returned only when nothing has been gathered yet.
func (h *Harvester) Harvest(ctx context.Context, accountID string) ([]models.FollowerRecord, Report, error) {
	log := h.opts.Logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"list":       h.opts.List,
	})

	var (
		all    []models.FollowerRecord
		report Report
		cursor string
	)

	for page := 1; ; page++ {
		if page > 1 {
			if err := retry.Wait(ctx, h.opts.PageDelay); err != nil {
				return nil, report, err
			}
		}

		records, next, err := h.fetchPage(ctx, log, accountID, cursor, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, report, ctxErr
			}
			if errs.IsType(err, errs.ErrorTypeConfiguration) {
				return nil, report, err
			}

			switch {
			case errs.IsRateLimitStatus(err):
				report.StopReason = StopRateLimited
			case len(all) == 0:
				log.WithError(err).ErrorWithFields("Harvest failed before any records", map[string]interface{}{
					"page": page,
				})
				return nil, report, err
			default:
				report.StopReason = StopUpstreamError
			}

			report.Partial = true
			report.Err = err
			log.WithError(err).WarnWithFields("Harvest ended early, keeping partial results", map[string]interface{}{
				"page":    page,
				"records": len(all),
			})
			break
		}

		report.Pages++
		logger.LogPage(log, accountID, page, len(records), next != "")

		if len(records) == 0 {
			report.StopReason = StopEmptyPage
			break
		}
		all = append(all, records...)

		if next == "" {
			report.StopReason = StopExhausted
			break
		}
		if report.Pages >= h.opts.MaxPages {
			report.StopReason = StopPageCap
			report.Truncated = true
			log.WarnWithFields("Page cap reached, harvest truncated", map[string]interface{}{
				"max_pages": h.opts.MaxPages,
				"records":   len(all),
			})
			break
		}
		cursor = next
	}

	report.Records = len(all)
	log.DebugWithFields("Harvest finished", map[string]interface{}{
		"pages":       report.Pages,
		"records":     report.Records,
		"stop_reason": string(report.StopReason),
	})
	return all, report, nil
}

type fetched struct {
	records []models.FollowerRecord
	next    string
}

// fetchPage fetches one page, retrying a single time on an upstream 429.
func (h *Harvester) fetchPage(ctx context.Context, log logger.Logger, accountID, cursor string, page int) ([]models.FollowerRecord, string, error) {
	cfg := retry.OnceAfter(ctx, h.opts.RateLimitBackoff, errs.IsRateLimitStatus)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.LogRateLimit(log, accountID, page, delay)
	}

	p, err := retry.DoWithResult(func() (fetched, error) {
		records, next, err := h.fetcher.FetchPage(ctx, accountID, cursor)
		h.observe(accountID, len(records), err)
		return fetched{records: records, next: next}, err
	}, cfg)
	return p.records, p.next, err
}

func (h *Harvester) observe(accountID string, records int, err error) {
	if h.opts.Observer == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case errs.IsRateLimitStatus(err):
		outcome = OutcomeRateLimited
	case err != nil:
		outcome = OutcomeError
	}
	h.opts.Observer.ObservePage(accountID, h.opts.List, outcome, records)
}
