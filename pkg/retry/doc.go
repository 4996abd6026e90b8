// Package retry provides backoff strategies and a retry loop for transient
// upstream failures.
//
// The harvester uses OnceAfter to retry a rate-limited page exactly once
// after a fixed backoff; the scheduler uses Do with an exponential backoff
// for account syncs that fail with retryable upstream errors.
//
//	err := retry.Do(func() error {
//		return fetch(ctx)
//	}, retry.OnceAfter(ctx, 30*time.Second, errors.IsRateLimitStatus))
//
// Every wait honours the configured context, so cancelling a sync aborts a
// pending backoff immediately.
package retry
