package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	errs "followsync/pkg/errors"
)

// Backoff picks the pause before the next attempt. attempt counts failures
// so far, starting at 1; err is the failure that triggered the retry.
type Backoff interface {
	Delay(attempt int, err error) time.Duration
}

// Exponential doubles (by Factor) from Initial up to Ceiling, then spreads
// the result by +/- Spread of itself.
type Exponential struct {
	Initial time.Duration
	Ceiling time.Duration
	Factor  float64
	Spread  float64
}

// DefaultExponential is the account-level backoff used by the worker pool.
func DefaultExponential() *Exponential {
	return &Exponential{
		Initial: time.Second,
		Ceiling: time.Minute,
		Factor:  2,
		Spread:  0.1,
	}
}

func (e *Exponential) Delay(attempt int, _ error) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := math.Min(float64(e.Initial)*math.Pow(e.Factor, float64(attempt-1)), float64(e.Ceiling))
	if e.Spread > 0 {
		d += d * e.Spread * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// Fixed waits the same duration after every failure.
type Fixed time.Duration

func (f Fixed) Delay(attempt int, _ error) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(f)
}

// HonorRetryAfter waits for the RetryAfter hint carried by a typed error
// when it is longer than what Next would pick, never beyond Max.
type HonorRetryAfter struct {
	Next Backoff
	Max  time.Duration
}

func (h HonorRetryAfter) Delay(attempt int, err error) time.Duration {
	var d time.Duration
	if h.Next != nil {
		d = h.Next.Delay(attempt, err)
	}
	var e *errs.Error
	if errors.As(err, &e) && e.RetryAfter > d {
		d = e.RetryAfter
	}
	if h.Max > 0 && d > h.Max {
		d = h.Max
	}
	return d
}

// Wait sleeps for delay unless ctx ends first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
