package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"followsync/pkg/config"
)

// Limiter paces outbound requests to the follower API
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming a slot if so
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
	// Reset restores the limiter to its initial state
	Reset()
}

// New returns a smooth limiter allowing requestsPerMinute with the given
// burst. A non-positive rate disables limiting.
func New(requestsPerMinute, burst int) Limiter {
	if requestsPerMinute <= 0 {
		return Unlimited{}
	}
	if burst <= 0 {
		burst = 1
	}
	return NewSmooth(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// FromConfig builds the limiter selected by the rate_limit section.
func FromConfig(cfg config.RateLimitConfig) (Limiter, error) {
	switch cfg.Strategy {
	case "", "smooth":
		return New(cfg.RequestsPerMinute, cfg.BurstSize), nil
	case "sliding_window":
		if cfg.RequestsPerMinute <= 0 {
			return Unlimited{}, nil
		}
		return NewSlidingWindow(cfg.RequestsPerMinute, time.Minute), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// Smooth is a token bucket backed by golang.org/x/time/rate.
type Smooth struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	limiter *rate.Limiter
}

// NewSmooth creates a limiter refilling at perSecond tokens per second.
func NewSmooth(perSecond rate.Limit, burst int) *Smooth {
	return &Smooth{
		limit:   perSecond,
		burst:   burst,
		limiter: rate.NewLimiter(perSecond, burst),
	}
}

func (s *Smooth) current() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter
}

// Allow checks if a request can proceed
func (s *Smooth) Allow() bool {
	return s.current().Allow()
}

// Wait blocks until a token is available
func (s *Smooth) Wait(ctx context.Context) error {
	return s.current().Wait(ctx)
}

// Reset refills the bucket
func (s *Smooth) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rate.NewLimiter(s.limit, s.burst)
}

// SlidingWindow implements a sliding window rate limiter. It suits
// upstreams that publish a hard "N requests per window" quota.
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Wait blocks until a request is allowed
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for !sw.Allow() {
		wait := 100 * time.Millisecond
		sw.mu.Lock()
		if len(sw.requests) > 0 {
			if d := sw.windowSize - time.Since(sw.requests[0]); d > 0 {
				wait = d
			}
		}
		sw.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.requests = sw.requests[:0]
}

func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && sw.requests[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Allow() bool                    { return true }
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Reset()                         {}
