// Package ratelimit paces requests to the upstream follower API.
//
// A single Limiter is shared by every harvest running in the process, so
// concurrent syncs of different accounts draw from the same budget. New
// builds the default token bucket on golang.org/x/time/rate. FromConfig
// picks SlidingWindow instead when rate_limit.strategy is "sliding_window",
// for APIs with a hard per-minute quota.
package ratelimit
