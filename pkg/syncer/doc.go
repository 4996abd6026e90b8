// Package syncer runs the follower sync pipeline for an account: gate on the
// minimum interval, harvest, diff against the stored snapshot and persist
// history, snapshot and metadata in that order. It also serves the derived
// reads built on the stored state.
package syncer
