// Package harvest pages through an account's follower (or following) list.
//
// The loop ends without error on an empty page, an end-of-list cursor or the
// page cap. Upstream failures degrade to partial results whenever at least
// one page was gathered, because a short harvest only over-reports
// unfollowers until the next cycle corrects it.
package harvest
