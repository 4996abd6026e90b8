// Package diff compares follower harvests against the stored snapshot.
package diff

import "followsync/pkg/models"

// Result is the outcome of comparing a new harvest with the previous snapshot.
type Result struct {
	// Unfollowers are previous records whose id is missing from the harvest,
	// in snapshot order.
	Unfollowers []models.FollowerRecord
	// NewFollowers counts ids in the harvest that were not in the snapshot.
	NewFollowers int
	// Deduped is the harvest with duplicate ids removed, first occurrence kept.
	Deduped models.Snapshot
}

// Compute diffs current against previous. An empty current is still
// diffed; callers decide whether to accept it.
func Compute(previous, current []models.FollowerRecord) Result {
	deduped := Dedupe(current)
	currentIDs := models.Snapshot(deduped).IDs()
	previousIDs := models.Snapshot(previous).IDs()

	var unfollowers []models.FollowerRecord
	seen := make(map[string]struct{})
	for _, r := range previous {
		if _, ok := currentIDs[r.ID]; ok {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		unfollowers = append(unfollowers, r)
	}

	newFollowers := 0
	for id := range currentIDs {
		if _, ok := previousIDs[id]; !ok {
			newFollowers++
		}
	}

	return Result{
		Unfollowers:  unfollowers,
		NewFollowers: newFollowers,
		Deduped:      deduped,
	}
}

// Dedupe removes records whose id was already seen, keeping the first
// occurrence and preserving order. It never returns nil.
func Dedupe(records []models.FollowerRecord) []models.FollowerRecord {
	out := make([]models.FollowerRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// NotFollowingBack returns the accounts in following whose id is absent from
// followers, deduplicated and in following order.
func NotFollowingBack(following, followers []models.FollowerRecord) []models.FollowerRecord {
	followerIDs := models.Snapshot(followers).IDs()
	out := make([]models.FollowerRecord, 0)
	for _, r := range Dedupe(following) {
		if _, ok := followerIDs[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}
