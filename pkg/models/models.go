package models

import "time"

// FollowerRecord is one account in a follower or following list. ID is the
// identity; the other fields are descriptive and never null.
type FollowerRecord struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"profile_image_url"`
}

// Snapshot is the last accepted harvest for an account.
type Snapshot []FollowerRecord

// IDs returns the set of ids in the snapshot.
func (s Snapshot) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s))
	for _, r := range s {
		ids[r.ID] = struct{}{}
	}
	return ids
}

// UnfollowEvent records that a follower disappeared between two syncs.
type UnfollowEvent struct {
	FollowerRecord
	UnfollowedAt time.Time `json:"unfollowedAt"`
}

// SyncMetadata is the per-account bookkeeping written after a successful sync.
type SyncMetadata struct {
	AccountID        string    `json:"accountId"`
	LastSyncAt       time.Time `json:"lastSyncAt"`
	FollowerCount    int       `json:"followerCount"`
	NeedsInitialSync bool      `json:"needsInitialSync"`
}

// HasSynced reports whether at least one sync has completed.
func (m SyncMetadata) HasSynced() bool {
	return !m.LastSyncAt.IsZero()
}
