package ui

import "followsync/pkg/syncer"

// SyncView receives progress of one or more account syncs. Both the
// console printer and the bubbletea dashboard implement it.
type SyncView interface {
	ObservePage(accountID, list, outcome string, records int)
	SyncStarted(accountID string)
	SyncFinished(accountID string, res *syncer.Result, err error)
}
