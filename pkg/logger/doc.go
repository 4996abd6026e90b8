// Package logger provides the structured logging interface used across
// followsync.
//
// It wraps zerolog behind a small Logger interface so that components can
// take a logger as a dependency and tests can substitute NewNopLogger or
// NewTestLogger.
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("account_id", id).Info("Sync started")
//	log.InfoWithFields("Fetched follower page", map[string]interface{}{
//	    "page":    3,
//	    "records": 200,
//	})
//
// Helpers such as LogPage, LogRateLimit and LogSync keep field names
// consistent between the harvester, the orchestrator and the HTTP layer.
package logger
