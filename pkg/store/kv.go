package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"followsync/pkg/config"
	"followsync/pkg/logger"
)

// ErrNotFound is returned by KV.Get for a missing or expired key.
var ErrNotFound = errors.New("key not found")

// KV is the subset of a Redis-compatible key-value store the snapshot store
// needs. Get returns whatever the backend holds; callers must not assume a
// string.
type KV interface {
	Get(ctx context.Context, key string) (any, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// DelIfEqual deletes key only while it holds value and reports whether it did.
	DelIfEqual(ctx context.Context, key, value string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by the store configuration.
func Open(cfg config.StoreConfig, log logger.Logger) (KV, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	switch cfg.Driver {
	case "redis":
		kv, err := NewRedisKV(cfg)
		if err != nil {
			return nil, err
		}
		log.InfoWithFields("Connected to redis", map[string]interface{}{"addr": cfg.RedisAddr, "db": cfg.RedisDB})
		return kv, nil
	case "file":
		kv, err := OpenFileKV(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		log.InfoWithFields("Opened file store", map[string]interface{}{"path": cfg.FilePath})
		return kv, nil
	case "memory", "":
		log.Warn("Using in-memory store, state is lost on exit")
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
