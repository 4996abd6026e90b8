package store

import (
	"context"
	"sync"
	"time"
)

var _ KV = (*MemoryKV)(nil)

type entry struct {
	Value     any       `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// MemoryKV is a process-local KV used by tests and single-run CLI syncs
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]entry
	hashes map[string]map[string]string
	now    func() time.Time
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values: make(map[string]entry),
		hashes: make(map[string]map[string]string),
		now:    time.Now,
	}
}

// SetClock overrides the clock used for TTL expiry.
func (m *MemoryKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryKV) Get(ctx context.Context, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.values[key]
	if !ok || e.expired(m.now()) {
		return nil, ErrNotFound
	}
	return e.Value, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = m.newEntry(value, ttl)
	return nil
}

func (m *MemoryKV) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.values[key]; ok && !e.expired(m.now()) {
		return false, nil
	}
	m.values[key] = m.newEntry(value, ttl)
	return true, nil
}

func (m *MemoryKV) newEntry(value any, ttl time.Duration) entry {
	e := entry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = m.now().Add(ttl)
	}
	return e
}

func (m *MemoryKV) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.hashes, k)
	}
	return nil
}

func (m *MemoryKV) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	if !ok || e.expired(m.now()) {
		return false, nil
	}
	if held, _ := e.Value.(string); held != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *MemoryKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryKV) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemoryKV) Ping(ctx context.Context) error { return nil }

func (m *MemoryKV) Close() error { return nil }
