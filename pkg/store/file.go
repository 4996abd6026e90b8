package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var _ KV = (*FileKV)(nil)

// fileState is the on-disk layout of a FileKV
type fileState struct {
	Version   int                          `json:"version"`
	UpdatedAt time.Time                    `json:"updated_at"`
	Values    map[string]entry             `json:"values"`
	Hashes    map[string]map[string]string `json:"hashes"`
}

const fileStateVersion = 1

// FileKV is a MemoryKV persisted to a single JSON file after every write.
// It suits single-user CLI runs without a redis server.
type FileKV struct {
	*MemoryKV
	path    string
	writeMu sync.Mutex
}

// OpenFileKV loads the state file at path, creating an empty store if the
// file does not exist yet.
func OpenFileKV(path string) (*FileKV, error) {
	f := &FileKV{MemoryKV: NewMemoryKV(), path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Values != nil {
		f.values = state.Values
	}
	if state.Hashes != nil {
		f.hashes = state.Hashes
	}
	return f, nil
}

func (f *FileKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := f.MemoryKV.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return f.save()
}

func (f *FileKV) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	ok, err := f.MemoryKV.SetNX(ctx, key, value, ttl)
	if err != nil || !ok {
		return ok, err
	}
	return true, f.save()
}

func (f *FileKV) Del(ctx context.Context, keys ...string) error {
	if err := f.MemoryKV.Del(ctx, keys...); err != nil {
		return err
	}
	return f.save()
}

func (f *FileKV) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	ok, err := f.MemoryKV.DelIfEqual(ctx, key, value)
	if err != nil || !ok {
		return ok, err
	}
	return true, f.save()
}

func (f *FileKV) HSet(ctx context.Context, key string, fields map[string]string) error {
	if err := f.MemoryKV.HSet(ctx, key, fields); err != nil {
		return err
	}
	return f.save()
}

// save writes the state atomically via a temp file and rename.
func (f *FileKV) save() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	now := f.now()
	state := fileState{
		Version:   fileStateVersion,
		UpdatedAt: now,
		Values:    make(map[string]entry, len(f.values)),
		Hashes:    make(map[string]map[string]string, len(f.hashes)),
	}
	for k, e := range f.values {
		if e.expired(now) {
			continue
		}
		state.Values[k] = e
	}
	for k, h := range f.hashes {
		state.Hashes[k] = h
	}
	data, err := json.MarshalIndent(state, "", "  ")
	f.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	tempPath := f.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
