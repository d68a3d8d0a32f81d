// Package jsonfile persists board snapshots as a single JSON document on disk.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"taskboard/internal/document"
)

const (
	lockTimeout   = 3 * time.Second
	lockRetryWait = 50 * time.Millisecond
)

// Store writes snapshots to path, guarded by a sibling .lock file so backup
// readers in other goroutines or processes never see a half-written file.
type Store struct {
	path     string
	mu       sync.Mutex // flock does not exclude goroutines sharing one handle
	fileLock *flock.Flock
	logger   *slog.Logger
}

// Open prepares a store at path, creating the parent directory.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty data file path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   logger,
	}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing or empty file yields nil.
func (s *Store) Load(ctx context.Context) (*document.Snapshot, error) {
	raw, err := s.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var snap document.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return &snap, nil
}

// Save atomically replaces the snapshot file.
func (s *Store) Save(ctx context.Context, snap document.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot returns the raw snapshot bytes under the file lock, or nil
// when no snapshot exists yet.
func (s *Store) ReadSnapshot(ctx context.Context) ([]byte, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return raw, nil
}

// Close removes the lock file.
func (s *Store) Close() error {
	if err := s.fileLock.Close(); err != nil {
		return err
	}
	_ = os.Remove(s.path + ".lock")
	return nil
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	s.mu.Lock()
	locked, err := s.fileLock.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	if !locked {
		s.mu.Unlock()
		return nil, fmt.Errorf("could not acquire file lock")
	}
	return func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn("release file lock", slog.String("error", err.Error()))
		}
		s.mu.Unlock()
	}, nil
}
