// Package backup keeps periodic copies of the board snapshot.
//
// Every interval the current snapshot is written to a timestamped file in
// the backup directory. When the previous backup holds the same bytes it is
// removed first, so an idle board keeps a single, fresh backup instead of a
// pile of identical ones.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the backup period.
const DefaultInterval = 3 * time.Hour

const (
	filePrefix = "data-backup-"
	fileSuffix = ".json"
	fileLayout = "2006-01-02-15-04"
)

// Source yields the current snapshot bytes, nil when none exists yet.
type Source interface {
	ReadSnapshot(ctx context.Context) ([]byte, error)
}

// Info summarizes the backups on disk.
type Info struct {
	TotalBackups int    `json:"totalBackups"`
	OldestBackup string `json:"oldestBackup,omitempty"`
	NewestBackup string `json:"newestBackup,omitempty"`
}

// Manager writes backups on a timer.
type Manager struct {
	source   Source
	dir      string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewManager builds a manager writing into dir every interval.
func NewManager(source Source, dir string, interval time.Duration, logger *slog.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:   source,
		dir:      dir,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Run takes a backup immediately and then every interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("backup manager started",
		slog.String("dir", m.dir),
		slog.Duration("interval", m.interval))
	m.checkAndLog(ctx)

	for {
		select {
		case <-ticker.C:
			m.checkAndLog(ctx)
		case <-ctx.Done():
			m.logger.Info("backup manager stopped")
			return
		}
	}
}

func (m *Manager) checkAndLog(ctx context.Context) {
	name, err := m.Check(ctx)
	switch {
	case err != nil:
		m.logger.Error("backup failed", slog.String("error", err.Error()))
	case name == "":
		m.logger.Info("no snapshot to back up yet")
	default:
		m.logger.Info("backup created", slog.String("file", name))
	}
}

// Check writes one backup and returns its file name, or "" when there is
// no snapshot yet.
func (m *Manager) Check(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.source.ReadSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	if current == nil {
		return "", nil
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	files, err := m.list()
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		last := filepath.Join(m.dir, files[len(files)-1])
		previous, err := os.ReadFile(last)
		if err != nil {
			return "", fmt.Errorf("read previous backup: %w", err)
		}
		if bytes.Equal(previous, current) {
			if err := os.Remove(last); err != nil {
				return "", fmt.Errorf("remove unchanged backup: %w", err)
			}
			m.logger.Debug("removed unchanged backup", slog.String("file", files[len(files)-1]))
		}
	}

	name := filePrefix + m.now().Format(fileLayout) + fileSuffix
	if err := os.WriteFile(filepath.Join(m.dir, name), current, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return name, nil
}

// Info reports the number of backups and the oldest and newest file names.
func (m *Manager) Info() (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := m.list()
	if err != nil {
		return Info{}, err
	}
	info := Info{TotalBackups: len(files)}
	if len(files) > 0 {
		info.OldestBackup = files[0]
		info.NewestBackup = files[len(files)-1]
	}
	return info, nil
}

// list returns backup file names sorted oldest first. The timestamp layout
// sorts lexically.
func (m *Manager) list() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}
