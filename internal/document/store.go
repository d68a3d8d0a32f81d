// Package document holds the board's three ordered task lists and writes
// every successful mutation through to a durable snapshot.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/models"
)

// NoTask is the sentinel beforeTaskID meaning "insert at the head".
const NoTask = "-1"

// persistTimeout bounds a single snapshot write.
const persistTimeout = 5 * time.Second

// Snapshot is the persisted form of the document.
type Snapshot struct {
	Tasks        models.TaskLists `json:"tasks"`
	LastModified time.Time        `json:"lastModified"`
}

// Persister durably stores snapshots. Load returns nil without error when
// nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// LockReleaser frees the editing lock on a task after a mutation.
type LockReleaser interface {
	ReleaseLock(taskID string) (models.EditingLock, bool)
}

// Options tunes a Store.
type Options struct {
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Store owns the task lists. It is not safe for concurrent use.
type Store struct {
	tasks     models.TaskLists
	persister Persister
	locks     LockReleaser
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// New builds an empty store. persister and locks may be nil.
func New(persister Persister, locks LockReleaser, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		tasks:     models.NewTaskLists(),
		persister: persister,
		locks:     locks,
		now:       opts.Now,
		newID:     opts.NewID,
		logger:    opts.Logger,
	}
}

// Load seeds the lists from the persister. A missing snapshot is a cold start.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		s.logger.Info("no snapshot found; starting with empty lists")
		return nil
	}
	s.tasks = snap.Tasks.Clone()
	s.logger.Info("snapshot loaded",
		slog.Int("tasks", s.tasks.Len()),
		slog.Time("last_modified", snap.LastModified))
	return nil
}

// Snapshot returns a copy of the current lists.
func (s *Store) Snapshot() models.TaskLists {
	return s.tasks.Clone()
}

// Find returns the task and the list holding it.
func (s *Store) Find(taskID string) (models.Task, models.ListType, bool) {
	for _, lt := range models.ListTypes {
		list := s.tasks.List(lt)
		if idx := indexOf(*list, taskID); idx >= 0 {
			return (*list)[idx], lt, true
		}
	}
	return models.Task{}, "", false
}

// AddTask appends a new task to the todo list.
func (s *Store) AddTask(ctx context.Context, title, description string) models.Task {
	task := models.Task{
		ID:          s.newID(),
		Title:       title,
		Description: description,
		Timestamp:   s.now(),
	}
	s.tasks.Todo = append(s.tasks.Todo, task)
	s.persist(ctx, "task-add")
	return task
}

// UpdateTask merges the non-nil fields of upd into the task.
func (s *Store) UpdateTask(ctx context.Context, taskID string, upd models.TaskUpdate) bool {
	for _, lt := range models.ListTypes {
		list := s.tasks.List(lt)
		idx := indexOf(*list, taskID)
		if idx < 0 {
			continue
		}
		task := &(*list)[idx]
		if upd.Title != nil {
			task.Title = *upd.Title
		}
		if upd.Description != nil {
			task.Description = *upd.Description
		}
		s.persist(ctx, "task-update")
		return true
	}
	return false
}

// MoveTask appends the task to the tail of to and releases its lock.
func (s *Store) MoveTask(ctx context.Context, taskID string, from, to models.ListType) bool {
	if s.tasks.List(to) == nil {
		return false
	}
	task, ok := s.remove(from, taskID)
	if !ok {
		return false
	}
	dst := s.tasks.List(to)
	*dst = append(*dst, task)

	s.releaseLock(taskID)
	s.persist(ctx, "task-move")
	return true
}

// MoveTaskWithPosition inserts the task right after beforeTaskID in to. An
// empty or sentinel beforeTaskID, or one not present in to, inserts at the
// head. When from == to the task is removed before the target is located.
func (s *Store) MoveTaskWithPosition(ctx context.Context, taskID string, from, to models.ListType, beforeTaskID string) bool {
	if s.tasks.List(to) == nil {
		return false
	}
	task, ok := s.remove(from, taskID)
	if !ok {
		return false
	}

	dst := s.tasks.List(to)
	at := 0
	if beforeTaskID != "" && beforeTaskID != NoTask {
		if idx := indexOf(*dst, beforeTaskID); idx >= 0 {
			at = idx + 1
		}
	}
	*dst = slices.Insert(*dst, at, task)

	s.releaseLock(taskID)
	s.persist(ctx, "task-move")
	return true
}

// DeleteTask removes the task from the named list and releases its lock.
func (s *Store) DeleteTask(ctx context.Context, taskID string, from models.ListType) bool {
	if _, ok := s.remove(from, taskID); !ok {
		return false
	}
	s.releaseLock(taskID)
	s.persist(ctx, "task-delete")
	return true
}

// ClearList empties a list, releasing every lock on its tasks. It returns the
// removed task ids.
func (s *Store) ClearList(ctx context.Context, lt models.ListType) []string {
	list := s.tasks.List(lt)
	if list == nil {
		return nil
	}
	removed := make([]string, 0, len(*list))
	for _, task := range *list {
		removed = append(removed, task.ID)
		s.releaseLock(task.ID)
	}
	*list = []models.Task{}
	s.persist(ctx, "list-clear")
	return removed
}

func (s *Store) remove(lt models.ListType, taskID string) (models.Task, bool) {
	list := s.tasks.List(lt)
	if list == nil {
		return models.Task{}, false
	}
	idx := indexOf(*list, taskID)
	if idx < 0 {
		return models.Task{}, false
	}
	task := (*list)[idx]
	*list = slices.Delete(*list, idx, idx+1)
	return task, true
}

func (s *Store) releaseLock(taskID string) {
	if s.locks != nil {
		s.locks.ReleaseLock(taskID)
	}
}

// persist writes the full document. Failures are logged; memory stays
// authoritative. Cancelling ctx does not abort the write.
func (s *Store) persist(ctx context.Context, op string) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	snap := Snapshot{Tasks: s.tasks.Clone(), LastModified: s.now()}
	if err := s.persister.Save(ctx, snap); err != nil {
		s.logger.Error("persist snapshot failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}

func indexOf(list []models.Task, taskID string) int {
	return slices.IndexFunc(list, func(t models.Task) bool { return t.ID == taskID })
}
