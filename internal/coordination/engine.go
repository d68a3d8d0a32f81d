// Package coordination owns editing locks and drag operations, the state
// that gives one user at a time exclusive access to a task.
package coordination

import (
	"log/slog"
	"time"

	"taskboard/internal/models"
)

const (
	// DefaultLockTimeout is how long a lock may be held before it is considered stale.
	DefaultLockTimeout = 5 * time.Minute
	// DefaultDragTimeout is how long a drag may sit idle before it is dropped.
	DefaultDragTimeout = 30 * time.Second
)

// Members records which task a user is editing.
type Members interface {
	SetEditing(userID, taskID string)
	ClearEditing(userID, taskID string)
}

// Released describes a lock removed by a sweep.
type Released struct {
	TaskID string
	Lock   models.EditingLock
}

// Reconciled lists what a reconciliation pass evicted.
type Reconciled struct {
	Locks []Released
	Drags []models.DragOperation
}

// Empty reports whether nothing was evicted.
func (r Reconciled) Empty() bool {
	return len(r.Locks) == 0 && len(r.Drags) == 0
}

// Options tunes an Engine.
type Options struct {
	LockTimeout time.Duration
	DragTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Engine holds the lock and drag maps. It is not safe for concurrent use.
type Engine struct {
	locks       map[string]models.EditingLock
	drags       map[string]*models.DragOperation
	members     Members
	lockTimeout time.Duration
	dragTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// New builds an engine that reports editing markers to members.
func New(members Members, opts Options) *Engine {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.DragTimeout <= 0 {
		opts.DragTimeout = DefaultDragTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		locks:       make(map[string]models.EditingLock),
		drags:       make(map[string]*models.DragOperation),
		members:     members,
		lockTimeout: opts.LockTimeout,
		dragTimeout: opts.DragTimeout,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

// AcquireLock claims taskID for userID. Re-acquiring an owned lock refreshes
// its timestamp and mode.
func (e *Engine) AcquireLock(userID, taskID string, mode models.LockMode) bool {
	if existing, ok := e.locks[taskID]; ok && existing.UserID != userID {
		e.logger.Debug("lock denied",
			slog.String("task", taskID),
			slog.String("user", userID),
			slog.String("owner", existing.UserID))
		return false
	}

	e.locks[taskID] = models.EditingLock{
		UserID:     userID,
		AcquiredAt: e.now(),
		Mode:       mode,
	}
	if e.members != nil {
		e.members.SetEditing(userID, taskID)
	}
	return true
}

// ReleaseLock removes any lock on taskID regardless of owner.
func (e *Engine) ReleaseLock(taskID string) (models.EditingLock, bool) {
	lock, ok := e.locks[taskID]
	if !ok {
		return models.EditingLock{}, false
	}
	delete(e.locks, taskID)
	if e.members != nil {
		e.members.ClearEditing(lock.UserID, taskID)
	}
	return lock, true
}

// ReleaseLockFor removes the lock on taskID only if userID owns it.
func (e *Engine) ReleaseLockFor(userID, taskID string) bool {
	lock, ok := e.locks[taskID]
	if !ok || lock.UserID != userID {
		return false
	}
	e.ReleaseLock(taskID)
	return true
}

// CanMutate reports whether userID may change taskID: it is unlocked or held by userID.
func (e *Engine) CanMutate(userID, taskID string) bool {
	lock, ok := e.locks[taskID]
	return !ok || lock.UserID == userID
}

// Lock returns the lock on taskID.
func (e *Engine) Lock(taskID string) (models.EditingLock, bool) {
	lock, ok := e.locks[taskID]
	return lock, ok
}

// Locks returns a copy of the lock map.
func (e *Engine) Locks() map[string]models.EditingLock {
	out := make(map[string]models.EditingLock, len(e.locks))
	for id, lock := range e.locks {
		out[id] = lock
	}
	return out
}

// ExpireStaleLocks releases every lock older than the lock timeout.
func (e *Engine) ExpireStaleLocks(now time.Time) []Released {
	var released []Released
	for taskID, lock := range e.locks {
		if now.Sub(lock.AcquiredAt) > e.lockTimeout {
			e.ReleaseLock(taskID)
			released = append(released, Released{TaskID: taskID, Lock: lock})
		}
	}
	if len(released) > 0 {
		e.logger.Info("expired stale locks", slog.Int("count", len(released)))
	}
	return released
}

// ExpireStaleDrags drops drags idle longer than the drag timeout and
// releases their locks.
func (e *Engine) ExpireStaleDrags(now time.Time) []models.DragOperation {
	var expired []models.DragOperation
	for userID, drag := range e.drags {
		if now.Sub(drag.LastActivity) > e.dragTimeout {
			if op, ok := e.CancelDrag(userID); ok {
				expired = append(expired, op)
			}
		}
	}
	if len(expired) > 0 {
		e.logger.Info("expired idle drags", slog.Int("count", len(expired)))
	}
	return expired
}

// Reconcile evicts locks and drags owned by users missing from connected.
func (e *Engine) Reconcile(connected []string) Reconciled {
	alive := make(map[string]struct{}, len(connected))
	for _, id := range connected {
		alive[id] = struct{}{}
	}

	var out Reconciled
	for userID := range e.drags {
		if _, ok := alive[userID]; !ok {
			drag := *e.drags[userID]
			delete(e.drags, userID)
			out.Drags = append(out.Drags, drag)
		}
	}
	for taskID, lock := range e.locks {
		if _, ok := alive[lock.UserID]; !ok {
			e.ReleaseLock(taskID)
			out.Locks = append(out.Locks, Released{TaskID: taskID, Lock: lock})
		}
	}
	if !out.Empty() {
		e.logger.Info("reconciled orphaned state",
			slog.Int("locks", len(out.Locks)),
			slog.Int("drags", len(out.Drags)))
	}
	return out
}

// StartDrag takes a drag lock on taskID and records the gesture. A drag the
// user already has in progress is cancelled first, releasing its lock; the
// caller can read it beforehand with Drag. On denial the old drag is kept.
func (e *Engine) StartDrag(userID, taskID string, startPos, relativePos models.Position, fromList models.ListType) (models.DragOperation, bool) {
	if !e.CanMutate(userID, taskID) {
		e.logger.Debug("drag denied", slog.String("task", taskID), slog.String("user", userID))
		return models.DragOperation{}, false
	}
	if prev, ok := e.CancelDrag(userID); ok {
		e.logger.Debug("replaced drag", slog.String("user", userID), slog.String("task", prev.TaskID))
	}
	if !e.AcquireLock(userID, taskID, models.LockDrag) {
		return models.DragOperation{}, false
	}
	drag := &models.DragOperation{
		TaskID:       taskID,
		UserID:       userID,
		StartPos:     startPos,
		RelativePos:  relativePos,
		CurrentPos:   startPos,
		FromList:     fromList,
		LastActivity: e.now(),
	}
	e.drags[userID] = drag
	return *drag, true
}

// UpdateDrag moves the user's active drag. It is a no-op without one.
func (e *Engine) UpdateDrag(userID string, pos models.Position) bool {
	drag, ok := e.drags[userID]
	if !ok {
		return false
	}
	drag.CurrentPos = pos
	drag.LastActivity = e.now()
	return true
}

// EndDrag removes and returns the user's drag. The lock stays held; the
// caller releases it through the resulting move or explicitly.
func (e *Engine) EndDrag(userID string) (models.DragOperation, bool) {
	drag, ok := e.drags[userID]
	if !ok {
		return models.DragOperation{}, false
	}
	delete(e.drags, userID)
	return *drag, true
}

// CancelDrag removes the user's drag and releases its lock if the user still holds it.
func (e *Engine) CancelDrag(userID string) (models.DragOperation, bool) {
	drag, ok := e.EndDrag(userID)
	if !ok {
		return models.DragOperation{}, false
	}
	e.ReleaseLockFor(userID, drag.TaskID)
	return drag, true
}

// Drag returns the user's active drag.
func (e *Engine) Drag(userID string) (models.DragOperation, bool) {
	drag, ok := e.drags[userID]
	if !ok {
		return models.DragOperation{}, false
	}
	return *drag, true
}

// Drags returns a copy of the drag map keyed by user id.
func (e *Engine) Drags() map[string]models.DragOperation {
	out := make(map[string]models.DragOperation, len(e.drags))
	for id, drag := range e.drags {
		out[id] = *drag
	}
	return out
}
