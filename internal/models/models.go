package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ListType names one of the three board columns.
type ListType string

const (
	ListTodo    ListType = "todo"
	ListDone    ListType = "done"
	ListIgnored ListType = "ignored"
)

// ListTypes enumerates the board columns in search order.
var ListTypes = []ListType{ListTodo, ListDone, ListIgnored}

// ParseListType validates a column name received from a client.
func ParseListType(raw string) (ListType, error) {
	switch lt := ListType(raw); lt {
	case ListTodo, ListDone, ListIgnored:
		return lt, nil
	default:
		return "", fmt.Errorf("unknown list %q", raw)
	}
}

// Task represents a single card on the board.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// TaskUpdate carries the fields a client may change on an existing task.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil
}

// TaskLists holds the three ordered columns of the board.
type TaskLists struct {
	Todo    []Task `json:"todo"`
	Done    []Task `json:"done"`
	Ignored []Task `json:"ignored"`
}

// NewTaskLists returns empty lists that serialize as arrays, not null.
func NewTaskLists() TaskLists {
	return TaskLists{Todo: []Task{}, Done: []Task{}, Ignored: []Task{}}
}

// List returns a pointer to the named column so callers can mutate it in place.
func (l *TaskLists) List(lt ListType) *[]Task {
	switch lt {
	case ListTodo:
		return &l.Todo
	case ListDone:
		return &l.Done
	case ListIgnored:
		return &l.Ignored
	}
	return nil
}

// Clone returns a deep copy with non-nil slices.
func (l TaskLists) Clone() TaskLists {
	return TaskLists{
		Todo:    append([]Task{}, l.Todo...),
		Done:    append([]Task{}, l.Done...),
		Ignored: append([]Task{}, l.Ignored...),
	}
}

// Len returns the number of tasks across all columns.
func (l TaskLists) Len() int {
	return len(l.Todo) + len(l.Done) + len(l.Ignored)
}

// Position is a point in client page coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MousePosition is the last cursor location reported by a client.
type MousePosition struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VW float64 `json:"vw"`
	VH float64 `json:"vh"`
	PR float64 `json:"pr"`
}

// Avatar is the colour and shape pair drawn next to a user's cursor.
type Avatar struct {
	Color string
	Shape string
}

// String renders the avatar the way clients expect it, e.g. "#FF6B6B-circle".
func (a Avatar) String() string {
	return a.Color + "-" + a.Shape
}

// MarshalText implements encoding.TextMarshaler.
func (a Avatar) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Avatar) UnmarshalText(text []byte) error {
	raw := string(text)
	idx := strings.LastIndex(raw, "-")
	if idx <= 0 || idx == len(raw)-1 {
		return fmt.Errorf("invalid avatar %q", raw)
	}
	a.Color, a.Shape = raw[:idx], raw[idx+1:]
	return nil
}

// User is a connected participant.
type User struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Avatar    Avatar        `json:"avatar"`
	Mouse     MousePosition `json:"mouse"`
	Editing   string        `json:"editing,omitempty"`
	Connected bool          `json:"connected"`
}

// LockMode describes why a task is locked.
type LockMode string

const (
	LockEdit LockMode = "edit"
	LockDrag LockMode = "drag"
	LockMove LockMode = "move"
)

// ParseLockMode validates a lock mode, defaulting to edit when empty.
func ParseLockMode(raw string) (LockMode, error) {
	switch m := LockMode(raw); m {
	case "":
		return LockEdit, nil
	case LockEdit, LockDrag, LockMove:
		return m, nil
	default:
		return "", fmt.Errorf("unknown lock type %q", raw)
	}
}

// EditingLock is an exclusive claim by one user on one task.
type EditingLock struct {
	UserID     string
	AcquiredAt time.Time
	Mode       LockMode
}

type editingLockJSON struct {
	UserID    string   `json:"userId"`
	Timestamp int64    `json:"timestamp"`
	Type      LockMode `json:"type"`
}

// MarshalJSON emits the lock with an epoch-millisecond timestamp.
func (l EditingLock) MarshalJSON() ([]byte, error) {
	return json.Marshal(editingLockJSON{
		UserID:    l.UserID,
		Timestamp: l.AcquiredAt.UnixMilli(),
		Type:      l.Mode,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (l *EditingLock) UnmarshalJSON(data []byte) error {
	var raw editingLockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.UserID = raw.UserID
	l.AcquiredAt = time.UnixMilli(raw.Timestamp)
	l.Mode = raw.Type
	return nil
}

// DragOperation is the transient state of a drag gesture in progress.
type DragOperation struct {
	TaskID      string   `json:"taskId"`
	UserID      string   `json:"userId"`
	StartPos    Position `json:"startPos"`
	RelativePos Position `json:"relativePos"`
	CurrentPos  Position `json:"currentPos"`
	FromList    ListType `json:"fromList"`

	// LastActivity is bumped on start and every move; idle drags expire.
	LastActivity time.Time `json:"-"`
}
