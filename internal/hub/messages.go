package hub

import "taskboard/internal/models"

// Inbound event types.
const (
	TypeUserJoin     = "user-join"
	TypeMouseMove    = "mouse-move"
	TypeEditingStart = "editing-start"
	TypeEditingEnd   = "editing-end"
	TypeTaskAdd      = "task-add"
	TypeTaskUpdate   = "task-update"
	TypeTaskMove     = "task-move"
	TypeTaskDelete   = "task-delete"
	TypeListClear    = "list-clear"
	TypeDragStart    = "drag-start"
	TypeDragMove     = "drag-move"
	TypeDragEnd      = "drag-end"
)

// Outbound-only message types. Editing, mouse and drag events reuse the
// inbound names.
const (
	TypeInitialState   = "initial-state"
	TypeUsersUpdate    = "users-update"
	TypeDocumentChange = "document-change"
	TypeEditingFailed  = "editing-failed"
	TypeError          = "error"
)

// Input limits enforced before anything reaches the document store.
const (
	MaxNameLength        = 20
	MaxTitleLength       = 40
	MaxDescriptionLength = 2000
)

type joinPayload struct {
	Name string `json:"name"`
}

type editingPayload struct {
	TaskID string `json:"taskId"`
	Type   string `json:"type"`
}

type taskAddPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type taskUpdatePayload struct {
	TaskID  string            `json:"taskId"`
	Updates models.TaskUpdate `json:"updates"`
}

type taskMovePayload struct {
	TaskID   string `json:"taskId"`
	FromList string `json:"fromList"`
	ToList   string `json:"toList"`
}

type taskDeletePayload struct {
	TaskID   string `json:"taskId"`
	FromList string `json:"fromList"`
}

type listClearPayload struct {
	ListType string `json:"listType"`
}

type dragStartPayload struct {
	TaskID      string          `json:"taskId"`
	StartPos    models.Position `json:"startPos"`
	RelativePos models.Position `json:"relativePos"`
	FromList    string          `json:"fromList"`
}

type dragMovePayload struct {
	CurrentPos models.Position `json:"currentPos"`
}

type dragEndPayload struct {
	TaskID       string `json:"taskId"`
	DropList     string `json:"dropList,omitempty"`
	BeforeTaskID string `json:"beforeTaskId,omitempty"`
}

// InitialState is sent to a client right after it joins.
type InitialState struct {
	CurrentUser    models.User                     `json:"currentUser"`
	Users          []models.User                   `json:"users"`
	Tasks          models.TaskLists                `json:"tasks"`
	EditingLocks   map[string]models.EditingLock   `json:"editingLocks"`
	DragOperations map[string]models.DragOperation `json:"dragOperations"`
}

// UsersUpdate is broadcast whenever membership changes.
type UsersUpdate struct {
	Users []models.User `json:"users"`
}

// DocumentChange is broadcast after every successful list mutation. Tasks
// always carries the full lists.
type DocumentChange struct {
	Type         string             `json:"type"`
	Task         *models.Task       `json:"task,omitempty"`
	TaskID       string             `json:"taskId,omitempty"`
	Updates      *models.TaskUpdate `json:"updates,omitempty"`
	FromList     models.ListType    `json:"fromList,omitempty"`
	ToList       models.ListType    `json:"toList,omitempty"`
	BeforeTaskID string             `json:"beforeTaskId,omitempty"`
	ListType     models.ListType    `json:"listType,omitempty"`
	Tasks        models.TaskLists   `json:"tasks"`
}

// EditingEvent announces a lock being taken or released.
type EditingEvent struct {
	UserID string          `json:"userId"`
	TaskID string          `json:"taskId"`
	Type   models.LockMode `json:"type,omitempty"`
}

// EditingFailed tells a requester its lock was denied.
type EditingFailed struct {
	TaskID string `json:"taskId"`
}

// MouseMove relays a cursor position to the other clients.
type MouseMove struct {
	UserID string `json:"userId"`
	models.MousePosition
}

// DragMove relays a drag position to the other clients.
type DragMove struct {
	UserID     string          `json:"userId"`
	CurrentPos models.Position `json:"currentPos"`
}

// DragEnd closes a drag for every client.
type DragEnd struct {
	UserID  string `json:"userId"`
	TaskID  string `json:"taskId,omitempty"`
	Success bool   `json:"success"`
}

// ErrorMessage is a targeted failure notice.
type ErrorMessage struct {
	Message string `json:"message"`
}
