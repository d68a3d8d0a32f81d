package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"taskboard/internal/codec"
	"taskboard/internal/document"
	"taskboard/internal/models"
	"taskboard/internal/session"
)

// handle dispatches one inbound envelope. It runs on the hub goroutine.
func (h *Hub) handle(ctx context.Context, c *Client, env codec.Envelope) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	if env.Type != TypeUserJoin && !h.registry.Has(c.id) {
		h.sendError(c, "join the board before sending "+env.Type)
		return
	}

	switch env.Type {
	case TypeUserJoin:
		h.handleJoin(c, env)
	case TypeMouseMove:
		h.handleMouseMove(c, env)
	case TypeEditingStart:
		h.handleEditingStart(c, env)
	case TypeEditingEnd:
		h.handleEditingEnd(c, env)
	case TypeTaskAdd:
		h.handleTaskAdd(ctx, c, env)
	case TypeTaskUpdate:
		h.handleTaskUpdate(ctx, c, env)
	case TypeTaskMove:
		h.handleTaskMove(ctx, c, env)
	case TypeTaskDelete:
		h.handleTaskDelete(ctx, c, env)
	case TypeListClear:
		h.handleListClear(ctx, c, env)
	case TypeDragStart:
		h.handleDragStart(c, env)
	case TypeDragMove:
		h.handleDragMove(c, env)
	case TypeDragEnd:
		h.handleDragEnd(ctx, c, env)
	default:
		h.logger.Debug("unknown event", slog.String("client", c.id), slog.String("type", env.Type))
	}
}

// decodePayload unmarshals env.Data, answering the sender on failure.
func decodePayload[T any](h *Hub, c *Client, env codec.Envelope) (T, bool) {
	var payload T
	if len(env.Data) == 0 {
		h.sendError(c, "missing "+env.Type+" payload")
		return payload, false
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		h.logger.Debug("malformed payload",
			slog.String("client", c.id),
			slog.String("type", env.Type),
			slog.String("error", err.Error()))
		h.sendError(c, "malformed "+env.Type+" payload")
		return payload, false
	}
	return payload, true
}

func (h *Hub) handleJoin(c *Client, env codec.Envelope) {
	if h.registry.Has(c.id) {
		h.sendError(c, "already joined")
		return
	}
	p, ok := decodePayload[joinPayload](h, c, env)
	if !ok {
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		h.sendError(c, fmt.Sprintf("name must be 1 to %d characters", MaxNameLength))
		return
	}

	user, err := h.registry.AddUser(c.id, name)
	if errors.Is(err, session.ErrNameTaken) {
		h.sendError(c, fmt.Sprintf("User %q already exists", name))
		return
	}
	if err != nil {
		h.logger.Error("join failed", slog.String("client", c.id), slog.String("error", err.Error()))
		h.sendError(c, "join failed")
		return
	}

	h.sendTo(c, TypeInitialState, InitialState{
		CurrentUser:    user,
		Users:          h.registry.List(),
		Tasks:          h.store.Snapshot(),
		EditingLocks:   h.engine.Locks(),
		DragOperations: h.engine.Drags(),
	})
	h.broadcast(TypeUsersUpdate, UsersUpdate{Users: h.registry.List()})
}

func (h *Hub) handleMouseMove(c *Client, env codec.Envelope) {
	var pos models.MousePosition
	if err := json.Unmarshal(env.Data, &pos); err != nil {
		return
	}
	h.registry.UpdateMouse(c.id, pos)
	h.broadcastRaw(c, TypeMouseMove, MouseMove{UserID: c.id, MousePosition: pos})
}

func (h *Hub) handleEditingStart(c *Client, env codec.Envelope) {
	p, ok := decodePayload[editingPayload](h, c, env)
	if !ok {
		return
	}
	mode, err := models.ParseLockMode(p.Type)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	if _, _, exists := h.store.Find(p.TaskID); !exists {
		h.logger.Debug("editing-start for unknown task", slog.String("task", p.TaskID))
		return
	}

	if !h.engine.AcquireLock(c.id, p.TaskID, mode) {
		h.sendTo(c, TypeEditingFailed, EditingFailed{TaskID: p.TaskID})
		return
	}
	h.broadcast(TypeEditingStart, EditingEvent{UserID: c.id, TaskID: p.TaskID, Type: mode})
}

func (h *Hub) handleEditingEnd(c *Client, env codec.Envelope) {
	p, ok := decodePayload[editingPayload](h, c, env)
	if !ok {
		return
	}
	if h.engine.ReleaseLockFor(c.id, p.TaskID) {
		h.broadcast(TypeEditingEnd, EditingEvent{UserID: c.id, TaskID: p.TaskID})
	}
}

func (h *Hub) handleTaskAdd(ctx context.Context, c *Client, env codec.Envelope) {
	p, ok := decodePayload[taskAddPayload](h, c, env)
	if !ok {
		return
	}
	title, err := validateTitle(p.Title)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	desc, err := validateDescription(p.Description)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	task := h.store.AddTask(ctx, title, desc)
	h.broadcast(TypeDocumentChange, DocumentChange{
		Type:  TypeTaskAdd,
		Task:  &task,
		Tasks: h.store.Snapshot(),
	})
}

func (h *Hub) handleTaskUpdate(ctx context.Context, c *Client, env codec.Envelope) {
	p, ok := decodePayload[taskUpdatePayload](h, c, env)
	if !ok {
		return
	}
	upd := p.Updates
	if upd.Title != nil {
		title, err := validateTitle(*upd.Title)
		if err != nil {
			h.sendError(c, err.Error())
			return
		}
		upd.Title = &title
	}
	if upd.Description != nil {
		desc, err := validateDescription(*upd.Description)
		if err != nil {
			h.sendError(c, err.Error())
			return
		}
		upd.Description = &desc
	}
	if upd.Empty() {
		return
	}
	if !h.engine.CanMutate(c.id, p.TaskID) {
		h.sendTo(c, TypeEditingFailed, EditingFailed{TaskID: p.TaskID})
		return
	}

	lock, locked := h.engine.Lock(p.TaskID)
	if !h.store.UpdateTask(ctx, p.TaskID, upd) {
		return
	}
	h.engine.ReleaseLock(p.TaskID)

	h.broadcast(TypeDocumentChange, DocumentChange{
		Type:    TypeTaskUpdate,
		TaskID:  p.TaskID,
		Updates: &upd,
		Tasks:   h.store.Snapshot(),
	})
	if locked {
		h.broadcast(TypeEditingEnd, EditingEvent{UserID: lock.UserID, TaskID: p.TaskID})
	}
}

func (h *Hub) handleTaskMove(ctx context.Context, c *Client, env codec.Envelope) {
	p, ok := decodePayload[taskMovePayload](h, c, env)
	if !ok {
		return
	}
	from, err := models.ParseListType(p.FromList)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	to, err := models.ParseListType(p.ToList)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	if !h.engine.CanMutate(c.id, p.TaskID) {
		h.sendTo(c, TypeEditingFailed, EditingFailed{TaskID: p.TaskID})
		return
	}

	lock, locked := h.engine.Lock(p.TaskID)
	if !h.store.MoveTask(ctx, p.TaskID, from, to) {
		return
	}

	h.broadcast(TypeDocumentChange, DocumentChange{
		Type:     TypeTaskMove,
		TaskID:   p.TaskID,
		FromList: from,
		ToList:   to,
		Tasks:    h.store.Snapshot(),
	})
	if locked {
		h.broadcast(TypeEditingEnd, EditingEvent{UserID: lock.UserID, TaskID: p.TaskID})
	}
}

func (h *Hub) handleTaskDelete(ctx context.Context, c *Client, env codec.Envelope) {
	p, ok := decodePayload[taskDeletePayload](h, c, env)
	if !ok {
		return
	}
	from, err := models.ParseListType(p.FromList)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	if !h.engine.CanMutate(c.id, p.TaskID) {
		h.sendTo(c, TypeEditingFailed, EditingFailed{TaskID: p.TaskID})
		return
	}

	lock, locked := h.engine.Lock(p.TaskID)
	if !h.store.DeleteTask(ctx, p.TaskID, from) {
		return
	}

	h.broadcast(TypeDocumentChange, DocumentChange{
		Type:     TypeTaskDelete,
		TaskID:   p.TaskID,
		FromList: from,
		Tasks:    h.store.Snapshot(),
	})
	if locked {
		h.broadcast(TypeEditingEnd, EditingEvent{UserID: lock.UserID, TaskID: p.TaskID})
	}
}

func (h *Hub) handleListClear(ctx context.Context, c *Client, env codec.Envelope) {
	p, ok := decodePayload[listClearPayload](h, c, env)
	if !ok {
		return
	}
	lt, err := models.ParseListType(p.ListType)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	locksBefore := h.engine.Locks()
	removed := h.store.ClearList(ctx, lt)

	h.broadcast(TypeDocumentChange, DocumentChange{
		Type:     TypeListClear,
		ListType: lt,
		Tasks:    h.store.Snapshot(),
	})
	for _, taskID := range removed {
		if lock, ok := locksBefore[taskID]; ok {
			h.broadcast(TypeEditingEnd, EditingEvent{UserID: lock.UserID, TaskID: taskID})
		}
	}
}

func (h *Hub) handleDragStart(c *Client, env codec.Envelope) {
	p, ok := decodePayload[dragStartPayload](h, c, env)
	if !ok {
		return
	}
	from, err := models.ParseListType(p.FromList)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	if _, list, exists := h.store.Find(p.TaskID); !exists || list != from {
		h.logger.Debug("drag-start for task not in list",
			slog.String("task", p.TaskID),
			slog.String("list", string(from)))
		return
	}

	prev, replacing := h.engine.Drag(c.id)
	drag, ok := h.engine.StartDrag(c.id, p.TaskID, p.StartPos, p.RelativePos, from)
	if !ok {
		h.sendTo(c, TypeEditingFailed, EditingFailed{TaskID: p.TaskID})
		return
	}
	if replacing {
		h.broadcast(TypeDragEnd, DragEnd{UserID: c.id, TaskID: prev.TaskID})
	}
	h.broadcast(TypeDragStart, drag)
}

func (h *Hub) handleDragMove(c *Client, env codec.Envelope) {
	var p dragMovePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return
	}
	h.engine.UpdateDrag(c.id, p.CurrentPos)
	h.broadcastRaw(c, TypeDragMove, DragMove{UserID: c.id, CurrentPos: p.CurrentPos})
}

// handleDragEnd commits the drop, if any, and always frees the drag lock.
func (h *Hub) handleDragEnd(ctx context.Context, c *Client, env codec.Envelope) {
	var p dragEndPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(c, "malformed "+env.Type+" payload")
			return
		}
	}

	drag, dragging := h.engine.EndDrag(c.id)
	taskID := p.TaskID
	success := false

	if dragging {
		taskID = drag.TaskID
		if p.DropList != "" {
			to, err := models.ParseListType(p.DropList)
			if err != nil {
				h.logger.Debug("drag-end with unknown drop list", slog.String("list", p.DropList))
			} else {
				before := p.BeforeTaskID
				if before == "" {
					before = document.NoTask
				}
				success = h.store.MoveTaskWithPosition(ctx, drag.TaskID, drag.FromList, to, before)
				if success {
					h.broadcast(TypeDocumentChange, DocumentChange{
						Type:         TypeTaskMove,
						TaskID:       drag.TaskID,
						FromList:     drag.FromList,
						ToList:       to,
						BeforeTaskID: p.BeforeTaskID,
						Tasks:        h.store.Snapshot(),
					})
				}
			}
		}
		h.engine.ReleaseLockFor(c.id, drag.TaskID)
	}

	h.broadcast(TypeDragEnd, DragEnd{UserID: c.id, TaskID: taskID, Success: success})
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", errors.New("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("title must be at most %d characters", MaxTitleLength)
	}
	return title, nil
}

func validateDescription(raw string) (string, error) {
	desc := strings.TrimSpace(raw)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return "", fmt.Errorf("description must be at most %d characters", MaxDescriptionLength)
	}
	return desc, nil
}
