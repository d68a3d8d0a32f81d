// Package hub is the board's protocol dispatcher.
//
// A single goroutine (Run) owns the session registry, the coordination
// engine and the document store. Connection goroutines only move bytes:
// they decode frames and hand envelopes to the hub, and write the frames the
// hub queues for them. Every inbound event therefore runs to completion,
// state mutation before broadcast, before the next one is looked at.
// Periodic lock expiry and orphan reconciliation are cases in the same
// select loop.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"taskboard/internal/codec"
	"taskboard/internal/coordination"
	"taskboard/internal/document"
	"taskboard/internal/models"
	"taskboard/internal/session"
)

const (
	// DefaultCleanupInterval is how often expired locks and idle drags are swept.
	DefaultCleanupInterval   = 30 * time.Second
	// DefaultReconcileInterval is how often locks and drags of departed users are evicted.
	DefaultReconcileInterval = 60 * time.Second
	defaultSendBuffer        = 256
)

// ErrStopped is returned by queries made after Run has returned.
var ErrStopped = errors.New("hub stopped")

// Options tunes a Hub.
type Options struct {
	CleanupInterval   time.Duration
	ReconcileInterval time.Duration
	SendBuffer        int
	Now               func() time.Time
	NewID             func() string
	Logger            *slog.Logger
}

// State is a read-only view of the board for admin endpoints.
type State struct {
	Users          []models.User                   `json:"users"`
	Tasks          models.TaskLists                `json:"tasks"`
	EditingLocks   map[string]models.EditingLock   `json:"editingLocks"`
	DragOperations map[string]models.DragOperation `json:"dragOperations"`
	Connections    int                             `json:"connections"`
}

type inboundEvent struct {
	client *Client
	env    codec.Envelope
}

// Hub routes client events to the board state and fans out the results.
type Hub struct {
	registry *session.Registry
	engine   *coordination.Engine
	store    *document.Store
	codec    *codec.Codec

	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	queries    chan chan State
	done       chan struct{}
	alive      atomic.Bool

	cleanupInterval   time.Duration
	reconcileInterval time.Duration
	sendBuffer        int
	now               func() time.Time
	newID             func() string
	logger            *slog.Logger
}

// New builds a hub over already-wired board components.
func New(registry *session.Registry, engine *coordination.Engine, store *document.Store, c *codec.Codec, opts Options) *Hub {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return ksuid.New().String() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if c == nil {
		c = codec.New(codec.DefaultThreshold)
	}
	return &Hub{
		registry:          registry,
		engine:            engine,
		store:             store,
		codec:             c,
		clients:           make(map[string]*Client),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		inbound:           make(chan inboundEvent, 64),
		queries:           make(chan chan State),
		done:              make(chan struct{}),
		cleanupInterval:   opts.CleanupInterval,
		reconcileInterval: opts.ReconcileInterval,
		sendBuffer:        opts.SendBuffer,
		now:               opts.Now,
		newID:             opts.NewID,
		logger:            opts.Logger,
	}
}

// Alive reports whether the event loop is running.
func (h *Hub) Alive() bool {
	return h.alive.Load()
}

// Run processes events until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	h.alive.Store(true)
	defer func() {
		h.alive.Store(false)
		close(h.done)
	}()

	cleanup := time.NewTicker(h.cleanupInterval)
	defer cleanup.Stop()
	reconcile := time.NewTicker(h.reconcileInterval)
	defer reconcile.Stop()

	h.logger.Info("hub started",
		slog.Duration("cleanup_interval", h.cleanupInterval),
		slog.Duration("reconcile_interval", h.reconcileInterval))

	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.logger.Debug("client connected", slog.String("client", c.id))
		case c := <-h.unregister:
			h.disconnect(c)
		case ev := <-h.inbound:
			h.handle(ctx, ev.client, ev.env)
		case reply := <-h.queries:
			reply <- h.state()
		case <-cleanup.C:
			h.sweepStale(h.now())
		case <-reconcile.C:
			h.reconcile()
		case <-ctx.Done():
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.logger.Info("hub stopped")
			return
		}
	}
}

// State returns a consistent snapshot taken on the hub goroutine.
func (h *Hub) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case h.queries <- reply:
	case <-h.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (h *Hub) state() State {
	return State{
		Users:          h.registry.List(),
		Tasks:          h.store.Snapshot(),
		EditingLocks:   h.engine.Locks(),
		DragOperations: h.engine.Drags(),
		Connections:    len(h.clients),
	}
}

// disconnect forgets a client and releases everything its user held.
func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.logger.Debug("client disconnected", slog.String("client", c.id))

	if !h.registry.Has(c.id) {
		return
	}

	owned := h.locksOwnedBy(c.id)
	drag, dragging := h.engine.Drag(c.id)

	h.registry.RemoveUser(c.id)
	rec := h.engine.Reconcile(h.registry.IDs())

	for _, taskID := range owned {
		h.broadcast(TypeEditingEnd, EditingEvent{UserID: c.id, TaskID: taskID})
	}
	if dragging {
		h.broadcast(TypeDragEnd, DragEnd{UserID: c.id, TaskID: drag.TaskID})
	}
	h.announceReconciled(rec, c.id)
	h.broadcast(TypeUsersUpdate, UsersUpdate{Users: h.registry.List()})
}

func (h *Hub) locksOwnedBy(userID string) []string {
	var owned []string
	for taskID, lock := range h.engine.Locks() {
		if lock.UserID == userID {
			owned = append(owned, taskID)
		}
	}
	return owned
}

// sweepStale drops idle drags and expired locks.
func (h *Hub) sweepStale(now time.Time) {
	for _, drag := range h.engine.ExpireStaleDrags(now) {
		h.broadcast(TypeDragEnd, DragEnd{UserID: drag.UserID, TaskID: drag.TaskID})
	}
	for _, rel := range h.engine.ExpireStaleLocks(now) {
		h.broadcast(TypeEditingEnd, EditingEvent{UserID: rel.Lock.UserID, TaskID: rel.TaskID})
	}
}

func (h *Hub) reconcile() {
	h.announceReconciled(h.engine.Reconcile(h.registry.IDs()), "")
}

// announceReconciled broadcasts evictions, skipping those already announced for skipUser.
func (h *Hub) announceReconciled(rec coordination.Reconciled, skipUser string) {
	for _, drag := range rec.Drags {
		if drag.UserID != skipUser {
			h.broadcast(TypeDragEnd, DragEnd{UserID: drag.UserID, TaskID: drag.TaskID})
		}
	}
	for _, rel := range rec.Locks {
		if rel.Lock.UserID != skipUser {
			h.broadcast(TypeEditingEnd, EditingEvent{UserID: rel.Lock.UserID, TaskID: rel.TaskID})
		}
	}
}

// broadcast sends a possibly compressed envelope to every joined client.
func (h *Hub) broadcast(msgType string, data any) {
	frame, ok := h.encode(msgType, data, false)
	if !ok {
		return
	}
	h.fanOut(frame, "")
}

// broadcastRaw sends an uncompressed envelope to every joined client but the sender.
func (h *Hub) broadcastRaw(sender *Client, msgType string, data any) {
	frame, ok := h.encode(msgType, data, true)
	if !ok {
		return
	}
	h.fanOut(frame, sender.id)
}

// sendTo queues an envelope for one client.
func (h *Hub) sendTo(c *Client, msgType string, data any) {
	frame, ok := h.encode(msgType, data, false)
	if !ok {
		return
	}
	if !c.enqueue(frame) {
		h.logger.Warn("dropping slow client", slog.String("client", c.id))
		h.disconnect(c)
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendTo(c, TypeError, ErrorMessage{Message: msg})
}

func (h *Hub) fanOut(frame codec.Frame, skip string) {
	var slow []*Client
	for id, c := range h.clients {
		if id == skip || !h.registry.Has(id) {
			continue
		}
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.logger.Warn("dropping slow client", slog.String("client", c.id))
		h.disconnect(c)
	}
}

func (h *Hub) encode(msgType string, data any, raw bool) (codec.Frame, bool) {
	env, err := codec.NewEnvelope(msgType, data, h.now())
	if err != nil {
		h.logger.Error("encode message", slog.String("type", msgType), slog.String("error", err.Error()))
		return codec.Frame{}, false
	}
	var frame codec.Frame
	if raw {
		frame, err = h.codec.EncodeRaw(env)
	} else {
		frame, err = h.codec.Encode(env)
	}
	if err != nil {
		h.logger.Error("encode message", slog.String("type", msgType), slog.String("error", err.Error()))
		return codec.Frame{}, false
	}
	return frame, true
}
