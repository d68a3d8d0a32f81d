// Package session tracks the users connected to the board.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"taskboard/internal/models"
)

// ErrNameTaken is returned when a connected user already uses the requested name.
var ErrNameTaken = errors.New("name already taken")

var avatarColors = []string{
	"#FF6B6B", // coral
	"#4ECDC4", // teal
	"#45B7D1", // sky
	"#96CEB4", // sage
	"#FECA57", // amber
	"#FF9FF3", // pink
	"#54A0FF", // blue
}

var avatarShapes = []string{"circle", "square", "diamond", "pentagon"}

// Releaser frees coordination state held by a departing user.
type Releaser interface {
	ReleaseLock(taskID string) (models.EditingLock, bool)
	CancelDrag(userID string) (models.DragOperation, bool)
}

// Registry owns the user map. It is not safe for concurrent use; the hub
// goroutine is its only caller.
type Registry struct {
	users    map[string]*models.User
	order    []string
	releaser Releaser
	rng      *rand.Rand
	logger   *slog.Logger
}

// NewRegistry builds an empty registry. A nil rng selects a time-seeded source.
func NewRegistry(rng *rand.Rand, logger *slog.Logger) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:  make(map[string]*models.User),
		rng:    rng,
		logger: logger,
	}
}

// SetReleaser wires the component that owns locks and drags.
func (r *Registry) SetReleaser(releaser Releaser) {
	r.releaser = releaser
}

// AddUser registers a connection under name.
func (r *Registry) AddUser(connID, name string) (models.User, error) {
	for _, u := range r.users {
		if u.Name == name {
			return models.User{}, fmt.Errorf("user %q: %w", name, ErrNameTaken)
		}
	}

	user := &models.User{
		ID:        connID,
		Name:      name,
		Avatar:    r.randomAvatar(),
		Connected: true,
	}
	if _, exists := r.users[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.users[connID] = user
	r.logger.Info("user joined", slog.String("user", connID), slog.String("name", name))
	return *user, nil
}

// RemoveUser drops a user, releasing its lock and drag operation.
func (r *Registry) RemoveUser(connID string) (models.User, bool) {
	user, ok := r.users[connID]
	if !ok {
		return models.User{}, false
	}
	removed := *user

	if r.releaser != nil {
		if user.Editing != "" {
			r.releaser.ReleaseLock(user.Editing)
		}
		r.releaser.CancelDrag(connID)
	}

	delete(r.users, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("user left", slog.String("user", connID), slog.String("name", removed.Name))
	return removed, true
}

// UpdateMouse stores the last cursor position reported by a user.
func (r *Registry) UpdateMouse(connID string, pos models.MousePosition) bool {
	user, ok := r.users[connID]
	if !ok {
		return false
	}
	user.Mouse = pos
	return true
}

// SetEditing marks the task a user currently holds a lock on.
func (r *Registry) SetEditing(connID, taskID string) {
	if user, ok := r.users[connID]; ok {
		user.Editing = taskID
	}
}

// ClearEditing resets the editing marker if it still points at taskID.
func (r *Registry) ClearEditing(connID, taskID string) {
	if user, ok := r.users[connID]; ok && user.Editing == taskID {
		user.Editing = ""
	}
}

// Get returns a copy of the user.
func (r *Registry) Get(connID string) (models.User, bool) {
	user, ok := r.users[connID]
	if !ok {
		return models.User{}, false
	}
	return *user, true
}

// Has reports whether connID has joined.
func (r *Registry) Has(connID string) bool {
	_, ok := r.users[connID]
	return ok
}

// List returns the connected users in join order.
func (r *Registry) List() []models.User {
	users := make([]models.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, *r.users[id])
	}
	return users
}

// IDs returns the connected user ids in join order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	return len(r.users)
}

func (r *Registry) randomAvatar() models.Avatar {
	return models.Avatar{
		Color: avatarColors[r.rng.IntN(len(avatarColors))],
		Shape: avatarShapes[r.rng.IntN(len(avatarShapes))],
	}
}
