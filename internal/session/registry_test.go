package session

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/models"
)

type fakeReleaser struct {
	released  []string
	cancelled []string
}

func (f *fakeReleaser) ReleaseLock(taskID string) (models.EditingLock, bool) {
	f.released = append(f.released, taskID)
	return models.EditingLock{}, true
}

func (f *fakeReleaser) CancelDrag(userID string) (models.DragOperation, bool) {
	f.cancelled = append(f.cancelled, userID)
	return models.DragOperation{}, false
}

func newTestRegistry() *Registry {
	return NewRegistry(rand.New(rand.NewPCG(1, 2)), nil)
}

func TestAddUser(t *testing.T) {
	r := newTestRegistry()

	user, err := r.AddUser("c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", user.ID)
	assert.Equal(t, "alice", user.Name)
	assert.True(t, user.Connected)
	assert.Contains(t, avatarColors, user.Avatar.Color)
	assert.Contains(t, avatarShapes, user.Avatar.Shape)
	assert.True(t, r.Has("c1"))
}

func TestAddUserNameTaken(t *testing.T) {
	r := newTestRegistry()

	_, err := r.AddUser("c1", "alice")
	require.NoError(t, err)

	_, err = r.AddUser("c2", "alice")
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.False(t, r.Has("c2"))
	assert.True(t, r.Has("c1"), "first user stays connected")

	_, err = r.AddUser("c3", "Alice")
	assert.NoError(t, err, "names are case-sensitive")
}

func TestNameReusableAfterLeave(t *testing.T) {
	r := newTestRegistry()

	_, err := r.AddUser("c1", "bob")
	require.NoError(t, err)
	r.RemoveUser("c1")

	_, err = r.AddUser("c2", "bob")
	assert.NoError(t, err)
}

func TestRemoveUserReleasesLockAndDrag(t *testing.T) {
	r := newTestRegistry()
	rel := &fakeReleaser{}
	r.SetReleaser(rel)

	_, err := r.AddUser("c1", "alice")
	require.NoError(t, err)
	r.SetEditing("c1", "task-1")

	removed, ok := r.RemoveUser("c1")
	require.True(t, ok)
	assert.Equal(t, "task-1", removed.Editing)
	assert.Equal(t, []string{"task-1"}, rel.released)
	assert.Equal(t, []string{"c1"}, rel.cancelled)
	assert.False(t, r.Has("c1"))

	_, ok = r.RemoveUser("c1")
	assert.False(t, ok)
}

func TestRemoveUserWithoutLock(t *testing.T) {
	r := newTestRegistry()
	rel := &fakeReleaser{}
	r.SetReleaser(rel)

	_, err := r.AddUser("c1", "alice")
	require.NoError(t, err)
	r.RemoveUser("c1")

	assert.Empty(t, rel.released)
	assert.Equal(t, []string{"c1"}, rel.cancelled)
}

func TestUpdateMouse(t *testing.T) {
	r := newTestRegistry()
	assert.False(t, r.UpdateMouse("ghost", models.MousePosition{X: 1}))

	_, err := r.AddUser("c1", "alice")
	require.NoError(t, err)

	pos := models.MousePosition{X: 10, Y: 20, VW: 1280, VH: 720, PR: 2}
	assert.True(t, r.UpdateMouse("c1", pos))

	user, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, pos, user.Mouse)
}

func TestEditingMarker(t *testing.T) {
	r := newTestRegistry()
	_, err := r.AddUser("c1", "alice")
	require.NoError(t, err)

	r.SetEditing("c1", "t1")
	r.ClearEditing("c1", "t2")
	user, _ := r.Get("c1")
	assert.Equal(t, "t1", user.Editing, "clearing a different task leaves the marker")

	r.ClearEditing("c1", "t1")
	user, _ = r.Get("c1")
	assert.Empty(t, user.Editing)
}

func TestListPreservesJoinOrder(t *testing.T) {
	r := newTestRegistry()
	for _, name := range []string{"a", "b", "c"} {
		_, err := r.AddUser("id-"+name, name)
		require.NoError(t, err)
	}
	r.RemoveUser("id-b")

	users := r.List()
	require.Len(t, users, 2)
	assert.Equal(t, "a", users[0].Name)
	assert.Equal(t, "c", users[1].Name)
	assert.Equal(t, []string{"id-a", "id-c"}, r.IDs())
	assert.Equal(t, 2, r.Len())
}
