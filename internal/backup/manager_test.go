package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	data []byte
	err  error
}

func (s *stubSource) ReadSnapshot(context.Context) ([]byte, error) {
	return s.data, s.err
}

func newTestManager(t *testing.T, src Source) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2024, 7, 4, 10, 15, 0, 0, time.UTC)
	m := NewManager(src, filepath.Join(t.TempDir(), "backups"), time.Hour, nil)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestCheckWithoutSnapshot(t *testing.T) {
	m, _ := newTestManager(t, &stubSource{})

	name, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, name)

	info, err := m.Info()
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalBackups)
}

func TestCheckWritesBackup(t *testing.T) {
	src := &stubSource{data: []byte(`{"tasks":{}}`)}
	m, _ := newTestManager(t, src)

	name, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data-backup-2024-07-04-10-15.json", name)

	raw, err := os.ReadFile(filepath.Join(m.dir, name))
	require.NoError(t, err)
	assert.Equal(t, src.data, raw)
}

func TestUnchangedBackupIsReplaced(t *testing.T) {
	src := &stubSource{data: []byte(`{"v":1}`)}
	m, now := newTestManager(t, src)
	ctx := context.Background()

	_, err := m.Check(ctx)
	require.NoError(t, err)

	*now = now.Add(3 * time.Hour)
	_, err = m.Check(ctx)
	require.NoError(t, err)

	info, err := m.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalBackups, "identical backup is rotated, not duplicated")
	assert.Equal(t, "data-backup-2024-07-04-13-15.json", info.NewestBackup)

	src.data = []byte(`{"v":2}`)
	*now = now.Add(3 * time.Hour)
	_, err = m.Check(ctx)
	require.NoError(t, err)

	info, err = m.Info()
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalBackups)
	assert.Equal(t, "data-backup-2024-07-04-13-15.json", info.OldestBackup)
	assert.Equal(t, "data-backup-2024-07-04-16-15.json", info.NewestBackup)
}

func TestInfoIgnoresForeignFiles(t *testing.T) {
	m, _ := newTestManager(t, &stubSource{data: []byte("x")})
	_, err := m.Check(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("hi"), 0o644))

	info, err := m.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalBackups)
}

func TestCheckSourceError(t *testing.T) {
	m, _ := newTestManager(t, &stubSource{err: errors.New("locked")})

	_, err := m.Check(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, &stubSource{data: []byte("x")})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		info, err := m.Info()
		return err == nil && info.TotalBackups == 1
	}, time.Second, 10*time.Millisecond, "initial backup taken on start")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
