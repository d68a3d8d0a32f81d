package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/backup"
	"taskboard/internal/codec"
	"taskboard/internal/coordination"
	"taskboard/internal/document"
	"taskboard/internal/hub"
	"taskboard/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubBoard struct {
	alive bool
	state hub.State
	err   error
}

func (b *stubBoard) Alive() bool { return b.alive }

func (b *stubBoard) State(context.Context) (hub.State, error) { return b.state, b.err }

func (b *stubBoard) Attach(conn *websocket.Conn) bool {
	_ = conn.Close()
	return false
}

type stubBackups struct {
	info backup.Info
	err  error
}

func (b stubBackups) Info() (backup.Info, error) { return b.info, b.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	board := &stubBoard{alive: true}
	srv := New(board, nil, discardLogger(), "")

	for _, path := range []string{"/health", "/api/healthz"} {
		rec := get(t, srv.Engine(), path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		_, err := time.Parse(time.RFC3339Nano, body["timestamp"])
		assert.NoError(t, err)
	}

	board.alive = false
	rec := get(t, srv.Engine(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStateEndpoint(t *testing.T) {
	board := &stubBoard{alive: true, state: hub.State{Connections: 3}}
	srv := New(board, nil, discardLogger(), "")

	rec := get(t, srv.Engine(), "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var st hub.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Connections)

	board.err = hub.ErrStopped
	rec = get(t, srv.Engine(), "/api/state")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "hub stopped")
}

func TestBackupsEndpoint(t *testing.T) {
	srv := New(&stubBoard{alive: true}, stubBackups{info: backup.Info{
		TotalBackups: 2,
		OldestBackup: "data-backup-2024-01-01-00-00.json",
		NewestBackup: "data-backup-2024-01-01-03-00.json",
	}}, discardLogger(), "")

	rec := get(t, srv.Engine(), "/api/backups")
	require.Equal(t, http.StatusOK, rec.Code)
	var info backup.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 2, info.TotalBackups)

	srv = New(&stubBoard{alive: true}, stubBackups{err: errors.New("disk gone")}, discardLogger(), "")
	rec = get(t, srv.Engine(), "/api/backups")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	srv = New(&stubBoard{alive: true}, nil, discardLogger(), "")
	rec = get(t, srv.Engine(), "/api/backups")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalBackups":0}`, rec.Body.String())
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>board</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "favicon.ico"), []byte("ico"), 0o644))

	srv := New(&stubBoard{alive: true}, nil, discardLogger(), dir)

	rec := get(t, srv.Engine(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "board")

	rec = get(t, srv.Engine(), "/some/client/route")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "board")

	rec = get(t, srv.Engine(), "/assets/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = get(t, srv.Engine(), "/favicon.ico")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv.Engine(), "/api/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "endpoint not found")
}

func TestNoStaticDir(t *testing.T) {
	srv := New(&stubBoard{alive: true}, nil, discardLogger(), filepath.Join(t.TempDir(), "absent"))
	rec := get(t, srv.Engine(), "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func newLiveBoard(t *testing.T) *hub.Hub {
	t.Helper()
	logger := discardLogger()
	registry := session.NewRegistry(nil, logger)
	engine := coordination.New(registry, coordination.Options{Logger: logger})
	registry.SetReleaser(engine)
	store := document.New(nil, engine, document.Options{Logger: logger})
	h := hub.New(registry, engine, store, codec.New(codec.DefaultThreshold), hub.Options{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	require.Eventually(t, h.Alive, time.Second, 5*time.Millisecond)
	return h
}

func readEnvelope(t *testing.T, conn *websocket.Conn) codec.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := codec.New(codec.DefaultThreshold).Decode(codec.Frame{
		Payload: payload,
		Binary:  kind == websocket.BinaryMessage,
	})
	require.NoError(t, err)
	return env
}

func TestWebsocketJoinRoundTrip(t *testing.T) {
	board := newLiveBoard(t)
	srv := New(board, nil, discardLogger(), "")
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"user-join","data":{"name":"alice"},"timestamp":0}`)))

	initial := readEnvelope(t, conn)
	require.Equal(t, hub.TypeInitialState, initial.Type)
	var state hub.InitialState
	require.NoError(t, json.Unmarshal(initial.Data, &state))
	assert.Equal(t, "alice", state.CurrentUser.Name)

	assert.Equal(t, hub.TypeUsersUpdate, readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"task-add","data":{"title":"from the wire"},"timestamp":0}`)))
	change := readEnvelope(t, conn)
	require.Equal(t, hub.TypeDocumentChange, change.Type)
	var doc hub.DocumentChange
	require.NoError(t, json.Unmarshal(change.Data, &doc))
	require.Len(t, doc.Tasks.Todo, 1)
	assert.Equal(t, "from the wire", doc.Tasks.Todo[0].Title)

	rec := get(t, srv.Engine(), "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var st hub.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Len(t, st.Users, 1)
	assert.Equal(t, 1, st.Connections)
}
