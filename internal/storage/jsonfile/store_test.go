package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/document"
	"taskboard/internal/models"
)

func sampleSnapshot() document.Snapshot {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return document.Snapshot{
		Tasks: models.TaskLists{
			Todo:    []models.Task{{ID: "a", Title: "first", Timestamp: ts}},
			Done:    []models.Task{{ID: "b", Title: "second", Description: "done already", Timestamp: ts}},
			Ignored: []models.Task{},
		},
		LastModified: ts,
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "data", "data.json"), nil)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	want := sampleSnapshot()
	require.NoError(t, s.Save(context.Background(), want))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestSnapshotFileShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), sampleSnapshot()))

	raw, err := s.ReadSnapshot(context.Background())
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "tasks")
	assert.Contains(t, doc, "lastModified")
	assert.JSONEq(t, `"2024-03-01T09:30:00Z"`, string(doc["lastModified"]))

	var lists map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["tasks"], &lists))
	assert.JSONEq(t, `[]`, string(lists["ignored"]))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}
