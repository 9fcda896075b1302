package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/client/sdk"
	"github.com/driftbox/driftbox/internal/db"
	"github.com/driftbox/driftbox/internal/vclock"
)

// newUploadFixture wires an engine against a stub server whose upload
// endpoint answers every request with the given result.
func newUploadFixture(t *testing.T, result *sdk.UploadResult) (*Engine, *localstate.Store, string) {
	t.Helper()

	root := t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /files/upload", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	driftSDK, err := sdk.New(server.URL)
	require.NoError(t, err)
	driftSDK.SetTokens("access", "refresh")

	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	state, err := localstate.NewStore(database)
	require.NoError(t, err)

	engine, err := NewEngine(Config{SyncRoot: root, ClientID: "client-a"}, driftSDK, state, nil)
	require.NoError(t, err)
	return engine, state, root
}

// An upload the server accepted with a conflict merge must land SYNCED with
// the merged vector. The record never takes a status outside the tracked
// domain, so the next reconcile pass sees a converged path instead of local
// work it cannot re-enqueue.
func TestUploadConflictMergeResyncs(t *testing.T) {
	merged := vclock.VersionVector{"client-a": 2, "client-b": 1}
	engine, state, root := newUploadFixture(t, &sdk.UploadResult{
		File: &sdk.FileRecord{
			FileID:               "f1",
			FilePath:             "notes.txt",
			CurrentVersionVector: merged,
			ConflictStatus:       "CONFLICT",
		},
		Outcome: "CONFLICT_MERGED",
	})
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("local edit"), 0o644))
	require.NoError(t, state.UpsertTracked(ctx, &localstate.TrackedFile{
		FileID:        "f1",
		FilePath:      "notes.txt",
		VersionVector: vclock.VersionVector{"client-a": 1},
		LastModified:  time.Now(),
		SyncStatus:    localstate.StatusSynced,
		CreatedAt:     time.Now(),
	}))

	require.NoError(t, engine.handleUpload(ctx, "notes.txt"))

	got, err := state.GetTracked(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusSynced, got.SyncStatus)
	assert.True(t, got.VersionVector.Equal(merged))

	pending, err := state.ListTrackedByStatus(ctx, localstate.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// The default conflict policy is last-write-wins with the local copy: the
// resolution runs as an upload and the record comes out SYNCED.
func TestConflictResolutionLeavesRecordSynced(t *testing.T) {
	merged := vclock.VersionVector{"client-a": 3, "client-b": 2}
	engine, state, root := newUploadFixture(t, &sdk.UploadResult{
		File: &sdk.FileRecord{
			FileID:               "f1",
			FilePath:             "notes.txt",
			CurrentVersionVector: merged,
		},
		Outcome: "ACCEPTED",
	})
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("mine"), 0o644))
	require.NoError(t, state.UpsertTracked(ctx, &localstate.TrackedFile{
		FileID:        "f1",
		FilePath:      "notes.txt",
		VersionVector: vclock.VersionVector{"client-a": 2, "client-b": 1},
		LastModified:  time.Now(),
		SyncStatus:    localstate.StatusPending,
		CreatedAt:     time.Now(),
	}))

	require.NoError(t, engine.handleConflict(ctx, "notes.txt"))

	got, err := state.GetTracked(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusSynced, got.SyncStatus)
	assert.True(t, got.VersionVector.Equal(merged))
}
