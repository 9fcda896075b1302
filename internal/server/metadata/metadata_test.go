package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/db"
	"github.com/driftbox/driftbox/internal/vclock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewStore(database)
	require.NoError(t, err)
	return store
}

func sampleFile(userID, path string) *File {
	now := time.Now().UTC()
	return &File{
		UserID:               userID,
		FilePath:             path,
		FileName:             path,
		FileSize:             42,
		Checksum:             "abc123",
		CurrentVersionVector: vclock.VersionVector{"client-a": 1},
		StoragePath:          "/data/" + userID + "/2026/08/xyz",
		CreatedAt:            now,
		ModifiedAt:           now,
		SyncStatus:           "SYNCED",
	}
}

func TestFileLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := sampleFile("user-1", "docs/report.txt")
	require.NoError(t, store.CreateFile(ctx, f))
	assert.NotEmpty(t, f.FileID)

	got, err := store.GetFileByPath(ctx, "user-1", "docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, f.FileID, got.FileID)
	assert.True(t, got.CurrentVersionVector.Equal(f.CurrentVersionVector))
	assert.Equal(t, "SYNCED", got.SyncStatus)

	got.FileSize = 100
	got.Checksum = "def456"
	got.CurrentVersionVector = vclock.VersionVector{"client-a": 2}
	got.ModifiedAt = time.Now().UTC()
	require.NoError(t, store.UpdateFile(ctx, got))

	again, err := store.GetFileByID(ctx, "user-1", f.FileID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, again.FileSize)
	assert.EqualValues(t, 2, again.CurrentVersionVector.Get("client-a"))

	require.NoError(t, store.DeleteFile(ctx, "user-1", f.FileID))
	_, err = store.GetFileByID(ctx, "user-1", f.FileID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesAreUserScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := sampleFile("user-1", "notes.txt")
	require.NoError(t, store.CreateFile(ctx, f))

	_, err := store.GetFileByPath(ctx, "user-2", "notes.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetFileByID(ctx, "user-2", f.FileID)
	assert.ErrorIs(t, err, ErrNotFound)

	files, err := store.ListFiles(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAddVersionDemotesPrevious(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := sampleFile("user-1", "a.txt")
	require.NoError(t, store.CreateFile(ctx, f))

	v1 := &FileVersion{
		FileID:          f.FileID,
		Checksum:        "v1sum",
		StoragePath:     f.StoragePath,
		FileSize:        42,
		CreatedAt:       time.Now().UTC(),
		VersionVector:   vclock.VersionVector{"client-a": 1},
		CreatedByClient: "client-a",
	}
	require.NoError(t, store.AddVersion(ctx, v1))
	assert.EqualValues(t, 1, v1.VersionNumber)

	v2 := &FileVersion{
		FileID:          f.FileID,
		Checksum:        "v2sum",
		StoragePath:     f.StoragePath,
		FileSize:        50,
		CreatedAt:       time.Now().UTC(),
		VersionVector:   vclock.VersionVector{"client-a": 2},
		CreatedByClient: "client-a",
	}
	require.NoError(t, store.AddVersion(ctx, v2))
	assert.EqualValues(t, 2, v2.VersionNumber)

	versions, err := store.ListVersions(ctx, f.FileID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// newest first, and only the newest is current
	assert.Equal(t, "v2sum", versions[0].Checksum)
	assert.True(t, versions[0].IsCurrentVersion)
	assert.Equal(t, "v1sum", versions[1].Checksum)
	assert.False(t, versions[1].IsCurrentVersion)
}

func TestListEventsSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, path := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, store.RecordEvent(ctx, &SyncEvent{
			UserID:     "user-1",
			EventType:  "MODIFY",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			ClientID:   "client-a",
			SyncStatus: "COMPLETED",
			FilePath:   path,
		}))
	}

	events, err := store.ListEventsSince(ctx, "user-1", base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b.txt", events[0].FilePath)
	assert.Equal(t, "c.txt", events[1].FilePath)

	none, err := store.ListEventsSince(ctx, "user-2", base)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(q *Queries) error {
		if err := q.CreateFile(ctx, sampleFile("user-1", "tx.txt")); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = store.GetFileByPath(ctx, "user-1", "tx.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}
