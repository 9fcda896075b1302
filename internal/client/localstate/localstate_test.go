package localstate

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

func TestTrackedFileLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	vv := vclock.VersionVector{"client-a": 1}
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.UpsertTracked(ctx, &TrackedFile{
		FileID:        "f1",
		FilePath:      "docs/notes.txt",
		VersionVector: vv,
		LastModified:  now,
		FileSize:      42,
		Checksum:      "abc",
		SyncStatus:    StatusPending,
		CreatedAt:     now,
	}))

	got, err := store.GetTracked(ctx, "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FileID)
	assert.True(t, got.VersionVector.Equal(vv))
	assert.Equal(t, StatusPending, got.SyncStatus)

	// upsert over the same path keeps one row
	require.NoError(t, store.UpsertTracked(ctx, &TrackedFile{
		FileID:        "f1",
		FilePath:      "docs/notes.txt",
		VersionVector: vclock.VersionVector{"client-a": 2},
		LastModified:  now,
		FileSize:      50,
		Checksum:      "def",
		SyncStatus:    StatusSynced,
		CreatedAt:     now,
	}))

	all, err := store.ListTracked(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(50), all[0].FileSize)
	assert.Equal(t, StatusSynced, all[0].SyncStatus)

	_, err = store.GetTracked(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertTrackedAdoptsNewFileID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.UpsertTracked(ctx, &TrackedFile{
		FileID:       "f1",
		FilePath:     "a.txt",
		LastModified: now,
		SyncStatus:   StatusSynced,
		CreatedAt:    now,
	}))

	// the server deleted and recreated the path under a fresh id; the
	// local record must follow or later downloads hit a dead id
	require.NoError(t, store.UpsertTracked(ctx, &TrackedFile{
		FileID:       "f2",
		FilePath:     "a.txt",
		LastModified: now,
		SyncStatus:   StatusSynced,
		CreatedAt:    now,
	}))

	got, err := store.GetTracked(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "f2", got.FileID)

	all, err := store.ListTracked(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListTrackedByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, st := range []string{StatusPending, StatusSynced, StatusPending} {
		require.NoError(t, store.UpsertTracked(ctx, &TrackedFile{
			FileID:       string(rune('a' + i)),
			FilePath:     string(rune('a'+i)) + ".txt",
			LastModified: now,
			SyncStatus:   st,
			CreatedAt:    now,
		}))
	}

	pending, err := store.ListTrackedByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestTombstoneRegime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// tombstone without a prior record still creates a row
	require.NoError(t, store.SetDeleted(ctx, "gone.txt"))
	got, err := store.GetTracked(ctx, "gone.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, got.SyncStatus)

	// resurrection clears the tombstone back to pending
	require.NoError(t, store.ClearTombstone(ctx, "gone.txt"))
	got, err = store.GetTracked(ctx, "gone.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.SyncStatus)

	// clearing a non-tombstone is a not-found
	assert.ErrorIs(t, store.ClearTombstone(ctx, "gone.txt"), ErrNotFound)
}

func TestPurgeAgedTombstones(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetDeleted(ctx, "old.txt"))
	require.NoError(t, store.SetDeleted(ctx, "still-here.txt"))

	// nothing is younger than a zero horizon... both are candidates, but
	// one still exists on disk per the predicate
	purged, err := store.PurgeAgedTombstones(ctx, -time.Second, func(p string) bool {
		return p == "still-here.txt"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = store.GetTracked(ctx, "old.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetTracked(ctx, "still-here.txt")
	assert.NoError(t, err)

	// a long horizon keeps fresh tombstones
	purged, err = store.PurgeAgedTombstones(ctx, time.Hour, nil)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestQueueOrderingAndDedupe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "a.txt", OpUpload))
	require.NoError(t, store.Enqueue(ctx, "b.txt", OpDelete))
	require.NoError(t, store.Enqueue(ctx, "c.txt", OpDownload))
	require.NoError(t, store.Enqueue(ctx, "d.txt", OpConflictResolve))

	// duplicate (path, operation) while pending is a no-op
	require.NoError(t, store.Enqueue(ctx, "a.txt", OpUpload))
	n, err := store.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	now := time.Now().Add(time.Second)
	var order []string
	for {
		task, err := store.NextDue(ctx, now)
		if err != nil {
			assert.ErrorIs(t, err, ErrNotFound)
			break
		}
		order = append(order, task.Operation)
		require.NoError(t, store.Complete(ctx, task.ID))
	}
	assert.Equal(t, []string{OpDelete, OpConflictResolve, OpUpload, OpDownload}, order)
}

func TestQueueRetryBump(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "a.txt", OpUpload))
	task, err := store.NextDue(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)

	require.NoError(t, store.Retry(ctx, task.ID, time.Minute, "server unavailable"))

	// not due immediately anymore
	_, err = store.NextDue(ctx, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	// but due after the delay, carrying the bumped count and message
	bumped, err := store.NextDue(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, bumped.RetryCount)
	assert.Equal(t, "server unavailable", bumped.ErrorMessage)
}

func TestClientConfigAndStableID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetConfig(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := store.EnsureClientID(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "device-1", id)

	// a different fallback does not displace the stored identity
	id, err = store.EnsureClientID(ctx, "device-2")
	require.NoError(t, err)
	assert.Equal(t, "device-1", id)

	require.NoError(t, store.SetConfig(ctx, "last_sync", "2026-01-01"))
	v, err := store.GetConfig(ctx, "last_sync")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", v)
}
