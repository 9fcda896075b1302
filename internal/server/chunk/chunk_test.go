package chunk

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/db"
	"github.com/driftbox/driftbox/internal/server/content"
	"github.com/driftbox/driftbox/internal/server/metadata"
	"github.com/driftbox/driftbox/internal/server/reconcile"
	"github.com/driftbox/driftbox/internal/server/users"
	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/vclock"
)

type fixture struct {
	mgr    *Manager
	meta   *metadata.Store
	userID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	meta, err := metadata.NewStore(database)
	require.NoError(t, err)
	userStore, err := users.NewStore(database)
	require.NoError(t, err)
	blobs, err := content.NewStore(t.TempDir())
	require.NoError(t, err)

	user, err := userStore.Create(context.Background(), "alice", "alice@example.com", "hash")
	require.NoError(t, err)

	reconciler := reconcile.NewService(meta, blobs, userStore, nil)
	return &fixture{
		mgr:    NewManager(blobs, reconciler),
		meta:   meta,
		userID: user.UserID,
	}
}

func TestChunkedUploadAssembles(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	chunks := [][]byte{
		bytes.Repeat([]byte("a"), 100),
		bytes.Repeat([]byte("b"), 100),
		bytes.Repeat([]byte("c"), 50),
	}
	total := int64(250)

	session, err := fx.mgr.Initiate(fx.userID, "", "big.bin", len(chunks), total,
		"client-a", vclock.VersionVector{"client-a": 1})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, session.Status)

	// out of order on purpose
	for _, i := range []int{2, 0, 1} {
		_, err := fx.mgr.UploadChunk(ctx, session.SessionID, i, chunks[i])
		require.NoError(t, err)
	}

	final, err := fx.mgr.Status(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, len(chunks), final.ReceivedChunks)
	assert.EqualValues(t, 100.0, final.Progress())
	require.NotNil(t, final.CompletedAt)

	want := utils.Checksum(bytes.Join(chunks, nil))
	assert.Equal(t, want, final.FinalChecksum)

	f, err := fx.meta.GetFileByPath(ctx, fx.userID, "big.bin")
	require.NoError(t, err)
	assert.EqualValues(t, total, f.FileSize)
	assert.Equal(t, want, f.Checksum)
	assert.EqualValues(t, 1, f.CurrentVersionVector.Get("client-a"))
}

func TestUploadChunk_DuplicateIsNoop(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.mgr.Initiate(fx.userID, "", "f.bin", 2, 20, "client-a", nil)
	require.NoError(t, err)

	first := bytes.Repeat([]byte("x"), 10)
	snap, err := fx.mgr.UploadChunk(ctx, session.SessionID, 0, first)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ReceivedChunks)

	// duplicate with different bytes: first write wins
	snap, err = fx.mgr.UploadChunk(ctx, session.SessionID, 0, bytes.Repeat([]byte("y"), 10))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ReceivedChunks)
	assert.Equal(t, utils.Checksum(first), snap.ChunkChecksums[0])
}

func TestUploadChunk_IndexOutOfRange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.mgr.Initiate(fx.userID, "", "f.bin", 2, 20, "client-a", nil)
	require.NoError(t, err)

	_, err = fx.mgr.UploadChunk(ctx, session.SessionID, 2, []byte("zz"))
	assert.ErrorIs(t, err, ErrChunkIndexOutOfRange)
	_, err = fx.mgr.UploadChunk(ctx, session.SessionID, -1, []byte("zz"))
	assert.ErrorIs(t, err, ErrChunkIndexOutOfRange)
}

func TestUploadChunk_SizeMismatchFailsSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.mgr.Initiate(fx.userID, "", "f.bin", 1, 100, "client-a", nil)
	require.NoError(t, err)

	_, err = fx.mgr.UploadChunk(ctx, session.SessionID, 0, []byte("too short"))
	require.Error(t, err)

	snap, err := fx.mgr.Status(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "does not match")
}

func TestInitiate_SessionLimit(t *testing.T) {
	fx := newFixture(t)

	for i := 0; i < DefaultMaxSessionsPerUser; i++ {
		_, err := fx.mgr.Initiate(fx.userID, "", fmt.Sprintf("f%d.bin", i), 1, 10, "client-a", nil)
		require.NoError(t, err)
	}

	_, err := fx.mgr.Initiate(fx.userID, "", "one-too-many.bin", 1, 10, "client-a", nil)
	assert.ErrorIs(t, err, ErrTooManySessions)

	// other users are unaffected
	_, err = fx.mgr.Initiate("other-user", "", "fine.bin", 1, 10, "client-b", nil)
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	session, err := fx.mgr.Initiate(fx.userID, "", "f.bin", 2, 20, "client-a", nil)
	require.NoError(t, err)

	require.NoError(t, fx.mgr.Cancel(session.SessionID))

	snap, err := fx.mgr.Status(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "Cancelled by user", snap.ErrorMessage)

	_, err = fx.mgr.UploadChunk(ctx, session.SessionID, 0, []byte("x"))
	assert.ErrorIs(t, err, ErrSessionNotActive)

	assert.ErrorIs(t, fx.mgr.Cancel(session.SessionID), ErrSessionNotActive)
}

func TestExpiredSessionFailsOnUpload(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	now := time.Now()
	fx.mgr.clock = func() time.Time { return now }

	session, err := fx.mgr.Initiate(fx.userID, "", "f.bin", 2, 20, "client-a", nil)
	require.NoError(t, err)

	fx.mgr.clock = func() time.Time { return now.Add(DefaultSessionTTL + time.Minute) }

	_, err = fx.mgr.UploadChunk(ctx, session.SessionID, 0, []byte("x"))
	assert.ErrorIs(t, err, ErrSessionExpired)

	snap, err := fx.mgr.Status(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
}

func TestCleanup(t *testing.T) {
	fx := newFixture(t)

	now := time.Now()
	fx.mgr.clock = func() time.Time { return now }

	stale, err := fx.mgr.Initiate(fx.userID, "", "stale.bin", 2, 20, "client-a", nil)
	require.NoError(t, err)

	cancelled, err := fx.mgr.Initiate(fx.userID, "", "cancelled.bin", 2, 20, "client-a", nil)
	require.NoError(t, err)
	require.NoError(t, fx.mgr.Cancel(cancelled.SessionID))

	// past the TTL: the in-progress session expires, the failed one purges
	fx.mgr.clock = func() time.Time { return now.Add(DefaultSessionTTL + time.Hour) }
	expired, purged := fx.mgr.Cleanup()
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, purged)

	snap, err := fx.mgr.Status(stale.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, snap.Status)

	_, err = fx.mgr.Status(cancelled.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// a day later the expired session purges too
	fx.mgr.clock = func() time.Time { return now.Add(DefaultSessionTTL + failedRetention + 2*time.Hour) }
	_, purged = fx.mgr.Cleanup()
	assert.Equal(t, 1, purged)
}
