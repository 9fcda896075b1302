package reconcile

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/db"
	"github.com/driftbox/driftbox/internal/server/content"
	"github.com/driftbox/driftbox/internal/server/metadata"
	"github.com/driftbox/driftbox/internal/server/users"
	"github.com/driftbox/driftbox/internal/vclock"
)

type captureHub struct {
	mu     sync.Mutex
	events []*metadata.SyncEvent
}

func (h *captureHub) Broadcast(userID string, ev *metadata.SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *captureHub) last() *metadata.SyncEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return nil
	}
	return h.events[len(h.events)-1]
}

type fixture struct {
	svc    *Service
	meta   *metadata.Store
	users  *users.Store
	hub    *captureHub
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

	hub := &captureHub{}
	return &fixture{
		svc:    NewService(meta, blobs, userStore, hub),
		meta:   meta,
		users:  userStore,
		hub:    hub,
		userID: user.UserID,
	}
}

func (fx *fixture) upload(t *testing.T, path, body string, vv vclock.VersionVector) (*metadata.File, Outcome, error) {
	t.Helper()
	return fx.svc.ApplyUpload(context.Background(), &Upload{
		UserID:        fx.userID,
		FilePath:      path,
		ClientID:      "client-a",
		Checksum:      "sum-" + body,
		VersionVector: vv,
		Content:       strings.NewReader(body),
	})
}

func TestApplyUpload_CreatesRecord(t *testing.T) {
	fx := newFixture(t)

	f, outcome, err := fx.upload(t, "docs/a.txt", "hello", vclock.VersionVector{"client-a": 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, "a.txt", f.FileName)
	assert.EqualValues(t, 5, f.FileSize)
	assert.EqualValues(t, 1, f.CurrentVersionVector.Get("client-a"))
	assert.Equal(t, "SYNCED", f.SyncStatus)

	ev := fx.hub.last()
	require.NotNil(t, ev)
	assert.Equal(t, "CREATE", ev.EventType)
	assert.Equal(t, "client-a", ev.ClientID)

	user, err := fx.users.GetByID(context.Background(), fx.userID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, user.UsedStorage)
}

func TestApplyUpload_EmptyVectorSeedsFromUser(t *testing.T) {
	fx := newFixture(t)

	f, _, err := fx.upload(t, "a.txt", "x", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.CurrentVersionVector.Get(fx.userID))
}

func TestApplyUpload_DominatingVectorAccepted(t *testing.T) {
	fx := newFixture(t)

	_, _, err := fx.upload(t, "a.txt", "one", vclock.VersionVector{"client-a": 1})
	require.NoError(t, err)

	f, outcome, err := fx.upload(t, "a.txt", "onetwo", vclock.VersionVector{"client-a": 2})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.EqualValues(t, 2, f.CurrentVersionVector.Get("client-a"))
	assert.EqualValues(t, 6, f.FileSize)
	assert.Empty(t, f.ConflictStatus)

	versions, err := fx.meta.ListVersions(context.Background(), f.FileID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].IsCurrentVersion)

	user, err := fx.users.GetByID(context.Background(), fx.userID)
	require.NoError(t, err)
	assert.EqualValues(t, 6, user.UsedStorage)
}

func TestApplyUpload_StaleRejected(t *testing.T) {
	fx := newFixture(t)

	_, _, err := fx.upload(t, "a.txt", "new", vclock.VersionVector{"client-a": 3})
	require.NoError(t, err)
	broadcasts := len(fx.hub.events)

	_, _, err = fx.upload(t, "a.txt", "old", vclock.VersionVector{"client-a": 1})
	assert.ErrorIs(t, err, ErrStaleUpload)

	// failed uploads are recorded but never broadcast
	assert.Len(t, fx.hub.events, broadcasts)

	f, err := fx.meta.GetFileByPath(context.Background(), fx.userID, "a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.CurrentVersionVector.Get("client-a"))
	assert.Equal(t, "sum-new", f.Checksum)
}

func TestApplyUpload_ConcurrentMergesAndFlags(t *testing.T) {
	fx := newFixture(t)

	_, _, err := fx.upload(t, "a.txt", "from-a", vclock.VersionVector{"client-a": 2})
	require.NoError(t, err)

	f, outcome, err := fx.upload(t, "a.txt", "from-b", vclock.VersionVector{"client-b": 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Equal(t, "CONFLICTING", f.ConflictStatus)
	assert.EqualValues(t, 2, f.CurrentVersionVector.Get("client-a"))
	assert.EqualValues(t, 1, f.CurrentVersionVector.Get("client-b"))

	ev := fx.hub.last()
	require.NotNil(t, ev)
	assert.Equal(t, "CONFLICT", ev.SyncStatus)
}

func TestApplyUpload_EqualVectorIsNoop(t *testing.T) {
	fx := newFixture(t)

	created, _, err := fx.upload(t, "a.txt", "body", vclock.VersionVector{"client-a": 1})
	require.NoError(t, err)
	broadcasts := len(fx.hub.events)

	f, outcome, err := fx.upload(t, "a.txt", "body", vclock.VersionVector{"client-a": 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, created.FileID, f.FileID)
	assert.Len(t, fx.hub.events, broadcasts)
}

func TestDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	f, _, err := fx.upload(t, "a.txt", "bytes", vclock.VersionVector{"client-a": 1})
	require.NoError(t, err)

	require.NoError(t, fx.svc.Delete(ctx, fx.userID, f.FileID, "client-a"))

	_, err = fx.meta.GetFileByPath(ctx, fx.userID, "a.txt")
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	ev := fx.hub.last()
	require.NotNil(t, ev)
	assert.Equal(t, "DELETE", ev.EventType)

	user, err := fx.users.GetByID(ctx, fx.userID)
	require.NoError(t, err)
	assert.Zero(t, user.UsedStorage)
}

func TestDelete_UnknownFile(t *testing.T) {
	fx := newFixture(t)
	err := fx.svc.Delete(context.Background(), fx.userID, "nope", "client-a")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}
