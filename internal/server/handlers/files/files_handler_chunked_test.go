package files

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/server/chunk"
	"github.com/driftbox/driftbox/internal/server/content"
)

// newChunkRouter mounts the chunked-upload routes behind a stub auth
// middleware that pins the authenticated user id.
func newChunkRouter(t *testing.T, uid string, mgr *chunk.Manager) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := New(nil, nil, nil, mgr, 0)
	router := gin.New()
	router.Use(func(ctx *gin.Context) { ctx.Set("uid", uid) })
	router.POST("/files/upload-chunk", h.UploadChunk)
	router.GET("/files/upload-chunk/:sessionId", h.ChunkStatus)
	return router
}

func chunkForm(t *testing.T, sessionID string, index int, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("sessionId", sessionID))
	require.NoError(t, mw.WriteField("chunkIndex", strconv.Itoa(index)))
	part, err := mw.CreateFormFile("chunkData", "chunk")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func postChunk(router *gin.Engine, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/files/upload-chunk", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// Session ids are capabilities scoped to their owner: another user holding a
// leaked id must get the same 404 a nonexistent session gets, and the
// session must stay untouched.
func TestUploadChunk_ForeignSessionRejected(t *testing.T) {
	blobs, err := content.NewStore(t.TempDir())
	require.NoError(t, err)
	mgr := chunk.NewManager(blobs, nil)

	session, err := mgr.Initiate("alice", "", "big.bin", 2, 20, "client-a", nil)
	require.NoError(t, err)

	foreign := newChunkRouter(t, "mallory", mgr)
	body, contentType := chunkForm(t, session.SessionID, 0, bytes.Repeat([]byte("x"), 10))
	rec := postChunk(foreign, body, contentType)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	snap, err := mgr.Status(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ReceivedChunks)

	// status lookups are scoped the same way
	statusReq := httptest.NewRequest(http.MethodGet, "/files/upload-chunk/"+session.SessionID, nil)
	statusRec := httptest.NewRecorder()
	foreign.ServeHTTP(statusRec, statusReq)
	assert.Equal(t, http.StatusNotFound, statusRec.Code)

	owner := newChunkRouter(t, "alice", mgr)
	body, contentType = chunkForm(t, session.SessionID, 0, bytes.Repeat([]byte("x"), 10))
	rec = postChunk(owner, body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err = mgr.Status(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ReceivedChunks)
}
