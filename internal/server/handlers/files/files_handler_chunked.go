package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/chunk"
	"github.com/driftbox/driftbox/internal/server/handlers/api"
	"github.com/driftbox/driftbox/internal/server/reconcile"
	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/vclock"
)

type initiateChunkedRequest struct {
	FileID        string          `json:"fileId"`
	FilePath      string          `json:"filePath" binding:"required"`
	TotalChunks   int             `json:"totalChunks" binding:"required,min=1"`
	TotalFileSize int64           `json:"totalFileSize" binding:"required,min=1"`
	VersionVector json.RawMessage `json:"versionVector"`
	ClientID      string          `json:"clientId"`
}

// InitiateChunked opens an upload session for a large file.
func (h *FilesHandler) InitiateChunked(ctx *gin.Context) {
	var req initiateChunkedRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Errorf("failed to bind json: %w", err))
		return
	}

	filePath := utils.NormPath(req.FilePath)
	if !utils.IsValidSyncPath(filePath) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath,
			fmt.Errorf("invalid sync path %q", req.FilePath))
		return
	}

	var vv vclock.VersionVector
	if len(req.VersionVector) > 0 {
		parsed, err := vclock.Parse(req.VersionVector)
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
			return
		}
		vv = parsed
	}

	session, err := h.chunks.Initiate(ctx.GetString("uid"), req.FileID, filePath,
		req.TotalChunks, req.TotalFileSize, req.ClientID, vv)
	if err != nil {
		if errors.Is(err, chunk.ErrTooManySessions) {
			api.AbortWithError(ctx, http.StatusTooManyRequests, api.CodeChunkTooManySessions, err)
		} else {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		}
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"sessionId": session.SessionID})
}

// UploadChunk ingests one chunk. Multipart fields: sessionId, chunkIndex,
// chunkData.
func (h *FilesHandler) UploadChunk(ctx *gin.Context) {
	sessionID := ctx.PostForm("sessionId")
	chunkIndex, err := strconv.Atoi(ctx.PostForm("chunkIndex"))
	if sessionID == "" || err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Errorf("sessionId and numeric chunkIndex are required"))
		return
	}

	// ownership check before any chunk bytes are read
	session, err := h.chunks.Status(sessionID)
	if err != nil {
		h.abortChunkError(ctx, err)
		return
	}
	if session.UserID != ctx.GetString("uid") {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeChunkSessionNotFound, chunk.ErrSessionNotFound)
		return
	}

	fileHeader, err := ctx.FormFile("chunkData")
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Errorf("missing chunkData part: %w", err))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeChunkUploadFailed, err)
		return
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeChunkUploadFailed, err)
		return
	}

	session, err = h.chunks.UploadChunk(ctx, sessionID, chunkIndex, data)
	if err != nil {
		h.abortChunkError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, session)
}

func (h *FilesHandler) ChunkStatus(ctx *gin.Context) {
	session, err := h.chunks.Status(ctx.Param("sessionId"))
	if err != nil {
		h.abortChunkError(ctx, err)
		return
	}
	if session.UserID != ctx.GetString("uid") {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeChunkSessionNotFound, chunk.ErrSessionNotFound)
		return
	}
	ctx.JSON(http.StatusOK, session)
}

func (h *FilesHandler) CancelChunked(ctx *gin.Context) {
	session, err := h.chunks.Status(ctx.Param("sessionId"))
	if err != nil || session.UserID != ctx.GetString("uid") {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeChunkSessionNotFound, chunk.ErrSessionNotFound)
		return
	}
	if err := h.chunks.Cancel(session.SessionID); err != nil {
		h.abortChunkError(ctx, err)
		return
	}
	ctx.String(http.StatusOK, "")
}

func (h *FilesHandler) ListChunkSessions(ctx *gin.Context) {
	sessions := h.chunks.ListActive(ctx.GetString("uid"))
	if sessions == nil {
		sessions = []*chunk.Session{}
	}
	ctx.JSON(http.StatusOK, sessions)
}

func (h *FilesHandler) abortChunkError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, chunk.ErrSessionNotFound):
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeChunkSessionNotFound, err)
	case errors.Is(err, chunk.ErrSessionExpired):
		api.AbortWithError(ctx, http.StatusGone, api.CodeChunkSessionExpired, err)
	case errors.Is(err, chunk.ErrSessionNotActive), errors.Is(err, chunk.ErrChunkIndexOutOfRange):
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeChunkUploadFailed, err)
	case errors.Is(err, chunk.ErrChunkTooLarge):
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeChunkUploadFailed, err)
	case errors.Is(err, reconcile.ErrStaleUpload):
		api.AbortWithError(ctx, http.StatusConflict, api.CodeFileStale, err)
	default:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeChunkUploadFailed, err)
	}
}
