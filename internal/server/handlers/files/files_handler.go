package files

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/chunk"
	"github.com/driftbox/driftbox/internal/server/content"
	"github.com/driftbox/driftbox/internal/server/handlers/api"
	"github.com/driftbox/driftbox/internal/server/metadata"
	"github.com/driftbox/driftbox/internal/server/reconcile"
)

// FilesHandler serves the /files API: direct and chunked uploads, downloads,
// deletes, version history and per-file metadata.
type FilesHandler struct {
	meta        *metadata.Store
	blobs       *content.Store
	reconciler  *reconcile.Service
	chunks      *chunk.Manager
	maxFileSize int64 // 0 = unlimited
}

func New(meta *metadata.Store, blobs *content.Store, reconciler *reconcile.Service, chunks *chunk.Manager, maxFileSize int64) *FilesHandler {
	return &FilesHandler{
		meta:        meta,
		blobs:       blobs,
		reconciler:  reconciler,
		chunks:      chunks,
		maxFileSize: maxFileSize,
	}
}

func (h *FilesHandler) List(ctx *gin.Context) {
	files, err := h.meta.ListFiles(ctx, ctx.GetString("uid"))
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileListFailed, err)
		return
	}
	if files == nil {
		files = []*metadata.File{}
	}
	ctx.JSON(http.StatusOK, files)
}

func (h *FilesHandler) Metadata(ctx *gin.Context) {
	f, err := h.meta.GetFileByID(ctx, ctx.GetString("uid"), ctx.Param("fileId"))
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
		}
		return
	}
	ctx.JSON(http.StatusOK, f)
}

func (h *FilesHandler) Versions(ctx *gin.Context) {
	uid := ctx.GetString("uid")
	fileID := ctx.Param("fileId")

	// scope check before exposing history
	if _, err := h.meta.GetFileByID(ctx, uid, fileID); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
		}
		return
	}

	versions, err := h.meta.ListVersions(ctx, fileID)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
		return
	}
	if versions == nil {
		versions = []*metadata.FileVersion{}
	}
	ctx.JSON(http.StatusOK, versions)
}

func (h *FilesHandler) Delete(ctx *gin.Context) {
	uid := ctx.GetString("uid")
	clientID := ctx.Query("clientId")

	err := h.reconciler.Delete(ctx, uid, ctx.Param("fileId"), clientID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileDeleteFailed, err)
		}
		return
	}
	ctx.String(http.StatusOK, "")
}
