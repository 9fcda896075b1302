package files

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/handlers/api"
	"github.com/driftbox/driftbox/internal/server/metadata"
	"github.com/driftbox/driftbox/internal/server/reconcile"
	"github.com/driftbox/driftbox/internal/server/users"
	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/vclock"
)

// Upload handles POST /files/upload. Multipart fields: file, path, checksum,
// versionVector (canonical JSON), clientId.
func (h *FilesHandler) Upload(ctx *gin.Context) {
	h.uploadTo(ctx, "")
}

// Replace handles PUT /files/:fileId with the same body as Upload; the
// target path comes from the existing record.
func (h *FilesHandler) Replace(ctx *gin.Context) {
	f, err := h.meta.GetFileByID(ctx, ctx.GetString("uid"), ctx.Param("fileId"))
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
		}
		return
	}
	h.uploadTo(ctx, f.FilePath)
}

func (h *FilesHandler) uploadTo(ctx *gin.Context, fixedPath string) {
	uid := ctx.GetString("uid")

	filePath := fixedPath
	if filePath == "" {
		filePath = utils.NormPath(ctx.PostForm("path"))
		if !utils.IsValidSyncPath(filePath) {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath,
				fmt.Errorf("invalid sync path %q", ctx.PostForm("path")))
			return
		}
	}

	var vv vclock.VersionVector
	if raw := ctx.PostForm("versionVector"); raw != "" {
		parsed, err := vclock.Parse([]byte(raw))
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
			return
		}
		vv = parsed
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Errorf("missing file part: %w", err))
		return
	}
	if h.maxFileSize > 0 && fileHeader.Size > h.maxFileSize {
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeInvalidRequest,
			fmt.Errorf("file exceeds maximum size %s", humanize.IBytes(uint64(h.maxFileSize))))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFilePutFailed, err)
		return
	}
	defer src.Close()

	f, outcome, err := h.reconciler.ApplyUpload(ctx, &reconcile.Upload{
		UserID:        uid,
		FilePath:      filePath,
		ClientID:      ctx.PostForm("clientId"),
		Checksum:      ctx.PostForm("checksum"),
		VersionVector: vv,
		Content:       src,
	})
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrStaleUpload):
			api.AbortWithError(ctx, http.StatusConflict, api.CodeFileStale, err)
		case errors.Is(err, users.ErrQuotaExceeded):
			api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeQuotaExceeded, err)
		default:
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFilePutFailed, err)
		}
		return
	}

	status := http.StatusOK
	if outcome == reconcile.OutcomeCreated {
		status = http.StatusCreated
	}
	ctx.JSON(status, gin.H{
		"file":    f,
		"outcome": outcome,
	})
}
