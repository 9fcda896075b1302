package files

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/content"
	"github.com/driftbox/driftbox/internal/server/handlers/api"
	"github.com/driftbox/driftbox/internal/server/metadata"
)

// Download streams the whole file.
func (h *FilesHandler) Download(ctx *gin.Context) {
	f, ok := h.lookup(ctx)
	if !ok {
		return
	}

	blob, err := h.blobs.Open(f.StoragePath)
	if err != nil {
		h.abortBlobError(ctx, err)
		return
	}
	defer blob.Close()

	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.FileName))
	ctx.Header("X-File-Checksum", f.Checksum)
	ctx.DataFromReader(http.StatusOK, f.FileSize, "application/octet-stream", blob, nil)
}

// DownloadChunked serves a byte range of the file with 206 Partial Content.
// A Range header of the form "bytes=a-b" is required.
func (h *FilesHandler) DownloadChunked(ctx *gin.Context) {
	f, ok := h.lookup(ctx)
	if !ok {
		return
	}

	start, end, err := parseRange(ctx.GetHeader("Range"), f.FileSize)
	if err != nil {
		ctx.Header("Content-Range", fmt.Sprintf("bytes */%d", f.FileSize))
		api.AbortWithError(ctx, http.StatusRequestedRangeNotSatisfiable, api.CodeInvalidRequest, err)
		return
	}

	blob, err := h.blobs.Open(f.StoragePath)
	if err != nil {
		h.abortBlobError(ctx, err)
		return
	}
	defer blob.Close()

	if _, err := blob.Seek(start, io.SeekStart); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
		return
	}

	length := end - start + 1
	ctx.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, f.FileSize))
	ctx.Header("Accept-Ranges", "bytes")
	ctx.DataFromReader(http.StatusPartialContent, length, "application/octet-stream",
		io.LimitReader(blob, length), nil)
}

func (h *FilesHandler) lookup(ctx *gin.Context) (*metadata.File, bool) {
	f, err := h.meta.GetFileByID(ctx, ctx.GetString("uid"), ctx.Param("fileId"))
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
		}
		return nil, false
	}
	return f, true
}

func (h *FilesHandler) abortBlobError(ctx *gin.Context, err error) {
	if errors.Is(err, content.ErrNotFound) {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
	} else {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileGetFailed, err)
	}
}

// parseRange understands single ranges of the form "bytes=a-b" (and "a-" for
// the tail starting at a).
func parseRange(header string, size int64) (start, end int64, err error) {
	if header == "" {
		return 0, 0, fmt.Errorf("missing Range header")
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit in %q", header)
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start %q", first)
	}

	if last == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range end %q", last)
		}
	}

	if start > end || start >= size {
		return 0, 0, fmt.Errorf("range %d-%d not satisfiable for size %d", start, end, size)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
