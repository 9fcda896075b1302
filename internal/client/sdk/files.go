package sdk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/imroc/req/v3"

	"github.com/driftbox/driftbox/internal/utils"
)

const (
	filesList        = "/files/"
	filesUpload      = "/files/upload"
	filesInitiate    = "/files/upload/initiate-chunked"
	filesChunk       = "/files/upload/chunk"
	filesChunkStatus = "/files/upload/status/{sessionId}"
	filesChunkCancel = "/files/upload/cancel/{sessionId}"
	filesSessions    = "/files/upload/sessions"
	filesDownload    = "/files/{fileId}/download"
	filesDownloadRng = "/files/{fileId}/download-chunked"
	filesVersions    = "/files/{fileId}/versions"
	filesMetadata    = "/files/{fileId}/metadata"
	filesByID        = "/files/{fileId}"
)

// FilesAPI covers direct and chunked transfer plus the file catalog.
type FilesAPI struct {
	client *req.Client
}

func newFilesAPI(client *req.Client) *FilesAPI {
	return &FilesAPI{client: client}
}

// List returns every current file record of the authenticated user.
func (f *FilesAPI) List(ctx context.Context) ([]*FileRecord, error) {
	var records []*FileRecord

	resp, err := f.client.R().
		SetContext(ctx).
		SetSuccessResult(&records).
		Get(filesList)

	if err := handleAPIError(resp, err, "files list"); err != nil {
		return nil, err
	}

	return records, nil
}

// Metadata returns the current record for one file.
func (f *FilesAPI) Metadata(ctx context.Context, fileID string) (*FileRecord, error) {
	var record *FileRecord

	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetSuccessResult(&record).
		Get(filesMetadata)

	if err := handleAPIError(resp, err, "files metadata"); err != nil {
		return nil, err
	}

	return record, nil
}

// Versions returns a file's version history, newest first.
func (f *FilesAPI) Versions(ctx context.Context, fileID string) ([]*FileVersion, error) {
	var versions []*FileVersion

	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetSuccessResult(&versions).
		Get(filesVersions)

	if err := handleAPIError(resp, err, "files versions"); err != nil {
		return nil, err
	}

	return versions, nil
}

// Upload sends a file in one request. The server reconciles the version
// vector and may answer with a conflict merge; check UploadResult.Outcome.
func (f *FilesAPI) Upload(ctx context.Context, params *UploadParams) (*UploadResult, error) {
	if !utils.FileExists(params.LocalPath) {
		return nil, ErrLocalFileGone
	}

	form := map[string]string{
		"checksum": params.Checksum,
		"clientId": params.ClientID,
	}
	if params.VersionVector != nil {
		form["versionVector"] = params.VersionVector.JSON()
	}

	var result *UploadResult

	r := f.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetFile("file", params.LocalPath).
		SetFormData(form).
		SetSuccessResult(&result)

	var resp *req.Response
	var err error
	if params.ReplaceFileID != "" {
		resp, err = r.SetPathParam("fileId", params.ReplaceFileID).Put(filesByID)
	} else {
		resp, err = r.SetFormData(map[string]string{"path": params.SyncPath}).Post(filesUpload)
	}

	if err := handleAPIError(resp, err, "files upload"); err != nil {
		return nil, err
	}

	return result, nil
}

// Download fetches a file's bytes into destPath. The write is atomic: bytes
// land in a temp file next to destPath and are renamed on success. Returns
// the checksum the server reported for the content.
func (f *FilesAPI) Download(ctx context.Context, fileID, destPath string) (string, error) {
	if err := utils.EnsureParent(destPath); err != nil {
		return "", fmt.Errorf("files download: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".driftbox-dl-*")
	if err != nil {
		return "", fmt.Errorf("files download: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	resp, err := f.client.R().
		DisableAutoReadResponse().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetOutputFile(tmpPath).
		Get(filesDownload)

	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("http request error: files download %w", err)
	}

	if resp.IsErrorState() {
		// the error body went to the output file, not the response buffer
		body, _ := os.ReadFile(tmpPath)
		os.Remove(tmpPath)
		return "", fmt.Errorf("files download: status %d: %s", resp.GetStatusCode(), string(body))
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("files download: %w", err)
	}

	return resp.GetHeader("X-File-Checksum"), nil
}

// DownloadRange fetches the byte range [start, end] of a file. An end of -1
// requests everything from start to the end of the file.
func (f *FilesAPI) DownloadRange(ctx context.Context, fileID string, start, end int64) ([]byte, error) {
	rangeHdr := "bytes=" + strconv.FormatInt(start, 10) + "-"
	if end >= 0 {
		rangeHdr += strconv.FormatInt(end, 10)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetHeader("Range", rangeHdr).
		Get(filesDownloadRng)

	if err := handleAPIError(resp, err, "files download range"); err != nil {
		return nil, err
	}

	return resp.Bytes(), nil
}

// Delete removes a file server side. clientID attributes the resulting
// DELETE event so the caller's own push notification can be dropped.
func (f *FilesAPI) Delete(ctx context.Context, fileID, clientID string) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetQueryParam("clientId", clientID).
		Delete(filesByID)

	return handleAPIError(resp, err, "files delete")
}

// InitiateChunked opens an upload session and returns its id.
func (f *FilesAPI) InitiateChunked(ctx context.Context, params *InitiateChunkedParams) (string, error) {
	var result initiateChunkedResponse

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&result).
		Post(filesInitiate)

	if err := handleAPIError(resp, err, "files initiate chunked"); err != nil {
		return "", err
	}

	return result.SessionID, nil
}

// UploadChunk sends one chunk of an open session. Resending a chunk index
// the server already holds is a no-op.
func (f *FilesAPI) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, data []byte) (*ChunkSession, error) {
	var session *ChunkSession

	resp, err := f.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetFormData(map[string]string{
			"sessionId":  sessionID,
			"chunkIndex": strconv.Itoa(chunkIndex),
		}).
		SetFileBytes("chunkData", "chunk", data).
		SetSuccessResult(&session).
		Post(filesChunk)

	if err := handleAPIError(resp, err, "files upload chunk"); err != nil {
		return nil, err
	}

	return session, nil
}

// ChunkStatus reports progress of an upload session.
func (f *FilesAPI) ChunkStatus(ctx context.Context, sessionID string) (*ChunkSession, error) {
	var session *ChunkSession

	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("sessionId", sessionID).
		SetSuccessResult(&session).
		Get(filesChunkStatus)

	if err := handleAPIError(resp, err, "files chunk status"); err != nil {
		return nil, err
	}

	return session, nil
}

// CancelChunked abandons an upload session and frees its buffers.
func (f *FilesAPI) CancelChunked(ctx context.Context, sessionID string) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("sessionId", sessionID).
		Delete(filesChunkCancel)

	return handleAPIError(resp, err, "files cancel chunked")
}

// ChunkSessions lists the caller's IN_PROGRESS upload sessions.
func (f *FilesAPI) ChunkSessions(ctx context.Context) ([]*ChunkSession, error) {
	var sessions []*ChunkSession

	resp, err := f.client.R().
		SetContext(ctx).
		SetSuccessResult(&sessions).
		Get(filesSessions)

	if err := handleAPIError(resp, err, "files chunk sessions"); err != nil {
		return nil, err
	}

	return sessions, nil
}
