package sdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL     = errors.New("sdk: server url missing")
	ErrNoCredentials   = errors.New("sdk: not logged in")
	ErrNoRefreshToken  = errors.New("sdk: refresh token missing")
	ErrStaleUpload     = errors.New("sdk: upload rejected as stale")
	ErrQuotaExceeded   = errors.New("sdk: storage quota exceeded")
	ErrSessionExpired  = errors.New("sdk: chunk session expired")
	ErrSessionMissing  = errors.New("sdk: chunk session missing")
	ErrFileNotFound    = errors.New("sdk: file not found")
	ErrLocalFileGone   = errors.New("sdk: local file does not exist")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeAccessDenied   = "E_ACCESS_DENIED"

	// Auth errors
	CodeAuthInvalidCredentials    = "E_AUTH_INVALID_CREDENTIALS"
	CodeAuthTokenGenerationFailed = "E_AUTH_TOKEN_GENERATION_FAILED"
	CodeAuthTokenRefreshFailed    = "E_AUTH_TOKEN_REFRESH_FAILED"
	CodeAuthRegistrationFailed    = "E_AUTH_REGISTRATION_FAILED"
	CodeAuthUserExists            = "E_AUTH_USER_EXISTS"

	// File errors
	CodeFileNotFound     = "E_FILE_NOT_FOUND"
	CodeFileListFailed   = "E_FILE_LIST_OPERATION_FAILED"
	CodeFilePutFailed    = "E_FILE_PUT_OPERATION_FAILED"
	CodeFileGetFailed    = "E_FILE_GET_OPERATION_FAILED"
	CodeFileDeleteFailed = "E_FILE_DELETE_OPERATION_FAILED"
	CodeFileStale        = "E_FILE_STALE_VERSION"
	CodeFileInvalidPath  = "E_FILE_INVALID_PATH"
	CodeQuotaExceeded    = "E_QUOTA_EXCEEDED"

	// Chunked upload errors
	CodeChunkSessionNotFound = "E_CHUNK_SESSION_NOT_FOUND"
	CodeChunkSessionExpired  = "E_CHUNK_SESSION_EXPIRED"
	CodeChunkTooManySessions = "E_CHUNK_TOO_MANY_SESSIONS"
	CodeChunkUploadFailed    = "E_CHUNK_UPLOAD_FAILED"
)

// APIError is the error body every server endpoint returns.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Unwrap maps well-known codes onto sentinel errors so callers can use
// errors.Is without inspecting codes.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case CodeFileStale:
		return ErrStaleUpload
	case CodeQuotaExceeded:
		return ErrQuotaExceeded
	case CodeChunkSessionExpired:
		return ErrSessionExpired
	case CodeChunkSessionNotFound:
		return ErrSessionMissing
	case CodeFileNotFound:
		return ErrFileNotFound
	default:
		return nil
	}
}

// handleAPIError folds the request error and the API error body into one.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("api error: %s %s", operation, resp.String())
	}

	return nil
}
