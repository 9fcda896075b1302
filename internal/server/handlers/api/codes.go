package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied

	// Auth errors
	CodeAuthInvalidCredentials    = "E_AUTH_INVALID_CREDENTIALS"     // credentials or token invalid, expired, or malformed
	CodeAuthTokenGenerationFailed = "E_AUTH_TOKEN_GENERATION_FAILED" // failed generating new tokens
	CodeAuthTokenRefreshFailed    = "E_AUTH_TOKEN_REFRESH_FAILED"    // failed refreshing an access token
	CodeAuthRegistrationFailed    = "E_AUTH_REGISTRATION_FAILED"     // failed creating an account
	CodeAuthUserExists            = "E_AUTH_USER_EXISTS"             // username or email already taken

	// File errors
	CodeFileNotFound     = "E_FILE_NOT_FOUND"               // the specified file could not be found
	CodeFileListFailed   = "E_FILE_LIST_OPERATION_FAILED"   // failed listing files
	CodeFilePutFailed    = "E_FILE_PUT_OPERATION_FAILED"    // failed uploading a file
	CodeFileGetFailed    = "E_FILE_GET_OPERATION_FAILED"    // failed downloading a file
	CodeFileDeleteFailed = "E_FILE_DELETE_OPERATION_FAILED" // failed deleting a file
	CodeFileStale        = "E_FILE_STALE_VERSION"           // upload rejected, server holds a newer version
	CodeFileInvalidPath  = "E_FILE_INVALID_PATH"            // the provided sync path is invalid or malformed
	CodeQuotaExceeded    = "E_QUOTA_EXCEEDED"               // user storage quota exceeded

	// Chunked upload errors
	CodeChunkSessionNotFound = "E_CHUNK_SESSION_NOT_FOUND" // the upload session could not be found
	CodeChunkSessionExpired  = "E_CHUNK_SESSION_EXPIRED"   // the upload session passed its deadline
	CodeChunkTooManySessions = "E_CHUNK_TOO_MANY_SESSIONS" // too many concurrent upload sessions
	CodeChunkUploadFailed    = "E_CHUNK_UPLOAD_FAILED"     // failed ingesting or assembling chunks
)
