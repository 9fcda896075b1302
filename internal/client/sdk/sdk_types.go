package sdk

import (
	"time"

	"github.com/driftbox/driftbox/internal/vclock"
)

// Account is the server's view of a registered user.
type Account struct {
	UserID        string    `json:"userId"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	StorageQuota  int64     `json:"storageQuota"`
	UsedStorage   int64     `json:"usedStorage"`
	AccountStatus string    `json:"accountStatus"`
}

// TokenResponse carries the JWT pair issued by login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// FileRecord mirrors the server's current-state record for a synced file.
type FileRecord struct {
	FileID               string               `json:"fileId"`
	FilePath             string               `json:"filePath"`
	FileName             string               `json:"fileName"`
	FileSize             int64                `json:"fileSize"`
	Checksum             string               `json:"checksum"`
	CurrentVersionVector vclock.VersionVector `json:"currentVersionVector"`
	CreatedAt            time.Time            `json:"createdAt"`
	ModifiedAt           time.Time            `json:"modifiedAt"`
	SyncStatus           string               `json:"syncStatus"`
	ConflictStatus       string               `json:"conflictStatus,omitempty"`
}

// FileVersion is one entry of a file's version history.
type FileVersion struct {
	VersionID        string               `json:"versionId"`
	FileID           string               `json:"fileId"`
	VersionNumber    int64                `json:"versionNumber"`
	Checksum         string               `json:"checksum"`
	FileSize         int64                `json:"fileSize"`
	CreatedAt        time.Time            `json:"createdAt"`
	IsCurrentVersion bool                 `json:"isCurrentVersion"`
	VersionVector    vclock.VersionVector `json:"versionVector"`
	CreatedByClient  string               `json:"createdByClient"`
}

// UploadResult is the body of a successful upload or replace.
type UploadResult struct {
	File    *FileRecord `json:"file"`
	Outcome string      `json:"outcome"`
}

// UploadParams describes one direct upload. LocalPath is read from disk;
// SyncPath is the path the server records. ReplaceFileID switches the call to
// PUT /files/{id}, where the server keeps the existing path.
type UploadParams struct {
	LocalPath     string
	SyncPath      string
	Checksum      string
	VersionVector vclock.VersionVector
	ClientID      string
	ReplaceFileID string
}

// ChunkSession mirrors the server's chunked upload session state.
type ChunkSession struct {
	SessionID      string         `json:"sessionId"`
	FileID         string         `json:"fileId"`
	FilePath       string         `json:"filePath"`
	TotalChunks    int            `json:"totalChunks"`
	ReceivedChunks int            `json:"receivedChunks"`
	TotalFileSize  int64          `json:"totalFileSize"`
	ReceivedSize   int64          `json:"receivedSize"`
	Status         string         `json:"status"`
	ChunkChecksums map[int]string `json:"receivedChunkChecksums"`
	StoragePath    string         `json:"storagePath,omitempty"`
	FinalChecksum  string         `json:"finalChecksum,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
}

// Chunk session lifecycle states, as reported in ChunkSession.Status.
const (
	ChunkStatusInProgress = "IN_PROGRESS"
	ChunkStatusCompleted  = "COMPLETED"
	ChunkStatusFailed     = "FAILED"
	ChunkStatusExpired    = "EXPIRED"
)

// InitiateChunkedParams opens a chunked upload session.
type InitiateChunkedParams struct {
	FileID        string               `json:"fileId,omitempty"`
	FilePath      string               `json:"filePath"`
	TotalChunks   int                  `json:"totalChunks"`
	TotalFileSize int64                `json:"totalFileSize"`
	VersionVector vclock.VersionVector `json:"versionVector,omitempty"`
	ClientID      string               `json:"clientId,omitempty"`
}

type initiateChunkedResponse struct {
	SessionID string `json:"sessionId"`
}

// SyncEventRecord is one entry of the server's change feed.
type SyncEventRecord struct {
	EventID      string    `json:"eventId"`
	FileID       string    `json:"fileId,omitempty"`
	EventType    string    `json:"eventType"`
	Timestamp    time.Time `json:"timestamp"`
	ClientID     string    `json:"clientId"`
	SyncStatus   string    `json:"syncStatus"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	FilePath     string    `json:"filePath"`
	FileSize     int64     `json:"fileSize,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
}

// ChangesResponse is the body of GET /sync/changes.
type ChangesResponse struct {
	Events     []*SyncEventRecord `json:"events"`
	ServerTime time.Time          `json:"serverTime"`
}

// HeartbeatResponse is the body of POST /sync/heartbeat.
type HeartbeatResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"serverTime"`
}
