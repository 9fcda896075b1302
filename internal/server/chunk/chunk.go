package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftbox/driftbox/internal/server/content"
	"github.com/driftbox/driftbox/internal/server/reconcile"
	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/vclock"
)

type SessionStatus string

const (
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusFailed     SessionStatus = "FAILED"
	StatusExpired    SessionStatus = "EXPIRED"
)

const (
	DefaultMaxSessionsPerUser = 10
	DefaultSessionTTL         = 24 * time.Hour
	DefaultMaxChunkSize       = 8 * 1024 * 1024

	completedRetention = 7 * 24 * time.Hour
	failedRetention    = 24 * time.Hour
)

var (
	ErrSessionNotFound      = errors.New("chunk: session not found")
	ErrTooManySessions      = errors.New("chunk: too many active upload sessions")
	ErrSessionExpired       = errors.New("chunk: session expired")
	ErrSessionNotActive     = errors.New("chunk: session is not in progress")
	ErrChunkIndexOutOfRange = errors.New("chunk: chunk index out of range")
	ErrChunkTooLarge        = errors.New("chunk: chunk exceeds maximum size")
)

// Session is the bookkeeping record for one chunked upload. Chunk bytes live
// in a separate buffer map so Status snapshots stay cheap to copy.
type Session struct {
	SessionID      string               `json:"sessionId"`
	UserID         string               `json:"-"`
	FileID         string               `json:"fileId"`
	FilePath       string               `json:"filePath"`
	TotalChunks    int                  `json:"totalChunks"`
	ReceivedChunks int                  `json:"receivedChunks"`
	TotalFileSize  int64                `json:"totalFileSize"`
	ReceivedSize   int64                `json:"receivedSize"`
	Status         SessionStatus        `json:"status"`
	ChunkChecksums map[int]string       `json:"receivedChunkChecksums"`
	StoragePath    string               `json:"storagePath,omitempty"`
	FinalChecksum  string               `json:"finalChecksum,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	CompletedAt    *time.Time           `json:"completedAt,omitempty"`
	ExpiresAt      time.Time            `json:"expiresAt"`
	ErrorMessage   string               `json:"errorMessage,omitempty"`
	ClientID       string               `json:"-"`
	VersionVector  vclock.VersionVector `json:"-"`
}

func (s *Session) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.ReceivedChunks) / float64(s.TotalChunks) * 100
}

// Manager tracks chunked upload sessions in memory. Assembled artifacts go
// through the reconcile service like any other upload, so the session
// manager never touches version vectors itself.
type Manager struct {
	blobs      *content.Store
	reconciler *reconcile.Service

	maxPerUser   int
	maxChunkSize int64
	ttl          time.Duration
	clock        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	buffers  map[string]map[int][]byte
}

type ManagerOption func(*Manager)

func WithMaxSessionsPerUser(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxPerUser = n
		}
	}
}

func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithMaxChunkSize(n int64) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxChunkSize = n
		}
	}
}

func NewManager(blobs *content.Store, reconciler *reconcile.Service, opts ...ManagerOption) *Manager {
	m := &Manager{
		blobs:        blobs,
		reconciler:   reconciler,
		maxPerUser:   DefaultMaxSessionsPerUser,
		maxChunkSize: DefaultMaxChunkSize,
		ttl:          DefaultSessionTTL,
		clock:        time.Now,
		sessions:     map[string]*Session{},
		buffers:      map[string]map[int][]byte{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate opens a session. fileID may be empty for a new file; clientID and
// versionVector ride along so assembly can reconcile the artifact properly.
func (m *Manager) Initiate(userID, fileID, filePath string, totalChunks int, totalFileSize int64, clientID string, vv vclock.VersionVector) (*Session, error) {
	if totalChunks <= 0 || totalFileSize <= 0 {
		return nil, fmt.Errorf("chunk: invalid session parameters (chunks=%d size=%d)", totalChunks, totalFileSize)
	}
	if fileID == "" {
		fileID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == StatusInProgress {
			active++
		}
	}
	if active >= m.maxPerUser {
		return nil, ErrTooManySessions
	}

	now := m.clock().UTC()
	session := &Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		FileID:         fileID,
		FilePath:       filePath,
		TotalChunks:    totalChunks,
		TotalFileSize:  totalFileSize,
		Status:         StatusInProgress,
		ChunkChecksums: map[int]string{},
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		ClientID:       clientID,
		VersionVector:  vv.Clone(),
	}
	m.sessions[session.SessionID] = session
	m.buffers[session.SessionID] = map[int][]byte{}

	slog.Debug("chunk session opened",
		"session", session.SessionID, "path", filePath, "chunks", totalChunks)
	return snapshot(session), nil
}

// UploadChunk ingests one chunk. Duplicate indexes are silent no-ops; the
// first write wins. When the last chunk arrives the session assembles.
func (m *Manager) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, data []byte) (*Session, error) {
	if int64(len(data)) > m.maxChunkSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(data), m.maxChunkSize)
	}

	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if m.clock().After(session.ExpiresAt) && session.Status == StatusInProgress {
		session.Status = StatusFailed
		session.ErrorMessage = "session expired"
		delete(m.buffers, sessionID)
		m.mu.Unlock()
		return nil, ErrSessionExpired
	}
	if session.Status != StatusInProgress {
		m.mu.Unlock()
		return nil, ErrSessionNotActive
	}
	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkIndexOutOfRange, chunkIndex, session.TotalChunks)
	}

	buf := m.buffers[sessionID]
	if _, dup := buf[chunkIndex]; dup {
		snap := snapshot(session)
		m.mu.Unlock()
		return snap, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	buf[chunkIndex] = stored
	session.ReceivedChunks++
	session.ReceivedSize += int64(len(data))
	session.ChunkChecksums[chunkIndex] = utils.Checksum(data)

	complete := session.ReceivedChunks == session.TotalChunks
	if !complete {
		snap := snapshot(session)
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	if err := m.assemble(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.Status(sessionID)
}

// assemble concatenates the chunks, verifies size, writes the blob and hands
// the artifact to the reconcile service. Any failure marks the session
// FAILED without touching metadata.
func (m *Manager) assemble(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	buf := m.buffers[sessionID]
	m.mu.Unlock()

	var assembled bytes.Buffer
	assembled.Grow(int(session.TotalFileSize))
	for i := 0; i < session.TotalChunks; i++ {
		part, ok := buf[i]
		if !ok {
			return m.failSession(sessionID, fmt.Sprintf("missing chunk %d", i))
		}
		assembled.Write(part)
	}

	if int64(assembled.Len()) != session.TotalFileSize {
		return m.failSession(sessionID, fmt.Sprintf(
			"assembled size %d does not match declared size %d", assembled.Len(), session.TotalFileSize))
	}

	finalChecksum := utils.Checksum(assembled.Bytes())

	storagePath, size, err := m.blobs.PutSized(session.UserID, session.FileID, &assembled, session.TotalFileSize)
	if err != nil {
		return m.failSession(sessionID, fmt.Sprintf("store assembled file: %v", err))
	}

	_, _, err = m.reconciler.ApplyUpload(ctx, &reconcile.Upload{
		UserID:        session.UserID,
		FilePath:      session.FilePath,
		ClientID:      session.ClientID,
		Checksum:      finalChecksum,
		VersionVector: session.VersionVector,
		StoragePath:   storagePath,
		FileSize:      size,
	})
	if err != nil {
		m.blobs.Delete(storagePath)
		m.failSession(sessionID, fmt.Sprintf("reconcile assembled file: %v", err))
		return fmt.Errorf("chunk: reconcile assembled file: %w", err)
	}

	now := m.clock().UTC()
	m.mu.Lock()
	session.Status = StatusCompleted
	session.StoragePath = storagePath
	session.FinalChecksum = finalChecksum
	session.CompletedAt = &now
	delete(m.buffers, sessionID)
	m.mu.Unlock()

	slog.Info("chunk session assembled",
		"session", sessionID, "path", session.FilePath, "size", size)
	return nil
}

func (m *Manager) failSession(sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		session.Status = StatusFailed
		session.ErrorMessage = reason
		delete(m.buffers, sessionID)
	}
	return fmt.Errorf("chunk: %s", reason)
}

func (m *Manager) Status(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return snapshot(session), nil
}

func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Status != StatusInProgress {
		return ErrSessionNotActive
	}
	session.Status = StatusFailed
	session.ErrorMessage = "Cancelled by user"
	delete(m.buffers, sessionID)
	return nil
}

// ListActive returns the user's IN_PROGRESS sessions.
func (m *Manager) ListActive(userID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == StatusInProgress {
			out = append(out, snapshot(s))
		}
	}
	return out
}

// Cleanup expires overdue sessions and purges old terminal ones. The server
// runs it hourly.
func (m *Manager) Cleanup() (expired, purged int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()

	for id, s := range m.sessions {
		switch s.Status {
		case StatusInProgress:
			if now.After(s.ExpiresAt) {
				s.Status = StatusExpired
				s.ErrorMessage = "session expired"
				delete(m.buffers, id)
				expired++
			}
		case StatusCompleted:
			if s.CompletedAt != nil && now.Sub(*s.CompletedAt) > completedRetention {
				delete(m.sessions, id)
				delete(m.buffers, id)
				purged++
			}
		case StatusExpired, StatusFailed:
			if now.Sub(s.CreatedAt) > failedRetention {
				delete(m.sessions, id)
				delete(m.buffers, id)
				purged++
			}
		}
	}

	if expired > 0 || purged > 0 {
		slog.Info("chunk session cleanup", "expired", expired, "purged", purged)
	}
	return expired, purged
}

func snapshot(s *Session) *Session {
	dup := *s
	dup.ChunkChecksums = make(map[int]string, len(s.ChunkChecksums))
	for k, v := range s.ChunkChecksums {
		dup.ChunkChecksums[k] = v
	}
	dup.VersionVector = s.VersionVector.Clone()
	return &dup
}
