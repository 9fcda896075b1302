package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftbox/driftbox/internal/server/content"
	"github.com/driftbox/driftbox/internal/server/metadata"
	"github.com/driftbox/driftbox/internal/server/users"
	"github.com/driftbox/driftbox/internal/vclock"
)

// ErrStaleUpload is returned when the incoming vector is dominated by what
// the server already holds. The client should download instead.
var ErrStaleUpload = errors.New("reconcile: upload is stale")

// Broadcaster fans a recorded sync event out to the user's other connected
// clients. The hub filters by the event's originating clientId.
type Broadcaster interface {
	Broadcast(userID string, ev *metadata.SyncEvent)
}

// NopBroadcaster drops events; used when the push channel is disabled.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, *metadata.SyncEvent) {}

// Upload is the "upload with version vector" contract. Either Content is set
// (direct upload; bytes are written here) or StoragePath + FileSize describe
// an artifact chunk assembly already wrote to the content store.
type Upload struct {
	UserID        string
	FilePath      string
	ClientID      string
	Checksum      string
	VersionVector vclock.VersionVector // nil on legacy uploads

	Content  io.Reader
	FileSize int64

	StoragePath string
}

// Outcome reports how an upload was reconciled.
type Outcome string

const (
	OutcomeCreated  Outcome = "CREATED"
	OutcomeAccepted Outcome = "ACCEPTED"
	OutcomeConflict Outcome = "CONFLICT"
	OutcomeNoop     Outcome = "NOOP"
)

// Service arbitrates every mutation of the server's file catalog. It is the
// only code path that writes currentVersionVector: direct uploads, chunked
// assembly and deletes all come through here.
type Service struct {
	meta  *metadata.Store
	blobs *content.Store
	users *users.Store
	hub   Broadcaster
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per (user, path)
}

func NewService(meta *metadata.Store, blobs *content.Store, userStore *users.Store, hub Broadcaster) *Service {
	if hub == nil {
		hub = NopBroadcaster{}
	}
	return &Service{
		meta:  meta,
		blobs: blobs,
		users: userStore,
		hub:   hub,
		clock: time.Now,
		locks: map[string]*sync.Mutex{},
	}
}

func (s *Service) lockFor(userID, filePath string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "\x00" + filePath
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// ApplyUpload runs the reconciliation algorithm for one incoming revision of
// (user, path) and returns the resulting record.
func (s *Service) ApplyUpload(ctx context.Context, in *Upload) (*metadata.File, Outcome, error) {
	l := s.lockFor(in.UserID, in.FilePath)
	l.Lock()
	defer l.Unlock()

	existing, err := s.meta.GetFileByPath(ctx, in.UserID, in.FilePath)
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return nil, "", err
	}

	if existing == nil {
		f, err := s.createFile(ctx, in)
		if err != nil {
			return nil, "", err
		}
		return f, OutcomeCreated, nil
	}

	vvIn := in.VersionVector
	vvExisting := existing.CurrentVersionVector

	switch {
	case vvIn.Equal(vvExisting):
		return existing, OutcomeNoop, nil

	case vvExisting.Dominates(vvIn):
		ev := s.newEvent(in, existing.FileID, "MODIFY", "FAILED")
		ev.ErrorMessage = "stale version vector"
		if err := s.meta.RecordEvent(ctx, ev); err != nil {
			slog.Warn("record stale-upload event", "path", in.FilePath, "error", err)
		}
		return existing, "", ErrStaleUpload

	case vvIn.Dominates(vvExisting):
		f, err := s.acceptRevision(ctx, in, existing, vvIn.Clone(), "", "COMPLETED")
		if err != nil {
			return nil, "", err
		}
		return f, OutcomeAccepted, nil

	default: // concurrent: keep the new bytes, merge vectors, flag the record
		merged := vvIn.Merge(vvExisting)
		f, err := s.acceptRevision(ctx, in, existing, merged, "CONFLICTING", "CONFLICT")
		if err != nil {
			return nil, "", err
		}
		return f, OutcomeConflict, nil
	}
}

func (s *Service) createFile(ctx context.Context, in *Upload) (*metadata.File, error) {
	vv := in.VersionVector.Clone()
	if len(vv) == 0 {
		vv = vclock.VersionVector{}
		vv.Increment(in.UserID)
	}

	fileID := uuid.NewString()
	storagePath, size, err := s.storeBytes(ctx, in, fileID)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	f := &metadata.File{
		FileID:               fileID,
		UserID:               in.UserID,
		FilePath:             in.FilePath,
		FileName:             path.Base(in.FilePath),
		FileSize:             size,
		Checksum:             in.Checksum,
		CurrentVersionVector: vv,
		StoragePath:          storagePath,
		CreatedAt:            now,
		ModifiedAt:           now,
		SyncStatus:           "SYNCED",
	}

	ev := s.newEvent(in, fileID, "CREATE", "COMPLETED")
	ev.FileSize = size
	ev.Checksum = in.Checksum

	err = s.meta.WithTx(ctx, func(q *metadata.Queries) error {
		if err := q.CreateFile(ctx, f); err != nil {
			return err
		}
		if err := q.AddVersion(ctx, s.versionRow(f, in.ClientID)); err != nil {
			return err
		}
		return q.RecordEvent(ctx, ev)
	})
	if err != nil {
		s.compensateBytes(in, storagePath, size)
		return nil, err
	}

	s.hub.Broadcast(in.UserID, ev)
	return f, nil
}

func (s *Service) acceptRevision(ctx context.Context, in *Upload, existing *metadata.File, vv vclock.VersionVector, conflictStatus, eventStatus string) (*metadata.File, error) {
	storagePath, size, err := s.storeBytes(ctx, in, existing.FileID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.FileSize = size
	updated.Checksum = in.Checksum
	updated.CurrentVersionVector = vv
	updated.StoragePath = storagePath
	updated.ModifiedAt = s.clock().UTC()
	updated.SyncStatus = "SYNCED"
	updated.ConflictStatus = conflictStatus

	ev := s.newEvent(in, existing.FileID, "MODIFY", eventStatus)
	ev.FileSize = size
	ev.Checksum = in.Checksum

	err = s.meta.WithTx(ctx, func(q *metadata.Queries) error {
		if err := q.UpdateFile(ctx, &updated); err != nil {
			return err
		}
		if err := q.AddVersion(ctx, s.versionRow(&updated, in.ClientID)); err != nil {
			return err
		}
		return q.RecordEvent(ctx, ev)
	})
	if err != nil {
		s.compensateBytes(in, storagePath, size-existing.FileSize)
		return nil, err
	}

	s.hub.Broadcast(in.UserID, ev)
	return &updated, nil
}

// Delete hard-removes the record and its bytes, then notifies peers.
func (s *Service) Delete(ctx context.Context, userID, fileID, clientID string) error {
	f, err := s.meta.GetFileByID(ctx, userID, fileID)
	if err != nil {
		return err
	}

	l := s.lockFor(userID, f.FilePath)
	l.Lock()
	defer l.Unlock()

	ev := &metadata.SyncEvent{
		UserID:     userID,
		FileID:     fileID,
		EventType:  "DELETE",
		Timestamp:  s.clock().UTC(),
		ClientID:   clientID,
		SyncStatus: "COMPLETED",
		FilePath:   f.FilePath,
	}

	err = s.meta.WithTx(ctx, func(q *metadata.Queries) error {
		if err := q.DeleteFile(ctx, userID, fileID); err != nil {
			return err
		}
		return q.RecordEvent(ctx, ev)
	})
	if err != nil {
		return err
	}

	// blob removal is best effort; metadata is already authoritative
	if err := s.blobs.Delete(f.StoragePath); err != nil {
		slog.Warn("delete blob", "path", f.StoragePath, "error", err)
	}
	if err := s.users.AddUsedStorage(ctx, userID, -f.FileSize); err != nil {
		slog.Warn("release storage", "user", userID, "error", err)
	}

	s.hub.Broadcast(userID, ev)
	return nil
}

// storeBytes writes the incoming bytes (or adopts the pre-assembled blob)
// and charges the user's quota for the growth.
func (s *Service) storeBytes(ctx context.Context, in *Upload, fileID string) (string, int64, error) {
	storagePath := in.StoragePath
	size := in.FileSize

	if in.Content != nil {
		var err error
		storagePath, size, err = s.blobs.Put(in.UserID, fileID, in.Content)
		if err != nil {
			return "", 0, err
		}
	}

	var prevSize int64
	if existing, err := s.meta.GetFileByPath(ctx, in.UserID, in.FilePath); err == nil {
		prevSize = existing.FileSize
	}

	if delta := size - prevSize; delta != 0 {
		if err := s.users.AddUsedStorage(ctx, in.UserID, delta); err != nil {
			if in.Content != nil {
				s.blobs.Delete(storagePath)
			}
			return "", 0, err
		}
	}
	return storagePath, size, nil
}

// compensateBytes undoes the quota charge after a failed metadata write.
func (s *Service) compensateBytes(in *Upload, storagePath string, delta int64) {
	if delta != 0 {
		if err := s.users.AddUsedStorage(context.Background(), in.UserID, -delta); err != nil {
			slog.Warn("rollback storage accounting", "user", in.UserID, "error", err)
		}
	}
}

func (s *Service) versionRow(f *metadata.File, clientID string) *metadata.FileVersion {
	return &metadata.FileVersion{
		FileID:          f.FileID,
		Checksum:        f.Checksum,
		StoragePath:     f.StoragePath,
		FileSize:        f.FileSize,
		CreatedAt:       f.ModifiedAt,
		VersionVector:   f.CurrentVersionVector.Clone(),
		CreatedByClient: clientID,
	}
}

func (s *Service) newEvent(in *Upload, fileID, eventType, status string) *metadata.SyncEvent {
	return &metadata.SyncEvent{
		UserID:     in.UserID,
		FileID:     fileID,
		EventType:  eventType,
		Timestamp:  s.clock().UTC(),
		ClientID:   in.ClientID,
		SyncStatus: status,
		FilePath:   in.FilePath,
	}
}
