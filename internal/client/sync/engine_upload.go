package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/client/sdk"
	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/vclock"
)

const (
	chunkRetryBase     = time.Second
	chunkRetryAttempts = 3
)

// handleUpload pushes one local file to the server, choosing the direct or
// chunked path by size. The local version vector is incremented before the
// request goes out.
func (e *Engine) handleUpload(ctx context.Context, relPath string) error {
	tracked, err := e.state.GetTracked(ctx, relPath)
	if err != nil && !errors.Is(err, localstate.ErrNotFound) {
		return err
	}

	abs := e.absPath(relPath)
	onDisk := utils.FileExists(abs)

	if tracked != nil && tracked.SyncStatus == localstate.StatusDeleted {
		if !onDisk {
			// tombstone holds, nothing to upload
			return nil
		}
		// the file came back; clear the tombstone and carry on
		if err := e.state.ClearTombstone(ctx, relPath); err != nil {
			return err
		}
	}
	if !onDisk {
		slog.Debug("upload skipped, file gone", "path", relPath)
		return nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat %s: %w", relPath, err)
	}
	checksum, err := utils.FileChecksum(abs)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", relPath, err)
	}

	// bump the vector before the wire call and persist optimistically, so
	// a crash mid-upload retries with the same claim
	vv := vclock.VersionVector{}
	if tracked != nil && tracked.VersionVector != nil {
		vv = tracked.VersionVector.Clone()
	}
	vv.Increment(e.cfg.ClientID)

	rec := &localstate.TrackedFile{
		FilePath:      relPath,
		VersionVector: vv,
		LastModified:  info.ModTime(),
		FileSize:      info.Size(),
		Checksum:      checksum,
		SyncStatus:    localstate.StatusPending,
		CreatedAt:     time.Now(),
	}
	if tracked != nil {
		rec.FileID = tracked.FileID
		rec.CreatedAt = tracked.CreatedAt
	}
	if rec.FileID == "" {
		rec.FileID = relPath
	}
	if err := e.state.UpsertTracked(ctx, rec); err != nil {
		return err
	}

	tStart := time.Now()
	var result *sdk.UploadResult
	if info.Size() >= e.cfg.ChunkThreshold {
		result, err = e.uploadChunked(ctx, relPath, abs, info.Size(), checksum, vv)
	} else {
		result, err = e.sdk.Files.Upload(ctx, &sdk.UploadParams{
			LocalPath:     abs,
			SyncPath:      relPath,
			Checksum:      checksum,
			VersionVector: vv,
			ClientID:      e.cfg.ClientID,
		})
	}
	if err != nil {
		if errors.Is(err, sdk.ErrStaleUpload) {
			// the server holds a newer version; stay PENDING and let the
			// next reconcile pass turn this into a download or conflict
			slog.Warn("upload stale", "path", relPath)
		}
		return fmt.Errorf("upload %s: %w", relPath, err)
	}

	// adopt the server's view of the vector; on a concurrent merge it is
	// wider than what was sent, and accepting the merged vector is what
	// makes the record SYNCED even when the server flagged a conflict
	rec.SyncStatus = localstate.StatusSynced
	if result.File != nil {
		rec.FileID = result.File.FileID
		rec.VersionVector = result.File.CurrentVersionVector
		if result.File.ConflictStatus != "" {
			slog.Warn("upload accepted with conflict flag", "path", relPath)
		}
	}
	if err := e.state.UpsertTracked(ctx, rec); err != nil {
		return err
	}

	e.arbiter.MarkUploaded(relPath)
	slog.Info("upload",
		"path", relPath,
		"size", humanize.IBytes(uint64(info.Size())),
		"outcome", result.Outcome,
		"took", time.Since(tStart),
	)
	return nil
}

// uploadChunked splits the file into fixed chunks and ships at most three
// in parallel. Each chunk retries on its own backoff before the whole task
// is failed.
func (e *Engine) uploadChunked(ctx context.Context, relPath, abs string, size int64, checksum string, vv vclock.VersionVector) (*sdk.UploadResult, error) {
	totalChunks := int(math.Ceil(float64(size) / float64(e.cfg.ChunkSize)))

	sessionID, err := e.sdk.Files.InitiateChunked(ctx, &sdk.InitiateChunkedParams{
		FilePath:      relPath,
		TotalChunks:   totalChunks,
		TotalFileSize: size,
		VersionVector: vv,
		ClientID:      e.cfg.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate chunked: %w", err)
	}

	file, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	slog.Info("chunked upload start",
		"path", relPath,
		"session", sessionID,
		"chunks", totalChunks,
		"size", humanize.IBytes(uint64(size)),
	)

	var (
		mu   sync.Mutex
		last *sdk.ChunkSession
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChunks)

	for index := 0; index < totalChunks; index++ {
		g.Go(func() error {
			offset := int64(index) * e.cfg.ChunkSize
			length := e.cfg.ChunkSize
			if offset+length > size {
				length = size - offset
			}

			buf := make([]byte, length)
			if _, err := file.ReadAt(buf, offset); err != nil {
				return fmt.Errorf("read chunk %d: %w", index, err)
			}

			session, err := e.uploadChunkWithRetry(gctx, sessionID, index, buf)
			if err != nil {
				return err
			}

			mu.Lock()
			if last == nil || session.ReceivedChunks > last.ReceivedChunks {
				last = session
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// free the server-side session; the task-level retry starts over
		if cerr := e.sdk.Files.CancelChunked(context.WithoutCancel(ctx), sessionID); cerr != nil {
			slog.Warn("cancel chunked session", "session", sessionID, "error", cerr)
		}
		return nil, err
	}

	if last == nil || last.Status != sdk.ChunkStatusCompleted {
		status, err := e.sdk.Files.ChunkStatus(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("chunk session %s: %w", sessionID, err)
		}
		last = status
	}
	if last.Status != sdk.ChunkStatusCompleted {
		return nil, fmt.Errorf("chunk session %s ended %s: %s", sessionID, last.Status, last.ErrorMessage)
	}
	if last.FinalChecksum != checksum {
		return nil, fmt.Errorf("chunk session %s checksum mismatch", sessionID)
	}

	rec, err := e.lookupServerFresh(ctx, relPath)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("assembled file %s missing from server list", relPath)
	}
	return &sdk.UploadResult{File: rec, Outcome: "ACCEPTED"}, nil
}

func (e *Engine) uploadChunkWithRetry(ctx context.Context, sessionID string, index int, data []byte) (*sdk.ChunkSession, error) {
	var lastErr error
	for attempt := 1; attempt <= chunkRetryAttempts; attempt++ {
		session, err := e.sdk.Files.UploadChunk(ctx, sessionID, index, data)
		if err == nil {
			return session, nil
		}
		lastErr = err

		// terminal session states are not retryable
		if errors.Is(err, sdk.ErrSessionExpired) || errors.Is(err, sdk.ErrSessionMissing) ||
			errors.Is(err, sdk.ErrStaleUpload) {
			break
		}
		if attempt == chunkRetryAttempts {
			break
		}

		delay := time.Duration(attempt) * chunkRetryBase
		slog.Warn("chunk retry",
			"session", sessionID,
			"chunk", index,
			"attempt", attempt,
			"retryIn", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("chunk %d: %w", index, lastErr)
}

// lookupServerFresh bypasses the cached index.
func (e *Engine) lookupServerFresh(ctx context.Context, relPath string) (*sdk.FileRecord, error) {
	records, err := e.sdk.Files.List(ctx)
	if err != nil {
		return nil, err
	}
	e.setServerIndex(records)
	for _, r := range records {
		if r.FilePath == relPath {
			return r, nil
		}
	}
	return nil, nil
}
