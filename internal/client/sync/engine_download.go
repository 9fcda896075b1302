package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/utils"
)

// handleDownload fetches the server's current version of a path and adopts
// its version vector. The watcher is told to ignore the resulting write.
func (e *Engine) handleDownload(ctx context.Context, relPath string) error {
	tracked, err := e.state.GetTracked(ctx, relPath)
	if err != nil && !errors.Is(err, localstate.ErrNotFound) {
		return err
	}
	if tracked != nil && tracked.SyncStatus == localstate.StatusDeleted {
		// a local delete beats a queued download
		slog.Debug("download skipped, tombstoned", "path", relPath)
		return nil
	}

	rec, err := e.lookupServer(ctx, relPath)
	if err != nil {
		return err
	}
	if rec == nil {
		// the record vanished between enqueue and now; if the file exists
		// locally it is ours to push
		if utils.FileExists(e.absPath(relPath)) {
			return e.state.Enqueue(ctx, relPath, localstate.OpUpload)
		}
		slog.Debug("download skipped, gone from server", "path", relPath)
		return nil
	}

	abs := e.absPath(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}

	tStart := time.Now()
	e.watcher.SuppressOnce(relPath)
	checksum, err := e.sdk.Files.Download(ctx, rec.FileID, abs)
	if err != nil {
		return fmt.Errorf("download %s: %w", relPath, err)
	}
	if checksum != "" && rec.Checksum != "" && checksum != rec.Checksum {
		return fmt.Errorf("download %s: checksum mismatch", relPath)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	f := &localstate.TrackedFile{
		FileID:        rec.FileID,
		FilePath:      relPath,
		VersionVector: rec.CurrentVersionVector,
		LastModified:  info.ModTime(),
		FileSize:      info.Size(),
		Checksum:      rec.Checksum,
		SyncStatus:    localstate.StatusSynced,
		CreatedAt:     time.Now(),
	}
	if tracked != nil {
		f.CreatedAt = tracked.CreatedAt
	}
	if err := e.state.UpsertTracked(ctx, f); err != nil {
		return err
	}

	slog.Info("download",
		"path", relPath,
		"size", humanize.IBytes(uint64(info.Size())),
		"took", time.Since(tStart),
	)
	return nil
}
