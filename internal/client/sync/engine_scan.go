package sync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/utils"
)

// initialScan walks the sync root once at startup and queues uploads for
// files the watcher never saw: new files created while the client was down,
// and tombstoned files that reappeared on disk.
func (e *Engine) initialScan(ctx context.Context) error {
	tStart := time.Now()
	queued := 0

	err := filepath.WalkDir(e.cfg.SyncRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, rerr := filepath.Rel(e.cfg.SyncRoot, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && e.ignore.ShouldIgnore(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || e.ignore.ShouldIgnore(rel) {
			return nil
		}

		tracked, terr := e.state.GetTracked(ctx, rel)
		if terr != nil && !errors.Is(terr, localstate.ErrNotFound) {
			return terr
		}

		switch {
		case tracked == nil:
			if err := e.markPending(ctx, rel); err != nil {
				return err
			}
		case tracked.SyncStatus == localstate.StatusDeleted:
			// the file exists again; the delete lost
			if err := e.state.ClearTombstone(ctx, rel); err != nil {
				return err
			}
		default:
			return nil
		}

		queued++
		return e.state.Enqueue(ctx, rel, localstate.OpUpload)
	})
	if err != nil {
		return err
	}

	// tombstone deletes that happened while the client was down
	tracked, err := e.state.ListTracked(ctx)
	if err != nil {
		return err
	}
	missing := 0
	for _, f := range tracked {
		if f.SyncStatus != localstate.StatusSynced {
			continue
		}
		if utils.FileExists(e.absPath(f.FilePath)) {
			continue
		}
		if err := e.state.SetDeleted(ctx, f.FilePath); err != nil {
			return err
		}
		if err := e.state.Enqueue(ctx, f.FilePath, localstate.OpDelete); err != nil {
			return err
		}
		missing++
	}

	slog.Info("initial scan",
		"root", e.cfg.SyncRoot,
		"queuedUploads", queued,
		"queuedDeletes", missing,
		"took", time.Since(tStart),
	)
	return nil
}
