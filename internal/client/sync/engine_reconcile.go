package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/client/sdk"
	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/vclock"
)

// Reconcile runs one full pass: re-enqueue pending uploads, walk the
// authoritative server list through the decision table, clean up files that
// vanished server side, and age out tombstones.
func (e *Engine) Reconcile(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	if !e.sdk.Authenticated() {
		slog.Debug("reconcile skipped, not authenticated")
		return nil
	}

	tStart := time.Now()

	pending, err := e.state.ListTrackedByStatus(ctx, localstate.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	for _, f := range pending {
		if err := e.state.Enqueue(ctx, f.FilePath, localstate.OpUpload); err != nil {
			return err
		}
	}

	// delta-feed fast path: when nothing changed server side since the
	// last full pass, skip the listing and only age tombstones
	if !e.lastFullPass.IsZero() {
		changes, err := e.sdk.Sync.Changes(ctx, e.lastFullPass, e.cfg.ClientID)
		if err != nil {
			slog.Warn("change feed", "error", err)
		} else if len(changes.Events) == 0 {
			e.lastFullPass = changes.ServerTime
			_, err := e.state.PurgeAgedTombstones(ctx, tombstoneHorizon, func(p string) bool {
				return utils.FileExists(e.absPath(p))
			})
			return err
		}
	}

	records, err := e.sdk.Files.List(ctx)
	if err != nil {
		return fmt.Errorf("list server files: %w", err)
	}
	e.setServerIndex(records)

	decisions := map[string]int{}
	for _, rec := range records {
		op, err := e.decideServerFile(ctx, rec)
		if err != nil {
			return err
		}
		if op == "" {
			continue
		}
		decisions[op]++
		if err := e.state.Enqueue(ctx, rec.FilePath, op); err != nil {
			return err
		}
	}

	removed, err := e.cleanupVanished(ctx, records)
	if err != nil {
		return err
	}

	purged, err := e.state.PurgeAgedTombstones(ctx, tombstoneHorizon, func(p string) bool {
		return utils.FileExists(e.absPath(p))
	})
	if err != nil {
		return err
	}

	e.lastFullPass = time.Now()

	if len(decisions) > 0 || removed > 0 || purged > 0 {
		slog.Info("reconcile",
			"pending", len(pending),
			"downloads", decisions[localstate.OpDownload],
			"uploads", decisions[localstate.OpUpload],
			"conflicts", decisions[localstate.OpConflictResolve],
			"vanished", removed,
			"tombstonesPurged", purged,
			"took", time.Since(tStart),
		)
	}
	return nil
}

// decideServerFile applies the decision table to one server record and
// returns the operation to enqueue, or "" when the path is in sync.
func (e *Engine) decideServerFile(ctx context.Context, rec *sdk.FileRecord) (string, error) {
	tracked, err := e.state.GetTracked(ctx, rec.FilePath)
	if err != nil && !errors.Is(err, localstate.ErrNotFound) {
		return "", err
	}

	onDisk := utils.FileExists(e.absPath(rec.FilePath))
	return decide(tracked, onDisk, rec.CurrentVersionVector), nil
}

// decide is the table from the sync protocol. tracked may be nil.
func decide(tracked *localstate.TrackedFile, onDisk bool, serverVV vclock.VersionVector) string {
	if tracked != nil && tracked.SyncStatus == localstate.StatusDeleted {
		// tombstoned: never download over a local delete
		return ""
	}

	if tracked == nil {
		if !onDisk {
			return localstate.OpDownload
		}
		// the file was authored locally before tracking caught up
		return localstate.OpUpload
	}

	localVV := tracked.VersionVector
	switch {
	case localVV.Equal(serverVV):
		return ""
	case serverVV.Dominates(localVV):
		return localstate.OpDownload
	case localVV.Dominates(serverVV):
		return localstate.OpUpload
	default:
		return localstate.OpConflictResolve
	}
}

// cleanupVanished handles files the server no longer lists. Tombstones are
// kept (a peer may still be propagating the delete) and files not yet
// uploaded are kept; only previously synced records are dropped together
// with their local bytes.
func (e *Engine) cleanupVanished(ctx context.Context, records []*sdk.FileRecord) (int, error) {
	serverPaths := make(map[string]struct{}, len(records))
	for _, r := range records {
		serverPaths[r.FilePath] = struct{}{}
	}

	tracked, err := e.state.ListTracked(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range tracked {
		if _, ok := serverPaths[f.FilePath]; ok {
			continue
		}
		if f.SyncStatus != localstate.StatusSynced {
			// DELETED keeps its tombstone; PENDING is local work the
			// server has not seen yet
			continue
		}

		abs := e.absPath(f.FilePath)
		e.watcher.SuppressOnce(f.FilePath)
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			slog.Warn("cleanup remove file", "path", f.FilePath, "error", err)
		}
		if err := e.state.RemoveTracked(ctx, f.FilePath); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// markPending records a local change; the record keeps its version vector
// until the upload handler increments it.
func (e *Engine) markPending(ctx context.Context, relPath string) error {
	tracked, err := e.state.GetTracked(ctx, relPath)
	if err != nil && !errors.Is(err, localstate.ErrNotFound) {
		return err
	}

	now := time.Now()
	f := &localstate.TrackedFile{
		FilePath:   relPath,
		SyncStatus: localstate.StatusPending,
		CreatedAt:  now,
	}
	if tracked != nil {
		f.FileID = tracked.FileID
		f.VersionVector = tracked.VersionVector
		f.Checksum = tracked.Checksum
		f.CreatedAt = tracked.CreatedAt
	}
	if f.FileID == "" {
		f.FileID = relPath
	}

	if info, err := os.Stat(e.absPath(relPath)); err == nil {
		f.FileSize = info.Size()
		f.LastModified = info.ModTime()
	} else {
		f.LastModified = now
	}

	return e.state.UpsertTracked(ctx, f)
}
