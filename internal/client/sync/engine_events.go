package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/client/sdk"
	"github.com/driftbox/driftbox/internal/syncmsg"
	"github.com/driftbox/driftbox/internal/wsproto"
)

// runPushEvents turns server push notifications into queue work. The push
// channel is an accelerator; everything it does the reconcile loop would
// also do, just later.
func (e *Engine) runPushEvents(ctx context.Context) {
	defer e.wg.Done()

	events := e.sdk.Events.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.handlePushEvent(ctx, ev); err != nil {
				slog.Error("push event", "path", ev.Data.FilePath, "error", err)
			}
		}
	}
}

func (e *Engine) handlePushEvent(ctx context.Context, ev *sdk.Event) error {
	data := ev.Data
	if data == nil || data.FilePath == "" {
		return nil
	}
	// the server already filters own-client events; this is the backstop
	if data.ClientID == e.cfg.ClientID {
		return nil
	}

	slog.Debug("push event",
		"destination", ev.Destination,
		"type", data.EventType,
		"path", data.FilePath,
	)

	if ev.Destination == wsproto.DestConflicts || data.SyncStatus == syncmsg.StatusConflict {
		return e.state.Enqueue(ctx, data.FilePath, localstate.OpConflictResolve)
	}

	switch data.EventType {
	case syncmsg.EventDelete:
		return e.applyRemoteDelete(ctx, data.FilePath)
	case syncmsg.EventCreate, syncmsg.EventModify, syncmsg.EventRename, syncmsg.EventMove, syncmsg.EventRollback:
		tracked, err := e.state.GetTracked(ctx, data.FilePath)
		if err != nil && !errors.Is(err, localstate.ErrNotFound) {
			return err
		}
		if tracked != nil && tracked.SyncStatus == localstate.StatusDeleted {
			return nil
		}
		// invalidate the cached index so the download sees the new vector
		e.idxMu.Lock()
		delete(e.serverIndex, data.FilePath)
		e.idxMu.Unlock()
		return e.state.Enqueue(ctx, data.FilePath, localstate.OpDownload)
	}
	return nil
}

// applyRemoteDelete removes the local copy for a delete that originated on a
// peer. A local tombstone means we deleted it too, nothing left to do.
func (e *Engine) applyRemoteDelete(ctx context.Context, relPath string) error {
	tracked, err := e.state.GetTracked(ctx, relPath)
	if err != nil && !errors.Is(err, localstate.ErrNotFound) {
		return err
	}
	if tracked != nil && tracked.SyncStatus == localstate.StatusDeleted {
		return nil
	}

	abs := e.absPath(relPath)
	e.watcher.SuppressOnce(relPath)
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	if tracked != nil {
		if err := e.state.RemoveTracked(ctx, relPath); err != nil {
			return err
		}
	}

	e.idxMu.Lock()
	delete(e.serverIndex, relPath)
	e.idxMu.Unlock()

	slog.Info("remote delete applied", "path", relPath)
	return nil
}
