package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftbox/driftbox/internal/client/sdk"
)

// handleDelete propagates a local delete. The tombstone stays in place either
// way; only tombstone aging removes it.
func (e *Engine) handleDelete(ctx context.Context, relPath string) error {
	rec, err := e.lookupServer(ctx, relPath)
	if err != nil {
		return err
	}
	if rec == nil {
		// already gone server side, the delete has converged
		slog.Debug("delete already applied", "path", relPath)
		return nil
	}

	if err := e.sdk.Files.Delete(ctx, rec.FileID, e.cfg.ClientID); err != nil {
		if errors.Is(err, sdk.ErrFileNotFound) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", relPath, err)
	}

	slog.Info("delete", "path", relPath)
	return nil
}

// handleConflict asks the arbiter for a verdict and turns it into an upload
// or download. The tracked record keeps its status until the resolution
// lands; reconciliation re-enqueues PENDING paths, so a failed resolution is
// retried rather than wedged.
func (e *Engine) handleConflict(ctx context.Context, relPath string) error {
	switch decision := e.arbiter.Resolve(relPath); decision {
	case UseLocal, UseMerged:
		// last-write-wins: our copy becomes the new current version and the
		// merged vector comes back from the server
		return e.handleUpload(ctx, relPath)
	case UseServer:
		return e.handleDownload(ctx, relPath)
	case Cancelled:
		return nil
	default:
		return fmt.Errorf("conflict %s: unknown resolution %q", relPath, decision)
	}
}
