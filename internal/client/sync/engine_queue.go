package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/driftbox/driftbox/internal/client/localstate"
)

const taskRetryBase = 30 * time.Second

// runQueueConsumer drains due tasks, then sleeps for the bounded poll wait.
// Tasks run one at a time; parallelism lives inside the chunked transfer.
func (e *Engine) runQueueConsumer(ctx context.Context) {
	defer e.wg.Done()

	timer := time.NewTimer(queuePollWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.drainQueue(ctx)
			timer.Reset(queuePollWait)
		}
	}
}

func (e *Engine) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := e.state.NextDue(ctx, time.Now())
		if errors.Is(err, localstate.ErrNotFound) {
			return
		}
		if err != nil {
			slog.Error("queue next", "error", err)
			return
		}

		if err := e.runTask(ctx, task); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			delay := time.Duration(task.RetryCount+1) * taskRetryBase
			slog.Error("task failed",
				"path", task.FilePath,
				"operation", task.Operation,
				"attempt", task.RetryCount+1,
				"retryIn", delay,
				"error", err,
			)
			if rerr := e.state.Retry(ctx, task.ID, delay, err.Error()); rerr != nil {
				slog.Error("task retry bump", "error", rerr)
			}
			continue
		}

		if err := e.state.Complete(ctx, task.ID); err != nil {
			slog.Error("task complete", "error", err)
		}
	}
}

func (e *Engine) runTask(ctx context.Context, task *localstate.QueueTask) error {
	slog.Debug("task run", "path", task.FilePath, "operation", task.Operation)

	switch task.Operation {
	case localstate.OpDelete:
		return e.handleDelete(ctx, task.FilePath)
	case localstate.OpConflictResolve:
		return e.handleConflict(ctx, task.FilePath)
	case localstate.OpUpload:
		return e.handleUpload(ctx, task.FilePath)
	case localstate.OpDownload:
		return e.handleDownload(ctx, task.FilePath)
	default:
		slog.Warn("task unknown operation", "operation", task.Operation)
		return nil
	}
}
