// Package sync runs the client side of the protocol: the filesystem
// watcher, the prioritized task queue, the periodic reconciliation loop and
// the conflict arbiter.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/client/sdk"
)

const (
	// DefaultChunkThreshold is the size at which uploads switch to the
	// chunked path. Deployments tune this between 5 and 50 MiB.
	DefaultChunkThreshold = 8 * 1024 * 1024
	DefaultChunkSize      = 4 * 1024 * 1024

	pollDisconnected = 30 * time.Second
	pollConnected    = 300 * time.Second
	queuePollWait    = 5 * time.Second
	tombstoneHorizon = time.Hour

	maxConcurrentChunks = 3
)

var ErrSyncAlreadyRunning = errors.New("sync: reconcile already running")

type Config struct {
	SyncRoot       string
	ClientID       string
	ChunkThreshold int64
	ChunkSize      int64

	// PollDisconnected/PollConnected override the reconcile cadence.
	PollDisconnected time.Duration
	PollConnected    time.Duration
}

func (c *Config) withDefaults() {
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = DefaultChunkThreshold
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.PollDisconnected <= 0 {
		c.PollDisconnected = pollDisconnected
	}
	if c.PollConnected <= 0 {
		c.PollConnected = pollConnected
	}
}

// Engine owns the client sync lifecycle. All mutations of local state flow
// through the queue; the watcher, the push channel and the reconcile loop
// only enqueue work.
type Engine struct {
	cfg     Config
	sdk     *sdk.DriftSDK
	state   *localstate.Store
	watcher *Watcher
	ignore  *IgnoreList
	arbiter *Arbiter

	muSync sync.Mutex // reconcile single-flight

	// lastFullPass gates the delta-feed fast path; guarded by muSync
	lastFullPass time.Time

	idxMu       sync.RWMutex
	serverIndex map[string]*sdk.FileRecord // path -> last listed record

	wg sync.WaitGroup
}

func NewEngine(cfg Config, driftSDK *sdk.DriftSDK, state *localstate.Store, arbiter *Arbiter) (*Engine, error) {
	cfg.withDefaults()

	ignore := NewIgnoreList(cfg.SyncRoot)
	watcher, err := NewWatcher(cfg.SyncRoot, ignore)
	if err != nil {
		return nil, err
	}
	if arbiter == nil {
		arbiter = NewArbiter(nil)
	}

	return &Engine{
		cfg:         cfg,
		sdk:         driftSDK,
		state:       state,
		watcher:     watcher,
		ignore:      ignore,
		arbiter:     arbiter,
		serverIndex: make(map[string]*sdk.FileRecord),
	}, nil
}

func (e *Engine) Start(ctx context.Context) error {
	slog.Info("sync engine start", "root", e.cfg.SyncRoot, "clientId", e.cfg.ClientID)

	if err := e.initialScan(ctx); err != nil {
		slog.Error("initial scan", "error", err)
	}

	if err := e.sdk.Events.Connect(ctx); err != nil {
		// the poll loop still syncs and redials the push channel on its
		// next pass
		slog.Warn("push channel connect", "error", err)
	}

	if err := e.watcher.Start(ctx); err != nil {
		return err
	}

	e.wg.Add(4)
	go e.runReconcileLoop(ctx)
	go e.runQueueConsumer(ctx)
	go e.runWatcherEvents(ctx)
	go e.runPushEvents(ctx)

	return nil
}

func (e *Engine) Stop() {
	slog.Info("sync engine stop")
	e.watcher.Stop()
	e.wg.Wait()
}

// runReconcileLoop re-runs reconciliation on a timer. The cadence adapts:
// tight while the push channel is down (polling is the only signal), slack
// while it is up.
func (e *Engine) runReconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	// first pass immediately after start
	if err := e.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("reconcile", "error", err)
	}

	timer := time.NewTimer(e.pollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !e.sdk.Events.IsConnected() && e.sdk.Authenticated() {
				// a failed dial leaves no reconnect loop behind, so the
				// push channel is redialed here; Connect is idempotent
				// once a session is up
				if err := e.sdk.Events.Connect(ctx); err != nil {
					slog.Debug("push channel connect", "error", err)
					// still down, keep last-seen fresh over plain HTTP
					if _, herr := e.sdk.Sync.Heartbeat(ctx); herr != nil {
						slog.Debug("http heartbeat", "error", herr)
					}
				}
			}
			if err := e.Reconcile(ctx); err != nil &&
				!errors.Is(err, context.Canceled) && !errors.Is(err, ErrSyncAlreadyRunning) {
				slog.Error("reconcile", "error", err)
			}
			timer.Reset(e.pollInterval())
		}
	}
}

func (e *Engine) pollInterval() time.Duration {
	if e.sdk.Events.IsConnected() {
		return e.cfg.PollConnected
	}
	return e.cfg.PollDisconnected
}

func (e *Engine) runWatcherEvents(ctx context.Context) {
	defer e.wg.Done()

	events := e.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.handleWatchEvent(ctx, ev); err != nil {
				slog.Error("watch event", "path", ev.Path, "type", ev.Type, "error", err)
			}
		}
	}
}

func (e *Engine) handleWatchEvent(ctx context.Context, ev WatchEvent) error {
	switch ev.Type {
	case WatchCreate, WatchModify:
		if err := e.markPending(ctx, ev.Path); err != nil {
			return err
		}
		return e.state.Enqueue(ctx, ev.Path, localstate.OpUpload)

	case WatchDelete:
		// the tombstone lands synchronously, before the server delete is
		// even queued; reconcile skips DELETED paths from here on
		if err := e.state.SetDeleted(ctx, ev.Path); err != nil {
			return err
		}
		return e.state.Enqueue(ctx, ev.Path, localstate.OpDelete)
	}
	return nil
}

func (e *Engine) absPath(relPath string) string {
	return filepath.Join(e.cfg.SyncRoot, filepath.FromSlash(relPath))
}

// lookupServer resolves a path against the last listed server state,
// refreshing the index on a miss.
func (e *Engine) lookupServer(ctx context.Context, relPath string) (*sdk.FileRecord, error) {
	e.idxMu.RLock()
	rec, ok := e.serverIndex[relPath]
	e.idxMu.RUnlock()
	if ok {
		return rec, nil
	}

	records, err := e.sdk.Files.List(ctx)
	if err != nil {
		return nil, err
	}
	e.setServerIndex(records)

	e.idxMu.RLock()
	defer e.idxMu.RUnlock()
	return e.serverIndex[relPath], nil
}

func (e *Engine) setServerIndex(records []*sdk.FileRecord) {
	idx := make(map[string]*sdk.FileRecord, len(records))
	for _, r := range records {
		idx[r.FilePath] = r
	}
	e.idxMu.Lock()
	e.serverIndex = idx
	e.idxMu.Unlock()
}
