package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driftbox/driftbox/internal/utils"
)

const (
	watcherBufferSize     = 64
	watcherDebounce       = 50 * time.Millisecond
	watcherIgnoreTimeout  = time.Second
	watcherIgnoreGCPeriod = 15 * time.Second
)

var ErrWatchDirNotExist = errors.New("sync: watch directory does not exist")

// WatchEventType classifies a local filesystem change.
type WatchEventType string

const (
	WatchCreate WatchEventType = "CREATE"
	WatchModify WatchEventType = "MODIFY"
	WatchDelete WatchEventType = "DELETE"
)

// WatchEvent carries a change with its path relative to the sync root.
type WatchEvent struct {
	Type WatchEventType
	Path string
}

// Watcher wraps fsnotify with recursive registration, ignore filtering and
// per-path debouncing. Writes arrive from the kernel as bursts; the
// debounce window collapses each burst into one event.
type Watcher struct {
	rootDir string
	ignore  *IgnoreList
	watcher *fsnotify.Watcher
	events  chan WatchEvent

	done chan struct{}
	wg   sync.WaitGroup

	// suppress holds paths this client just wrote itself, so its own
	// downloads do not echo back as uploads
	suppressMu sync.Mutex
	suppress   map[string]time.Time

	debounceMu sync.Mutex
	pending    map[string]WatchEvent
	timers     map[string]*time.Timer
}

func NewWatcher(rootDir string, ignore *IgnoreList) (*Watcher, error) {
	if !utils.DirExists(rootDir) {
		return nil, ErrWatchDirNotExist
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		rootDir:  rootDir,
		ignore:   ignore,
		watcher:  fsw,
		events:   make(chan WatchEvent, watcherBufferSize),
		done:     make(chan struct{}),
		suppress: make(map[string]time.Time),
		pending:  make(map[string]WatchEvent),
		timers:   make(map[string]*time.Timer),
	}, nil
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", w.rootDir)

	if err := w.addRecursive(w.rootDir); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.run(ctx)
	go w.gcSuppressed(ctx)
	return nil
}

func (w *Watcher) Stop() {
	slog.Info("file watcher stop")
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// SuppressOnce marks a relative path so its next filesystem event is
// swallowed. The engine calls this before writing downloaded content.
func (w *Watcher) SuppressOnce(relPath string) {
	w.suppressMu.Lock()
	defer w.suppressMu.Unlock()
	w.suppress[relPath] = time.Now().Add(watcherIgnoreTimeout)
}

func (w *Watcher) isSuppressed(relPath string) bool {
	w.suppressMu.Lock()
	defer w.suppressMu.Unlock()

	expiry, ok := w.suppress[relPath]
	if !ok {
		return false
	}
	delete(w.suppress, relPath)
	return time.Now().Before(expiry)
}

func (w *Watcher) run(ctx context.Context) {
	// the events channel is never closed; a late debounce timer must not
	// race a close. Consumers exit on their own context.
	defer func() {
		w.flushPending()
		w.wg.Done()
		slog.Debug("file watcher run done")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleRaw(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleRaw(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) {
		return
	}

	relPath, err := filepath.Rel(w.rootDir, event.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	if w.ignore.ShouldIgnore(relPath) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			// new directories join the watch set; their contents arrive
			// as separate events
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("file watcher register dir", "dir", event.Name, "error", err)
			}
			return
		}
		w.debounce(WatchEvent{Type: WatchCreate, Path: relPath})

	case event.Has(fsnotify.Write):
		w.debounce(WatchEvent{Type: WatchModify, Path: relPath})

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// deletes go out immediately, the tombstone must land before any
		// reconcile pass observes the gap
		w.emit(WatchEvent{Type: WatchDelete, Path: relPath})
	}
}

func (w *Watcher) debounce(ev WatchEvent) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.timers[ev.Path]; ok {
		timer.Stop()
	}
	w.pending[ev.Path] = ev
	w.timers[ev.Path] = time.AfterFunc(watcherDebounce, func() {
		w.flushPath(ev.Path)
	})
}

func (w *Watcher) flushPath(path string) {
	w.debounceMu.Lock()
	ev, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.debounceMu.Unlock()

	if !ok {
		return
	}
	w.emit(ev)
}

func (w *Watcher) flushPending() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(ev WatchEvent) {
	if w.isSuppressed(ev.Path) {
		slog.Debug("file watcher suppressed", "path", ev.Path)
		return
	}

	select {
	case <-w.done:
	case w.events <- ev:
		slog.Debug("file watcher", "event", ev.Type, "path", ev.Path)
	default:
		slog.Warn("file watcher dropped, channel full", "path", ev.Path)
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(w.rootDir, path)
		if rerr == nil && rel != "." && w.ignore.ShouldIgnore(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) gcSuppressed(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(watcherIgnoreGCPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.suppressMu.Lock()
			now := time.Now()
			for path, expiry := range w.suppress {
				if now.After(expiry) {
					delete(w.suppress, path)
				}
			}
			w.suppressMu.Unlock()
		}
	}
}
