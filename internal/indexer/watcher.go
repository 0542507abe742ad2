package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codeindex/internal/telemetry"
)

// DefaultBatchWindow is how long file events are collected before a batch
// is processed
const DefaultBatchWindow = 500 * time.Millisecond

// ErrWatcherRunning is returned by Start on a running watcher
var ErrWatcherRunning = errors.New("watcher already running")

// BatchResult reports one processed batch of file events
type BatchResult struct {
	Updated []string
	Removed []string
	Stats   *ScanStats
	Err     error
}

// Watcher re-indexes files as they change on disk
type Watcher struct {
	scanner *Scanner
	window  time.Duration
	onBatch func(BatchResult)
	sink    telemetry.Sink
	logger  *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]bool // path -> removed
	timer   *time.Timer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithBatchWindow sets the event collection window
func WithBatchWindow(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithBatchHandler is called after each processed batch
func WithBatchHandler(fn func(BatchResult)) WatcherOption {
	return func(w *Watcher) { w.onBatch = fn }
}

// WithWatcherTelemetry sets the telemetry sink
func WithWatcherTelemetry(sink telemetry.Sink) WatcherOption {
	return func(w *Watcher) {
		if sink != nil {
			w.sink = sink
		}
	}
}

// WithWatcherLogger sets the logger
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher feeding scanner
func NewWatcher(scanner *Scanner, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		scanner: scanner,
		window:  DefaultBatchWindow,
		sink:    telemetry.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "watcher"))
	return w
}

// Start begins watching the workspace recursively. Events are processed
// until Stop is called or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return ErrWatcherRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.addTree(fsw, w.scanner.Root()); err != nil {
		_ = fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.pending = make(map[string]bool)

	w.wg.Add(1)
	go w.loop(ctx, fsw)
	w.logger.Info("watching workspace", slog.String("root", w.scanner.Root()))
	return nil
}

// Stop ends watching and drops events not yet processed
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw, cancel := w.fsw, w.cancel
	w.fsw, w.cancel = nil, nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	cancel()
	_ = fsw.Close()
	w.wg.Wait()
}

// Running reports whether the watcher is active
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fsw != nil
}

// addTree watches dir and every non-ignored directory below it
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	root := w.scanner.Root()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil && rel != "." {
			rel = filepath.ToSlash(rel)
			if strings.HasPrefix(d.Name(), ".") || w.scanner.Ignored(rel, true) {
				return filepath.SkipDir
			}
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", slog.String("dir", path), slog.Any("error", err))
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
			w.sink.Capture(ctx, telemetry.NewError("indexer.watcher", err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	root := w.scanner.Root()
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.scanner.Ignored(rel, true) {
				_ = w.addTree(fsw, ev.Name)
			}
			return
		}
	}

	removed := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	if !removed && (!IsSupported(rel) || w.scanner.Ignored(rel, false)) {
		return
	}
	w.schedule(ctx, rel, removed)
}

// schedule records a change and restarts the batch window
func (w *Watcher) schedule(ctx context.Context, rel string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return
	}
	w.pending[rel] = removed
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, func() { w.processPending(ctx) })
}

func (w *Watcher) processPending(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	if len(pending) == 0 || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.pending = make(map[string]bool)
	w.timer = nil
	// Added under the lock so Stop waits for this batch
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	var res BatchResult
	for rel, removed := range pending {
		if removed {
			res.Removed = append(res.Removed, rel)
		} else {
			res.Updated = append(res.Updated, rel)
		}
	}
	sort.Strings(res.Updated)
	sort.Strings(res.Removed)

	// IndexFiles also drops paths that vanished after a write event, and
	// re-adds removed paths that reappeared through a rename
	res.Stats, res.Err = w.scanner.IndexFiles(ctx, append(append([]string(nil), res.Updated...), res.Removed...))
	if res.Err != nil {
		w.logger.Error("failed to process file changes", slog.Any("error", res.Err))
		w.sink.Capture(ctx, telemetry.NewError("indexer.watcher.batch", res.Err))
	} else {
		w.logger.Debug("processed file changes",
			slog.Int("updated", len(res.Updated)),
			slog.Int("removed", len(res.Removed)),
		)
	}
	if w.onBatch != nil {
		w.onBatch(res)
	}
}
