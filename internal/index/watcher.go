package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/anvil/internal/chunks/lang"
	"github.com/haasonsaas/anvil/internal/observability"
)

// debounceWindow batches rapid editor save events per path.
const debounceWindow = 500 * time.Millisecond

// Watcher keeps the index current as files under the watched roots change.
// Events are debounced per path; writes re-ingest, removes drop the source.
type Watcher struct {
	idx    *Index
	logger *observability.Logger

	fw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher bound to the index. Call Watch to start it.
func NewWatcher(idx *Index, logger *observability.Logger) (*Watcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		idx:     idx,
		logger:  logger,
		fw:      fw,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Watch adds every directory under the roots and processes events until the
// context is cancelled. It blocks; run it in its own goroutine.
func (w *Watcher) Watch(ctx context.Context, roots ...string) error {
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	defer w.fw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watcher error", "error", err)
		}
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skippedDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fw.Add(p)
	})
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	path := event.Name

	// New directories join the watch set immediately.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !skippedDir(filepath.Base(path)) {
				_ = w.addTree(path)
			}
			return
		}
	}

	if !lang.Recognized(path) || sensitivePath(path) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.cancelPending(path)
		if err := w.idx.RemovePath(path); err != nil {
			w.logger.Warn(ctx, "watcher remove failed", "path", path, "error", err)
		}
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		w.scheduleIngest(ctx, path)
	}
}

// scheduleIngest (re)arms the per-path debounce timer.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(debounceWindow)
		return
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if _, _, err := w.idx.IngestPath(ctx, path); err != nil {
			w.logger.Warn(ctx, "watcher re-ingest failed", "path", path, "error", err)
		} else {
			w.logger.Debug(ctx, "re-ingested changed file", "path", path)
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
	}
}
