package prompts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback is called after override templates change and the cache was cleared
type ReloadCallback func(changedFiles []string)

// Watcher clears a Loader's cache when override templates are edited, so a
// long-running evaluation picks up prompt tweaks without a restart.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	callback ReloadCallback
	debounce time.Duration

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewWatcher watches every existing override directory of loader (and their subdirectories)
func NewWatcher(loader *Loader, callback ReloadCallback) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader:   loader,
		watcher:  fw,
		callback: callback,
		debounce: 300 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}

	for _, dir := range loader.OverrideDirs() {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				return fw.Add(path)
			}
			return nil
		})
		if err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// WatchList returns the directories currently watched
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

// Start begins watching for template edits
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("prompt watcher error", "error", err)
			}
		}
	}()
}

// Stop stops watching
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

// SetDebounce sets the debounce duration for batching file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	w.loader.ClearCache()

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	slog.Info("prompt templates changed, cache cleared", "files", len(files))
	if w.callback != nil {
		w.callback(files)
	}
}
