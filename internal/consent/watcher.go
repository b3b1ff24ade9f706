package consent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadSettle = 100 * time.Millisecond

// Watcher reloads persistent rules into an engine when the rules file is
// edited outside the process.
type Watcher struct {
	engine   *Engine
	store    *Store
	onReload func(count int)
}

func NewWatcher(engine *Engine, store *Store) *Watcher {
	return &Watcher{engine: engine, store: store}
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(count int)) {
	w.onReload = fn
}

// Run watches until ctx is done. The directory is watched rather than the
// file because atomic saves replace the file.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.store.Path())
	if err := os.MkdirAll(dir, rulesDirMode); err != nil {
		return fmt.Errorf("create consent rules dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			time.Sleep(reloadSettle)
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("consent rules watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	rules, err := w.store.Load()
	if err != nil {
		slog.Warn("reload consent rules failed", "path", w.store.Path(), "error", err)
		return
	}
	w.engine.ReplacePersistent(rules)
	slog.Info("consent rules reloaded", "path", w.store.Path(), "rules", len(rules))
	if w.onReload != nil {
		w.onReload(len(rules))
	}
}
