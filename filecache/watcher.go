package filecache

import (
	"context"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 300 * time.Millisecond

// Watcher monitors the directories of cached paths and publishes an
// EventChanged with the path's scenario whenever a cached file changes on
// disk, whether through this cache or another process.
type Watcher struct {
	fc      *FileCache
	events  *EventBus
	watcher *fsnotify.Watcher

	mu   gosync.Mutex
	dirs map[string]struct{}
}

// NewWatcher creates a filesystem watcher bound to the cache's snapshots.
func NewWatcher(fc *FileCache, events *EventBus) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fc:      fc,
		events:  events,
		watcher: w,
		dirs:    make(map[string]struct{}),
	}, nil
}

// Watch adds the directory containing path, once.
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = struct{}{}
	sub("watcher").Debug("watching", "dir", dir)
	return nil
}

// Start watches every cached path and follows newly cached ones, debouncing
// change notifications. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := sub("watcher")

	// Register before listing so a path cached in between is not missed.
	remove := w.fc.OnCached(func(path string) {
		if err := w.Watch(path); err != nil {
			l.Warn("watch failed", "path", path, "err", err)
		}
	})
	defer remove()
	for _, p := range w.fc.Paths() {
		if err := w.Watch(p); err != nil {
			l.Warn("watch failed", "path", p, "err", err)
		}
	}

	l.Info("watcher started", "dirs", w.dirCount())

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if isInternalName(filepath.Base(name)) || !w.fc.Contains(name) {
				continue
			}
			pending[name] = struct{}{}
			timer.Reset(debounceInterval)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watcher error", "err", err)

		case <-timer.C:
			for p := range pending {
				w.flush(p)
			}
			pending = make(map[string]struct{})
		}
	}
}

func (w *Watcher) flush(path string) {
	st, err := w.fc.Status(path)
	if err != nil {
		sub("watcher").Warn("status after change failed", "path", path, "err", err)
		return
	}
	sub("watcher").Debug("changed", "path", path, "scenario", st.Scenario())
	w.events.Publish(Event{Type: EventChanged, Path: path, Time: nowFunc(), Detail: string(st.Scenario())})
}

func (w *Watcher) dirCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
