// Package hotreload reports debounced changes to level table files so that
// long-running processes can drop cached tables.
package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a growing set of directories for level table changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(path string)

	mu      sync.Mutex
	dirs    map[string]struct{}
	running atomic.Bool

	statsMu sync.RWMutex
	stats   WatcherStats
}

// WatcherStats tracks change notifications.
type WatcherStats struct {
	Changes    int64     `json:"changes"`
	Errors     int64     `json:"errors"`
	Dirs       int       `json:"dirs"`
	LastChange time.Time `json:"last_change,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type WatcherConfig struct {
	Debounce time.Duration // Debounce period for rapid changes
	OnChange func(path string)
}

func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	debounce := config.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		debounce: debounce,
		onChange: config.OnChange,
		dirs:     make(map[string]struct{}),
	}, nil
}

// Start begins delivering events. Directories are added with Watch.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.processEvents(ctx, fw)
	return nil
}

// Watch adds dir. Adding a directory twice is a no-op. It fails when the
// watcher is not running or dir does not exist.
func (w *Watcher) Watch(dir string) error {
	if !w.running.Load() {
		return fmt.Errorf("watcher not running")
	}
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.dirs[dir] = struct{}{}

	w.statsMu.Lock()
	w.stats.Dirs = len(w.dirs)
	w.statsMu.Unlock()
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher) {
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			// a removed or renamed table falls back to the next candidate
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 && isTableFile(event.Name) {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.statsMu.Lock()
			w.stats.Errors++
			w.stats.LastError = err.Error()
			w.statsMu.Unlock()

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				w.statsMu.Lock()
				w.stats.Changes++
				w.stats.LastChange = now
				w.statsMu.Unlock()
				w.onChange(path)
			}

		case <-ctx.Done():
			_ = w.Stop()
			return
		}
	}
}

func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirs = make(map[string]struct{})
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) Stats() WatcherStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

func isTableFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
