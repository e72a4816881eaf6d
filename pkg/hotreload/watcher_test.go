package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, rec *recorder) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherConfig{Debounce: 20 * time.Millisecond, OnChange: rec.record})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestNewWatcher_RequiresCallback(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{})
	assert.Error(t, err)
}

func TestWatcher_WatchBeforeStart(t *testing.T) {
	w, err := NewWatcher(WatcherConfig{OnChange: func(string) {}})
	require.NoError(t, err)
	assert.Error(t, w.Watch(t.TempDir()))
}

func TestWatcher_StartTwice(t *testing.T) {
	w := startWatcher(t, &recorder{})
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_ReportsTableChanges(t *testing.T) {
	rec := &recorder{}
	w := startWatcher(t, rec)
	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))
	require.NoError(t, w.Watch(dir))
	assert.Equal(t, 1, w.Stats().Dirs)

	table := filepath.Join(dir, "levels.json")
	require.NoError(t, os.WriteFile(table, []byte(`{}`), 0o644))

	assert.Eventually(t, func() bool {
		for _, p := range rec.seen() {
			if p == table {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, w.Stats().Changes, int64(1))
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	rec := &recorder{}
	w := startWatcher(t, rec)
	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "level"), []byte("sandbox"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.seen())
}

func TestWatcher_MissingDir(t *testing.T) {
	w := startWatcher(t, &recorder{})
	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "missing")))
}

func TestIsTableFile(t *testing.T) {
	assert.True(t, isTableFile("/x/levels.json"))
	assert.True(t, isTableFile("/x/levels.yaml"))
	assert.True(t, isTableFile("/x/levels.yml"))
	assert.False(t, isTableFile("/x/level"))
	assert.False(t, isTableFile("/x/state.db"))
}
