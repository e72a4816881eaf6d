package server

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/agentsh/agentguard/internal/policy"
	"github.com/agentsh/agentguard/pkg/hotreload"
)

// TableCache keeps parsed level tables per project data directory. A table
// is cached only once every directory it could be loaded from is watched,
// so any edit to a candidate file drops it.
type TableCache struct {
	explicit  string
	configDir string
	watcher   *hotreload.Watcher
	log       *slog.Logger

	mu      sync.Mutex
	entries map[string]*policy.Table
	// gen counts invalidations; a load that raced one is not cached.
	gen uint64

	// afterLoad runs between loading and caching, in tests only.
	afterLoad func()
}

func NewTableCache(explicit, configDir string, w *hotreload.Watcher, log *slog.Logger) *TableCache {
	if log == nil {
		log = slog.Default()
	}
	return &TableCache{
		explicit:  explicit,
		configDir: configDir,
		watcher:   w,
		log:       log,
		entries:   make(map[string]*policy.Table),
	}
}

// Table implements mediator.TableProvider. Load errors are never cached.
func (c *TableCache) Table(dataDir string) (*policy.Table, error) {
	c.mu.Lock()
	t, ok := c.entries[dataDir]
	gen := c.gen
	c.mu.Unlock()
	if ok {
		return t, nil
	}

	// watch first, so an edit made while loading still invalidates
	candidates := policy.Candidates(c.explicit, dataDir, c.configDir)
	watched := c.watchAll(candidates)
	t, path, err := policy.LoadTable(candidates)
	if err != nil {
		return nil, err
	}
	if c.afterLoad != nil {
		c.afterLoad()
	}
	if !watched {
		return t, nil
	}
	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.entries[dataDir] = t
	}
	c.mu.Unlock()
	if stale {
		c.log.Debug("level table changed while loading, not cached", "data_dir", dataDir)
	} else {
		c.log.Debug("level table cached", "data_dir", dataDir, "path", path)
	}
	return t, nil
}

func (c *TableCache) watchAll(candidates []string) bool {
	if c.watcher == nil {
		return false
	}
	for _, p := range candidates {
		if err := c.watcher.Watch(filepath.Dir(p)); err != nil {
			return false
		}
	}
	return true
}

// Invalidate drops every cached table. It is the watcher's change callback.
func (c *TableCache) Invalidate(path string) {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*policy.Table)
	c.gen++
	c.mu.Unlock()
	c.log.Info("level table changed", "path", path, "dropped", n)
}

// Len reports how many tables are cached.
func (c *TableCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
