package policy

import (
	"os"
	"path/filepath"
	"strings"
)

// Engine classifies commands and path accesses for one project. It holds
// only resolved directory roots and is safe for concurrent use.
type Engine struct {
	projectRoot string
	home        string
	configDir   string
	trashDir    string
	dataDir     string
	// protected are level table files outside the two tool directories
	protected []string
}

type EngineOptions struct {
	ProjectRoot string
	Home        string
	// ConfigDir is the tool's own configuration directory (~/.agentguard),
	// always readable and never writable by the agent.
	ConfigDir string
	// DataDir is the project-local artifact directory (.agentguard).
	DataDir string
	// TrashDir receives soft-deleted files for the current session.
	TrashDir string
	// Protected lists further files the agent may not modify, such as an
	// explicit level table path.
	Protected []string
}

// SystemExecDirs stay readable at every level.
var SystemExecDirs = []string{"/usr/bin", "/bin", "/usr/local/bin", "/opt/homebrew/bin", "/sbin", "/usr/sbin"}

// SystemRoots need allowSystemPaths.
var SystemRoots = []string{"/etc", "/var", "/tmp", "/private/etc", "/private/var", "/private/tmp"}

// DeviceRoots need allowDevices.
var DeviceRoots = []string{"/dev"}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		projectRoot: resolveRoot(opts.ProjectRoot),
		home:        resolveRoot(opts.Home),
		configDir:   resolveRoot(opts.ConfigDir),
		dataDir:     resolveRoot(opts.DataDir),
		trashDir:    resolveRoot(opts.TrashDir),
	}
	for _, p := range opts.Protected {
		if r := resolveRoot(p); r != "" {
			e.protected = append(e.protected, r)
		}
	}
	if e.projectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			e.projectRoot = resolveRoot(wd)
		}
	}
	return e
}

func (e *Engine) ProjectRoot() string { return e.projectRoot }
func (e *Engine) Home() string        { return e.home }
func (e *Engine) TrashDir() string    { return e.trashDir }

// SelfProtected reports whether abs belongs to agentguard's own state: the
// project data directory (level marker, tables, backups, trash), the
// configuration directory or a protected table file.
func (e *Engine) SelfProtected(abs string) bool {
	if within(abs, e.dataDir) || within(abs, e.configDir) {
		return true
	}
	for _, p := range e.protected {
		if abs == p {
			return true
		}
	}
	return false
}

// Resolve makes p absolute against the project root, cleans it and follows
// symlinks as far as the path exists.
func (e *Engine) Resolve(p string) string {
	if p == "" {
		return e.projectRoot
	}
	if rest, ok := strings.CutPrefix(p, "$HOME"); ok && (rest == "" || rest[0] == '/') {
		p = "~" + rest
	}
	if e.home != "" {
		switch {
		case p == "~":
			p = e.home
		case strings.HasPrefix(p, "~/"):
			p = filepath.Join(e.home, p[2:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.projectRoot, p)
	}
	return evalExisting(filepath.Clean(p))
}

func resolveRoot(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return evalExisting(abs)
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// re-appends the missing tail.
func evalExisting(p string) string {
	var tail []string
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// within reports whether p is root or below it, comparing whole path
// components.
func within(p, root string) bool {
	if root == "" {
		return false
	}
	if p == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(p, root)
}

func withinAny(p string, roots []string) bool {
	for _, r := range roots {
		if within(p, r) {
			return true
		}
	}
	return false
}
