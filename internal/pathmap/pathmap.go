// Package pathmap translates between real filesystem paths and the virtual
// handles shown to the agent: $PROJECT/<rel>, /home/user/<rel> and
// [EXT:<hash>]/<basename>.
//
// Mappings are created on first use and persisted in the session store, so
// every invocation of a session resolves a handle to the same real path.
package pathmap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/agentsh/agentguard/internal/store"
	"github.com/agentsh/agentguard/internal/store/memory"
)

const (
	ProjectToken = "$PROJECT"
	HomeToken    = "/home/user"
	extPrefix    = "[EXT:"

	// MappingsKey is the store key holding the session's mappings.
	MappingsKey = "mappings"
)

// Mode mirrors the level's sanitization.paths setting.
type Mode string

const (
	ModeNone       Mode = "none"
	ModeLight      Mode = "light"
	ModeModerate   Mode = "moderate"
	ModeAggressive Mode = "aggressive"
)

func (m Mode) hashesExternal() bool { return m == ModeModerate || m == ModeAggressive }

// VisibleDirs are never virtualized.
var VisibleDirs = []string{"/usr/bin", "/bin", "/usr/local/bin", "/opt/homebrew/bin", "/sbin", "/usr/sbin"}

// Mappings is the persisted bijection.
type Mappings struct {
	PathToSafe map[string]string `json:"pathToSafe"`
	SafeToPath map[string]string `json:"safeToPath"`
}

type Options struct {
	ProjectRoot string
	Home        string
	// Username is masked in free text when MaskUsername is set. Defaults to
	// $USER or $USERNAME.
	Username     string
	Mode         Mode
	MaskUsername bool
	Store        store.Store
}

type Mapper struct {
	projectRoot string
	home        string
	username    string
	mode        Mode
	maskUser    bool
	st          store.Store
}

func New(opts Options) *Mapper {
	m := &Mapper{
		projectRoot: cleanAbs(opts.ProjectRoot),
		home:        cleanAbs(opts.Home),
		username:    opts.Username,
		mode:        opts.Mode,
		maskUser:    opts.MaskUsername,
		st:          opts.Store,
	}
	if m.username == "" {
		m.username = os.Getenv("USER")
	}
	if m.username == "" {
		m.username = os.Getenv("USERNAME")
	}
	if m.mode == "" {
		m.mode = ModeLight
	}
	if m.st == nil {
		m.st = memory.New()
	}
	return m
}

func (m *Mapper) Mode() Mode { return m.mode }

// Sanitize returns the virtual form of p. Paths inside the project become
// $PROJECT handles, home paths become /home/user handles, system binary
// directories stay visible and anything else is hashed into an [EXT:]
// handle when the mode hides externals.
func (m *Mapper) Sanitize(ctx context.Context, p string) (string, error) {
	if p == "" || m.mode == ModeNone {
		return p, nil
	}
	abs := m.absolute(p)

	cur, err := m.load(ctx)
	if err != nil {
		return p, err
	}
	if v, ok := cur.PathToSafe[abs]; ok {
		return v, nil
	}

	switch {
	case within(abs, m.projectRoot):
		rel, _ := filepath.Rel(m.projectRoot, abs)
		if rel == "." {
			return m.remember(ctx, abs, ProjectToken)
		}
		return m.remember(ctx, abs, ProjectToken+"/"+filepath.ToSlash(rel))
	case withinAny(abs, VisibleDirs):
		return abs, nil
	case within(abs, m.home):
		rel, _ := filepath.Rel(m.home, abs)
		if rel == "." {
			return m.remember(ctx, abs, HomeToken)
		}
		return m.remember(ctx, abs, HomeToken+"/"+filepath.ToSlash(rel))
	case m.mode.hashesExternal():
		return m.remember(ctx, abs, "")
	default:
		return abs, nil
	}
}

// Unsanitize maps a virtual handle back to its real path. Unknown [EXT:]
// handles and plain paths are returned unchanged.
func (m *Mapper) Unsanitize(ctx context.Context, v string) (string, error) {
	if v == "" {
		return v, nil
	}
	cur, err := m.load(ctx)
	if err != nil {
		return v, err
	}
	if p, ok := cur.SafeToPath[v]; ok {
		return p, nil
	}

	switch {
	case v == ProjectToken:
		return m.projectRoot, nil
	case strings.HasPrefix(v, ProjectToken+"/"):
		return filepath.Join(m.projectRoot, filepath.FromSlash(strings.TrimPrefix(v, ProjectToken+"/"))), nil
	case v == HomeToken && m.home != "":
		return m.home, nil
	case strings.HasPrefix(v, HomeToken+"/") && m.home != "":
		return filepath.Join(m.home, filepath.FromSlash(strings.TrimPrefix(v, HomeToken+"/"))), nil
	case strings.HasPrefix(v, extPrefix):
		// a path below a mapped external handle
		parts := strings.SplitN(v, "/", 3)
		if len(parts) == 3 {
			if base, ok := cur.SafeToPath[parts[0]+"/"+parts[1]]; ok {
				return filepath.Join(base, filepath.FromSlash(parts[2])), nil
			}
		}
	}
	return v, nil
}

// Mappings returns a snapshot of the persisted mappings.
func (m *Mapper) Mappings(ctx context.Context) (*Mappings, error) {
	return m.load(ctx)
}

// remember persists abs -> virtual. An empty virtual asks for an [EXT:]
// handle, salted until it does not collide with another real path.
func (m *Mapper) remember(ctx context.Context, abs, virtual string) (string, error) {
	var result string
	fn := func(old []byte) ([]byte, error) {
		cur, err := decode(old)
		if err != nil {
			return nil, err
		}
		if v, ok := cur.PathToSafe[abs]; ok {
			result = v
			return nil, nil
		}
		v := virtual
		if v == "" {
			v = extHandle(abs, cur.SafeToPath)
		}
		if other, ok := cur.SafeToPath[v]; ok && other != abs {
			// structural handles are derived from the path, so a clash
			// means the stored mapping is stale; the real path wins
			delete(cur.PathToSafe, other)
		}
		cur.PathToSafe[abs] = v
		cur.SafeToPath[v] = abs
		result = v
		return json.Marshal(cur)
	}

	if _, err := store.Update(ctx, m.st, MappingsKey, fn); err != nil {
		return abs, fmt.Errorf("persist mapping: %w", err)
	}
	return result, nil
}

func (m *Mapper) load(ctx context.Context) (*Mappings, error) {
	it, err := m.st.Get(ctx, MappingsKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	return decode(it.Value)
}

func decode(b []byte) (*Mappings, error) {
	cur := &Mappings{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, cur); err != nil {
			return nil, fmt.Errorf("decode mappings: %w", err)
		}
	}
	if cur.PathToSafe == nil {
		cur.PathToSafe = map[string]string{}
	}
	if cur.SafeToPath == nil {
		cur.SafeToPath = map[string]string{}
	}
	return cur, nil
}

// extHandle derives "[EXT:<8 hex>]/<basename>" from the BLAKE3 hash of the
// path, adding a counter to the hash input until the handle is unused.
func extHandle(abs string, taken map[string]string) string {
	name := filepath.Base(abs)
	for i := 0; ; i++ {
		input := abs
		if i > 0 {
			input = abs + "\x00" + strconv.Itoa(i)
		}
		sum := blake3.Sum256([]byte(input))
		v := extPrefix + hex.EncodeToString(sum[:4]) + "]/" + name
		if other, ok := taken[v]; !ok || other == abs {
			return v
		}
	}
}

func (m *Mapper) absolute(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.projectRoot, p)
	}
	return filepath.Clean(p)
}

func cleanAbs(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

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
