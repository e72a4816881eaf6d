package policy

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPathAccess_ProjectAlwaysAllowed(t *testing.T) {
	e := newTestEngine(t)
	for _, name := range AllLevels {
		l := Builtin().Levels[name]
		d := e.ClassifyPathAccess("src/main.go", l, Write)
		assert.True(t, d.Allowed, "%s: %s", name, d.Reason)
		assert.Equal(t, filepath.Join(e.ProjectRoot(), "src", "main.go"), d.Resolved)
	}
}

func TestClassifyPathAccess_Boundaries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	e := newTestEngine(t)
	tbl := Builtin()
	homeFile := filepath.Join(e.Home(), "notes.txt")

	tests := []struct {
		name    string
		level   LevelName
		path    string
		op      Operation
		allowed bool
	}{
		{"jailed home", Jailed, homeFile, Read, false},
		{"jailed system exec", Jailed, "/usr/bin/env", Read, true},
		{"jailed system exec write", Jailed, "/usr/bin/env", Write, false},
		{"asuser system exec write", AsUser, "/usr/bin/env", Write, false},
		{"playground home read", Playground, homeFile, Read, true},
		{"playground home write", Playground, homeFile, Write, true},
		{"playground etc", Playground, "/etc/hosts", Read, false},
		{"playground dev", Playground, "/dev/sda", Read, false},
		{"playground opt write", Playground, "/opt/thing", Write, false},
		{"playground opt read", Playground, "/opt/thing", Read, true},
		{"asuser etc read", AsUser, "/etc/hosts", Read, true},
		{"asuser etc write", AsUser, "/etc/hosts", Write, false},
		{"asuser dev", AsUser, "/dev/null", Read, false},
		{"asuserremote dev", AsUserRemote, "/dev/null", Read, true},
		{"asroot etc write", AsRoot, "/etc/hosts", Write, true},
		{"backstage etc", BackstagePass, "/etc/hosts", Read, true},
		{"allaccess anything", AllAccessPass, "/srv/data", Write, true},
		{"config dir read", Jailed, filepath.Join(e.Home(), ".agentguard", "levels.json"), Read, true},
		{"config dir write", Jailed, filepath.Join(e.Home(), ".agentguard", "levels.json"), Write, false},
		{"level marker write", Jailed, ".agentguard/level", Write, false},
		{"backup metadata write", AllAccessPass, ".agentguard/sessions/x/metadata.json", Write, false},
		{"level marker read", Jailed, ".agentguard/level", Read, true},
		{"deity writes own state", InsertDeityHere, ".agentguard/level", Write, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.ClassifyPathAccess(tt.path, tbl.Levels[tt.level], tt.op)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestClassifyPathAccess_ProtectedTable(t *testing.T) {
	e := newTestEngine(t)
	table := filepath.Join(e.Home(), "tables", "levels.yaml")
	e2 := NewEngine(EngineOptions{
		ProjectRoot: e.ProjectRoot(),
		Home:        e.Home(),
		Protected:   []string{table},
	})
	asroot := Builtin().Levels[AsRoot]
	assert.False(t, e2.ClassifyPathAccess(table, asroot, Write).Allowed)
	assert.True(t, e2.ClassifyPathAccess(filepath.Join(e.Home(), "tables", "other.yaml"), asroot, Write).Allowed)
}

func TestWithin_ComponentAware(t *testing.T) {
	root := filepath.FromSlash("/home/al")
	assert.True(t, within(root, root))
	assert.True(t, within(filepath.Join(root, "x"), root))
	assert.False(t, within(filepath.FromSlash("/home/alice"), root))
	assert.False(t, within(filepath.FromSlash("/home/alice/x"), root))
	assert.False(t, within(root, ""))
}

func TestClassifyPathAccess_DotDotEscape(t *testing.T) {
	e := newTestEngine(t)
	d := e.ClassifyPathAccess("../home/notes.txt", Builtin().Levels[Jailed], Read)
	assert.False(t, d.Allowed)
	assert.Equal(t, filepath.Join(e.Home(), "notes.txt"), d.Resolved)
}

func TestClassifyPathAccess_SymlinkResolved(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	e := newTestEngine(t)
	secret := filepath.Join(e.Home(), "secret")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(e.ProjectRoot(), "link")))

	d := e.ClassifyPathAccess("link", Builtin().Levels[Sandbox], Read)
	assert.False(t, d.Allowed)
	assert.Equal(t, secret, d.Resolved)
}

func TestClassifyPathAccess_NilLevel(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.ClassifyPathAccess("x", nil, Read).Allowed)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "read", Read.String())
	assert.Equal(t, "write", Write.String())
}
