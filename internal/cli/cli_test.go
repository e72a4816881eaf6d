package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/agentguard/internal/mediator"
	"github.com/agentsh/agentguard/internal/policy"
	"github.com/agentsh/agentguard/pkg/types"
)

type cliFixture struct {
	project string
	home    string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	root := t.TempDir()
	f := &cliFixture{project: filepath.Join(root, "project"), home: filepath.Join(root, "home")}
	require.NoError(t, os.MkdirAll(f.project, 0o755))
	require.NoError(t, os.MkdirAll(f.home, 0o755))
	t.Setenv("HOME", f.home)
	for _, k := range []string{
		"AGENTGUARD_CONFIG", "AGENTGUARD_LOG_LEVEL", "AGENTGUARD_STATE_BACKEND", "AGENTGUARD_SOCKET",
		"AGENTGUARD_DATA_DIR", "AGENTGUARD_SESSION_ID", policy.EnvLevel, policy.EnvLevels,
	} {
		t.Setenv(k, "")
	}
	return f
}

func (f *cliFixture) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRoot("test")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--project", f.project, "--session", "s1"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (f *cliFixture) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, stderr, err := f.run(t, stdin, args...)
	require.NoError(t, err, "stderr: %s", stderr)
	return out
}

func (f *cliFixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(f.project, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func hookPayload(t *testing.T, f *cliFixture, tool, id string, input any) string {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	b, err := json.Marshal(map[string]any{
		"session_id":      "s1",
		"tool_name":       tool,
		"tool_input":      json.RawMessage(raw),
		"tool_use_id":     id,
		"cwd":             f.project,
		"hook_event_name": types.EventPreToolUse,
	})
	require.NoError(t, err)
	return string(b)
}

func TestLevel_SetShowList(t *testing.T) {
	f := newCLIFixture(t)

	out := f.mustRun(t, "", "level", "show")
	assert.Contains(t, out, string(policy.Playground))

	out = f.mustRun(t, "", "level", "set", "jailed")
	assert.Contains(t, out, "level set to jailed")
	b, err := os.ReadFile(filepath.Join(f.project, mediator.DataDirName, policy.LevelMarkerName))
	require.NoError(t, err)
	assert.Equal(t, "jailed", strings.TrimSpace(string(b)))

	out = f.mustRun(t, "", "level", "show", "--json")
	var l policy.Level
	require.NoError(t, json.Unmarshal([]byte(out), &l))
	assert.Equal(t, policy.Jailed, l.Name)

	out = f.mustRun(t, "", "level", "list")
	assert.Contains(t, out, "jailed")
	assert.Contains(t, out, "playground")
	assert.Contains(t, out, "*")

	_, _, err = f.run(t, "", "level", "set", "godmode")
	assert.Error(t, err)
}

func TestHook_DeniesBlockedCommand(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(t, "", "level", "set", "jailed")

	out := f.mustRun(t, hookPayload(t, f, types.ToolBash, "t1", map[string]string{"command": "curl example.com"}), "hook")
	var ho types.HookOutput
	require.NoError(t, json.Unmarshal([]byte(out), &ho))
	require.NotNil(t, ho.HookSpecificOutput)
	assert.Equal(t, types.DecisionDeny, ho.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, ho.HookSpecificOutput.PermissionDecisionReason, "jailed")
}

func TestHook_PassThroughWritesNothing(t *testing.T) {
	f := newCLIFixture(t)
	out := f.mustRun(t, hookPayload(t, f, "TodoWrite", "t1", map[string]any{}), "hook", "--phase", "pre")
	assert.Empty(t, out)
}

func TestHook_MalformedInputDenied(t *testing.T) {
	f := newCLIFixture(t)
	out := f.mustRun(t, "{not json", "hook")
	var ho types.HookOutput
	require.NoError(t, json.Unmarshal([]byte(out), &ho))
	assert.Equal(t, types.DecisionDeny, ho.HookSpecificOutput.PermissionDecision)
}

func TestHook_BadConfigFailsClosed(t *testing.T) {
	f := newCLIFixture(t)
	cfg := filepath.Join(f.home, "bad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("state: {backend: etcd}\n"), 0o600))

	out := f.mustRun(t, hookPayload(t, f, types.ToolBash, "t1", map[string]string{"command": "ls"}), "--config", cfg, "hook")
	var ho types.HookOutput
	require.NoError(t, json.Unmarshal([]byte(out), &ho))
	assert.Equal(t, types.DecisionDeny, ho.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, ho.HookSpecificOutput.PermissionDecisionReason, "Configuration could not be loaded")

	out = f.mustRun(t, `{"hook_event_name":"PostToolUse"}`, "--config", cfg, "hook")
	assert.Empty(t, out)
}

func TestHook_BadPhaseIsUsageError(t *testing.T) {
	f := newCLIFixture(t)
	_, _, err := f.run(t, "{}", "hook", "--phase", "later")
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitUsage, ee.Code())
}

func TestHook_DaemonFallsBackInProcess(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(t, "", "level", "set", "jailed")
	t.Setenv("AGENTGUARD_SOCKET", filepath.Join(f.home, "missing.sock"))

	out := f.mustRun(t, hookPayload(t, f, types.ToolBash, "t1", map[string]string{"command": "curl example.com"}), "hook", "--daemon")
	var ho types.HookOutput
	require.NoError(t, json.Unmarshal([]byte(out), &ho))
	assert.Equal(t, types.DecisionDeny, ho.HookSpecificOutput.PermissionDecision)
}

func TestPending_ListAndPrune(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(t, "", "level", "set", "jailed")
	assert.Empty(t, f.mustRun(t, hookPayload(t, f, types.ToolBash, "t1", map[string]string{"command": "ls -la"}), "hook"))

	out := f.mustRun(t, "", "pending", "list", "--json")
	var ops []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "t1", ops[0]["id"])

	out = f.mustRun(t, "", "pending", "prune", "--older-than", "0s")
	assert.Contains(t, out, "pruned 1")
	assert.Contains(t, f.mustRun(t, "", "pending", "list"), "no pending operations")
}

func TestMap_PathRoundTrip(t *testing.T) {
	f := newCLIFixture(t)
	p := filepath.Join(f.home, "notes", "todo.txt")

	virtual := strings.TrimSpace(f.mustRun(t, "", "map", "sanitize-path", p))
	assert.NotEqual(t, p, virtual)
	assert.NotContains(t, virtual, f.home)

	back := strings.TrimSpace(f.mustRun(t, "", "map", "unsanitize-path", virtual))
	assert.Equal(t, p, back)

	out := f.mustRun(t, "", "map", "unsanitize", "cat", virtual)
	assert.Equal(t, "cat "+p+"\n", out)
}

func TestBackup_CreateListRestore(t *testing.T) {
	f := newCLIFixture(t)
	p := f.write(t, "src/main.go", "package main\n")

	out := f.mustRun(t, "", "backup", "create", "src/main.go")
	require.Contains(t, out, "Backup created: ")
	backupPath := strings.TrimSpace(strings.TrimPrefix(out, "Backup created: "))

	out = f.mustRun(t, "", "backup", "list", "--json", p)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, p, recs[0]["originalPath"])

	require.NoError(t, os.WriteFile(p, []byte("broken"), 0o644))
	f.mustRun(t, "", "backup", "restore", backupPath)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(b))

	out = f.mustRun(t, "", "backup", "summary")
	assert.Contains(t, out, `"sessionId": "s1"`)
}

func TestTrash_DeleteListRestore(t *testing.T) {
	f := newCLIFixture(t)
	p := f.write(t, "old.txt", "bye")

	out := f.mustRun(t, "", "trash", "delete", "old.txt")
	assert.Contains(t, out, "agentguard trash restore")
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	out = f.mustRun(t, "", "trash", "list", "--json")
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	trashPath := recs[0]["trashPath"].(string)

	f.mustRun(t, "", "trash", "restore", trashPath)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(b))
	assert.Contains(t, f.mustRun(t, "", "trash", "list"), "trash empty")
}

func TestTrash_PurgeRejectsBadTTL(t *testing.T) {
	f := newCLIFixture(t)
	_, _, err := f.run(t, "", "trash", "purge", "--ttl", "soon")
	assert.Error(t, err)
	assert.Contains(t, f.mustRun(t, "", "trash", "purge", "--ttl", "30d"), "purged 0")
}

func TestDiff_RecordsChange(t *testing.T) {
	f := newCLIFixture(t)
	oldPath := filepath.Join(f.home, "old")
	newPath := filepath.Join(f.home, "new")
	require.NoError(t, os.WriteFile(oldPath, []byte("a\nb\n"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("a\nc\n"), 0o644))

	out := f.mustRun(t, "", "diff", "file.txt", oldPath, newPath)
	assert.Contains(t, out, "Diff recorded (+1 -1)")

	out = f.mustRun(t, "", "diff", "file.txt", oldPath, oldPath)
	assert.Contains(t, out, "no changes")
}

func TestGitVerify_OutsideRepoExits2(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	f := newCLIFixture(t)
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(f.project))
	_, _, err := f.run(t, "", "git", "verify")
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitCheckFailed, ee.Code())
}

func TestHookPhase(t *testing.T) {
	p, err := hookPhase("post", nil)
	require.NoError(t, err)
	assert.Equal(t, mediator.PhasePost, p)

	p, err = hookPhase("", []byte(`{"hook_event_name":"PostToolUse"}`))
	require.NoError(t, err)
	assert.Equal(t, mediator.PhasePost, p)

	p, err = hookPhase("", []byte(`{"hook_event_name":"Notification"}`))
	require.NoError(t, err)
	assert.Equal(t, mediator.PhasePre, p)

	_, err = hookPhase("later", nil)
	assert.Error(t, err)
}
