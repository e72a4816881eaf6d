package gitverify

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL="+os.DevNull,
		"GIT_CONFIG_NOSYSTEM=1",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// newRepo creates a repository on branch with one commit.
func newRepo(t *testing.T, branch string) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	git(t, dir, "init", "-q")
	git(t, dir, "config", "user.email", "dev@example.com")
	git(t, dir, "config", "user.name", "Dev")
	git(t, dir, "config", "commit.gpgsign", "false")
	git(t, dir, "symbolic-ref", "HEAD", "refs/heads/"+branch)
	commitFile(t, dir, "README.md", "hello\n")
	return dir
}

func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	git(t, dir, "add", name)
	git(t, dir, "commit", "-q", "-m", "update "+name)
}

func TestCheckBranch(t *testing.T) {
	tests := []struct {
		branch  string
		allowed bool
	}{
		{"feature/login", true},
		{"feature/a/b", true},
		{"fix/crash", true},
		{"develop", true},
		{"developer", false},
		{"main", false},
		{"master", false},
		{"production", false},
		{"release", false},
		{"hotfix/x", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			c := CheckBranch(tt.branch, DefaultAllowedBranches)
			assert.Equal(t, tt.allowed, c.Allowed, c.Reason)
			if !tt.allowed {
				assert.NotEmpty(t, c.Reason)
			}
		})
	}
}

func TestIsBranchAllowed_Main(t *testing.T) {
	dir := newRepo(t, "main")
	r := New(dir, 0)
	c, err := r.IsBranchAllowed(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, c.Allowed)
	assert.Equal(t, "main", c.Branch)
	assert.Contains(t, c.Reason, "main")
}

func TestIsBranchAllowed_Feature(t *testing.T) {
	dir := newRepo(t, "feature/x")
	c, err := New(dir, 0).IsBranchAllowed(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, c.Allowed)
}

func TestNotRepository(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	r := New(t.TempDir(), 0)
	assert.False(t, r.IsRepo(ctx))

	_, err := r.CurrentBranch(ctx)
	assert.True(t, errors.Is(err, ErrNotRepository))

	res, err := r.Verify(ctx, Requirements{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, errors.Is(res.Err(), ErrVerificationFailed))

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsRepo)
}

func TestVerify_CleanTree(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, "feature/x")
	r := New(dir, 0)

	res, err := r.Verify(ctx, Requirements{RequireCleanTree: true, AllowedBranches: DefaultAllowedBranches})
	require.NoError(t, err)
	assert.True(t, res.Passed, res.Errors)
	assert.NoError(t, res.Err())
	require.NotNil(t, res.Checks.CleanTree)
	assert.True(t, *res.Checks.CleanTree)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0o644))
	res, err = r.Verify(ctx, Requirements{RequireCleanTree: true})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Err().Error(), "Uncommitted changes")
}

func TestVerify_BranchRule(t *testing.T) {
	dir := newRepo(t, "master")
	res, err := New(dir, 0).Verify(context.Background(), Requirements{AllowedBranches: []string{"feature/*"}})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "master")
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, "feature/x")
	r := New(dir, 0)

	s, err := r.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, NoUpstream, s.Status)
	assert.True(t, s.Synced)

	remote := filepath.Join(t.TempDir(), "remote.git")
	git(t, dir, "init", "-q", "--bare", remote)
	git(t, dir, "remote", "add", "origin", remote)
	git(t, dir, "push", "-q", "-u", "origin", "feature/x")

	s, err = r.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, UpToDate, s.Status)

	commitFile(t, dir, "a.txt", "a")
	s, err = r.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Ahead, s.Status)
	assert.False(t, s.Synced)

	res, err := r.Verify(ctx, Requirements{RequireBranchSync: true})
	require.NoError(t, err)
	assert.True(t, res.Passed, "ahead passes unless blocked")
	res, err = r.Verify(ctx, Requirements{RequireBranchSync: true, BlockAhead: true})
	require.NoError(t, err)
	assert.False(t, res.Passed)

	git(t, dir, "push", "-q")
	git(t, dir, "reset", "-q", "--hard", "HEAD~1")
	s, err = r.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Behind, s.Status)
	res, err = r.Verify(ctx, Requirements{RequireBranchSync: true})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Errors[0], "behind")
}

func TestSync_Diverged(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, "feature/x")
	commitFile(t, dir, "b.txt", "b")
	remote := filepath.Join(t.TempDir(), "remote.git")
	git(t, dir, "init", "-q", "--bare", remote)
	git(t, dir, "remote", "add", "origin", remote)
	git(t, dir, "push", "-q", "-u", "origin", "feature/x")

	git(t, dir, "reset", "-q", "--hard", "HEAD~1")
	commitFile(t, dir, "c.txt", "c")

	r := New(dir, 0)
	s, err := r.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Diverged, s.Status)

	res, err := r.Verify(ctx, Requirements{RequireBranchSync: true, BlockDiverged: true})
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestSessionCommit(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, "feature/x")
	r := New(dir, 0)

	res, err := r.SessionCommit(ctx, "s1", "")
	require.NoError(t, err)
	assert.False(t, res.Committed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	res, err = r.SessionCommit(ctx, "s1", "")
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.NotEmpty(t, res.Hash)
	assert.Contains(t, res.Message, "Session: s1")

	dirty, err := r.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Contains(t, git(t, dir, "log", "-1", "--format=%B"), "Session: s1")
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, "dev/y")
	st, err := New(dir, 0).Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsRepo)
	assert.Equal(t, "dev/y", st.Branch)
	assert.False(t, st.HasChanges)
	assert.Contains(t, st.LastCommit, "update README.md")
	require.NotNil(t, st.Sync)
	assert.Equal(t, NoUpstream, st.Sync.Status)
}
