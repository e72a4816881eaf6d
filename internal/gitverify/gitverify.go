// Package gitverify checks that a project's git state satisfies a level's
// requirements before the agent is allowed to act on it.
package gitverify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

var (
	ErrVerificationFailed = errors.New("git verification failed")
	ErrNotRepository      = errors.New("not a git repository")
)

// DefaultTimeout bounds each git invocation.
const DefaultTimeout = 10 * time.Second

// DefaultAllowedBranches apply when a level asks for branch checks without
// naming patterns.
var DefaultAllowedBranches = []string{"feature/*", "fix/*", "dev/*", "develop"}

// BlockedBranches can never be worked on directly.
var BlockedBranches = []string{"main", "master", "production", "release"}

// Requirements mirror a level's gitVerification block.
type Requirements struct {
	RequireCleanTree  bool
	RequireBranchSync bool
	AllowedBranches   []string
	BlockAhead        bool
	BlockDiverged     bool
	Fetch             bool
}

// Repository runs git against one working tree.
type Repository struct {
	dir     string
	timeout time.Duration
	git     string
}

func New(dir string, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Repository{dir: dir, timeout: timeout, git: "git"}
}

func (r *Repository) Dir() string { return r.dir }

func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.git, append([]string{"-C", r.dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() != nil {
		return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether the directory is inside a git work tree.
func (r *Repository) IsRepo(ctx context.Context) bool {
	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch, or "" on a detached HEAD.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	if !r.IsRepo(ctx) {
		return "", ErrNotRepository
	}
	out, err := r.run(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// HasChanges reports uncommitted or untracked changes.
func (r *Repository) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

type SyncStatus string

const (
	UpToDate   SyncStatus = "up-to-date"
	Behind     SyncStatus = "behind"
	Ahead      SyncStatus = "ahead"
	Diverged   SyncStatus = "diverged"
	NoUpstream SyncStatus = "no-upstream"
)

type SyncResult struct {
	Synced bool       `json:"synced"`
	Status SyncStatus `json:"status"`
	Local  string     `json:"local,omitempty"`
	Remote string     `json:"remote,omitempty"`
}

// Sync compares HEAD with its upstream. With fetch it first updates the
// remote-tracking refs; a failed fetch is ignored and the last known state
// is used.
func (r *Repository) Sync(ctx context.Context, fetch bool) (*SyncResult, error) {
	if !r.IsRepo(ctx) {
		return nil, ErrNotRepository
	}
	if fetch {
		_, _ = r.run(ctx, "fetch", "--quiet")
	}
	local, err := r.run(ctx, "rev-parse", "--verify", "-q", "HEAD")
	if err != nil {
		// unborn branch
		return &SyncResult{Synced: true, Status: NoUpstream}, nil
	}
	remote, err := r.run(ctx, "rev-parse", "--verify", "-q", "@{u}")
	if err != nil || remote == "" {
		return &SyncResult{Synced: true, Status: NoUpstream, Local: local}, nil
	}
	res := &SyncResult{Local: local, Remote: remote}
	if local == remote {
		res.Synced, res.Status = true, UpToDate
		return res, nil
	}
	base, err := r.run(ctx, "merge-base", "HEAD", "@{u}")
	if err != nil {
		return nil, err
	}
	switch base {
	case local:
		res.Status = Behind
	case remote:
		res.Status = Ahead
	default:
		res.Status = Diverged
	}
	return res, nil
}

type BranchCheck struct {
	Allowed  bool     `json:"allowed"`
	Branch   string   `json:"branch"`
	Reason   string   `json:"reason,omitempty"`
	Patterns []string `json:"patterns"`
}

// IsBranchAllowed checks the current branch against the block list and the
// allow patterns. A pattern ending in /* admits any branch below that
// prefix.
func (r *Repository) IsBranchAllowed(ctx context.Context, patterns []string) (*BranchCheck, error) {
	if len(patterns) == 0 {
		patterns = DefaultAllowedBranches
	}
	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	return CheckBranch(branch, patterns), nil
}

// CheckBranch is IsBranchAllowed for a known branch name.
func CheckBranch(branch string, patterns []string) *BranchCheck {
	out := &BranchCheck{Branch: branch, Patterns: patterns}
	if branch == "" {
		out.Reason = "No branch checked out (detached HEAD)"
		return out
	}
	for _, b := range BlockedBranches {
		if branch == b {
			out.Reason = fmt.Sprintf("Direct work on %s is not allowed. Create a feature branch.", branch)
			return out
		}
	}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		if g.Match(branch) {
			out.Allowed = true
			return out
		}
	}
	out.Reason = fmt.Sprintf("Branch %s not in allowed patterns %v", branch, patterns)
	return out
}

type Checks struct {
	Branch        string       `json:"branch"`
	CleanTree     *bool        `json:"cleanTree,omitempty"`
	RemoteSync    *SyncResult  `json:"remoteSync,omitempty"`
	BranchAllowed *BranchCheck `json:"branchAllowed,omitempty"`
}

type Result struct {
	IsRepo bool     `json:"isRepo"`
	Passed bool     `json:"passed"`
	Checks Checks   `json:"checks"`
	Errors []string `json:"errors"`
}

// Err returns nil for a passing result and an ErrVerificationFailed
// carrying every failure otherwise.
func (r *Result) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(r.Errors, "; "))
}

// Verify runs every check the requirements ask for. Failing checks are
// collected in the result; the error return is for git itself failing.
func (r *Repository) Verify(ctx context.Context, req Requirements) (*Result, error) {
	res := &Result{Passed: true, Errors: []string{}}
	if !r.IsRepo(ctx) {
		res.Passed = false
		res.Errors = append(res.Errors, "Not a git repository")
		return res, nil
	}
	res.IsRepo = true

	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	res.Checks.Branch = branch
	fail := func(msg string) {
		res.Passed = false
		res.Errors = append(res.Errors, msg)
	}

	if req.RequireCleanTree {
		dirty, err := r.HasChanges(ctx)
		if err != nil {
			return nil, err
		}
		clean := !dirty
		res.Checks.CleanTree = &clean
		if dirty {
			fail("Uncommitted changes exist. Commit or stash before proceeding.")
		}
	}

	if req.RequireBranchSync {
		sync, err := r.Sync(ctx, req.Fetch)
		if err != nil {
			return nil, err
		}
		res.Checks.RemoteSync = sync
		switch {
		case sync.Status == Behind:
			fail("Local branch is behind remote. Pull changes first.")
		case sync.Status == Ahead && req.BlockAhead:
			fail("Local branch is ahead of remote. Push changes first.")
		case sync.Status == Diverged && req.BlockDiverged:
			fail("Local branch has diverged from remote. Rebase or merge first.")
		}
	}

	if len(req.AllowedBranches) > 0 {
		check := CheckBranch(branch, req.AllowedBranches)
		res.Checks.BranchAllowed = check
		if !check.Allowed {
			fail(check.Reason)
		}
	}
	return res, nil
}

type CommitResult struct {
	Committed bool   `json:"committed"`
	Hash      string `json:"hash,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SessionCommit stages everything and commits it. A clean tree is not an
// error; the result reports Committed false.
func (r *Repository) SessionCommit(ctx context.Context, sessionID, message string) (*CommitResult, error) {
	dirty, err := r.HasChanges(ctx)
	if err != nil {
		return nil, err
	}
	if !dirty {
		return &CommitResult{}, nil
	}
	if message == "" {
		if sessionID == "" {
			sessionID = "unknown"
		}
		message = fmt.Sprintf("[agentguard-session] Auto-commit at %s\n\nSession: %s",
			time.Now().UTC().Format(time.RFC3339), sessionID)
	}
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return nil, err
	}
	if _, err := r.run(ctx, "commit", "-q", "-m", message); err != nil {
		return nil, err
	}
	hash, err := r.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return nil, err
	}
	return &CommitResult{Committed: true, Hash: hash, Message: message}, nil
}

type Status struct {
	IsRepo     bool        `json:"isRepo"`
	Branch     string      `json:"branch,omitempty"`
	HasChanges bool        `json:"hasChanges"`
	Sync       *SyncResult `json:"syncStatus,omitempty"`
	LastCommit string      `json:"lastCommit,omitempty"`
	Remotes    string      `json:"remotes,omitempty"`
}

// Status summarizes the repository. It never fetches.
func (r *Repository) Status(ctx context.Context) (*Status, error) {
	if !r.IsRepo(ctx) {
		return &Status{}, nil
	}
	st := &Status{IsRepo: true}
	var err error
	if st.Branch, err = r.CurrentBranch(ctx); err != nil {
		return nil, err
	}
	if st.HasChanges, err = r.HasChanges(ctx); err != nil {
		return nil, err
	}
	if st.Sync, err = r.Sync(ctx, false); err != nil {
		return nil, err
	}
	st.LastCommit, _ = r.run(ctx, "log", "-1", "--format=%h %s")
	st.Remotes, _ = r.run(ctx, "remote", "-v")
	return st, nil
}
