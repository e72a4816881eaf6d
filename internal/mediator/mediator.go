// Package mediator decides what happens to one agent tool call. The pre
// phase runs before the tool executes: it verifies git state, translates
// virtual paths back to real ones, applies the level's gatekeepers and
// snapshots or diverts anything about to be destroyed. The post phase runs
// after the tool and records what the pre phase set up.
package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/agentsh/agentguard/internal/backup"
	"github.com/agentsh/agentguard/internal/gitverify"
	"github.com/agentsh/agentguard/internal/pathmap"
	"github.com/agentsh/agentguard/internal/policy"
	"github.com/agentsh/agentguard/internal/session"
	"github.com/agentsh/agentguard/pkg/types"
)

// DataDirName is the project-local artifact directory.
const DataDirName = ".agentguard"

// DefaultSessionTTL bounds how long a pending operation waits for its post
// phase.
const DefaultSessionTTL = 24 * time.Hour

type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// ParsePhase maps a --phase flag or hook_event_name to a phase.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "", "pre", types.EventPreToolUse:
		return PhasePre, nil
	case "post", types.EventPostToolUse:
		return PhasePost, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// TableProvider supplies the level table for a project data directory.
type TableProvider interface {
	Table(dataDir string) (*policy.Table, error)
}

type Options struct {
	// ProjectRoot pins the project. When empty the hook's cwd is used.
	ProjectRoot string
	// DataDir overrides <project>/.agentguard. Relative values resolve
	// against the project root.
	DataDir   string
	ConfigDir string
	Home      string
	Username  string

	// LevelsPath is an explicit level table location.
	LevelsPath string
	Tables     TableProvider

	StateBackend      string
	SessionTTL        time.Duration
	CompressThreshold int64
	GitTimeout        time.Duration
	GitFetch          bool

	Logger *slog.Logger
	Getenv func(string) string
}

type Mediator struct {
	opts   Options
	log    *slog.Logger
	tables TableProvider
}

func New(opts Options) *Mediator {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Home == "" {
		opts.Home, _ = os.UserHomeDir()
	}
	if opts.ConfigDir == "" && opts.Home != "" {
		opts.ConfigDir = filepath.Join(opts.Home, DataDirName)
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	m := &Mediator{opts: opts, log: opts.Logger, tables: opts.Tables}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.tables == nil {
		m.tables = FileTables{Explicit: opts.LevelsPath, ConfigDir: opts.ConfigDir}
	}
	return m
}

// FileTables loads the level table from disk on every call.
type FileTables struct {
	Explicit  string
	ConfigDir string
}

func (f FileTables) Table(dataDir string) (*policy.Table, error) {
	t, _, err := policy.LoadTable(policy.Candidates(f.Explicit, dataDir, f.ConfigDir))
	return t, err
}

// HandleJSON decodes one hook payload and mediates it. It never fails: any
// problem in the pre phase becomes a deny. A nil result means pass-through
// and nothing should be written.
func (m *Mediator) HandleJSON(ctx context.Context, phase Phase, raw []byte) *types.HookOutput {
	var in types.HookInput
	if err := json.Unmarshal(raw, &in); err != nil {
		if phase == PhasePost {
			m.log.Warn("malformed hook input", "phase", phase, "error", err)
			return nil
		}
		return deny(fmt.Sprintf("Malformed hook input: %v", err))
	}
	if phase == "" {
		phase, _ = ParsePhase(in.HookEventName)
	}
	if phase == PhasePost {
		return m.Post(ctx, &in)
	}
	return m.Pre(ctx, &in)
}

// Pre mediates a tool call before it runs.
func (m *Mediator) Pre(ctx context.Context, in *types.HookInput) (out *types.HookOutput) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic during mediation", "tool", in.ToolName, "panic", r, "stack", string(debug.Stack()))
			out = deny(fmt.Sprintf("Internal error while mediating %s", in.ToolName))
		}
	}()

	if !mediated(in.ToolName) {
		return nil
	}
	req, err := m.open(ctx, in)
	if err != nil {
		m.log.Warn("request setup failed", "tool", in.ToolName, "error", err)
		return deny(err.Error())
	}
	defer req.close()

	if denied := req.verifyGit(ctx); denied != nil {
		return denied
	}

	var ti types.ToolInput
	if len(in.ToolInput) > 0 {
		if err := json.Unmarshal(in.ToolInput, &ti); err != nil {
			return deny(fmt.Sprintf("Malformed tool_input for %s: %v", in.ToolName, err))
		}
	}

	switch in.ToolName {
	case types.ToolBash:
		return req.bash(ctx, ti)
	case types.ToolWrite, types.ToolEdit, types.ToolMultiEdit:
		return req.write(ctx, ti)
	default:
		return req.read(ctx, ti)
	}
}

// Post completes a tool call: it consumes the pending operation, stores a
// diff for backed-up writes, reports soft-deleted paths and virtualizes
// paths in the tool's response.
func (m *Mediator) Post(ctx context.Context, in *types.HookInput) (out *types.HookOutput) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic during post processing", "tool", in.ToolName, "panic", r, "stack", string(debug.Stack()))
			out = nil
		}
	}()

	if !mediated(in.ToolName) {
		return nil
	}
	req, err := m.open(ctx, in)
	if err != nil {
		m.log.Warn("request setup failed", "phase", PhasePost, "error", err)
		return nil
	}
	defer req.close()

	var notes []string
	if in.ToolUseID != "" {
		op, err := req.state.TakePending(ctx, in.ToolUseID)
		if err != nil {
			m.log.Warn("load pending operation", "tool_use_id", in.ToolUseID, "error", err)
		}
		if op != nil {
			notes = req.complete(op)
		}
	}
	return req.sanitizeResponse(ctx, notes)
}

func mediated(tool string) bool {
	switch tool {
	case types.ToolBash, types.ToolRead, types.ToolWrite, types.ToolEdit, types.ToolMultiEdit,
		types.ToolGlob, types.ToolGrep, types.ToolLS:
		return true
	}
	return false
}

// request is everything resolved for one hook invocation.
type request struct {
	m       *Mediator
	in      *types.HookInput
	log     *slog.Logger
	project string
	dataDir string
	sid     string
	level   *policy.Level
	state   *session.State
	mapper  *pathmap.Mapper
	backups *backup.Manager
	engine  *policy.Engine
}

func (m *Mediator) open(ctx context.Context, in *types.HookInput) (*request, error) {
	project := m.opts.ProjectRoot
	if project == "" {
		project = in.CWD
	}
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		project = wd
	}
	project, err := filepath.Abs(project)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	dataDir := m.opts.DataDir
	switch {
	case dataDir == "":
		dataDir = filepath.Join(project, DataDirName)
	case !filepath.IsAbs(dataDir):
		dataDir = filepath.Join(project, dataDir)
	}

	table, err := m.tables.Table(dataDir)
	if err != nil {
		return nil, fmt.Errorf("Level table is invalid, refusing all requests: %v", err)
	}
	level, err := policy.CurrentLevel(table, dataDir)
	if err != nil {
		return nil, fmt.Errorf("Security level could not be determined: %v", err)
	}

	sid, err := session.ResolveID(session.ResolveOptions{Explicit: in.SessionID, Getenv: m.opts.Getenv, DataDir: dataDir})
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	st, err := session.OpenStore(m.opts.StateBackend, dataDir, sid)
	if err != nil {
		return nil, fmt.Errorf("open session state: %w", err)
	}
	state := session.NewState(st)
	if n, err := state.PrunePending(ctx, m.opts.SessionTTL); err != nil {
		m.log.Warn("prune pending operations", "session", sid, "error", err)
	} else if n > 0 {
		m.log.Debug("pruned stale pending operations", "session", sid, "count", n)
	}

	backups, err := backup.New(backup.Options{
		ProjectRoot:       project,
		DataDir:           dataDir,
		SessionID:         sid,
		CompressThreshold: m.opts.CompressThreshold,
		Logger:            m.log,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &request{
		m:       m,
		in:      in,
		log:     m.log.With("session", sid, "level", string(level.Name), "tool", in.ToolName),
		project: project,
		dataDir: dataDir,
		sid:     sid,
		level:   level,
		state:   state,
		mapper: pathmap.New(pathmap.Options{
			ProjectRoot:  project,
			Home:         m.opts.Home,
			Username:     m.opts.Username,
			Mode:         pathmap.Mode(level.PathMode()),
			MaskUsername: level.MasksUsername(),
			Store:        st,
		}),
		backups: backups,
		engine: policy.NewEngine(policy.EngineOptions{
			ProjectRoot: project,
			Home:        m.opts.Home,
			ConfigDir:   m.opts.ConfigDir,
			DataDir:     dataDir,
			TrashDir:    backups.TrashDir(),
			Protected:   policy.Candidates(m.opts.LevelsPath, dataDir, m.opts.ConfigDir),
		}),
	}, nil
}

func (r *request) close() {
	if err := r.state.Store().Close(); err != nil {
		r.log.Warn("close session state", "error", err)
	}
}

// verifyGit runs the level's git checks once per session and level.
func (r *request) verifyGit(ctx context.Context) *types.HookOutput {
	if !r.level.GitRequired {
		return nil
	}
	name := string(r.level.Name)
	done, err := r.state.GitVerified(ctx, name)
	if err != nil {
		r.log.Warn("read git verification cache", "error", err)
	}
	if done {
		return nil
	}

	g := r.level.GitVerification
	repo := gitverify.New(r.project, r.m.opts.GitTimeout)
	res, err := repo.Verify(ctx, gitverify.Requirements{
		RequireCleanTree:  g.RequireCleanTree,
		RequireBranchSync: g.RequireBranchSync,
		AllowedBranches:   g.AllowedBranches,
		BlockAhead:        g.BlockAhead,
		BlockDiverged:     g.BlockDiverged,
		Fetch:             g.Fetch || r.m.opts.GitFetch,
	})
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		r.log.Info("git verification failed", "error", err)
		return deny(fmt.Sprintf("Git verification failed: %v. Level '%s' requires a valid git repository.", err, name))
	}
	if err := r.state.MarkGitVerified(ctx, name); err != nil {
		r.log.Warn("cache git verification", "error", err)
	}
	return nil
}

func (r *request) bash(ctx context.Context, ti types.ToolInput) *types.HookOutput {
	name := string(r.level.Name)
	resolved, err := r.mapper.UnsanitizeText(ctx, ti.Command)
	if err != nil {
		return deny(fmt.Sprintf("Command paths could not be resolved: %v", err))
	}

	d := r.engine.ClassifyCommand(resolved, r.level)
	r.log.Debug("classified command", "decision", d.Kind.String(), "pattern", d.Pattern)

	switch d.Kind {
	case policy.Denied:
		return deny(fmt.Sprintf("Command blocked by sandbox level '%s': %s", name, d.Reason))
	case policy.RequiresApproval:
		return ask(fmt.Sprintf("Destructive command requires approval at level '%s': %s", name, d.Reason))
	case policy.SoftDelete:
		moves := make([]session.Move, 0, len(d.Moves))
		trashed := make([]string, 0, len(d.Moves))
		for _, mv := range d.Moves {
			// recorded before the move runs, so the trash entry stays
			// restorable without a post phase
			if _, err := r.backups.RecordDeletion(mv.Source, mv.Dest); err != nil {
				r.log.Error("record deletion before soft delete failed", "path", mv.Source, "error", err)
				return deny(fmt.Sprintf("Soft delete of %s could not be recorded: %v", mv.Source, err))
			}
			moves = append(moves, session.Move{Source: mv.Source, Dest: mv.Dest})
			trashed = append(trashed, mv.Dest)
		}
		if err := r.pending(ctx, types.OutcomeSoftDelete, d.Rewritten, "", moves); err != nil {
			return deny(fmt.Sprintf("Soft delete could not be recorded: %v", err))
		}
		r.log.Info("rewrote delete into trash move", "paths", len(moves))
		return allow(r.rewrite("command", d.Rewritten), &types.SandboxInfo{
			Level:           name,
			Action:          string(types.OutcomeSoftDelete),
			OriginalCommand: ti.Command,
			TrashedTo:       trashed,
		})
	}

	if err := r.pending(ctx, types.OutcomeAllowed, resolved, "", nil); err != nil {
		r.log.Warn("record pending operation", "error", err)
	}
	if resolved == ti.Command {
		return nil
	}
	return allow(r.rewrite("command", resolved), &types.SandboxInfo{Level: name})
}

// read covers Read and the directory search tools. Glob and Grep patterns
// may carry virtual paths too.
func (r *request) read(ctx context.Context, ti types.ToolInput) *types.HookOutput {
	field, target := "path", ti.Path
	if r.in.ToolName == types.ToolRead {
		field, target = "file_path", ti.TargetPath()
	}

	changes := map[string]string{}
	resolved := target
	if target != "" {
		var err error
		if resolved, err = r.mapper.Unsanitize(ctx, target); err != nil {
			return deny(fmt.Sprintf("Path %s could not be resolved: %v", target, err))
		}
		d := r.engine.ClassifyPathAccess(resolved, r.level, policy.Read)
		if !d.Allowed {
			return deny(fmt.Sprintf("Read access denied by sandbox level '%s': %s", r.level.Name, d.Reason))
		}
		if resolved != target {
			changes[field] = resolved
		}
	}
	if ti.Pattern != "" && r.in.ToolName == types.ToolGlob {
		p, err := r.mapper.UnsanitizeText(ctx, ti.Pattern)
		if err != nil {
			return deny(fmt.Sprintf("Pattern %s could not be resolved: %v", ti.Pattern, err))
		}
		if root := globRoot(p); root != "" {
			if !filepath.IsAbs(root) && !strings.HasPrefix(root, "~") && resolved != "" {
				root = filepath.Join(resolved, root)
			}
			d := r.engine.ClassifyPathAccess(root, r.level, policy.Read)
			if !d.Allowed {
				return deny(fmt.Sprintf("Read access denied by sandbox level '%s': %s", r.level.Name, d.Reason))
			}
		}
		if p != ti.Pattern {
			changes["pattern"] = p
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return allow(r.rewriteAll(changes), nil)
}

// globRoot returns the directory a glob pattern starts searching from: its
// leading components without glob syntax. It is empty for patterns such as
// "**/*.go" that search relative to the tool's path.
func globRoot(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	static := parts[:0:0]
	for _, part := range parts {
		if strings.ContainsAny(part, "*?[{") {
			break
		}
		static = append(static, part)
	}
	if len(static) == len(parts) {
		// no glob syntax; the last component names a file
		static = static[:len(static)-1]
	}
	root := strings.Join(static, "/")
	if root == "" && strings.HasPrefix(pattern, "/") {
		return "/"
	}
	return filepath.FromSlash(root)
}

func (r *request) write(ctx context.Context, ti types.ToolInput) *types.HookOutput {
	name := string(r.level.Name)
	target := ti.TargetPath()
	if target == "" {
		return deny(fmt.Sprintf("%s without a file path", r.in.ToolName))
	}
	resolved, err := r.mapper.Unsanitize(ctx, target)
	if err != nil {
		return deny(fmt.Sprintf("Path %s could not be resolved: %v", target, err))
	}
	d := r.engine.ClassifyPathAccess(resolved, r.level, policy.Write)
	if !d.Allowed {
		return deny(fmt.Sprintf("Write access denied by sandbox level '%s': %s", name, d.Reason))
	}

	var bk *backup.BackupRecord
	if r.level.BacksUpWrites() {
		bk, err = r.backups.Backup(d.Resolved)
		if err != nil {
			r.log.Error("backup before write failed", "path", d.Resolved, "error", err)
			return deny(fmt.Sprintf("Backup of %s failed, refusing to modify it: %v", target, err))
		}
	}
	backupPath := ""
	if bk != nil {
		backupPath = bk.BackupPath
	}
	if err := r.pending(ctx, types.OutcomeAllowed, d.Resolved, backupPath, nil); err != nil {
		r.log.Warn("record pending operation", "error", err)
	}

	if resolved == target {
		return nil
	}
	field := "file_path"
	if ti.FilePath == "" {
		field = "filePath"
	}
	return allow(r.rewrite(field, resolved), &types.SandboxInfo{Level: name, BackedUp: bk != nil, Backup: backupPath})
}

func (r *request) pending(ctx context.Context, outcome types.Outcome, resolved, backupPath string, moves []session.Move) error {
	if r.in.ToolUseID == "" {
		return nil
	}
	return r.state.PutPending(ctx, session.PendingOperation{
		ID:       r.in.ToolUseID,
		ToolName: r.in.ToolName,
		Virtual:  r.in.ToolInput,
		Resolved: resolved,
		Level:    string(r.level.Name),
		Outcome:  string(outcome),
		Backup:   backupPath,
		Moves:    moves,
	})
}

// complete finishes a pending operation and returns notes for the agent.
func (r *request) complete(op *session.PendingOperation) []string {
	var notes []string
	if op.Backup != "" && r.level.RecordsDiffs() {
		rec, err := r.backups.FindBackup(op.Backup)
		if err == nil {
			var diff *backup.DiffRecord
			diff, err = r.backups.DiffAgainstBackup(rec)
			if diff != nil {
				notes = append(notes, fmt.Sprintf("Diff recorded (+%d -%d) at %s", diff.LinesAdded, diff.LinesRemoved, diff.DiffPath))
			}
		}
		if err != nil && !errors.Is(err, backup.ErrNotFound) {
			r.log.Warn("diff against backup", "backup", op.Backup, "error", err)
		}
	}
	for _, mv := range op.Moves {
		if _, err := os.Lstat(mv.Dest); err != nil {
			continue
		}
		if _, err := os.Lstat(mv.Source); err == nil {
			continue
		}
		notes = append(notes, fmt.Sprintf("Moved %s to trash; restore with: agentguard trash restore '%s'", mv.Source, mv.Dest))
	}
	return notes
}

// sanitizeResponse virtualizes real paths in the tool response. The
// response is rewritten only when it stays valid JSON.
func (r *request) sanitizeResponse(ctx context.Context, notes []string) *types.HookOutput {
	out := &types.HookSpecificOutput{HookEventName: types.EventPostToolUse}
	if len(r.in.ToolResponse) > 0 && r.mapper.Mode() != pathmap.ModeNone {
		s, err := r.mapper.SanitizeText(ctx, string(r.in.ToolResponse))
		switch {
		case err != nil:
			r.log.Warn("sanitize tool response", "error", err)
		case s != string(r.in.ToolResponse) && json.Valid([]byte(s)):
			out.ModifiedResult = json.RawMessage(s)
		}
	}
	for i, n := range notes {
		if i > 0 {
			out.AdditionalContext += "\n"
		}
		out.AdditionalContext += n
	}
	if out.ModifiedResult == nil && out.AdditionalContext == "" {
		return nil
	}
	return &types.HookOutput{HookSpecificOutput: out}
}

// rewrite returns the full tool input with one field replaced.
func (r *request) rewrite(field, value string) map[string]any {
	return r.rewriteAll(map[string]string{field: value})
}

func (r *request) rewriteAll(changes map[string]string) map[string]any {
	in := map[string]any{}
	if len(r.in.ToolInput) > 0 {
		_ = json.Unmarshal(r.in.ToolInput, &in)
	}
	for k, v := range changes {
		in[k] = v
	}
	return in
}

func deny(reason string) *types.HookOutput {
	return decision(types.DecisionDeny, reason, nil, nil)
}

func ask(reason string) *types.HookOutput {
	return decision(types.DecisionAsk, reason, nil, nil)
}

func allow(input map[string]any, info *types.SandboxInfo) *types.HookOutput {
	return decision(types.DecisionAllow, "", input, info)
}

func decision(d types.Decision, reason string, input map[string]any, info *types.SandboxInfo) *types.HookOutput {
	return &types.HookOutput{HookSpecificOutput: &types.HookSpecificOutput{
		HookEventName:            types.EventPreToolUse,
		PermissionDecision:       d,
		PermissionDecisionReason: reason,
		ModifiedInput:            input,
		SandboxInfo:              info,
	}}
}
