package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/backup"
	"github.com/agentsh/agentguard/internal/config"
	"github.com/agentsh/agentguard/internal/logging"
	"github.com/agentsh/agentguard/internal/mediator"
	"github.com/agentsh/agentguard/internal/pathmap"
	"github.com/agentsh/agentguard/internal/policy"
	"github.com/agentsh/agentguard/internal/session"
)

// env is what every command needs: operator config, a logger and the
// project it works on.
type env struct {
	flags    rootFlags
	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error

	project string
	dataDir string
	home    string
	levels  string
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	f := getRootFlags(cmd)
	path := f.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	log, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	project := f.project
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			_ = closeLog()
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
	}
	if project, err = filepath.Abs(project); err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	home, _ := os.UserHomeDir()

	e := &env{
		flags:    f,
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		project:  project,
		dataDir:  resolveDataDir(project, cfg.Paths.DataDir),
		home:     home,
		levels:   f.levels,
	}
	if e.levels == "" {
		e.levels = cfg.Paths.Levels
	}
	return e, nil
}

func resolveDataDir(project, dataDir string) string {
	switch {
	case dataDir == "":
		return filepath.Join(project, mediator.DataDirName)
	case filepath.IsAbs(dataDir):
		return dataDir
	default:
		return filepath.Join(project, dataDir)
	}
}

func (e *env) Close() {
	if e.closeLog != nil {
		_ = e.closeLog()
	}
}

// mediatorOptions leaves ProjectRoot empty unless --project was given, so
// the hook's cwd decides the project.
func (e *env) mediatorOptions(tables mediator.TableProvider) mediator.Options {
	return mediator.Options{
		ProjectRoot:       e.flags.project,
		DataDir:           e.cfg.Paths.DataDir,
		ConfigDir:         e.cfg.Paths.ConfigDir,
		Home:              e.home,
		LevelsPath:        e.levels,
		Tables:            tables,
		StateBackend:      e.cfg.State.Backend,
		SessionTTL:        e.cfg.SessionTTL(),
		CompressThreshold: e.cfg.CompressThreshold(),
		GitTimeout:        e.cfg.GitTimeout(),
		GitFetch:          e.cfg.Git.Fetch,
		Logger:            e.log,
	}
}

func (e *env) table() (*policy.Table, string, error) {
	return policy.LoadTable(policy.Candidates(e.levels, e.dataDir, e.cfg.Paths.ConfigDir))
}

func (e *env) currentLevel() (*policy.Table, *policy.Level, error) {
	t, _, err := e.table()
	if err != nil {
		return nil, nil, err
	}
	l, err := policy.CurrentLevel(t, e.dataDir)
	if err != nil {
		return nil, nil, err
	}
	return t, l, nil
}

func (e *env) sessionID() (string, error) {
	return session.ResolveID(session.ResolveOptions{Explicit: e.flags.sessionID, DataDir: e.dataDir})
}

func (e *env) openState() (*session.State, string, error) {
	sid, err := e.sessionID()
	if err != nil {
		return nil, "", err
	}
	st, err := session.OpenStore(e.cfg.State.Backend, e.dataDir, sid)
	if err != nil {
		return nil, "", err
	}
	return session.NewState(st), sid, nil
}

func (e *env) backups() (*backup.Manager, error) {
	sid, err := e.sessionID()
	if err != nil {
		return nil, err
	}
	return backup.New(backup.Options{
		ProjectRoot:       e.project,
		DataDir:           e.dataDir,
		SessionID:         sid,
		CompressThreshold: e.cfg.CompressThreshold(),
		Logger:            e.log,
	})
}

// mapper builds the session's path mapper for the current level. The
// returned func closes the backing store.
func (e *env) mapper() (*pathmap.Mapper, func(), error) {
	_, level, err := e.currentLevel()
	if err != nil {
		return nil, nil, err
	}
	state, _, err := e.openState()
	if err != nil {
		return nil, nil, err
	}
	m := pathmap.New(pathmap.Options{
		ProjectRoot:  e.project,
		Home:         e.home,
		Mode:         pathmap.Mode(level.PathMode()),
		MaskUsername: level.MasksUsername(),
		Store:        state.Store(),
	})
	return m, func() { _ = state.Store().Close() }, nil
}

// withEnv runs fn with a loaded env and closes it afterwards.
func withEnv(fn func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return fn(ctx, cmd, e, args)
	}
}
