package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentguard",
		Short:         "agentguard: tiered safety levels for coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("agentguard {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.String("config", getenvDefault("AGENTGUARD_CONFIG", ""), "Operator config YAML (default ~/.agentguard/config.yaml)")
	pf.String("project", "", "Project root (default: hook cwd, or the working directory)")
	pf.String("levels", "", "Level table path (JSON with comments, or YAML)")
	pf.String("session", "", "Session id (default $AGENTGUARD_SESSION_ID, then the project's session file)")
	pf.String("log-level", "", "Override logging.level")

	cmd.AddCommand(newHookCmd())
	cmd.AddCommand(newLevelCmd())
	cmd.AddCommand(newMapCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newTrashCmd())
	cmd.AddCommand(newDiffCmd())
	cmd.AddCommand(newGitCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

type rootFlags struct {
	configPath string
	project    string
	levels     string
	sessionID  string
	logLevel   string
}

func getRootFlags(cmd *cobra.Command) rootFlags {
	pf := cmd.Root().PersistentFlags()
	var f rootFlags
	f.configPath, _ = pf.GetString("config")
	f.project, _ = pf.GetString("project")
	f.levels, _ = pf.GetString("levels")
	f.sessionID, _ = pf.GetString("session")
	f.logLevel, _ = pf.GetString("log-level")
	return f
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
