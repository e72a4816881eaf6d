package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot, list and restore files of this session",
	}
	cmd.AddCommand(newBackupCreateCmd(), newBackupListCmd(), newBackupRestoreCmd(), newBackupSummaryCmd())
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <file>",
		Short: "Snapshot a file before changing it",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, err := e.backups()
			if err != nil {
				return err
			}
			rec, err := m.Backup(absFrom(e.project, args[0]))
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s does not exist, nothing to back up\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", rec.BackupPath)
			return nil
		}),
	}
}

func newBackupListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list [file]",
		Short: "List snapshots, of one file or of the whole session",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, err := e.backups()
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = absFrom(e.project, args[0])
			}
			recs, err := m.ListBackups(path)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no backups")
				return nil
			}
			rows := make([][]any, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []any{r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Size, r.OriginalPath, r.BackupPath})
			}
			return printTable(cmd.OutOrStdout(), "TIME\tSIZE\tFILE\tBACKUP", rows)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-path>",
		Short: "Write a snapshot back over the original file",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, err := e.backups()
			if err != nil {
				return err
			}
			rec, err := m.RestoreFromBackup(absFrom(e.project, args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s\n", rec.To, rec.From)
			return nil
		}),
	}
}

func newBackupSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarize the session's backups, diffs and deletions",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, err := e.backups()
			if err != nil {
				return err
			}
			s, err := m.Summary()
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		}),
	}
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <file> <old> <new>",
		Short: "Record a unified diff for file between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			oldContent, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			newContent, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			m, err := e.backups()
			if err != nil {
				return err
			}
			rec, err := m.GenerateDiff(absFrom(e.project, args[0]), oldContent, newContent)
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no changes")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Diff recorded (+%d -%d): %s\n", rec.LinesAdded, rec.LinesRemoved, rec.DiffPath)
			return nil
		}),
	}
}

// absFrom resolves p against the project root rather than the process cwd.
func absFrom(project, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(project, p)
}
