package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/backup"
	"github.com/agentsh/agentguard/internal/config"
)

func newTrashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Manage soft-deleted files",
	}
	cmd.AddCommand(newTrashDeleteCmd(), newTrashListCmd(), newTrashRestoreCmd(), newTrashPurgeCmd())
	return cmd
}

func newTrashDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "Move a file or directory into the session trash",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, err := e.backups()
			if err != nil {
				return err
			}
			rec, err := m.SoftDelete(absFrom(e.project, args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s to %s\nrestore with: agentguard trash restore '%s'\n", rec.OriginalPath, rec.TrashPath, rec.TrashPath)
			return nil
		}),
	}
}

func newTrashListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List restorable items in the session trash",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, err := e.backups()
			if err != nil {
				return err
			}
			recs, err := m.Restorable()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "trash empty")
				return nil
			}
			rows := make([][]any, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []any{time.Since(r.DeletedAt).Round(time.Second).String() + " ago", r.OriginalPath, r.TrashPath})
			}
			return printTable(cmd.OutOrStdout(), "DELETED\tPATH\tTRASH", rows)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func newTrashRestoreCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <trash-path>",
		Short: "Move a soft-deleted item back to where it came from",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, err := e.backups()
			if err != nil {
				return err
			}
			rec, err := m.Restore(absFrom(e.project, args[0]), force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored to %s\n", rec.To)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite the destination if it exists (it is backed up first)")
	return cmd
}

func newTrashPurgeCmd() *cobra.Command {
	var ttlStr, quotaStr string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove other sessions' artifacts by age or trash quota",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			ttl := e.cfg.KeepFor()
			if ttlStr != "" {
				d, err := config.ParseDuration(ttlStr)
				if err != nil {
					return fmt.Errorf("--ttl: %w", err)
				}
				ttl = d
			}
			quota := e.cfg.TrashQuota()
			if quotaStr != "" {
				n, err := config.ParseByteSize(quotaStr)
				if err != nil {
					return fmt.Errorf("--quota: %w", err)
				}
				quota = n
			}
			m, err := e.backups()
			if err != nil {
				return err
			}
			n, err := m.PurgeSessions(backup.PurgeOptions{TTL: ttl, QuotaBytes: quota})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d directories\n", n)
			return nil
		}),
	}
	cmd.Flags().StringVar(&ttlStr, "ttl", "", "Remove artifacts older than this, e.g. 7d or 36h (default backup.keep_days)")
	cmd.Flags().StringVar(&quotaStr, "quota", "", "Trim oldest trash until it fits, e.g. 500MB (default backup.trash_quota)")
	return cmd
}
