package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/config"
)

func newPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect pre-phase decisions still waiting for their post phase",
	}
	cmd.AddCommand(newPendingListCmd(), newPendingPruneCmd())
	return cmd
}

func newPendingListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending operations of this session",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			state, _, err := e.openState()
			if err != nil {
				return err
			}
			defer state.Store().Close()
			ops, err := state.ListPending(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, ops)
			}
			if len(ops) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending operations")
				return nil
			}
			rows := make([][]any, 0, len(ops))
			for _, op := range ops {
				rows = append(rows, []any{op.ID, op.ToolName, op.Outcome, op.Level, time.Since(op.CreatedAt).Round(time.Second)})
			}
			return printTable(cmd.OutOrStdout(), "ID\tTOOL\tOUTCOME\tLEVEL\tAGE", rows)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print operations as JSON")
	return cmd
}

func newPendingPruneCmd() *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop pending operations older than a duration",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			ttl := e.cfg.SessionTTL()
			if olderThan != "" {
				d, err := config.ParseDuration(olderThan)
				if err != nil {
					return fmt.Errorf("--older-than: %w", err)
				}
				ttl = d
			}
			state, _, err := e.openState()
			if err != nil {
				return err
			}
			defer state.Store().Close()
			n, err := state.PrunePending(ctx, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d pending operations\n", n)
			return nil
		}),
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "", "Age threshold, e.g. 1h or 2d (default state.session_ttl)")
	return cmd
}
