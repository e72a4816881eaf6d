package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/policy"
)

func newLevelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "level",
		Short: "Show or change the project's security level",
	}
	cmd.AddCommand(newLevelShowCmd(), newLevelListCmd(), newLevelSetCmd())
	return cmd
}

func newLevelShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active level",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			_, l, err := e.currentLevel()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, l)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", l.Emoji, l.Name)
			if l.Tagline != "" {
				fmt.Fprintln(w, l.Tagline)
			}
			if l.Description != "" {
				fmt.Fprintln(w, l.Description)
			}
			if l.Risk != "" {
				fmt.Fprintf(w, "risk: %s\n", l.Risk)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full level definition")
	return cmd
}

func newLevelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List levels by ascending risk",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			t, cur, err := e.currentLevel()
			if err != nil {
				return err
			}
			var rows [][]any
			for _, n := range t.Names() {
				l := t.Levels[n]
				mark := ""
				if n == cur.Name {
					mark = "*"
				}
				def := ""
				if l.Default {
					def = "default"
				}
				rows = append(rows, []any{mark, n, l.Risk, def, l.Tagline})
			}
			return printTable(cmd.OutOrStdout(), "\tLEVEL\tRISK\t\tTAGLINE", rows)
		}),
	}
}

func newLevelSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <level>",
		Short: "Select the level for this project",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			name, err := policy.ParseLevelName(args[0])
			if err != nil {
				return err
			}
			t, _, err := e.table()
			if err != nil {
				return err
			}
			if _, err := t.Level(name); err != nil {
				return err
			}
			if err := policy.SetCurrentLevel(e.dataDir, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "level set to %s\n", name)
			if v := os.Getenv(policy.EnvLevel); v != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "note: %s=%s overrides the project level\n", policy.EnvLevel, v)
			}
			return nil
		}),
	}
}
