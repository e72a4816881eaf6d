package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/gitverify"
)

func newGitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git",
		Short: "Inspect and verify the project's git state",
	}
	cmd.AddCommand(newGitStatusCmd(), newGitVerifyCmd(), newGitBranchCheckCmd(), newGitSyncCheckCmd(), newGitCommitCmd())
	return cmd
}

func (e *env) repo() *gitverify.Repository {
	return gitverify.New(e.project, e.cfg.GitTimeout())
}

func newGitStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize branch, changes and remote sync",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			st, err := e.repo().Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		}),
	}
}

func newGitVerifyCmd() *cobra.Command {
	var clean, synced, fetch, fromLevel bool
	var branches []string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run git checks; exits 2 when a check fails",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			req := gitverify.Requirements{
				RequireCleanTree:  clean,
				RequireBranchSync: synced,
				AllowedBranches:   branches,
				Fetch:             fetch || e.cfg.Git.Fetch,
			}
			if fromLevel {
				_, l, err := e.currentLevel()
				if err != nil {
					return err
				}
				g := l.GitVerification
				req = gitverify.Requirements{
					RequireCleanTree:  g.RequireCleanTree,
					RequireBranchSync: g.RequireBranchSync,
					AllowedBranches:   g.AllowedBranches,
					BlockAhead:        g.BlockAhead,
					BlockDiverged:     g.BlockDiverged,
					Fetch:             g.Fetch || req.Fetch,
				}
			}
			res, err := e.repo().Verify(ctx, req)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Passed {
				return exitErrorf(exitCheckFailed, "git verification failed: %s", strings.Join(res.Errors, "; "))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "Require a clean working tree")
	cmd.Flags().BoolVar(&synced, "synced", false, "Require the branch to not be behind its upstream")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Fetch before comparing with upstream")
	cmd.Flags().StringSliceVar(&branches, "branch", nil, "Allowed branch pattern (repeatable)")
	cmd.Flags().BoolVar(&fromLevel, "level", false, "Use the active level's gitVerification block instead of flags")
	return cmd
}

func newGitBranchCheckCmd() *cobra.Command {
	var patterns []string
	cmd := &cobra.Command{
		Use:   "branch-check",
		Short: "Check the current branch against allowed patterns; exits 2 when not allowed",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			if len(patterns) == 0 {
				patterns = gitverify.DefaultAllowedBranches
			}
			check, err := e.repo().IsBranchAllowed(ctx, patterns)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, check); err != nil {
				return err
			}
			if !check.Allowed {
				return exitErrorf(exitCheckFailed, "%s", check.Reason)
			}
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&patterns, "allow", nil, "Allowed branch pattern (repeatable)")
	return cmd
}

func newGitSyncCheckCmd() *cobra.Command {
	var fetch bool
	cmd := &cobra.Command{
		Use:   "sync-check",
		Short: "Compare the branch with its upstream",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			res, err := e.repo().Sync(ctx, fetch || e.cfg.Git.Fetch)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Fetch before comparing")
	return cmd
}

func newGitCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit [message]",
		Short: "Stage and commit everything as a session checkpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			sid, err := e.sessionID()
			if err != nil {
				return err
			}
			msg := ""
			if len(args) == 1 {
				msg = args[0]
			}
			res, err := e.repo().SessionCommit(ctx, sid, msg)
			if err != nil {
				return err
			}
			if !res.Committed {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to commit")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "committed %s\n", res.Hash)
			return nil
		}),
	}
}
