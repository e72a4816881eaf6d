package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/client"
	"github.com/agentsh/agentguard/internal/mediator"
	"github.com/agentsh/agentguard/pkg/types"
)

func newHookCmd() *cobra.Command {
	var phaseFlag string
	var daemon bool
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Mediate one tool call read from stdin (PreToolUse/PostToolUse hook)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read hook input: %w", err)
			}
			phase, err := hookPhase(phaseFlag, raw)
			if err != nil {
				return exitErrorf(exitUsage, "%v", err)
			}

			e, err := loadEnv(cmd)
			if err != nil {
				// still answer the runtime, closed
				if phase == mediator.PhasePost {
					return nil
				}
				return writeHookOutput(cmd.OutOrStdout(), denyOutput(fmt.Sprintf("Configuration could not be loaded: %v", err)))
			}
			defer e.Close()

			if daemon || e.cfg.Server.Forward {
				out, err := client.New(e.cfg.Server.Socket, 0).Hook(ctx, string(phase), raw)
				if err == nil {
					return writeHookOutput(cmd.OutOrStdout(), out)
				}
				if errors.Is(err, client.ErrUnavailable) {
					e.log.Debug("daemon unavailable, mediating in-process", "socket", e.cfg.Server.Socket)
				} else {
					e.log.Warn("daemon request failed, mediating in-process", "error", err)
				}
			}

			out := mediator.New(e.mediatorOptions(nil)).HandleJSON(ctx, phase, raw)
			return writeHookOutput(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&phaseFlag, "phase", "", "pre|post (default: taken from hook_event_name)")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Forward to the agentguard daemon when it is running")
	return cmd
}

// hookPhase prefers the flag and falls back to the payload's
// hook_event_name. Undecodable input or an unknown event is treated as pre,
// which fails closed.
func hookPhase(flag string, raw []byte) (mediator.Phase, error) {
	if flag != "" {
		return mediator.ParsePhase(flag)
	}
	var probe struct {
		HookEventName string `json:"hook_event_name"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return mediator.PhasePre, nil
	}
	if p, err := mediator.ParsePhase(probe.HookEventName); err == nil {
		return p, nil
	}
	return mediator.PhasePre, nil
}

func denyOutput(reason string) *types.HookOutput {
	return &types.HookOutput{HookSpecificOutput: &types.HookSpecificOutput{
		HookEventName:            types.EventPreToolUse,
		PermissionDecision:       types.DecisionDeny,
		PermissionDecisionReason: reason,
	}}
}
