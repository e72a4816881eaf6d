package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/mediator"
	"github.com/agentsh/agentguard/internal/server"
	"github.com/agentsh/agentguard/pkg/hotreload"
)

func newServeCmd() *cobra.Command {
	var socket string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mediator as a daemon on a unix socket",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			if socket == "" {
				socket = e.cfg.Server.Socket
			}
			perms, err := e.cfg.Server.FileMode()
			if err != nil {
				return err
			}

			var tables *server.TableCache
			watcher, err := hotreload.NewWatcher(hotreload.WatcherConfig{
				OnChange: func(path string) { tables.Invalidate(path) },
			})
			if err != nil {
				return err
			}
			tables = server.NewTableCache(e.levels, e.cfg.Paths.ConfigDir, watcher, e.log)

			s, err := server.New(server.Options{
				Socket:      socket,
				Permissions: perms,
				Handler:     mediator.New(e.mediatorOptions(tables)),
				Watcher:     watcher,
				Logger:      e.log,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.ErrOrStderr(), "agentguard daemon listening on %s\n", s.Path())
			return s.Run(ctx)
		}),
	}
	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket path (default server.socket)")
	return cmd
}
