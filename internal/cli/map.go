package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentsh/agentguard/internal/pathmap"
)

func newMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Translate between real and virtual paths for this session",
	}
	cmd.AddCommand(
		newMapTextCmd("sanitize", "Replace real paths and identity in text (stdin when no args)", (*pathmap.Mapper).SanitizeText),
		newMapTextCmd("unsanitize", "Replace virtual paths in text with real ones (stdin when no args)", (*pathmap.Mapper).UnsanitizeText),
		newMapPathCmd("sanitize-path", "Map one real path to its virtual form", (*pathmap.Mapper).Sanitize),
		newMapPathCmd("unsanitize-path", "Map one virtual path back to the real path", (*pathmap.Mapper).Unsanitize),
		newMapListCmd(),
	)
	return cmd
}

type mapFunc func(*pathmap.Mapper, context.Context, string) (string, error)

func newMapTextCmd(use, short string, fn mapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [text...]",
		Short: short,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(b)
			}
			m, closeFn, err := e.mapper()
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := fn(m, ctx, text)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				out += "\n"
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		}),
	}
}

func newMapPathCmd(use, short string, fn mapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, closeFn, err := e.mapper()
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := fn(m, ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		}),
	}
}

func newMapListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the session's path mappings",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			m, closeFn, err := e.mapper()
			if err != nil {
				return err
			}
			defer closeFn()
			mp, err := m.Mappings(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, mp)
			}
			if len(mp.PathToSafe) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no mappings")
				return nil
			}
			paths := make([]string, 0, len(mp.PathToSafe))
			for p := range mp.PathToSafe {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			rows := make([][]any, 0, len(paths))
			for _, p := range paths {
				rows = append(rows, []any{mp.PathToSafe[p], p})
			}
			return printTable(cmd.OutOrStdout(), "VIRTUAL\tPATH", rows)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw mapping document")
	return cmd
}
