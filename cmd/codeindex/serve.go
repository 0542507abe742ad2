package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/mcp"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [path]",
		Short: "Serve the MCP tools on stdio",
		Long: `Start the MCP server. Tools: index_workspace, codebase_search,
get_index_status and parse_diff_payload. The optional path becomes the
active workspace before any index_workspace call.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := ""
			if len(args) > 0 || flags.workspace != "" {
				ws, err := flags.resolveWorkspace(args)
				if err != nil {
					return err
				}
				workspace = ws
			}

			srv, err := mcp.NewServer(workspace, flags.newManager, mcp.WithLogger(slog.Default()))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			slog.Info("codeindex MCP server starting", slog.String("version", version))
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ctx) }()

			select {
			case <-ctx.Done():
				slog.Info("shutting down")
				return srv.Close()
			case err := <-errCh:
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}
		},
	}
}
