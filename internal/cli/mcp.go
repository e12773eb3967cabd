package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/solo125812/st-voyageai-memory/internal/api/mcp"
)

func (a *app) cmdMCP(version string) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve memory tools to an AI assistant over stdio (Model Context Protocol)",
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.withRuntime(ctx, func(rt *runtime) error {
				srv := mcp.NewServer(rt.engine, mcp.WithVersion(version))
				err := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout).Serve(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
