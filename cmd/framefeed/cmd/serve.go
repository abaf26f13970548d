package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"framefeed.com/internal/quotes/app"
	"github.com/spf13/cobra"
)

func newServeCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP / websocket frame service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, rc.configFile)
		},
	}
}
