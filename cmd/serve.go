package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP control surface",
		Long: `Starts the HTTP API used to start and stop crawls, read status and
records, export spreadsheets, and scrape Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				env.cfg.Server.Port = port
			}
			app, err := newApp(cmd.Context(), env)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					env.logger.Warn("failed to close application", zap.Error(cerr))
				}
			}()
			return app.Serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from server.port)")
	return cmd
}
