package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/config"
	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/logging"
	"github.com/JakeFAU/nga-monitor/internal/monitor"
	"github.com/JakeFAU/nga-monitor/internal/server"
)

var cfgFile string

// envKey is the key for storing the loaded environment in the command context.
type envKey struct{}

// cliEnv carries what every subcommand needs.
type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

// App is the part of the application the commands drive. It is an interface
// so tests can substitute a fake.
type App interface {
	Crawl(ctx context.Context, params crawler.RunParams) (monitor.Status, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, rt *cliEnv) (App, error) {
	app, err := server.Build(ctx, rt.cfg, rt.logger, server.Options{})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nga-monitor",
		Short: "Monitors NGA forum sections for negative, high-risk posts.",
		Long: `nga-monitor crawls configured NGA forum sections, extracts each thread's
body and replies, scores the text for sentiment and risk keywords, and raises
an alert for posts that are both negative and keyword-heavy.`,
		SilenceUsage: true,

		// Runs before every subcommand: load .env, config, and the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &cliEnv{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(envKey{}).(*cliEnv); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./nga-monitor.yaml, then $XDG_CONFIG_HOME/nga-monitor/nga-monitor.yaml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExportCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*cliEnv, error) {
	rt, ok := ctx.Value(envKey{}).(*cliEnv)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context, which stops an active crawl cooperatively.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
