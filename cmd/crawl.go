package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/proxy"
)

type crawlFlags struct {
	fids     string
	pages    int
	replies  int
	uid      string
	cookie   string
	proxies  string
	maxItems int
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl to
// completion using the configured sections unless flags override them.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl of the configured sections",
		Long: `Crawls each section's index pages, fetches every listed thread, classifies
the post body and writes records to the output file. Ctrl-C requests a
cooperative stop; in-flight requests are cancelled after the shutdown timeout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.fids, "fid", "", "comma-separated section ids (default from crawler.sections)")
	f.IntVar(&flags.pages, "pages", 0, "index pages per section")
	f.IntVar(&flags.replies, "replies", 0, "replies kept per thread")
	f.StringVar(&flags.uid, "uid", "", "forum user id")
	f.StringVar(&flags.cookie, "cookie", "", "raw cookie string")
	f.StringVar(&flags.proxies, "proxies", "", "comma- or newline-separated proxy endpoints")
	f.IntVar(&flags.maxItems, "max-items", 0, "stop after this many records; 0 disables the cap")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, flags crawlFlags) error {
	env, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	params, err := applyCrawlFlags(cmd, env.cfg.RunParams(), flags)
	if err != nil {
		return err
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

	status, err := app.Crawl(cmd.Context(), params)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	env.logger.Info("crawl command finished",
		zap.String("run_id", status.RunID),
		zap.Int64("records", status.Records),
		zap.Int64("alerts", status.Alerts),
		zap.Ints("halted_sections", status.HaltedSections),
		zap.Strings("artifacts", status.Artifacts),
	)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d records, %d alerts -> %s\n",
		status.RunID, status.Records, status.Alerts, env.cfg.Output.Path)
	return nil
}

// applyCrawlFlags overlays explicitly set flags on the configured params.
func applyCrawlFlags(cmd *cobra.Command, params crawler.RunParams, flags crawlFlags) (crawler.RunParams, error) {
	f := cmd.Flags()
	if f.Changed("fid") {
		sections, err := crawler.ParseSections(flags.fids)
		if err != nil {
			return params, fmt.Errorf("--fid: %w", err)
		}
		params.Sections = sections
	}
	if f.Changed("pages") {
		params.MaxPagesPerSection = flags.pages
	}
	if f.Changed("replies") {
		params.MaxRepliesPerThread = flags.replies
	}
	if f.Changed("uid") {
		params.UID = flags.uid
	}
	if f.Changed("cookie") {
		params.Cookie = flags.cookie
	}
	if f.Changed("proxies") {
		params.Proxies = proxy.ParseList(flags.proxies)
	}
	if f.Changed("max-items") {
		params.MaxItems = flags.maxItems
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}
