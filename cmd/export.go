package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/export"
	"github.com/JakeFAU/nga-monitor/internal/progress/sinks"
	"github.com/JakeFAU/nga-monitor/internal/report"
	"github.com/JakeFAU/nga-monitor/internal/store"
)

type exportFlags struct {
	input  string
	out    string
	format string
	report string
}

func newExportCmd() *cobra.Command {
	var flags exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Converts a record file to xlsx or csv",
		Long: `Reads a record file written by a crawl and writes it as a spreadsheet.
The format follows --format, else the extension of --out. --report also
renders the markdown alert report for the same records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExportCommand(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.input, "input", "", "record file (default from output.path)")
	f.StringVar(&flags.out, "out", "", "destination file, e.g. posts.xlsx")
	f.StringVar(&flags.format, "format", "", "xlsx or csv")
	f.StringVar(&flags.report, "report", "", "also write a markdown report to this path")
	return cmd
}

func runExportCommand(cmd *cobra.Command, flags exportFlags) error {
	env, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if flags.out == "" && flags.report == "" {
		return errors.New("--out or --report is required")
	}
	input := flags.input
	if input == "" {
		input = env.cfg.Output.Path
	}
	records, err := store.Load(input)
	if err != nil {
		return err
	}

	if flags.out != "" {
		hint := flags.format
		if hint == "" {
			hint = flags.out
		}
		format, err := export.ParseFormat(hint)
		if err != nil {
			return err
		}
		if err := writeExport(flags.out, format, records); err != nil {
			return err
		}
		env.logger.Info("records exported",
			zap.String("input", input),
			zap.String("out", flags.out),
			zap.String("format", string(format)),
			zap.Int("records", len(records)),
		)
	}

	if flags.report != "" {
		stats := sinks.Stats{
			FinishedAt:   time.Now(),
			Records:      int64(len(records)),
			RecordsByFID: make(map[string]int64),
		}
		for _, rec := range records {
			stats.RecordsByFID[rec.Section.String()]++
			if rec.Alerted {
				stats.Alerts++
			}
		}
		if err := report.WriteFile(flags.report, stats, records); err != nil {
			return err
		}
		env.logger.Info("report written", zap.String("path", flags.report))
	}
	return nil
}

func writeExport(path string, format export.Format, records []crawler.PostRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return export.Write(f, format, records)
}
