// Package report renders a markdown summary of a finished crawl run with the
// records that raised alerts.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/progress/sinks"
)

const (
	titleWidth   = 30
	excerptWidth = 60
)

// Write renders the report for stats and the run's records to w.
func Write(w io.Writer, stats sinks.Stats, records []crawler.PostRecord) error {
	md := markdown.NewMarkdown(w)
	writeHeader(md, stats)
	writeSections(md, stats)
	writeAlerts(md, records)
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated %s*", time.Now().Format(crawler.TimeLayout))
	if err := md.Build(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteFile renders the report into path, replacing any previous file.
func WriteFile(path string, stats sinks.Stats, records []crawler.PostRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close report: %w", closeErr)
		}
	}()
	return Write(f, stats, records)
}

func writeHeader(md *markdown.Markdown, stats sinks.Stats) {
	md.H1("NGA 舆情监控报告")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + stats.RunID + "`"},
			{"Started", formatTime(stats.StartedAt)},
			{"Finished", formatTime(stats.FinishedAt)},
			{"Result", resultText(stats)},
			{"Index pages", strconv.FormatInt(stats.IndexFetches, 10)},
			{"Threads fetched", strconv.FormatInt(stats.ThreadFetches, 10)},
			{"Records", strconv.FormatInt(stats.Records, 10)},
			{"Alerts", strconv.FormatInt(stats.Alerts, 10)},
			{"Retries", strconv.FormatInt(stats.Retries, 10)},
			{"Abandoned requests", strconv.FormatInt(stats.Abandoned, 10)},
		},
	})
	md.PlainText("")

	if len(stats.HaltedSections) > 0 {
		halted := make([]string, len(stats.HaltedSections))
		for i, fid := range stats.HaltedSections {
			halted[i] = strconv.Itoa(fid)
		}
		md.Warningf("Session expired for sections %s; update cookies before the next run.", strings.Join(halted, ", "))
		md.PlainText("")
	}
}

func resultText(stats sinks.Stats) string {
	switch stats.Result {
	case "success":
		return "✅ Complete"
	case "error":
		return "❌ Error - " + stats.Error
	default:
		return "⏳ Running"
	}
}

func writeSections(md *markdown.Markdown, stats sinks.Stats) {
	if len(stats.RecordsByFID) == 0 {
		return
	}
	md.H2("Records by section")
	md.PlainText("")

	fids := make([]string, 0, len(stats.RecordsByFID))
	for fid := range stats.RecordsByFID {
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool {
		a, _ := strconv.Atoi(fids[i])
		b, _ := strconv.Atoi(fids[j])
		return a < b
	})

	chart := piechart.NewPieChart(io.Discard, piechart.WithTitle("Records by section"), piechart.WithShowData(true))
	rows := make([][]string, len(fids))
	for i, fid := range fids {
		n := stats.RecordsByFID[fid]
		rows[i] = []string{fid, strconv.FormatInt(n, 10)}
		if n > 0 {
			chart.LabelAndIntValue("fid "+fid, uint64(n))
		}
	}
	md.Table(markdown.TableSet{Header: []string{"fid", "Records"}, Rows: rows})
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func writeAlerts(md *markdown.Markdown, records []crawler.PostRecord) {
	md.H2("Alerts")
	md.PlainText("")

	var alerted []crawler.PostRecord
	for _, rec := range records {
		if rec.Alerted {
			alerted = append(alerted, rec)
		}
	}
	if len(alerted) == 0 {
		md.Tip("No record crossed the alert thresholds.")
		md.PlainText("")
		return
	}
	sort.SliceStable(alerted, func(i, j int) bool {
		if alerted[i].RiskLevel != alerted[j].RiskLevel {
			return alerted[i].RiskLevel > alerted[j].RiskLevel
		}
		return alerted[i].EffectiveSentiment() < alerted[j].EffectiveSentiment()
	})

	md.Cautionf("%d record(s) raised alerts.", len(alerted))
	md.PlainText("")
	rows := make([][]string, len(alerted))
	for i, rec := range alerted {
		keywords := strings.Join(rec.RiskKeywords, ", ")
		if keywords == "" {
			keywords = "-"
		}
		rows[i] = []string{
			fmt.Sprintf("[%s](%s)", truncate(rec.Title, titleWidth), rec.URL),
			strconv.Itoa(int(rec.Section)),
			fmt.Sprintf("%.2f", rec.EffectiveSentiment()),
			strconv.Itoa(rec.RiskLevel),
			keywords,
			truncate(oneLine(rec.Content), excerptWidth),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Title", "fid", "Sentiment", "Risk", "Keywords", "Excerpt"},
		Rows:   rows,
	})
	md.PlainText("")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(crawler.TimeLayout)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
