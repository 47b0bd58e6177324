package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/monitor"
)

type fakeApp struct {
	params crawler.RunParams
	closed bool
}

func (f *fakeApp) Crawl(_ context.Context, params crawler.RunParams) (monitor.Status, error) {
	f.params = params
	return monitor.Status{State: monitor.StateIdle, RunID: "run-1", Records: 3, Alerts: 1}, nil
}

func (f *fakeApp) Serve(context.Context) error { return nil }

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	app := &fakeApp{}
	orig := newApp
	newApp = func(context.Context, *cliEnv) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
	return app
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "nga-monitor.yaml")
	body := "session:\n  uid: \"42\"\noutput:\n  path: " + filepath.Join(dir, "output.json") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandAppliesFlags(t *testing.T) {
	app := withFakeApp(t)
	cfg := writeConfig(t, t.TempDir())

	out, err := execute(t, "--config", cfg, "crawl",
		"--fid", "459,7,459", "--pages", "2", "--max-items", "10", "--proxies", "http://a:1,http://b:2")
	require.NoError(t, err)

	assert.Equal(t, []crawler.SectionID{459, 7}, app.params.Sections)
	assert.Equal(t, 2, app.params.MaxPagesPerSection)
	assert.Equal(t, 10, app.params.MaxItems)
	assert.Equal(t, 20, app.params.MaxRepliesPerThread)
	assert.Equal(t, "42", app.params.UID)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, app.params.Proxies)
	assert.True(t, app.closed)
	assert.Contains(t, out, "run run-1: 3 records, 1 alerts")
}

func TestCrawlCommandRejectsBadFlags(t *testing.T) {
	withFakeApp(t)
	cfg := writeConfig(t, t.TempDir())

	_, err := execute(t, "--config", cfg, "crawl", "--fid", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--fid")

	_, err = execute(t, "--config", cfg, "crawl", "--uid", "x1")
	require.ErrorIs(t, err, crawler.ErrInvalidUID)
}

func TestApplyCrawlFlagsKeepsConfigWhenUnset(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("fid", "", "")
	base := crawler.RunParams{Sections: []crawler.SectionID{7}, MaxPagesPerSection: 5, UID: "1"}

	got, err := applyCrawlFlags(cmd, base, crawlFlags{fids: "459"})
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	score := 0.1
	records := []crawler.PostRecord{
		{Section: 7, PostID: 1, Title: "退款", URL: "https://bbs.nga.cn/read.php?tid=1", Sentiment: &score, RiskLevel: 2, Alerted: true},
		{Section: 7, PostID: 2, Title: "日常", URL: "https://bbs.nga.cn/read.php?tid=2"},
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output.json"), data, 0o600))

	csvPath := filepath.Join(dir, "posts.csv")
	reportPath := filepath.Join(dir, "report.md")
	_, err = execute(t, "--config", cfg, "export", "--out", csvPath, "--report", reportPath)
	require.NoError(t, err)

	csv, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "id,title,author")

	md, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "退款")

	_, err = execute(t, "--config", cfg, "export")
	require.Error(t, err)

	_, err = execute(t, "--config", cfg, "export", "--out", filepath.Join(dir, "posts.pdf"))
	require.Error(t, err)
}
