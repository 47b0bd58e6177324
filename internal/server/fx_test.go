package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/config"
	"github.com/JakeFAU/nga-monitor/internal/store"
)

type board struct {
	webhooks atomic.Int64
}

func (b *board) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/thread.php":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"__T":{"0":{"tid":1,"subject":"退款问题","author":"a","replies":0,"postdate":1772323200},"1":{"tid":2,"subject":"晒图","author":"b","replies":1,"postdate":1772323300}},"__next__":0}}`)
	case "/read.php":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		body := "今天的活动很不错"
		if r.URL.Query().Get("tid") == "1" {
			body = "国服 bug 退款 垃圾"
		}
		_, _ = fmt.Fprintf(w, `<html><body><div id="postcontent0">%s</div></body></html>`, body)
	case "/hook":
		b.webhooks.Add(1)
		_, _ = io.WriteString(w, `{"errcode":0}`)
	default:
		http.NotFound(w, r)
	}
}

func loadConfig(t *testing.T, baseURL, dir string) config.Config {
	t.Helper()
	yaml := fmt.Sprintf(`
session:
  uid: "42"
crawler:
  base_url: %[1]q
  sections: [7]
  max_pages_per_section: 1
  shutdown_timeout: 1s
throttle:
  start_delay: 0s
  min_delay: 0s
  max_delay: 0s
alert:
  channel: webhook
  webhook_url: %[1]s/hook
output:
  path: %[2]s/output.json
  report_path: %[2]s/report.md
storage:
  sqlite:
    enabled: true
    path: %[2]s/nga.db
  archive_dir: %[2]s/archive
progress:
  log_enabled: false
`, baseURL, dir)
	path := filepath.Join(dir, "nga-monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuildCrawlEndToEnd(t *testing.T) {
	b := &board{}
	srv := httptest.NewServer(b)
	defer srv.Close()
	dir := t.TempDir()
	cfg := loadConfig(t, srv.URL, dir)

	app, err := Build(context.Background(), cfg, zap.NewNop(), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	status, err := app.Crawl(context.Background(), cfg.RunParams())
	require.NoError(t, err)

	assert.Equal(t, "idle", status.State)
	assert.Equal(t, int64(2), status.Records)
	assert.Equal(t, int64(1), status.Alerts)
	assert.Len(t, status.Artifacts, 2)
	assert.Equal(t, int64(1), b.webhooks.Load())

	records, err := store.Load(cfg.Output.Path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	_, err = os.Stat(cfg.Output.ReportPath)
	require.NoError(t, err)

	alerted, err := app.sqlite.Alerted(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, alerted, 1)
	assert.Equal(t, int64(1), alerted[0].PostID)

	api := httptest.NewServer(app.Handler())
	defer api.Close()
	resp, err := http.Get(api.URL + "/v1/alerts?fid=7")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":1`)
}

func TestBuildFailsOnBadSentimentProvider(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, "https://bbs.nga.cn", dir)
	cfg.Sentiment.Provider = "oracle"

	app, err := Build(context.Background(), cfg, zap.NewNop(), Options{Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "sentiment")
}

func TestCrawlRejectsInvalidParams(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, "https://bbs.nga.cn", dir)

	app, err := Build(context.Background(), cfg, zap.NewNop(), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	params := cfg.RunParams()
	params.Sections = nil
	_, err = app.Crawl(context.Background(), params)
	require.Error(t, err)
}
