package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "session:\n  uid: \"42\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.BaseURL != "https://bbs.nga.cn" {
		t.Fatalf("unexpected base url %q", cfg.Crawler.BaseURL)
	}
	if got := cfg.Crawler.Sections; len(got) != 4 || got[0] != 7 || got[3] != 624 {
		t.Fatalf("unexpected default sections %v", got)
	}
	if cfg.Crawler.MaxPagesPerSection != 5 || cfg.Crawler.MaxRepliesPerThread != 20 || cfg.Crawler.MaxItems != 100 {
		t.Fatalf("unexpected crawl budgets: %+v", cfg.Crawler)
	}
	if cfg.Crawler.RetryTimes != 3 || len(cfg.Crawler.RetryHTTPCodes) != 5 {
		t.Fatalf("unexpected retry settings: %+v", cfg.Crawler)
	}
	if cfg.Throttle.MinDelay != 5*time.Second || cfg.Throttle.MaxDelay != 10*time.Second {
		t.Fatalf("unexpected throttle bounds: %+v", cfg.Throttle)
	}
	if cfg.Classify.ChunkSize != 500 || cfg.Classify.SentimentThreshold != 0.3 || cfg.Classify.RiskThreshold != 2 {
		t.Fatalf("unexpected classify settings: %+v", cfg.Classify)
	}
	if cfg.Alert.Channel != "log" || cfg.Sentiment.Provider != "lexicon" {
		t.Fatalf("unexpected channel/provider: %q/%q", cfg.Alert.Channel, cfg.Sentiment.Provider)
	}
	if cfg.Output.Path != "output.json" {
		t.Fatalf("unexpected output path %q", cfg.Output.Path)
	}

	params := cfg.RunParams()
	if params.UID != "42" || len(params.Sections) != 4 {
		t.Fatalf("unexpected run params: %+v", params)
	}
	if err := params.Validate(); err != nil {
		t.Fatalf("default run params should validate: %v", err)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
session:
  uid: "1001"
  cookie: "ngaPassportCid=abc"
crawler:
  sections: [459]
  max_items: 0
  concurrency: 6
  retry_http_codes: [503]
proxy:
  list:
    - "http://p1:8080, http://p2:8080"
    - "http://p3:8080"
classify:
  keywords: ["退款", "封号"]
storage:
  sqlite:
    enabled: true
alert:
  channel: webhook
  webhook_url: https://hooks.example.com/alert
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.MaxItems != 0 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.Settings().RetryHTTPCodes; len(got) != 1 || got[0] != 503 {
		t.Fatalf("unexpected retry codes %v", got)
	}
	if len(cfg.Proxy.List) != 3 || cfg.Proxy.List[1] != "http://p2:8080" {
		t.Fatalf("expected flattened proxy list, got %v", cfg.Proxy.List)
	}
	if len(cfg.Classify.Keywords) != 2 {
		t.Fatalf("unexpected keywords %v", cfg.Classify.Keywords)
	}
	if cfg.Storage.SQLite.Path != DefaultSQLitePath() {
		t.Fatalf("expected default sqlite path, got %q", cfg.Storage.SQLite.Path)
	}
	params := cfg.RunParams()
	if params.Cookie != "ngaPassportCid=abc" || len(params.Sections) != 1 || params.Sections[0] != 459 {
		t.Fatalf("unexpected run params %+v", params)
	}
}

func TestLoadKeepsZeroThresholds(t *testing.T) {
	cfg, err := Load(writeConfig(t, "classify:\n  sentiment_threshold: 0\n  risk_threshold: 0\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Classify.SentimentThreshold != 0 || cfg.Classify.RiskThreshold != 0 {
		t.Fatalf("expected explicit zero thresholds, got %+v", cfg.Classify)
	}

	if _, err := Load(writeConfig(t, "classify:\n  risk_threshold: -1\n")); err == nil || !strings.Contains(err.Error(), "classify.risk_threshold") {
		t.Fatalf("expected risk threshold error, got %v", err)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("NGA_SESSION_UID", "77")
	t.Setenv("NGA_CRAWLER_MAX_ITEMS", "5")
	t.Setenv("NGA_THROTTLE_MAX_DELAY", "2s")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load(writeConfig(t, "throttle:\n  min_delay: 1s\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.UID != "77" || cfg.Crawler.MaxItems != 5 {
		t.Fatalf("expected env overrides, got uid=%q max_items=%d", cfg.Session.UID, cfg.Crawler.MaxItems)
	}
	if ts := cfg.ThrottleSettings(); ts.MinDelay != time.Second || ts.MaxDelay != 2*time.Second {
		t.Fatalf("unexpected throttle settings %+v", ts)
	}
	if cfg.Sentiment.Gemini.APIKey != "gemini-key" {
		t.Fatalf("expected GEMINI_API_KEY fallback, got %q", cfg.Sentiment.Gemini.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler: CrawlerConfig{
			BaseURL:            "https://bbs.nga.cn",
			Concurrency:        1,
			MaxPagesPerSection: 1,
			RequestTimeout:     time.Second,
			ShutdownTimeout:    time.Second,
		},
		Classify: ClassifyConfig{SentimentThreshold: 0.3},
		Server:   ServerConfig{Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "non-numeric uid", mutate: func(c *Config) { c.Session.UID = "abc" }, want: "session.uid"},
		{name: "negative section", mutate: func(c *Config) { c.Crawler.Sections = []int{-1} }, want: "crawler.sections"},
		{name: "threshold out of range", mutate: func(c *Config) { c.Classify.SentimentThreshold = 1.5 }, want: "classify.sentiment_threshold"},
		{name: "negative threshold", mutate: func(c *Config) { c.Classify.SentimentThreshold = -0.1 }, want: "classify.sentiment_threshold"},
		{name: "negative risk threshold", mutate: func(c *Config) { c.Classify.RiskThreshold = -1 }, want: "classify.risk_threshold"},
		{name: "negative chunk size", mutate: func(c *Config) { c.Classify.ChunkSize = -5 }, want: "classify.chunk_size"},
		{name: "webhook without url", mutate: func(c *Config) { c.Alert.Channel = "webhook" }, want: "alert.webhook_url"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.Alert.Channel = "pubsub" }, want: "alert.pubsub"},
		{name: "unknown channel", mutate: func(c *Config) { c.Alert.Channel = "sms" }, want: "alert.channel"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
