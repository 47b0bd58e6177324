// Package config loads and validates monitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/policy/throttle"
	"github.com/JakeFAU/nga-monitor/internal/proxy"
)

// AppName names the config file and the XDG directories.
const AppName = "nga-monitor"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Session   SessionConfig   `mapstructure:"session"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Headers   HeadersConfig   `mapstructure:"headers"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Output    OutputConfig    `mapstructure:"output"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SessionConfig identifies the forum account.
type SessionConfig struct {
	UID    string `mapstructure:"uid"`
	Cookie string `mapstructure:"cookie"`
}

// CrawlerConfig governs the crawl controller.
type CrawlerConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Sections            []int         `mapstructure:"sections"`
	MaxPagesPerSection  int           `mapstructure:"max_pages_per_section"`
	MaxRepliesPerThread int           `mapstructure:"max_replies_per_thread"`
	MaxItems            int           `mapstructure:"max_items"`
	Concurrency         int           `mapstructure:"concurrency"`
	RetryTimes          int           `mapstructure:"retry_times"`
	RetryHTTPCodes      []int         `mapstructure:"retry_http_codes"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	LoginMarkers        []string      `mapstructure:"login_markers"`
	MaxBodyBytes        int           `mapstructure:"max_body_bytes"`
}

// ThrottleConfig bounds the adaptive request delay.
type ThrottleConfig struct {
	StartDelay        time.Duration `mapstructure:"start_delay"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	TargetConcurrency float64       `mapstructure:"target_concurrency"`
}

// ProxyConfig lists egress proxies. Entries may themselves hold newline- or
// comma-separated lists.
type ProxyConfig struct {
	List []string `mapstructure:"list"`
}

// HeadersConfig overrides the User-Agent pool.
type HeadersConfig struct {
	UserAgents []string `mapstructure:"user_agents"`
}

// ClassifyConfig tunes the classification pipeline.
type ClassifyConfig struct {
	ChunkSize          int      `mapstructure:"chunk_size"`
	Keywords           []string `mapstructure:"keywords"`
	SentimentThreshold float64  `mapstructure:"sentiment_threshold"`
	RiskThreshold      int      `mapstructure:"risk_threshold"`
}

// SentimentConfig selects the sentiment scorer.
type SentimentConfig struct {
	Provider string                `mapstructure:"provider"`
	HTTP     SentimentHTTPConfig   `mapstructure:"http"`
	Gemini   SentimentGeminiConfig `mapstructure:"gemini"`
}

// SentimentHTTPConfig points at a generic scoring service.
type SentimentHTTPConfig struct {
	URL string `mapstructure:"url"`
}

// SentimentGeminiConfig configures the Gemini scorer.
type SentimentGeminiConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// AlertConfig selects the alert channel.
type AlertConfig struct {
	Channel    string       `mapstructure:"channel"`
	WebhookURL string       `mapstructure:"webhook_url"`
	PubSub     PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds the alert topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// OutputConfig names the run artifacts.
type OutputConfig struct {
	Path       string `mapstructure:"path"`
	ReportPath string `mapstructure:"report_path"`
}

// StorageConfig enables the optional record sinks and snapshot archives.
type StorageConfig struct {
	Postgres   PostgresConfig `mapstructure:"postgres"`
	SQLite     SQLiteConfig   `mapstructure:"sqlite"`
	GCS        GCSConfig      `mapstructure:"gcs"`
	ArchiveDir string         `mapstructure:"archive_dir"`
}

// PostgresConfig enables the Postgres record sink when DSN is set.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig enables the embedded record sink.
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// GCSConfig enables snapshot uploads when Bucket is set.
type GCSConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	LogEnabled   bool          `mapstructure:"log_enabled"`
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxBatch     int           `mapstructure:"max_batch"`
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout  time.Duration `mapstructure:"sink_timeout"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional YAML file and NGA_*
// environment variables. With an empty path the file is looked up as
// nga-monitor.yaml in the working directory, then in the XDG config dir.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("sentiment.gemini.api_key", "NGA_SENTIMENT_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.uid", "")
	v.SetDefault("session.cookie", "")
	v.SetDefault("crawler.base_url", "https://bbs.nga.cn")
	v.SetDefault("crawler.sections", []int{7, 459, 422, 624})
	v.SetDefault("crawler.max_pages_per_section", 5)
	v.SetDefault("crawler.max_replies_per_thread", 20)
	v.SetDefault("crawler.max_items", 100)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.retry_times", 3)
	v.SetDefault("crawler.retry_http_codes", crawler.DefaultRetryHTTPCodes)
	v.SetDefault("crawler.request_timeout", 30*time.Second)
	v.SetDefault("crawler.shutdown_timeout", 10*time.Second)
	v.SetDefault("crawler.login_markers", []string{"login.php"})
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("throttle.start_delay", 3*time.Second)
	v.SetDefault("throttle.min_delay", 5*time.Second)
	v.SetDefault("throttle.max_delay", 10*time.Second)
	v.SetDefault("throttle.target_concurrency", 3.0)
	v.SetDefault("proxy.list", []string{})
	v.SetDefault("headers.user_agents", []string{})
	v.SetDefault("classify.chunk_size", 500)
	v.SetDefault("classify.keywords", []string{})
	v.SetDefault("classify.sentiment_threshold", 0.3)
	v.SetDefault("classify.risk_threshold", 2)
	v.SetDefault("sentiment.provider", "lexicon")
	v.SetDefault("sentiment.http.url", "")
	v.SetDefault("sentiment.gemini.model", "gemini-2.0-flash")
	v.SetDefault("sentiment.gemini.api_key", "")
	v.SetDefault("alert.channel", "log")
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.pubsub.project_id", "")
	v.SetDefault("alert.pubsub.topic", "")
	v.SetDefault("output.path", "output.json")
	v.SetDefault("output.report_path", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "nga_posts")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.sqlite.enabled", false)
	v.SetDefault("storage.sqlite.path", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", AppName)
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.archive_dir", "")
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch", 500)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
}

func (c *Config) normalize() {
	var proxies []string
	for _, entry := range c.Proxy.List {
		proxies = append(proxies, proxy.ParseList(entry)...)
	}
	c.Proxy.List = proxies
	if c.Storage.SQLite.Enabled && c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = DefaultSQLitePath()
	}
	if len(c.Classify.Keywords) == 0 {
		c.Classify.Keywords = nil
	}
	if len(c.Headers.UserAgents) == 0 {
		c.Headers.UserAgents = nil
	}
}

// DefaultSQLitePath is the database location under the XDG data dir.
func DefaultSQLitePath() string {
	return filepath.Join(xdg.DataHome, AppName, "nga.db")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Settings().Validate(); err != nil {
		return err
	}
	if c.Session.UID != "" {
		if err := crawler.ValidateUID(c.Session.UID); err != nil {
			return fmt.Errorf("session.uid: %w", err)
		}
	}
	for _, s := range c.Crawler.Sections {
		if s <= 0 {
			return fmt.Errorf("crawler.sections: section %d must be > 0", s)
		}
	}
	if c.Crawler.MaxPagesPerSection < 1 {
		return fmt.Errorf("crawler.max_pages_per_section must be >= 1")
	}
	if c.Crawler.MaxItems < 0 {
		return fmt.Errorf("crawler.max_items must be >= 0")
	}
	if c.Throttle.MinDelay < 0 || c.Throttle.MaxDelay < 0 {
		return fmt.Errorf("throttle delays must be >= 0")
	}
	if c.Classify.SentimentThreshold < 0 || c.Classify.SentimentThreshold > 1 {
		return fmt.Errorf("classify.sentiment_threshold must be within [0, 1]")
	}
	if c.Classify.RiskThreshold < 0 {
		return fmt.Errorf("classify.risk_threshold must be >= 0")
	}
	if c.Classify.ChunkSize < 0 {
		return fmt.Errorf("classify.chunk_size must be >= 0")
	}
	switch c.Alert.Channel {
	case "", "log":
	case "webhook":
		if c.Alert.WebhookURL == "" {
			return fmt.Errorf("alert.webhook_url is required for the webhook channel")
		}
	case "pubsub":
		if c.Alert.PubSub.ProjectID == "" || c.Alert.PubSub.Topic == "" {
			return fmt.Errorf("alert.pubsub.project_id and alert.pubsub.topic are required for the pubsub channel")
		}
	default:
		return fmt.Errorf("unknown alert.channel %q", c.Alert.Channel)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Settings returns the crawl controller knobs.
func (c Config) Settings() crawler.Settings {
	return crawler.Settings{
		BaseURL:         c.Crawler.BaseURL,
		Concurrency:     c.Crawler.Concurrency,
		RetryTimes:      c.Crawler.RetryTimes,
		RetryHTTPCodes:  c.Crawler.RetryHTTPCodes,
		RequestTimeout:  c.Crawler.RequestTimeout,
		ShutdownTimeout: c.Crawler.ShutdownTimeout,
		LoginMarkers:    c.Crawler.LoginMarkers,
	}
}

// RunParams returns the per-run parameters configured for a crawl. Callers
// override individual fields from flags or API requests.
func (c Config) RunParams() crawler.RunParams {
	sections := make([]crawler.SectionID, len(c.Crawler.Sections))
	for i, s := range c.Crawler.Sections {
		sections[i] = crawler.SectionID(s)
	}
	return crawler.RunParams{
		Sections:            sections,
		MaxPagesPerSection:  c.Crawler.MaxPagesPerSection,
		MaxRepliesPerThread: c.Crawler.MaxRepliesPerThread,
		MaxItems:            c.Crawler.MaxItems,
		UID:                 c.Session.UID,
		Cookie:              c.Session.Cookie,
	}
}

// ThrottleSettings converts the throttle section.
func (c Config) ThrottleSettings() throttle.Config {
	return throttle.Config{
		StartDelay:        c.Throttle.StartDelay,
		MinDelay:          c.Throttle.MinDelay,
		MaxDelay:          c.Throttle.MaxDelay,
		TargetConcurrency: c.Throttle.TargetConcurrency,
	}
}
