// Package server builds the monitor's dependency graph from configuration
// and runs it either as a one-off crawl or as the HTTP control surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/alert"
	"github.com/JakeFAU/nga-monitor/internal/api"
	"github.com/JakeFAU/nga-monitor/internal/classify"
	"github.com/JakeFAU/nga-monitor/internal/clock/system"
	"github.com/JakeFAU/nga-monitor/internal/config"
	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/nga-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/nga-monitor/internal/headers"
	"github.com/JakeFAU/nga-monitor/internal/id/uuid"
	"github.com/JakeFAU/nga-monitor/internal/metrics"
	"github.com/JakeFAU/nga-monitor/internal/monitor"
	"github.com/JakeFAU/nga-monitor/internal/policy/throttle"
	"github.com/JakeFAU/nga-monitor/internal/progress"
	progresssinks "github.com/JakeFAU/nga-monitor/internal/progress/sinks"
	"github.com/JakeFAU/nga-monitor/internal/proxy"
	gcppublisher "github.com/JakeFAU/nga-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/nga-monitor/internal/sentiment"
	"github.com/JakeFAU/nga-monitor/internal/storage"
	gcsstorage "github.com/JakeFAU/nga-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/nga-monitor/internal/storage/local"
	pgstore "github.com/JakeFAU/nga-monitor/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/nga-monitor/internal/storage/sqlite"
	"github.com/JakeFAU/nga-monitor/internal/store"
)

// Options adjust Build for embedding and tests.
type Options struct {
	// Registerer receives the progress metrics. Defaults to the global
	// Prometheus registerer.
	Registerer prometheus.Registerer
	// HTTPClient is used by the webhook channel and the HTTP scorer.
	HTTPClient *http.Client
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	base       context.Context
	cancelBase context.CancelFunc

	monitor   *monitor.Manager
	apiServer *api.Server
	hub       *progress.Hub
	stats     *progresssinks.StatsSink
	records   *store.JSONStore
	publisher *gcppublisher.Publisher
	gcs       *gcsstorage.BlobStore
	postgres  *pgstore.RecordStore
	sqlite    *sqlitestore.RecordStore
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.Crawler.RequestTimeout}
	}
	metrics.Init()

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app = &App{cfg: cfg, logger: logger, base: base, cancelBase: cancel}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.Ints("sections", cfg.Crawler.Sections),
		zap.String("alert_channel", cfg.Alert.Channel),
		zap.String("sentiment_provider", cfg.Sentiment.Provider),
		zap.Int("proxies", len(cfg.Proxy.List)),
	)

	if err = app.setupProgress(opts.Registerer); err != nil {
		return app, err
	}
	sinks, err := app.setupRecordSinks(ctx)
	if err != nil {
		return app, err
	}
	snapshots, err := app.setupSnapshots(ctx)
	if err != nil {
		return app, err
	}
	classifier, err := app.setupClassifier(ctx, opts.HTTPClient)
	if err != nil {
		return app, err
	}
	emitter, err := app.setupAlerts(ctx, opts.HTTPClient)
	if err != nil {
		return app, err
	}

	dispatch, err := dispatcher.New(cfg.Settings(), dispatcher.Components{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			Timeout:     cfg.Crawler.RequestTimeout,
			MaxBodySize: cfg.Crawler.MaxBodyBytes,
		}),
		Throttle:   throttle.New(cfg.ThrottleSettings()),
		Headers:    headers.New(cfg.Crawler.BaseURL, cfg.Headers.UserAgents),
		Classifier: classifier,
		Alerts:     emitter,
		Proxies:    proxy.NewBalancer(cfg.Proxy.List),
		Sinks:      sinks,
		Clock:      system.New(),
		IDs:        uuid.New(),
		Events:     app.hub,
	}, logger.Named("dispatcher"))
	if err != nil {
		return app, fmt.Errorf("dispatcher init failed: %w", err)
	}

	monitorDeps := monitor.Deps{
		Dispatcher: dispatch,
		Store:      app.records,
		Stats:      app.stats,
		Clock:      system.New(),
	}
	if snapshots != nil {
		monitorDeps.Snapshots = snapshots
	}
	app.monitor = monitor.New(base, monitor.Config{ReportPath: cfg.Output.ReportPath}, monitorDeps, logger.Named("monitor"))

	var history api.AlertHistory
	if app.sqlite != nil {
		history = app.sqlite
	}
	app.apiServer = api.NewServer(app.monitor, history, api.Config{
		Defaults:    cfg.RunParams(),
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger.Named("api"))
	return app, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	a.stats = progresssinks.NewStatsSink()
	sinkList := []progress.Sink{a.stats}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatch,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    a.base,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupRecordSinks(ctx context.Context) ([]crawler.RecordSink, error) {
	var err error
	a.records, err = store.New(a.cfg.Output.Path)
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}
	sinks := []crawler.RecordSink{a.records}
	a.logger.Info("record file",
		zap.String("path", a.records.Path()),
		zap.Int("existing_records", a.records.Len()),
	)

	if a.cfg.Storage.Postgres.DSN != "" {
		pg := a.cfg.Storage.Postgres
		a.postgres, err = pgstore.NewRecordStore(ctx, pgstore.Config{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		if err := a.postgres.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		sinks = append(sinks, a.postgres)
		a.logger.Info("postgres record sink enabled", zap.String("table", pg.Table))
	}

	if a.cfg.Storage.SQLite.Enabled {
		a.sqlite, err = sqlitestore.Open(a.cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite record store init failed: %w", err)
		}
		sinks = append(sinks, a.sqlite)
		a.logger.Info("sqlite record sink enabled", zap.String("path", a.cfg.Storage.SQLite.Path))
	}
	return sinks, nil
}

func (a *App) setupSnapshots(ctx context.Context) (*storage.Snapshotter, error) {
	var blobs storage.BlobStore
	switch {
	case a.cfg.Storage.GCS.Bucket != "":
		gcs, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:   a.cfg.Storage.GCS.Bucket,
			Endpoint: a.cfg.Storage.GCS.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = gcs
		blobs = gcs
		a.logger.Info("snapshots upload to GCS", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
	case a.cfg.Storage.ArchiveDir != "":
		local, err := localstorage.New(a.cfg.Storage.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
		a.logger.Info("snapshots archived locally", zap.String("dir", a.cfg.Storage.ArchiveDir))
	default:
		return nil, nil
	}
	return storage.NewSnapshotter(blobs, a.cfg.Storage.GCS.Prefix, a.logger.Named("snapshot")), nil
}

func (a *App) setupClassifier(ctx context.Context, client *http.Client) (*classify.Pipeline, error) {
	scorer, err := sentiment.New(ctx, sentiment.Config{
		Provider:     a.cfg.Sentiment.Provider,
		HTTPEndpoint: a.cfg.Sentiment.HTTP.URL,
		GeminiAPIKey: a.cfg.Sentiment.Gemini.APIKey,
		GeminiModel:  a.cfg.Sentiment.Gemini.Model,
		HTTPClient:   client,
	}, a.logger.Named("sentiment"))
	if err != nil {
		return nil, fmt.Errorf("sentiment scorer init failed: %w", err)
	}
	return classify.New(scorer, classify.Config{
		ChunkSize:          a.cfg.Classify.ChunkSize,
		Keywords:           a.cfg.Classify.Keywords,
		SentimentThreshold: a.cfg.Classify.SentimentThreshold,
		RiskThreshold:      a.cfg.Classify.RiskThreshold,
	}, a.logger.Named("classify")), nil
}

func (a *App) setupAlerts(ctx context.Context, client *http.Client) (*alert.Emitter, error) {
	var channel alert.Channel
	switch a.cfg.Alert.Channel {
	case "webhook":
		hook, err := alert.NewWebhookChannel(a.cfg.Alert.WebhookURL, client)
		if err != nil {
			return nil, fmt.Errorf("webhook channel init failed: %w", err)
		}
		channel = hook
	case "pubsub":
		ps := a.cfg.Alert.PubSub
		pub, err := gcppublisher.Dial(ctx, ps.ProjectID, ps.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		channel = alert.NewPublisherChannel(pub, ps.Topic)
		a.logger.Info("Pub/Sub alert channel initialized",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.Topic),
		)
	default:
		channel = alert.NewLogChannel(a.logger.Named("alerts"))
	}
	return alert.NewEmitter(channel, a.logger.Named("alert")), nil
}

// Monitor exposes the run manager.
func (a *App) Monitor() *monitor.Manager {
	return a.monitor
}

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Crawl runs a single crawl to completion. Cancelling ctx requests a
// cooperative stop.
func (a *App) Crawl(ctx context.Context, params crawler.RunParams) (monitor.Status, error) {
	runID, err := a.monitor.Start(ctx, params)
	if err != nil {
		return monitor.Status{}, err
	}
	a.logger.Info("crawl started", zap.String("run_id", runID))

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			if err := a.monitor.Stop(); err != nil && !errors.Is(err, crawler.ErrNotRunning) {
				a.logger.Warn("stop failed", zap.Error(err))
			}
		case <-stopWatch:
		}
	}()

	runErr := a.monitor.Wait(context.WithoutCancel(ctx))
	return a.monitor.Status(), runErr
}

// Serve runs the HTTP control surface until ctx is cancelled, then stops any
// active run and shuts the server down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			a.logger.Error("http server error", zap.Error(err))
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Crawler.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.monitor.Stop(); err == nil {
		if err := a.monitor.Wait(shutdownCtx); err != nil {
			a.logger.Warn("crawl run ended with error", zap.Error(err))
		}
	}
	return serveErr
}

// Close releases every resource held by the app. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.cancelBase != nil {
		a.cancelBase()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
