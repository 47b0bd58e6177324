// Package dispatcher drives a crawl run: it seeds the frontier with one index
// page per section, fans the frontier out to a bounded worker pool, enforces
// the global item cap, and coordinates cooperative shutdown.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/extract"
	"github.com/JakeFAU/nga-monitor/internal/progress"
	"github.com/JakeFAU/nga-monitor/internal/proxy"
	"github.com/JakeFAU/nga-monitor/internal/queue/memory"
	"github.com/JakeFAU/nga-monitor/internal/session"
	"github.com/JakeFAU/nga-monitor/internal/worker"
)

const recordBuffer = 64

// Components are the collaborators shared by every run.
type Components struct {
	Fetcher    crawler.Fetcher
	Throttle   crawler.Throttle
	Headers    crawler.HeaderBuilder
	Classifier crawler.Classifier
	Alerts     crawler.AlertEmitter
	// Proxies is used when a run does not bring its own proxy list.
	Proxies crawler.ProxySelector
	Sinks   []crawler.RecordSink
	Clock   crawler.Clock
	IDs     crawler.IDGenerator
	Events  progress.Emitter
}

// Dispatcher starts crawl runs.
type Dispatcher struct {
	settings crawler.Settings
	comp     Components
	retry    *crawler.RetryPolicy
	logger   *zap.Logger
}

// New validates the settings and returns a Dispatcher.
func New(settings crawler.Settings, comp Components, logger *zap.Logger) (*Dispatcher, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if comp.Fetcher == nil || comp.Throttle == nil || comp.Headers == nil ||
		comp.Classifier == nil || comp.Alerts == nil || comp.Clock == nil {
		return nil, errors.New("dispatcher: missing required component")
	}
	if comp.Proxies == nil {
		comp.Proxies = proxy.NewBalancer(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		settings: settings,
		comp:     comp,
		retry:    crawler.NewRetryPolicy(settings.RetryTimes, settings.RetryHTTPCodes),
		logger:   logger,
	}, nil
}

// Run starts a crawl and returns the record stream. The channel closes when
// the run ends. Configuration errors are returned before any request is
// issued.
func (d *Dispatcher) Run(ctx context.Context, params crawler.RunParams) (<-chan crawler.PostRecord, error) {
	run, err := d.Start(ctx, params)
	if err != nil {
		return nil, err
	}
	return run.Records(), nil
}

// Start validates params, seeds the frontier, and launches the worker pool.
// Cancelling ctx is equivalent to calling Stop on the returned Run.
func (d *Dispatcher) Start(ctx context.Context, params crawler.RunParams) (*Run, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	now := d.comp.Clock.Now()
	sess, err := session.New(params.UID, params.Cookie, now)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	runID, err := d.newRunID()
	if err != nil {
		return nil, err
	}

	proxies := d.comp.Proxies
	if len(params.Proxies) > 0 {
		proxies = proxy.NewBalancer(params.Proxies)
	}

	stopping, cancelStopping := context.WithCancel(context.Background())
	run := &Run{
		id:              runID,
		session:         sess,
		frontier:        memory.NewFrontier(),
		records:         make(chan crawler.PostRecord, recordBuffer),
		stopCh:          make(chan struct{}),
		stopping:        stopping,
		cancelStopping:  cancelStopping,
		done:            make(chan struct{}),
		maxItems:        params.MaxItems,
		sinks:           d.comp.Sinks,
		shutdownTimeout: d.settings.ShutdownTimeout,
		startedAt:       now,
		logger:          d.logger.With(zap.String("run_id", runID.String())),
	}

	for _, section := range params.Sections {
		sess.StartSection(section, params.MaxPagesPerSection)
		task := crawler.Task{
			Kind:    crawler.TaskIndex,
			Section: section,
			Page:    1,
			URL:     crawler.IndexURL(d.settings.BaseURL, section, 1, params.UID, now),
		}
		if err := run.frontier.Push(task); err != nil {
			cancelStopping()
			return nil, fmt.Errorf("seed section %s: %w", section, err)
		}
	}

	extractor := extract.New(params.MaxRepliesPerThread)
	threads := crawler.NewThreadTracker()
	workers := make([]*worker.Worker, d.settings.Concurrency)
	for i := range workers {
		workers[i] = worker.New(worker.Deps{
			Frontier:   run.frontier,
			Session:    sess,
			Fetcher:    d.comp.Fetcher,
			Throttle:   d.comp.Throttle,
			Proxies:    proxies,
			Headers:    d.comp.Headers,
			Extractor:  extractor,
			Classifier: d.comp.Classifier,
			Alerts:     d.comp.Alerts,
			Retry:      d.retry,
			Threads:    threads,
			Collector:  run,
			Clock:      d.comp.Clock,
			Events:     d.comp.Events,
			RunID:      progress.UUIDToBytes(runID),
			Stopping:   run.stopping,
		}, worker.Config{
			ID:           i + 1,
			BaseURL:      d.settings.BaseURL,
			LoginMarkers: d.settings.LoginMarkers,
		}, run.logger)
	}

	d.emit(runID, progress.Event{Stage: progress.StageRunStart})
	run.logger.Info("crawl run started",
		zap.Ints("sections", sectionInts(params.Sections)),
		zap.Int("max_pages_per_section", params.MaxPagesPerSection),
		zap.Int("max_items", params.MaxItems),
		zap.Int("workers", len(workers)),
	)
	go d.execute(ctx, run, workers)
	return run, nil
}

func (d *Dispatcher) execute(ctx context.Context, run *Run, workers []*worker.Worker) {
	// In-flight requests outlive ctx so they can finish during the drain;
	// the supervisor cancels workCtx once the shutdown timeout elapses.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	finished := make(chan struct{})
	go run.supervise(ctx, cancelWork, finished)

	g, gctx := errgroup.WithContext(workCtx)
	for _, w := range workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	err := g.Wait()
	close(finished)
	run.frontier.Close()

	elapsed := d.comp.Clock.Now().Sub(run.startedAt)
	run.finish(err)
	fields := []zap.Field{
		zap.Int64("records", run.Accepted()),
		zap.Bool("stopped", run.Stopped()),
		zap.Duration("elapsed", elapsed),
		zap.Ints("halted_sections", sectionInts(run.session.HaltedSections())),
	}
	if err != nil {
		d.emit(run.id, progress.Event{Stage: progress.StageRunError, Dur: nonNegative(elapsed), Note: err.Error()})
		run.logger.Error("crawl run failed", append(fields, zap.Error(err))...)
		return
	}
	d.emit(run.id, progress.Event{Stage: progress.StageRunDone, Dur: nonNegative(elapsed)})
	run.logger.Info("crawl run finished", fields...)
}

func (d *Dispatcher) newRunID() (uuid.UUID, error) {
	if d.comp.IDs == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("generate run id: %w", err)
		}
		return id, nil
	}
	raw, err := d.comp.IDs.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse run id %q: %w", raw, err)
	}
	return id, nil
}

func (d *Dispatcher) emit(runID uuid.UUID, evt progress.Event) {
	if d.comp.Events == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = d.comp.Clock.Now()
	d.comp.Events.Emit(evt)
}

// Run is a single crawl in progress. It is the worker pool's record
// collector.
type Run struct {
	id              uuid.UUID
	session         *session.Session
	frontier        *memory.Frontier
	records         chan crawler.PostRecord
	sinks           []crawler.RecordSink
	maxItems        int
	shutdownTimeout time.Duration
	startedAt       time.Time
	logger          *zap.Logger

	accepted atomic.Int64
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	// stopping is cancelled by Stop; workers check it before every request.
	stopping       context.Context
	cancelStopping context.CancelFunc

	done chan struct{}
	err  error
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id.String()
}

// StartedAt reports when the run was seeded.
func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

// Records streams finished records in completion order. Consumers must keep
// reading until the channel closes.
func (r *Run) Records() <-chan crawler.PostRecord {
	return r.records
}

// Accepted reports how many records the run has emitted.
func (r *Run) Accepted() int64 {
	n := r.accepted.Load()
	if r.maxItems > 0 && n > int64(r.maxItems) {
		return int64(r.maxItems)
	}
	return n
}

// HaltedSections lists sections stopped by session expiry or a 403.
func (r *Run) HaltedSections() []crawler.SectionID {
	return r.session.HaltedSections()
}

// Stop requests a cooperative shutdown: no new requests are issued and
// in-flight requests get the shutdown timeout to finish.
func (r *Run) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		r.cancelStopping()
		close(r.stopCh)
		r.frontier.Close()
	})
}

// Stopped reports whether Stop was called or the item cap was reached.
func (r *Run) Stopped() bool {
	return r.stopped.Load()
}

// Done is closed once every worker has exited and Records is closed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its error, if any.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Accept fans a record out to the sinks and the record stream, honoring the
// global item cap.
func (r *Run) Accept(ctx context.Context, record crawler.PostRecord) bool {
	n := r.accepted.Add(1)
	if r.maxItems > 0 && n > int64(r.maxItems) {
		return false
	}
	for _, sink := range r.sinks {
		if err := sink.Append(ctx, record); err != nil {
			r.logger.Error("record sink append failed",
				zap.Int64("post_id", record.PostID),
				zap.Error(err),
			)
		}
	}
	select {
	case r.records <- record:
	case <-ctx.Done():
		return false
	}
	if r.maxItems > 0 && n == int64(r.maxItems) {
		r.logger.Info("item cap reached; stopping run", zap.Int("max_items", r.maxItems))
		r.Stop()
	}
	return true
}

func (r *Run) supervise(ctx context.Context, cancelWork context.CancelFunc, finished <-chan struct{}) {
	select {
	case <-ctx.Done():
		r.logger.Info("stop requested; draining in-flight requests")
		r.Stop()
	case <-r.stopCh:
	case <-finished:
		return
	}
	if r.shutdownTimeout <= 0 {
		<-finished
		return
	}
	timer := time.NewTimer(r.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		r.logger.Warn("shutdown timeout elapsed; cancelling in-flight requests",
			zap.Duration("timeout", r.shutdownTimeout),
		)
		cancelWork()
	}
}

func (r *Run) finish(err error) {
	r.cancelStopping()
	r.err = err
	close(r.records)
	close(r.done)
}

func sectionInts(sections []crawler.SectionID) []int {
	out := make([]int, len(sections))
	for i, s := range sections {
		out[i] = int(s)
	}
	return out
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
