// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/progress"
	"github.com/JakeFAU/nga-monitor/internal/queue/memory"
	"github.com/JakeFAU/nga-monitor/internal/session"
)

var errStopping = errors.New("run stopping")

// Frontier is the shared task queue.
type Frontier interface {
	Push(task crawler.Task) error
	Pop(ctx context.Context) (crawler.Task, error)
	Done()
}

// Collector accepts finished records. Accept reports false once the run
// wants no more records.
type Collector interface {
	Accept(ctx context.Context, record crawler.PostRecord) bool
}

// Config controls Worker behavior.
type Config struct {
	ID           int
	BaseURL      string
	LoginMarkers []string
}

// Deps groups the collaborators a Worker needs.
type Deps struct {
	Frontier   Frontier
	Session    *session.Session
	Fetcher    crawler.Fetcher
	Throttle   crawler.Throttle
	Proxies    crawler.ProxySelector
	Headers    crawler.HeaderBuilder
	Extractor  crawler.Extractor
	Classifier crawler.Classifier
	Alerts     crawler.AlertEmitter
	Retry      *crawler.RetryPolicy
	Threads    *crawler.ThreadTracker
	Collector  Collector
	Clock      crawler.Clock
	Events     progress.Emitter
	RunID      [16]byte
	// Stopping is cancelled once the run stops issuing requests. A nil
	// context never stops.
	Stopping context.Context
}

// Worker pops tasks from the frontier and executes the fetch, extract and
// classify pipeline for each.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Retry == nil {
		deps.Retry = crawler.NewRetryPolicy(0, nil)
	}
	if deps.Threads == nil {
		deps.Threads = crawler.NewThreadTracker()
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker", cfg.ID)),
	}
}

// Run blocks, consuming tasks until the frontier drains or closes, or the
// context finishes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		task, err := w.deps.Frontier.Pop(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrDrained) || errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d pop: %w", w.cfg.ID, err)
		}
		w.process(ctx, task)
		w.deps.Frontier.Done()
	}
}

func (w *Worker) process(ctx context.Context, task crawler.Task) {
	if w.deps.Session.Halted(task.Section) {
		w.logger.Debug("dropping task for halted section",
			zap.Stringer("fid", task.Section),
			zap.String("url", task.URL),
		)
		return
	}
	resp, err := w.fetch(ctx, task)
	if err != nil {
		w.handleFailure(ctx, task, err)
		return
	}
	switch task.Kind {
	case crawler.TaskIndex:
		w.handleIndex(task, resp)
	case crawler.TaskThread:
		w.handleThread(ctx, task, resp)
	}
}

// fetch performs one throttled request and maps the outcome onto the error
// taxonomy: transport errors pass through, login redirects become
// ErrSessionExpired, and other non-2xx statuses become *crawler.StatusError.
func (w *Worker) fetch(ctx context.Context, task crawler.Task) (crawler.FetchResponse, error) {
	if err := w.wait(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}

	headers := w.deps.Headers.Build(task.Section)
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Cookie", w.deps.Session.CookieHeader())
	req := crawler.FetchRequest{
		URL:     task.URL,
		Headers: headers,
		Proxy:   w.deps.Proxies.Select(),
	}

	started := w.deps.Clock.Now()
	resp, err := w.deps.Fetcher.Fetch(ctx, req)
	latency := resp.Duration
	if latency <= 0 {
		latency = w.deps.Clock.Now().Sub(started)
	}
	if err != nil {
		w.deps.Throttle.Observe(latency, true)
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", task.URL, err)
	}
	w.deps.Throttle.Observe(latency, resp.StatusCode >= http.StatusBadRequest)
	w.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Section:     task.Section,
		Kind:        task.Kind.String(),
		URL:         task.URL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         latency,
	})

	if crawler.IsLoginRedirect(resp.URL, w.cfg.LoginMarkers) {
		return resp, crawler.ErrSessionExpired
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp, &crawler.StatusError{Code: resp.StatusCode, URL: task.URL}
	}
	return resp, nil
}

// wait blocks on the throttle until a request may go out. It returns
// errStopping when the run stops first, or stopped while it waited.
func (w *Worker) wait(ctx context.Context) error {
	if w.stopping() {
		return errStopping
	}
	if w.deps.Stopping != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(w.deps.Stopping, cancel)()
	}
	if err := w.deps.Throttle.Wait(ctx); err != nil {
		if w.stopping() {
			return errStopping
		}
		return fmt.Errorf("throttle wait: %w", err)
	}
	if w.stopping() {
		return errStopping
	}
	return nil
}

func (w *Worker) stopping() bool {
	return w.deps.Stopping != nil && w.deps.Stopping.Err() != nil
}

func (w *Worker) handleFailure(ctx context.Context, task crawler.Task, err error) {
	switch {
	case errors.Is(err, errStopping):
		w.logger.Debug("task dropped; run stopping",
			zap.Stringer("fid", task.Section),
			zap.String("url", task.URL),
		)
		return
	case errors.Is(err, crawler.ErrSessionExpired):
		if w.halt(task) {
			w.logger.Error("session expired; update cookies",
				zap.Stringer("fid", task.Section),
				zap.String("url", task.URL),
			)
		}
		return
	case crawler.StatusCode(err) == http.StatusForbidden:
		w.logger.Warn("access forbidden; cookies may need updating",
			zap.Stringer("fid", task.Section),
			zap.String("url", task.URL),
		)
		w.emitAbandon(task, err)
		w.halt(task)
		return
	case ctx.Err() != nil:
		return
	}

	if w.deps.Retry.ShouldRetry(err, task.Attempt) {
		next := task
		next.Attempt++
		if pushErr := w.deps.Frontier.Push(next); pushErr != nil {
			w.logger.Debug("retry not queued", zap.String("url", task.URL), zap.Error(pushErr))
			return
		}
		w.logger.Debug("retrying request",
			zap.String("url", task.URL),
			zap.Int("attempt", next.Attempt),
			zap.Error(err),
		)
		w.emit(progress.Event{
			Stage:   progress.StageRetry,
			Section: task.Section,
			Kind:    task.Kind.String(),
			URL:     task.URL,
			Note:    err.Error(),
		})
		return
	}

	w.logger.Warn("request abandoned",
		zap.Stringer("fid", task.Section),
		zap.Stringer("kind", task.Kind),
		zap.String("url", task.URL),
		zap.Int("attempts", task.Attempt+1),
		zap.Error(err),
	)
	w.emitAbandon(task, err)
	w.endSection(task)
}

// halt stops the whole section: queued tasks for it are dropped and no
// further index pages are scheduled. It reports whether this call halted it.
func (w *Worker) halt(task crawler.Task) bool {
	if !w.deps.Session.Halt(task.Section) {
		return false
	}
	w.emit(progress.Event{Stage: progress.StageSectionHalt, Section: task.Section, URL: task.URL})
	return true
}

// endSection stops pagination when an index page is lost for good.
func (w *Worker) endSection(task crawler.Task) {
	if task.Kind == crawler.TaskIndex {
		w.deps.Session.Advance(task.Section, false)
	}
}

func (w *Worker) emitAbandon(task crawler.Task, err error) {
	w.emit(progress.Event{
		Stage:   progress.StageAbandon,
		Section: task.Section,
		Kind:    task.Kind.String(),
		URL:     task.URL,
		Note:    err.Error(),
	})
}

// handleIndex enqueues unseen threads and, when the cursor allows, the next
// index page. An unparsable page ends the section.
func (w *Worker) handleIndex(task crawler.Task, resp crawler.FetchResponse) {
	page, err := w.deps.Extractor.ParseIndex(resp.Body)
	if err != nil {
		w.logger.Warn("index page unparsable; ending section",
			zap.Stringer("fid", task.Section),
			zap.Int("page", task.Page),
			zap.Error(err),
		)
		w.deps.Session.Advance(task.Section, false)
		return
	}

	queued := 0
	for _, thread := range page.Threads {
		if !w.deps.Threads.MarkIfNew(thread.TID) {
			continue
		}
		err := w.deps.Frontier.Push(crawler.Task{
			Kind:    crawler.TaskThread,
			Section: task.Section,
			URL:     crawler.ThreadURL(w.cfg.BaseURL, thread.TID),
			Thread:  thread,
		})
		if err != nil {
			w.logger.Debug("thread not queued", zap.Int64("tid", thread.TID), zap.Error(err))
			return
		}
		queued++
	}
	w.logger.Debug("index page parsed",
		zap.Stringer("fid", task.Section),
		zap.Int("page", task.Page),
		zap.Int("threads", len(page.Threads)),
		zap.Int("queued", queued),
		zap.Bool("has_more", page.HasMore),
	)

	next, ok := w.deps.Session.Advance(task.Section, page.HasMore)
	if !ok {
		return
	}
	err = w.deps.Frontier.Push(crawler.Task{
		Kind:    crawler.TaskIndex,
		Section: task.Section,
		URL:     crawler.IndexURL(w.cfg.BaseURL, task.Section, next, w.deps.Session.UID(), w.deps.Clock.Now()),
		Page:    next,
	})
	if err != nil {
		w.logger.Debug("next index page not queued", zap.Int("page", next), zap.Error(err))
	}
}

func (w *Worker) handleThread(ctx context.Context, task crawler.Task, resp crawler.FetchResponse) {
	content, comments, err := w.deps.Extractor.ExtractThread(resp.Body, task.Thread)
	if err != nil {
		w.logger.Warn("thread extraction failed",
			zap.Int64("tid", task.Thread.TID),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		return
	}

	record := crawler.PostRecord{
		Section:    task.Section,
		PostID:     task.Thread.TID,
		Title:      task.Thread.Subject,
		URL:        task.URL,
		Author:     task.Thread.Author,
		Content:    content,
		ReplyCount: task.Thread.Replies,
		PostTime:   task.Thread.PostDate,
		CrawlTime:  w.deps.Clock.Now(),
		Comments:   comments,
	}
	record.Apply(w.deps.Classifier.Classify(ctx, content))

	if !w.deps.Collector.Accept(ctx, record) {
		return
	}
	w.emit(progress.Event{Stage: progress.StageRecord, Section: record.Section, URL: record.URL})

	if record.Alerted {
		w.deps.Alerts.Emit(ctx, record)
		w.emit(progress.Event{Stage: progress.StageAlert, Section: record.Section, URL: record.URL})
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Events == nil {
		return
	}
	evt.RunID = w.deps.RunID
	evt.TS = w.deps.Clock.Now()
	w.deps.Events.Emit(evt)
}
