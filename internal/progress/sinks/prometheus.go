package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/nga-monitor/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the run
// lifecycle collectors and per-section fetch and record counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	records      *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	retries      *prometheus.CounterVec
	abandoned    *prometheus.CounterVec
	haltSections prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nga_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nga_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nga_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nga_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nga_fetch_requests_total",
			Help: "Fetch completions partitioned by task kind and status class.",
		}, []string{"kind", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nga_fetch_bytes_total",
			Help: "Bytes downloaded per task kind.",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nga_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by task kind and status class.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind", "status_class"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nga_records_total",
			Help: "Post records produced per section.",
		}, []string{"fid"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nga_alerts_total",
			Help: "High-risk alerts emitted per section.",
		}, []string{"fid"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nga_fetch_retries_total",
			Help: "Requests re-queued after a retryable failure.",
		}, []string{"kind"}),
		abandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nga_fetch_abandoned_total",
			Help: "Requests dropped after exhausting retries.",
		}, []string{"kind"}),
		haltSections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nga_sections_halted_total",
			Help: "Sections halted because the session expired.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.records,
		s.alerts,
		s.retries,
		s.abandoned,
		s.haltSections,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageRecord:
		s.records.WithLabelValues(evt.Section.String()).Inc()
	case progress.StageAlert:
		s.alerts.WithLabelValues(evt.Section.String()).Inc()
	case progress.StageRetry:
		s.retries.WithLabelValues(kindLabel(evt.Kind)).Inc()
	case progress.StageAbandon:
		s.abandoned.WithLabelValues(kindLabel(evt.Kind)).Inc()
	case progress.StageSectionHalt:
		s.haltSections.Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	kind := kindLabel(evt.Kind)
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(kind, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(kind).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(kind, statusClass).Observe(evt.Dur.Seconds())
	}
}

func kindLabel(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
