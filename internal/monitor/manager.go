// Package monitor owns the lifecycle of crawl runs for long-lived processes:
// at most one run at a time, its artifacts, and the status it reports.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/dispatcher"
	"github.com/JakeFAU/nga-monitor/internal/progress/sinks"
	"github.com/JakeFAU/nga-monitor/internal/report"
)

// Run states reported by Status.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateStopping = "stopping"
)

// Starter launches a crawl run.
type Starter interface {
	Start(ctx context.Context, params crawler.RunParams) (*dispatcher.Run, error)
}

// RecordStore is the run's primary record sink.
type RecordStore interface {
	Path() string
	Reset() error
	Records() []crawler.PostRecord
}

// StatsSource exposes progress counters for the current run.
type StatsSource interface {
	Snapshot() sinks.Stats
}

// Uploader archives run artifacts.
type Uploader interface {
	Upload(ctx context.Context, runID string, startedAt time.Time, files ...string) ([]string, error)
}

// Config controls run finalization.
type Config struct {
	// ReportPath enables the markdown report when set.
	ReportPath string
	// UploadTimeout bounds snapshot uploads after a run. Defaults to 30s.
	UploadTimeout time.Duration
}

// Deps are the Manager collaborators. Stats and Snapshots may be nil.
type Deps struct {
	Dispatcher Starter
	Store      RecordStore
	Stats      StatsSource
	Snapshots  Uploader
	Clock      crawler.Clock
}

// Status describes the current or most recent run.
type Status struct {
	State          string      `json:"state"`
	RunID          string      `json:"run_id,omitempty"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	Records        int64       `json:"records"`
	Alerts         int64       `json:"alerts"`
	HaltedSections []int       `json:"halted_sections"`
	Error          string      `json:"error,omitempty"`
	Artifacts      []string    `json:"artifacts,omitempty"`
	Stats          sinks.Stats `json:"stats"`
}

// Manager serializes crawl runs.
type Manager struct {
	cfg    Config
	deps   Deps
	base   context.Context
	logger *zap.Logger

	mu         sync.Mutex
	run        *dispatcher.Run
	cancel     context.CancelFunc
	stopping   bool
	finishedAt time.Time
	lastErr    error
	artifacts  []string
	done       chan struct{}
}

// New returns an idle Manager. Runs are detached from request contexts and
// derive from base instead; cancelling base stops any active run.
func New(base context.Context, cfg Config, deps Deps, logger *zap.Logger) *Manager {
	if base == nil {
		base = context.Background()
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, deps: deps, base: base, logger: logger}
}

// Start begins a run. It fails with crawler.ErrAlreadyRunning while another
// run is active, and with the validation error for bad params.
func (m *Manager) Start(ctx context.Context, params crawler.RunParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil && !m.finished() {
		return "", crawler.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := params.Validate(); err != nil {
		return "", err
	}
	if err := m.deps.Store.Reset(); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(m.base)
	run, err := m.deps.Dispatcher.Start(runCtx, params)
	if err != nil {
		cancel()
		return "", err
	}
	m.run = run
	m.cancel = cancel
	m.stopping = false
	m.finishedAt = time.Time{}
	m.lastErr = nil
	m.artifacts = nil
	m.done = make(chan struct{})
	go m.follow(run, cancel, m.done)

	return run.ID(), nil
}

// Stop requests a cooperative stop of the active run. In-flight requests
// are cancelled once the shutdown timeout elapses.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil || m.finished() {
		return crawler.ErrNotRunning
	}
	m.stopping = true
	m.cancel()
	return nil
}

// Wait blocks until the active run has been finalized or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.lastErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Records returns the records of the current or most recent run.
func (m *Manager) Records() []crawler.PostRecord {
	return m.deps.Store.Records()
}

// Status reports the manager state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: StateIdle, HaltedSections: []int{}}
	if m.deps.Stats != nil {
		st.Stats = m.deps.Stats.Snapshot()
	}
	if m.run == nil {
		return st
	}
	if !m.finished() {
		st.State = StateRunning
		if m.stopping || m.run.Stopped() {
			st.State = StateStopping
		}
	}
	started := m.run.StartedAt()
	st.RunID = m.run.ID()
	st.StartedAt = &started
	if !m.finishedAt.IsZero() {
		finished := m.finishedAt
		st.FinishedAt = &finished
	}
	st.Records = m.run.Accepted()
	st.Alerts = countAlerts(m.deps.Store.Records())
	st.HaltedSections = sectionInts(m.run.HaltedSections())
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	st.Artifacts = append(st.Artifacts, m.artifacts...)
	return st
}

// finished must be called with mu held.
func (m *Manager) finished() bool {
	if m.done == nil {
		return true
	}
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) follow(run *dispatcher.Run, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()
	// Records are already persisted by the sinks; the stream only has to be
	// drained so workers never block.
	for range run.Records() {
	}
	err := run.Wait()
	finishedAt := m.now()

	artifacts := m.finalize(run, err, finishedAt)

	m.mu.Lock()
	m.finishedAt = finishedAt
	m.lastErr = err
	m.artifacts = artifacts
	m.mu.Unlock()
}

func (m *Manager) finalize(run *dispatcher.Run, runErr error, finishedAt time.Time) []string {
	logger := m.logger.With(zap.String("run_id", run.ID()))
	records := m.deps.Store.Records()
	files := []string{m.deps.Store.Path()}

	if m.cfg.ReportPath != "" {
		stats := m.reportStats(run, runErr, finishedAt, records)
		if err := report.WriteFile(m.cfg.ReportPath, stats, records); err != nil {
			logger.Error("report write failed", zap.String("path", m.cfg.ReportPath), zap.Error(err))
		} else {
			logger.Info("report written", zap.String("path", m.cfg.ReportPath))
			files = append(files, m.cfg.ReportPath)
		}
	}

	if m.deps.Snapshots == nil {
		return files
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.base), m.cfg.UploadTimeout)
	defer cancel()
	uris, err := m.deps.Snapshots.Upload(ctx, run.ID(), run.StartedAt(), files...)
	if err != nil {
		logger.Error("snapshot upload failed", zap.Error(err))
		if len(uris) == 0 {
			return files
		}
	}
	return uris
}

// reportStats overlays the run's authoritative totals on the progress
// counters, which may lag by one hub batch.
func (m *Manager) reportStats(run *dispatcher.Run, runErr error, finishedAt time.Time, records []crawler.PostRecord) sinks.Stats {
	var stats sinks.Stats
	if m.deps.Stats != nil {
		stats = m.deps.Stats.Snapshot()
	}
	stats.RunID = run.ID()
	stats.StartedAt = run.StartedAt()
	stats.FinishedAt = finishedAt
	stats.Records = run.Accepted()
	stats.Alerts = countAlerts(records)
	stats.HaltedSections = sectionInts(run.HaltedSections())
	stats.RecordsByFID = make(map[string]int64)
	for _, rec := range records {
		stats.RecordsByFID[rec.Section.String()]++
	}
	stats.Result = "success"
	stats.Error = ""
	if runErr != nil {
		stats.Result = "error"
		stats.Error = runErr.Error()
	}
	return stats
}

func (m *Manager) now() time.Time {
	if m.deps.Clock != nil {
		return m.deps.Clock.Now()
	}
	return time.Now()
}

func countAlerts(records []crawler.PostRecord) int64 {
	var n int64
	for _, rec := range records {
		if rec.Alerted {
			n++
		}
	}
	return n
}

func sectionInts(sections []crawler.SectionID) []int {
	out := make([]int, len(sections))
	for i, s := range sections {
		out[i] = int(s)
	}
	return out
}
