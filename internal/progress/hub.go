package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the event queue (default 4096).
//   - MaxBatchEvents: flush once this many events are pending (default 1000).
//   - MaxBatchWait: flush a partial batch after this long (default 500ms).
//   - SinkTimeout: per-sink deadline for each flush (default 10s).
//   - BaseContext: parent of every sink call (default context.Background()).
//   - Logger: receives drop and sink warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub batches crawl events and fans them out to sinks from one background
// goroutine. Emit never blocks. A run-end or section-halt event flushes the
// pending batch at once so status readers see it without waiting for the
// timer. A nil *Hub discards everything.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger
	drops  dropLog
	closed atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		queue:  make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
		drops:  dropLog{every: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events are discarded; when the queue is full the
// event is dropped and counted.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		if byStage, ok := h.drops.record(evt.Stage, time.Now()); ok {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.drops.Total()),
				zap.Any("by_stage", byStage),
			)
		}
	}
}

// Dropped reports how many events were lost to backpressure.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.drops.Total()
}

// Close delivers everything still queued, closes the sinks, and waits for
// the hub goroutine up to ctx. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	b := newBatch(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.disarm()
	for {
		select {
		case evt := <-h.queue:
			if b.add(evt) || evt.Stage.Terminal() {
				h.deliver(b.take())
			}
		case <-b.expired():
			h.deliver(b.take())
		case <-h.stop:
			h.drain(b)
			return
		}
	}
}

// drain flushes whatever is still queued after Close, then closes sinks.
func (h *Hub) drain(b *batch) {
	for {
		select {
		case evt := <-h.queue:
			if b.add(evt) {
				h.deliver(b.take())
			}
		default:
			h.deliver(b.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, events); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batch collects events between flushes. It is owned by the hub goroutine.
type batch struct {
	events []Event
	size   int
	wait   time.Duration
	timer  *time.Timer
}

func newBatch(size int, wait time.Duration) *batch {
	return &batch{events: make([]Event, 0, size), size: size, wait: wait}
}

// add appends evt and reports whether the batch is full. The first event of
// a batch starts the flush timer.
func (b *batch) add(evt Event) bool {
	b.events = append(b.events, evt)
	if len(b.events) >= b.size {
		return true
	}
	if b.timer == nil {
		b.timer = time.NewTimer(b.wait)
	}
	return false
}

// take hands out the pending events and starts an empty batch. Sinks get a
// slice they may keep.
func (b *batch) take() []Event {
	b.disarm()
	if len(b.events) == 0 {
		return nil
	}
	out := b.events
	b.events = make([]Event, 0, b.size)
	return out
}

// expired fires when a partial batch has waited long enough. A nil channel
// blocks forever while nothing is pending.
func (b *batch) expired() <-chan time.Time {
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

func (b *batch) disarm() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// dropLog counts dropped events per stage and rate-limits the warning.
type dropLog struct {
	every time.Duration
	total atomic.Int64

	mu      sync.Mutex
	last    time.Time
	byStage map[Stage]int64
}

// record counts one drop. When a warning is due it returns the per-stage
// counts since the previous warning.
func (d *dropLog) record(stage Stage, now time.Time) (map[Stage]int64, bool) {
	d.total.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byStage == nil {
		d.byStage = make(map[Stage]int64)
	}
	d.byStage[stage]++
	if !d.last.IsZero() && now.Sub(d.last) < d.every {
		return nil, false
	}
	d.last = now
	out := d.byStage
	d.byStage = nil
	return out, true
}

// Total reports every drop since the hub started.
func (d *dropLog) Total() int64 {
	return d.total.Load()
}
