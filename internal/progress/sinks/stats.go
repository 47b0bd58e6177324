package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/nga-monitor/internal/progress"
)

// Stats is a point-in-time summary of the most recent crawl run.
type Stats struct {
	RunID          string           `json:"run_id,omitempty"`
	StartedAt      time.Time        `json:"started_at,omitempty"`
	FinishedAt     time.Time        `json:"finished_at,omitempty"`
	Result         string           `json:"result,omitempty"`
	Error          string           `json:"error,omitempty"`
	IndexFetches   int64            `json:"index_fetches"`
	ThreadFetches  int64            `json:"thread_fetches"`
	Bytes          int64            `json:"bytes"`
	Records        int64            `json:"records"`
	Alerts         int64            `json:"alerts"`
	Retries        int64            `json:"retries"`
	Abandoned      int64            `json:"abandoned"`
	RecordsByFID   map[string]int64 `json:"records_by_fid"`
	HaltedSections []int            `json:"halted_sections"`
}

// StatsSink folds events into a Stats snapshot. A RUN_START with a new run
// ID resets the counters.
type StatsSink struct {
	mu     sync.RWMutex
	run    [16]byte
	stats  Stats
	halted map[int]struct{}
}

// NewStatsSink returns an empty StatsSink.
func NewStatsSink() *StatsSink {
	return &StatsSink{halted: make(map[int]struct{})}
}

// Consume applies the batch to the snapshot.
func (s *StatsSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage == progress.StageRunStart && evt.RunID != s.run {
			s.reset(evt)
			continue
		}
		if evt.RunID != s.run {
			continue
		}
		s.apply(evt)
	}
	return nil
}

func (s *StatsSink) reset(evt progress.Event) {
	s.run = evt.RunID
	s.stats = Stats{
		RunID:        evt.RunUUID().String(),
		StartedAt:    evt.TS,
		RecordsByFID: make(map[string]int64),
	}
	s.halted = make(map[int]struct{})
}

func (s *StatsSink) apply(evt progress.Event) {
	switch evt.Stage {
	case progress.StageFetchDone:
		if evt.Kind == "index" {
			s.stats.IndexFetches++
		} else {
			s.stats.ThreadFetches++
		}
		s.stats.Bytes += evt.Bytes
	case progress.StageRecord:
		s.stats.Records++
		s.stats.RecordsByFID[evt.Section.String()]++
	case progress.StageAlert:
		s.stats.Alerts++
	case progress.StageRetry:
		s.stats.Retries++
	case progress.StageAbandon:
		s.stats.Abandoned++
	case progress.StageSectionHalt:
		s.halted[int(evt.Section)] = struct{}{}
	case progress.StageRunDone:
		s.stats.FinishedAt = evt.TS
		s.stats.Result = "success"
	case progress.StageRunError:
		s.stats.FinishedAt = evt.TS
		s.stats.Result = "error"
		s.stats.Error = evt.Note
	}
}

// Snapshot returns a copy of the current statistics.
func (s *StatsSink) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats
	out.RecordsByFID = make(map[string]int64, len(s.stats.RecordsByFID))
	for k, v := range s.stats.RecordsByFID {
		out.RecordsByFID[k] = v
	}
	out.HaltedSections = make([]int, 0, len(s.halted))
	for fid := range s.halted {
		out.HaltedSections = append(out.HaltedSections, fid)
	}
	sort.Ints(out.HaltedSections)
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatsSink) Close(context.Context) error {
	return nil
}
