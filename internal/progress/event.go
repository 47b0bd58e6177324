// Package progress defines the event structures emitted by the crawl workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageFetchDone   Stage = "FETCH_DONE"
	StageRetry       Stage = "RETRY"
	StageAbandon     Stage = "ABANDON"
	StageRecord      Stage = "RECORD"
	StageAlert       Stage = "ALERT"
	StageSectionHalt Stage = "SECTION_HALT"
)

// Terminal reports whether the stage closes out a run or a section. The hub
// delivers these without waiting for the batch to fill.
func (s Stage) Terminal() bool {
	switch s {
	case StageRunDone, StageRunError, StageSectionHalt:
		return true
	default:
		return false
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Section scopes fetch and record events to a board.
	Section crawler.SectionID
	// Kind is the task kind ("index" or "thread") for fetch-level events.
	Kind string
	URL  string
	// Bytes carries the response size for fetch events.
	Bytes       int64
	StatusClass StatusClass
	// Dur captures fetch latency or total run time.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.Kind == "" {
			return errors.New("fetch done requires kind")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageRetry, StageAbandon:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageRecord, StageAlert, StageSectionHalt:
		if e.Section <= 0 {
			return fmt.Errorf("%s requires section", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
