package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/nga-monitor/internal/progress"
)

func TestStatsSinkSummarizesRun(t *testing.T) {
	t.Parallel()

	sink := NewStatsSink()
	runID := progress.UUIDToBytes(uuid.New())
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.Local)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: start, Stage: progress.StageRunStart},
		{RunID: runID, TS: start, Stage: progress.StageFetchDone, Kind: "index", StatusClass: progress.Status2xx, Bytes: 100},
		{RunID: runID, TS: start, Stage: progress.StageFetchDone, Kind: "thread", StatusClass: progress.Status2xx, Bytes: 50},
		{RunID: runID, TS: start, Stage: progress.StageRecord, Section: 7},
		{RunID: runID, TS: start, Stage: progress.StageRecord, Section: 7},
		{RunID: runID, TS: start, Stage: progress.StageAlert, Section: 7},
		{RunID: runID, TS: start, Stage: progress.StageAbandon, Kind: "thread", URL: "u"},
		{RunID: runID, TS: start, Stage: progress.StageSectionHalt, Section: 624},
		{RunID: runID, TS: start, Stage: progress.StageSectionHalt, Section: 459},
	}))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: start.Add(time.Minute), Stage: progress.StageRunDone},
	}))

	got := sink.Snapshot()
	assert.Equal(t, uuid.UUID(runID).String(), got.RunID)
	assert.Equal(t, int64(1), got.IndexFetches)
	assert.Equal(t, int64(1), got.ThreadFetches)
	assert.Equal(t, int64(150), got.Bytes)
	assert.Equal(t, int64(2), got.Records)
	assert.Equal(t, int64(2), got.RecordsByFID["7"])
	assert.Equal(t, int64(1), got.Alerts)
	assert.Equal(t, int64(1), got.Abandoned)
	assert.Equal(t, []int{459, 624}, got.HaltedSections)
	assert.Equal(t, "success", got.Result)
	assert.Equal(t, start.Add(time.Minute), got.FinishedAt)
}

func TestStatsSinkResetsOnNewRun(t *testing.T) {
	t.Parallel()

	sink := NewStatsSink()
	first := progress.UUIDToBytes(uuid.New())
	second := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: first, TS: now, Stage: progress.StageRunStart},
		{RunID: first, TS: now, Stage: progress.StageRecord, Section: 7},
		{RunID: second, TS: now, Stage: progress.StageRunStart},
		{RunID: first, TS: now, Stage: progress.StageRecord, Section: 7},
		{RunID: second, TS: now, Stage: progress.StageRunError, Note: "boom"},
	}))

	got := sink.Snapshot()
	assert.Equal(t, uuid.UUID(second).String(), got.RunID)
	assert.Zero(t, got.Records)
	assert.Equal(t, "error", got.Result)
	assert.Equal(t, "boom", got.Error)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRecord, Section: 7, URL: "https://bbs.nga.cn/read.php?tid=1"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.DebugLevel, entries[1].Level)
	assert.Equal(t, int64(7), entries[1].ContextMap()["fid"])
}
