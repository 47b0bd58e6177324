package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

func TestFrontierPriorityOrder(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.NoError(t, f.Push(crawler.Task{Kind: crawler.TaskIndex, URL: "index-2"}))
	require.NoError(t, f.Push(crawler.Task{Kind: crawler.TaskThread, URL: "thread-a"}))
	require.NoError(t, f.Push(crawler.Task{Kind: crawler.TaskThread, URL: "thread-b"}))

	var got []string
	for i := 0; i < 3; i++ {
		task, err := f.Pop(context.Background())
		require.NoError(t, err)
		got = append(got, task.URL)
	}
	assert.Equal(t, []string{"thread-a", "thread-b", "index-2"}, got)
}

func TestFrontierDrainsWhenDone(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.NoError(t, f.Push(crawler.Task{URL: "a"}))
	_, err := f.Pop(context.Background())
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := f.Pop(context.Background())
		result <- err
	}()

	select {
	case err := <-result:
		t.Fatalf("pop returned early with %v while a task was in flight", err)
	case <-time.After(30 * time.Millisecond):
	}

	f.Done()
	select {
	case err := <-result:
		assert.True(t, errors.Is(err, ErrDrained), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("pop did not observe drain")
	}
}

func TestFrontierWakesOnPush(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.NoError(t, f.Push(crawler.Task{URL: "seed"}))
	_, err := f.Pop(context.Background())
	require.NoError(t, err)

	result := make(chan crawler.Task, 1)
	go func() {
		task, err := f.Pop(context.Background())
		if err == nil {
			result <- task
		}
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.Push(crawler.Task{URL: "child"}))
	f.Done()

	select {
	case task := <-result:
		assert.Equal(t, "child", task.URL)
	case <-time.After(time.Second):
		t.Fatal("pop was not woken by push")
	}
}

func TestFrontierClose(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.NoError(t, f.Push(crawler.Task{URL: "a"}))
	f.Close()
	f.Close()
	_, err := f.Pop(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, f.Push(crawler.Task{}), ErrClosed)
	assert.Zero(t, f.Len())
}

func TestFrontierPopHonorsContext(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.NoError(t, f.Push(crawler.Task{URL: "a"}))
	_, err := f.Pop(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Pop(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.Pending())
}
