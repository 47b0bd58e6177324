// Package memory provides the in-process crawl frontier.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

var (
	// ErrClosed is returned once the frontier stops handing out work.
	ErrClosed = errors.New("frontier closed")
	// ErrDrained is returned when no task is queued or in flight.
	ErrDrained = errors.New("frontier drained")
)

// Frontier is a priority queue of crawl tasks. Higher priorities come out
// first; equal priorities come out in push order. It also counts tasks that
// were handed out but not yet marked Done, so consumers can tell "empty for
// now" apart from "finished".
type Frontier struct {
	mu      sync.Mutex
	items   taskHeap
	seq     uint64
	pending int
	closed  bool
	wake    chan struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{wake: make(chan struct{})}
}

// Push adds a task. Every pushed task must eventually be matched by a Done.
func (f *Frontier) Push(task crawler.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.seq++
	heap.Push(&f.items, entry{task: task, priority: task.Priority(), seq: f.seq})
	f.pending++
	f.broadcastLocked()
	return nil
}

// Pop blocks until a task is available, the frontier drains or closes, or
// ctx ends.
func (f *Frontier) Pop(ctx context.Context) (crawler.Task, error) {
	for {
		f.mu.Lock()
		switch {
		case f.closed:
			f.mu.Unlock()
			return crawler.Task{}, ErrClosed
		case f.items.Len() > 0:
			e := heap.Pop(&f.items).(entry)
			f.mu.Unlock()
			return e.task, nil
		case f.pending == 0:
			f.mu.Unlock()
			return crawler.Task{}, ErrDrained
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.Task{}, fmt.Errorf("frontier pop: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Done marks one previously popped task as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
	}
	if f.pending == 0 {
		f.broadcastLocked()
	}
}

// Close stops handing out tasks. Queued tasks are discarded.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.items = nil
	f.broadcastLocked()
}

// Len reports queued (not yet popped) tasks.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

// Pending reports tasks pushed but not yet marked Done.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *Frontier) broadcastLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

type entry struct {
	task     crawler.Task
	priority int
	seq      uint64
}

type taskHeap []entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
