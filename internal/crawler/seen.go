package crawler

import "sync"

// ThreadTracker remembers which threads a run has already scheduled. Busy
// boards shift threads across index pages while the crawl is paging, so the
// same tid can show up twice.
type ThreadTracker struct {
	seen sync.Map
}

// NewThreadTracker returns an empty tracker.
func NewThreadTracker() *ThreadTracker {
	return &ThreadTracker{}
}

// MarkIfNew records tid and reports whether it was not seen before.
func (t *ThreadTracker) MarkIfNew(tid int64) bool {
	if tid <= 0 {
		return false
	}
	_, loaded := t.seen.LoadOrStore(tid, struct{}{})
	return !loaded
}
