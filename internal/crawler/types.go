package crawler

import (
	"net/http"
	"strconv"
	"time"
)

// SectionID identifies a forum board (the "fid" query parameter).
type SectionID int

// String renders the section as it appears in forum URLs.
func (s SectionID) String() string {
	return strconv.Itoa(int(s))
}

// TaskKind distinguishes index page fetches from thread page fetches.
type TaskKind int

// Supported task kinds.
const (
	TaskIndex TaskKind = iota
	TaskThread
)

// String returns a label usable in logs and metrics.
func (k TaskKind) String() string {
	switch k {
	case TaskIndex:
		return "index"
	case TaskThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Scheduling priorities. Higher values are dequeued first so thread content
// is not starved by wide pagination.
const (
	PriorityIndex  = 0
	PriorityThread = 1
)

// ThreadSummary is one row of a section index page.
type ThreadSummary struct {
	TID      int64
	Subject  string
	Author   string
	Replies  int
	PostDate time.Time
}

// IndexPage is the parsed form of a section index response.
type IndexPage struct {
	Threads []ThreadSummary
	HasMore bool
}

// CrawlCursor tracks pagination for a single section.
type CrawlCursor struct {
	Section   SectionID
	Page      int
	Remaining int
	HasMore   bool
}

// NewCursor starts a section at page 1 with the given page budget.
func NewCursor(section SectionID, budget int) CrawlCursor {
	return CrawlCursor{Section: section, Page: 1, Remaining: budget, HasMore: true}
}

// Advance consumes one page of budget after a successful index fetch and
// reports the next page to fetch, if any.
func (c *CrawlCursor) Advance(hasMore bool) (int, bool) {
	c.Remaining--
	c.HasMore = hasMore
	if c.Exhausted() {
		return 0, false
	}
	c.Page++
	return c.Page, true
}

// Exhausted reports whether the section has nothing left to fetch.
func (c CrawlCursor) Exhausted() bool {
	return !c.HasMore || c.Remaining <= 0
}

// Task is a unit of work in the crawl frontier.
type Task struct {
	Kind    TaskKind
	Section SectionID
	URL     string
	// Page is set for index tasks.
	Page int
	// Thread is set for thread tasks.
	Thread ThreadSummary
	// Attempt counts retries already spent on this URL.
	Attempt int
}

// Priority returns the scheduling priority for the task.
func (t Task) Priority() int {
	if t.Kind == TaskThread {
		return PriorityThread
	}
	return PriorityIndex
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// Proxy is the egress endpoint; empty means a direct connection.
	Proxy string
}

// FetchResponse is the normalized response returned by fetchers.
type FetchResponse struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Classification is the pipeline verdict for a post body.
type Classification struct {
	Sentiment    *float64
	RiskLevel    int
	RiskKeywords []string
	Alert        bool
}
