package crawler

import (
	"context"
	"net/http"
	"time"
)

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// ProxySelector picks the egress endpoint for the next request. An empty
// string means "connect directly".
type ProxySelector interface {
	Select() string
}

// HeaderBuilder produces the header set for one outbound request.
type HeaderBuilder interface {
	Build(section SectionID) http.Header
}

// Extractor turns fetched pages into structured data.
type Extractor interface {
	ParseIndex(body []byte) (IndexPage, error)
	ExtractThread(body []byte, thread ThreadSummary) (string, []CommentRecord, error)
}

// SentimentScorer is the external black-box scorer. Scores are in [0, 1].
type SentimentScorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// Classifier scores a post body. It never fails; scorer errors degrade to the
// neutral default.
type Classifier interface {
	Classify(ctx context.Context, text string) Classification
}

// AlertEmitter delivers a single alert for a record.
type AlertEmitter interface {
	Emit(ctx context.Context, record PostRecord)
}

// RecordSink receives every finished record.
type RecordSink interface {
	Append(ctx context.Context, record PostRecord) error
}

// Throttle gates outbound requests and adapts to observed latency.
type Throttle interface {
	Wait(ctx context.Context) error
	Observe(latency time.Duration, failed bool)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
