// Package progress carries crawl-run milestones from workers to observers.
// Workers emit events on a non-blocking hub; a background goroutine batches
// them and fans them out to sinks such as Prometheus, logs, and the run
// status snapshot served by the API.
package progress
