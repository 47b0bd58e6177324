// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock. Timestamps are in the local zone because
// persisted records carry local wall-clock times.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time.
func (Clock) Now() time.Time {
	return time.Now()
}
