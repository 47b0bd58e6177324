// Package proxy balances outbound requests across egress proxies.
package proxy

import (
	"strings"
	"sync"
)

// Direct is returned by Select when no proxy is configured.
const Direct = ""

// Balancer hands out the least-used endpoint. Usage counters only grow and
// live for the lifetime of the process.
type Balancer struct {
	mu        sync.Mutex
	endpoints []string
	usage     map[string]uint64
}

// NewBalancer registers endpoints in first-seen order. Blank and duplicate
// entries are ignored.
func NewBalancer(endpoints []string) *Balancer {
	b := &Balancer{usage: make(map[string]uint64)}
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		if _, ok := b.usage[ep]; ok {
			continue
		}
		b.usage[ep] = 0
		b.endpoints = append(b.endpoints, ep)
	}
	return b
}

// Select returns the least-used endpoint, ties going to the earliest
// registered one, and counts the use. It returns Direct when empty.
func (b *Balancer) Select() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.endpoints) == 0 {
		return Direct
	}
	best := b.endpoints[0]
	for _, ep := range b.endpoints[1:] {
		if b.usage[ep] < b.usage[best] {
			best = ep
		}
	}
	b.usage[best]++
	return best
}

// Usage returns a snapshot of the usage table.
func (b *Balancer) Usage() map[string]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]uint64, len(b.usage))
	for k, v := range b.usage {
		out[k] = v
	}
	return out
}

// Len reports the number of registered endpoints.
func (b *Balancer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.endpoints)
}

// ParseList splits a newline- or comma-separated proxy list.
func ParseList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
