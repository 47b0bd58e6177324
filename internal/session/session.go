// Package session holds the crawl identity, its cookie set and the
// per-section pagination cursors.
package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// Session is created once per crawl run. Cookies never change after
// construction; cursors and halts are guarded by a mutex.
type Session struct {
	uid     string
	cookies map[string]string
	header  string

	mu      sync.Mutex
	cursors map[crawler.SectionID]*crawler.CrawlCursor
	halted  map[crawler.SectionID]struct{}
}

// New builds a session for uid. A non-empty cookie string overrides the
// synthesized cookie set.
func New(uid, cookie string, now time.Time) (*Session, error) {
	if err := crawler.ValidateUID(uid); err != nil {
		return nil, err
	}
	cookies := ParseCookies(cookie)
	if len(cookies) == 0 {
		cookies = synthesize(uid, now)
	}
	return &Session{
		uid:     uid,
		cookies: cookies,
		header:  encode(cookies),
		cursors: make(map[crawler.SectionID]*crawler.CrawlCursor),
		halted:  make(map[crawler.SectionID]struct{}),
	}, nil
}

func synthesize(uid string, now time.Time) map[string]string {
	ts := now.Unix()
	return map[string]string{
		"ngaPassportUid": uid,
		"lastvisit":      strconv.FormatInt(ts-300, 10),
		"guestJs":        strconv.FormatInt(ts, 10),
	}
}

// ParseCookies parses "k1=v1; k2=v2". Values may contain '='; pairs without
// a key are ignored.
func ParseCookies(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(kv[1])
	}
	return out
}

func encode(cookies map[string]string) string {
	keys := make([]string, 0, len(cookies))
	for k := range cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, cookies[k]))
	}
	return strings.Join(parts, "; ")
}

// UID returns the session identity.
func (s *Session) UID() string {
	return s.uid
}

// Cookies returns a copy of the cookie set.
func (s *Session) Cookies() map[string]string {
	out := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		out[k] = v
	}
	return out
}

// CookieHeader returns the Cookie header value, keys sorted.
func (s *Session) CookieHeader() string {
	return s.header
}

// StartSection creates the cursor for a section and returns its first page.
func (s *Session) StartSection(section crawler.SectionID, budget int) crawler.CrawlCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := crawler.NewCursor(section, budget)
	s.cursors[section] = &c
	return c
}

// Advance moves the section cursor past a successfully fetched index page.
// The cursor is dropped once the section is exhausted.
func (s *Session) Advance(section crawler.SectionID, hasMore bool) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, stop := s.halted[section]; stop {
		return 0, false
	}
	c, ok := s.cursors[section]
	if !ok {
		return 0, false
	}
	next, more := c.Advance(hasMore)
	if !more {
		delete(s.cursors, section)
	}
	return next, more
}

// Cursor returns a snapshot of the section cursor.
func (s *Session) Cursor(section crawler.SectionID) (crawler.CrawlCursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[section]
	if !ok {
		return crawler.CrawlCursor{}, false
	}
	return *c, true
}

// Halt stops all further traversal of a section. It reports whether this
// call performed the transition.
func (s *Session) Halt(section crawler.SectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.halted[section]; ok {
		return false
	}
	s.halted[section] = struct{}{}
	delete(s.cursors, section)
	return true
}

// Halted reports whether a section was halted.
func (s *Session) Halted(section crawler.SectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.halted[section]
	return ok
}

// HaltedSections lists halted sections in ascending order.
func (s *Session) HaltedSections() []crawler.SectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.SectionID, 0, len(s.halted))
	for id := range s.halted {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
