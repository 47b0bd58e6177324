package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// IndexURL builds the JSON index endpoint for a section page.
func IndexURL(base string, section SectionID, page int, uid string, now time.Time) string {
	q := url.Values{}
	q.Set("fid", section.String())
	q.Set("page", strconv.Itoa(page))
	q.Set("__uid", uid)
	q.Set("__timestamp", strconv.FormatInt(now.Unix(), 10))
	q.Set("__output", "11")
	return fmt.Sprintf("%s/thread.php?%s", strings.TrimRight(base, "/"), q.Encode())
}

// ThreadURL builds the canonical thread page URL.
func ThreadURL(base string, tid int64) string {
	return fmt.Sprintf("%s/read.php?tid=%d", strings.TrimRight(base, "/"), tid)
}

// SectionReferer is the board listing URL used as the Referer for a section.
func SectionReferer(base string, section SectionID) string {
	return fmt.Sprintf("%s/thread.php?fid=%s", strings.TrimRight(base, "/"), section)
}

// IsLoginRedirect reports whether the resolved URL points at the login flow.
func IsLoginRedirect(resolved string, markers []string) bool {
	if resolved == "" {
		return false
	}
	lower := strings.ToLower(resolved)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
