package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// ErrMissingThreads is returned when an index document has no thread list.
var ErrMissingThreads = errors.New("index response has no data.__T")

type indexDoc struct {
	Data *struct {
		Threads json.RawMessage `json:"__T"`
		Next    json.RawMessage `json:"__next__"`
	} `json:"data"`
}

type threadRow struct {
	TID      flexInt `json:"tid"`
	Subject  string  `json:"subject"`
	Author   string  `json:"author"`
	Replies  flexInt `json:"replies"`
	PostDate flexInt `json:"postdate"`
}

// ParseIndex decodes a section index response. The forum renders __T either
// as an array or as an object keyed by row number, and __next__ as a bool or
// a number.
func (e *Extractor) ParseIndex(body []byte) (crawler.IndexPage, error) {
	return ParseIndex(body)
}

// ParseIndex is the package-level form of Extractor.ParseIndex.
func ParseIndex(body []byte) (crawler.IndexPage, error) {
	var doc indexDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return crawler.IndexPage{}, fmt.Errorf("decode index: %w", err)
	}
	if doc.Data == nil || len(doc.Data.Threads) == 0 || string(doc.Data.Threads) == "null" {
		return crawler.IndexPage{}, ErrMissingThreads
	}
	rows, err := decodeRows(doc.Data.Threads)
	if err != nil {
		return crawler.IndexPage{}, err
	}
	page := crawler.IndexPage{HasMore: truthy(doc.Data.Next)}
	for _, row := range rows {
		if row.TID <= 0 {
			continue
		}
		summary := crawler.ThreadSummary{
			TID:     int64(row.TID),
			Subject: row.Subject,
			Author:  row.Author,
			Replies: int(row.Replies),
		}
		if row.PostDate > 0 {
			summary.PostDate = time.Unix(int64(row.PostDate), 0)
		}
		page.Threads = append(page.Threads, summary)
	}
	return page, nil
}

func decodeRows(raw json.RawMessage) ([]threadRow, error) {
	var list []threadRow
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var keyed map[string]threadRow
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("decode __T: %w", err)
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	out := make([]threadRow, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyed[k])
	}
	return out, nil
}

func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0" && t != "false"
	default:
		return false
	}
}

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("expected number, got %s", b)
		}
		n = json.Number(s)
	}
	if n == "" {
		*f = 0
		return nil
	}
	v, err := n.Int64()
	if err != nil {
		fv, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("parse number %q: %w", n, err)
		}
		v = int64(fv)
	}
	*f = flexInt(v)
	return nil
}
