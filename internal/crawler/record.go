package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the wall-clock format used in persisted records.
const TimeLayout = "2006-01-02 15:04:05"

// NeutralSentiment is reported when no sentiment score could be computed.
const NeutralSentiment = 0.5

// CommentRecord is a single reply floor. It has no lifecycle outside its PostRecord.
type CommentRecord struct {
	PostID  int64  `json:"post_id"`
	Author  string `json:"author"`
	Content string `json:"content"`
	// Floor is 0 when the page did not expose a usable floor label.
	Floor    int    `json:"floor,omitempty"`
	PostTime string `json:"post_time"`
}

// PostRecord is a thread with its extracted body, replies and classification.
type PostRecord struct {
	Section      SectionID
	PostID       int64
	Title        string
	URL          string
	Author       string
	Content      string
	ReplyCount   int
	PostTime     time.Time
	CrawlTime    time.Time
	Sentiment    *float64
	RiskLevel    int
	RiskKeywords []string
	Alerted      bool
	Comments     []CommentRecord
}

// EffectiveSentiment returns the score, or the neutral default when absent.
func (r PostRecord) EffectiveSentiment() float64 {
	if r.Sentiment == nil {
		return NeutralSentiment
	}
	return *r.Sentiment
}

// Apply copies a classification verdict onto the record.
func (r *PostRecord) Apply(c Classification) {
	r.Sentiment = c.Sentiment
	r.RiskLevel = c.RiskLevel
	r.RiskKeywords = append([]string(nil), c.RiskKeywords...)
	r.Alerted = c.Alert
}

type postRecordJSON struct {
	Section      SectionID       `json:"fid"`
	PostID       int64           `json:"post_id"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	Author       string          `json:"author"`
	Content      string          `json:"content"`
	ReplyCount   int             `json:"reply_count"`
	PostTime     string          `json:"post_time"`
	CrawlTime    string          `json:"crawl_time"`
	Sentiment    float64         `json:"sentiment"`
	RiskLevel    int             `json:"risk_level"`
	RiskKeywords []string        `json:"risk_keywords"`
	Alerted      bool            `json:"alerted"`
	Comments     []CommentRecord `json:"comments"`
}

// MarshalJSON writes the external schema; an absent sentiment is written as 0.5.
func (r PostRecord) MarshalJSON() ([]byte, error) {
	out := postRecordJSON{
		Section:      r.Section,
		PostID:       r.PostID,
		Title:        r.Title,
		URL:          r.URL,
		Author:       r.Author,
		Content:      r.Content,
		ReplyCount:   r.ReplyCount,
		PostTime:     formatTime(r.PostTime),
		CrawlTime:    formatTime(r.CrawlTime),
		Sentiment:    r.EffectiveSentiment(),
		RiskLevel:    r.RiskLevel,
		RiskKeywords: r.RiskKeywords,
		Alerted:      r.Alerted,
		Comments:     r.Comments,
	}
	if out.RiskKeywords == nil {
		out.RiskKeywords = []string{}
	}
	if out.Comments == nil {
		out.Comments = []CommentRecord{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal post %d: %w", r.PostID, err)
	}
	return data, nil
}

// UnmarshalJSON reads the external schema back, e.g. when exporting a saved file.
func (r *PostRecord) UnmarshalJSON(data []byte) error {
	var in postRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal post record: %w", err)
	}
	postTime, err := parseTime(in.PostTime)
	if err != nil {
		return fmt.Errorf("post_time: %w", err)
	}
	crawlTime, err := parseTime(in.CrawlTime)
	if err != nil {
		return fmt.Errorf("crawl_time: %w", err)
	}
	sentiment := in.Sentiment
	*r = PostRecord{
		Section:      in.Section,
		PostID:       in.PostID,
		Title:        in.Title,
		URL:          in.URL,
		Author:       in.Author,
		Content:      in.Content,
		ReplyCount:   in.ReplyCount,
		PostTime:     postTime,
		CrawlTime:    crawlTime,
		Sentiment:    &sentiment,
		RiskLevel:    in.RiskLevel,
		RiskKeywords: in.RiskKeywords,
		Alerted:      in.Alerted,
		Comments:     in.Comments,
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return t, nil
}
