// Package extract pulls thread bodies and reply floors out of forum pages.
//
// Reply floors are found by an ordered list of strategies. Each strategy is a
// pure function over the parsed document; the first one returning at least
// one non-empty comment wins, later strategies are not consulted.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// DefaultMaxReplies bounds the number of comments kept per thread.
const DefaultMaxReplies = 20

// BodySelector targets the first post's content container.
const BodySelector = "#postcontent0"

var postTimePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}`)

// Strategy extracts reply floors from a thread page.
type Strategy func(doc *goquery.Document, threadID int64) []crawler.CommentRecord

// Extractor implements crawler.Extractor.
type Extractor struct {
	strategies []Strategy
	maxReplies int
}

// New builds an Extractor using the default strategy chain. maxReplies < 0
// selects DefaultMaxReplies; 0 keeps no replies.
func New(maxReplies int, strategies ...Strategy) *Extractor {
	if maxReplies < 0 {
		maxReplies = DefaultMaxReplies
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies, maxReplies: maxReplies}
}

// DefaultStrategies returns the floor strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{PostFloors, ReplyContainers}
}

// ExtractThread returns the thread body and its reply floors. Missing
// selectors degrade to empty results rather than errors.
func (e *Extractor) ExtractThread(page []byte, thread crawler.ThreadSummary) (string, []crawler.CommentRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", nil, fmt.Errorf("parse thread %d: %w", thread.TID, err)
	}
	body := strings.TrimSpace(doc.Find(BodySelector).First().Text())
	comments := e.replies(doc, thread.TID)
	return body, comments, nil
}

func (e *Extractor) replies(doc *goquery.Document, tid int64) []crawler.CommentRecord {
	if e.maxReplies == 0 {
		return nil
	}
	for _, strategy := range e.strategies {
		comments := strategy(doc, tid)
		if len(comments) == 0 {
			continue
		}
		if len(comments) > e.maxReplies {
			comments = comments[:e.maxReplies]
		}
		return comments
	}
	return nil
}

// PostFloors reads generic floor containers (id starting with "post"),
// skipping the opening post.
func PostFloors(doc *goquery.Document, tid int64) []crawler.CommentRecord {
	var out []crawler.CommentRecord
	doc.Find(`div[id^="post"]`).Each(func(i int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		if id == "post1" || i == 0 {
			return
		}
		if c, ok := readFloor(s, tid); ok {
			out = append(out, c)
		}
	})
	return out
}

// ReplyContainers reads the alternative reply container layout.
func ReplyContainers(doc *goquery.Document, tid int64) []crawler.CommentRecord {
	var out []crawler.CommentRecord
	doc.Find("div.reply, div.postbox.reply").Each(func(_ int, s *goquery.Selection) {
		if c, ok := readFloor(s, tid); ok {
			out = append(out, c)
		}
	})
	return out
}

func readFloor(s *goquery.Selection, tid int64) (crawler.CommentRecord, bool) {
	content := strings.TrimSpace(s.Find(".postcontent").Text())
	if content == "" {
		return crawler.CommentRecord{}, false
	}
	author := strings.TrimSpace(s.Find("a.author").First().Text())
	if author == "" {
		author = strings.TrimSpace(s.Find(".author").First().Text())
	}
	return crawler.CommentRecord{
		PostID:   tid,
		Author:   author,
		Content:  content,
		Floor:    parseFloor(s.Find("span.floor").First().Text()),
		PostTime: postTimePattern.FindString(s.Find("span.postInfo").First().Text()),
	}, true
}

// parseFloor strips the leading '#' marker; anything that is not a positive
// integer is reported as unknown (0).
func parseFloor(label string) int {
	label = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(label), "#"))
	n, err := strconv.Atoi(label)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
