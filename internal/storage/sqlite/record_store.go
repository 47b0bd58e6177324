// Package sqlite keeps crawl records in an embedded SQLite database, for
// deployments without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	post_id       INTEGER PRIMARY KEY,
	fid           INTEGER NOT NULL,
	title         TEXT NOT NULL,
	url           TEXT NOT NULL,
	author        TEXT NOT NULL,
	content       TEXT NOT NULL,
	reply_count   INTEGER NOT NULL,
	post_time     TEXT,
	crawl_time    TEXT NOT NULL,
	sentiment     REAL,
	risk_level    INTEGER NOT NULL,
	risk_keywords TEXT NOT NULL,
	alerted       INTEGER NOT NULL,
	comments      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_fid ON posts(fid);
CREATE INDEX IF NOT EXISTS idx_posts_alerted ON posts(alerted);
`

// RecordStore implements crawler.RecordSink on SQLite.
type RecordStore struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &RecordStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Append inserts or replaces the row for the record's thread.
func (s *RecordStore) Append(ctx context.Context, record crawler.PostRecord) error {
	keywords, err := json.Marshal(nonNilStrings(record.RiskKeywords))
	if err != nil {
		return fmt.Errorf("marshal risk keywords: %w", err)
	}
	comments := record.Comments
	if comments == nil {
		comments = []crawler.CommentRecord{}
	}
	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	var sentiment any
	if record.Sentiment != nil {
		sentiment = *record.Sentiment
	}
	var postTime any
	if !record.PostTime.IsZero() {
		postTime = record.PostTime.Format(crawler.TimeLayout)
	}

	query := `
	INSERT INTO posts (post_id, fid, title, url, author, content, reply_count, post_time,
		crawl_time, sentiment, risk_level, risk_keywords, alerted, comments)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(post_id) DO UPDATE SET
		reply_count = excluded.reply_count,
		content = excluded.content,
		crawl_time = excluded.crawl_time,
		sentiment = excluded.sentiment,
		risk_level = excluded.risk_level,
		risk_keywords = excluded.risk_keywords,
		alerted = excluded.alerted,
		comments = excluded.comments
	`
	_, err = s.db.ExecContext(ctx, query,
		record.PostID,
		int(record.Section),
		record.Title,
		record.URL,
		record.Author,
		record.Content,
		record.ReplyCount,
		postTime,
		record.CrawlTime.Format(crawler.TimeLayout),
		sentiment,
		record.RiskLevel,
		string(keywords),
		record.Alerted,
		string(commentsJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert post %d: %w", record.PostID, err)
	}
	return nil
}

// Alerted returns the alerted records of a section, newest crawl first. A
// zero section matches every section.
func (s *RecordStore) Alerted(ctx context.Context, section crawler.SectionID) ([]crawler.PostRecord, error) {
	query := `
	SELECT post_id, fid, title, url, author, content, reply_count, post_time,
		crawl_time, sentiment, risk_level, risk_keywords, alerted, comments
	FROM posts
	WHERE alerted = 1 AND (? = 0 OR fid = ?)
	ORDER BY crawl_time DESC, post_id`
	rows, err := s.db.QueryContext(ctx, query, int(section), int(section))
	if err != nil {
		return nil, fmt.Errorf("query alerted posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.PostRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerted posts: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (crawler.PostRecord, error) {
	var (
		rec       crawler.PostRecord
		fid       int
		postTime  sql.NullString
		crawlTime string
		sentiment sql.NullFloat64
		keywords  string
		comments  string
	)
	err := rows.Scan(&rec.PostID, &fid, &rec.Title, &rec.URL, &rec.Author, &rec.Content,
		&rec.ReplyCount, &postTime, &crawlTime, &sentiment, &rec.RiskLevel, &keywords,
		&rec.Alerted, &comments)
	if err != nil {
		return crawler.PostRecord{}, fmt.Errorf("scan post: %w", err)
	}
	rec.Section = crawler.SectionID(fid)
	if postTime.Valid {
		if rec.PostTime, err = time.ParseInLocation(crawler.TimeLayout, postTime.String, time.Local); err != nil {
			return crawler.PostRecord{}, fmt.Errorf("post %d post_time: %w", rec.PostID, err)
		}
	}
	if rec.CrawlTime, err = time.ParseInLocation(crawler.TimeLayout, crawlTime, time.Local); err != nil {
		return crawler.PostRecord{}, fmt.Errorf("post %d crawl_time: %w", rec.PostID, err)
	}
	if sentiment.Valid {
		v := sentiment.Float64
		rec.Sentiment = &v
	}
	if err := json.Unmarshal([]byte(keywords), &rec.RiskKeywords); err != nil {
		return crawler.PostRecord{}, fmt.Errorf("post %d risk_keywords: %w", rec.PostID, err)
	}
	if err := json.Unmarshal([]byte(comments), &rec.Comments); err != nil {
		return crawler.PostRecord{}, fmt.Errorf("post %d comments: %w", rec.PostID, err)
	}
	return rec, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
