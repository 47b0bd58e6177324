// Package postgres persists crawl records to Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// DefaultTable receives records when no table is configured.
const DefaultTable = "nga_posts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore upserts post records keyed by thread id. It implements
// crawler.RecordSink.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore connects a pool using cfg.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the record table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	post_id       BIGINT PRIMARY KEY,
	fid           INTEGER NOT NULL,
	title         TEXT NOT NULL,
	url           TEXT NOT NULL,
	author        TEXT NOT NULL,
	content       TEXT NOT NULL,
	reply_count   INTEGER NOT NULL,
	post_time     TIMESTAMPTZ,
	crawl_time    TIMESTAMPTZ NOT NULL,
	sentiment     DOUBLE PRECISION,
	risk_level    INTEGER NOT NULL,
	risk_keywords JSONB NOT NULL,
	alerted       BOOLEAN NOT NULL,
	comments      JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Append upserts a record. A thread crawled again replaces its previous row.
func (s *RecordStore) Append(ctx context.Context, record crawler.PostRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if record.PostID <= 0 {
		return fmt.Errorf("record post id is required")
	}
	keywords := record.RiskKeywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
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
	query := fmt.Sprintf(`
INSERT INTO %s (
	post_id,
	fid,
	title,
	url,
	author,
	content,
	reply_count,
	post_time,
	crawl_time,
	sentiment,
	risk_level,
	risk_keywords,
	alerted,
	comments
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (post_id) DO UPDATE SET
	reply_count = EXCLUDED.reply_count,
	content = EXCLUDED.content,
	crawl_time = EXCLUDED.crawl_time,
	sentiment = EXCLUDED.sentiment,
	risk_level = EXCLUDED.risk_level,
	risk_keywords = EXCLUDED.risk_keywords,
	alerted = EXCLUDED.alerted,
	comments = EXCLUDED.comments`, s.table)

	args := []any{
		record.PostID,
		int(record.Section),
		record.Title,
		record.URL,
		record.Author,
		record.Content,
		record.ReplyCount,
		nullableTime(record.PostTime),
		record.CrawlTime,
		nullableScore(record.Sentiment),
		record.RiskLevel,
		keywordsJSON,
		record.Alerted,
		commentsJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert post %d: %w", record.PostID, err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableScore(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
