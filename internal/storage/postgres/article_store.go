// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Defaults for the article table location.
const (
	DefaultSchema = "research"
	DefaultTable  = "raw_articles"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string
	Schema          string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ArticleStore writes articles into Postgres and reads back their keys.
type ArticleStore struct {
	pool   pool
	schema string
	table  string
}

// New creates a Postgres-backed ArticleStore using the provided config.
func New(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	schema, table, err := identifiers(cfg.Schema, cfg.Table)
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArticleStore{pool: p, schema: schema, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, schema, table string) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	schema, table, err := identifiers(schema, table)
	if err != nil {
		return nil, err
	}
	return &ArticleStore{pool: p, schema: schema, table: table}, nil
}

func identifiers(schema, table string) (string, string, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if table == "" {
		table = DefaultTable
	}
	if !validIdentifier.MatchString(schema) {
		return "", "", fmt.Errorf("invalid schema name %q", schema)
	}
	if !validIdentifier.MatchString(table) {
		return "", "", fmt.Errorf("invalid table name %q", table)
	}
	return schema, table, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *ArticleStore) qualified() string {
	return s.schema + "." + s.table
}

// EnsureSchema creates the schema and article table when missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url           TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	article_text  TEXT NOT NULL,
	publish_date  TIMESTAMPTZ NOT NULL,
	top_image     TEXT NOT NULL DEFAULT '',
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.qualified())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// LoadExistingKeys returns every stored article URL.
func (s *ArticleStore) LoadExistingKeys(ctx context.Context) ([]string, error) {
	query, args, err := psql.Select("url").From(s.qualified()).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build key query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// BulkInsert writes the batch in one transaction. Rows whose URL already exists are
// skipped; the number of rows actually inserted is returned.
func (s *ArticleStore) BulkInsert(ctx context.Context, articles []ingest.Article) (int64, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}

	var inserted int64
	for _, a := range articles {
		query, args, err := psql.Insert(s.qualified()).
			Columns("url", "title", "article_text", "publish_date", "top_image").
			Values(a.URL, a.Title, a.Content, a.PublishDate, a.TopImage).
			Suffix("ON CONFLICT (url) DO NOTHING").
			ToSql()
		if err != nil {
			return 0, rollback(ctx, tx, fmt.Errorf("build insert: %w", err))
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, rollback(ctx, tx, fmt.Errorf("insert article %s: %w", a.URL, err))
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return inserted, nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil {
		return fmt.Errorf("%w (rollback: %v)", cause, err)
	}
	return cause
}
