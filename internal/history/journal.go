// Package history keeps an optional Postgres journal of downloads and plays.
package history

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/download"
	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/playback"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 50

// Recorder is the journal surface used by the pipeline and the API.
type Recorder interface {
	download.Recorder
	playback.Recorder
	RecentDownloads(ctx context.Context, limit int) ([]DownloadRecord, error)
	RecentPlays(ctx context.Context, limit int) ([]PlayRecord, error)
	Health(ctx context.Context) error
	Close()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Journal writes history rows to Postgres.
type Journal struct {
	db     querier
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects to databaseURL and applies the schema.
func New(ctx context.Context, databaseURL string) (*Journal, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &Journal{db: pool, pool: pool, logger: log.Component("history")}
	j.logger.Info("database connection established")

	if err := j.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the connection pool.
func (j *Journal) Close() {
	if j.pool != nil {
		j.pool.Close()
		j.logger.Info("database connection closed")
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (j *Journal) Migrate(ctx context.Context) error {
	content, err := migrationsFS.ReadFile("migrations/001_initial_schema.sql")
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}
	if _, err := j.db.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	j.logger.Info("database migrations completed")
	return nil
}

// Health checks database connectivity.
func (j *Journal) Health(ctx context.Context) error {
	return j.db.Ping(ctx)
}

// RecordDownload stores a finished download job.
func (j *Journal) RecordDownload(ctx context.Context, o download.Outcome) error {
	r := downloadRecordFrom(o)
	_, err := j.db.Exec(ctx, `
		INSERT INTO downloads (id, url, path, bytes, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			bytes = EXCLUDED.bytes,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`, r.ID, r.URL, r.Path, r.Bytes, r.Status, r.Error, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	return nil
}

// RecordPlay stores a finished play.
func (j *Journal) RecordPlay(ctx context.Context, o playback.PlayOutcome) error {
	r := playRecordFrom(o)
	_, err := j.db.Exec(ctx, `
		INSERT INTO plays (id, path, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Path, r.Status, r.Error, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert play: %w", err)
	}
	return nil
}

// RecentDownloads returns the latest download rows, newest first.
func (j *Journal) RecentDownloads(ctx context.Context, limit int) ([]DownloadRecord, error) {
	rows, err := j.db.Query(ctx, `
		SELECT id, url, path, bytes, status, error, started_at, finished_at
		FROM downloads
		ORDER BY finished_at DESC
		LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[DownloadRecord])
	if err != nil {
		return nil, fmt.Errorf("scan downloads: %w", err)
	}
	return records, nil
}

// RecentPlays returns the latest play rows, newest first.
func (j *Journal) RecentPlays(ctx context.Context, limit int) ([]PlayRecord, error) {
	rows, err := j.db.Query(ctx, `
		SELECT id, path, status, error, started_at, finished_at
		FROM plays
		ORDER BY finished_at DESC
		LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[PlayRecord])
	if err != nil {
		return nil, fmt.Errorf("scan plays: %w", err)
	}
	return records, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

// Nop is the Recorder used when no database is configured.
type Nop struct{}

func (Nop) RecordDownload(context.Context, download.Outcome) error         { return nil }
func (Nop) RecordPlay(context.Context, playback.PlayOutcome) error         { return nil }
func (Nop) RecentDownloads(context.Context, int) ([]DownloadRecord, error) { return nil, nil }
func (Nop) RecentPlays(context.Context, int) ([]PlayRecord, error)         { return nil, nil }
func (Nop) Health(context.Context) error                                   { return nil }
func (Nop) Close()                                                         {}
