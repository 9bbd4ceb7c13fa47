package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateResults = `
        CREATE TABLE IF NOT EXISTS scan_results (
            scan_id        TEXT        NOT NULL,
            rank           INTEGER     NOT NULL,
            domain         TEXT        NOT NULL,
            url            TEXT        NOT NULL,
            failed         BOOLEAN     NOT NULL,
            failed_reason  TEXT,
            language       TEXT,
            is_cmp_defined BOOLEAN     NOT NULL,
            result         JSONB       NOT NULL,
            scanned_at     TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (scan_id, rank, domain)
        );
    `
	sqlCreateNoticeCounts = `
        CREATE TABLE IF NOT EXISTS notice_counts (
            scan_id   TEXT    NOT NULL,
            rank      INTEGER NOT NULL,
            domain    TEXT    NOT NULL,
            technique TEXT    NOT NULL,
            count     INTEGER NOT NULL,
            PRIMARY KEY (scan_id, rank, domain, technique)
        );
    `
	sqlUpsertResult = `
        INSERT INTO scan_results (scan_id, rank, domain, url, failed, failed_reason, language, is_cmp_defined, result, scanned_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (scan_id, rank, domain) DO UPDATE SET
            url = EXCLUDED.url,
            failed = EXCLUDED.failed,
            failed_reason = EXCLUDED.failed_reason,
            language = EXCLUDED.language,
            is_cmp_defined = EXCLUDED.is_cmp_defined,
            result = EXCLUDED.result,
            scanned_at = EXCLUDED.scanned_at;
    `
	sqlUpsertNoticeCount = `
        INSERT INTO notice_counts (scan_id, rank, domain, technique, count)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (scan_id, rank, domain, technique) DO UPDATE SET
            count = EXCLUDED.count;
    `
)

// Store persists scan results to PostgreSQL: the full result as JSONB plus
// one row per detection technique with its notice count.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the result tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateResults, sqlCreateNoticeCounts} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Save writes result and its notice counts in one transaction.
func (s *Store) Save(ctx context.Context, result *schemas.ScanResult) error {
	doc, err := marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := s.save(ctx, tx, result, doc); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, tx pgx.Tx, result *schemas.ScanResult, doc []byte) error {
	failed, reason, _ := result.Failure()
	_, err := tx.Exec(ctx, sqlUpsertResult,
		result.ScanID, result.Rank, result.Domain, result.URL,
		failed, nullable(reason), nullable(result.Language), result.IsCMPDefined,
		doc, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert result for %s: %w", result.Domain, err)
	}

	for _, technique := range result.Techniques() {
		_, err := tx.Exec(ctx, sqlUpsertNoticeCount,
			result.ScanID, result.Rank, result.Domain, technique, result.CookieNoticeCount[technique])
		if err != nil {
			return fmt.Errorf("failed to insert notice count for %s (%s): %w", result.Domain, technique, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullable maps the empty string to a SQL NULL.
func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
