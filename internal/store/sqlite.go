package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xkilldash9x/noticescan/api/schemas"
)

const (
	sqliteCreateSchema = `
	CREATE TABLE IF NOT EXISTS scan_results (
		scan_id        TEXT     NOT NULL,
		rank           INTEGER  NOT NULL,
		domain         TEXT     NOT NULL,
		url            TEXT     NOT NULL,
		failed         BOOLEAN  NOT NULL,
		failed_reason  TEXT,
		language       TEXT,
		is_cmp_defined BOOLEAN  NOT NULL,
		result         TEXT     NOT NULL,
		scanned_at     DATETIME NOT NULL,
		PRIMARY KEY (scan_id, rank, domain)
	);

	CREATE TABLE IF NOT EXISTS notice_counts (
		scan_id   TEXT    NOT NULL,
		rank      INTEGER NOT NULL,
		domain    TEXT    NOT NULL,
		technique TEXT    NOT NULL,
		count     INTEGER NOT NULL,
		PRIMARY KEY (scan_id, rank, domain, technique)
	);

	CREATE INDEX IF NOT EXISTS idx_results_domain ON scan_results(domain);
	`
	sqliteUpsertResult = `
	INSERT INTO scan_results (scan_id, rank, domain, url, failed, failed_reason, language, is_cmp_defined, result, scanned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (scan_id, rank, domain) DO UPDATE SET
		url = excluded.url,
		failed = excluded.failed,
		failed_reason = excluded.failed_reason,
		language = excluded.language,
		is_cmp_defined = excluded.is_cmp_defined,
		result = excluded.result,
		scanned_at = excluded.scanned_at
	`
	sqliteUpsertNoticeCount = `
	INSERT INTO notice_counts (scan_id, rank, domain, technique, count)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (scan_id, rank, domain, technique) DO UPDATE SET
		count = excluded.count
	`
)

// SQLiteStore persists scan results to a local SQLite file with the same
// tables as the PostgreSQL store, for runs without a database server.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and its schema.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteCreateSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Debug("SQLite result store opened.", zap.String("path", path))
	return &SQLiteStore{
		db:  db,
		log: logger.Named("sqlite"),
		now: time.Now,
	}, nil
}

// Save writes result and its notice counts in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, result *schemas.ScanResult) error {
	doc, err := marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := s.save(ctx, tx, result, string(doc)); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) save(ctx context.Context, tx *sql.Tx, result *schemas.ScanResult, doc string) error {
	failed, reason, _ := result.Failure()
	_, err := tx.ExecContext(ctx, sqliteUpsertResult,
		result.ScanID, result.Rank, result.Domain, result.URL,
		failed, nullable(reason), nullable(result.Language), result.IsCMPDefined,
		doc, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert result for %s: %w", result.Domain, err)
	}

	for _, technique := range result.Techniques() {
		_, err := tx.ExecContext(ctx, sqliteUpsertNoticeCount,
			result.ScanID, result.Rank, result.Domain, technique, result.CookieNoticeCount[technique])
		if err != nil {
			return fmt.Errorf("failed to insert notice count for %s (%s): %w", result.Domain, technique, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
