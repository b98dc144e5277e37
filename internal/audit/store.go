// Package audit keeps a SQLite log of processed events. Only outcome
// metadata is stored; message bodies and transcripts never are.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"transcribebot/internal/domain"
)

const defaultRecentLimit = 20

// SQLiteStore implements domain.EventStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, rec domain.EventRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events
		 (id, sender, mode, outcome, media_type, media_bytes, duration_ms, error_kind, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Sender, rec.Mode, string(rec.Outcome), rec.MediaType,
		rec.MediaBytes, rec.DurationMs, rec.ErrorKind, rec.Error, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", rec.ID, err)
	}
	return nil
}

// RecentEvents returns the latest events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, mode, outcome, media_type, media_bytes, duration_ms, error_kind, error, created_at
		 FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.EventRecord
	for rows.Next() {
		var (
			r       domain.EventRecord
			outcome string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Sender, &r.Mode, &outcome, &r.MediaType,
			&r.MediaBytes, &r.DurationMs, &r.ErrorKind, &r.Error, &created); err != nil {
			return nil, err
		}
		r.Outcome = domain.OutcomeKind(outcome)
		r.CreatedAt = time.UnixMilli(created)
		events = append(events, r)
	}
	return events, rows.Err()
}

// OutcomeCounts tallies events per outcome since the given time.
func (s *SQLiteStore) OutcomeCounts(ctx context.Context, since time.Time) (map[domain.OutcomeKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM events WHERE created_at >= ? GROUP BY outcome`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.OutcomeKind]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[domain.OutcomeKind(outcome)] = n
	}
	return counts, rows.Err()
}

// Prune deletes events older than the cutoff and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned audit events", "count", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
