package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// NewRunID generates a new ULID-based run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// SQLiteStore implements StatusStore and records runs, backed by SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ StatusStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection serializes writers; the daemon's API readers and the
	// pipeline share it.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Fixed-width so that text order matches time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// UpdateStatus implements StatusStore. The read and the write run in one
// transaction.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, key string, status uint8) (uint8, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var prev int64
	found := true
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM last_build_status WHERE key = ?", key).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return 0, false, fmt.Errorf("read status of %s: %w", key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO last_build_status (key, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		key, int64(status), formatTime(s.now()))
	if err != nil {
		return 0, false, fmt.Errorf("write status of %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit status of %s: %w", key, err)
	}

	if !found {
		return 0, false, nil
	}
	if prev < 0 || prev > 255 {
		return 0, false, fmt.Errorf("stored status of %s out of range: %d", key, prev)
	}
	return uint8(prev), true, nil
}

// ListStatuses implements StatusStore, ordered by key.
func (s *SQLiteStore) ListStatuses(ctx context.Context) ([]JobStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, status, updated_at FROM last_build_status ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobStatus
	for rows.Next() {
		var js JobStatus
		var status int64
		var updatedAt string
		if err := rows.Scan(&js.Key, &status, &updatedAt); err != nil {
			return nil, err
		}
		js.Status = uint8(status)
		js.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, js)
	}
	return out, rows.Err()
}

// RecordRun inserts or updates a run record.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, trigger_type, status, started_at, finished_at, jobs,
			fetched, fetch_errors, failing, newly_failing, error_msg
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			jobs = excluded.jobs,
			fetched = excluded.fetched,
			fetch_errors = excluded.fetch_errors,
			failing = excluded.failing,
			newly_failing = excluded.newly_failing,
			error_msg = excluded.error_msg`,
		run.ID,
		run.Trigger,
		run.Status,
		formatTime(run.StartedAt),
		formatTimePtr(run.FinishedAt),
		run.Jobs,
		run.Fetched,
		run.FetchErrors,
		run.Failing,
		run.NewlyFailing,
		nullString(run.ErrorMsg),
	)
	return err
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var startedAt string
	var finishedAt, errorMsg sql.NullString

	err := row.Scan(
		&r.ID,
		&r.Trigger,
		&r.Status,
		&startedAt,
		&finishedAt,
		&r.Jobs,
		&r.Fetched,
		&r.FetchErrors,
		&r.Failing,
		&r.NewlyFailing,
		&errorMsg,
	)
	if err != nil {
		return nil, err
	}

	r.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.FinishedAt, err = parseTimePtr(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	if errorMsg.Valid {
		r.ErrorMsg = errorMsg.String
	}
	return &r, nil
}

const selectRunCols = `id, trigger_type, status, started_at, finished_at, jobs,
	fetched, fetch_errors, failing, newly_failing, error_msg`

// GetRun retrieves a single run by ID. A missing run returns nil, nil.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectRunCols+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := "SELECT " + selectRunCols + " FROM runs ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
